package symcore

import "strings"

// ============================================================
// Builtin functions
// ============================================================

// FuncID names a builtin function.
type FuncID uint8

const (
	FuncExp FuncID = iota + 1
	FuncLn
	FuncSin
	FuncCos
	FuncTan
	FuncAsin
	FuncAcos
	FuncAtan
	FuncSinh
	FuncCosh
	FuncTanh
	FuncAsinh
	FuncAcosh
	FuncAtanh
	FuncAbs
	FuncSign
	FuncFloor
	FuncCeil
	FuncConj
)

var funcNames = [...]string{
	FuncExp:   "exp",
	FuncLn:    "ln",
	FuncSin:   "sin",
	FuncCos:   "cos",
	FuncTan:   "tan",
	FuncAsin:  "asin",
	FuncAcos:  "acos",
	FuncAtan:  "atan",
	FuncSinh:  "sinh",
	FuncCosh:  "cosh",
	FuncTanh:  "tanh",
	FuncAsinh: "asinh",
	FuncAcosh: "acosh",
	FuncAtanh: "atanh",
	FuncAbs:   "abs",
	FuncSign:  "sign",
	FuncFloor: "floor",
	FuncCeil:  "ceil",
	FuncConj:  "conj",
}

var funcByName = func() map[string]FuncID {
	m := make(map[string]FuncID, len(funcNames))
	for id, name := range funcNames {
		if name != "" {
			m[name] = FuncID(id)
		}
	}
	return m
}()

func (f FuncID) String() string {
	if int(f) < len(funcNames) && funcNames[f] != "" {
		return funcNames[f]
	}
	return "func?"
}

// LookupFunc resolves a builtin function by name.
func LookupFunc(name string) (FuncID, bool) {
	id, ok := funcByName[strings.ToLower(name)]
	return id, ok
}

// Funcs lists every builtin function id.
func Funcs() []FuncID {
	out := make([]FuncID, 0, len(funcNames))
	for id := FuncExp; id <= FuncConj; id++ {
		out = append(out, id)
	}
	return out
}

// FuncSet is a set of builtin function ids.
type FuncSet uint32

func NewFuncSet(ids ...FuncID) FuncSet {
	var s FuncSet
	for _, id := range ids {
		s |= 1 << id
	}
	return s
}

func (s FuncSet) Has(id FuncID) bool { return s&(1<<id) != 0 }

// ============================================================
// Identities
// ============================================================

// leftInverse maps f to g where f(g(x)) = x for every x.
var leftInverse = map[FuncID]FuncID{
	FuncExp:  FuncLn,
	FuncSin:  FuncAsin,
	FuncCos:  FuncAcos,
	FuncTan:  FuncAtan,
	FuncSinh: FuncAsinh,
	FuncCosh: FuncAcosh,
	FuncTanh: FuncAtanh,
}

// realInverse maps f to g where f(g(x)) = x for real x.
var realInverse = map[FuncID]FuncID{
	FuncLn:    FuncExp,
	FuncAsinh: FuncSinh,
}

func isOddFunc(id FuncID) bool {
	switch id {
	case FuncSin, FuncTan, FuncAsin, FuncAtan, FuncSinh, FuncTanh, FuncAsinh, FuncAtanh, FuncSign:
		return true
	}
	return false
}

func isEvenFunc(id FuncID) bool {
	return id == FuncCos || id == FuncCosh || id == FuncAbs
}

// zeroAt reports the exact value f(0) when it is an integer.
func zeroAt(id FuncID) (int64, bool) {
	switch id {
	case FuncExp, FuncCos, FuncCosh:
		return 1, true
	case FuncSin, FuncTan, FuncAsin, FuncAtan, FuncSinh, FuncTanh, FuncAsinh, FuncAtanh, FuncAbs, FuncSign, FuncFloor, FuncCeil, FuncConj:
		return 0, true
	}
	return 0, false
}

// oneAt reports the exact value f(1) when it is an integer.
func oneAt(id FuncID) (int64, bool) {
	switch id {
	case FuncLn, FuncAcos, FuncAcosh:
		return 0, true
	case FuncAbs, FuncSign, FuncFloor, FuncCeil, FuncConj:
		return 1, true
	}
	return 0, false
}
