package symcore

import "strings"

// ============================================================
// DomainFlags
// ============================================================

// Flags is a set of algebraic predicates proven for a node.
type Flags uint16

const (
	FlagComplex Flags = 1 << iota
	FlagReal
	FlagRational
	FlagInteger
	FlagComplexInteger
	FlagNonzero
	FlagPositive
	FlagNegative
	FlagNonnegative
	FlagNonpositive
	FlagEven
	FlagOdd
	FlagPrime
)

// FlagZero is the combination that pins a value to zero.
const FlagZero = FlagNonnegative | FlagNonpositive

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagComplex, "complex"},
	{FlagReal, "real"},
	{FlagRational, "rational"},
	{FlagInteger, "integer"},
	{FlagComplexInteger, "complex-integer"},
	{FlagNonzero, "nonzero"},
	{FlagPositive, "positive"},
	{FlagNegative, "negative"},
	{FlagNonnegative, "nonnegative"},
	{FlagNonpositive, "nonpositive"},
	{FlagEven, "even"},
	{FlagOdd, "odd"},
	{FlagPrime, "prime"},
}

func (f Flags) Has(g Flags) bool { return f&g == g }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Close returns f closed under implication.
func Close(f Flags) Flags {
	for {
		g := f
		if g.Has(FlagPrime) {
			g |= FlagPositive | FlagInteger
		}
		if g.Has(FlagEven) || g.Has(FlagOdd) {
			g |= FlagInteger
		}
		if g.Has(FlagOdd) {
			g |= FlagNonzero
		}
		if g.Has(FlagPositive) {
			g |= FlagNonzero | FlagNonnegative | FlagReal
		}
		if g.Has(FlagNegative) {
			g |= FlagNonzero | FlagNonpositive | FlagReal
		}
		if g.Has(FlagNonnegative) || g.Has(FlagNonpositive) {
			g |= FlagReal
		}
		if g.Has(FlagNonnegative | FlagNonzero) {
			g |= FlagPositive
		}
		if g.Has(FlagNonpositive | FlagNonzero) {
			g |= FlagNegative
		}
		if g.Has(FlagZero) {
			g |= FlagInteger | FlagEven
		}
		if g.Has(FlagInteger) {
			g |= FlagRational | FlagComplexInteger
		}
		if g.Has(FlagRational) {
			g |= FlagReal
		}
		if g.Has(FlagReal) || g.Has(FlagComplexInteger) {
			g |= FlagComplex
		}
		if g == f {
			return f
		}
		f = g
	}
}

// ============================================================
// Inference
// ============================================================

// FlagsOf returns the flags proven for e under the current configuration.
func (k *Kernel) FlagsOf(e Expr) Flags {
	var f Flags
	_ = k.guard(func() { f = k.flagsOf(e) })
	return f
}

func (k *Kernel) flagsOf(e Expr) Flags {
	n := k.node(e)
	if n.num != nil {
		return n.base
	}
	if n.flagEpoch == k.epoch && n.flagEpoch != 0 {
		return n.flags
	}
	f := Close(n.base | k.inferFlags(n))
	n.flags, n.flagEpoch = f, k.epoch
	return f
}

func (k *Kernel) inferFlags(n *node) Flags {
	switch n.kind {
	case KindSymbol:
		return k.symbolFlags(n.name)
	case KindAdd:
		return k.sumFlags(n.ops)
	case KindMul:
		return k.productFlags(n.ops)
	case KindPow:
		return k.powFlags(n.ops[0], n.ops[1])
	case KindFunc:
		if id, ok := LookupFunc(n.name); ok && len(n.ops) == 1 {
			return k.funcFlags(id, n.ops[0])
		}
	case KindExt:
		return k.extFlags(n)
	}
	return 0
}

func (k *Kernel) symbolFlags(name string) Flags {
	switch name {
	case constPi, constE:
		return FlagPositive
	case constInfinity:
		return FlagNonzero
	case constUndefined:
		return 0
	}
	switch k.cfg.domain {
	case DomainReal:
		return FlagReal
	case DomainInteger:
		return FlagInteger
	}
	return FlagComplex
}

func (k *Kernel) sumFlags(ops []Expr) Flags {
	all := ^Flags(0)
	var some Flags
	odd, parityKnown := 0, true
	for _, op := range ops {
		f := k.flagsOf(op)
		all &= f
		some |= f
		switch {
		case f.Has(FlagOdd):
			odd++
		case f.Has(FlagEven):
		default:
			parityKnown = false
		}
	}
	out := all & (FlagComplex | FlagReal | FlagRational | FlagInteger | FlagComplexInteger | FlagNonnegative | FlagNonpositive)
	if all.Has(FlagNonnegative) && some&FlagPositive != 0 {
		out |= FlagPositive
	}
	if all.Has(FlagNonpositive) && some&FlagNegative != 0 {
		out |= FlagNegative
	}
	if parityKnown && len(ops) > 0 {
		if odd%2 == 0 {
			out |= FlagEven
		} else {
			out |= FlagOdd
		}
	}
	return out
}

func (k *Kernel) productFlags(ops []Expr) Flags {
	all := ^Flags(0)
	negatives, weak := 0, false
	zero, signKnown := false, true
	anyEven := false
	for _, op := range ops {
		f := k.flagsOf(op)
		all &= f
		switch {
		case f.Has(FlagZero):
			zero = true
		case f.Has(FlagPositive):
		case f.Has(FlagNegative):
			negatives++
		case f.Has(FlagNonnegative):
			weak = true
		case f.Has(FlagNonpositive):
			weak = true
			negatives++
		default:
			signKnown = false
		}
		if f.Has(FlagEven) {
			anyEven = true
		}
	}
	out := all & (FlagComplex | FlagReal | FlagRational | FlagInteger | FlagComplexInteger | FlagNonzero)
	switch {
	case zero:
		out |= FlagZero
	case signKnown && all.Has(FlagReal):
		neg := negatives%2 == 1
		switch {
		case weak && neg:
			out |= FlagNonpositive
		case weak:
			out |= FlagNonnegative
		case neg:
			out |= FlagNegative
		default:
			out |= FlagPositive
		}
	}
	if all.Has(FlagInteger) {
		if anyEven {
			out |= FlagEven
		} else if all.Has(FlagOdd) {
			out |= FlagOdd
		}
	}
	return out
}

func (k *Kernel) powFlags(b, x Expr) Flags {
	bf := k.flagsOf(b)
	xn := k.node(x)
	var out Flags
	if xn.num != nil && xn.num.isInteger() {
		n := xn.num.rat.Num()
		neg := n.Sign() < 0
		even := n.Bit(0) == 0
		if bf.Has(FlagNonzero) {
			out |= FlagNonzero
		}
		if bf.Has(FlagReal) && (!neg || bf.Has(FlagNonzero)) {
			out |= FlagReal
			if even {
				out |= FlagNonnegative
			}
		}
		if bf.Has(FlagRational) && (!neg || bf.Has(FlagNonzero)) {
			out |= FlagRational
		}
		if bf.Has(FlagInteger) && !neg {
			out |= FlagInteger
			if bf.Has(FlagOdd) {
				out |= FlagOdd
			}
			if bf.Has(FlagEven) && n.Sign() > 0 {
				out |= FlagEven
			}
		}
		if bf.Has(FlagPositive) {
			out |= FlagPositive
		}
		if bf.Has(FlagNegative) && !even {
			out |= FlagNegative
		}
		return out
	}
	xf := k.flagsOf(x)
	if bf.Has(FlagPositive) && xf.Has(FlagReal) {
		out |= FlagPositive
	}
	return out
}

func (k *Kernel) funcFlags(id FuncID, arg Expr) Flags {
	af := k.flagsOf(arg)
	isReal := af.Has(FlagReal)
	switch id {
	case FuncExp:
		if isReal {
			return FlagPositive
		}
		return FlagNonzero
	case FuncLn:
		if af.Has(FlagPositive) {
			return FlagReal
		}
	case FuncSin, FuncCos, FuncTan, FuncAtan, FuncTanh, FuncAsinh:
		if isReal {
			return FlagReal
		}
	case FuncSinh:
		if isReal {
			return FlagReal | af&(FlagPositive|FlagNegative|FlagNonnegative|FlagNonpositive)
		}
	case FuncCosh:
		if isReal {
			return FlagPositive
		}
	case FuncAbs:
		out := FlagNonnegative
		if af.Has(FlagNonzero) {
			out |= FlagPositive
		}
		if af.Has(FlagInteger) {
			out |= FlagInteger
		}
		return out
	case FuncSign:
		if af.Has(FlagPositive) {
			return FlagPositive | FlagOdd
		}
		if af.Has(FlagNegative) {
			return FlagNegative | FlagOdd
		}
		if isReal {
			return FlagInteger
		}
	case FuncFloor, FuncCeil:
		if isReal {
			return FlagInteger
		}
	case FuncConj:
		return af
	}
	return 0
}

func (k *Kernel) extFlags(n *node) Flags {
	ext, err := k.reg.Get(n.ext)
	if err != nil {
		return 0
	}
	var out Flags
	if ext.Caps.Sign != nil {
		switch ext.Caps.Sign(k, n.self) {
		case SignPositive:
			out |= FlagPositive
		case SignNegative:
			out |= FlagNegative
		case SignZero:
			out |= FlagZero
		}
	}
	if ext.Caps.Zero != nil {
		switch ext.Caps.Zero(k, n.self) {
		case True:
			out |= FlagZero
		case False:
			out |= FlagNonzero
		}
	}
	return out
}
