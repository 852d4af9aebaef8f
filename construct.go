package symcore

import (
	"math/big"

	"github.com/cockroachdb/apd/v3"
)

// Reserved symbol names.
const (
	constPi        = "Pi"
	constE         = "E"
	constInfinity  = "Infinity"
	constUndefined = "Undefined"
)

// ============================================================
// Internal constructors
// ============================================================

func (k *Kernel) numberLeaf(n *number) Expr {
	return k.intern(&node{kind: n.kind(), num: n, base: n.flags()})
}

func (k *Kernel) ratLeaf(r *big.Rat) Expr { return k.numberLeaf(exactNumber(r)) }

func (k *Kernel) intLeaf(n int64) Expr {
	switch n {
	case 0:
		return k.zero
	case 1:
		return k.one
	}
	return k.numberLeaf(intNumber(n))
}

func (k *Kernel) symbol(name string) Expr {
	if name == "" {
		k.throw(newError(InvalidToken, "empty symbol name"))
	}
	return k.intern(&node{kind: KindSymbol, name: name})
}

func (k *Kernel) str(s string) Expr {
	return k.intern(&node{kind: KindString, name: s})
}

// rawAdd interns a sum with its operands in canonical order. Degenerate sums
// collapse to 0 or to their single operand.
func (k *Kernel) rawAdd(ops []Expr) Expr {
	switch len(ops) {
	case 0:
		return k.zero
	case 1:
		return ops[0]
	}
	ops = append([]Expr(nil), ops...)
	k.sortExprs(ops)
	return k.intern(&node{kind: KindAdd, ops: ops})
}

func (k *Kernel) rawMul(ops []Expr) Expr {
	switch len(ops) {
	case 0:
		return k.one
	case 1:
		return ops[0]
	}
	ops = append([]Expr(nil), ops...)
	k.sortExprs(ops)
	return k.intern(&node{kind: KindMul, ops: ops})
}

func (k *Kernel) rawPow(b, x Expr) Expr {
	return k.intern(&node{kind: KindPow, ops: []Expr{b, x}})
}

func (k *Kernel) rawFunc(name string, args []Expr) Expr {
	if name == "" {
		k.throw(newError(InvalidToken, "empty function name"))
	}
	if id, ok := LookupFunc(name); ok {
		name = id.String()
	}
	return k.intern(&node{kind: KindFunc, name: name, ops: append([]Expr(nil), args...)})
}

func (k *Kernel) funcOf(id FuncID, arg Expr) Expr {
	return k.intern(&node{kind: KindFunc, name: id.String(), ops: []Expr{arg}})
}

func (k *Kernel) list(ops []Expr) Expr {
	return k.intern(&node{kind: KindList, ops: append([]Expr(nil), ops...)})
}

func (k *Kernel) matrix(rows, cols int, entries []Expr) Expr {
	if rows <= 0 || cols <= 0 || rows*cols != len(entries) {
		k.throw(newError(InvalidMatrixSize, "%dx%d matrix with %d entries", rows, cols, len(entries)))
	}
	return k.intern(&node{kind: KindMatrix, rows: rows, cols: cols, ops: append([]Expr(nil), entries...)})
}

func (k *Kernel) hold(e Expr) Expr {
	if k.node(e).kind == KindHold {
		return e
	}
	return k.intern(&node{kind: KindHold, ops: []Expr{e}})
}

func (k *Kernel) floatLeaf(d *apd.Decimal) Expr {
	n, err := k.num.float(d)
	if err != nil {
		k.throw(wrapError(CannotConvert, err, "float %s", d.String()))
	}
	return k.numberLeaf(n)
}

// build runs fn under a guard. Failures reach the installed handler and
// yield the zero Expr.
func (k *Kernel) build(fn func() Expr) Expr {
	var e Expr
	_ = k.guard(func() { e = fn() })
	return e
}

func (k *Kernel) buildErr(fn func() Expr) (Expr, error) {
	var e Expr
	err := k.guard(func() { e = fn() })
	return e, err
}

// ============================================================
// Leaves
// ============================================================

func (k *Kernel) Int(n int64) Expr { return k.build(func() Expr { return k.intLeaf(n) }) }

func (k *Kernel) BigInt(z *big.Int) Expr {
	return k.build(func() Expr { return k.ratLeaf(new(big.Rat).SetInt(z)) })
}

// Frac returns the rational p/q. A zero denominator yields Undefined.
func (k *Kernel) Frac(p, q int64) Expr {
	return k.build(func() Expr {
		if q == 0 {
			return k.undef
		}
		return k.ratLeaf(big.NewRat(p, q))
	})
}

func (k *Kernel) BigRat(r *big.Rat) Expr {
	return k.build(func() Expr { return k.ratLeaf(new(big.Rat).Set(r)) })
}

// Float returns a float leaf rounded to the working precision.
func (k *Kernel) Float(f float64) Expr {
	return k.build(func() Expr {
		d := new(apd.Decimal)
		if _, err := d.SetFloat64(f); err != nil {
			k.throw(wrapError(CannotConvert, err, "float %v", f))
		}
		return k.floatLeaf(d)
	})
}

func (k *Kernel) FloatDecimal(d *apd.Decimal) Expr {
	return k.build(func() Expr { return k.floatLeaf(d) })
}

// FloatString parses a decimal literal into a float leaf.
func (k *Kernel) FloatString(s string) (Expr, error) {
	return k.buildErr(func() Expr {
		d, _, err := apd.NewFromString(s)
		if err != nil {
			k.throw(wrapError(InvalidToken, err, "float literal %q", s))
		}
		return k.floatLeaf(d)
	})
}

func (k *Kernel) Symbol(name string) Expr { return k.build(func() Expr { return k.symbol(name) }) }

// Str returns a string leaf.
func (k *Kernel) Str(s string) Expr { return k.build(func() Expr { return k.str(s) }) }

// Blob wraps an opaque value. Blobs are never shared: every call returns a
// new node.
func (k *Kernel) Blob(v any) Expr {
	return k.build(func() Expr {
		n := &node{kind: KindBlob, blob: v}
		n.hash = k.hashNode(n)
		return k.allocRaw(n)
	})
}

func (k *Kernel) Pi() Expr        { return k.Symbol(constPi) }
func (k *Kernel) E() Expr         { return k.Symbol(constE) }
func (k *Kernel) Infinity() Expr  { return k.inf }
func (k *Kernel) Undefined() Expr { return k.undef }

// ============================================================
// Raw compounds
// ============================================================

func (k *Kernel) RawAdd(ops ...Expr) Expr { return k.build(func() Expr { return k.rawAdd(ops) }) }

func (k *Kernel) RawMul(ops ...Expr) Expr { return k.build(func() Expr { return k.rawMul(ops) }) }

func (k *Kernel) RawPow(b, x Expr) Expr { return k.build(func() Expr { return k.rawPow(b, x) }) }

// RawFunc applies the named function without evaluating. Builtin names are
// case-insensitive.
func (k *Kernel) RawFunc(name string, args ...Expr) Expr {
	return k.build(func() Expr { return k.rawFunc(name, args) })
}

func (k *Kernel) List(ops ...Expr) Expr { return k.build(func() Expr { return k.list(ops) }) }

// Matrix builds a rows x cols matrix from entries in row-major order.
func (k *Kernel) Matrix(rows, cols int, entries ...Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.matrix(rows, cols, entries) })
}

// Hold wraps e so that evaluation leaves it untouched.
func (k *Kernel) Hold(e Expr) Expr { return k.build(func() Expr { return k.hold(e) }) }

// ============================================================
// Evaluated compounds
// ============================================================

func (k *Kernel) Add(ops ...Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.eval(k.rawAdd(ops)) })
}

func (k *Kernel) Mul(ops ...Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.eval(k.rawMul(ops)) })
}

func (k *Kernel) Sub(a, b Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		return k.eval(k.rawAdd([]Expr{a, k.rawMul([]Expr{k.negOne, b})}))
	})
}

func (k *Kernel) Div(a, b Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		return k.eval(k.rawMul([]Expr{a, k.rawPow(b, k.negOne)}))
	})
}

func (k *Kernel) Neg(a Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.eval(k.rawMul([]Expr{k.negOne, a})) })
}

func (k *Kernel) Pow(b, x Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.eval(k.rawPow(b, x)) })
}

func (k *Kernel) Sqrt(a Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.eval(k.rawPow(a, k.ratLeaf(big.NewRat(1, 2)))) })
}

// Apply applies the named function and evaluates.
func (k *Kernel) Apply(name string, args ...Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.eval(k.rawFunc(name, args)) })
}

func (k *Kernel) apply(id FuncID, a Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.eval(k.funcOf(id, a)) })
}

func (k *Kernel) Exp(a Expr) (Expr, error)   { return k.apply(FuncExp, a) }
func (k *Kernel) Ln(a Expr) (Expr, error)    { return k.apply(FuncLn, a) }
func (k *Kernel) Sin(a Expr) (Expr, error)   { return k.apply(FuncSin, a) }
func (k *Kernel) Cos(a Expr) (Expr, error)   { return k.apply(FuncCos, a) }
func (k *Kernel) Tan(a Expr) (Expr, error)   { return k.apply(FuncTan, a) }
func (k *Kernel) Asin(a Expr) (Expr, error)  { return k.apply(FuncAsin, a) }
func (k *Kernel) Acos(a Expr) (Expr, error)  { return k.apply(FuncAcos, a) }
func (k *Kernel) Atan(a Expr) (Expr, error)  { return k.apply(FuncAtan, a) }
func (k *Kernel) Sinh(a Expr) (Expr, error)  { return k.apply(FuncSinh, a) }
func (k *Kernel) Cosh(a Expr) (Expr, error)  { return k.apply(FuncCosh, a) }
func (k *Kernel) Tanh(a Expr) (Expr, error)  { return k.apply(FuncTanh, a) }
func (k *Kernel) Asinh(a Expr) (Expr, error) { return k.apply(FuncAsinh, a) }
func (k *Kernel) Acosh(a Expr) (Expr, error) { return k.apply(FuncAcosh, a) }
func (k *Kernel) Atanh(a Expr) (Expr, error) { return k.apply(FuncAtanh, a) }
func (k *Kernel) Abs(a Expr) (Expr, error)   { return k.apply(FuncAbs, a) }
func (k *Kernel) Sign(a Expr) (Expr, error)  { return k.apply(FuncSign, a) }
func (k *Kernel) Floor(a Expr) (Expr, error) { return k.apply(FuncFloor, a) }
func (k *Kernel) Ceil(a Expr) (Expr, error)  { return k.apply(FuncCeil, a) }
func (k *Kernel) Conj(a Expr) (Expr, error)  { return k.apply(FuncConj, a) }
