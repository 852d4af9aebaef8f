package symcore

import (
	"math/big"
	"time"

	"github.com/google/btree"
)

var (
	numZero = intNumber(0)
	numOne  = intNumber(1)
)

// ============================================================
// Entry points
// ============================================================

// Eval returns the normal form of e under the current configuration. The
// normal form is cached on e, so evaluating a normal form is a no-op.
func (k *Kernel) Eval(e Expr) (Expr, error) {
	start := time.Now()
	out, err := k.buildErr(func() Expr { return k.eval(e) })
	k.metrics.observeEval(time.Since(start), err)
	return out, err
}

// Reeval evaluates e again without consulting cached normal forms.
func (k *Kernel) Reeval(e Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		prev := k.forced
		k.forced = make(map[Expr]Expr)
		defer func() { k.forced = prev }()
		return k.eval(e)
	})
}

// Evalf evaluates e and replaces every numeric leaf and numeric constant by
// a float at the working precision.
func (k *Kernel) Evalf(e Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.eval(k.evalf(k.eval(e))) })
}

// Evalr is Evalf followed by converting every float leaf back to the exact
// rational it denotes.
func (k *Kernel) Evalr(e Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		f := k.evalf(k.eval(e))
		return k.eval(k.mapLeaves(f, make(map[Expr]Expr), func(n *node) (Expr, bool) {
			if n.num == nil || !n.num.isFloat() {
				return Expr{}, false
			}
			r, err := ratOfDecimal(n.num.dec)
			if err != nil {
				k.throw(wrapError(CannotConvert, err, "float leaf"))
			}
			return k.ratLeaf(r), true
		}))
	})
}

// Approx evaluates e to a float with the given precision and rounding and
// renders it in base. The kernel configuration is restored afterwards.
func (k *Kernel) Approx(e Expr, base int, prec uint32, r Rounding) (string, error) {
	saved := k.cfg
	defer func() {
		k.cfg = saved
		k.touch()
	}()
	if base >= 2 && base <= 36 {
		k.cfg.base = base
	}
	if prec > 0 {
		k.cfg.prec = prec
	}
	k.cfg.rounding = r
	k.touch()
	out, err := k.Evalf(e)
	if err != nil {
		return "", err
	}
	return k.Stringify(out)
}

// Unhold removes a top-level hold and evaluates what it wrapped.
func (k *Kernel) Unhold(e Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		if n := k.node(e); n.kind == KindHold {
			return k.eval(n.ops[0])
		}
		return k.eval(e)
	})
}

func (k *Kernel) markCanonical(e Expr) {
	if n, ok := k.lookup(e); ok {
		n.norm, n.normEpoch = e, k.epoch
	}
}

// ============================================================
// Dispatch
// ============================================================

func (k *Kernel) eval(e Expr) Expr {
	n := k.node(e)
	if k.forced != nil {
		if out, ok := k.forced[e]; ok {
			return out
		}
	} else if n.normEpoch == k.epoch {
		if _, live := k.lookup(n.norm); live {
			return n.norm
		}
	}
	out := k.evalNode(n)
	if k.forced != nil {
		k.forced[e] = out
		k.forced[out] = out
	}
	n.norm, n.normEpoch = out, k.epoch
	k.markCanonical(out)
	return out
}

func (k *Kernel) evalOps(ops []Expr) []Expr {
	out := make([]Expr, len(ops))
	for i, op := range ops {
		out[i] = k.eval(op)
	}
	return out
}

func (k *Kernel) evalNode(n *node) Expr {
	switch n.kind {
	case KindInteger, KindRational, KindFloat:
		return k.evalNumber(n)
	case KindAdd:
		return k.evalSum(k.evalOps(n.ops), true)
	case KindMul:
		return k.evalProduct(k.evalOps(n.ops), true, false)
	case KindPow:
		b := k.eval(n.ops[0])
		x := k.unreduced(func() Expr { return k.eval(n.ops[1]) })
		return k.evalPow(b, x)
	case KindFunc:
		return k.evalFunc(n.name, k.evalOps(n.ops))
	case KindList:
		return k.list(k.evalOps(n.ops))
	case KindMatrix:
		return k.matrix(n.rows, n.cols, k.evalOps(n.ops))
	case KindExt:
		return k.evalExt(n)
	}
	return n.self
}

func (k *Kernel) numResult(n *number, err error) *number {
	if err != nil {
		k.throw(wrapError(CannotConvert, err, "numeric evaluation"))
	}
	return n
}

// exponentEpochBit tags cache entries computed by unreduced.
const exponentEpochBit = 1 << 63

// unreduced runs fn with the modulus lifted. Exponents are integers, not
// residues: under modulus 7, x^10 stays x^10 and 2^(-1) is the inverse of 2.
// Cached results live under their own epoch so they never leak into modular
// evaluation.
func (k *Kernel) unreduced(fn func() Expr) Expr {
	if k.cfg.mod == nil {
		return fn()
	}
	mod, num, epoch, forced := k.cfg.mod, k.num, k.epoch, k.forced
	k.cfg.mod, k.num.mod, k.epoch = nil, nil, epoch|exponentEpochBit
	if forced != nil {
		k.forced = make(map[Expr]Expr)
	}
	defer func() {
		k.cfg.mod, k.num, k.epoch, k.forced = mod, num, epoch, forced
	}()
	return fn()
}

func (k *Kernel) evalNumber(n *node) Expr {
	if n.num.isFloat() {
		if k.cfg.mod != nil {
			k.throw(wrapError(CannotConvert, errFloatUnderModulus, "float %s", n.num.dec.String()))
		}
		if n.num.prec == k.cfg.prec {
			return n.self
		}
		return k.numberLeaf(k.numResult(k.num.toFloat(n.num)))
	}
	if k.cfg.mod == nil {
		return n.self
	}
	return k.numberLeaf(k.numResult(k.num.exact(n.num.rat)))
}

// ============================================================
// Sums
// ============================================================

type sumTerm struct {
	rest  Expr
	coeff *number
	count int
}

// splitCoeff splits an evaluated term into its numeric coefficient and the
// remaining factor.
func (k *Kernel) splitCoeff(t Expr) (*number, Expr) {
	n := k.node(t)
	if n.kind != KindMul {
		return numOne, t
	}
	for i, op := range n.ops {
		if on := k.node(op); on.num != nil {
			rest := make([]Expr, 0, len(n.ops)-1)
			rest = append(rest, n.ops[:i]...)
			rest = append(rest, n.ops[i+1:]...)
			return on.num, k.rawMul(rest)
		}
	}
	return numOne, t
}

// scale builds c*rest for an evaluated rest without a numeric factor.
func (k *Kernel) scale(c *number, rest Expr) Expr {
	if !c.isFloat() && c.isOne() {
		return rest
	}
	leaf := k.numberLeaf(c)
	if n := k.node(rest); n.kind == KindMul {
		return k.rawMul(append([]Expr{leaf}, n.ops...))
	}
	return k.rawMul([]Expr{leaf, rest})
}

func (k *Kernel) flatten(kind Kind, ops []Expr) []Expr {
	flat := make([]Expr, 0, len(ops))
	for _, op := range ops {
		if n := k.node(op); n.kind == kind {
			flat = append(flat, n.ops...)
		} else {
			flat = append(flat, op)
		}
	}
	return flat
}

// evalSum folds evaluated terms into a normal sum.
func (k *Kernel) evalSum(terms []Expr, foldExt bool) Expr {
	flat := k.flatten(KindAdd, terms)
	if foldExt {
		if out, ok := k.foldInstances(flat, false); ok {
			return k.evalSum(out, false)
		}
	}

	constant := numZero
	groups := btree.NewG[*sumTerm](16, func(a, b *sumTerm) bool { return k.less(a.rest, b.rest) })
	for _, t := range flat {
		if t == k.undef {
			return k.undef
		}
		if n := k.node(t); n.num != nil {
			constant = k.numResult(k.num.add(constant, n.num))
			continue
		}
		c, rest := k.splitCoeff(t)
		probe := &sumTerm{rest: rest}
		if g, ok := groups.Get(probe); ok {
			g.coeff = k.numResult(k.num.add(g.coeff, c))
			g.count++
			continue
		}
		probe.coeff, probe.count = c, 1
		groups.ReplaceOrInsert(probe)
	}

	out := make([]Expr, 0, groups.Len()+1)
	infinite, indeterminate := false, false
	groups.Ascend(func(g *sumTerm) bool {
		if g.coeff.isZero() {
			// Infinity - Infinity
			if g.rest == k.inf && g.count > 1 {
				indeterminate = true
				return false
			}
			return true
		}
		t := k.scale(g.coeff, g.rest)
		if k.zeroTri(t) == True {
			return true
		}
		if g.rest == k.inf {
			infinite = true
		}
		out = append(out, t)
		return true
	})
	if indeterminate {
		return k.undef
	}
	if len(out) == 0 || (!constant.isZero() && !infinite) {
		out = append(out, k.numberLeaf(constant))
	}
	return k.rawAdd(out)
}

// foldInstances combines pairs of instances of the same extension with its
// Add (or Mul) capability. ok reports whether anything combined.
func (k *Kernel) foldInstances(ops []Expr, mul bool) ([]Expr, bool) {
	out := make([]Expr, 0, len(ops))
	changed := false
	for _, e := range ops {
		n := k.node(e)
		merged := false
		if n.kind == KindExt {
			if ext := k.extension(n.ext); ext != nil {
				fn := ext.Caps.Add
				if mul {
					fn = ext.Caps.Mul
				}
				for i := 0; fn != nil && i < len(out); i++ {
					if on := k.node(out[i]); on.kind != KindExt || on.ext != n.ext {
						continue
					}
					if r, ok := fn(k, out[i], e); ok {
						out[i] = k.eval(r)
						merged, changed = true, true
						break
					}
				}
			}
		}
		if !merged {
			out = append(out, e)
		}
	}
	return out, changed
}

// ============================================================
// Products
// ============================================================

type powerGroup struct {
	base Expr
	exps []Expr
}

func (k *Kernel) isIndeterminate(e Expr) bool {
	if e == k.inf || e == k.undef {
		return true
	}
	n := k.node(e)
	return n.kind == KindPow && n.ops[0] == k.inf
}

// evalProduct folds evaluated factors into a normal product. settled is set
// on the second pass after powers expanded into products.
func (k *Kernel) evalProduct(factors []Expr, foldExt, settled bool) Expr {
	flat := k.flatten(KindMul, factors)
	if foldExt {
		if out, ok := k.foldInstances(flat, true); ok {
			return k.evalProduct(out, false, settled)
		}
	}

	coeff := numOne
	zero, indeterminate := false, false
	groups := btree.NewG[*powerGroup](16, func(a, b *powerGroup) bool { return k.less(a.base, b.base) })
	for _, f := range flat {
		if f == k.undef {
			return k.undef
		}
		n := k.node(f)
		if n.num != nil {
			coeff = k.numResult(k.num.mul(coeff, n.num))
			continue
		}
		if k.isIndeterminate(f) {
			indeterminate = true
		} else if k.zeroTri(f) == True {
			zero = true
		}
		b, x := f, k.one
		if n.kind == KindPow {
			b, x = n.ops[0], n.ops[1]
		}
		probe := &powerGroup{base: b}
		if g, ok := groups.Get(probe); ok {
			g.exps = append(g.exps, x)
			continue
		}
		probe.exps = []Expr{x}
		groups.ReplaceOrInsert(probe)
	}
	if zero || coeff.isZero() {
		if indeterminate {
			return k.undef
		}
		if coeff.isFloat() && coeff.isZero() {
			return k.numberLeaf(coeff)
		}
		return k.zero
	}

	out := make([]Expr, 0, groups.Len()+1)
	expanded := false
	groups.Ascend(func(g *powerGroup) bool {
		x := g.exps[0]
		if len(g.exps) > 1 {
			x = k.unreduced(func() Expr { return k.evalSum(g.exps, true) })
		}
		p := k.evalPow(g.base, x)
		pn := k.node(p)
		switch {
		case pn.num != nil:
			coeff = k.numResult(k.num.mul(coeff, pn.num))
		case pn.kind == KindMul:
			expanded = true
			out = append(out, pn.ops...)
		default:
			out = append(out, p)
		}
		return true
	})
	if expanded && !settled {
		return k.evalProduct(append(out, k.numberLeaf(coeff)), false, true)
	}
	if coeff.isZero() {
		return k.zero
	}
	if len(out) == 0 {
		return k.numberLeaf(coeff)
	}
	if coeff.isFloat() || !coeff.isOne() {
		out = append(out, k.numberLeaf(coeff))
	}
	return k.rawMul(out)
}

// ============================================================
// Powers
// ============================================================

func (k *Kernel) evalPow(b, x Expr) Expr {
	bn, xn := k.node(b), k.node(x)
	switch {
	case b == k.undef || x == k.undef:
		return k.undef
	case xn.num != nil && !xn.num.isFloat() && xn.num.isZero():
		return k.one
	case xn.num != nil && !xn.num.isFloat() && xn.num.isOne():
		return b
	case bn.num != nil && !bn.num.isFloat() && bn.num.isOne():
		return k.one
	}

	if bn.num != nil && bn.num.isZero() {
		switch k.signOf(x) {
		case SignPositive:
			return b
		case SignNegative:
			return k.undef
		}
		return k.rawPow(b, x)
	}
	if bn.num != nil && xn.num != nil {
		if r, ok := k.powNumbers(bn.num, xn.num); ok {
			return r
		}
		return k.rawPow(b, x)
	}
	if b == k.inf {
		switch k.signOf(x) {
		case SignPositive:
			return k.inf
		case SignNegative:
			return k.zero
		}
	}

	if xn.num != nil && xn.num.isInteger() {
		switch bn.kind {
		case KindPow:
			x = k.unreduced(func() Expr { return k.evalProduct([]Expr{bn.ops[1], x}, true, false) })
			return k.evalPow(bn.ops[0], x)
		case KindMul:
			factors := make([]Expr, len(bn.ops))
			for i, f := range bn.ops {
				factors[i] = k.evalPow(f, x)
			}
			return k.evalProduct(factors, true, false)
		}
	}
	if bn.kind == KindExt {
		if ext := k.extension(bn.ext); ext != nil && ext.Caps.Pow != nil {
			if r, ok := ext.Caps.Pow(k, b, x); ok {
				return k.eval(r)
			}
		}
	}
	return k.rawPow(b, x)
}

// powNumbers folds a^b for numeric leaves. ok is false when the result has
// no numeric form, such as an irrational root.
func (k *Kernel) powNumbers(a, b *number) (Expr, bool) {
	if a.isFloat() || b.isFloat() {
		if b.isInteger() {
			r, err := k.num.powInt(a, b.rat.Num())
			if err != nil {
				return Expr{}, false
			}
			return k.numberLeaf(r), true
		}
		if k.cfg.mod != nil {
			k.throw(wrapError(CannotConvert, errFloatUnderModulus, "power"))
		}
		r, ok := k.num.powFloat(a, b)
		if !ok {
			return Expr{}, false
		}
		return k.numberLeaf(r), true
	}
	if b.isInteger() {
		r, err := k.num.powInt(a, b.rat.Num())
		switch err {
		case nil:
			return k.numberLeaf(r), true
		case errPowerTooLarge:
			return Expr{}, false
		}
		k.throw(wrapError(CannotConvert, err, "power"))
	}
	if k.cfg.mod != nil || !b.rat.Denom().IsInt64() {
		return Expr{}, false
	}
	q := b.rat.Denom().Int64()
	p := b.rat.Num()
	if root, ok := k.num.root(a, q); ok {
		r, err := k.num.powInt(root, p)
		if err != nil {
			return Expr{}, false
		}
		return k.numberLeaf(r), true
	}
	// Split off the integer part of the exponent: a^(7/2) = a^3 * a^(1/2).
	if a.rat.Sign() < 0 {
		return Expr{}, false
	}
	whole, rem := new(big.Int).DivMod(p, big.NewInt(q), new(big.Int))
	if whole.Sign() == 0 {
		return Expr{}, false
	}
	c, err := k.num.powInt(a, whole)
	if err != nil {
		return Expr{}, false
	}
	frac := k.ratLeaf(new(big.Rat).SetFrac(rem, big.NewInt(q)))
	return k.rawMul([]Expr{k.numberLeaf(c), k.rawPow(k.numberLeaf(a), frac)}), true
}

// ============================================================
// Functions
// ============================================================

func (k *Kernel) evalFunc(name string, args []Expr) Expr {
	id, ok := LookupFunc(name)
	if !ok || len(args) != 1 {
		return k.rawFunc(name, args)
	}
	a := args[0]
	if a == k.undef {
		return k.undef
	}
	an := k.node(a)
	if an.kind == KindExt {
		if ext := k.extension(an.ext); ext != nil {
			if fn := ext.Caps.Funcs[id]; fn != nil {
				if r, ok := fn(k, a); ok {
					return k.eval(r)
				}
			}
		}
	}
	if id == FuncConj {
		return k.conjugate(a)
	}
	if an.num != nil {
		if r, ok := k.funcNumber(id, an.num); ok {
			return r
		}
	}
	if r, ok := k.funcConstant(id, an); ok {
		return r
	}

	if an.kind == KindFunc && len(an.ops) == 1 {
		inner, _ := LookupFunc(an.name)
		x := an.ops[0]
		if k.shortcutAllowed(id, x) {
			if g, ok := leftInverse[id]; ok && g == inner {
				return x
			}
			if g, ok := realInverse[id]; ok && g == inner && k.flagsOf(x).Has(FlagReal) {
				return x
			}
		}
	}

	if neg, ok := k.negated(a); ok {
		switch {
		case isOddFunc(id):
			return k.evalProduct([]Expr{k.negOne, k.evalFunc(name, []Expr{neg})}, true, false)
		case isEvenFunc(id):
			return k.evalFunc(name, []Expr{neg})
		}
	}

	f := k.flagsOf(a)
	switch id {
	case FuncSign:
		switch {
		case f.Has(FlagZero):
			return k.zero
		case f.Has(FlagPositive):
			return k.one
		case f.Has(FlagNegative):
			return k.evalNumber(k.node(k.negOne))
		}
	case FuncAbs:
		switch {
		case f.Has(FlagNonnegative):
			return a
		case f.Has(FlagNonpositive):
			return k.evalProduct([]Expr{k.negOne, a}, true, false)
		}
	case FuncFloor, FuncCeil:
		if f.Has(FlagInteger) {
			return a
		}
	}
	return k.funcOf(id, a)
}

func (k *Kernel) shortcutAllowed(id FuncID, x Expr) bool {
	n := k.node(x)
	if n.kind != KindExt {
		return true
	}
	ext := k.extension(n.ext)
	return ext != nil && ext.Shortcuts.Has(id)
}

// negated returns -a when a carries an explicit negative sign.
func (k *Kernel) negated(a Expr) (Expr, bool) {
	n := k.node(a)
	if n.num != nil {
		if n.num.sign() >= 0 || k.cfg.mod != nil {
			return Expr{}, false
		}
		return k.numberLeaf(k.numResult(k.num.neg(n.num))), true
	}
	if n.kind != KindMul || k.cfg.mod != nil {
		return Expr{}, false
	}
	c, rest := k.splitCoeff(a)
	if c.sign() >= 0 {
		return Expr{}, false
	}
	return k.scale(k.numResult(k.num.neg(c)), rest), true
}

func (k *Kernel) funcNumber(id FuncID, a *number) (Expr, bool) {
	if a.isFloat() {
		r, ok := k.num.floatFunc(id, a)
		if !ok {
			return Expr{}, false
		}
		return k.numberLeaf(r), true
	}
	if a.isZero() {
		if v, ok := zeroAt(id); ok {
			return k.evalNumber(k.node(k.intLeaf(v))), true
		}
	}
	if a.isOne() {
		if v, ok := oneAt(id); ok {
			return k.evalNumber(k.node(k.intLeaf(v))), true
		}
	}
	switch id {
	case FuncAbs:
		return k.numberLeaf(exactNumber(new(big.Rat).Abs(a.rat))), true
	case FuncSign:
		return k.evalNumber(k.node(k.intLeaf(int64(a.rat.Sign())))), true
	case FuncFloor:
		return k.ratLeaf(new(big.Rat).SetInt(ratFloor(a.rat))), true
	case FuncCeil:
		f := ratFloor(new(big.Rat).Neg(a.rat))
		return k.ratLeaf(new(big.Rat).SetInt(f.Neg(f))), true
	}
	return Expr{}, false
}

func ratFloor(r *big.Rat) *big.Int {
	// Euclidean division floors for the positive denominators big.Rat keeps.
	return new(big.Int).Div(r.Num(), r.Denom())
}

func (k *Kernel) funcConstant(id FuncID, an *node) (Expr, bool) {
	if an.kind != KindSymbol {
		return Expr{}, false
	}
	switch {
	case an.name == constPi && (id == FuncSin || id == FuncTan):
		return k.zero, true
	case an.name == constPi && id == FuncCos:
		return k.evalNumber(k.node(k.negOne)), true
	case an.name == constE && id == FuncLn:
		return k.one, true
	case an.name == constInfinity && (id == FuncExp || id == FuncLn || id == FuncSinh || id == FuncCosh || id == FuncAbs):
		return k.inf, true
	}
	return Expr{}, false
}

// ============================================================
// Extension instances
// ============================================================

func (k *Kernel) evalExt(n *node) Expr {
	if n.state&stateUnsealed != 0 {
		return k.eval(k.seal(n.self))
	}
	inst := k.extInstance(n.ext, n.blob, k.evalOps(n.ops))
	ext := k.extension(n.ext)
	if ext == nil {
		return inst
	}
	if ext.Caps.Zero != nil && ext.Caps.Zero(k, inst) == True {
		return k.zero
	}
	if ext.Caps.One != nil && ext.Caps.One(k, inst) == True {
		return k.one
	}
	if ext.Caps.Eval != nil {
		r, err := ext.Caps.Eval(k, inst)
		if err != nil {
			k.throw(callbackError(ext.Name+" eval", err))
		}
		if !r.Nil() && r != inst {
			return k.eval(r)
		}
	}
	return inst
}

// ============================================================
// Numeric approximation
// ============================================================

func (k *Kernel) evalf(e Expr) Expr {
	return k.mapLeaves(e, make(map[Expr]Expr), func(n *node) (Expr, bool) {
		switch {
		case n.num != nil:
			return k.numberLeaf(k.numResult(k.num.toFloat(n.num))), true
		case n.kind == KindSymbol:
			if c, ok := k.num.constant(n.name); ok {
				if k.cfg.mod != nil {
					k.throw(wrapError(CannotConvert, errFloatUnderModulus, "%s", n.name))
				}
				return k.numberLeaf(c), true
			}
		}
		return Expr{}, false
	})
}

// mapLeaves rewrites leaves with fn and re-evaluates every ancestor of a
// rewritten leaf. Held subtrees are left alone.
func (k *Kernel) mapLeaves(e Expr, memo map[Expr]Expr, fn func(n *node) (Expr, bool)) Expr {
	if out, ok := memo[e]; ok {
		return out
	}
	n := k.node(e)
	out := e
	if len(n.ops) == 0 {
		if r, ok := fn(n); ok {
			out = r
		}
	} else if n.kind != KindHold {
		ops := make([]Expr, len(n.ops))
		changed := false
		for i, op := range n.ops {
			ops[i] = k.mapLeaves(op, memo, fn)
			changed = changed || ops[i] != op
		}
		if changed {
			out = k.eval(k.rebuild(n, ops))
		}
	}
	memo[e] = out
	return out
}

// rebuild returns an unevaluated node with n's head and the given operands.
func (k *Kernel) rebuild(n *node, ops []Expr) Expr {
	switch n.kind {
	case KindAdd:
		return k.rawAdd(ops)
	case KindMul:
		return k.rawMul(ops)
	case KindPow:
		return k.rawPow(ops[0], ops[1])
	case KindFunc:
		return k.rawFunc(n.name, ops)
	case KindList:
		return k.list(ops)
	case KindMatrix:
		return k.matrix(n.rows, n.cols, ops)
	case KindExt:
		return k.extInstance(n.ext, n.blob, ops)
	case KindHold:
		return k.intern(&node{kind: KindHold, ops: []Expr{ops[0]}})
	}
	return n.self
}
