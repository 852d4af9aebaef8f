package symcore

import "math/big"

// derivName is the head of an unevaluated derivative D(i, f(...)), the
// derivative of f with respect to its i-th argument (1-based).
const derivName = "D"

// Diff differentiates e with respect to the symbol x and evaluates the
// result.
func (k *Kernel) Diff(e, x Expr) (Expr, error) {
	return k.buildErr(func() Expr {
		if n := k.node(x); n.kind != KindSymbol {
			k.throw(newError(Unsupported, "cannot differentiate with respect to a %s", n.kind))
		}
		d := &differ{k: k, x: x, memo: make(map[Expr]Expr), deps: make(map[Expr]bool)}
		return k.eval(d.diff(k.eval(e)))
	})
}

type differ struct {
	k    *Kernel
	x    Expr
	memo map[Expr]Expr
	deps map[Expr]bool
}

func (d *differ) dependsOn(e Expr) bool {
	if e == d.x {
		return true
	}
	if v, ok := d.deps[e]; ok {
		return v
	}
	dep := false
	for _, op := range d.k.node(e).ops {
		if d.dependsOn(op) {
			dep = true
			break
		}
	}
	d.deps[e] = dep
	return dep
}

func (d *differ) diff(e Expr) Expr {
	if out, ok := d.memo[e]; ok {
		return out
	}
	out := d.diffNode(e)
	d.memo[e] = out
	return out
}

func (d *differ) diffNode(e Expr) Expr {
	k := d.k
	if e == d.x {
		return k.one
	}
	if !d.dependsOn(e) {
		return k.zero
	}
	n := k.node(e)
	switch n.kind {
	case KindAdd:
		terms := make([]Expr, len(n.ops))
		for i, op := range n.ops {
			terms[i] = d.diff(op)
		}
		return k.evalSum(terms, true)

	case KindMul:
		// Product rule: sum over i of f_i' * prod_{j != i} f_j.
		terms := make([]Expr, 0, len(n.ops))
		for i, op := range n.ops {
			di := d.diff(op)
			if di == k.zero {
				continue
			}
			factors := make([]Expr, 0, len(n.ops))
			factors = append(factors, n.ops[:i]...)
			factors = append(factors, di)
			factors = append(factors, n.ops[i+1:]...)
			terms = append(terms, k.evalProduct(factors, true, false))
		}
		return k.evalSum(terms, true)

	case KindPow:
		b, p := n.ops[0], n.ops[1]
		db := d.diff(b)
		if !d.dependsOn(p) {
			// p * b^(p-1) * b'
			pm1 := k.unreduced(func() Expr { return k.evalSum([]Expr{p, k.negOne}, true) })
			return k.evalProduct([]Expr{p, k.evalPow(b, pm1), db}, true, false)
		}
		// b^p * (p' ln b + p b'/b)
		lnb := k.evalFunc(FuncLn.String(), []Expr{b})
		inner := k.evalSum([]Expr{
			k.evalProduct([]Expr{d.diff(p), lnb}, true, false),
			k.evalProduct([]Expr{p, db, k.evalPow(b, k.negOne)}, true, false),
		}, true)
		return k.evalProduct([]Expr{e, inner}, true, false)

	case KindFunc:
		if id, ok := LookupFunc(n.name); ok && len(n.ops) == 1 {
			du := d.diff(n.ops[0])
			if du == k.zero {
				return k.zero
			}
			return k.evalProduct([]Expr{k.funcDerivative(id, n.ops[0]), du}, true, false)
		}
		args := n.ops
		if n.name == derivName && len(n.ops) == 2 {
			args = k.node(n.ops[1]).ops
		}
		return d.chain(e, args)

	case KindList, KindMatrix:
		ops := make([]Expr, len(n.ops))
		for i, op := range n.ops {
			ops[i] = d.diff(op)
		}
		return k.rebuild(n, ops)

	case KindExt:
		ext := k.extension(n.ext)
		if ext == nil || ext.Caps.Diff == nil {
			k.throw(newError(Unsupported, "cannot differentiate %s", k.NameOf(e)))
		}
		out, err := ext.Caps.Diff(k, e, d.x)
		if err != nil {
			k.throw(callbackError(ext.Name+" diff", err))
		}
		return k.eval(out)

	case KindHold:
		return k.hold(d.diff(n.ops[0]))
	}
	k.throw(newError(Unsupported, "cannot differentiate a %s", n.kind))
	return Expr{}
}

// chain differentiates an unknown function f of args as the sum over i of
// D(i, f) * args_i'. Derivatives of derivatives nest.
func (d *differ) chain(f Expr, args []Expr) Expr {
	k := d.k
	terms := make([]Expr, 0, len(args))
	for i, arg := range args {
		da := d.diff(arg)
		if da == k.zero {
			continue
		}
		di := k.rawFunc(derivName, []Expr{k.intLeaf(int64(i + 1)), f})
		k.markCanonical(di)
		terms = append(terms, k.evalProduct([]Expr{di, da}, true, false))
	}
	return k.evalSum(terms, true)
}

// funcDerivative returns f'(u) for a builtin f.
func (k *Kernel) funcDerivative(id FuncID, u Expr) Expr {
	neg := k.evalNumber(k.node(k.negOne))
	negHalf := k.ratLeaf(big.NewRat(-1, 2))
	two := k.intLeaf(2)
	sq := k.evalPow(u, two)
	fn := func(f FuncID, a Expr) Expr { return k.evalFunc(f.String(), []Expr{a}) }
	switch id {
	case FuncExp:
		return fn(FuncExp, u)
	case FuncLn:
		return k.evalPow(u, k.negOne)
	case FuncSin:
		return fn(FuncCos, u)
	case FuncCos:
		return k.evalProduct([]Expr{neg, fn(FuncSin, u)}, true, false)
	case FuncTan:
		// 1 + tan(u)^2
		return k.evalSum([]Expr{k.one, k.evalPow(fn(FuncTan, u), two)}, true)
	case FuncAsin:
		// (1 - u^2)^(-1/2)
		return k.evalPow(k.evalSum([]Expr{k.one, k.evalProduct([]Expr{neg, sq}, true, false)}, true), negHalf)
	case FuncAcos:
		return k.evalProduct([]Expr{neg, k.evalPow(k.evalSum([]Expr{k.one, k.evalProduct([]Expr{neg, sq}, true, false)}, true), negHalf)}, true, false)
	case FuncAtan:
		return k.evalPow(k.evalSum([]Expr{k.one, sq}, true), k.negOne)
	case FuncSinh:
		return fn(FuncCosh, u)
	case FuncCosh:
		return fn(FuncSinh, u)
	case FuncTanh:
		// 1 - tanh(u)^2
		return k.evalSum([]Expr{k.one, k.evalProduct([]Expr{neg, k.evalPow(fn(FuncTanh, u), two)}, true, false)}, true)
	case FuncAsinh:
		return k.evalPow(k.evalSum([]Expr{sq, k.one}, true), negHalf)
	case FuncAcosh:
		// (u-1)^(-1/2) (u+1)^(-1/2)
		return k.evalProduct([]Expr{
			k.evalPow(k.evalSum([]Expr{u, neg}, true), negHalf),
			k.evalPow(k.evalSum([]Expr{u, k.one}, true), negHalf),
		}, true, false)
	case FuncAtanh:
		return k.evalPow(k.evalSum([]Expr{k.one, k.evalProduct([]Expr{neg, sq}, true, false)}, true), neg)
	case FuncAbs:
		return fn(FuncSign, u)
	case FuncSign, FuncFloor, FuncCeil:
		return k.zero
	case FuncConj:
		k.throw(newError(Unsupported, "conj is not holomorphic"))
	}
	k.throw(newError(Unsupported, "no derivative for %s", id))
	return Expr{}
}

// ============================================================
// Conjugation
// ============================================================

// Conjugate returns the complex conjugate of e.
func (k *Kernel) Conjugate(e Expr) (Expr, error) {
	return k.buildErr(func() Expr { return k.conjugate(k.eval(e)) })
}

// conjugate expects an evaluated argument.
func (k *Kernel) conjugate(e Expr) Expr {
	n := k.node(e)
	if n.num != nil || k.flagsOf(e).Has(FlagReal) {
		return e
	}
	switch n.kind {
	case KindAdd:
		ops := make([]Expr, len(n.ops))
		for i, op := range n.ops {
			ops[i] = k.conjugate(op)
		}
		return k.evalSum(ops, true)
	case KindMul:
		ops := make([]Expr, len(n.ops))
		for i, op := range n.ops {
			ops[i] = k.conjugate(op)
		}
		return k.evalProduct(ops, true, false)
	case KindPow:
		if x := k.node(n.ops[1]); x.num != nil && x.num.isInteger() {
			return k.evalPow(k.conjugate(n.ops[0]), n.ops[1])
		}
	case KindList, KindMatrix:
		ops := make([]Expr, len(n.ops))
		for i, op := range n.ops {
			ops[i] = k.conjugate(op)
		}
		return k.eval(k.rebuild(n, ops))
	case KindFunc:
		id, ok := LookupFunc(n.name)
		if ok && len(n.ops) == 1 {
			switch id {
			case FuncConj:
				return n.ops[0]
			case FuncExp, FuncSin, FuncCos, FuncTan, FuncSinh, FuncCosh, FuncTanh:
				return k.evalFunc(n.name, []Expr{k.conjugate(n.ops[0])})
			}
		}
	case KindExt:
		if ext := k.extension(n.ext); ext != nil && ext.Caps.Conj != nil {
			c, err := ext.Caps.Conj(k, e)
			if err != nil {
				k.throw(callbackError(ext.Name+" conj", err))
			}
			return k.eval(c)
		}
	case KindString, KindBlob, KindHold:
		return e
	}
	if e == k.undef || e == k.inf {
		return e
	}
	return k.funcOf(FuncConj, e)
}
