package symcore

// Iter is a cursor over the operands of a sum or product. It reads the
// node's operand slice in place and never copies it.
//
//	it, _ := k.Iter(sum)
//	for ; !it.End(); it.Next() {
//		term := it.Ref()
//	}
type Iter struct {
	k    *Kernel
	e    Expr
	kind Kind
	ops  []Expr
	pos  int
}

// Iter returns a cursor positioned on the first operand of e. A node that
// is not a sum or product iterates as a single operand.
func (k *Kernel) Iter(e Expr) (*Iter, error) {
	it := &Iter{k: k}
	err := k.guard(func() { it.Init(e) })
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Init repositions the cursor on the first operand of e.
func (it *Iter) Init(e Expr) {
	n := it.k.node(e)
	it.e, it.kind, it.pos = e, n.kind, 0
	switch n.kind {
	case KindAdd, KindMul:
		it.ops = n.ops
	default:
		it.ops = []Expr{e}
	}
}

func (it *Iter) Next() {
	if it.pos < len(it.ops) {
		it.pos++
	}
}

func (it *Iter) End() bool { return it.pos >= len(it.ops) }

// Ref returns the current operand, or the zero Expr past the end.
func (it *Iter) Ref() Expr {
	if it.End() {
		return Expr{}
	}
	return it.ops[it.pos]
}

// Tail returns the node built from the current operand and every operand
// after it.
func (it *Iter) Tail() (Expr, error) {
	return it.k.buildErr(func() Expr { return it.assemble(it.ops[min(it.pos, len(it.ops)):]) })
}

// Extract finds the first operand at or after the cursor that satisfies
// pred and returns it together with the node of every other operand. found
// is false when no operand matches.
func (it *Iter) Extract(pred func(Expr) bool) (match, rest Expr, found bool, err error) {
	err = it.k.guard(func() {
		for i := it.pos; i < len(it.ops); i++ {
			if !pred(it.ops[i]) {
				continue
			}
			others := make([]Expr, 0, len(it.ops)-1)
			others = append(others, it.ops[:i]...)
			others = append(others, it.ops[i+1:]...)
			match, rest, found = it.ops[i], it.assemble(others), true
			return
		}
	})
	return match, rest, found, err
}

// assemble interns a sum or product over an already ordered subsequence of
// canonical operands. Removing operands from a canonical node leaves a
// canonical node, so no sort or re-evaluation is needed.
func (it *Iter) assemble(ops []Expr) Expr {
	k := it.k
	switch {
	case it.kind != KindAdd && it.kind != KindMul:
		if len(ops) == 0 {
			return k.zero
		}
		return ops[0]
	case len(ops) == 0 && it.kind == KindAdd:
		return k.zero
	case len(ops) == 0:
		return k.one
	case len(ops) == 1:
		return ops[0]
	}
	out := k.intern(&node{kind: it.kind, ops: append([]Expr(nil), ops...)})
	if k.IsEvaluated(it.e) {
		k.markCanonical(out)
	}
	return out
}
