package symcore

import "strings"

// ============================================================
// Replace
// ============================================================

// Replace substitutes value for occurrences of pattern in e and evaluates
// the result. With all unset only the first occurrence in pre-order is
// replaced. A sum or product pattern also matches a sub-multiset of the
// operands of a larger sum or product, so replacing a+b in a+b+c yields
// value+c.
func (k *Kernel) Replace(e, pattern, value Expr, all bool) (Expr, error) {
	return k.buildErr(func() Expr {
		r := &replacer{
			k:       k,
			pattern: k.eval(pattern),
			value:   k.eval(value),
			all:     all,
			memo:    make(map[Expr]Expr),
		}
		r.pn = k.node(r.pattern)
		return k.eval(r.walk(k.eval(e)))
	})
}

type replacer struct {
	k       *Kernel
	pattern Expr
	pn      *node
	value   Expr
	all     bool
	done    bool
	memo    map[Expr]Expr
}

func (r *replacer) hit() {
	if !r.all {
		r.done = true
	}
}

func (r *replacer) walk(e Expr) Expr {
	if r.done {
		return e
	}
	if e == r.pattern {
		r.hit()
		return r.value
	}
	if out, ok := r.memo[e]; ok && r.all {
		return out
	}
	k := r.k
	n := k.node(e)
	if len(n.ops) == 0 {
		return e
	}
	ops := n.ops
	replaced := false
	if (n.kind == KindAdd || n.kind == KindMul) && r.pn.kind == n.kind && len(r.pn.ops) < len(n.ops) {
		if rest, ok := removeMultiset(n.ops, r.pn.ops); ok {
			r.hit()
			ops, replaced = rest, true
		}
	}
	out := make([]Expr, len(ops), len(ops)+1)
	changed := replaced
	for i, op := range ops {
		out[i] = r.walk(op)
		changed = changed || out[i] != op
	}
	if replaced {
		out = append(out, r.value)
	}
	res := e
	if changed {
		res = k.rebuild(n, out)
	}
	r.memo[e] = res
	return res
}

// removeMultiset removes one occurrence of each element of sub from ops.
func removeMultiset(ops, sub []Expr) ([]Expr, bool) {
	need := make(map[Expr]int, len(sub))
	for _, s := range sub {
		need[s]++
	}
	rest := make([]Expr, 0, len(ops)-len(sub))
	for _, op := range ops {
		if need[op] > 0 {
			need[op]--
			continue
		}
		rest = append(rest, op)
	}
	return rest, len(rest) == len(ops)-len(sub)
}

// ============================================================
// Subs
// ============================================================

// Binding maps From to To in Subs. From is usually a symbol or a function
// application. A symbol bound to a symbol also renames functions of that
// name.
type Binding struct {
	From, To Expr
}

// Subs applies every binding simultaneously: all bindings are captured
// before any is applied, so x->y together with y->x swaps x and y.
func (k *Kernel) Subs(e Expr, bindings ...Binding) (Expr, error) {
	return k.buildErr(func() Expr {
		s := &substituter{
			k:       k,
			to:      make(map[Expr]Expr, len(bindings)),
			renames: make(map[string]string),
			memo:    make(map[Expr]Expr),
		}
		for _, b := range bindings {
			from, to := k.eval(b.From), k.eval(b.To)
			s.to[from] = to
			fn, tn := k.node(from), k.node(to)
			if fn.kind == KindSymbol && tn.kind == KindSymbol {
				s.renames[fn.name] = tn.name
			}
		}
		return k.eval(s.walk(k.eval(e)))
	})
}

type substituter struct {
	k       *Kernel
	to      map[Expr]Expr
	renames map[string]string
	memo    map[Expr]Expr
}

func (s *substituter) walk(e Expr) Expr {
	if v, ok := s.to[e]; ok {
		return v
	}
	if out, ok := s.memo[e]; ok {
		return out
	}
	k := s.k
	n := k.node(e)
	out := e
	if len(n.ops) > 0 {
		ops := make([]Expr, len(n.ops))
		changed := false
		for i, op := range n.ops {
			ops[i] = s.walk(op)
			changed = changed || ops[i] != op
		}
		name, renamed := s.renames[n.name]
		switch {
		case n.kind == KindFunc && renamed:
			out = k.rawFunc(name, ops)
		case changed:
			out = k.rebuild(n, ops)
		}
	}
	s.memo[e] = out
	return out
}

// ============================================================
// Match
// ============================================================

// Bindings maps wildcard names to the subexpressions they matched.
type Bindings map[string]Expr

func (b Bindings) with(name string, e Expr) Bindings {
	out := make(Bindings, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	out[name] = e
	return out
}

// MatchOptions tunes Match. Guard rejects a complete match, which makes
// Match backtrack into other assignments. Equiv widens equality of
// non-wildcard subexpressions.
type MatchOptions struct {
	Guard func(k *Kernel, b Bindings) bool
	Equiv func(k *Kernel, a, b Expr) bool
}

// Match tests e against pattern. Symbols whose name starts with "_" are
// wildcards: "_" matches anything, any other wildcard binds and must match
// the same subexpression everywhere it occurs. In sums and products a
// trailing wildcard absorbs the operands left over.
func (k *Kernel) Match(e, pattern Expr, opts *MatchOptions) (Bindings, bool, error) {
	var (
		result Bindings
		ok     bool
	)
	err := k.guard(func() {
		result, ok = k.match(k.eval(e), k.eval(pattern), opts)
	})
	return result, ok, err
}

func (k *Kernel) match(e, pattern Expr, opts *MatchOptions) (Bindings, bool) {
	m := &matcher{k: k}
	if opts != nil {
		m.opts = *opts
	}
	var result Bindings
	ok := m.match(e, pattern, Bindings{}, func(b Bindings) bool {
		if m.opts.Guard != nil && !m.opts.Guard(k, b) {
			return false
		}
		result = b
		return true
	})
	return result, ok
}

type matcher struct {
	k    *Kernel
	opts MatchOptions
}

func (m *matcher) wildcard(p Expr) (string, bool) {
	n := m.k.node(p)
	if n.kind == KindSymbol && strings.HasPrefix(n.name, "_") {
		return n.name, true
	}
	return "", false
}

func (m *matcher) equiv(a, b Expr) bool {
	return a == b || (m.opts.Equiv != nil && m.opts.Equiv(m.k, a, b))
}

// match calls cont with every extension of b under which e matches p and
// stops at the first cont that accepts.
func (m *matcher) match(e, p Expr, b Bindings, cont func(Bindings) bool) bool {
	if name, ok := m.wildcard(p); ok {
		if name == "_" {
			return cont(b)
		}
		if prev, bound := b[name]; bound {
			return m.equiv(prev, e) && cont(b)
		}
		return cont(b.with(name, e))
	}
	if m.equiv(e, p) {
		return cont(b)
	}
	en, pn := m.k.node(e), m.k.node(p)
	if en.kind != pn.kind || en.name != pn.name || en.ext != pn.ext || en.rows != pn.rows || en.cols != pn.cols || len(pn.ops) == 0 {
		return false
	}
	if en.kind == KindAdd || en.kind == KindMul {
		return m.matchMultiset(en.kind, en.ops, m.wildcardsLast(pn.ops), b, cont)
	}
	if len(en.ops) != len(pn.ops) {
		return false
	}
	return m.matchSeq(en.ops, pn.ops, b, cont)
}

func (m *matcher) matchSeq(es, ps []Expr, b Bindings, cont func(Bindings) bool) bool {
	if len(ps) == 0 {
		return cont(b)
	}
	return m.match(es[0], ps[0], b, func(b Bindings) bool {
		return m.matchSeq(es[1:], ps[1:], b, cont)
	})
}

func (m *matcher) wildcardsLast(ps []Expr) []Expr {
	out := make([]Expr, 0, len(ps))
	var wild []Expr
	for _, p := range ps {
		if _, ok := m.wildcard(p); ok {
			wild = append(wild, p)
		} else {
			out = append(out, p)
		}
	}
	return append(out, wild...)
}

func (m *matcher) matchMultiset(kind Kind, es, ps []Expr, b Bindings, cont func(Bindings) bool) bool {
	if len(ps) == 0 {
		return len(es) == 0 && cont(b)
	}
	if len(es) == 0 {
		return false
	}
	if len(ps) == 1 && len(es) > 1 {
		if _, ok := m.wildcard(ps[0]); ok {
			var rest Expr
			if kind == KindAdd {
				rest = m.k.evalSum(es, true)
			} else {
				rest = m.k.evalProduct(es, true, false)
			}
			return m.match(rest, ps[0], b, cont)
		}
	}
	for i, e := range es {
		if i > 0 && e == es[i-1] {
			continue
		}
		remaining := make([]Expr, 0, len(es)-1)
		remaining = append(remaining, es[:i]...)
		remaining = append(remaining, es[i+1:]...)
		if m.match(e, ps[0], b, func(b Bindings) bool {
			return m.matchMultiset(kind, remaining, ps[1:], b, cont)
		}) {
			return true
		}
	}
	return false
}

// ============================================================
// Rewrite
// ============================================================

// Rule rewrites subexpressions matching Pattern into Result with the
// wildcards of Pattern substituted.
type Rule struct {
	Pattern Expr
	Result  Expr
	Guard   func(k *Kernel, b Bindings) bool
}

const maxRewritePasses = 256

// Rewrite applies rules bottom-up until no rule fires.
func (k *Kernel) Rewrite(e Expr, rules ...Rule) (Expr, error) {
	return k.buildErr(func() Expr {
		cur := k.eval(e)
		for pass := 0; pass < maxRewritePasses; pass++ {
			next := k.eval(k.rewritePass(cur, rules, make(map[Expr]Expr)))
			if next == cur {
				return cur
			}
			cur = next
		}
		k.throw(newError(Unsupported, "rewrite did not reach a fixpoint in %d passes", maxRewritePasses))
		return Expr{}
	})
}

func (k *Kernel) rewritePass(e Expr, rules []Rule, memo map[Expr]Expr) Expr {
	if out, ok := memo[e]; ok {
		return out
	}
	n := k.node(e)
	out := e
	if len(n.ops) > 0 && n.kind != KindHold {
		ops := make([]Expr, len(n.ops))
		changed := false
		for i, op := range n.ops {
			ops[i] = k.rewritePass(op, rules, memo)
			changed = changed || ops[i] != op
		}
		if changed {
			out = k.eval(k.rebuild(n, ops))
		}
	}
	for _, r := range rules {
		b, ok := k.match(out, k.eval(r.Pattern), &MatchOptions{Guard: r.Guard})
		if !ok {
			continue
		}
		s := &substituter{k: k, to: make(map[Expr]Expr, len(b)), memo: make(map[Expr]Expr)}
		for name, v := range b {
			s.to[k.symbol(name)] = v
		}
		out = k.eval(s.walk(r.Result))
		break
	}
	memo[e] = out
	return out
}

// ============================================================
// Map
// ============================================================

// Map applies fn to every immediate operand of e, rebuilds e and
// evaluates it.
func (k *Kernel) Map(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	return k.buildErr(func() Expr {
		n := k.node(e)
		ops := make([]Expr, len(n.ops))
		for i, op := range n.ops {
			v, err := fn(op)
			if err != nil {
				k.throw(callbackError("map", err))
			}
			ops[i] = v
		}
		if len(ops) == 0 {
			return k.eval(e)
		}
		return k.eval(k.rebuild(n, ops))
	})
}

// Map2 applies fn pairwise to the operands of a and b, which must have the
// same head and operand count, and rebuilds with a's head.
func (k *Kernel) Map2(a, b Expr, fn func(x, y Expr) (Expr, error)) (Expr, error) {
	return k.buildErr(func() Expr {
		na, nb := k.node(a), k.node(b)
		if na.kind != nb.kind || len(na.ops) != len(nb.ops) || na.rows != nb.rows || na.cols != nb.cols {
			k.throw(newError(DimensionMismatch, "map2 over %s with %d operands and %s with %d operands",
				na.kind, len(na.ops), nb.kind, len(nb.ops)))
		}
		ops := make([]Expr, len(na.ops))
		for i := range na.ops {
			v, err := fn(na.ops[i], nb.ops[i])
			if err != nil {
				k.throw(callbackError("map2", err))
			}
			ops[i] = v
		}
		if len(ops) == 0 {
			return k.eval(a)
		}
		return k.eval(k.rebuild(na, ops))
	})
}
