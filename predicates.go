package symcore

// ============================================================
// Tri-state answers
// ============================================================

// Tri is the answer of a predicate: proven true, proven false, or unknown.
type Tri int8

const (
	Unknown Tri = iota
	True
	False
)

func (t Tri) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

// TriOf converts a proven boolean.
func TriOf(b bool) Tri {
	if b {
		return True
	}
	return False
}

// Sign is the proven sign of a value.
type Sign int8

const (
	SignUnknown Sign = iota
	SignPositive
	SignNegative
	SignZero
)

func (s Sign) String() string {
	switch s {
	case SignPositive:
		return "positive"
	case SignNegative:
		return "negative"
	case SignZero:
		return "zero"
	}
	return "unknown"
}

// ============================================================
// Predicates
// ============================================================

// Predicates never fail: an invalid handle or a stopped kernel answers
// Unknown.
func (k *Kernel) predicate(e Expr, fn func(n *node, f Flags) Tri) Tri {
	t := Unknown
	if _, ok := k.lookup(e); !ok || k.state != stateRunning {
		return t
	}
	_ = k.guard(func() {
		n := k.node(e)
		t = fn(n, k.flagsOf(e))
	})
	return t
}

func (k *Kernel) IsZero(e Expr) Tri {
	return k.predicate(e, func(n *node, f Flags) Tri { return k.isZero(n, f) })
}

func (k *Kernel) isZero(n *node, f Flags) Tri {
	switch {
	case f.Has(FlagZero):
		return True
	case f.Has(FlagNonzero):
		return False
	case n.num != nil:
		return TriOf(n.num.isZero())
	}
	if k.cfg.zeroTest != nil {
		return k.cfg.zeroTest(k, n.self)
	}
	return Unknown
}

func (k *Kernel) zeroTri(e Expr) Tri { return k.isZero(k.node(e), k.flagsOf(e)) }

func (k *Kernel) IsOne(e Expr) Tri {
	return k.predicate(e, func(n *node, f Flags) Tri { return k.isOne(n, f) })
}

func (k *Kernel) isOne(n *node, f Flags) Tri {
	if n.num != nil {
		if n.num.isFloat() {
			return TriOf(n.num.dec.Cmp(decimalOne) == 0)
		}
		return TriOf(n.num.isOne())
	}
	if n.kind == KindExt {
		if ext := k.extension(n.ext); ext != nil && ext.Caps.One != nil {
			if t := ext.Caps.One(k, n.self); t != Unknown {
				return t
			}
		}
	}
	if f.Has(FlagNonpositive) || f.Has(FlagEven) {
		return False
	}
	return Unknown
}

func (k *Kernel) IsPositive(e Expr) Tri {
	return k.predicate(e, func(_ *node, f Flags) Tri {
		switch {
		case f.Has(FlagPositive):
			return True
		case f.Has(FlagNonpositive):
			return False
		}
		return Unknown
	})
}

func (k *Kernel) IsNegative(e Expr) Tri {
	return k.predicate(e, func(_ *node, f Flags) Tri {
		switch {
		case f.Has(FlagNegative):
			return True
		case f.Has(FlagNonnegative):
			return False
		}
		return Unknown
	})
}

func (k *Kernel) IsEven(e Expr) Tri {
	return k.predicate(e, func(n *node, f Flags) Tri {
		switch {
		case f.Has(FlagEven):
			return True
		case f.Has(FlagOdd):
			return False
		case n.num != nil && !n.num.isFloat():
			return False
		}
		return Unknown
	})
}

func (k *Kernel) IsOdd(e Expr) Tri {
	return k.predicate(e, func(n *node, f Flags) Tri {
		switch {
		case f.Has(FlagOdd):
			return True
		case f.Has(FlagEven):
			return False
		case n.num != nil && !n.num.isFloat():
			return False
		}
		return Unknown
	})
}

func (k *Kernel) IsPrime(e Expr) Tri {
	return k.predicate(e, func(n *node, f Flags) Tri {
		switch {
		case f.Has(FlagPrime):
			return True
		case n.num != nil && !n.num.isFloat():
			return False
		case f.Has(FlagNonpositive):
			return False
		}
		return Unknown
	})
}

func (k *Kernel) IsRational(e Expr) Tri {
	return k.predicate(e, func(n *node, f Flags) Tri {
		switch {
		case f.Has(FlagRational):
			return True
		case n.kind == KindSymbol && (n.name == constPi || n.name == constE):
			return False
		}
		return Unknown
	})
}

func (k *Kernel) IsInteger(e Expr) Tri {
	return k.predicate(e, func(n *node, f Flags) Tri {
		switch {
		case f.Has(FlagInteger):
			return True
		case n.num != nil && !n.num.isFloat():
			return False
		case n.kind == KindSymbol && (n.name == constPi || n.name == constE):
			return False
		}
		return Unknown
	})
}

func (k *Kernel) IsReal(e Expr) Tri {
	return k.predicate(e, func(_ *node, f Flags) Tri {
		if f.Has(FlagReal) {
			return True
		}
		return Unknown
	})
}

// SignOf returns the proven sign of e.
func (k *Kernel) SignOf(e Expr) Sign {
	s := SignUnknown
	if _, ok := k.lookup(e); !ok || k.state != stateRunning {
		return s
	}
	_ = k.guard(func() { s = k.signOf(e) })
	return s
}

func (k *Kernel) signOf(e Expr) Sign {
	f := k.flagsOf(e)
	switch {
	case f.Has(FlagZero):
		return SignZero
	case f.Has(FlagPositive):
		return SignPositive
	case f.Has(FlagNegative):
		return SignNegative
	}
	return SignUnknown
}
