package symcore

import (
	"strconv"
	"strings"
)

// Stringify renders e in the textual interchange format accepted by Parse.
// Integers and rationals are written in the display base.
func (k *Kernel) Stringify(e Expr) (string, error) {
	var sb strings.Builder
	err := k.guard(func() {
		p := printer{k: k, sb: &sb, base: k.cfg.base}
		p.expr(e)
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// MustString is Stringify for diagnostics: failures render as "<err>".
func (k *Kernel) MustString(e Expr) string {
	s, err := k.Stringify(e)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return s
}

// Binding strength of the operators, loosest first.
const (
	precSum = iota + 1
	precProduct
	precUnary
	precPower
	precAtom
)

type printer struct {
	k    *Kernel
	sb   *strings.Builder
	base int
}

func (p *printer) write(s string) { p.sb.WriteString(s) }

// prec returns how tightly the printed form of e binds.
func (p *printer) prec(e Expr) int {
	n := p.k.node(e)
	switch n.kind {
	case KindAdd:
		return precSum
	case KindMul:
		if c, _ := p.k.splitCoeff(e); c.sign() < 0 {
			return precUnary
		}
		return precProduct
	case KindPow:
		return precPower
	case KindInteger:
		if n.num.sign() < 0 {
			return precUnary
		}
	case KindRational:
		if n.num.sign() < 0 {
			return precUnary
		}
		return precProduct
	case KindFloat:
		if n.num.sign() < 0 {
			return precUnary
		}
	}
	return precAtom
}

func (p *printer) wrap(e Expr, at int) {
	if p.prec(e) < at {
		p.write("(")
		p.expr(e)
		p.write(")")
		return
	}
	p.expr(e)
}

func (p *printer) expr(e Expr) {
	k := p.k
	n := k.node(e)
	switch n.kind {
	case KindInteger, KindRational, KindFloat:
		p.write(n.num.format(p.base))
	case KindSymbol:
		p.name(n.name, false)
	case KindString:
		p.write(strconv.Quote(n.name))
	case KindBlob:
		p.write("blob()")
	case KindAdd:
		p.sum(n)
	case KindMul:
		p.product(e)
	case KindPow:
		p.wrap(n.ops[0], precAtom)
		p.write("^")
		p.wrap(n.ops[1], precAtom)
	case KindFunc:
		p.name(n.name, true)
		p.args(n.ops)
	case KindList:
		p.list(n.ops)
	case KindMatrix:
		p.write("matrix(")
		for i := 0; i < n.rows; i++ {
			if i > 0 {
				p.write(", ")
			}
			p.list(n.ops[i*n.cols : (i+1)*n.cols])
		}
		p.write(")")
	case KindHold:
		p.call("hold", n.ops)
	case KindExt:
		ext := k.extension(n.ext)
		if ext == nil {
			p.call("ext"+strconv.Itoa(int(n.ext)), n.ops)
			return
		}
		if ext.Caps.String != nil {
			p.write(ext.Caps.String(k, e))
			return
		}
		p.call(ext.Name, n.ops)
	}
}

func (p *printer) sum(n *node) {
	for i, t := range n.ops {
		if i == 0 {
			p.wrap(t, precSum)
			continue
		}
		if neg, ok := p.negation(t); ok {
			p.write(" - ")
			p.wrap(neg, precProduct)
			continue
		}
		p.write(" + ")
		p.wrap(t, precProduct)
	}
}

// negation returns the positive counterpart of a term printed with a
// leading minus sign. It only builds nodes for display.
func (p *printer) negation(t Expr) (Expr, bool) {
	k := p.k
	n := k.node(t)
	if n.num != nil {
		if n.num.sign() >= 0 {
			return Expr{}, false
		}
		neg, err := k.num.neg(n.num)
		if err != nil || neg.sign() < 0 {
			return Expr{}, false
		}
		return k.numberLeaf(neg), true
	}
	if n.kind != KindMul {
		return Expr{}, false
	}
	c, rest := k.splitCoeff(t)
	if c.sign() >= 0 {
		return Expr{}, false
	}
	if c.isNegOne() {
		return rest, true
	}
	neg, err := k.num.neg(c)
	if err != nil || neg.sign() < 0 {
		return Expr{}, false
	}
	return k.scale(neg, rest), true
}

func (p *printer) product(e Expr) {
	k := p.k
	c, rest := k.splitCoeff(e)
	factors := k.node(rest).ops
	if k.node(rest).kind != KindMul {
		factors = []Expr{rest}
	}
	first := true
	switch {
	case c.isNegOne():
		p.write("-")
	case !c.isOne() || c.isFloat():
		p.write(c.format(p.base))
		first = false
	}
	for _, f := range factors {
		if !first {
			p.write("*")
		}
		first = false
		p.wrap(f, precPower)
	}
}

// name writes an identifier, quoting it when it would not lex back as the
// same bare name or, for functions, when Parse gives it another meaning.
func (p *printer) name(s string, fn bool) {
	if !plainName(s) || (fn && p.reservedFunc(s)) {
		p.write(quoteName(s))
		return
	}
	p.write(s)
}

func (p *printer) reservedFunc(s string) bool {
	if s == "hold" || s == "matrix" {
		return true
	}
	_, ext := p.k.reg.Find(s)
	return ext
}

func (p *printer) call(name string, args []Expr) {
	p.write(name)
	p.args(args)
}

func (p *printer) args(args []Expr) {
	p.write("(")
	for i, a := range args {
		if i > 0 {
			p.write(", ")
		}
		p.expr(a)
	}
	p.write(")")
}

func (p *printer) list(ops []Expr) {
	p.write("[")
	for i, a := range ops {
		if i > 0 {
			p.write(", ")
		}
		p.expr(a)
	}
	p.write("]")
}
