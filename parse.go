package symcore

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
)

// SyntaxError locates a parse failure. Parse returns it wrapped in an
// *Error of kind invalid-token; use errors.As to reach it.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string { return fmt.Sprintf("offset %d: %s", e.Pos, e.Msg) }

// Parse reads the textual format produced by Stringify and returns the raw,
// unevaluated expression.
func (k *Kernel) Parse(text string) (Expr, error) {
	return k.buildErr(func() Expr {
		p := &parser{k: k, src: text}
		p.next()
		e := p.expr()
		if p.tok.kind != tokEOF {
			p.fail("unexpected %s", p.tok)
		}
		return e
	})
}

// ParseEval parses text and evaluates the result.
func (k *Kernel) ParseEval(text string) (Expr, error) {
	e, err := k.Parse(text)
	if err != nil {
		return Expr{}, err
	}
	return k.Eval(e)
}

// ============================================================
// Lexer
// ============================================================

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokNumber
	tokFloat
	tokIdent
	tokString
	tokOp
)

type token struct {
	kind tokKind
	text string
	pos  int
	// quoted is set for `name` identifiers, which never name a builtin form.
	quoted bool
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return strconv.Quote(t.text)
}

type parser struct {
	k   *Kernel
	src string
	off int
	tok token
}

func (p *parser) fail(format string, args ...any) {
	serr := &SyntaxError{Pos: p.tok.pos, Msg: fmt.Sprintf(format, args...)}
	p.k.throw(wrapError(InvalidToken, serr, "parse"))
}

func isIdentRune(r rune, first bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}
	return !first && unicode.IsDigit(r)
}

func isDigit(r byte) bool { return r >= '0' && r <= '9' }

func isBasedDigit(r byte) bool {
	return isDigit(r) || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// plainName reports whether s lexes as a single bare identifier.
func plainName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == utf8.RuneError || !isIdentRune(r, i == 0) {
			return false
		}
	}
	return true
}

// quoteName writes s as a `quoted` identifier, escaping backquotes and
// backslashes.
func quoteName(s string) string {
	var sb strings.Builder
	sb.WriteByte('`')
	for i := 0; i < len(s); i++ {
		if s[i] == '`' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('`')
	return sb.String()
}

func (p *parser) next() {
	src := p.src
	for p.off < len(src) {
		r, w := utf8.DecodeRuneInString(src[p.off:])
		if !unicode.IsSpace(r) {
			break
		}
		p.off += w
	}
	start := p.off
	if p.off >= len(src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}
	c := src[p.off]
	r, w := utf8.DecodeRuneInString(src[p.off:])
	switch {
	case isDigit(c) || (c == '.' && p.off+1 < len(src) && isDigit(src[p.off+1])):
		p.tok = p.number(start)
	case r != utf8.RuneError && isIdentRune(r, true):
		p.off += w
		for p.off < len(src) {
			r, w := utf8.DecodeRuneInString(src[p.off:])
			if r == utf8.RuneError || !isIdentRune(r, false) {
				break
			}
			p.off += w
		}
		p.tok = token{kind: tokIdent, text: src[start:p.off], pos: start}
	case c == '`':
		p.tok = p.quotedName(start)
	case c == '"':
		p.off++
		for p.off < len(src) && src[p.off] != '"' {
			if src[p.off] == '\\' {
				p.off++
			}
			p.off++
		}
		if p.off >= len(src) {
			p.tok = token{pos: start}
			p.fail("unterminated string")
		}
		p.off++
		p.tok = token{kind: tokString, text: src[start:p.off], pos: start}
	case strings.IndexByte("+-*/^()[],", c) >= 0:
		p.off++
		p.tok = token{kind: tokOp, text: src[start:p.off], pos: start}
	default:
		p.tok = token{pos: start}
		p.fail("unexpected character %q", r)
	}
}

// quotedName scans a `name` identifier; a backslash escapes the next byte.
func (p *parser) quotedName(start int) token {
	src := p.src
	var sb strings.Builder
	p.off++
	for p.off < len(src) && src[p.off] != '`' {
		if src[p.off] == '\\' && p.off+1 < len(src) {
			p.off++
		}
		sb.WriteByte(src[p.off])
		p.off++
	}
	if p.off >= len(src) {
		p.tok = token{pos: start}
		p.fail("unterminated quoted name")
	}
	p.off++
	if sb.Len() == 0 {
		p.tok = token{pos: start}
		p.fail("empty quoted name")
	}
	return token{kind: tokIdent, text: sb.String(), pos: start, quoted: true}
}

// number scans 123, 16#ff, 1.5, 1.5E-3 and .5 literals.
func (p *parser) number(start int) token {
	src := p.src
	for p.off < len(src) && isDigit(src[p.off]) {
		p.off++
	}
	if p.off < len(src) && src[p.off] == '#' {
		p.off++
		for p.off < len(src) && isBasedDigit(src[p.off]) {
			p.off++
		}
		return token{kind: tokNumber, text: src[start:p.off], pos: start}
	}
	kind := tokNumber
	if p.off < len(src) && src[p.off] == '.' {
		kind = tokFloat
		p.off++
		for p.off < len(src) && isDigit(src[p.off]) {
			p.off++
		}
	}
	if p.off < len(src) && (src[p.off] == 'e' || src[p.off] == 'E') {
		i := p.off + 1
		if i < len(src) && (src[i] == '+' || src[i] == '-') {
			i++
		}
		if i < len(src) && isDigit(src[i]) {
			kind = tokFloat
			for p.off = i; p.off < len(src) && isDigit(src[p.off]); p.off++ {
			}
		}
	}
	return token{kind: kind, text: src[start:p.off], pos: start}
}

func (p *parser) isOp(op string) bool { return p.tok.kind == tokOp && p.tok.text == op }

func (p *parser) expect(op string) {
	if !p.isOp(op) {
		p.fail("expected %q, found %s", op, p.tok)
	}
	p.next()
}

// ============================================================
// Grammar
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/") unary }
//	unary   = ("-" | "+") unary | power
//	power   = primary [ "^" unary ]
//	primary = number | string | ident [ "(" args ")" ] | "(" expr ")" | "[" args "]"
// ============================================================

func (p *parser) expr() Expr {
	k := p.k
	terms := []Expr{p.term()}
	for p.isOp("+") || p.isOp("-") {
		neg := p.isOp("-")
		p.next()
		t := p.term()
		if neg {
			t = p.negate(t)
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return k.rawAdd(terms)
}

func (p *parser) term() Expr {
	k := p.k
	factors := []Expr{p.unary()}
	for p.isOp("*") || p.isOp("/") {
		div := p.isOp("/")
		p.next()
		f := p.unary()
		if !div {
			factors = append(factors, f)
			continue
		}
		last := factors[len(factors)-1]
		if q, ok := p.exactQuotient(last, f); ok {
			factors[len(factors)-1] = q
			continue
		}
		factors = append(factors, k.rawPow(f, k.negOne))
	}
	if len(factors) == 1 {
		return factors[0]
	}
	return k.rawMul(factors)
}

// exactQuotient folds literal a/b into a rational leaf.
func (p *parser) exactQuotient(a, b Expr) (Expr, bool) {
	na, nb := p.k.node(a), p.k.node(b)
	if na.num == nil || nb.num == nil || na.num.isFloat() || nb.num.isFloat() || nb.num.isZero() {
		return Expr{}, false
	}
	return p.k.ratLeaf(new(big.Rat).Quo(na.num.rat, nb.num.rat)), true
}

func (p *parser) unary() Expr {
	switch {
	case p.isOp("-"):
		p.next()
		return p.negate(p.unary())
	case p.isOp("+"):
		p.next()
		return p.unary()
	}
	return p.power()
}

// negate folds the sign into numeric literals.
func (p *parser) negate(e Expr) Expr {
	k := p.k
	n := k.node(e)
	if n.num != nil {
		if n.num.isFloat() {
			return k.numberLeaf(&number{dec: new(apd.Decimal).Neg(n.num.dec), prec: n.num.prec})
		}
		return k.ratLeaf(new(big.Rat).Neg(n.num.rat))
	}
	return k.rawMul([]Expr{k.negOne, e})
}

func (p *parser) power() Expr {
	b := p.primary()
	if p.isOp("^") {
		p.next()
		return p.k.rawPow(b, p.unary())
	}
	return b
}

func (p *parser) primary() Expr {
	k := p.k
	tok := p.tok
	switch tok.kind {
	case tokNumber:
		p.next()
		z, ok := parseBasedInt(tok.text)
		if !ok {
			p.tok = tok
			p.fail("malformed integer %s", tok)
		}
		return k.ratLeaf(new(big.Rat).SetInt(z))
	case tokFloat:
		p.next()
		d, _, err := apd.NewFromString(tok.text)
		if err != nil {
			p.tok = tok
			p.fail("malformed float %s", tok)
		}
		return k.floatLeaf(d)
	case tokString:
		p.next()
		s, err := strconv.Unquote(tok.text)
		if err != nil {
			p.tok = tok
			p.fail("malformed string %s", tok)
		}
		return k.str(s)
	case tokIdent:
		p.next()
		if !p.isOp("(") {
			return k.symbol(tok.text)
		}
		p.next()
		args := p.args(")")
		return p.call(tok, args)
	case tokOp:
		switch tok.text {
		case "(":
			p.next()
			e := p.expr()
			p.expect(")")
			return e
		case "[":
			p.next()
			return k.list(p.args("]"))
		}
	}
	p.fail("unexpected %s", tok)
	return Expr{}
}

func (p *parser) args(closing string) []Expr {
	var out []Expr
	if p.isOp(closing) {
		p.next()
		return out
	}
	for {
		out = append(out, p.expr())
		if p.isOp(",") {
			p.next()
			continue
		}
		p.expect(closing)
		return out
	}
}

func (p *parser) call(name token, args []Expr) Expr {
	k := p.k
	if name.quoted {
		return k.rawFunc(name.text, args)
	}
	switch name.text {
	case "matrix":
		return p.matrix(name, args)
	case "hold":
		if len(args) != 1 {
			p.tok = name
			p.fail("hold takes one argument, got %d", len(args))
		}
		return k.hold(args[0])
	}
	if id, ok := k.reg.Find(name.text); ok {
		return k.extInstance(id, nil, args)
	}
	return k.rawFunc(name.text, args)
}

func (p *parser) matrix(name token, rows []Expr) Expr {
	k := p.k
	if len(rows) == 0 {
		p.tok = name
		p.fail("matrix needs at least one row")
	}
	cols := -1
	var entries []Expr
	for _, r := range rows {
		n := k.node(r)
		if n.kind != KindList {
			p.tok = name
			p.fail("matrix rows must be lists")
		}
		if cols >= 0 && len(n.ops) != cols {
			p.tok = name
			p.fail("ragged matrix: row of %d entries after rows of %d", len(n.ops), cols)
		}
		cols = len(n.ops)
		entries = append(entries, n.ops...)
	}
	return k.matrix(len(rows), cols, entries)
}
