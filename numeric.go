package symcore

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// ============================================================
// number: leaf payload
// ============================================================

// number is either exact (rat) or a decimal float rounded at prec digits.
type number struct {
	rat  *big.Rat
	dec  *apd.Decimal
	prec uint32
}

var (
	errPowerTooLarge = errors.New("exact power too large")
	decimalOne       = apd.New(1, 0)
)

// Exact powers whose result would exceed this many bits stay symbolic.
const maxExactPowerBits = 1 << 22

func exactNumber(r *big.Rat) *number { return &number{rat: r} }
func intNumber(n int64) *number       { return &number{rat: new(big.Rat).SetInt64(n)} }

func (n *number) isFloat() bool   { return n.dec != nil }
func (n *number) isInteger() bool { return n.rat != nil && n.rat.IsInt() }
func (n *number) isZero() bool    { return n.sign() == 0 }
func (n *number) isOne() bool     { return n.rat != nil && n.rat.IsInt() && n.rat.Num().IsInt64() && n.rat.Num().Int64() == 1 }
func (n *number) isNegOne() bool  { return n.rat != nil && n.rat.IsInt() && n.rat.Num().IsInt64() && n.rat.Num().Int64() == -1 }

func (n *number) sign() int {
	if n.dec != nil {
		return n.dec.Sign()
	}
	return n.rat.Sign()
}

func (n *number) kind() Kind {
	switch {
	case n.dec != nil:
		return KindFloat
	case n.rat.IsInt():
		return KindInteger
	}
	return KindRational
}

func (n *number) flags() Flags {
	var f Flags
	switch s := n.sign(); {
	case s > 0:
		f |= FlagPositive
	case s < 0:
		f |= FlagNegative
	default:
		f |= FlagZero
	}
	if n.dec != nil {
		return Close(f | FlagReal)
	}
	f |= FlagRational
	if n.rat.IsInt() {
		f |= FlagInteger
		z := n.rat.Num()
		if z.Bit(0) == 0 {
			f |= FlagEven
		} else {
			f |= FlagOdd
		}
		if z.Sign() > 0 && z.BitLen() <= 4096 && z.ProbablyPrime(20) {
			f |= FlagPrime
		}
	}
	return Close(f)
}

// key is the interning key of the value. Floats carry their precision so
// leaves rounded under different configurations never merge.
func (n *number) key() string {
	if n.dec != nil {
		return "f" + strconv.FormatUint(uint64(n.prec), 10) + ":" + n.dec.String()
	}
	return "q" + n.rat.RatString()
}

func (n *number) equal(o *number) bool {
	if (n.dec == nil) != (o.dec == nil) {
		return false
	}
	if n.dec != nil {
		return n.prec == o.prec && n.dec.Cmp(o.dec) == 0
	}
	return n.rat.Cmp(o.rat) == 0
}

func (n *number) bytes() int {
	if n.dec != nil {
		return 32 + len(n.dec.String())
	}
	return 16 + 8*(len(n.rat.Num().Bits())+len(n.rat.Denom().Bits()))
}

func compareNumbers(a, b *number) int {
	switch {
	case a.dec == nil && b.dec == nil:
		return a.rat.Cmp(b.rat)
	case a.dec != nil && b.dec != nil:
		if c := a.dec.Cmp(b.dec); c != 0 {
			return c
		}
		return cmpUint(a.prec, b.prec)
	}
	ra, rb := a.rat, b.rat
	if ra == nil {
		ra, _ = ratOfDecimal(a.dec)
	}
	if rb == nil {
		rb, _ = ratOfDecimal(b.dec)
	}
	if ra != nil && rb != nil {
		if c := ra.Cmp(rb); c != 0 {
			return c
		}
	}
	if a.dec == nil {
		return -1
	}
	return 1
}

func cmpUint(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func ratOfDecimal(d *apd.Decimal) (*big.Rat, error) {
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("decimal %s is not finite", d.String())
	}
	r, ok := new(big.Rat).SetString(d.Text('f'))
	if !ok {
		return nil, fmt.Errorf("decimal %s has no rational form", d.String())
	}
	return r, nil
}

// ============================================================
// numCtx: arithmetic under the kernel configuration
// ============================================================

type numCtx struct {
	apd *apd.Context
	mod *big.Int
}

func newNumCtx(prec uint32, r Rounding, mod *big.Int) numCtx {
	c := apd.BaseContext.WithPrecision(prec)
	c.Rounding = r.rounder()
	return numCtx{apd: c, mod: mod}
}

// exact normalizes an exact value, reducing it when a modulus is set.
func (c numCtx) exact(r *big.Rat) (*number, error) {
	if c.mod == nil {
		return exactNumber(r), nil
	}
	num := new(big.Int).Mod(r.Num(), c.mod)
	if !r.IsInt() {
		den := new(big.Int).Mod(r.Denom(), c.mod)
		inv := new(big.Int).ModInverse(den, c.mod)
		if inv == nil {
			return nil, errNotInvertibleMod
		}
		num.Mul(num, inv).Mod(num, c.mod)
	}
	return exactNumber(new(big.Rat).SetInt(num)), nil
}

func (c numCtx) float(d *apd.Decimal) (*number, error) {
	if c.mod != nil {
		return nil, errFloatUnderModulus
	}
	out := new(apd.Decimal)
	if _, err := c.apd.Round(out, d); err != nil {
		return nil, err
	}
	out.Reduce(out)
	return &number{dec: out, prec: c.apd.Precision}, nil
}

func (c numCtx) toDecimal(a *number) (*apd.Decimal, error) {
	if a.dec != nil {
		return a.dec, nil
	}
	num, _, err := apd.NewFromString(a.rat.Num().String())
	if err != nil {
		return nil, err
	}
	if a.rat.IsInt() {
		return num, nil
	}
	den, _, err := apd.NewFromString(a.rat.Denom().String())
	if err != nil {
		return nil, err
	}
	out := new(apd.Decimal)
	if _, err := c.apd.Quo(out, num, den); err != nil {
		return nil, err
	}
	return out, nil
}

func (c numCtx) toFloat(a *number) (*number, error) {
	if a.dec != nil && a.prec == c.apd.Precision {
		return a, nil
	}
	d, err := c.toDecimal(a)
	if err != nil {
		return nil, err
	}
	return c.float(d)
}

func (c numCtx) binary(a, b *number, exact func(z, x, y *big.Rat) *big.Rat, dec func(d, x, y *apd.Decimal) (apd.Condition, error)) (*number, error) {
	if a.dec == nil && b.dec == nil {
		return c.exact(exact(new(big.Rat), a.rat, b.rat))
	}
	x, err := c.toDecimal(a)
	if err != nil {
		return nil, err
	}
	y, err := c.toDecimal(b)
	if err != nil {
		return nil, err
	}
	out := new(apd.Decimal)
	if _, err := dec(out, x, y); err != nil {
		return nil, err
	}
	return c.float(out)
}

func (c numCtx) add(a, b *number) (*number, error) {
	return c.binary(a, b, (*big.Rat).Add, c.apd.Add)
}

func (c numCtx) mul(a, b *number) (*number, error) {
	return c.binary(a, b, (*big.Rat).Mul, c.apd.Mul)
}

func (c numCtx) neg(a *number) (*number, error) {
	if a.dec != nil {
		return c.float(new(apd.Decimal).Neg(a.dec))
	}
	return c.exact(new(big.Rat).Neg(a.rat))
}

func (c numCtx) inv(a *number) (*number, error) {
	if a.isZero() {
		return nil, errDivisionByZero
	}
	if a.dec != nil {
		out := new(apd.Decimal)
		if _, err := c.apd.Quo(out, apd.New(1, 0), a.dec); err != nil {
			return nil, err
		}
		return c.float(out)
	}
	return c.exact(new(big.Rat).Inv(a.rat))
}

// powInt raises a to an integer power.
func (c numCtx) powInt(a *number, e *big.Int) (*number, error) {
	if a.dec != nil {
		out := new(apd.Decimal)
		ed, _, err := apd.NewFromString(e.String())
		if err != nil {
			return nil, err
		}
		if _, err := c.apd.Pow(out, a.dec, ed); err != nil {
			return nil, err
		}
		return c.float(out)
	}
	if e.Sign() < 0 {
		inv, err := c.inv(a)
		if err != nil {
			return nil, err
		}
		return c.powInt(inv, new(big.Int).Neg(e))
	}
	if c.mod != nil && a.rat.IsInt() {
		return c.exact(new(big.Rat).SetInt(new(big.Int).Exp(a.rat.Num(), e, c.mod)))
	}
	bits := a.rat.Num().BitLen() + a.rat.Denom().BitLen()
	if !e.IsInt64() || e.Int64()*int64(bits) > maxExactPowerBits {
		return nil, errPowerTooLarge
	}
	num := new(big.Int).Exp(a.rat.Num(), e, nil)
	den := new(big.Int).Exp(a.rat.Denom(), e, nil)
	return c.exact(new(big.Rat).SetFrac(num, den))
}

// powFloat computes a^b when either side is a float.
func (c numCtx) powFloat(a, b *number) (*number, bool) {
	x, err := c.toDecimal(a)
	if err != nil {
		return nil, false
	}
	y, err := c.toDecimal(b)
	if err != nil {
		return nil, false
	}
	out := new(apd.Decimal)
	if _, err := c.apd.Pow(out, x, y); err != nil {
		return nil, false
	}
	n, err := c.float(out)
	return n, err == nil
}

// root returns the exact q-th root of a, if a is an exact perfect power.
func (c numCtx) root(a *number, q int64) (*number, bool) {
	if a.dec != nil || q < 2 || c.mod != nil {
		return nil, false
	}
	neg := a.rat.Sign() < 0
	if neg && q%2 == 0 {
		return nil, false
	}
	num := new(big.Int).Abs(a.rat.Num())
	rn, ok := intRoot(num, q)
	if !ok {
		return nil, false
	}
	rd, ok := intRoot(a.rat.Denom(), q)
	if !ok {
		return nil, false
	}
	if neg {
		rn.Neg(rn)
	}
	return exactNumber(new(big.Rat).SetFrac(rn, rd)), true
}

func intRoot(n *big.Int, q int64) (*big.Int, bool) {
	if n.Sign() == 0 {
		return new(big.Int), true
	}
	if q == 2 {
		r := new(big.Int).Sqrt(n)
		return r, new(big.Int).Mul(r, r).Cmp(n) == 0
	}
	lo, hi := big.NewInt(1), new(big.Int).Lsh(big.NewInt(1), uint(n.BitLen()/int(q)+1))
	e := big.NewInt(q)
	for lo.Cmp(hi) <= 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		p := new(big.Int).Exp(mid, e, nil)
		switch p.Cmp(n) {
		case 0:
			return mid, true
		case -1:
			lo = mid.Add(mid, big.NewInt(1))
		default:
			hi = mid.Sub(mid, big.NewInt(1))
		}
	}
	return nil, false
}

// floatFunc evaluates a builtin function on a float argument.
func (c numCtx) floatFunc(id FuncID, a *number) (*number, bool) {
	x, err := c.toDecimal(a)
	if err != nil {
		return nil, false
	}
	out := new(apd.Decimal)
	switch id {
	case FuncExp:
		_, err = c.apd.Exp(out, x)
	case FuncLn:
		if x.Sign() <= 0 {
			return nil, false
		}
		_, err = c.apd.Ln(out, x)
	case FuncAbs:
		out.Abs(x)
	case FuncFloor:
		_, err = c.apd.Floor(out, x)
	case FuncCeil:
		_, err = c.apd.Ceil(out, x)
	case FuncSign:
		out.SetInt64(int64(x.Sign()))
	case FuncConj:
		out.Set(x)
	default:
		f, ferr := x.Float64()
		if ferr != nil {
			return nil, false
		}
		v := float64Func(id, f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		if _, err := out.SetFloat64(v); err != nil {
			return nil, false
		}
	}
	if err != nil {
		return nil, false
	}
	n, err := c.float(out)
	return n, err == nil
}

func float64Func(id FuncID, v float64) float64 {
	switch id {
	case FuncSin:
		return math.Sin(v)
	case FuncCos:
		return math.Cos(v)
	case FuncTan:
		return math.Tan(v)
	case FuncAsin:
		return math.Asin(v)
	case FuncAcos:
		return math.Acos(v)
	case FuncAtan:
		return math.Atan(v)
	case FuncSinh:
		return math.Sinh(v)
	case FuncCosh:
		return math.Cosh(v)
	case FuncTanh:
		return math.Tanh(v)
	case FuncAsinh:
		return math.Asinh(v)
	case FuncAcosh:
		return math.Acosh(v)
	case FuncAtanh:
		return math.Atanh(v)
	}
	return math.NaN()
}

// ============================================================
// Constants
// ============================================================

const piDigits = "3.14159265358979323846264338327950288419716939937510582097494459230781640628620899862803482534211706798214808651328230664709384460955058223172535940812848111745028410270193852110555964462294895493038196"

func (c numCtx) constant(name string) (*number, bool) {
	switch name {
	case constPi:
		d, _, err := apd.NewFromString(piDigits)
		if err != nil {
			return nil, false
		}
		n, err := c.float(d)
		return n, err == nil
	case constE:
		out := new(apd.Decimal)
		if _, err := c.apd.Exp(out, apd.New(1, 0)); err != nil {
			return nil, false
		}
		n, err := c.float(out)
		return n, err == nil
	}
	return nil, false
}

// ============================================================
// Text
// ============================================================

func formatInt(z *big.Int, base int) string {
	if base == 10 {
		return z.String()
	}
	if z.Sign() < 0 {
		return "-" + strconv.Itoa(base) + "#" + new(big.Int).Neg(z).Text(base)
	}
	return strconv.Itoa(base) + "#" + z.Text(base)
}

func (n *number) format(base int) string {
	if n.dec != nil {
		s := n.dec.String()
		if !strings.ContainsAny(s, ".EeIN") {
			s += ".0"
		}
		return s
	}
	if n.rat.IsInt() {
		return formatInt(n.rat.Num(), base)
	}
	return formatInt(n.rat.Num(), base) + "/" + formatInt(n.rat.Denom(), base)
}

// parseBasedInt parses "16#ff" style literals.
func parseBasedInt(s string) (*big.Int, bool) {
	i := strings.IndexByte(s, '#')
	if i < 0 {
		z, ok := new(big.Int).SetString(s, 10)
		return z, ok
	}
	base, err := strconv.Atoi(s[:i])
	if err != nil || base < 2 || base > 36 {
		return nil, false
	}
	return new(big.Int).SetString(s[i+1:], base)
}
