package symcore

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd/v3"
)

// ============================================================
// Kind
// ============================================================

// Kind is the discriminant of a node.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInteger
	KindRational
	KindFloat
	KindSymbol
	KindString
	KindBlob
	KindAdd
	KindMul
	KindPow
	KindFunc
	KindList
	KindMatrix
	KindExt
	KindHold
)

var kindNames = [...]string{
	KindInvalid:  "invalid",
	KindInteger:  "integer",
	KindRational: "rational",
	KindFloat:    "float",
	KindSymbol:   "symbol",
	KindString:   "string",
	KindBlob:     "blob",
	KindAdd:      "add",
	KindMul:      "mul",
	KindPow:      "pow",
	KindFunc:     "func",
	KindList:     "list",
	KindMatrix:   "matrix",
	KindExt:      "ext",
	KindHold:     "hold",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsNumber reports whether the kind is a numeric leaf.
func (k Kind) IsNumber() bool { return k == KindInteger || k == KindRational || k == KindFloat }

// ============================================================
// Expr: generation-checked handle
// ============================================================

// Expr is a handle to a node in a kernel arena. Handles are comparable; two
// handles are equal exactly when they name the same hash-consed node. The
// zero Expr is never valid. A handle carries the identity of the arena that
// issued it, so a handle from another kernel is rejected rather than aliased.
type Expr struct {
	arena uint32
	idx   uint32
	gen   uint32
}

// Nil reports whether e is the zero handle.
func (e Expr) Nil() bool { return e.gen == 0 }

func (e Expr) String() string { return fmt.Sprintf("#%d.%d", e.idx, e.gen) }

// node is the arena slot payload. Structural fields are immutable once the
// node is sealed; the cache fields below them are owned by the evaluator.
type node struct {
	kind  Kind
	self  Expr
	hash  uint64
	size  int
	ops   []Expr
	num   *number
	name  string
	ext   ExtID
	blob  any
	rows  int
	cols  int
	base  Flags
	state uint8

	// serial tells apart unshared nodes (blobs, unsealed instances) with
	// equal content; it survives relocation.
	serial uint64

	norm      Expr
	normEpoch uint64
	flags     Flags
	flagEpoch uint64
}

const (
	stateSealed uint8 = 1 << iota
	stateUnsealed
)

const nodeHeaderBytes = 64

func (n *node) computeSize() {
	n.size = nodeHeaderBytes + 8*len(n.ops) + len(n.name)
	if n.num != nil {
		n.size += n.num.bytes()
	}
}

// ============================================================
// Traversal
// ============================================================

// KindOf returns the discriminant of e.
func (k *Kernel) KindOf(e Expr) Kind {
	n, ok := k.lookup(e)
	if !ok {
		return KindInvalid
	}
	return n.kind
}

// NameOf returns the symbol name, function name, string value or extension
// name of e, and "" for other nodes.
func (k *Kernel) NameOf(e Expr) string {
	n, ok := k.lookup(e)
	if !ok {
		return ""
	}
	if n.kind == KindExt {
		if ext, err := k.reg.Get(n.ext); err == nil {
			return ext.Name
		}
	}
	return n.name
}

// NumOperands returns the operand count of e.
func (k *Kernel) NumOperands(e Expr) int {
	n, ok := k.lookup(e)
	if !ok {
		return 0
	}
	return len(n.ops)
}

// Operand returns the i-th operand of e.
func (k *Kernel) Operand(e Expr, i int) (Expr, error) {
	n, ok := k.lookup(e)
	if !ok {
		return Expr{}, newError(InvalidHandle, "stale handle %s", e)
	}
	if i < 0 || i >= len(n.ops) {
		return Expr{}, newError(InvalidHandle, "operand %d out of range for %s with %d operands", i, n.kind, len(n.ops))
	}
	return n.ops[i], nil
}

// Operands returns a copy of the operands of e.
func (k *Kernel) Operands(e Expr) []Expr {
	n, ok := k.lookup(e)
	if !ok {
		return nil
	}
	return append([]Expr(nil), n.ops...)
}

// RatOf returns the exact value of an integer or rational leaf.
func (k *Kernel) RatOf(e Expr) (*big.Rat, bool) {
	n, ok := k.lookup(e)
	if !ok || n.num == nil || n.num.rat == nil {
		return nil, false
	}
	return new(big.Rat).Set(n.num.rat), true
}

// DecimalOf returns the value of a float leaf.
func (k *Kernel) DecimalOf(e Expr) (*apd.Decimal, bool) {
	n, ok := k.lookup(e)
	if !ok || n.num == nil || n.num.dec == nil {
		return nil, false
	}
	return new(apd.Decimal).Set(n.num.dec), true
}

// Int64Of returns the value of an integer leaf that fits in int64.
func (k *Kernel) Int64Of(e Expr) (int64, error) {
	n, ok := k.lookup(e)
	if !ok {
		return 0, newError(InvalidHandle, "stale handle %s", e)
	}
	if n.num == nil || !n.num.isInteger() || !n.num.rat.Num().IsInt64() {
		return 0, newError(CannotConvert, "%s is not a machine integer", n.kind)
	}
	return n.num.rat.Num().Int64(), nil
}

// Payload returns the blob of a blob leaf or the payload of an extension
// instance.
func (k *Kernel) Payload(e Expr) any {
	n, ok := k.lookup(e)
	if !ok {
		return nil
	}
	return n.blob
}

// Dims returns the shape of a matrix node.
func (k *Kernel) Dims(e Expr) (rows, cols int, ok bool) {
	n, live := k.lookup(e)
	if !live || n.kind != KindMatrix {
		return 0, 0, false
	}
	return n.rows, n.cols, true
}

// IsEvaluated reports whether e is a normal form under the current
// configuration.
func (k *Kernel) IsEvaluated(e Expr) bool {
	n, ok := k.lookup(e)
	return ok && n.normEpoch == k.epoch && n.norm == e
}
