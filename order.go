package symcore

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
)

// ============================================================
// Canonical order
// ============================================================

// SortFunc is a total order over expressions used to canonicalize the
// operands of sums and products.
type SortFunc func(k *Kernel, a, b Expr) int

func kindRank(kind Kind) int {
	switch kind {
	case KindInteger, KindRational, KindFloat:
		return 0
	case KindSymbol:
		return 1
	case KindString:
		return 2
	case KindBlob:
		return 3
	case KindPow:
		return 4
	case KindMul:
		return 5
	case KindAdd:
		return 6
	case KindFunc:
		return 7
	case KindExt:
		return 8
	case KindList:
		return 9
	case KindMatrix:
		return 10
	case KindHold:
		return 11
	}
	return 12
}

// Compare orders a and b canonically. It is the order used for operand
// normalization, not a mathematical comparison.
func (k *Kernel) Compare(a, b Expr) int {
	var c int
	_ = k.guard(func() { c = k.compare(a, b) })
	return c
}

func (k *Kernel) compare(a, b Expr) int {
	if a == b {
		return 0
	}
	if k.cfg.sortFn != nil {
		return k.cfg.sortFn(k, a, b)
	}
	return k.structuralCompare(a, b)
}

func (k *Kernel) structuralCompare(a, b Expr) int {
	if a == b {
		return 0
	}
	na, nb := k.node(a), k.node(b)
	if ra, rb := kindRank(na.kind), kindRank(nb.kind); ra != rb {
		return ra - rb
	}
	switch na.kind {
	case KindInteger, KindRational, KindFloat:
		return compareNumbers(na.num, nb.num)
	case KindSymbol, KindString:
		return strings.Compare(na.name, nb.name)
	case KindBlob:
		if c := comparePayload(na.blob, nb.blob); c != 0 {
			return c
		}
		return cmp.Compare(na.serial, nb.serial)
	case KindFunc:
		if c := strings.Compare(na.name, nb.name); c != 0 {
			return c
		}
	case KindExt:
		if na.ext != nb.ext {
			return int(na.ext) - int(nb.ext)
		}
	case KindMatrix:
		if na.rows != nb.rows {
			return na.rows - nb.rows
		}
		if na.cols != nb.cols {
			return na.cols - nb.cols
		}
	}
	for i := 0; i < len(na.ops) && i < len(nb.ops); i++ {
		if c := k.structuralCompare(na.ops[i], nb.ops[i]); c != 0 {
			return c
		}
	}
	if len(na.ops) != len(nb.ops) {
		return len(na.ops) - len(nb.ops)
	}
	if c := cmp.Compare(na.hash, nb.hash); c != 0 {
		return c
	}
	if c := comparePayload(na.blob, nb.blob); c != 0 {
		return c
	}
	return cmp.Compare(na.serial, nb.serial)
}

// comparePayload orders opaque payloads by type and printed value, so the
// result does not depend on where the nodes sit in the arena.
func comparePayload(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return strings.Compare(fmt.Sprintf("%T %+v", a, a), fmt.Sprintf("%T %+v", b, b))
}

func (k *Kernel) less(a, b Expr) bool { return k.compare(a, b) < 0 }

func (k *Kernel) sortExprs(es []Expr) {
	sort.SliceStable(es, func(i, j int) bool { return k.less(es[i], es[j]) })
}
