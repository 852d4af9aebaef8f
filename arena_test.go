package symcore_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
)

// ============================================================
// Mark / compact
// ============================================================

func pairwiseSum(t *testing.T, k *symcore.Kernel, terms []symcore.Expr) symcore.Expr {
	t.Helper()
	level := terms
	for len(level) > 1 {
		next := make([]symcore.Expr, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, ok(t)(k.Add(level[i], level[i+1])))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

func TestCompact_KeepsOnlyClosure(t *testing.T) {
	k := newKernel(t, symcore.WithConfig(symcore.Config{ArenaSize: "4MiB"}))
	before := k.Usage().Bytes

	m := k.Mark()
	syms := make([]symcore.Expr, 10000)
	for i := range syms {
		syms[i] = k.Symbol(fmt.Sprintf("s%05d", i))
	}
	sum := pairwiseSum(t, k, syms)
	peak := k.Usage().Bytes

	kept, err := k.Keep(m, sum)
	require.NoError(t, err)
	after := k.Usage()

	assert.Equal(t, before+k.Footprint(kept), after.Bytes)
	assert.Less(t, after.Bytes, peak)
	assert.Equal(t, 0, k.Depth())
	assert.Equal(t, symcore.KindAdd, k.KindOf(kept))
	assert.Equal(t, 10000, k.NumOperands(kept))
	assert.True(t, k.IsEvaluated(kept))

	_, err = k.Stringify(sum)
	assert.ErrorIs(t, err, symcore.ErrStaleHandle)
}

func TestCompact_SharedNodesRelocatedOnce(t *testing.T) {
	k := newKernel(t)
	before := k.Usage().Bytes
	m := k.Mark()
	shared := ev(t, k, "f(a, b)")
	left := ok(t)(k.Mul(shared, k.Symbol("c")))
	right := ok(t)(k.Add(shared, k.Symbol("d")))
	out, err := k.Compact(m, left, right)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, before+k.Footprint(out...), k.Usage().Bytes)
	lf, err := k.Operand(out[0], 0)
	require.NoError(t, err)
	rf, err := k.Operand(out[1], 1)
	require.NoError(t, err)
	if k.KindOf(lf) != symcore.KindFunc {
		lf, _ = k.Operand(out[0], 1)
	}
	if k.KindOf(rf) != symcore.KindFunc {
		rf, _ = k.Operand(out[1], 0)
	}
	assert.Equal(t, lf, rf)
}

func TestCompact_OperandsFromParentStayShared(t *testing.T) {
	k := newKernel(t)
	x := k.Symbol("x")
	m := k.Mark()
	assert.Equal(t, x, k.Symbol("x"))
	wrapped := ev(t, k, "f(x)")
	fresh := k.Symbol("fresh")
	out, err := k.Compact(m, wrapped, fresh)
	require.NoError(t, err)
	arg, err := k.Operand(out[0], 0)
	require.NoError(t, err)
	assert.Equal(t, x, arg)
	assert.Equal(t, "fresh", k.NameOf(out[1]))
}

func TestCompact_RejectsHandlesFromOutsideRegion(t *testing.T) {
	k := newKernel(t)
	outer := ev(t, k, "x + 1")
	m := k.Mark()
	inner := ev(t, k, "y + 1")
	before := k.Usage()

	_, err := k.Compact(m, inner, outer)
	require.ErrorIs(t, err, symcore.ErrStaleHandle)
	var serr *symcore.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, symcore.InvalidHandle, serr.Kind)

	// The failed call leaves the region open and untouched.
	assert.Equal(t, 1, k.Depth())
	assert.Equal(t, before.Bytes, k.Usage().Bytes)
	assert.Equal(t, "y + 1", str(t, k, inner))
	require.NoError(t, k.Release(m))
}

func TestCompact_RejectsHandlesFromAnotherKernel(t *testing.T) {
	k := newKernel(t)
	other := newKernel(t)
	foreign := other.Symbol("z")

	m := k.Mark()
	local := k.Symbol("z")
	_, err := k.Keep(m, foreign)
	assert.ErrorIs(t, err, symcore.ErrStaleHandle)
	_, err = k.Stringify(foreign)
	assert.ErrorIs(t, err, symcore.ErrStaleHandle)

	kept, err := k.Keep(m, local)
	require.NoError(t, err)
	assert.Equal(t, "z", str(t, k, kept))
	assert.Equal(t, "z", str(t, other, foreign))
}

func TestRelease_RestoresUsage(t *testing.T) {
	k := newKernel(t)
	before := k.Usage()
	m := k.Mark()
	ev(t, k, "(a + b + c)*(d + e)")
	assert.Greater(t, k.Usage().Bytes, before.Bytes)
	require.NoError(t, k.Release(m))
	assert.Equal(t, before.Bytes, k.Usage().Bytes)
	assert.Equal(t, before.Regions, k.Usage().Regions)
}

func TestMarks_LIFO(t *testing.T) {
	k := newKernel(t)
	outer := k.Mark()
	inner := k.Mark()
	assert.Equal(t, 2, k.Depth())

	err := k.Release(outer)
	assert.ErrorIs(t, err, symcore.ErrInvalidMark)
	assert.Equal(t, 2, k.Depth())

	require.NoError(t, k.Release(inner))
	assert.ErrorIs(t, k.Release(inner), symcore.ErrInvalidMark)
	require.NoError(t, k.Release(outer))
	assert.Equal(t, 0, k.Depth())
}

func TestChain(t *testing.T) {
	k := newKernel(t)
	m := k.Mark()
	acc := k.Int(0)
	for i := 0; i < 5; i++ {
		next := ok(t)(k.Add(acc, k.Symbol(fmt.Sprintf("t%d", i))))
		var kept []symcore.Expr
		var err error
		m, kept, err = k.Chain(m, next)
		require.NoError(t, err)
		acc = kept[0]
	}
	assert.Equal(t, 1, k.Depth())
	assert.Equal(t, 5, k.NumOperands(acc))
	require.NoError(t, k.Release(m))
}

// ============================================================
// Hash-consing across regions
// ============================================================

func TestSiblingRegions_DistinctNodes(t *testing.T) {
	k := newKernel(t)
	m1 := k.Mark()
	a := k.Symbol("q")
	assert.Equal(t, a, k.Symbol("q"))
	require.NoError(t, k.Release(m1))

	m2 := k.Mark()
	b := k.Symbol("q")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "q", str(t, k, b))
	_, err := k.Stringify(a)
	assert.ErrorIs(t, err, symcore.ErrStaleHandle)
	require.NoError(t, k.Release(m2))
}

func TestLookupWalksParentRegions(t *testing.T) {
	k := newKernel(t)
	outer := ev(t, k, "x + y")
	m := k.Mark()
	assert.Equal(t, outer, ev(t, k, "y + x"))
	require.NoError(t, k.Release(m))
	assert.Equal(t, "x + y", str(t, k, outer))
}

func TestArenaLimit(t *testing.T) {
	k := newKernel(t, symcore.WithConfig(symcore.Config{MaxArenaBytes: "16KiB"}))
	m := k.Mark()
	var err error
	for i := 0; i < 10000 && err == nil; i++ {
		_, err = k.ParseEval(fmt.Sprintf("g%d(%d)", i, i))
	}
	assert.ErrorIs(t, err, symcore.ErrOutOfMemory)
	require.NoError(t, k.Release(m))
	n, err := k.Int64Of(ev(t, k, "2 + 3"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestCompare_BlobsStableAcrossRelocation(t *testing.T) {
	k := newKernel(t)
	m := k.Mark()
	beta := k.Blob("beta")
	alpha := k.Blob("alpha")
	first := k.Blob("same")
	second := k.Blob("same")

	assert.Positive(t, k.Compare(beta, alpha))
	assert.Negative(t, k.Compare(first, second))

	// Keeping them in reverse order relocates second before first.
	out, err := k.Compact(m, second, first, alpha, beta)
	require.NoError(t, err)
	second, first, alpha, beta = out[0], out[1], out[2], out[3]

	assert.Positive(t, k.Compare(beta, alpha))
	assert.Negative(t, k.Compare(first, second))
	assert.Equal(t, "alpha", k.Payload(alpha))
	assert.Zero(t, k.Compare(first, first))
}
