package symcore_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
)

// ============================================================
// Handler stack
// ============================================================

func mismatched(t *testing.T, k *symcore.Kernel) (symcore.Expr, symcore.Expr) {
	t.Helper()
	a := ok(t)(k.Matrix(2, 2, k.Int(1), k.Int(2), k.Int(3), k.Int(4)))
	b := ok(t)(k.Matrix(3, 1, k.Int(1), k.Int(2), k.Int(3)))
	return a, b
}

func TestCatch_DimensionMismatchResumes(t *testing.T) {
	k := newKernel(t)
	a, b := mismatched(t, k)

	var caught []*symcore.Error
	var gotCtx any
	f := k.Catch(func(err *symcore.Error, ctx any) {
		caught = append(caught, err)
		gotCtx = ctx
	}, "outer")
	depth := k.Depth()

	_, err := k.MatMul(a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, symcore.ErrDimension)
	assert.Equal(t, symcore.DimensionMismatch, symcore.KindOf(err))
	require.Len(t, caught, 1)
	assert.Equal(t, "outer", gotCtx)
	assert.Equal(t, "outer", caught[0].Context)

	assert.Equal(t, depth, k.Depth())
	assert.True(t, k.Running())
	assert.Equal(t, k.Int(5), ev(t, k, "2 + 3"))
	assert.Equal(t, "2*x", str(t, k, ev(t, k, "x + x")))

	require.NoError(t, k.Uncatch(f))
}

func TestTry_ReleasesMarksOpenedInside(t *testing.T) {
	k := newKernel(t)
	calls := 0
	f := k.Catch(func(*symcore.Error, any) { calls++ }, nil)
	defer func() { require.NoError(t, k.Uncatch(f)) }()

	before := k.Usage()
	err := k.Try(func() error {
		k.Mark()
		ev(t, k, "a*b + c")
		k.Mark()
		k.Throw(symcore.DimensionMismatch, "rows %d and %d", 2, 3)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, symcore.DimensionMismatch, symcore.KindOf(err))
	assert.Contains(t, err.Error(), "rows 2 and 3")
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, k.Depth())
	assert.Equal(t, before.Bytes, k.Usage().Bytes)
}

func TestTry_ReleasesMarksOnReturnedError(t *testing.T) {
	k := newKernel(t)
	a, b := mismatched(t, k)
	before := k.Usage()

	err := k.Try(func() error {
		k.Mark()
		ev(t, k, "p*q + r")
		_, err := k.MatMul(a, b)
		return err
	})
	assert.ErrorIs(t, err, symcore.ErrDimension)
	assert.Equal(t, 0, k.Depth())
	assert.Equal(t, before.Bytes, k.Usage().Bytes)

	err = k.Try(func() error {
		k.Mark()
		return errors.New("plain")
	})
	assert.EqualError(t, err, "plain")
	assert.Equal(t, 0, k.Depth())
}

func TestCatch_ReleasesMarksOpenedAfterFrame(t *testing.T) {
	k := newKernel(t)
	a, b := mismatched(t, k)
	outer := k.Mark()
	before := k.Usage()

	calls := 0
	f := k.Catch(func(*symcore.Error, any) { calls++ }, nil)
	m := k.Mark()
	ev(t, k, "u*v + w")
	_, err := k.MatMul(a, b)
	require.ErrorIs(t, err, symcore.ErrDimension)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, k.Depth())
	assert.Equal(t, before.Bytes, k.Usage().Bytes)
	assert.ErrorIs(t, k.Release(m), symcore.ErrInvalidMark)

	require.NoError(t, k.Uncatch(f))
	require.NoError(t, k.Release(outer))
}

func TestTry_PassesThroughPlainErrors(t *testing.T) {
	k := newKernel(t)
	boom := errors.New("boom")
	err := k.Try(func() error { return boom })
	assert.Same(t, boom, err)
	assert.NoError(t, k.Try(func() error { return nil }))
}

func TestCatch_InnermostHandlerOnly(t *testing.T) {
	k := newKernel(t)
	a, b := mismatched(t, k)
	var outer, inner int
	fo := k.Catch(func(*symcore.Error, any) { outer++ }, nil)
	fi := k.Catch(func(*symcore.Error, any) { inner++ }, nil)

	_, err := k.MatMul(a, b)
	require.Error(t, err)
	assert.Equal(t, 0, outer)
	assert.Equal(t, 1, inner)

	require.NoError(t, k.Uncatch(fi))
	_, err = k.MatMul(a, b)
	require.Error(t, err)
	assert.Equal(t, 1, outer)
	require.NoError(t, k.Uncatch(fo))
}

func TestUncatch_OutOfOrder(t *testing.T) {
	k := newKernel(t)
	fo := k.Catch(nil, nil)
	fi := k.Catch(nil, nil)

	err := k.Uncatch(fo)
	assert.ErrorIs(t, err, symcore.ErrFatal)
	require.NoError(t, k.Uncatch(fi))
	require.NoError(t, k.Uncatch(fo))
	assert.ErrorIs(t, k.Uncatch(fo), symcore.ErrFatal)
}

func TestErrorsUnhandledAreReturned(t *testing.T) {
	k := newKernel(t)
	_, err := k.Parse("1 +")
	require.Error(t, err)
	assert.ErrorIs(t, err, symcore.ErrInvalidToken)
	assert.Equal(t, k.Int(5), ev(t, k, "2 + 3"))
}

// ============================================================
// Lifecycle
// ============================================================

func TestStopRestart(t *testing.T) {
	k := newKernel(t)
	x := ev(t, k, "x + 1")

	k.Stop()
	assert.False(t, k.Running())
	_, err := k.Eval(x)
	assert.ErrorIs(t, err, symcore.ErrStopped)
	assert.Equal(t, symcore.Unknown, k.IsZero(x))

	require.NoError(t, k.Restart())
	assert.True(t, k.Running())
	_, err = k.Stringify(x)
	assert.ErrorIs(t, err, symcore.ErrStaleHandle)
	assert.Equal(t, k.Int(5), ev(t, k, "2 + 3"))
}

func TestEnd(t *testing.T) {
	k, err := symcore.Start()
	require.NoError(t, err)
	k.End()
	k.End()
	assert.False(t, k.Running())
	_, err = k.ParseEval("1")
	assert.ErrorIs(t, err, symcore.ErrStopped)
}
