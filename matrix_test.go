package symcore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
)

// ============================================================
// Matrices
// ============================================================

func TestMatrix_Det(t *testing.T) {
	k := newKernel(t)
	d, err := k.Det(ev(t, k, "matrix([a, b], [c, d])"))
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "a*d - b*c"), d)

	d, err = k.Det(ev(t, k, "matrix([2, 0, 0], [0, 3, 0], [0, 0, 4])"))
	require.NoError(t, err)
	n, err := k.Int64Of(d)
	require.NoError(t, err)
	assert.Equal(t, int64(24), n)
}

func TestMatrix_Inverse(t *testing.T) {
	k := newKernel(t)
	m := ev(t, k, "matrix([2, 1], [1, 1])")
	inv, err := k.Inverse(m)
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "matrix([1, -1], [-1, 2])"), inv)

	id, err := k.Identity(2)
	require.NoError(t, err)
	prod, err := k.MatMul(m, inv)
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "matrix([1, 0], [0, 1])"), prod)
	idEval, err := k.Eval(id)
	require.NoError(t, err)
	assert.Equal(t, idEval, prod)
}

func TestMatrix_SingularInverse(t *testing.T) {
	k := newKernel(t)
	_, err := k.Inverse(ev(t, k, "matrix([1, 2], [2, 4])"))
	require.Error(t, err)
	assert.ErrorIs(t, err, symcore.ErrSingular)
	assert.True(t, k.Running())
}

func TestMatrix_MulIdentityAndMismatch(t *testing.T) {
	k := newKernel(t)
	m := ev(t, k, "matrix([a, b], [c, d])")
	id, err := k.Identity(2)
	require.NoError(t, err)
	out, err := k.MatMul(id, m)
	require.NoError(t, err)
	assert.Equal(t, m, out)

	_, err = k.MatMul(m, ev(t, k, "matrix([1, 2, 3])"))
	assert.ErrorIs(t, err, symcore.ErrDimension)
	_, err = k.MatAdd(m, ev(t, k, "matrix([1, 2, 3])"))
	assert.ErrorIs(t, err, symcore.ErrDimension)
	_, err = k.Det(ev(t, k, "matrix([1, 2, 3])"))
	assert.ErrorIs(t, err, symcore.ErrDimension)
}

func TestMatrix_TransposeTraceScale(t *testing.T) {
	k := newKernel(t)
	m := ev(t, k, "matrix([1, 2, 3], [4, 5, 6])")

	tr, err := k.Transpose(m)
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "matrix([1, 4], [2, 5], [3, 6])"), tr)
	rows, cols, isMatrix := k.Dims(tr)
	require.True(t, isMatrix)
	assert.Equal(t, 3, rows)
	assert.Equal(t, 2, cols)

	trace, err := k.Trace(ev(t, k, "matrix([x, 1], [2, x])"))
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "2*x"), trace)

	s, err := k.Scale(ev(t, k, "matrix([1, x])"), k.Symbol("y"))
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "matrix([y, x*y])"), s)

	sum, err := k.MatAdd(m, m)
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "matrix([2, 4, 6], [8, 10, 12])"), sum)
}

func TestMatrix_Jacobian(t *testing.T) {
	k := newKernel(t)
	x, y := k.Symbol("x"), k.Symbol("y")
	j, err := k.Jacobian([]symcore.Expr{ev(t, k, "x*y"), ev(t, k, "x + y")}, []symcore.Expr{x, y})
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "matrix([y, x], [1, 1])"), j)

	_, err = k.Jacobian(nil, []symcore.Expr{x})
	assert.ErrorIs(t, err, symcore.ErrMatrixSize)
	_, err = k.Jacobian([]symcore.Expr{x}, []symcore.Expr{k.Int(2)})
	assert.ErrorIs(t, err, symcore.ErrUnsupported)
}

func TestMatrix_InvalidSize(t *testing.T) {
	k := newKernel(t)
	_, err := k.Matrix(2, 2, k.Int(1), k.Int(2), k.Int(3))
	assert.ErrorIs(t, err, symcore.ErrMatrixSize)
	_, err = k.Identity(0)
	assert.ErrorIs(t, err, symcore.ErrMatrixSize)

	_, err = k.Parse("matrix([1, 2], [3])")
	assert.ErrorIs(t, err, symcore.ErrInvalidToken)
}
