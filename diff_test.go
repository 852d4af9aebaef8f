package symcore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
)

// ============================================================
// Differentiation
// ============================================================

func TestDiff(t *testing.T) {
	k := newKernel(t)
	tests := []struct {
		expr, by, want string
	}{
		{"x^3", "x", "3*x^2"},
		{"sin(x)", "x", "cos(x)"},
		{"exp(2*x)", "x", "2*exp(2*x)"},
		{"x*y", "y", "x"},
		{"x*y", "z", "0"},
		{"5", "x", "0"},
		{"x^2 + 3*x + 1", "x", "3 + 2*x"},
		{"ln(x)", "x", "x^(-1)"},
	}
	for _, tt := range tests {
		t.Run(tt.expr+"/"+tt.by, func(t *testing.T) {
			d, err := k.Diff(ev(t, k, tt.expr), k.Symbol(tt.by))
			require.NoError(t, err)
			assert.Equal(t, ev(t, k, tt.want), d)
		})
	}
}

func TestDiff_ChainRule(t *testing.T) {
	k := newKernel(t)
	d, err := k.Diff(ev(t, k, "sin(x^2)"), k.Symbol("x"))
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "2*x*cos(x^2)"), d)
}

func TestDiff_NonSymbolVariable(t *testing.T) {
	k := newKernel(t)
	_, err := k.Diff(ev(t, k, "x^2"), ev(t, k, "x + 1"))
	require.Error(t, err)
	assert.Equal(t, symcore.Unsupported, symcore.KindOf(err))
	assert.True(t, k.Running())
}

func TestConjugate(t *testing.T) {
	k := newKernel(t)
	x := k.Symbol("x")

	c, err := k.Conjugate(x)
	require.NoError(t, err)
	assert.Equal(t, ev(t, k, "conj(x)"), c)

	cc, err := k.Conjugate(c)
	require.NoError(t, err)
	assert.Equal(t, x, cc)

	five, err := k.Conjugate(k.Int(5))
	require.NoError(t, err)
	assert.Equal(t, k.Int(5), five)

	k.SetDomain(symcore.DomainReal)
	c, err = k.Conjugate(x)
	require.NoError(t, err)
	assert.Equal(t, x, c)
}
