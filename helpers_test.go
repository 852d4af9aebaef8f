package symcore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
)

func newKernel(t *testing.T, opts ...symcore.Option) *symcore.Kernel {
	t.Helper()
	k, err := symcore.Start(opts...)
	require.NoError(t, err)
	t.Cleanup(k.End)
	return k
}

// ev parses and evaluates text, failing the test on error.
func ev(t *testing.T, k *symcore.Kernel, text string) symcore.Expr {
	t.Helper()
	e, err := k.ParseEval(text)
	require.NoError(t, err, text)
	return e
}

func str(t *testing.T, k *symcore.Kernel, e symcore.Expr) string {
	t.Helper()
	s, err := k.Stringify(e)
	require.NoError(t, err)
	return s
}

// ok unwraps an (Expr, error) pair: ok(t)(k.Add(a, b)).
func ok(t *testing.T) func(symcore.Expr, error) symcore.Expr {
	return func(e symcore.Expr, err error) symcore.Expr {
		t.Helper()
		require.NoError(t, err)
		return e
	}
}
