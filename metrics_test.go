package symcore_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
)

// sample returns the value of the first series of family name whose labels
// include label=value, or of the first series when label is empty.
func sample(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				if c := m.GetCounter(); c != nil {
					return c.GetValue()
				}
				if g := m.GetGauge(); g != nil {
					return g.GetValue()
				}
				return float64(m.GetHistogram().GetSampleCount())
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMetrics_RecordsKernelActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := symcore.NewMetrics(reg)
	require.NoError(t, err)
	k := newKernel(t, symcore.WithMetrics(m))

	mark := k.Mark()
	ev(t, k, "x + x + y")
	_, err = k.ParseEval("x +")
	require.Error(t, err)
	_, err = k.MatMul(ev(t, k, "matrix([1, 2])"), ev(t, k, "matrix([1, 2])"))
	require.Error(t, err)
	require.NoError(t, k.Release(mark))

	assert.Greater(t, sample(t, reg, "symcore_node_allocations_total", "", ""), 0.0)
	assert.Greater(t, sample(t, reg, "symcore_node_allocated_bytes_total", "", ""), 0.0)
	assert.Greater(t, sample(t, reg, "symcore_evaluations_total", "outcome", "ok"), 0.0)
	assert.Equal(t, 1.0, sample(t, reg, "symcore_errors_total", "kind", "invalid-token"))
	assert.Equal(t, 1.0, sample(t, reg, "symcore_errors_total", "kind", "dimension-mismatch"))
	assert.Greater(t, sample(t, reg, "symcore_compactions_total", "", ""), 0.0)
	assert.Greater(t, sample(t, reg, "symcore_eval_duration_seconds", "", ""), 0.0)
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := symcore.NewMetrics(reg)
	require.NoError(t, err)
	_, err = symcore.NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_SharedByPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := symcore.NewMetrics(reg)
	require.NoError(t, err)
	p, err := symcore.NewPool(symcore.DefaultConfig(), 2, symcore.WithMetrics(m))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.EvalAll(context.Background(), []string{"1 + 2", "a*a", "sin(0)"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sample(t, reg, "symcore_evaluations_total", "outcome", "ok"), 3.0)
}
