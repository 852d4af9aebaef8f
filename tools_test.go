package symcore_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
)

func call(k *symcore.Kernel, tool string, params map[string]any) symcore.ToolResponse {
	return symcore.HandleToolCall(k, symcore.ToolRequest{Tool: tool, Params: params})
}

func TestHandleToolCall_Expressions(t *testing.T) {
	k := newKernel(t)
	tests := []struct {
		tool   string
		params map[string]any
		want   string
	}{
		{"eval", map[string]any{"expr": "x + x + 2 + 3"}, "5 + 2*x"},
		{"diff", map[string]any{"expr": "x^2", "var": "x"}, "2*x"},
		{"subs", map[string]any{"expr": "x + y", "bindings": map[string]any{"x": "2"}}, "2 + y"},
		{"replace", map[string]any{"expr": "f(x) + x", "pattern": "x", "value": "z", "all": "true"}, "z + f(z)"},
		{"conjugate", map[string]any{"expr": "conj(y)"}, "y"},
		{"evalr", map[string]any{"expr": "0.25 + 1/4"}, "1/2"},
		{"approx", map[string]any{"expr": "1/3", "precision": 5}, "0.33333"},
		{"matrix_det", map[string]any{"matrix": "matrix([1, 2], [3, 4])"}, "-2"},
		{"matrix_trace", map[string]any{"matrix": "matrix([1, 2], [3, 4])"}, "5"},
		{"matrix_inv", map[string]any{"matrix": "matrix([2, 1], [1, 1])"}, "matrix([1, -1], [-1, 2])"},
		{"matrix_mul", map[string]any{"a": "matrix([1, 2])", "b": "matrix([3], [4])"}, "matrix([11])"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			resp := call(k, tt.tool, tt.params)
			require.Empty(t, resp.Error)
			assert.Equal(t, tt.want, resp.String)
		})
	}
	assert.Equal(t, 0, k.Depth())
}

func TestHandleToolCall_Predicates(t *testing.T) {
	k := newKernel(t)
	resp := call(k, "predicates", map[string]any{"expr": "3 + 4"})
	require.Empty(t, resp.Error)
	preds, isMap := resp.Result.(map[string]string)
	require.True(t, isMap)
	assert.Equal(t, "true", preds["prime"])
	assert.Equal(t, "true", preds["odd"])
	assert.Equal(t, "false", preds["zero"])
	assert.Equal(t, "positive", preds["sign"])
	assert.Equal(t, "7", resp.String)

	resp = call(k, "predicates", map[string]any{"expr": "y"})
	require.Empty(t, resp.Error)
	assert.Equal(t, "unknown", resp.Result.(map[string]string)["prime"])
}

func TestHandleToolCall_Match(t *testing.T) {
	k := newKernel(t)
	resp := call(k, "match", map[string]any{"expr": "f(3)", "pattern": "f(_a)"})
	require.Empty(t, resp.Error)
	out := resp.Result.(map[string]any)
	assert.Equal(t, true, out["matched"])
	assert.Equal(t, map[string]string{"_a": "3"}, out["bindings"])

	resp = call(k, "match", map[string]any{"expr": "g(3)", "pattern": "f(_a)"})
	require.Empty(t, resp.Error)
	assert.Equal(t, false, resp.Result.(map[string]any)["matched"])
}

func TestHandleToolCall_Errors(t *testing.T) {
	k := newKernel(t)

	resp := call(k, "eval", map[string]any{"expr": "x +"})
	assert.Equal(t, "invalid-token", resp.Kind)
	assert.NotEmpty(t, resp.Error)

	resp = call(k, "eval", map[string]any{})
	assert.Contains(t, resp.Error, "missing param: expr")
	assert.Empty(t, resp.Kind)

	resp = call(k, "eval", map[string]any{"expression": "x"})
	assert.Contains(t, resp.Error, "invalid params")

	resp = call(k, "diff", map[string]any{"expr": "x"})
	assert.Contains(t, resp.Error, "missing param: var")

	resp = call(k, "matrix_inv", map[string]any{"matrix": "matrix([1, 2], [2, 4])"})
	assert.Equal(t, "singular-matrix", resp.Kind)

	resp = call(k, "frobnicate", nil)
	assert.Contains(t, resp.Error, "unknown tool: frobnicate")

	k.Stop()
	resp = call(k, "eval", map[string]any{"expr": "1"})
	assert.Equal(t, "stopped", resp.Kind)
}

func TestHandleToolCall_UsageAndSpec(t *testing.T) {
	k := newKernel(t)
	resp := call(k, "usage", nil)
	require.Empty(t, resp.Error)
	usage := resp.Result.(map[string]any)
	assert.Contains(t, usage, "bytes")
	assert.Contains(t, usage, "human")
	assert.Equal(t, 2, usage["regions"])

	resp = call(k, "tool_spec", nil)
	require.Empty(t, resp.Error)
	var spec struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.String), &spec))
	var names []string
	for _, tool := range spec.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "eval")
	assert.Contains(t, names, "matrix_det")
	assert.Contains(t, names, "tool_spec")
}

func TestHandleToolCall_Extensions(t *testing.T) {
	reg := symcore.NewRegistry()
	k := newKernel(t, symcore.WithRegistry(reg))
	_, err := reg.Register(symcore.Extension{Name: "quat", Priority: 2}, symcore.Install)
	require.NoError(t, err)
	_, err = reg.Register(symcore.Extension{Name: "dual", Priority: 1}, symcore.Install)
	require.NoError(t, err)

	resp := call(k, "extensions", nil)
	require.Empty(t, resp.Error)
	assert.Equal(t, []string{"dual", "quat"}, resp.Result)
}
