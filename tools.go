package symcore

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ============================================================
// MCP Tool Interface
// ============================================================

type ToolRequest struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

type ToolResponse struct {
	Result any    `json:"result,omitempty"`
	String string `json:"string,omitempty"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// toolParams is the union of every tool's parameters. Expressions travel in
// the Stringify text format.
type toolParams struct {
	Expr      string            `mapstructure:"expr"`
	Var       string            `mapstructure:"var"`
	Pattern   string            `mapstructure:"pattern"`
	Value     string            `mapstructure:"value"`
	All       bool              `mapstructure:"all"`
	Bindings  map[string]string `mapstructure:"bindings"`
	Base      int               `mapstructure:"base"`
	Precision uint32            `mapstructure:"precision"`
	Rounding  string            `mapstructure:"rounding"`
	Matrix    string            `mapstructure:"matrix"`
	A         string            `mapstructure:"a"`
	B         string            `mapstructure:"b"`
}

func decodeParams(in map[string]any) (toolParams, error) {
	var p toolParams
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(in); err != nil {
		return p, fmt.Errorf("invalid params: %w", err)
	}
	return p, nil
}

func toolError(err error) ToolResponse {
	resp := ToolResponse{Error: err.Error()}
	if kind := KindOf(err); kind != 0 {
		resp.Kind = kind.String()
	}
	return resp
}

// HandleToolCall runs one tool call on k. Everything the call allocates is
// released before it returns; results leave as text.
func HandleToolCall(k *Kernel, req ToolRequest) ToolResponse {
	params, err := decodeParams(req.Params)
	if err != nil {
		return toolError(err)
	}
	if !k.Running() {
		return toolError(newError(Stopped, "kernel is not running"))
	}
	m := k.Mark()
	defer func() {
		if err := k.Release(m); err != nil {
			k.log.Warn("failed to release tool region", "tool", req.Tool, "err", err)
		}
	}()

	getExpr := func(key, text string) (Expr, error) {
		if text == "" {
			return Expr{}, fmt.Errorf("missing param: %s", key)
		}
		return k.Parse(text)
	}
	getSymbol := func(key, name string) (Expr, error) {
		if name == "" {
			return Expr{}, fmt.Errorf("missing param: %s", key)
		}
		return k.Symbol(name), nil
	}
	reply := func(e Expr, err error) ToolResponse {
		if err != nil {
			return toolError(err)
		}
		s, err := k.Stringify(e)
		if err != nil {
			return toolError(err)
		}
		return ToolResponse{String: s}
	}
	unary := func(fn func(Expr) (Expr, error)) ToolResponse {
		e, err := getExpr("expr", params.Expr)
		if err != nil {
			return toolError(err)
		}
		return reply(fn(e))
	}
	binary := func(fn func(x, y Expr) (Expr, error)) ToolResponse {
		x, err := getExpr("a", params.A)
		if err != nil {
			return toolError(err)
		}
		y, err := getExpr("b", params.B)
		if err != nil {
			return toolError(err)
		}
		return reply(fn(x, y))
	}

	switch req.Tool {
	case "eval":
		return unary(k.Eval)
	case "evalf":
		return unary(k.Evalf)
	case "evalr":
		return unary(k.Evalr)
	case "conjugate":
		return unary(k.Conjugate)
	case "approx":
		e, err := getExpr("expr", params.Expr)
		if err != nil {
			return toolError(err)
		}
		r := k.Rounding()
		if params.Rounding != "" {
			if r, err = ParseRounding(params.Rounding); err != nil {
				return toolError(err)
			}
		}
		s, err := k.Approx(e, params.Base, params.Precision, r)
		if err != nil {
			return toolError(err)
		}
		return ToolResponse{String: s}
	case "diff":
		x, err := getSymbol("var", params.Var)
		if err != nil {
			return toolError(err)
		}
		return unary(func(e Expr) (Expr, error) { return k.Diff(e, x) })
	case "subs":
		if len(params.Bindings) == 0 {
			return toolError(fmt.Errorf("missing param: bindings"))
		}
		bs := make([]Binding, 0, len(params.Bindings))
		for from, to := range params.Bindings {
			f, err := k.Parse(from)
			if err != nil {
				return toolError(err)
			}
			t, err := k.Parse(to)
			if err != nil {
				return toolError(err)
			}
			bs = append(bs, Binding{From: f, To: t})
		}
		return unary(func(e Expr) (Expr, error) { return k.Subs(e, bs...) })
	case "replace":
		p, err := getExpr("pattern", params.Pattern)
		if err != nil {
			return toolError(err)
		}
		v, err := getExpr("value", params.Value)
		if err != nil {
			return toolError(err)
		}
		return unary(func(e Expr) (Expr, error) { return k.Replace(e, p, v, params.All) })
	case "match":
		e, err := getExpr("expr", params.Expr)
		if err != nil {
			return toolError(err)
		}
		p, err := getExpr("pattern", params.Pattern)
		if err != nil {
			return toolError(err)
		}
		b, ok, err := k.Match(e, p, nil)
		if err != nil {
			return toolError(err)
		}
		out := map[string]any{"matched": ok}
		if ok {
			vals := make(map[string]string, len(b))
			for name, v := range b {
				vals[name] = k.MustString(v)
			}
			out["bindings"] = vals
		}
		return ToolResponse{Result: out}
	case "predicates":
		e, err := getExpr("expr", params.Expr)
		if err != nil {
			return toolError(err)
		}
		if e, err = k.Eval(e); err != nil {
			return toolError(err)
		}
		return ToolResponse{
			Result: map[string]string{
				"zero":     k.IsZero(e).String(),
				"one":      k.IsOne(e).String(),
				"positive": k.IsPositive(e).String(),
				"negative": k.IsNegative(e).String(),
				"even":     k.IsEven(e).String(),
				"odd":      k.IsOdd(e).String(),
				"prime":    k.IsPrime(e).String(),
				"rational": k.IsRational(e).String(),
				"integer":  k.IsInteger(e).String(),
				"real":     k.IsReal(e).String(),
				"sign":     k.SignOf(e).String(),
				"flags":    k.FlagsOf(e).String(),
			},
			String: k.MustString(e),
		}
	case "matrix_det":
		return reply(k.withMatrix(params.Matrix, k.Det))
	case "matrix_inv":
		return reply(k.withMatrix(params.Matrix, k.Inverse))
	case "matrix_trace":
		return reply(k.withMatrix(params.Matrix, k.Trace))
	case "matrix_mul":
		return binary(k.MatMul)
	case "usage":
		u := k.Usage()
		return ToolResponse{Result: map[string]any{
			"bytes":       u.Bytes,
			"human":       HumanSize(u.Bytes),
			"peak":        HumanSize(u.PeakBytes),
			"nodes":       u.Nodes,
			"regions":     u.Regions,
			"allocs":      u.Allocs,
			"compactions": u.Compactions,
		}}
	case "extensions":
		exts := k.Registry().List()
		names := make([]string, len(exts))
		for i, ext := range exts {
			names[i] = ext.Name
		}
		return ToolResponse{Result: names}
	case "tool_spec":
		return ToolResponse{String: ToolSpec()}
	}
	return toolError(fmt.Errorf("unknown tool: %s", req.Tool))
}

func (k *Kernel) withMatrix(text string, fn func(Expr) (Expr, error)) (Expr, error) {
	if text == "" {
		return Expr{}, fmt.Errorf("missing param: matrix")
	}
	m, err := k.Parse(text)
	if err != nil {
		return Expr{}, err
	}
	return fn(m)
}

// ToolSpec returns the JSON schema of every tool for agent registration.
func ToolSpec() string {
	expr := map[string]string{"expr": "string"}
	tools := []map[string]any{
		ts("eval", "Evaluate an expression to canonical form", []string{"expr"}, expr),
		ts("evalf", "Evaluate with floating-point leaves at the working precision", []string{"expr"}, expr),
		ts("evalr", "Evaluate numerically, then convert floats to exact rationals", []string{"expr"}, expr),
		ts("approx", "Numeric approximation. Optional: base, precision, rounding", []string{"expr"},
			map[string]string{"expr": "string", "base": "integer", "precision": "integer", "rounding": "string"}),
		ts("diff", "Derivative d/dvar", []string{"expr", "var"}, map[string]string{"expr": "string", "var": "string"}),
		ts("subs", "Simultaneous substitution. bindings={from: to}", []string{"expr", "bindings"},
			map[string]string{"expr": "string", "bindings": "object"}),
		ts("replace", "Replace pattern with value, first occurrence unless all", []string{"expr", "pattern", "value"},
			map[string]string{"expr": "string", "pattern": "string", "value": "string", "all": "boolean"}),
		ts("match", "Match expr against a pattern with _-prefixed wildcards", []string{"expr", "pattern"},
			map[string]string{"expr": "string", "pattern": "string"}),
		ts("conjugate", "Complex conjugate", []string{"expr"}, expr),
		ts("predicates", "Tri-state predicates and proven flags", []string{"expr"}, expr),
		ts("matrix_det", "Matrix determinant. matrix=\"matrix([a, b], [c, d])\"", []string{"matrix"}, map[string]string{"matrix": "string"}),
		ts("matrix_inv", "Symbolic matrix inverse", []string{"matrix"}, map[string]string{"matrix": "string"}),
		ts("matrix_trace", "Matrix trace", []string{"matrix"}, map[string]string{"matrix": "string"}),
		ts("matrix_mul", "Matrix multiply a*b", []string{"a", "b"}, map[string]string{"a": "string", "b": "string"}),
		ts("usage", "Arena occupancy of the worker", []string{}, map[string]string{}),
		ts("extensions", "Registered extensions by priority", []string{}, map[string]string{}),
		ts("tool_spec", "Return this tool schema", []string{}, map[string]string{}),
	}
	spec := map[string]any{"tools": tools}
	b, _ := json.MarshalIndent(spec, "", "  ")
	return string(b)
}

func ts(name, description string, required []string, props map[string]string) map[string]any {
	properties := map[string]any{}
	for k, typ := range props {
		properties[k] = map[string]any{"type": typ}
	}
	return map[string]any{
		"name":        name,
		"description": description,
		"inputSchema": map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}
