package symcore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
)

// ============================================================
// Extension registry
// ============================================================

func TestExtension_PartialCapabilities(t *testing.T) {
	reg := symcore.NewRegistry()
	k := newKernel(t, symcore.WithRegistry(reg))

	zeroCalls := 0
	id, err := reg.Register(symcore.Extension{
		Name: "foo",
		Caps: symcore.Capabilities{
			Zero: func(*symcore.Kernel, symcore.Expr) symcore.Tri {
				zeroCalls++
				return symcore.False
			},
		},
	}, symcore.Install)
	require.NoError(t, err)

	x := k.Symbol("x")
	inst, err := k.Construct(id, 1)
	require.NoError(t, err)
	require.NoError(t, k.SetOperand(inst, 0, x))

	out, err := k.Eval(inst)
	require.NoError(t, err)
	assert.Greater(t, zeroCalls, 0)
	assert.Equal(t, symcore.KindExt, k.KindOf(out))
	assert.Equal(t, symcore.False, k.IsZero(out))
	gotID, isExt := k.ExtOf(out)
	require.True(t, isExt)
	assert.Equal(t, id, gotID)

	_, err = k.Diff(out, x)
	require.Error(t, err)
	assert.Equal(t, symcore.Unsupported, symcore.KindOf(err))
	assert.True(t, k.Running())

	assert.Equal(t, "foo(x)", str(t, k, out))
	assert.Equal(t, out, ev(t, k, "foo(x)"))
}

func TestExtension_SetOperandAfterSealFails(t *testing.T) {
	reg := symcore.NewRegistry()
	k := newKernel(t, symcore.WithRegistry(reg))
	id, err := reg.Register(symcore.Extension{Name: "box"}, symcore.Install)
	require.NoError(t, err)

	inst, err := k.Construct(id, 1)
	require.NoError(t, err)
	sealed, err := k.Seal(inst)
	require.NoError(t, err)
	assert.ErrorIs(t, k.SetOperand(sealed, 0, k.Int(1)), symcore.ErrFatal)
	assert.ErrorIs(t, k.SetOperand(inst, 3, k.Int(1)), symcore.ErrStaleHandle)
}

func TestExtension_FoldsInstancesInSums(t *testing.T) {
	reg := symcore.NewRegistry()
	k := newKernel(t, symcore.WithRegistry(reg))
	var id symcore.ExtID
	id, err := reg.Register(symcore.Extension{
		Name: "tag",
		Caps: symcore.Capabilities{
			Add: func(k *symcore.Kernel, a, b symcore.Expr) (symcore.Expr, bool) {
				x, err := k.Operand(a, 0)
				if err != nil {
					return symcore.Expr{}, false
				}
				y, err := k.Operand(b, 0)
				if err != nil {
					return symcore.Expr{}, false
				}
				s, err := k.Add(x, y)
				if err != nil {
					return symcore.Expr{}, false
				}
				out, err := k.NewInstance(id, nil, s)
				return out, err == nil
			},
			String: func(k *symcore.Kernel, e symcore.Expr) string {
				x, _ := k.Operand(e, 0)
				return "tag(" + k.MustString(x) + ")"
			},
		},
	}, symcore.Install)
	require.NoError(t, err)

	assert.Equal(t, ev(t, k, "tag(3)"), ev(t, k, "tag(1) + tag(2)"))
	assert.Equal(t, "y + tag(3)", str(t, k, ev(t, k, "tag(1) + y + tag(2)")))
}

func TestExtension_FuncsCapability(t *testing.T) {
	reg := symcore.NewRegistry()
	k := newKernel(t, symcore.WithRegistry(reg))
	_, err := reg.Register(symcore.Extension{
		Name: "half",
		Caps: symcore.Capabilities{
			Funcs: map[symcore.FuncID]func(*symcore.Kernel, symcore.Expr) (symcore.Expr, bool){
				symcore.FuncAbs: func(k *symcore.Kernel, e symcore.Expr) (symcore.Expr, bool) {
					return e, true
				},
			},
		},
	}, symcore.Install)
	require.NoError(t, err)
	h := ev(t, k, "half(x)")
	assert.Equal(t, h, ev(t, k, "abs(half(x))"))
}

func TestRegistry_InstallUpdateUnregister(t *testing.T) {
	reg := symcore.NewRegistry()
	id, err := reg.Register(symcore.Extension{Name: "a", Priority: 5}, symcore.Install)
	require.NoError(t, err)
	_, err = reg.Register(symcore.Extension{Name: "b", Priority: 1}, symcore.Install)
	require.NoError(t, err)

	_, err = reg.Register(symcore.Extension{Name: "a"}, symcore.Install)
	assert.Error(t, err)
	_, err = reg.Register(symcore.Extension{Name: "c"}, symcore.Update)
	assert.ErrorIs(t, err, symcore.ErrUnsupported)
	_, err = reg.Register(symcore.Extension{}, symcore.Install)
	assert.Error(t, err)

	names := func() []string {
		var out []string
		for _, e := range reg.List() {
			out = append(out, e.Name)
		}
		return out
	}
	assert.Equal(t, []string{"b", "a"}, names())

	same, err := reg.Register(symcore.Extension{Name: "a", Priority: 0}, symcore.Update)
	require.NoError(t, err)
	assert.Equal(t, id, same)
	assert.Equal(t, []string{"a", "b"}, names())

	found, ok := reg.Find("a")
	require.True(t, ok)
	assert.Equal(t, id, found)
	ext, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, ext.ID())

	require.NoError(t, reg.Unregister("a"))
	_, ok = reg.Find("a")
	assert.False(t, ok)
	_, err = reg.Get(id)
	assert.ErrorIs(t, err, symcore.ErrUnsupported)
	assert.Equal(t, []string{"b"}, names())
}

func TestRegistry_UpdateInvalidatesEvaluatedInstances(t *testing.T) {
	reg := symcore.NewRegistry()
	k := newKernel(t, symcore.WithRegistry(reg))
	id, err := reg.Register(symcore.Extension{Name: "vanish"}, symcore.Install)
	require.NoError(t, err)

	inst, err := k.NewInstance(id, nil, k.Symbol("x"))
	require.NoError(t, err)
	out, err := k.Eval(inst)
	require.NoError(t, err)
	assert.Equal(t, inst, out)
	assert.Equal(t, symcore.Unknown, k.IsZero(inst))

	_, err = reg.Register(symcore.Extension{
		Name: "vanish",
		Caps: symcore.Capabilities{
			Zero: func(*symcore.Kernel, symcore.Expr) symcore.Tri { return symcore.True },
		},
	}, symcore.Update)
	require.NoError(t, err)

	out, err = k.Eval(inst)
	require.NoError(t, err)
	assert.Equal(t, k.Int(0), out)
	assert.Equal(t, symcore.True, k.IsZero(inst))
	sum, err := k.Add(inst, k.Int(1))
	require.NoError(t, err)
	assert.Equal(t, k.Int(1), sum)
}

func TestRegistry_UnregisteredInstancesStillPrint(t *testing.T) {
	reg := symcore.NewRegistry()
	k := newKernel(t, symcore.WithRegistry(reg))
	id, err := reg.Register(symcore.Extension{Name: "gone"}, symcore.Install)
	require.NoError(t, err)
	inst, err := k.NewInstance(id, nil, k.Symbol("x"))
	require.NoError(t, err)
	require.NoError(t, reg.Unregister("gone"))

	out, err := k.Eval(inst)
	require.NoError(t, err)
	assert.Equal(t, inst, out)
	_, err = k.Diff(out, k.Symbol("x"))
	assert.ErrorIs(t, err, symcore.ErrUnsupported)
}
