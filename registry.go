package symcore

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// ============================================================
// Extension records
// ============================================================

// ExtID is the numeric id of a registered extension. It is stable across
// Update.
type ExtID uint32

// Capabilities is the optional callback table of an extension. A nil entry
// means the capability is absent and the evaluator falls back to its generic
// default.
type Capabilities struct {
	// Zero and One test an instance against 0 and 1.
	Zero func(k *Kernel, e Expr) Tri
	One  func(k *Kernel, e Expr) Tri
	Sign func(k *Kernel, e Expr) Sign

	// Add and Mul fold two instances of the extension appearing in the same
	// sum or product. ok is false when the pair does not combine.
	Add func(k *Kernel, a, b Expr) (Expr, bool)
	Mul func(k *Kernel, a, b Expr) (Expr, bool)
	Pow func(k *Kernel, base, exp Expr) (Expr, bool)

	// Funcs evaluates builtin functions applied to an instance.
	Funcs map[FuncID]func(k *Kernel, arg Expr) (Expr, bool)

	Diff   func(k *Kernel, e, x Expr) (Expr, error)
	Conj   func(k *Kernel, e Expr) (Expr, error)
	String func(k *Kernel, e Expr) string

	// Eval further evaluates an instance whose operands are evaluated.
	Eval func(k *Kernel, e Expr) (Expr, error)
}

// Extension describes a registered symbolic domain.
type Extension struct {
	Name     string
	Priority int
	// Shortcuts enables the inverse-function identities (such as
	// exp(ln(e)) = e) for instances of the extension.
	Shortcuts FuncSet
	Caps      Capabilities

	id ExtID
}

// ID returns the id assigned at registration.
func (e *Extension) ID() ExtID { return e.id }

// Mode selects Register behavior.
type Mode uint8

const (
	// Install adds a new extension and fails if the name is taken.
	Install Mode = iota
	// Update replaces the record of an existing extension, keeping its id.
	Update
)

// ============================================================
// Registry
// ============================================================

// Registry maps extension names and ids to records. It is safe for
// concurrent use and is expected to be read-mostly once workers start.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]ExtID
	exts   []*Extension
	order  *btree.BTreeG[*Extension]

	// version counts changes; kernels drop their caches when it moves.
	version atomic.Uint64
}

// DefaultRegistry is the process-wide registry kernels use unless
// WithRegistry is given.
var DefaultRegistry = NewRegistry()

func extensionLess(a, b *Extension) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Name < b.Name
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]ExtID),
		order:  btree.NewG[*Extension](8, extensionLess),
	}
}

// Register installs or updates ext and returns its id.
func (r *Registry) Register(ext Extension, mode Mode) (ExtID, error) {
	if ext.Name == "" {
		return 0, newError(InvalidToken, "extension name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.byName[ext.Name]
	switch mode {
	case Install:
		if exists {
			return 0, newError(Fatal, "extension %q is already installed", ext.Name)
		}
		r.exts = append(r.exts, nil)
		id = ExtID(len(r.exts))
		r.byName[ext.Name] = id
	case Update:
		if !exists {
			return 0, newError(Unsupported, "extension %q is not installed", ext.Name)
		}
		r.order.Delete(r.exts[id-1])
	default:
		return 0, newError(Fatal, "unknown register mode %d", mode)
	}
	rec := ext
	rec.id = id
	if ext.Caps.Funcs != nil {
		rec.Caps.Funcs = make(map[FuncID]func(*Kernel, Expr) (Expr, bool), len(ext.Caps.Funcs))
		for f, fn := range ext.Caps.Funcs {
			rec.Caps.Funcs[f] = fn
		}
	}
	r.exts[id-1] = &rec
	r.order.ReplaceOrInsert(&rec)
	r.version.Add(1)
	return id, nil
}

// Unregister removes the extension. Instances that still reference it
// dispatch as if every capability were absent.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	if !ok {
		return newError(Unsupported, "extension %q is not installed", name)
	}
	r.order.Delete(r.exts[id-1])
	r.exts[id-1] = nil
	delete(r.byName, name)
	r.version.Add(1)
	return nil
}

// Find returns the id of the named extension.
func (r *Registry) Find(name string) (ExtID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Get returns the current record for id.
func (r *Registry) Get(id ExtID) (*Extension, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == 0 || int(id) > len(r.exts) || r.exts[id-1] == nil {
		return nil, newError(Unsupported, "no extension with id %d", id)
	}
	return r.exts[id-1], nil
}

// List returns the registered extensions ordered by priority, then name.
func (r *Registry) List() []*Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Extension, 0, r.order.Len())
	r.order.Ascend(func(e *Extension) bool {
		out = append(out, e)
		return true
	})
	return out
}

// ============================================================
// Instances
// ============================================================

func (k *Kernel) extension(id ExtID) *Extension {
	ext, err := k.reg.Get(id)
	if err != nil {
		return nil
	}
	return ext
}

// Construct allocates an unsealed instance of extension id with arity
// operand slots. The caller populates it with SetOperand and SetPayload and
// hands it to Eval or Seal. Until then it is not shared.
func (k *Kernel) Construct(id ExtID, arity int) (Expr, error) {
	var e Expr
	err := k.guard(func() {
		if k.extension(id) == nil {
			k.throw(newError(Unsupported, "no extension with id %d", id))
		}
		if arity < 0 {
			k.throw(newError(InvalidMatrixSize, "negative arity %d", arity))
		}
		ops := make([]Expr, arity)
		for i := range ops {
			ops[i] = k.zero
		}
		e = k.allocRaw(&node{kind: KindExt, ext: id, ops: ops, state: stateUnsealed})
	})
	return e, err
}

func (k *Kernel) unsealed(e Expr) *node {
	n := k.node(e)
	if n.kind != KindExt || n.state&stateUnsealed == 0 {
		k.throw(newError(Fatal, "%s is not an unsealed extension instance", e))
	}
	return n
}

// SetOperand fills operand slot i of an unsealed instance.
func (k *Kernel) SetOperand(inst Expr, i int, op Expr) error {
	return k.guard(func() {
		n := k.unsealed(inst)
		k.node(op)
		if i < 0 || i >= len(n.ops) {
			k.throw(newError(InvalidHandle, "operand %d out of range for arity %d", i, len(n.ops)))
		}
		n.ops[i] = op
	})
}

// SetPayload attaches an opaque payload to an unsealed instance. Comparable
// payloads take part in hash-consing.
func (k *Kernel) SetPayload(inst Expr, payload any) error {
	return k.guard(func() {
		k.unsealed(inst).blob = payload
	})
}

// Seal interns an unsealed instance without evaluating it.
func (k *Kernel) Seal(inst Expr) (Expr, error) {
	var out Expr
	err := k.guard(func() { out = k.seal(inst) })
	return out, err
}

func (k *Kernel) seal(inst Expr) Expr {
	n := k.node(inst)
	if n.kind != KindExt || n.state&stateUnsealed == 0 {
		return inst
	}
	return k.extInstance(n.ext, n.blob, n.ops)
}

// NewInstance builds a sealed, unevaluated instance of extension id.
func (k *Kernel) NewInstance(id ExtID, payload any, ops ...Expr) (Expr, error) {
	var out Expr
	err := k.guard(func() {
		if k.extension(id) == nil {
			k.throw(newError(Unsupported, "no extension with id %d", id))
		}
		for _, op := range ops {
			k.node(op)
		}
		out = k.extInstance(id, payload, ops)
	})
	return out, err
}

func (k *Kernel) extInstance(id ExtID, payload any, ops []Expr) Expr {
	return k.intern(&node{kind: KindExt, ext: id, blob: payload, ops: append([]Expr(nil), ops...)})
}

// ExtOf returns the extension id of an instance.
func (k *Kernel) ExtOf(e Expr) (ExtID, bool) {
	n, ok := k.lookup(e)
	if !ok || n.kind != KindExt {
		return 0, false
	}
	return n.ext, true
}
