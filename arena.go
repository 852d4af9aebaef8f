package symcore

import "sync/atomic"

// ============================================================
// Arena: stack of regions over a slot table
// ============================================================

// arena stores nodes in slots addressed by (index, generation). Regions are
// contiguous slot ranges opened and closed in LIFO order; releasing a region
// bumps the generation of each of its slots so stale handles are detected.
type arena struct {
	id      uint32
	slots   []*node
	gens    []uint32
	regions []*region
	serial  uint64

	bytes       int64
	peak        int64
	limit       int64
	allocs      uint64
	compactions uint64
}

type region struct {
	start  uint32
	serial uint64
	bytes  int64
	intern map[uint64][]uint32
}

// Mark is the token returned by Kernel.Mark. It names the region it opened.
type Mark struct {
	owner  *arena
	depth  int
	serial uint64
}

// Depth returns the region depth the mark opened (the base region is 0).
func (m Mark) Depth() int { return m.depth }

// ArenaStats describes arena occupancy.
type ArenaStats struct {
	Bytes       int64
	PeakBytes   int64
	Nodes       int
	Regions     int
	Allocs      uint64
	Compactions uint64
}

var arenaIDs atomic.Uint32

func newArena(capacity int, limit int64) *arena {
	a := &arena{
		id:    arenaIDs.Add(1),
		slots: make([]*node, 0, capacity),
		gens:  make([]uint32, 0, capacity),
		limit: limit,
	}
	a.push()
	return a
}

func (a *arena) push() Mark {
	a.serial++
	a.regions = append(a.regions, &region{
		start:  uint32(len(a.slots)),
		serial: a.serial,
		intern: make(map[uint64][]uint32),
	})
	return Mark{owner: a, depth: len(a.regions) - 1, serial: a.serial}
}

func (a *arena) top() *region { return a.regions[len(a.regions)-1] }

// alloc bump-allocates n in the innermost region.
func (a *arena) alloc(n *node) (Expr, bool) {
	if a.limit > 0 && a.bytes+int64(n.size) > a.limit {
		return Expr{}, false
	}
	idx := uint32(len(a.slots))
	var gen uint32 = 1
	if int(idx) < len(a.gens) {
		gen = a.gens[idx]
	} else {
		a.gens = append(a.gens, gen)
	}
	e := Expr{arena: a.id, idx: idx, gen: gen}
	n.self = e
	a.slots = append(a.slots, n)
	r := a.top()
	r.bytes += int64(n.size)
	a.bytes += int64(n.size)
	if a.bytes > a.peak {
		a.peak = a.bytes
	}
	a.allocs++
	return e, true
}

// release pops the innermost region and abandons all of its slots.
func (a *arena) release() *region {
	r := a.top()
	for i := int(r.start); i < len(a.slots); i++ {
		a.slots[i] = nil
		a.gens[i]++
		if a.gens[i] == 0 {
			a.gens[i] = 1
		}
	}
	a.slots = a.slots[:r.start]
	a.bytes -= r.bytes
	a.regions = a.regions[:len(a.regions)-1]
	return r
}

func (a *arena) get(e Expr) (*node, bool) {
	if e.gen == 0 || e.arena != a.id || int(e.idx) >= len(a.slots) || a.gens[e.idx] != e.gen {
		return nil, false
	}
	return a.slots[e.idx], true
}

func (a *arena) stats() ArenaStats {
	return ArenaStats{
		Bytes:       a.bytes,
		PeakBytes:   a.peak,
		Nodes:       len(a.slots),
		Regions:     len(a.regions),
		Allocs:      a.allocs,
		Compactions: a.compactions,
	}
}

// ============================================================
// Kernel surface
// ============================================================

func (k *Kernel) lookup(e Expr) (*node, bool) { return k.arena.get(e) }

// node dereferences e, throwing on a stale handle.
func (k *Kernel) node(e Expr) *node {
	n, ok := k.arena.get(e)
	if !ok {
		k.throw(newError(InvalidHandle, "stale handle %s", e))
	}
	return n
}

func (k *Kernel) alloc(n *node) Expr {
	e, ok := k.arena.alloc(n)
	if !ok {
		k.throw(newError(OutOfMemory, "arena limit of %d bytes exceeded", k.arena.limit))
	}
	k.metrics.observeAlloc(n.size)
	return e
}

// Mark opens a new region on top of the region stack.
func (k *Kernel) Mark() Mark {
	m := k.arena.push()
	k.log.Debug("region opened", "depth", m.depth)
	k.metrics.observeArena(k.arena)
	return m
}

func (k *Kernel) checkMark(m Mark) error {
	if k.state != stateRunning {
		return newError(Stopped, "kernel is %s", k.state)
	}
	top := len(k.arena.regions) - 1
	switch {
	case m.owner != k.arena:
		return newError(InvalidMark, "mark belongs to another arena")
	case m.depth == 0:
		return newError(InvalidMark, "the base region cannot be compacted")
	case m.depth > top || k.arena.regions[m.depth].serial != m.serial:
		return newError(InvalidMark, "mark at depth %d is already closed", m.depth)
	case m.depth != top:
		return newError(InvalidMark, "mark at depth %d is not the innermost open mark (depth %d)", m.depth, top)
	}
	return nil
}

// Compact closes the region opened at m. Nodes reachable from keep that lie
// inside the region are relocated into the parent region, each shared node
// exactly once; everything else in the region is abandoned. The returned
// handles correspond to keep element by element. Every keep handle must have
// been allocated inside the region being closed.
func (k *Kernel) Compact(m Mark, keep ...Expr) ([]Expr, error) {
	if err := k.checkMark(m); err != nil {
		return nil, err
	}
	r := k.arena.top()
	for _, e := range keep {
		if e.arena != k.arena.id {
			return nil, newError(InvalidHandle, "keep set holds handle %s from another kernel", e)
		}
		if _, ok := k.arena.get(e); !ok {
			return nil, newError(InvalidHandle, "keep set holds stale handle %s", e)
		}
		if e.idx < r.start {
			return nil, newError(InvalidHandle, "keep set holds handle %s from outside the region at depth %d", e, m.depth)
		}
	}

	// Post-order closure of the region-local part of keep.
	var order []*node
	visited := make(map[uint32]bool)
	var visit func(e Expr)
	visit = func(e Expr) {
		if e.idx < r.start || visited[e.idx] {
			return
		}
		visited[e.idx] = true
		n := k.arena.slots[e.idx]
		for _, op := range n.ops {
			visit(op)
		}
		order = append(order, n)
	}
	for _, e := range keep {
		visit(e)
	}

	before := k.arena.bytes - r.bytes
	k.arena.release()

	forward := make(map[Expr]Expr, len(order))
	fwd := func(e Expr) Expr {
		if to, ok := forward[e]; ok {
			return to
		}
		return e
	}
	for _, old := range order {
		n := *old
		n.ops = make([]Expr, len(old.ops))
		for i, op := range old.ops {
			n.ops[i] = fwd(op)
		}
		canonical := old.normEpoch == k.epoch && old.norm == old.self
		n.norm, n.normEpoch = Expr{}, 0
		var to Expr
		if n.state&stateUnsealed != 0 || n.kind == KindBlob {
			to = k.relocateRaw(&n)
		} else {
			to = k.relocate(&n)
		}
		if canonical {
			k.markCanonical(to)
		}
		forward[old.self] = to
	}

	out := make([]Expr, len(keep))
	for i, e := range keep {
		out[i] = fwd(e)
	}
	k.arena.compactions++
	k.log.Debug("region compacted",
		"depth", m.depth,
		"kept", len(keep),
		"relocated", len(order),
		"bytes", k.arena.bytes-before)
	k.metrics.observeCompact(k.arena)
	return out, nil
}

// relocate interns a copied node into the current top region, reusing a
// structurally equal node already reachable there.
func (k *Kernel) relocate(n *node) Expr {
	n.hash = k.hashNode(n)
	if e, ok := k.findInterned(n); ok {
		if dst, live := k.arena.get(e); live && n.flagEpoch == k.epoch && n.flagEpoch != 0 {
			if dst.flagEpoch == k.epoch {
				dst.flags |= n.flags
			} else {
				dst.flags, dst.flagEpoch = n.flags, n.flagEpoch
			}
		}
		return e
	}
	return k.relocateRaw(n)
}

func (k *Kernel) relocateRaw(n *node) Expr {
	saved := k.arena.limit
	k.arena.limit = 0
	e, _ := k.arena.alloc(n)
	k.arena.limit = saved
	if n.state&stateSealed != 0 {
		r := k.arena.top()
		r.intern[n.hash] = append(r.intern[n.hash], e.idx)
	}
	return e
}

// Keep closes the region opened at m, promoting a single node.
func (k *Kernel) Keep(m Mark, e Expr) (Expr, error) {
	out, err := k.Compact(m, e)
	if err != nil {
		return Expr{}, err
	}
	return out[0], nil
}

// Release closes the region opened at m, keeping nothing.
func (k *Kernel) Release(m Mark) error {
	_, err := k.Compact(m)
	return err
}

// Chain compacts the region opened at m and reopens an equivalent one, the
// common "scratch work then keep the result" loop.
func (k *Kernel) Chain(m Mark, keep ...Expr) (Mark, []Expr, error) {
	out, err := k.Compact(m, keep...)
	if err != nil {
		return Mark{}, nil, err
	}
	return k.Mark(), out, nil
}

// Usage reports arena occupancy.
func (k *Kernel) Usage() ArenaStats { return k.arena.stats() }

// Depth returns the number of open marks.
func (k *Kernel) Depth() int { return len(k.arena.regions) - 1 }

// Footprint returns the bytes of the transitive closure of es, counting each
// shared node once.
func (k *Kernel) Footprint(es ...Expr) int64 {
	seen := make(map[Expr]bool)
	var total int64
	var walk func(e Expr)
	walk = func(e Expr) {
		if seen[e] {
			return
		}
		seen[e] = true
		n, ok := k.arena.get(e)
		if !ok {
			return
		}
		total += int64(n.size)
		for _, op := range n.ops {
			walk(op)
		}
	}
	for _, e := range es {
		walk(e)
	}
	return total
}
