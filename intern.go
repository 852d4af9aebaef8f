package symcore

import "reflect"

// ============================================================
// Hash-consing
// ============================================================

const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

func mix(h, v uint64) uint64 {
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		h *= fnvPrime
		v >>= 8
	}
	return h
}

func mixString(h uint64, s string) uint64 {
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime
	}
	return mix(h, uint64(len(s)))
}

// hashNode derives the structural hash from operand hashes, so it is
// unchanged when a node and its operands are relocated.
func (k *Kernel) hashNode(n *node) uint64 {
	h := mix(fnvOffset, uint64(n.kind))
	if n.num != nil {
		h = mixString(h, n.num.key())
	}
	h = mixString(h, n.name)
	h = mix(h, uint64(n.ext))
	h = mix(h, uint64(n.rows)<<32|uint64(uint32(n.cols)))
	for _, op := range n.ops {
		h = mix(h, k.node(op).hash)
	}
	return h
}

func equalNode(a, b *node) bool {
	if a.kind != b.kind || a.name != b.name || a.ext != b.ext || a.rows != b.rows || a.cols != b.cols || len(a.ops) != len(b.ops) {
		return false
	}
	if (a.num == nil) != (b.num == nil) || (a.num != nil && !a.num.equal(b.num)) {
		return false
	}
	for i := range a.ops {
		if a.ops[i] != b.ops[i] {
			return false
		}
	}
	return payloadEqual(a.blob, b.blob)
}

func payloadEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func (k *Kernel) findInterned(n *node) (Expr, bool) {
	regions := k.arena.regions
	for i := len(regions) - 1; i >= 0; i-- {
		for _, idx := range regions[i].intern[n.hash] {
			if m := k.arena.slots[idx]; m != nil && equalNode(m, n) {
				return m.self, true
			}
		}
	}
	return Expr{}, false
}

// intern returns the node structurally equal to n, allocating n in the
// innermost region when none exists yet. The lookup walks the whole region
// stack, so nodes of enclosing regions are shared.
func (k *Kernel) intern(n *node) Expr {
	n.hash = k.hashNode(n)
	n.computeSize()
	if e, ok := k.findInterned(n); ok {
		return e
	}
	n.state |= stateSealed
	e := k.alloc(n)
	r := k.arena.top()
	r.intern[n.hash] = append(r.intern[n.hash], e.idx)
	return e
}

// allocRaw allocates a node that is never shared (blobs, unsealed extension
// instances).
func (k *Kernel) allocRaw(n *node) Expr {
	n.computeSize()
	k.rawSerial++
	n.serial = k.rawSerial
	return k.alloc(n)
}
