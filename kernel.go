// Package symcore is a symbolic mathematics kernel. Expressions are
// immutable hash-consed nodes in a region-stacked arena, normalized by an
// evaluator under a configurable numeric domain and extended through a
// registry of capability records.
package symcore

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/njchilds90/symcore/internal/logging"
)

// ============================================================
// Kernel
// ============================================================

type kernelState uint8

const (
	stateRunning kernelState = iota
	stateStopped
	stateEnded
)

func (s kernelState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	}
	return "ended"
}

// ZeroTest decides whether e is zero when structure alone cannot.
type ZeroTest func(k *Kernel, e Expr) Tri

type kernelConfig struct {
	rounding Rounding
	prec     uint32
	base     int
	domain   Domain
	mod      *big.Int
	sortFn   SortFunc
	zeroTest ZeroTest
}

// Kernel owns an arena stack and the configuration that evaluation runs
// under. A Kernel must not be used from more than one goroutine at a time.
type Kernel struct {
	cfg        kernelConfig
	num        numCtx
	epoch      uint64
	arena      *arena
	reg        *Registry
	regVersion uint64

	// forced memoizes a Reeval pass in place of the per-node cache.
	forced map[Expr]Expr

	frames      []catchFrame
	frameSerial uint64
	guards      int
	rawSerial   uint64

	log     *slog.Logger
	metrics *Metrics
	state   kernelState
	conf    Config
	set     settings

	zero, one, negOne, undef, inf Expr
}

// Option configures a kernel at Start.
type Option func(*Kernel)

func WithConfig(c Config) Option { return func(k *Kernel) { k.conf = c } }

func WithLogger(l *slog.Logger) Option { return func(k *Kernel) { k.log = l } }

// WithRegistry makes the kernel dispatch through r instead of
// DefaultRegistry.
func WithRegistry(r *Registry) Option { return func(k *Kernel) { k.reg = r } }

func WithMetrics(m *Metrics) Option { return func(k *Kernel) { k.metrics = m } }

// Start creates a running kernel.
func Start(opts ...Option) (*Kernel, error) {
	k := &Kernel{conf: DefaultConfig()}
	for _, opt := range opts {
		opt(k)
	}
	if k.log == nil {
		k.log = logging.NewNop()
	}
	if k.reg == nil {
		k.reg = DefaultRegistry
	}
	set, err := k.conf.resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid kernel config: %w", err)
	}
	k.set = set
	k.reset()
	if err := k.seed(); err != nil {
		return nil, err
	}
	k.log.Debug("kernel started",
		"precision", set.prec,
		"rounding", set.rounding.String(),
		"domain", set.domain.String(),
		"arena", k.conf.ArenaSize)
	return k, nil
}

func (k *Kernel) reset() {
	s := k.set
	k.cfg = kernelConfig{rounding: s.rounding, prec: s.prec, base: s.base, domain: s.domain, mod: s.mod}
	prev := k.arena
	k.arena = newArena(s.capacity, s.limit)
	if prev != nil {
		for len(prev.regions) > 0 {
			prev.release()
		}
		// Carry generations over so handles from before the restart stay stale.
		k.arena.gens = prev.gens
	}
	k.frames = nil
	k.guards = 0
	k.state = stateRunning
	k.touch()
}

// seed interns the constants every evaluation refers to into the base region.
func (k *Kernel) seed() error {
	return k.guard(func() {
		k.zero = k.numberLeaf(intNumber(0))
		k.one = k.numberLeaf(intNumber(1))
		k.negOne = k.numberLeaf(intNumber(-1))
		k.undef = k.symbol(constUndefined)
		k.inf = k.symbol(constInfinity)
		k.markConstants()
	})
}

func (k *Kernel) markConstants() {
	for _, e := range []Expr{k.zero, k.one, k.undef, k.inf} {
		k.markCanonical(e)
	}
	// -1 is reduced to m-1 under a modulus.
	if k.cfg.mod == nil {
		k.markCanonical(k.negOne)
	}
}

// touch invalidates every cached normal form and inferred flag.
func (k *Kernel) touch() {
	k.regVersion = k.reg.version.Load()
	k.epoch++
	k.num = newNumCtx(k.cfg.prec, k.cfg.rounding, k.cfg.mod)
	if !k.zero.Nil() {
		k.markConstants()
	}
}

// syncRegistry drops cached results computed against an older registry.
func (k *Kernel) syncRegistry() {
	if v := k.reg.version.Load(); v != k.regVersion {
		k.log.Debug("registry changed, invalidating caches", "version", v)
		k.touch()
	}
}

// End tears the kernel down. Every handle becomes stale.
func (k *Kernel) End() {
	if k.state == stateEnded {
		return
	}
	for len(k.arena.regions) > 0 {
		k.arena.release()
	}
	k.frames = nil
	k.state = stateEnded
	k.log.Debug("kernel ended")
}

// Stop suspends the kernel; operations fail with kind stopped until
// Restart.
func (k *Kernel) Stop() {
	if k.state == stateRunning {
		k.state = stateStopped
		k.log.Debug("kernel stopped")
	}
}

// Restart discards the arena and resumes with the configuration the kernel
// was started with.
func (k *Kernel) Restart() error {
	k.zero = Expr{}
	k.reset()
	k.log.Debug("kernel restarted")
	return k.seed()
}

// Running reports whether the kernel accepts operations.
func (k *Kernel) Running() bool { return k.state == stateRunning }

// Config returns the configuration the kernel was started with, updated with
// the current values of the mutable settings.
func (k *Kernel) Config() Config {
	c := k.conf
	c.Precision = k.cfg.prec
	c.Rounding = k.cfg.rounding.String()
	c.Base = k.cfg.base
	c.Domain = k.cfg.domain.String()
	c.Modulus = ""
	if k.cfg.mod != nil {
		c.Modulus = k.cfg.mod.String()
	}
	return c
}

// Registry returns the registry the kernel dispatches through.
func (k *Kernel) Registry() *Registry { return k.reg }

// Logger returns the kernel logger.
func (k *Kernel) Logger() *slog.Logger { return k.log }

// ============================================================
// Accessor / mutator pairs
// ============================================================

func (k *Kernel) Rounding() Rounding { return k.cfg.rounding }

// SetRounding sets the rounding mode and returns the previous one.
func (k *Kernel) SetRounding(r Rounding) Rounding {
	prev := k.cfg.rounding
	k.cfg.rounding = r
	k.touch()
	return prev
}

func (k *Kernel) Precision() uint32 { return k.cfg.prec }

// SetPrecision sets the working precision in significant digits and returns
// the previous one. Zero is treated as one digit.
func (k *Kernel) SetPrecision(p uint32) uint32 {
	prev := k.cfg.prec
	if p == 0 {
		p = 1
	}
	k.cfg.prec = p
	k.touch()
	return prev
}

func (k *Kernel) Base() int { return k.cfg.base }

// SetBase sets the display base. Bases outside [2, 36] leave it unchanged.
func (k *Kernel) SetBase(b int) int {
	prev := k.cfg.base
	if b >= 2 && b <= 36 {
		k.cfg.base = b
		k.touch()
	}
	return prev
}

func (k *Kernel) Domain() Domain { return k.cfg.domain }

func (k *Kernel) SetDomain(d Domain) Domain {
	prev := k.cfg.domain
	k.cfg.domain = d
	k.touch()
	return prev
}

// Modulus returns the integer modulus, or nil when evaluation is not
// modular.
func (k *Kernel) Modulus() *big.Int {
	if k.cfg.mod == nil {
		return nil
	}
	return new(big.Int).Set(k.cfg.mod)
}

// SetModulus enables modular evaluation for m > 1 and disables it for nil or
// smaller m.
func (k *Kernel) SetModulus(m *big.Int) *big.Int {
	prev := k.Modulus()
	if m == nil || m.Cmp(big.NewInt(1)) <= 0 {
		k.cfg.mod = nil
	} else {
		k.cfg.mod = new(big.Int).Set(m)
	}
	k.touch()
	return prev
}

func (k *Kernel) SortFunc() SortFunc { return k.cfg.sortFn }

// SetSortFunc replaces the canonical order. Nil restores the structural
// order.
func (k *Kernel) SetSortFunc(f SortFunc) SortFunc {
	prev := k.cfg.sortFn
	k.cfg.sortFn = f
	k.touch()
	return prev
}

func (k *Kernel) ZeroTest() ZeroTest { return k.cfg.zeroTest }

func (k *Kernel) SetZeroTest(f ZeroTest) ZeroTest {
	prev := k.cfg.zeroTest
	k.cfg.zeroTest = f
	k.touch()
	return prev
}
