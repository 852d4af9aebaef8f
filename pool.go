package symcore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Pool.Do after Close.
var ErrPoolClosed = errors.New("kernel pool is closed")

// Pool shares a fixed set of kernels between goroutines. Kernels are not
// safe for concurrent use; the pool hands each one to a single job at a
// time and opens a fresh region around every job.
type Pool struct {
	idle    chan *Kernel
	kernels []*Kernel
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewPool starts n kernels with cfg and opts. Options apply to every
// kernel, so a Metrics or Registry passed here is shared.
func NewPool(cfg Config, n int, opts ...Option) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", n)
	}
	p := &Pool{idle: make(chan *Kernel, n), done: make(chan struct{})}
	opts = append([]Option{WithConfig(cfg)}, opts...)
	for i := 0; i < n; i++ {
		k, err := Start(opts...)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("starting kernel %d: %w", i, err)
		}
		p.kernels = append(p.kernels, k)
		p.idle <- k
	}
	return p, nil
}

// Size returns the number of kernels in the pool.
func (p *Pool) Size() int { return len(p.kernels) }

// Do runs fn on an idle kernel, waiting for one until ctx is done. Every
// node fn allocates is released when it returns, so results must leave fn
// as text or copies.
func (p *Pool) Do(ctx context.Context, fn func(*Kernel) error) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}

	var k *Kernel
	select {
	case k = <-p.idle:
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { p.idle <- k }()

	if !k.Running() {
		if err := k.Restart(); err != nil {
			return fmt.Errorf("restarting kernel: %w", err)
		}
	}
	m := k.Mark()
	err := fn(k)
	if !k.Running() {
		// fn stopped or ended the kernel: restart it instead of releasing.
		if rerr := k.Restart(); rerr != nil && err == nil {
			err = fmt.Errorf("restarting kernel: %w", rerr)
		}
		return err
	}
	if rerr := k.Release(m); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// EvalAll parses and evaluates each text on the pool and returns the
// results in input order. The first failure cancels the remaining jobs.
func (p *Pool) EvalAll(ctx context.Context, texts []string) ([]string, error) {
	out := make([]string, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Size())
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			return p.Do(gctx, func(k *Kernel) error {
				e, err := k.ParseEval(text)
				if err != nil {
					return fmt.Errorf("expression %d: %w", i, err)
				}
				s, err := k.Stringify(e)
				if err != nil {
					return fmt.Errorf("expression %d: %w", i, err)
				}
				out[i] = s
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close ends every kernel once it is idle. Jobs in flight finish first.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	for range p.kernels {
		k := <-p.idle
		k.End()
	}
}
