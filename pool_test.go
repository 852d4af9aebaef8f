package symcore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
)

func newPool(t *testing.T, n int) *symcore.Pool {
	t.Helper()
	p, err := symcore.NewPool(symcore.DefaultConfig(), n)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPool_EvalAll(t *testing.T) {
	p := newPool(t, 2)
	assert.Equal(t, 2, p.Size())

	texts := make([]string, 0, 20)
	want := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		texts = append(texts, fmt.Sprintf("%d + %d", i, i))
		want = append(want, fmt.Sprint(2*i))
	}
	texts = append(texts, "x + x")
	want = append(want, "2*x")

	got, err := p.EvalAll(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPool_EvalAllError(t *testing.T) {
	p := newPool(t, 2)
	_, err := p.EvalAll(context.Background(), []string{"2 + 3", "x +"})
	require.Error(t, err)
	assert.Equal(t, symcore.InvalidToken, symcore.KindOf(err))
	assert.Contains(t, err.Error(), "expression 1")
}

func TestPool_DoReleasesRegion(t *testing.T) {
	p := newPool(t, 1)
	var before, after int64
	require.NoError(t, p.Do(context.Background(), func(k *symcore.Kernel) error {
		before = k.Usage().Bytes
		return nil
	}))
	require.NoError(t, p.Do(context.Background(), func(k *symcore.Kernel) error {
		_, err := k.ParseEval("(a + b + c)^5 + sin(d)")
		return err
	}))
	require.NoError(t, p.Do(context.Background(), func(k *symcore.Kernel) error {
		after = k.Usage().Bytes
		return nil
	}))
	assert.Equal(t, before, after)
}

func TestPool_RestartsStoppedKernel(t *testing.T) {
	p := newPool(t, 1)
	require.NoError(t, p.Do(context.Background(), func(k *symcore.Kernel) error {
		k.Stop()
		return nil
	}))
	require.NoError(t, p.Do(context.Background(), func(k *symcore.Kernel) error {
		assert.True(t, k.Running())
		_, err := k.ParseEval("1 + 1")
		return err
	}))
}

func TestPool_RestartsEndedKernel(t *testing.T) {
	p := newPool(t, 1)
	require.NoError(t, p.Do(context.Background(), func(k *symcore.Kernel) error {
		k.End()
		return nil
	}))
	require.NoError(t, p.Do(context.Background(), func(k *symcore.Kernel) error {
		assert.True(t, k.Running())
		assert.Equal(t, 1, k.Depth())
		return nil
	}))
}

func TestPool_CloseWakesWaiters(t *testing.T) {
	p, err := symcore.NewPool(symcore.DefaultConfig(), 1)
	require.NoError(t, err)

	hold := make(chan struct{})
	started := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- p.Do(context.Background(), func(*symcore.Kernel) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	waiter := make(chan error, 1)
	go func() {
		waiter <- p.Do(context.Background(), func(*symcore.Kernel) error { return nil })
	}()
	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	close(hold)

	require.NoError(t, <-first)
	select {
	case err := <-waiter:
		if err != nil {
			assert.ErrorIs(t, err, symcore.ErrPoolClosed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do still waiting after Close")
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestPool_WaitHonorsContext(t *testing.T) {
	p := newPool(t, 1)
	hold := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), func(*symcore.Kernel) error {
			<-hold
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Eventually(t, func() bool {
		err := p.Do(ctx, func(*symcore.Kernel) error { return nil })
		return errors.Is(err, context.DeadlineExceeded)
	}, time.Second, 10*time.Millisecond)

	close(hold)
	require.NoError(t, <-done)
}

func TestPool_Closed(t *testing.T) {
	p, err := symcore.NewPool(symcore.DefaultConfig(), 1)
	require.NoError(t, err)
	p.Close()
	p.Close()
	err = p.Do(context.Background(), func(*symcore.Kernel) error { return nil })
	assert.ErrorIs(t, err, symcore.ErrPoolClosed)
}

func TestNewPool_Invalid(t *testing.T) {
	_, err := symcore.NewPool(symcore.DefaultConfig(), 0)
	assert.Error(t, err)
	_, err = symcore.NewPool(symcore.Config{Rounding: "sideways"}, 1)
	assert.Error(t, err)
}
