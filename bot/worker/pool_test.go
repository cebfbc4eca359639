package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConcurrencyLimit(t *testing.T) {
	pool := New(2)

	var current, peak int32
	work := func() {
		val := atomic.AddInt32(&current, 1)
		for {
			prev := atomic.LoadInt32(&peak)
			if val <= prev || atomic.CompareAndSwapInt32(&peak, prev, val) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	}

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(work))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	pool := New(1)
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolClosed)
	assert.ErrorIs(t, pool.SubmitWait(func() error { return nil }), ErrPoolClosed)
}

func TestPoolSubmitWaitReturnsTaskError(t *testing.T) {
	pool := New(1)
	defer pool.StopNow()

	boom := errors.New("boom")
	assert.ErrorIs(t, pool.SubmitWait(func() error { return boom }), boom)
}

func TestPoolSubmitWaitRecoversPanic(t *testing.T) {
	pool := New(1)
	defer pool.StopNow()

	err := pool.SubmitWait(func() error { panic("bad key schedule") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key schedule")

	// the worker survives
	assert.NoError(t, pool.SubmitWait(func() error { return nil }))
}

func TestPoolSubmitWaitContextTimeout(t *testing.T) {
	pool := New(1)
	defer func() {
		_ = pool.Shutdown(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.SubmitWaitContext(ctx, func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolStopNowIsIdempotent(t *testing.T) {
	pool := New(3)
	assert.Equal(t, 3, pool.Size())
	pool.StopNow()
	pool.StopNow()
	assert.NoError(t, pool.Shutdown(context.Background()))
}
