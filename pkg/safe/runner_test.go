package safe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go(func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}
}

func TestLoopRestartsAfterPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	finished := make(chan struct{})
	Loop(ctx, "flaky", 10*time.Millisecond, func(ctx context.Context) {
		if runs.Add(1) < 3 {
			panic("transient")
		}
		close(finished)
	})

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not restarted")
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	Loop(ctx, "always-panics", 20*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
		panic("again")
	})
	time.Sleep(5 * time.Millisecond)
	cancel()
	time.Sleep(60 * time.Millisecond)
	n := runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
}
