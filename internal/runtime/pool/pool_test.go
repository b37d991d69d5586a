package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(2)
	var running, peak atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Submit(func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		}))
	}

	require.Eventually(t, func() bool {
		queued, active := p.Stats()
		return active == 2 && queued == 4
	}, time.Second, 5*time.Millisecond)

	close(release)
	p.Shutdown()
	assert.Equal(t, int32(2), peak.Load())
}

func TestSubmitDoesNotBlockWhenBusy(t *testing.T) {
	p := New(1)
	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = p.Submit(func() {})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submit blocked on a busy pool")
	}
	close(block)
	p.Shutdown()
}

func TestShutdownDrainsBacklog(t *testing.T) {
	p := New(1)
	var mu sync.Mutex
	var order []int
	gate := make(chan struct{})

	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, p.Submit(func() {
			<-gate
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(gate)
	}()
	p.Shutdown()

	assert.Equal(t, []int{0, 1, 2}, order)
	assert.ErrorIs(t, p.Submit(func() {}), ErrClosed)
}

func TestNewClampsSize(t *testing.T) {
	p := New(0)
	assert.Equal(t, 1, p.Size())
	assert.NoError(t, p.Submit(nil))
	p.Shutdown()
}
