package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct {
	calls atomic.Int32
	block chan struct{}
}

func (w *countingWaker) WakeDue(ctx context.Context, now time.Time) (int, error) {
	w.calls.Add(1)
	if w.block != nil {
		<-w.block
	}
	return 0, nil
}

type recordingCleaner struct {
	mu        sync.Mutex
	retention []time.Duration
}

func (c *recordingCleaner) CleanAll(ctx context.Context, retention time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retention = append(c.retention, retention)
}

func TestSchedulerRunsBothTasks(t *testing.T) {
	w := &countingWaker{}
	c := &recordingCleaner{}
	m := NewSchedulerManager(w, c, Options{WakeSpec: "@every 1s", CleanSpec: "@every 1s"})
	require.NoError(t, m.Start())
	defer m.Stop()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return w.calls.Load() > 0 && len(c.retention) > 0
	}, 3*time.Second, 20*time.Millisecond)
	c.mu.Lock()
	assert.Equal(t, 24*time.Hour, c.retention[0])
	c.mu.Unlock()
}

func TestGuardedSkipsOverlappingRuns(t *testing.T) {
	w := &countingWaker{block: make(chan struct{})}
	m := NewSchedulerManager(w, nil, Options{})
	run := m.guarded("wake", m.wake)

	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	require.Eventually(t, func() bool { return w.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	run()
	assert.Equal(t, int32(1), w.calls.Load())

	close(w.block)
	<-done
	run()
	assert.Equal(t, int32(2), w.calls.Load())
}

func TestStartRejectsBadSpec(t *testing.T) {
	m := NewSchedulerManager(&countingWaker{}, nil, Options{WakeSpec: "not a spec"})
	assert.Error(t, m.Start())
}
