package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/queue/domain/repository"
	"DeskRelay/internal/modules/queue/infrastructure/store"
	"DeskRelay/internal/testutil"
	"DeskRelay/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts job.Options) (*Queue, repository.JobStore) {
	t.Helper()
	_, rdb := testutil.NewRedis(t)
	s := store.NewRedisJobStore(rdb, "q")
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	return NewQueue(job.QueueClassification, job.KindClassification, opts, s), s
}

func startPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func payload(i int) job.ClassificationJob {
	return job.ClassificationJob{MessageID: fmt.Sprintf("m%d", i), AccountID: "t1", Content: "hello"}
}

func waitTerminal(t *testing.T, q *Queue, id string) *job.Status {
	t.Helper()
	var st *job.Status
	require.Eventually(t, func() bool {
		var err error
		st, err = q.Status(context.Background(), id)
		return err == nil && st.State.Terminal()
	}, 5*time.Second, 5*time.Millisecond, "job %s did not finish", id)
	return st
}

func TestPoolNeverExceedsConcurrency(t *testing.T) {
	q, _ := newTestQueue(t, job.Options{Concurrency: 3, RateLimit: 1000, RateWindow: time.Second, MaxAttempts: 1})
	var active, maxActive atomic.Int64
	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, _ ProgressFunc) (interface{}, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}))

	var ids []string
	for i := 0; i < 12; i++ {
		id, err := q.Enqueue(context.Background(), payload(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	startPool(t, p)

	for _, id := range ids {
		assert.Equal(t, job.StateCompleted, waitTerminal(t, q, id).State)
	}
	assert.LessOrEqual(t, maxActive.Load(), int64(3))
	assert.Equal(t, int64(3), maxActive.Load())
}

func TestPoolRespectsRateLimitWindow(t *testing.T) {
	const limit, window = 5, 250 * time.Millisecond
	q, _ := newTestQueue(t, job.Options{Concurrency: 10, RateLimit: limit, RateWindow: window, MaxAttempts: 1})

	var mu sync.Mutex
	var starts []time.Time
	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, _ ProgressFunc) (interface{}, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil, nil
	}))

	var ids []string
	for i := 0; i < 12; i++ {
		id, err := q.Enqueue(context.Background(), payload(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	startPool(t, p)
	for _, id := range ids {
		waitTerminal(t, q, id)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 12)
	// 任意 limit+1 次启动必须跨越至少一个窗口
	for i := 0; i+limit < len(starts); i++ {
		gap := starts[i+limit].Sub(starts[i])
		assert.GreaterOrEqual(t, gap, window-20*time.Millisecond, "starts %d..%d", i, i+limit)
	}
}

func TestTransientErrorsRetryUntilSuccess(t *testing.T) {
	q, _ := newTestQueue(t, job.Options{Concurrency: 1, RateLimit: 100, MaxAttempts: 3,
		Backoff: job.Backoff{Type: job.BackoffFixed, Delay: 10 * time.Millisecond}})
	var calls atomic.Int32
	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, progress ProgressFunc) (interface{}, error) {
		progress(0.5)
		if calls.Add(1) < 3 {
			return nil, xerr.Transient(errors.New("inference timeout"))
		}
		return map[string]string{"category": "billing"}, nil
	}))
	id, err := q.Enqueue(context.Background(), payload(1))
	require.NoError(t, err)
	startPool(t, p)

	st := waitTerminal(t, q, id)
	assert.Equal(t, job.StateCompleted, st.State)
	assert.Equal(t, 3, st.Attempts)
	assert.JSONEq(t, `{"category":"billing"}`, string(st.Result))
	assert.Equal(t, 1.0, st.Progress)
}

func TestAttemptsNeverExceedMax(t *testing.T) {
	q, _ := newTestQueue(t, job.Options{Concurrency: 2, RateLimit: 100, MaxAttempts: 3,
		Backoff: job.Backoff{Type: job.BackoffExponential, Delay: 5 * time.Millisecond}})
	var calls atomic.Int32
	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, _ ProgressFunc) (interface{}, error) {
		calls.Add(1)
		return nil, errors.New("store timeout")
	}))
	id, err := q.Enqueue(context.Background(), payload(1))
	require.NoError(t, err)
	startPool(t, p)

	st := waitTerminal(t, q, id)
	assert.Equal(t, job.StateFailed, st.State)
	assert.Equal(t, 3, st.Attempts)
	assert.Equal(t, "store timeout", st.FailedReason)

	// 终态之后不再被执行
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	q, _ := newTestQueue(t, job.Options{Concurrency: 1, RateLimit: 100, MaxAttempts: 5})
	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, _ ProgressFunc) (interface{}, error) {
		return nil, xerr.Permanent(errors.New("unknown category"))
	}))
	id, err := q.Enqueue(context.Background(), payload(1))
	require.NoError(t, err)
	startPool(t, p)

	st := waitTerminal(t, q, id)
	assert.Equal(t, job.StateFailed, st.State)
	assert.Equal(t, 1, st.Attempts)
}

func TestInvalidPayloadFailsWithoutProcessing(t *testing.T) {
	q, s := newTestQueue(t, job.Options{Concurrency: 1, RateLimit: 100, MaxAttempts: 3})
	_, err := s.Add(context.Background(), &job.Job{
		ID: "bad", Queue: q.Name(), Kind: job.KindClassification, AccountID: "t1",
		Payload: json.RawMessage(`{"messageId":""}`), MaxAttempts: 3, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	var called atomic.Bool
	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, _ ProgressFunc) (interface{}, error) {
		called.Store(true)
		return nil, nil
	}))
	startPool(t, p)

	st := waitTerminal(t, q, "bad")
	assert.Equal(t, job.StateFailed, st.State)
	assert.Equal(t, 1, st.Attempts)
	assert.False(t, called.Load())
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	q, _ := newTestQueue(t, job.Options{})
	_, err := q.Enqueue(context.Background(), job.ClassificationJob{AccountID: "t1"})
	assert.True(t, xerr.IsPermanent(err))

	_, err = q.Enqueue(context.Background(), job.DraftJob{MessageID: "m", ConversationID: "c", AccountID: "t1", Content: "x"})
	assert.ErrorIs(t, err, xerr.ErrInvalidPayload)

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	q, _ := newTestQueue(t, job.Options{Concurrency: 1, RateLimit: 100, MaxAttempts: 3})
	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, _ ProgressFunc) (interface{}, error) {
		panic("nil map")
	}))
	id, err := q.Enqueue(context.Background(), payload(1))
	require.NoError(t, err)
	startPool(t, p)

	st := waitTerminal(t, q, id)
	assert.Equal(t, job.StateFailed, st.State)
	assert.Contains(t, st.FailedReason, "panic")
}

func TestStalledJobIsReleasedWithoutCountingAttempt(t *testing.T) {
	q, s := newTestQueue(t, job.Options{Concurrency: 2, RateLimit: 1000, MaxAttempts: 1,
		StallTimeout: 100 * time.Millisecond, JobTimeout: time.Second})
	ctx := context.Background()
	id, err := q.Enqueue(ctx, payload(1))
	require.NoError(t, err)

	// 另一个进程领取后崩溃，租约不再续期
	dead, err := s.Lease(ctx, q.Name(), 100*time.Millisecond, time.Now())
	require.NoError(t, err)
	require.NotNil(t, dead)

	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, _ ProgressFunc) (interface{}, error) {
		return "fresh", nil
	}))
	startPool(t, p)

	st := waitTerminal(t, q, id)
	assert.Equal(t, job.StateCompleted, st.State)
	assert.Equal(t, 1, st.Attempts)
	assert.JSONEq(t, `"fresh"`, string(st.Result))
	assert.GreaterOrEqual(t, p.Stats().Stalled, int64(1))

	// 旧租约的迟到结果被拒绝
	err = s.Complete(ctx, q.Name(), id, dead.LeaseToken, 1, json.RawMessage(`"late"`), time.Now())
	assert.ErrorIs(t, err, xerr.ErrLeaseLost)
	st, err = q.Status(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `"fresh"`, string(st.Result))
}

func TestLongRunningJobKeepsLeaseWithoutProgress(t *testing.T) {
	q, _ := newTestQueue(t, job.Options{Concurrency: 2, RateLimit: 1000, MaxAttempts: 3,
		StallTimeout: 100 * time.Millisecond, JobTimeout: 5 * time.Second})
	var calls atomic.Int32
	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, _ ProgressFunc) (interface{}, error) {
		calls.Add(1)
		time.Sleep(400 * time.Millisecond)
		return "slow", nil
	}))
	id, err := q.Enqueue(context.Background(), payload(1))
	require.NoError(t, err)
	startPool(t, p)

	st := waitTerminal(t, q, id)
	assert.Equal(t, job.StateCompleted, st.State)
	assert.Equal(t, 1, st.Attempts)
	assert.JSONEq(t, `"slow"`, string(st.Result))
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, p.Stats().Stalled)
	assert.Zero(t, p.Stats().LeaseLost)
}

func TestPauseStopsNewLeases(t *testing.T) {
	q, _ := newTestQueue(t, job.Options{Concurrency: 1, RateLimit: 100, MaxAttempts: 1})
	var calls atomic.Int32
	p := NewPool(q, ProcessorFunc(func(ctx context.Context, j *job.Job, _ job.Payload, _ ProgressFunc) (interface{}, error) {
		calls.Add(1)
		return nil, nil
	}))
	ctx := context.Background()
	require.NoError(t, q.Pause(ctx))
	id, err := q.Enqueue(ctx, payload(1))
	require.NoError(t, err)
	startPool(t, p)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())

	require.NoError(t, q.Resume(ctx))
	assert.Equal(t, job.StateCompleted, waitTerminal(t, q, id).State)
}

func TestEnqueueWithJobIDDeduplicates(t *testing.T) {
	q, _ := newTestQueue(t, job.Options{})
	ctx := context.Background()
	id1, err := q.Enqueue(ctx, payload(1), WithJobID("cls:m1"))
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, payload(1), WithJobID("cls:m1"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}

func TestRegistryUnknownQueue(t *testing.T) {
	r := NewRegistry()
	q, _ := newTestQueue(t, job.Options{})
	r.Register(q, nil)

	got, err := r.Queue(job.QueueClassification)
	require.NoError(t, err)
	assert.Same(t, q, got)
	_, err = r.Queue("nope")
	assert.ErrorIs(t, err, xerr.ErrUnknownQueue)
	assert.Equal(t, []string{job.QueueClassification}, r.Names())
}
