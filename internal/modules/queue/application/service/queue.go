package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/queue/domain/repository"
	"DeskRelay/pkg/util"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

// EnqueueOption 入队参数
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	jobID string
}

// WithJobID 指定任务 ID，同 ID 重复入队时返回已存在的任务
func WithJobID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.jobID = strings.TrimSpace(id) }
}

// Queue 单个命名队列的入队与运维操作
type Queue struct {
	name   string
	kind   string
	opts   job.Options
	store  repository.JobStore
	now    func() time.Time
	notify chan struct{}
}

func NewQueue(name, kind string, opts job.Options, store repository.JobStore) *Queue {
	return &Queue{
		name:   name,
		kind:   kind,
		opts:   opts.Normalize(),
		store:  store,
		now:    time.Now,
		notify: make(chan struct{}, 1),
	}
}

func (q *Queue) Name() string         { return q.name }
func (q *Queue) Options() job.Options { return q.opts }

// Enqueue 校验载荷后写入 waiting，载荷非法时返回不可重试错误且不入队
func (q *Queue) Enqueue(ctx context.Context, p job.Payload, opts ...EnqueueOption) (string, error) {
	if p == nil {
		return "", xerr.Permanent(xerr.ErrInvalidPayload)
	}
	if p.Kind() != q.kind {
		return "", xerr.Permanent(fmt.Errorf("%w: kind %q not accepted by queue %q", xerr.ErrInvalidPayload, p.Kind(), q.name))
	}
	if err := p.Validate(); err != nil {
		zlog.Warn("queue enqueue rejected invalid payload", zap.String("queue", q.name), zap.Error(err))
		return "", err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", xerr.Permanent(fmt.Errorf("%w: %w", xerr.ErrInvalidPayload, err))
	}

	var o enqueueOptions
	for _, fn := range opts {
		fn(&o)
	}
	id := o.jobID
	if id == "" {
		id = util.GenerateUUID()
	}
	j := &job.Job{
		ID:          id,
		Queue:       q.name,
		Kind:        p.Kind(),
		AccountID:   p.Account(),
		Payload:     raw,
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   q.now().UTC(),
	}
	added, err := q.store.Add(ctx, j)
	if err != nil {
		return "", err
	}
	if !added {
		zlog.Info("queue enqueue deduplicated", zap.String("queue", q.name), zap.String("job_id", id))
		return id, nil
	}
	q.wake()
	zlog.Info("queue job enqueued",
		zap.String("queue", q.name),
		zap.String("job_id", id),
		zap.String("account_id", j.AccountID))
	return id, nil
}

// wake 通知本进程的 worker 立即拉取，避免等待下一次轮询
func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) Get(ctx context.Context, id string) (*job.Job, error) {
	return q.store.Get(ctx, q.name, id)
}

func (q *Queue) Status(ctx context.Context, id string) (*job.Status, error) {
	j, err := q.store.Get(ctx, q.name, id)
	if err != nil {
		return nil, err
	}
	return j.Status(), nil
}

func (q *Queue) Retry(ctx context.Context, id string) error {
	if err := q.store.Retry(ctx, q.name, id); err != nil {
		return err
	}
	q.wake()
	zlog.Info("queue job retried", zap.String("queue", q.name), zap.String("job_id", id))
	return nil
}

func (q *Queue) RetryAllFailed(ctx context.Context) (int, error) {
	n, err := q.store.RetryAllFailed(ctx, q.name)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.wake()
	}
	zlog.Info("queue failed jobs retried", zap.String("queue", q.name), zap.Int("count", n))
	return n, nil
}

// Pause 停止新的租约，进行中的任务继续执行完
func (q *Queue) Pause(ctx context.Context) error {
	zlog.Info("queue paused", zap.String("queue", q.name))
	return q.store.SetPaused(ctx, q.name, true)
}

func (q *Queue) Resume(ctx context.Context) error {
	if err := q.store.SetPaused(ctx, q.name, false); err != nil {
		return err
	}
	q.wake()
	zlog.Info("queue resumed", zap.String("queue", q.name))
	return nil
}

// Clean 删除 retention 之前结束的 completed 与 failed 任务
func (q *Queue) Clean(ctx context.Context, retention time.Duration, limit int) (int, error) {
	cutoff := q.now().Add(-retention)
	total := 0
	for _, st := range []job.State{job.StateCompleted, job.StateFailed} {
		n, err := q.store.Clean(ctx, q.name, st, cutoff, limit)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		zlog.Info("queue cleaned", zap.String("queue", q.name), zap.Int("count", total), zap.Duration("retention", retention))
	}
	return total, nil
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Remove(ctx, q.name, id)
}

func (q *Queue) Counts(ctx context.Context) (*job.Counts, error) {
	return q.store.Counts(ctx, q.name)
}
