package service

import (
	"context"
	"sort"
	"time"

	"DeskRelay/internal/config"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Registry 管理全部命名队列及其 worker pool
type Registry struct {
	queues map[string]*Queue
	pools  map[string]*Pool
}

func NewRegistry() *Registry {
	return &Registry{
		queues: make(map[string]*Queue),
		pools:  make(map[string]*Pool),
	}
}

// Register proc 为 nil 时只注册队列（仅入队，不在本进程消费）
func (r *Registry) Register(q *Queue, proc Processor) {
	r.queues[q.Name()] = q
	if proc != nil {
		r.pools[q.Name()] = NewPool(q, proc)
	}
}

func (r *Registry) Queue(name string) (*Queue, error) {
	q, ok := r.queues[name]
	if !ok {
		return nil, xerr.ErrUnknownQueue
	}
	return q, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run 并行运行所有 pool，直到 ctx 取消
func (r *Registry) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range r.pools {
		p := p
		g.Go(func() error { return p.Run(gctx) })
	}
	return g.Wait()
}

func (r *Registry) Stats() map[string]Stats {
	out := make(map[string]Stats, len(r.pools))
	for name, p := range r.pools {
		out[name] = p.Stats()
	}
	return out
}

// CleanAll 定时任务入口
func (r *Registry) CleanAll(ctx context.Context, retention time.Duration) {
	for _, name := range r.Names() {
		if _, err := r.queues[name].Clean(ctx, retention, 1000); err != nil {
			zlog.Warn("queue clean failed", zap.String("queue", name), zap.Error(err))
		}
	}
}

// OptionsFromConfig 将配置转换为队列参数
func OptionsFromConfig(c config.QueueOptions, pollIntervalMillis int) job.Options {
	return job.Options{
		Concurrency: c.Concurrency,
		RateLimit:   c.RateLimit,
		RateWindow:  time.Duration(c.RateWindowMillis) * time.Millisecond,
		MaxAttempts: c.MaxAttempts,
		Backoff: job.Backoff{
			Type:  c.BackoffType,
			Delay: time.Duration(c.BackoffDelayMillis) * time.Millisecond,
		},
		StallTimeout: time.Duration(c.StallTimeoutSeconds) * time.Second,
		JobTimeout:   time.Duration(c.JobTimeoutSeconds) * time.Second,
		PollInterval: time.Duration(pollIntervalMillis) * time.Millisecond,
	}
}
