package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ProgressFunc 上报 [0,1] 进度，同时续租
type ProgressFunc func(progress float64)

// Processor 执行单个任务，返回值序列化为任务结果
type Processor interface {
	Process(ctx context.Context, j *job.Job, payload job.Payload, progress ProgressFunc) (interface{}, error)
}

type ProcessorFunc func(ctx context.Context, j *job.Job, payload job.Payload, progress ProgressFunc) (interface{}, error)

func (f ProcessorFunc) Process(ctx context.Context, j *job.Job, payload job.Payload, progress ProgressFunc) (interface{}, error) {
	return f(ctx, j, payload, progress)
}

// outcome 每次执行产生一个，由唯一的状态更新协程落库
type outcome struct {
	job    *job.Job
	result json.RawMessage
	err    error
	at     time.Time
}

// Stats 进程内累计计数
type Stats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Stalled   int64 `json:"stalled"`
	LeaseLost int64 `json:"leaseLost"`
	Active    int64 `json:"active"`
}

type Pool struct {
	queue   *Queue
	proc    Processor
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	results chan outcome
	running atomic.Bool

	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	stalled   atomic.Int64
	leaseLost atomic.Int64
	active    atomic.Int64
}

// NewPool 并发上限用信号量控制，启动速率用令牌桶控制，两者互相独立。
// 令牌桶容量为 1，相邻两次启动间隔不小于 window/N，任意 window 内最多启动 N 个任务。
func NewPool(q *Queue, proc Processor) *Pool {
	opts := q.Options()
	every := opts.RateWindow / time.Duration(opts.RateLimit)
	return &Pool{
		queue:   q,
		proc:    proc,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter: rate.NewLimiter(rate.Every(every), 1),
		results: make(chan outcome, opts.Concurrency),
	}
}

func (p *Pool) Queue() *Queue { return p.queue }

func (p *Pool) Stats() Stats {
	return Stats{
		Started:   p.started.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
		Stalled:   p.stalled.Load(),
		LeaseLost: p.leaseLost.Load(),
		Active:    p.active.Load(),
	}
}

// Run 阻塞直到 ctx 取消；取消后不再领取新任务，等待进行中的任务结束并落库后返回
func (p *Pool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("worker pool already running")
	}
	defer p.running.Store(false)

	opts := p.queue.Options()
	zlog.Info("worker pool started",
		zap.String("queue", p.queue.Name()),
		zap.Int("concurrency", opts.Concurrency),
		zap.Int("rate_limit", opts.RateLimit),
		zap.Duration("rate_window", opts.RateWindow))

	updaterDone := make(chan struct{})
	go func() {
		defer close(updaterDone)
		for o := range p.results {
			p.apply(o)
		}
	}()

	maintCtx, cancelMaint := context.WithCancel(context.Background())
	maintDone := make(chan struct{})
	go func() {
		defer close(maintDone)
		p.maintain(maintCtx)
	}()

	var wg sync.WaitGroup
	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			break
		}
		j, err := p.next(ctx)
		if err != nil {
			p.sem.Release(1)
			break
		}
		p.started.Add(1)
		wg.Add(1)
		go func(j *job.Job) {
			defer wg.Done()
			defer p.sem.Release(1)
			p.results <- p.execute(ctx, j)
		}(j)
	}

	wg.Wait()
	close(p.results)
	<-updaterDone
	cancelMaint()
	<-maintDone
	zlog.Info("worker pool stopped", zap.String("queue", p.queue.Name()))
	return nil
}

// next 先取令牌再租任务；队列为空时下一轮重新取令牌，保证启动间隔
func (p *Pool) next(ctx context.Context) (*job.Job, error) {
	opts := p.queue.Options()
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		j, err := p.queue.store.Lease(ctx, p.queue.Name(), opts.StallTimeout, p.queue.now())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zlog.Warn("worker pool lease failed", zap.String("queue", p.queue.Name()), zap.Error(err))
		}
		if j != nil {
			return j, nil
		}
		timer := time.NewTimer(opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-p.queue.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (p *Pool) execute(ctx context.Context, j *job.Job) (out outcome) {
	out.job = j
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			zlog.Error("worker pool job panicked",
				zap.String("queue", j.Queue),
				zap.String("job_id", j.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			out.err = xerr.Permanent(fmt.Errorf("panic: %v", r))
		}
		out.at = p.queue.now()
	}()

	payload, err := job.Decode(j.Kind, j.Payload)
	if err != nil {
		out.err = err
		return out
	}
	if payload.Account() != j.AccountID {
		out.err = xerr.Permanent(fmt.Errorf("%w: payload account does not match job", xerr.ErrInvalidPayload))
		return out
	}

	opts := p.queue.Options()
	// 关闭进程时不打断正在执行的任务，只受任务超时约束
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.JobTimeout)
	defer cancel()

	lease := &leaseKeeper{pool: p, job: j, progress: j.Progress}
	report := func(v float64) {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		lease.touch(jobCtx, &v)
	}
	keepCtx, stopKeep := context.WithCancel(jobCtx)
	keepDone := make(chan struct{})
	go func() {
		defer close(keepDone)
		lease.keepAlive(keepCtx, opts.StallTimeout)
	}()
	defer func() {
		stopKeep()
		<-keepDone
	}()

	res, err := p.proc.Process(jobCtx, j, payload, report)
	if err != nil {
		out.err = err
		return out
	}
	if res != nil {
		b, err := json.Marshal(res)
		if err != nil {
			out.err = xerr.Permanent(fmt.Errorf("marshal result: %w", err))
			return out
		}
		out.result = b
	}
	return out
}

// leaseKeeper 处理器运行期间续租。进度上报和定时续租共用同一把锁，进度不会被旧值覆盖
type leaseKeeper struct {
	pool     *Pool
	job      *job.Job
	mu       sync.Mutex
	progress float64
}

// touch progress 为 nil 时只续租，沿用最近一次上报的进度
func (l *leaseKeeper) touch(ctx context.Context, progress *float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if progress != nil {
		l.progress = *progress
	}
	j := l.job
	leaseUntil := l.pool.queue.now().Add(l.pool.queue.Options().StallTimeout)
	err := l.pool.queue.store.Touch(ctx, j.Queue, j.ID, j.LeaseToken, l.progress, leaseUntil)
	if err != nil && ctx.Err() == nil {
		zlog.Warn("worker pool lease renewal failed",
			zap.String("queue", j.Queue),
			zap.String("job_id", j.ID),
			zap.Error(err))
	}
	return err
}

// keepAlive 每 stallTimeout/3 续租一次，租约已被回收时停止
func (l *leaseKeeper) keepAlive(ctx context.Context, stallTimeout time.Duration) {
	interval := stallTimeout / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.touch(ctx, nil); errors.Is(err, xerr.ErrLeaseLost) {
				return
			}
		}
	}
}

// apply 只在状态更新协程中调用
func (p *Pool) apply(o outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j := o.job
	store := p.queue.store
	attempts := j.Attempts + 1
	maxAttempts := j.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.queue.Options().MaxAttempts
	}
	fields := []zap.Field{
		zap.String("queue", j.Queue),
		zap.String("job_id", j.ID),
		zap.String("account_id", j.AccountID),
		zap.Int("attempts", attempts),
	}

	var err error
	switch {
	case o.err == nil:
		err = store.Complete(ctx, j.Queue, j.ID, j.LeaseToken, attempts, o.result, o.at)
		if err == nil {
			p.completed.Add(1)
			zlog.Info("job completed", fields...)
		}
	case xerr.IsPermanent(o.err) || attempts >= maxAttempts:
		reason := scrubReason(o.err.Error())
		err = store.Fail(ctx, j.Queue, j.ID, j.LeaseToken, attempts, reason, o.at)
		if err == nil {
			p.failed.Add(1)
			zlog.Warn("job failed", append(fields, zap.Bool("permanent", xerr.IsPermanent(o.err)), zap.String("reason", reason))...)
		}
	default:
		delay := p.queue.Options().Backoff.Next(attempts)
		reason := scrubReason(o.err.Error())
		err = store.Delay(ctx, j.Queue, j.ID, j.LeaseToken, attempts, reason, o.at.Add(delay))
		if err == nil {
			p.retried.Add(1)
			zlog.Info("job delayed for retry", append(fields, zap.Duration("backoff", delay), zap.String("reason", reason))...)
		}
	}

	if errors.Is(err, xerr.ErrLeaseLost) {
		p.leaseLost.Add(1)
		zlog.Warn("job outcome discarded, lease lost", fields...)
		return
	}
	if err != nil {
		zlog.Error("job outcome persist failed", append(fields, zap.Error(err))...)
	}
}

// maintain 定期把到期的 delayed 任务放回 waiting，并回收租约过期的 active 任务
func (p *Pool) maintain(ctx context.Context) {
	opts := p.queue.Options()
	interval := opts.PollInterval
	if half := opts.StallTimeout / 2; half < interval {
		interval = half
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	name := p.queue.Name()
	now := p.queue.now()
	n, err := p.queue.store.PromoteDelayed(ctx, name, now)
	if err != nil && ctx.Err() == nil {
		zlog.Warn("promote delayed jobs failed", zap.String("queue", name), zap.Error(err))
	}
	if n > 0 {
		p.queue.wake()
	}

	ids, err := p.queue.store.RequeueStalled(ctx, name, now)
	if err != nil && ctx.Err() == nil {
		zlog.Warn("requeue stalled jobs failed", zap.String("queue", name), zap.Error(err))
		return
	}
	for _, id := range ids {
		p.stalled.Add(1)
		zlog.Warn("job stalled, returned to waiting",
			zap.String("queue", name),
			zap.String("job_id", id),
			zap.Error(xerr.ErrStallTimeout))
	}
	if len(ids) > 0 {
		p.queue.wake()
	}
}

// scrubReason 失败原因写入任务记录前去掉可能的密钥并截断
func scrubReason(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown error"
	}
	low := strings.ToLower(s)
	if strings.Contains(low, "api_key") || strings.Contains(low, "apikey") || strings.Contains(low, "secret") || strings.Contains(s, "sk-") {
		return "redacted"
	}
	if len(s) > 255 {
		return s[:255]
	}
	return s
}
