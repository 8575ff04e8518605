package scheduler

import (
	"context"
	"sync"
	"time"

	"DeskRelay/pkg/zlog"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Waker interface {
	WakeDue(ctx context.Context, now time.Time) (int, error)
}

type Cleaner interface {
	CleanAll(ctx context.Context, retention time.Duration)
}

type Options struct {
	// WakeSpec 到期会话唤醒周期，cron 表达式或 @every
	WakeSpec  string
	CleanSpec string
	Retention time.Duration
}

// SchedulerManager 周期任务：唤醒到期的 snoozed 会话、清理过期的完成/失败任务
type SchedulerManager struct {
	cron    *cron.Cron
	waker   Waker
	cleaner Cleaner
	opts    Options

	mu      sync.Mutex
	running map[string]bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewSchedulerManager(waker Waker, cleaner Cleaner, opts Options) *SchedulerManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerManager{
		// 标准5段 Cron 表达式（不含秒）
		cron:    cron.New(),
		waker:   waker,
		cleaner: cleaner,
		opts:    opts,
		running: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *SchedulerManager) Start() error {
	if m.waker != nil && m.opts.WakeSpec != "" {
		if _, err := m.cron.AddFunc(m.opts.WakeSpec, m.guarded("wake", m.wake)); err != nil {
			return err
		}
	}
	if m.cleaner != nil && m.opts.CleanSpec != "" {
		if _, err := m.cron.AddFunc(m.opts.CleanSpec, m.guarded("clean", m.clean)); err != nil {
			return err
		}
	}
	m.cron.Start()
	zlog.Info("scheduler started",
		zap.String("wake", m.opts.WakeSpec),
		zap.String("clean", m.opts.CleanSpec))
	return nil
}

// Stop 等待正在执行的任务结束
func (m *SchedulerManager) Stop() {
	m.cancel()
	<-m.cron.Stop().Done()
}

// guarded 同名任务上一轮未结束时跳过本轮
func (m *SchedulerManager) guarded(name string, fn func(ctx context.Context)) func() {
	return func() {
		m.mu.Lock()
		if m.running[name] {
			m.mu.Unlock()
			zlog.Warn("scheduled task still running, skipped", zap.String("task", name))
			return
		}
		m.running[name] = true
		m.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				zlog.Error("scheduled task panic", zap.String("task", name), zap.Any("panic", r))
			}
			m.mu.Lock()
			delete(m.running, name)
			m.mu.Unlock()
		}()
		fn(m.ctx)
	}
}

func (m *SchedulerManager) wake(ctx context.Context) {
	if _, err := m.waker.WakeDue(ctx, time.Now()); err != nil {
		zlog.Error("wake due conversations failed", zap.Error(err))
	}
}

func (m *SchedulerManager) clean(ctx context.Context) {
	retention := m.opts.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	m.cleaner.CleanAll(ctx, retention)
}
