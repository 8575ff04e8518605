package repository

import (
	"context"
	"encoding/json"
	"time"

	"DeskRelay/internal/modules/queue/domain/job"
)

// JobStore 任务状态的唯一持有者。所有状态迁移都是原子的，
// 依赖租约令牌的迁移在令牌不匹配时返回 xerr.ErrLeaseLost。
type JobStore interface {
	// Add 新任务进入 waiting 尾部；同 ID 已存在时返回 false
	Add(ctx context.Context, j *job.Job) (bool, error)
	// Lease 从 waiting 头部取出一个任务置为 active，队列暂停或为空时返回 nil
	Lease(ctx context.Context, queue string, leaseFor time.Duration, now time.Time) (*job.Job, error)
	Get(ctx context.Context, queue, id string) (*job.Job, error)
	// Touch 更新进度并续租
	Touch(ctx context.Context, queue, id, token string, progress float64, leaseUntil time.Time) error
	Complete(ctx context.Context, queue, id, token string, attempts int, result json.RawMessage, now time.Time) error
	Fail(ctx context.Context, queue, id, token string, attempts int, reason string, now time.Time) error
	Delay(ctx context.Context, queue, id, token string, attempts int, reason string, runAt time.Time) error
	// PromoteDelayed 到期的 delayed 任务回到 waiting 尾部
	PromoteDelayed(ctx context.Context, queue string, now time.Time) (int, error)
	// RequeueStalled 租约过期的 active 任务回到 waiting 头部，不计入 attempts
	RequeueStalled(ctx context.Context, queue string, now time.Time) ([]string, error)
	Retry(ctx context.Context, queue, id string) error
	RetryAllFailed(ctx context.Context, queue string) (int, error)
	// Remove 只能删除 waiting 状态的任务
	Remove(ctx context.Context, queue, id string) error
	Clean(ctx context.Context, queue string, state job.State, olderThan time.Time, limit int) (int, error)
	SetPaused(ctx context.Context, queue string, paused bool) error
	Counts(ctx context.Context, queue string) (*job.Counts, error)
}
