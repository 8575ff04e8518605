package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/queue/domain/repository"
	"DeskRelay/pkg/util"
	"DeskRelay/pkg/xerr"

	"github.com/redis/go-redis/v9"
)

// 单个队列的全部 key 带相同 hash tag，保证落在同一个 slot
type queueKeys struct {
	jobPrefix string
	waiting   string
	active    string
	delayed   string
	completed string
	failed    string
	paused    string
}

type redisJobStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisJobStore prefix 与在线状态使用的 presence:/typing: 前缀相互独立
func NewRedisJobStore(rdb redis.UniversalClient, prefix string) repository.JobStore {
	if prefix == "" {
		prefix = "q"
	}
	return &redisJobStore{rdb: rdb, prefix: prefix}
}

func (s *redisJobStore) keys(queue string) queueKeys {
	base := fmt.Sprintf("%s:{%s}:", s.prefix, queue)
	return queueKeys{
		jobPrefix: base + "job:",
		waiting:   base + "waiting",
		active:    base + "active",
		delayed:   base + "delayed",
		completed: base + "completed",
		failed:    base + "failed",
		paused:    base + "paused",
	}
}

func (s *redisJobStore) Add(ctx context.Context, j *job.Job) (bool, error) {
	k := s.keys(j.Queue)
	args := []interface{}{j.ID,
		"id", j.ID,
		"queue", j.Queue,
		"kind", j.Kind,
		"account_id", j.AccountID,
		"payload", string(j.Payload),
		"attempts", j.Attempts,
		"max_attempts", j.MaxAttempts,
		"state", string(job.StateWaiting),
		"progress", 0,
		"created_at", ms(j.CreatedAt),
	}
	n, err := addScript.Run(ctx, s.rdb, []string{k.jobPrefix + j.ID, k.waiting}, args...).Int()
	if err != nil {
		return false, err
	}
	if n == 1 {
		j.State = job.StateWaiting
	}
	return n == 1, nil
}

func (s *redisJobStore) Lease(ctx context.Context, queue string, leaseFor time.Duration, now time.Time) (*job.Job, error) {
	k := s.keys(queue)
	token := util.GenerateShortUUID()
	leaseUntil := now.Add(leaseFor)
	id, err := leaseScript.Run(ctx, s.rdb, []string{k.waiting, k.active, k.paused},
		k.jobPrefix, ms(leaseUntil), ms(now), token).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, queue, id)
}

func (s *redisJobStore) Get(ctx context.Context, queue, id string) (*job.Job, error) {
	k := s.keys(queue)
	fields, err := s.rdb.HGetAll(ctx, k.jobPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, xerr.ErrJobNotFound
	}
	return decodeJob(fields), nil
}

func (s *redisJobStore) Touch(ctx context.Context, queue, id, token string, progress float64, leaseUntil time.Time) error {
	k := s.keys(queue)
	n, err := touchScript.Run(ctx, s.rdb, []string{k.active, k.jobPrefix + id},
		id, token, strconv.FormatFloat(progress, 'f', -1, 64), ms(leaseUntil)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return xerr.ErrLeaseLost
	}
	return nil
}

func (s *redisJobStore) Complete(ctx context.Context, queue, id, token string, attempts int, result json.RawMessage, now time.Time) error {
	k := s.keys(queue)
	return s.finish(ctx, k, k.completed, id, token, ms(now),
		"state", string(job.StateCompleted),
		"attempts", attempts,
		"progress", 1,
		"result", string(result),
		"finished_at", ms(now),
	)
}

func (s *redisJobStore) Fail(ctx context.Context, queue, id, token string, attempts int, reason string, now time.Time) error {
	k := s.keys(queue)
	return s.finish(ctx, k, k.failed, id, token, ms(now),
		"state", string(job.StateFailed),
		"attempts", attempts,
		"failed_reason", reason,
		"finished_at", ms(now),
	)
}

func (s *redisJobStore) Delay(ctx context.Context, queue, id, token string, attempts int, reason string, runAt time.Time) error {
	k := s.keys(queue)
	return s.finish(ctx, k, k.delayed, id, token, ms(runAt),
		"state", string(job.StateDelayed),
		"attempts", attempts,
		"failed_reason", reason,
		"run_at", ms(runAt),
	)
}

func (s *redisJobStore) finish(ctx context.Context, k queueKeys, target, id, token string, score int64, fields ...interface{}) error {
	args := append([]interface{}{id, token, score}, fields...)
	n, err := finishScript.Run(ctx, s.rdb, []string{k.active, target, k.jobPrefix + id}, args...).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return xerr.ErrLeaseLost
	}
	return nil
}

func (s *redisJobStore) PromoteDelayed(ctx context.Context, queue string, now time.Time) (int, error) {
	k := s.keys(queue)
	return promoteScript.Run(ctx, s.rdb, []string{k.delayed, k.waiting}, ms(now), k.jobPrefix).Int()
}

func (s *redisJobStore) RequeueStalled(ctx context.Context, queue string, now time.Time) ([]string, error) {
	k := s.keys(queue)
	return stalledScript.Run(ctx, s.rdb, []string{k.active, k.waiting}, ms(now), k.jobPrefix).StringSlice()
}

func (s *redisJobStore) Retry(ctx context.Context, queue, id string) error {
	k := s.keys(queue)
	n, err := retryScript.Run(ctx, s.rdb, []string{k.failed, k.waiting, k.jobPrefix + id}, id).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return xerr.ErrJobNotFound
	case 0:
		return xerr.ErrJobNotFailed
	}
	return nil
}

func (s *redisJobStore) RetryAllFailed(ctx context.Context, queue string) (int, error) {
	k := s.keys(queue)
	return retryAllScript.Run(ctx, s.rdb, []string{k.failed, k.waiting}, k.jobPrefix).Int()
}

func (s *redisJobStore) Remove(ctx context.Context, queue, id string) error {
	k := s.keys(queue)
	n, err := removeScript.Run(ctx, s.rdb, []string{k.waiting, k.jobPrefix + id}, id).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return xerr.ErrJobNotFound
	case 0:
		return xerr.ErrJobNotWaiting
	}
	return nil
}

func (s *redisJobStore) Clean(ctx context.Context, queue string, state job.State, olderThan time.Time, limit int) (int, error) {
	k := s.keys(queue)
	var set string
	switch state {
	case job.StateCompleted:
		set = k.completed
	case job.StateFailed:
		set = k.failed
	default:
		return 0, xerr.New(xerr.BadRequest, "only completed or failed jobs can be cleaned")
	}
	if limit <= 0 {
		limit = 1000
	}
	return cleanScript.Run(ctx, s.rdb, []string{set}, ms(olderThan), limit, k.jobPrefix).Int()
}

func (s *redisJobStore) SetPaused(ctx context.Context, queue string, paused bool) error {
	k := s.keys(queue)
	if paused {
		return s.rdb.Set(ctx, k.paused, "1", 0).Err()
	}
	return s.rdb.Del(ctx, k.paused).Err()
}

func (s *redisJobStore) Counts(ctx context.Context, queue string) (*job.Counts, error) {
	k := s.keys(queue)
	pipe := s.rdb.Pipeline()
	waiting := pipe.LLen(ctx, k.waiting)
	active := pipe.ZCard(ctx, k.active)
	delayed := pipe.ZCard(ctx, k.delayed)
	completed := pipe.ZCard(ctx, k.completed)
	failed := pipe.ZCard(ctx, k.failed)
	paused := pipe.Exists(ctx, k.paused)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &job.Counts{
		Queue:     queue,
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Paused:    paused.Val() == 1,
	}, nil
}

func decodeJob(f map[string]string) *job.Job {
	j := &job.Job{
		ID:            f["id"],
		Queue:         f["queue"],
		Kind:          f["kind"],
		AccountID:     f["account_id"],
		State:         job.State(f["state"]),
		Attempts:      atoi(f["attempts"]),
		MaxAttempts:   atoi(f["max_attempts"]),
		StalledCount:  atoi(f["stalled_count"]),
		ManualRetries: atoi(f["manual_retries"]),
		FailedReason:  f["failed_reason"],
		LeaseToken:    f["lease_token"],
		CreatedAt:     fromMs(f["created_at"]),
		ProcessedAt:   optTime(f["processed_at"]),
		FinishedAt:    optTime(f["finished_at"]),
		LeaseUntil:    optTime(f["lease_until"]),
		RunAt:         optTime(f["run_at"]),
	}
	if p := f["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if r := f["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}
	if p, err := strconv.ParseFloat(f["progress"], 64); err == nil {
		j.Progress = p
	}
	return j
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func fromMs(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func optTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := fromMs(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
