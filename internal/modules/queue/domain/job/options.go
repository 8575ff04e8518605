package job

import (
	"math"
	"time"
)

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Backoff 重试退避策略
type Backoff struct {
	Type  string
	Delay time.Duration
	Max   time.Duration
}

// Next attempts 为已失败次数（从 1 开始）
func (b Backoff) Next(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := b.Delay
	if b.Type == BackoffExponential {
		d = time.Duration(float64(b.Delay) * math.Pow(2, float64(attempts-1)))
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Options 单个队列的运行参数
type Options struct {
	Concurrency  int
	RateLimit    int
	RateWindow   time.Duration
	MaxAttempts  int
	Backoff      Backoff
	StallTimeout time.Duration
	JobTimeout   time.Duration
	PollInterval time.Duration
}

// Normalize 补齐缺省值
func (o Options) Normalize() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.RateLimit <= 0 {
		o.RateLimit = o.Concurrency
	}
	if o.RateWindow <= 0 {
		o.RateWindow = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = BackoffExponential
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = 5 * time.Minute
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = 30 * time.Second
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	return o
}
