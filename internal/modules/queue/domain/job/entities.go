package job

import (
	"encoding/json"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// 队列名
const (
	QueueClassification = "classification"
	QueueDraft          = "draft"
	QueueNotification   = "notification"
)

// Job 由队列存储独占维护，worker 只通过 Outcome 汇报结果
type Job struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Kind          string          `json:"kind"`
	AccountID     string          `json:"accountId"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	State         State           `json:"state"`
	Progress      float64         `json:"progress"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailedReason  string          `json:"failedReason,omitempty"`
	StalledCount  int             `json:"stalledCount,omitempty"`
	ManualRetries int             `json:"manualRetries,omitempty"`
	LeaseToken    string          `json:"-"`
	CreatedAt     time.Time       `json:"createdAt"`
	ProcessedAt   *time.Time      `json:"processedAt,omitempty"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	LeaseUntil    *time.Time      `json:"leaseUntil,omitempty"`
	RunAt         *time.Time      `json:"runAt,omitempty"`
}

// Status GetJobStatus 的返回结构
type Status struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	State        State           `json:"state"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	Progress     float64         `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

func (j *Job) Status() *Status {
	return &Status{
		ID:           j.ID,
		Queue:        j.Queue,
		State:        j.State,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		Progress:     j.Progress,
		Result:       j.Result,
		FailedReason: j.FailedReason,
		CreatedAt:    j.CreatedAt,
		ProcessedAt:  j.ProcessedAt,
		FinishedAt:   j.FinishedAt,
	}
}

// Counts 各状态数量
type Counts struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Delayed   int64  `json:"delayed"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Paused    bool   `json:"paused"`
}
