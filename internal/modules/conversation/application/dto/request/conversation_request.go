package request

import "time"

type SnoozeRequest struct {
	Until time.Time `json:"until" binding:"required"`
}

type ReplyRequest struct {
	Content string `json:"content" binding:"required"`
}
