package domain

import "context"

// Notification 发给外部通知通道的一条消息
type Notification struct {
	AccountID      string            `json:"accountId"`
	Recipient      string            `json:"recipient"`
	Template       string            `json:"template"`
	ConversationID string            `json:"conversationId,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
}

// NotificationSender 外部通知通道，返回通道侧的消息 ID。
// 返回 xerr.Permanent 包装的错误时不再重试。
type NotificationSender interface {
	Send(ctx context.Context, n Notification) (string, error)
}
