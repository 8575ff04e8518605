package domain

import (
	"context"
	"time"
)

// Transition 坐席在线状态的一次变化
type Transition struct {
	AccountID string
	AgentID   string
	From      string
	To        string
	At        time.Time
}

// PresenceStore 在线与输入状态的临时存储，所有键带 TTL，不做持久化
type PresenceStore interface {
	SetPresence(ctx context.Context, accountID, agentID, status string, ttl time.Duration) error
	// GetPresence 键不存在或已过期时 ok 为 false
	GetPresence(ctx context.Context, accountID, agentID string) (status string, ok bool, err error)
	TouchPresence(ctx context.Context, accountID, agentID string, ttl time.Duration) (bool, error)
	DeletePresence(ctx context.Context, accountID, agentID string) error
	SetTyping(ctx context.Context, accountID, conversationID, userID string, ttl time.Duration) error
	ClearTyping(ctx context.Context, accountID, conversationID, userID string) error
	Typing(ctx context.Context, accountID, conversationID string) ([]string, error)
	// Reset 启动时清空全部在线与输入状态，返回删除的键数
	Reset(ctx context.Context) (int, error)
}
