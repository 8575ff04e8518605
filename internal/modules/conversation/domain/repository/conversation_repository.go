package repository

import (
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
)

type ConversationRepository interface {
	Create(c *entity.Conversation) error
	GetByID(id string) (*entity.Conversation, error)
	// FindLatestByContact 返回该联系人在收件箱下最近的会话，不存在时返回 nil, nil
	FindLatestByContact(inboxID, contactID string) (*entity.Conversation, error)
	UpdateState(c *entity.Conversation) error
	UpdateClassification(id string, category, priority, sentiment string, confidence float64) error
	// AssignIfUnassigned 仅在 assignee_id 为空时写入，返回是否写入成功
	AssignIfUnassigned(id, teamID, assigneeID string) (bool, error)
	ClearAssignee(id string) error
	ListDueSnoozed(now time.Time, limit int) ([]entity.Conversation, error)
}

type MessageRepository interface {
	Create(m *entity.Message) error
	GetByID(id string) (*entity.Message, error)
	// ListRecent 最近 limit 条消息，按时间正序返回
	ListRecent(conversationID string, limit int) ([]entity.Message, error)
	MarkRead(conversationID string) error
}
