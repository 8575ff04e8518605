package entity

import "time"

// 会话状态
const (
	StatusOpen     = "open"
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusSnoozed  = "snoozed"
)

// 优先级
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// 消息发送方
const (
	SenderContact = "contact"
	SenderAgent   = "agent"
	SenderBot     = "bot"
)

type Conversation struct {
	ID           string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	AccountID    string     `gorm:"column:account_id;index;not null;type:varchar(64)"`
	InboxID      string     `gorm:"column:inbox_id;index;type:varchar(64)"`
	ContactID    string     `gorm:"column:contact_id;index;type:varchar(64)"`
	TeamID       *string    `gorm:"column:team_id;type:varchar(64)"`
	AssigneeID   *string    `gorm:"column:assignee_id;index;type:varchar(64)"`
	Status       string     `gorm:"column:status;type:varchar(16);index;not null"`
	Priority     string     `gorm:"column:priority;type:varchar(16);default:normal"`
	AICategory   *string    `gorm:"column:ai_category;type:varchar(32)"`
	AIConfidence *float64   `gorm:"column:ai_confidence"`
	Sentiment    *string    `gorm:"column:sentiment;type:varchar(16)"`
	FirstReplyAt *time.Time `gorm:"column:first_reply_at"`
	ResolvedAt   *time.Time `gorm:"column:resolved_at"`
	SnoozedUntil *time.Time `gorm:"column:snoozed_until;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

func (c *Conversation) Assignee() string {
	if c == nil || c.AssigneeID == nil {
		return ""
	}
	return *c.AssigneeID
}

func (c *Conversation) Team() string {
	if c == nil || c.TeamID == nil {
		return ""
	}
	return *c.TeamID
}

// Message 创建后只允许修改 Read
type Message struct {
	ID             string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	AccountID      string    `gorm:"column:account_id;index;not null;type:varchar(64)"`
	ConversationID string    `gorm:"column:conversation_id;index;not null;type:varchar(64)"`
	SenderType     string    `gorm:"column:sender_type;type:varchar(16)"`
	SenderID       string    `gorm:"column:sender_id;type:varchar(64)"`
	Content        string    `gorm:"column:content;type:text"`
	Read           bool      `gorm:"column:is_read;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
}

func (Message) TableName() string { return "messages" }
