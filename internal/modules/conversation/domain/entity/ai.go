package entity

import "time"

// 分类结果取值
const (
	CategoryBilling   = "billing"
	CategoryTechnical = "technical"
	CategoryAccount   = "account"
	CategoryGeneral   = "general"
	CategoryFeedback  = "feedback"
	CategoryUrgent    = "urgent"
)

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// 草稿审核状态
const (
	DraftPending  = "pending"
	DraftAccepted = "accepted"
	DraftRejected = "rejected"
	DraftEdited   = "edited"
)

func ValidCategory(s string) bool {
	switch s {
	case CategoryBilling, CategoryTechnical, CategoryAccount, CategoryGeneral, CategoryFeedback, CategoryUrgent:
		return true
	}
	return false
}

func ValidPriority(s string) bool {
	switch s {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ValidSentiment(s string) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// AIClassification 只追加，不更新
type AIClassification struct {
	ID              string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	AccountID       string    `gorm:"column:account_id;index;not null;type:varchar(64)"`
	ConversationID  string    `gorm:"column:conversation_id;index;type:varchar(64)"`
	MessageID       string    `gorm:"column:message_id;index;type:varchar(64)"`
	Category        string    `gorm:"column:category;type:varchar(32)"`
	Priority        string    `gorm:"column:priority;type:varchar(16)"`
	Sentiment       string    `gorm:"column:sentiment;type:varchar(16)"`
	Language        string    `gorm:"column:language;type:varchar(16)"`
	Confidence      float64   `gorm:"column:confidence"`
	Reasoning       string    `gorm:"column:reasoning;type:text"`
	SuggestedTeamID string    `gorm:"column:suggested_team_id;type:varchar(64)"`
	SuggestedAgent  string    `gorm:"column:suggested_agent_id;type:varchar(64)"`
	Model           string    `gorm:"column:model;type:varchar(64)"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (AIClassification) TableName() string { return "ai_classifications" }

type AIDraft struct {
	ID             string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	AccountID      string     `gorm:"column:account_id;index;not null;type:varchar(64)"`
	ConversationID string     `gorm:"column:conversation_id;index;type:varchar(64)"`
	MessageID      string     `gorm:"column:message_id;index;type:varchar(64)"`
	AgentID        string     `gorm:"column:agent_id;index;type:varchar(64)"`
	DraftContent   string     `gorm:"column:draft_content;type:text"`
	Alternatives   string     `gorm:"column:alternatives;type:text"` // JSON 数组
	Confidence     float64    `gorm:"column:confidence"`
	Reasoning      string     `gorm:"column:reasoning;type:text"`
	Status         string     `gorm:"column:status;type:varchar(16);index"`
	ReviewedAt     *time.Time `gorm:"column:reviewed_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (AIDraft) TableName() string { return "ai_drafts" }
