package repository

import (
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
)

type ClassificationRepository interface {
	Create(c *entity.AIClassification) error
	ListByConversation(conversationID string) ([]entity.AIClassification, error)
}

type DraftRepository interface {
	Create(d *entity.AIDraft) error
	GetByID(id string) (*entity.AIDraft, error)
	ListByAgent(agentID string, status string) ([]entity.AIDraft, error)
	UpdateReview(id, status, content string, reviewedAt time.Time) error
}
