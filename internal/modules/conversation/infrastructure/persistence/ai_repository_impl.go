package persistence

import (
	"errors"
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/pkg/xerr"

	"gorm.io/gorm"
)

type classificationRepositoryImpl struct {
	db *gorm.DB
}

func NewClassificationRepository(db *gorm.DB) repository.ClassificationRepository {
	return &classificationRepositoryImpl{db: db}
}

func (r *classificationRepositoryImpl) Create(c *entity.AIClassification) error {
	return r.db.Create(c).Error
}

func (r *classificationRepositoryImpl) ListByConversation(conversationID string) ([]entity.AIClassification, error) {
	var list []entity.AIClassification
	err := r.db.Where("conversation_id = ?", conversationID).Order("created_at ASC").Find(&list).Error
	return list, err
}

type draftRepositoryImpl struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) repository.DraftRepository {
	return &draftRepositoryImpl{db: db}
}

func (r *draftRepositoryImpl) Create(d *entity.AIDraft) error {
	return r.db.Create(d).Error
}

func (r *draftRepositoryImpl) GetByID(id string) (*entity.AIDraft, error) {
	var d entity.AIDraft
	if err := r.db.Where("id = ?", id).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrNotFoundRecord
		}
		return nil, err
	}
	return &d, nil
}

func (r *draftRepositoryImpl) ListByAgent(agentID string, status string) ([]entity.AIDraft, error) {
	q := r.db.Where("agent_id = ?", agentID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []entity.AIDraft
	err := q.Order("created_at DESC").Find(&list).Error
	return list, err
}

func (r *draftRepositoryImpl) UpdateReview(id, status, content string, reviewedAt time.Time) error {
	updates := map[string]interface{}{
		"status":      status,
		"reviewed_at": reviewedAt.UTC(),
		"updated_at":  time.Now().UTC(),
	}
	if content != "" {
		updates["draft_content"] = content
	}
	return r.db.Model(&entity.AIDraft{}).Where("id = ?", id).Updates(updates).Error
}
