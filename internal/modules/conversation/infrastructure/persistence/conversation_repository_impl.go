package persistence

import (
	"errors"
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/pkg/xerr"

	"gorm.io/gorm"
)

type conversationRepositoryImpl struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) repository.ConversationRepository {
	return &conversationRepositoryImpl{db: db}
}

func (r *conversationRepositoryImpl) Create(c *entity.Conversation) error {
	return r.db.Create(c).Error
}

func (r *conversationRepositoryImpl) GetByID(id string) (*entity.Conversation, error) {
	var c entity.Conversation
	if err := r.db.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrNotFoundRecord
		}
		return nil, err
	}
	return &c, nil
}

func (r *conversationRepositoryImpl) FindLatestByContact(inboxID, contactID string) (*entity.Conversation, error) {
	var list []entity.Conversation
	err := r.db.Where("inbox_id = ? AND contact_id = ?", inboxID, contactID).
		Order("created_at DESC").
		Limit(1).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (r *conversationRepositoryImpl) UpdateState(c *entity.Conversation) error {
	return r.db.Model(&entity.Conversation{}).
		Where("id = ?", c.ID).
		Updates(map[string]interface{}{
			"status":         c.Status,
			"first_reply_at": c.FirstReplyAt,
			"resolved_at":    c.ResolvedAt,
			"snoozed_until":  c.SnoozedUntil,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *conversationRepositoryImpl) UpdateClassification(id string, category, priority, sentiment string, confidence float64) error {
	res := r.db.Model(&entity.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ai_category":   category,
			"priority":      priority,
			"sentiment":     sentiment,
			"ai_confidence": confidence,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return xerr.ErrNotFoundRecord
	}
	return nil
}

func (r *conversationRepositoryImpl) AssignIfUnassigned(id, teamID, assigneeID string) (bool, error) {
	res := r.db.Model(&entity.Conversation{}).
		Where("id = ? AND assignee_id IS NULL", id).
		Updates(map[string]interface{}{
			"team_id":     teamID,
			"assignee_id": assigneeID,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *conversationRepositoryImpl) ClearAssignee(id string) error {
	return r.db.Model(&entity.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"assignee_id": nil,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *conversationRepositoryImpl) ListDueSnoozed(now time.Time, limit int) ([]entity.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	var list []entity.Conversation
	err := r.db.Where("status = ? AND snoozed_until <= ?", entity.StatusSnoozed, now.UTC()).
		Order("snoozed_until ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

type messageRepositoryImpl struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &messageRepositoryImpl{db: db}
}

func (r *messageRepositoryImpl) Create(m *entity.Message) error {
	return r.db.Create(m).Error
}

func (r *messageRepositoryImpl) GetByID(id string) (*entity.Message, error) {
	var m entity.Message
	if err := r.db.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrNotFoundRecord
		}
		return nil, err
	}
	return &m, nil
}

func (r *messageRepositoryImpl) ListRecent(conversationID string, limit int) ([]entity.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []entity.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepositoryImpl) MarkRead(conversationID string) error {
	return r.db.Model(&entity.Message{}).
		Where("conversation_id = ? AND is_read = ?", conversationID, false).
		Update("is_read", true).Error
}
