package persistence

import (
	"errors"
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/pkg/xerr"

	"gorm.io/gorm"
)

type agentRepositoryImpl struct {
	db *gorm.DB
}

func NewAgentRepository(db *gorm.DB) repository.AgentRepository {
	return &agentRepositoryImpl{db: db}
}

func (r *agentRepositoryImpl) Create(a *entity.Agent) error {
	return r.db.Create(a).Error
}

func (r *agentRepositoryImpl) GetByID(id string) (*entity.Agent, error) {
	var a entity.Agent
	if err := r.db.Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrNotFoundRecord
		}
		return nil, err
	}
	return &a, nil
}

func (r *agentRepositoryImpl) ListByTeam(teamID string) ([]entity.Agent, error) {
	var agents []entity.Agent
	err := r.db.Where("team_id = ?", teamID).Order("id ASC").Find(&agents).Error
	return agents, err
}

func (r *agentRepositoryImpl) TryIncrementLoad(id string) (bool, error) {
	res := r.db.Model(&entity.Agent{}).
		Where("id = ? AND current_load < max_capacity", id).
		Updates(map[string]interface{}{
			"current_load": gorm.Expr("current_load + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *agentRepositoryImpl) DecrementLoad(id string) error {
	return r.db.Model(&entity.Agent{}).
		Where("id = ? AND current_load > 0", id).
		Updates(map[string]interface{}{
			"current_load": gorm.Expr("current_load - 1"),
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *agentRepositoryImpl) UpdateAvailability(id, availability string, lastSeenAt *time.Time) error {
	updates := map[string]interface{}{
		"availability": availability,
		"updated_at":   time.Now().UTC(),
	}
	if lastSeenAt != nil {
		updates["last_seen_at"] = lastSeenAt.UTC()
	}
	res := r.db.Model(&entity.Agent{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return xerr.ErrNotFoundRecord
	}
	return nil
}

type teamRepositoryImpl struct {
	db *gorm.DB
}

func NewTeamRepository(db *gorm.DB) repository.TeamRepository {
	return &teamRepositoryImpl{db: db}
}

func (r *teamRepositoryImpl) Create(t *entity.Team) error {
	return r.db.Create(t).Error
}

func (r *teamRepositoryImpl) GetByID(id string) (*entity.Team, error) {
	var t entity.Team
	if err := r.db.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrNotFoundRecord
		}
		return nil, err
	}
	return &t, nil
}

func (r *teamRepositoryImpl) List() ([]entity.Team, error) {
	var list []entity.Team
	err := r.db.Order("id ASC").Find(&list).Error
	return list, err
}

type accountRepositoryImpl struct {
	db *gorm.DB
}

// NewAccountRepository accounts 表不属于任何租户，直接使用未加作用域的连接
func NewAccountRepository(db *gorm.DB) repository.AccountRepository {
	return &accountRepositoryImpl{db: db}
}

func (r *accountRepositoryImpl) Create(a *entity.Account) error {
	return r.db.Create(a).Error
}

func (r *accountRepositoryImpl) List() ([]entity.Account, error) {
	var list []entity.Account
	err := r.db.Order("id ASC").Find(&list).Error
	return list, err
}
