package repository

import (
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
)

type AgentRepository interface {
	Create(a *entity.Agent) error
	GetByID(id string) (*entity.Agent, error)
	ListByTeam(teamID string) ([]entity.Agent, error)
	// TryIncrementLoad 条件自增，仅在 current_load < max_capacity 时生效
	TryIncrementLoad(id string) (bool, error)
	DecrementLoad(id string) error
	UpdateAvailability(id, availability string, lastSeenAt *time.Time) error
}

type AccountRepository interface {
	Create(a *entity.Account) error
	List() ([]entity.Account, error)
}

type TeamRepository interface {
	Create(t *entity.Team) error
	GetByID(id string) (*entity.Team, error)
	List() ([]entity.Team, error)
}
