package persistence

import (
	"context"

	"DeskRelay/internal/modules/conversation/domain/repository"
	tenantPersistence "DeskRelay/internal/modules/tenant/infrastructure/persistence"

	"gorm.io/gorm"
)

type unitOfWorkImpl struct {
	guard *tenantPersistence.Guard
}

func NewUnitOfWork(guard *tenantPersistence.Guard) repository.UnitOfWork {
	return &unitOfWorkImpl{guard: guard}
}

func (u *unitOfWorkImpl) Transaction(ctx context.Context, accountID string, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return u.guard.Transaction(ctx, accountID, func(tx *gorm.DB) error {
		return fn(tenantPersistence.ScopedContext(tx), NewRepositories(tx))
	})
}

// NewRepositories 基于同一连接构造全部仓储
func NewRepositories(tx *gorm.DB) repository.Repositories {
	return repository.Repositories{
		Conversations:   NewConversationRepository(tx),
		Messages:        NewMessageRepository(tx),
		Agents:          NewAgentRepository(tx),
		Teams:           NewTeamRepository(tx),
		Classifications: NewClassificationRepository(tx),
		Drafts:          NewDraftRepository(tx),
	}
}
