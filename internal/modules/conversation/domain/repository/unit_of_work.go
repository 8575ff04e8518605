package repository

import "context"

// Repositories 同一租户事务内的仓储集合
type Repositories struct {
	Conversations   ConversationRepository
	Messages        MessageRepository
	Agents          AgentRepository
	Teams           TeamRepository
	Classifications ClassificationRepository
	Drafts          DraftRepository
}

type UnitOfWork interface {
	// Transaction 在 accountID 作用域内执行 fn，ctx 为事务绑定的 context，嵌套调用传入它复用事务
	Transaction(ctx context.Context, accountID string, fn func(ctx context.Context, repos Repositories) error) error
}
