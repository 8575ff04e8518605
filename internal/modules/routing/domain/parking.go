package domain

import "context"

// ParkingLot 暂存找不到可用坐席的会话，按租户与团队分组，等待下一次在线状态变化时重新分配
type ParkingLot interface {
	Park(ctx context.Context, accountID, teamID, conversationID string) error
	List(ctx context.Context, accountID, teamID string) ([]string, error)
	Remove(ctx context.Context, accountID, teamID, conversationID string) error
}

// LivePresence 坐席的临时在线状态，键不存在或已过期时 ok 为 false。realtime 模块的 PresenceStore 实现
type LivePresence interface {
	GetPresence(ctx context.Context, accountID, agentID string) (status string, ok bool, err error)
}
