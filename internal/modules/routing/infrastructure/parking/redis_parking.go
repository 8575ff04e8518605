package parking

import (
	"context"
	"fmt"
	"time"

	"DeskRelay/internal/modules/routing/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "assign:parked"

type redisParkingLot struct {
	rdb redis.UniversalClient
	now func() time.Time
}

// NewRedisParkingLot 每个租户/团队一个 zset，成员为会话 ID，分值为首次停放时间（微秒），不设 TTL
func NewRedisParkingLot(rdb redis.UniversalClient) domain.ParkingLot {
	return &redisParkingLot{rdb: rdb, now: time.Now}
}

func key(accountID, teamID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, accountID, teamID)
}

// Park 重复停放不刷新分值，会话保持原来的排队位置
func (p *redisParkingLot) Park(ctx context.Context, accountID, teamID, conversationID string) error {
	return p.rdb.ZAddNX(ctx, key(accountID, teamID), redis.Z{
		Score:  float64(p.now().UnixMicro()),
		Member: conversationID,
	}).Err()
}

// List 按首次停放时间先后返回，同一时刻按会话 ID
func (p *redisParkingLot) List(ctx context.Context, accountID, teamID string) ([]string, error) {
	return p.rdb.ZRange(ctx, key(accountID, teamID), 0, -1).Result()
}

func (p *redisParkingLot) Remove(ctx context.Context, accountID, teamID, conversationID string) error {
	return p.rdb.ZRem(ctx, key(accountID, teamID), conversationID).Err()
}
