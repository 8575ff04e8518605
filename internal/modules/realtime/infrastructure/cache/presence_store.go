package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"DeskRelay/internal/modules/realtime/domain"

	"github.com/redis/go-redis/v9"
)

// 与任务队列的 q: 前缀分开，Reset 只清理这两类键
const (
	presencePrefix = "presence"
	typingPrefix   = "typing"
	scanBatch      = 500
)

type redisPresenceStore struct {
	rdb redis.UniversalClient
}

func NewRedisPresenceStore(rdb redis.UniversalClient) domain.PresenceStore {
	return &redisPresenceStore{rdb: rdb}
}

func presenceKey(accountID, agentID string) string {
	return fmt.Sprintf("%s:%s:%s", presencePrefix, accountID, agentID)
}

func typingKey(accountID, conversationID, userID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", typingPrefix, accountID, conversationID, userID)
}

func (s *redisPresenceStore) SetPresence(ctx context.Context, accountID, agentID, status string, ttl time.Duration) error {
	return s.rdb.Set(ctx, presenceKey(accountID, agentID), status, ttl).Err()
}

func (s *redisPresenceStore) GetPresence(ctx context.Context, accountID, agentID string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, presenceKey(accountID, agentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// TouchPresence 心跳续期，键已过期时返回 false
func (s *redisPresenceStore) TouchPresence(ctx context.Context, accountID, agentID string, ttl time.Duration) (bool, error) {
	return s.rdb.Expire(ctx, presenceKey(accountID, agentID), ttl).Result()
}

func (s *redisPresenceStore) DeletePresence(ctx context.Context, accountID, agentID string) error {
	return s.rdb.Del(ctx, presenceKey(accountID, agentID)).Err()
}

func (s *redisPresenceStore) SetTyping(ctx context.Context, accountID, conversationID, userID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, typingKey(accountID, conversationID, userID), "1", ttl).Err()
}

func (s *redisPresenceStore) ClearTyping(ctx context.Context, accountID, conversationID, userID string) error {
	return s.rdb.Del(ctx, typingKey(accountID, conversationID, userID)).Err()
}

// Typing 返回会话内正在输入的用户，按 ID 排序
func (s *redisPresenceStore) Typing(ctx context.Context, accountID, conversationID string) ([]string, error) {
	prefix := typingKey(accountID, conversationID, "")
	keys, err := s.scan(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, prefix))
	}
	sort.Strings(users)
	return users, nil
}

func (s *redisPresenceStore) Reset(ctx context.Context) (int, error) {
	removed := 0
	for _, pattern := range []string{presencePrefix + ":*", typingPrefix + ":*"} {
		keys, err := s.scan(ctx, pattern)
		if err != nil {
			return removed, err
		}
		for start := 0; start < len(keys); start += scanBatch {
			end := start + scanBatch
			if end > len(keys) {
				end = len(keys)
			}
			n, err := s.rdb.Del(ctx, keys[start:end]...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
	}
	return removed, nil
}

func (s *redisPresenceStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
