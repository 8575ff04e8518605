package service

import (
	"context"
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/internal/modules/realtime/domain"
	"DeskRelay/pkg/ws"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

const transitionBuffer = 256

// Broadcaster 实时广播，*ws.Hub 实现
type Broadcaster interface {
	Publish(scope string, eventType string, payload interface{}) int
}

// PresenceEvent presence_changed 事件内容
type PresenceEvent struct {
	AgentID  string    `json:"agentId"`
	Status   string    `json:"status"`
	Previous string    `json:"previous"`
	At       time.Time `json:"at"`
}

// TypingEvent typing_start / typing_stop 事件内容
type TypingEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Expired        bool   `json:"expired,omitempty"`
}

type PresenceTracker struct {
	uow         repository.UnitOfWork
	store       domain.PresenceStore
	broadcaster Broadcaster
	ttl         time.Duration
	window      time.Duration
	typing      *typingRegistry
	transitions chan domain.Transition
	now         func() time.Time
}

func NewPresenceTracker(uow repository.UnitOfWork, store domain.PresenceStore, broadcaster Broadcaster, ttl, typingWindow time.Duration) *PresenceTracker {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if typingWindow <= 0 {
		typingWindow = 5 * time.Second
	}
	return &PresenceTracker{
		uow:         uow,
		store:       store,
		broadcaster: broadcaster,
		ttl:         ttl,
		window:      typingWindow,
		typing:      newTypingRegistry(typingWindow),
		transitions: make(chan domain.Transition, transitionBuffer),
		now:         time.Now,
	}
}

// Transitions 在线状态发生变化时的事件流，由分配重评估消费
func (t *PresenceTracker) Transitions() <-chan domain.Transition {
	return t.transitions
}

// ReportPresence 写入临时在线状态与坐席行，广播到账户作用域。状态确有变化时发出 Transition
func (t *PresenceTracker) ReportPresence(ctx context.Context, accountID, agentID, status string) error {
	if !entity.ValidAvailability(status) || agentID == "" {
		return xerr.ErrParam
	}
	now := t.now().UTC()

	previous := entity.AvailabilityOffline
	if cached, ok, err := t.store.GetPresence(ctx, accountID, agentID); err != nil {
		zlog.Warn("presence read failed", zap.String("account_id", accountID), zap.String("agent_id", agentID), zap.Error(err))
	} else if ok {
		previous = cached
	}

	err := t.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		var lastSeen *time.Time
		if status == entity.AvailabilityOffline {
			lastSeen = &now
		}
		return repos.Agents.UpdateAvailability(agentID, status, lastSeen)
	})
	if err != nil {
		return err
	}

	if status == entity.AvailabilityOffline {
		err = t.store.DeletePresence(ctx, accountID, agentID)
	} else {
		err = t.store.SetPresence(ctx, accountID, agentID, status, t.ttl)
	}
	if err != nil {
		zlog.Warn("presence write failed", zap.String("account_id", accountID), zap.String("agent_id", agentID), zap.Error(err))
	}

	t.publish(ws.AccountScope(accountID), ws.EventPresenceChanged, PresenceEvent{
		AgentID:  agentID,
		Status:   status,
		Previous: previous,
		At:       now,
	})

	if previous != status {
		tr := domain.Transition{AccountID: accountID, AgentID: agentID, From: previous, To: status, At: now}
		select {
		case t.transitions <- tr:
		default:
			// 缓冲已满时丢弃，不阻塞上报方。会话释放坐席时仍会重评估
			zlog.Warn("presence transition dropped",
				zap.String("account_id", accountID), zap.String("agent_id", agentID), zap.String("to", status))
		}
	}
	return nil
}

// Heartbeat 续期在线状态，键已过期时返回 false，客户端需要重新上报
func (t *PresenceTracker) Heartbeat(ctx context.Context, accountID, agentID string) (bool, error) {
	return t.store.TouchPresence(ctx, accountID, agentID, t.ttl)
}

// ReportTyping 开始输入会重置该用户在会话内的计时器，窗口内没有续期时自动发出一次 typing_stop
func (t *PresenceTracker) ReportTyping(ctx context.Context, connID string, key TypingKey, isTyping bool) {
	scope := ws.ConversationScope(key.AccountID, key.ConversationID)
	ev := TypingEvent{UserID: key.UserID, ConversationID: key.ConversationID}

	if !isTyping {
		if t.typing.stop(key) {
			t.clearTyping(ctx, key)
			t.publish(scope, ws.EventTypingStop, ev)
		}
		return
	}

	fresh := t.typing.start(connID, key, t.typingExpired)
	if err := t.store.SetTyping(ctx, key.AccountID, key.ConversationID, key.UserID, t.window); err != nil {
		zlog.Warn("typing write failed", zap.String("account_id", key.AccountID), zap.Error(err))
	}
	if fresh {
		t.publish(scope, ws.EventTypingStart, ev)
	}
}

func (t *PresenceTracker) typingExpired(key TypingKey) {
	t.clearTyping(context.Background(), key)
	t.publish(ws.ConversationScope(key.AccountID, key.ConversationID), ws.EventTypingStop, TypingEvent{
		UserID:         key.UserID,
		ConversationID: key.ConversationID,
		Expired:        true,
	})
}

func (t *PresenceTracker) clearTyping(ctx context.Context, key TypingKey) {
	if err := t.store.ClearTyping(ctx, key.AccountID, key.ConversationID, key.UserID); err != nil {
		zlog.Warn("typing clear failed", zap.String("account_id", key.AccountID), zap.Error(err))
	}
}

// Disconnect 取消连接的输入计时器，不发出 typing_stop。
// lastAgentConn 为 true 时坐席下线并记录 last_seen_at。
func (t *PresenceTracker) Disconnect(ctx context.Context, connID, accountID, agentID string, lastAgentConn bool) error {
	for _, key := range t.typing.dropConn(connID) {
		t.clearTyping(ctx, key)
	}
	if !lastAgentConn || agentID == "" {
		return nil
	}
	return t.ReportPresence(ctx, accountID, agentID, entity.AvailabilityOffline)
}

// ResetOnBoot 进程启动时清空上一次运行残留的在线状态，任务队列不受影响
func (t *PresenceTracker) ResetOnBoot(ctx context.Context) error {
	n, err := t.store.Reset(ctx)
	if err != nil {
		return err
	}
	zlog.Info("presence store reset", zap.Int("keys", n))
	return nil
}

func (t *PresenceTracker) publish(scope, eventType string, payload interface{}) {
	if t.broadcaster == nil {
		return
	}
	t.broadcaster.Publish(scope, eventType, payload)
}
