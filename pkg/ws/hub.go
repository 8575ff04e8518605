package ws

import (
	"encoding/json"
	"sync"
	"time"

	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

// 事件类型
const (
	EventMessageCreated            = "message_created"
	EventClassificationCompleted   = "classification_completed"
	EventDraftReady                = "draft_ready"
	EventConversationAssigned      = "conversation_assigned"
	EventConversationStatusChanged = "conversation_status_changed"
	EventPresenceChanged           = "presence_changed"
	EventTypingStart               = "typing_start"
	EventTypingStop                = "typing_stop"
)

// 广播作用域前缀
const (
	scopeAccount      = "account:"
	scopeConversation = "conversation:"
	scopeUser         = "user:"
)

// AccountScope 账户级广播
func AccountScope(accountID string) string {
	return scopeAccount + accountID
}

// ConversationScope 会话 ID 全局唯一，仍带上账户前缀保证跨租户不可达
func ConversationScope(accountID, conversationID string) string {
	return scopeConversation + accountID + ":" + conversationID
}

// UserScope 单用户广播
func UserScope(accountID, userID string) string {
	return scopeUser + accountID + ":" + userID
}

// Event 下发给客户端的事件帧
type Event struct {
	Type    string      `json:"type"`
	Scope   string      `json:"scope"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

type Hub struct {
	mu     sync.RWMutex
	scopes map[string]map[*Client]struct{}
	users  map[string]map[*Client]struct{}
	now    func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		scopes: make(map[string]map[*Client]struct{}),
		users:  make(map[string]map[*Client]struct{}),
		now:    time.Now,
	}
}

// Register 注册连接，并自动订阅账户与用户作用域
func (h *Hub) Register(c *Client) {
	if c == nil || c.accountID == "" || c.userID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := userKey(c.accountID, c.userID)
	set := h.users[key]
	if set == nil {
		set = make(map[*Client]struct{})
		h.users[key] = set
	}
	set[c] = struct{}{}
	h.subscribeLocked(AccountScope(c.accountID), c)
	h.subscribeLocked(UserScope(c.accountID, c.userID), c)
}

func (h *Hub) Subscribe(scope string, c *Client) {
	if c == nil || scope == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[userKey(c.accountID, c.userID)][c]; !ok {
		return
	}
	h.subscribeLocked(scope, c)
}

func (h *Hub) subscribeLocked(scope string, c *Client) {
	set := h.scopes[scope]
	if set == nil {
		set = make(map[*Client]struct{})
		h.scopes[scope] = set
	}
	set[c] = struct{}{}
	c.scopes[scope] = struct{}{}
}

func (h *Hub) Unsubscribe(scope string, c *Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(scope, c)
}

func (h *Hub) unsubscribeLocked(scope string, c *Client) {
	if set := h.scopes[scope]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.scopes, scope)
		}
	}
	delete(c.scopes, scope)
}

// Unregister 移除连接的全部订阅并关闭连接，可重复调用
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	for scope := range c.scopes {
		h.unsubscribeLocked(scope, c)
	}
	key := userKey(c.accountID, c.userID)
	if set := h.users[key]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, key)
		}
	}
	h.mu.Unlock()
	c.close()
}

// Publish 向作用域内所有连接投递事件，返回成功投递数。
// 缓冲区满的连接会被断开，不阻塞其他订阅者。
func (h *Hub) Publish(scope string, eventType string, payload interface{}) int {
	if scope == "" || eventType == "" {
		return 0
	}
	b, err := json.Marshal(Event{Type: eventType, Scope: scope, Payload: payload, At: h.now().UTC()})
	if err != nil {
		zlog.Error("ws publish marshal failed", zap.Error(err), zap.String("type", eventType))
		return 0
	}

	// 写锁串行化同一 hub 上的发布，保证每个订阅者看到一致的顺序
	delivered := 0
	var slow []*Client
	h.mu.Lock()
	for c := range h.scopes[scope] {
		select {
		case c.send <- b:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		zlog.Warn("ws client send buffer full, disconnecting",
			zap.String("conn_id", c.id),
			zap.String("account_id", c.accountID),
			zap.String("user_id", c.userID))
		h.Unregister(c)
	}
	return delivered
}

// Send 只发给单个连接，用于应答与错误帧
func (h *Hub) Send(c *Client, eventType string, payload interface{}) bool {
	if c == nil {
		return false
	}
	b, err := json.Marshal(Event{Type: eventType, Payload: payload, At: h.now().UTC()})
	if err != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.users[userKey(c.accountID, c.userID)][c]; !ok {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// UserConnections 用户当前在线连接数
func (h *Hub) UserConnections(accountID, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userKey(accountID, userID)])
}

// Subscribers 作用域订阅数
func (h *Hub) Subscribers(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes[scope])
}

func userKey(accountID, userID string) string {
	return accountID + "/" + userID
}
