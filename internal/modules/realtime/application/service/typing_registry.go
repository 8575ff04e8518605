package service

import (
	"sync"
	"time"
)

// TypingKey 一个用户在一个会话内的输入状态
type TypingKey struct {
	AccountID      string
	UserID         string
	ConversationID string
}

type typingEntry struct {
	connID string
	gen    uint64
	timer  *time.Timer
}

// typingRegistry 按连接归属的输入计时器。
// 每次 start 递增 gen，过期回调只在 gen 未变时生效，因此一个输入窗口最多产生一次过期事件。
type typingRegistry struct {
	mu      sync.Mutex
	window  time.Duration
	gen     uint64
	entries map[TypingKey]*typingEntry
	byConn  map[string]map[TypingKey]struct{}
}

func newTypingRegistry(window time.Duration) *typingRegistry {
	return &typingRegistry{
		window:  window,
		entries: make(map[TypingKey]*typingEntry),
		byConn:  make(map[string]map[TypingKey]struct{}),
	}
}

// start 开始或续期，返回是否为新的输入窗口。onExpire 在窗口内没有续期时调用一次
func (r *typingRegistry) start(connID string, key TypingKey, onExpire func(TypingKey)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	gen := r.gen
	fresh := true
	if e, ok := r.entries[key]; ok {
		e.timer.Stop()
		fresh = false
		if e.connID != connID {
			r.detachLocked(e.connID, key)
		}
	}
	e := &typingEntry{connID: connID, gen: gen}
	e.timer = time.AfterFunc(r.window, func() {
		if r.expire(key, gen) {
			onExpire(key)
		}
	})
	r.entries[key] = e
	set := r.byConn[connID]
	if set == nil {
		set = make(map[TypingKey]struct{})
		r.byConn[connID] = set
	}
	set[key] = struct{}{}
	return fresh
}

func (r *typingRegistry) expire(key TypingKey, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(r.entries, key)
	r.detachLocked(e.connID, key)
	return true
}

// stop 显式结束，返回此前是否处于输入状态
func (r *typingRegistry) stop(key TypingKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.entries, key)
	r.detachLocked(e.connID, key)
	return true
}

// dropConn 取消连接的全部计时器，不触发过期回调
func (r *typingRegistry) dropConn(connID string) []TypingKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byConn[connID]
	keys := make([]TypingKey, 0, len(set))
	for key := range set {
		if e, ok := r.entries[key]; ok && e.connID == connID {
			e.timer.Stop()
			delete(r.entries, key)
			keys = append(keys, key)
		}
	}
	delete(r.byConn, connID)
	return keys
}

func (r *typingRegistry) detachLocked(connID string, key TypingKey) {
	if set := r.byConn[connID]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(r.byConn, connID)
		}
	}
}

func (r *typingRegistry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
