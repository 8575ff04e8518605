package testutil

import "sync"

// Published 一次广播记录
type Published struct {
	Scope   string
	Type    string
	Payload interface{}
}

// Broadcaster 记录所有广播，供断言使用
type Broadcaster struct {
	mu     sync.Mutex
	events []Published
}

func (b *Broadcaster) Publish(scope string, eventType string, payload interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Published{Scope: scope, Type: eventType, Payload: payload})
	return 1
}

func (b *Broadcaster) Events() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.events))
	copy(out, b.events)
	return out
}

// OfType 按类型过滤
func (b *Broadcaster) OfType(eventType string) []Published {
	var out []Published
	for _, e := range b.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// InScope 按作用域过滤
func (b *Broadcaster) InScope(scope string) []Published {
	var out []Published
	for _, e := range b.Events() {
		if e.Scope == scope {
			out = append(out, e)
		}
	}
	return out
}
