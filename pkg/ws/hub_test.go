package ws

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, c *Client) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case b, ok := <-c.Messages():
			if !ok {
				return out
			}
			var ev Event
			require.NoError(t, json.Unmarshal(b, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishReachesOnlyScopeSubscribers(t *testing.T) {
	h := NewHub()
	a1 := NewClient("acct-a", "u1", "agent", nil)
	a2 := NewClient("acct-a", "u2", "agent", nil)
	b1 := NewClient("acct-b", "u1", "agent", nil)
	h.Register(a1)
	h.Register(a2)
	h.Register(b1)

	h.Subscribe(ConversationScope("acct-a", "c1"), a1)

	assert.Equal(t, 2, h.Publish(AccountScope("acct-a"), "presence_changed", map[string]string{"agent_id": "u1"}))
	assert.Equal(t, 1, h.Publish(ConversationScope("acct-a", "c1"), "typing_start", nil))
	assert.Equal(t, 1, h.Publish(UserScope("acct-b", "u1"), "conversation_assigned", nil))

	evA1 := drain(t, a1)
	require.Len(t, evA1, 2)
	assert.Equal(t, "presence_changed", evA1[0].Type)
	assert.Equal(t, "typing_start", evA1[1].Type)
	assert.Len(t, drain(t, a2), 1)

	evB1 := drain(t, b1)
	require.Len(t, evB1, 1)
	assert.Equal(t, "conversation_assigned", evB1[0].Type)
}

func TestPublishPreservesOrderPerScope(t *testing.T) {
	h := NewHub()
	c := NewClient("acct", "u", "agent", nil)
	h.Register(c)

	for i := 0; i < 20; i++ {
		h.Publish(AccountScope("acct"), fmt.Sprintf("e%d", i), nil)
	}
	evs := drain(t, c)
	require.Len(t, evs, 20)
	for i, ev := range evs {
		assert.Equal(t, fmt.Sprintf("e%d", i), ev.Type)
	}
}

func TestSlowClientIsDisconnected(t *testing.T) {
	h := NewHub()
	slow := NewClient("acct", "slow", "agent", nil)
	fast := NewClient("acct", "fast", "agent", nil)
	h.Register(slow)
	h.Register(fast)

	for i := 0; i < sendBuffer; i++ {
		h.Publish(UserScope("acct", "slow"), "fill", nil)
	}
	// 缓冲区已满，下一次投递触发断开
	assert.Equal(t, 1, h.Publish(AccountScope("acct"), "overflow", nil))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client should be closed")
	}
	assert.Equal(t, 0, h.UserConnections("acct", "slow"))
	assert.Equal(t, 1, h.UserConnections("acct", "fast"))
	assert.Len(t, drain(t, fast), 1)
}

func TestUnregisterRemovesAllScopes(t *testing.T) {
	h := NewHub()
	c := NewClient("acct", "u", "agent", nil)
	h.Register(c)
	h.Subscribe(ConversationScope("acct", "c1"), c)
	h.Subscribe(ConversationScope("acct", "c2"), c)

	h.Unregister(c)
	h.Unregister(c)

	assert.Equal(t, 0, h.Subscribers(ConversationScope("acct", "c1")))
	assert.Equal(t, 0, h.Subscribers(AccountScope("acct")))
	assert.Equal(t, 0, h.Publish(ConversationScope("acct", "c2"), "x", nil))
}

func TestSubscribeIgnoresUnregisteredClient(t *testing.T) {
	h := NewHub()
	c := NewClient("acct", "u", "agent", nil)
	h.Subscribe(ConversationScope("acct", "c1"), c)
	assert.Equal(t, 0, h.Subscribers(ConversationScope("acct", "c1")))
}
