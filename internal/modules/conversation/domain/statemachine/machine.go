// Package statemachine 会话状态流转。非法流转是无操作，便于容忍重复投递的事件。
package statemachine

import (
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
)

type Event string

const (
	EventAgentReply      Event = "agent_reply"
	EventResolve         Event = "resolve"
	EventCustomerMessage Event = "customer_message"
	EventSnooze          Event = "snooze"
	EventMarkPending     Event = "mark_pending"
	EventWake            Event = "wake"
)

// Transition 一次流转输入。Until 仅用于 snooze；Manual 表示人工唤醒，忽略 snoozed_until
type Transition struct {
	Event  Event
	At     time.Time
	Until  time.Time
	Manual bool
}

// Result 流转前后状态
type Result struct {
	From    string
	To      string
	Changed bool
}

// Apply 就地修改会话并返回结果，未发生变化时会话保持原样
func Apply(c *entity.Conversation, t Transition) Result {
	res := Result{From: c.Status, To: c.Status}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	switch t.Event {
	case EventAgentReply:
		if c.Status == entity.StatusOpen && c.FirstReplyAt == nil {
			c.FirstReplyAt = &at
			res.Changed = true
		}
	case EventResolve:
		if c.Status == entity.StatusOpen || c.Status == entity.StatusPending {
			c.Status = entity.StatusResolved
			c.ResolvedAt = &at
			res.Changed = true
		}
	case EventCustomerMessage:
		switch c.Status {
		case entity.StatusResolved:
			c.Status = entity.StatusOpen
			c.ResolvedAt = nil
			res.Changed = true
		case entity.StatusSnoozed:
			c.Status = entity.StatusOpen
			c.SnoozedUntil = nil
			res.Changed = true
		}
	case EventSnooze:
		if (c.Status == entity.StatusOpen || c.Status == entity.StatusPending) && t.Until.After(at) {
			until := t.Until.UTC()
			c.Status = entity.StatusSnoozed
			c.SnoozedUntil = &until
			res.Changed = true
		}
	case EventMarkPending:
		if c.Status == entity.StatusOpen {
			c.Status = entity.StatusPending
			res.Changed = true
		}
	case EventWake:
		if c.Status == entity.StatusSnoozed && (t.Manual || Due(c, at)) {
			c.Status = entity.StatusOpen
			c.SnoozedUntil = nil
			res.Changed = true
		}
	}
	res.To = c.Status
	return res
}

// Due snoozed_until 已到期
func Due(c *entity.Conversation, now time.Time) bool {
	return c.SnoozedUntil != nil && !now.Before(*c.SnoozedUntil)
}
