package service

import (
	"context"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/pkg/ws"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

// Broadcaster 实时广播，*ws.Hub 实现
type Broadcaster interface {
	Publish(scope string, eventType string, payload interface{}) int
}

// Enqueuer 任务入队，*service.Queue 实现
type Enqueuer interface {
	Enqueue(ctx context.Context, p job.Payload, opts ...service.EnqueueOption) (string, error)
}

// 通知模板
const (
	TemplateConversationAssigned = "conversation_assigned"
)

// Dispatcher 分配完成后的后续动作：广播、草稿任务、通知任务
type Dispatcher struct {
	broadcaster   Broadcaster
	drafts        Enqueuer
	notifications Enqueuer
}

func NewDispatcher(broadcaster Broadcaster, drafts, notifications Enqueuer) *Dispatcher {
	return &Dispatcher{broadcaster: broadcaster, drafts: drafts, notifications: notifications}
}

func (d *Dispatcher) publish(scope, eventType string, payload interface{}) {
	if d == nil || d.broadcaster == nil {
		return
	}
	d.broadcaster.Publish(scope, eventType, payload)
}

// Assigned 新分配时通知会话观察者与整个账户，并给坐席发送通知
func (d *Dispatcher) Assigned(ctx context.Context, accountID string, a *Assignment) {
	if d == nil || a == nil || !a.Assigned {
		return
	}
	d.publish(ws.ConversationScope(accountID, a.ConversationID), ws.EventConversationAssigned, a)
	d.publish(ws.AccountScope(accountID), ws.EventConversationAssigned, a)

	if d.notifications == nil {
		return
	}
	n := job.NotificationJob{
		AccountID:      accountID,
		Recipient:      a.AgentID,
		Template:       TemplateConversationAssigned,
		ConversationID: a.ConversationID,
		Data:           map[string]string{"teamId": a.TeamID},
	}
	// 同一会话同一坐席只通知一次
	id := "assigned:" + a.ConversationID + ":" + a.AgentID
	if _, err := d.notifications.Enqueue(ctx, n, service.WithJobID(id)); err != nil {
		zlog.Error("enqueue assignment notification failed",
			zap.String("account_id", accountID),
			zap.String("conversation_id", a.ConversationID),
			zap.Error(err))
	}
}

// RequestDraft 会话已有处理人时为该条客户消息生成草稿，同一消息只入队一次
func (d *Dispatcher) RequestDraft(ctx context.Context, conv *entity.Conversation, msg *entity.Message) string {
	if d == nil || d.drafts == nil || conv.Assignee() == "" || msg == nil {
		return ""
	}
	p := job.DraftJob{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		AccountID:      conv.AccountID,
		Content:        msg.Content,
	}
	id, err := d.drafts.Enqueue(ctx, p, service.WithJobID("draft:"+msg.ID))
	if err != nil {
		zlog.Error("enqueue draft failed",
			zap.String("account_id", conv.AccountID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return ""
	}
	return id
}
