package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"DeskRelay/internal/modules/conversation/application/dto/respond"
	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/internal/modules/conversation/domain/statemachine"
	queueService "DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/internal/modules/queue/domain/job"
	tenantDomain "DeskRelay/internal/modules/tenant/domain"
	"DeskRelay/pkg/util"
	"DeskRelay/pkg/ws"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

// InboundMessage 一条客户来信。MessageID 由上游提供时用于去重，重复投递不会产生第二条消息
type InboundMessage struct {
	AccountID      string     `json:"accountId"`
	MessageID      string     `json:"messageId,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	InboxID        string     `json:"inboxId" binding:"required"`
	ContactID      string     `json:"contactId" binding:"required"`
	Content        string     `json:"content" binding:"required"`
	Sender         string     `json:"sender,omitempty"`
	Subject        string     `json:"subject,omitempty"`
	CustomerTier   string     `json:"customerTier,omitempty"`
	BusinessHours  *bool      `json:"businessHours,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

type IngestResult struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	JobID          string `json:"jobId"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

type Pipeline struct {
	uow            repository.UnitOfWork
	broadcaster    Broadcaster
	classification Enqueuer
	now            func() time.Time
}

func NewPipeline(uow repository.UnitOfWork, broadcaster Broadcaster, classification Enqueuer) *Pipeline {
	return &Pipeline{uow: uow, broadcaster: broadcaster, classification: classification, now: time.Now}
}

// IngestInbound 落库会话与消息，驱动 customer_message 流转，广播后投递分类任务
func (p *Pipeline) IngestInbound(ctx context.Context, in InboundMessage) (*IngestResult, error) {
	accountID, err := tenantDomain.NormalizeAccountID(in.AccountID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" || strings.TrimSpace(in.InboxID) == "" || strings.TrimSpace(in.ContactID) == "" {
		return nil, xerr.ErrParam
	}
	at := p.now().UTC()
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		at = in.Timestamp.UTC()
	}

	var (
		res        = &IngestResult{}
		msg        *entity.Message
		transition statemachine.Result
		created    bool
	)
	err = p.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		if in.MessageID != "" {
			existing, err := repos.Messages.GetByID(in.MessageID)
			if err == nil {
				msg = existing
				res.Duplicate = true
				return nil
			}
			if !errors.Is(err, xerr.ErrNotFoundRecord) {
				return err
			}
		}

		conv, err := p.findConversation(repos, in)
		if err != nil {
			return err
		}
		if conv == nil {
			conv = &entity.Conversation{
				ID:        util.GenerateUUID(),
				InboxID:   in.InboxID,
				ContactID: in.ContactID,
				Status:    entity.StatusOpen,
				Priority:  entity.PriorityNormal,
				CreatedAt: at,
				UpdatedAt: at,
			}
			if err := repos.Conversations.Create(conv); err != nil {
				return err
			}
			created = true
		}

		msg = &entity.Message{
			ID:             in.MessageID,
			ConversationID: conv.ID,
			SenderType:     entity.SenderContact,
			SenderID:       in.ContactID,
			Content:        in.Content,
			CreatedAt:      at,
		}
		if msg.ID == "" {
			msg.ID = util.GenerateUUID()
		}
		if err := repos.Messages.Create(msg); err != nil {
			return err
		}

		transition = statemachine.Apply(conv, statemachine.Transition{Event: statemachine.EventCustomerMessage, At: at})
		if transition.Changed {
			return repos.Conversations.UpdateState(conv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.ConversationID = msg.ConversationID
	res.MessageID = msg.ID

	if !res.Duplicate {
		p.publish(ws.ConversationScope(accountID, msg.ConversationID), ws.EventMessageCreated, msg)
		if created {
			p.publish(ws.AccountScope(accountID), ws.EventMessageCreated, msg)
		}
		if transition.Changed {
			ev := respond.StatusChange{ConversationID: msg.ConversationID, From: transition.From, To: transition.To, Changed: true}
			p.publish(ws.ConversationScope(accountID, msg.ConversationID), ws.EventConversationStatusChanged, ev)
			p.publish(ws.AccountScope(accountID), ws.EventConversationStatusChanged, ev)
		}
	}

	// 重复投递时任务 ID 相同，入队幂等
	jobID, err := p.classification.Enqueue(ctx, job.ClassificationJob{
		MessageID: msg.ID,
		AccountID: accountID,
		Content:   msg.Content,
		Metadata: &job.ClassificationMetadata{
			Sender:        in.Sender,
			Subject:       in.Subject,
			Timestamp:     &at,
			CustomerTier:  in.CustomerTier,
			BusinessHours: in.BusinessHours,
		},
	}, queueService.WithJobID("classify:"+msg.ID))
	if err != nil {
		zlog.Error("enqueue classification failed",
			zap.String("account_id", accountID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return res, fmt.Errorf("enqueue classification: %w", err)
	}
	res.JobID = jobID

	zlog.Info("inbound message accepted",
		zap.String("account_id", accountID),
		zap.String("conversation_id", res.ConversationID),
		zap.String("message_id", res.MessageID),
		zap.String("job_id", jobID),
		zap.Bool("duplicate", res.Duplicate))
	return res, nil
}

func (p *Pipeline) findConversation(repos repository.Repositories, in InboundMessage) (*entity.Conversation, error) {
	if in.ConversationID != "" {
		return repos.Conversations.GetByID(in.ConversationID)
	}
	return repos.Conversations.FindLatestByContact(in.InboxID, in.ContactID)
}

func (p *Pipeline) publish(scope, eventType string, payload interface{}) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.Publish(scope, eventType, payload)
}
