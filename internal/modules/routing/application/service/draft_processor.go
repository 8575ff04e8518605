package service

import (
	"context"
	"encoding/json"
	"fmt"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	queueService "DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/routing/domain"
	"DeskRelay/pkg/util"
	"DeskRelay/pkg/ws"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

const defaultHistoryLimit = 20

// DraftOutcome 草稿任务的结果，Skipped 表示会话没有处理人
type DraftOutcome struct {
	DraftID        string  `json:"draftId,omitempty"`
	ConversationID string  `json:"conversationId"`
	AgentID        string  `json:"agentId,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Skipped        bool    `json:"skipped,omitempty"`
}

// DraftReadyEvent 只推送给处理人的私有作用域
type DraftReadyEvent struct {
	DraftID        string   `json:"draftId"`
	ConversationID string   `json:"conversationId"`
	MessageID      string   `json:"messageId"`
	Content        string   `json:"content"`
	Alternatives   []string `json:"alternatives,omitempty"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning,omitempty"`
}

type DraftProcessor struct {
	uow          repository.UnitOfWork
	inference    domain.Inference
	broadcaster  Broadcaster
	historyLimit int
}

func NewDraftProcessor(uow repository.UnitOfWork, inference domain.Inference, broadcaster Broadcaster, historyLimit int) *DraftProcessor {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &DraftProcessor{uow: uow, inference: inference, broadcaster: broadcaster, historyLimit: historyLimit}
}

func (p *DraftProcessor) Process(ctx context.Context, j *job.Job, payload job.Payload, progress queueService.ProgressFunc) (interface{}, error) {
	in, ok := payload.(job.DraftJob)
	if !ok {
		return nil, xerr.Permanent(fmt.Errorf("%w: expected draft payload", xerr.ErrInvalidPayload))
	}

	var (
		conv    *entity.Conversation
		history []domain.Turn
	)
	err := p.uow.Transaction(ctx, in.AccountID, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		conv, err = repos.Conversations.GetByID(in.ConversationID)
		if err != nil {
			return err
		}
		if conv.Assignee() == "" {
			return nil
		}
		if in.Context != nil && len(in.Context.ConversationHistory) > 0 {
			for _, t := range in.Context.ConversationHistory {
				history = append(history, domain.Turn{Role: t.Role, Content: t.Content})
			}
			return nil
		}
		msgs, err := repos.Messages.ListRecent(in.ConversationID, p.historyLimit)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			// 当前消息单独作为最后一轮输入
			if m.ID == in.MessageID {
				continue
			}
			history = append(history, domain.Turn{Role: turnRole(m.SenderType), Content: m.Content})
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	if conv.Assignee() == "" {
		zlog.Info("draft skipped, conversation unassigned",
			zap.String("job_id", j.ID),
			zap.String("conversation_id", in.ConversationID))
		return &DraftOutcome{ConversationID: in.ConversationID, Skipped: true}, nil
	}
	progress(0.3)

	dc := domain.DraftContext{AccountID: in.AccountID}
	if in.Context != nil {
		dc.CustomerInfo = in.Context.CustomerInfo
		dc.PreviousTickets = in.Context.PreviousTickets
	}
	result, err := p.inference.GenerateDraft(ctx, in.Content, history, dc)
	if err != nil {
		zlog.Warn("draft inference failed",
			zap.String("job_id", j.ID),
			zap.String("account_id", in.AccountID),
			zap.String("conversation_id", in.ConversationID),
			zap.Bool("permanent", xerr.IsPermanent(err)),
			zap.Error(err))
		return nil, err
	}
	if err := result.Normalize(); err != nil {
		return nil, err
	}
	progress(0.8)

	agentID := conv.Assignee()
	alts, _ := json.Marshal(result.Alternatives)
	draft := &entity.AIDraft{
		ID:             util.GenerateUUID(),
		ConversationID: in.ConversationID,
		MessageID:      in.MessageID,
		AgentID:        agentID,
		DraftContent:   result.Content,
		Alternatives:   string(alts),
		Confidence:     result.Confidence,
		Reasoning:      result.Reasoning,
		Status:         entity.DraftPending,
	}
	err = p.uow.Transaction(ctx, in.AccountID, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Drafts.Create(draft)
	})
	if err != nil {
		return nil, storeError(err)
	}

	// 草稿不是已发送消息，不能进入会话作用域
	if p.broadcaster != nil {
		p.broadcaster.Publish(ws.UserScope(in.AccountID, agentID), ws.EventDraftReady, DraftReadyEvent{
			DraftID:        draft.ID,
			ConversationID: draft.ConversationID,
			MessageID:      draft.MessageID,
			Content:        draft.DraftContent,
			Alternatives:   result.Alternatives,
			Confidence:     draft.Confidence,
			Reasoning:      draft.Reasoning,
		})
	}
	zlog.Info("draft generated",
		zap.String("job_id", j.ID),
		zap.String("account_id", in.AccountID),
		zap.String("conversation_id", in.ConversationID),
		zap.String("agent_id", agentID))
	return &DraftOutcome{DraftID: draft.ID, ConversationID: in.ConversationID, AgentID: agentID, Confidence: draft.Confidence}, nil
}

func turnRole(senderType string) string {
	switch senderType {
	case entity.SenderAgent:
		return "agent"
	case entity.SenderBot:
		return "bot"
	default:
		return "customer"
	}
}
