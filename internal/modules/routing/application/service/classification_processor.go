package service

import (
	"context"
	"errors"
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

// ClassificationOutcome 分类任务的结果
type ClassificationOutcome struct {
	ClassificationID string      `json:"classificationId"`
	ConversationID   string      `json:"conversationId"`
	Category         string      `json:"category"`
	Priority         string      `json:"priority"`
	Sentiment        string      `json:"sentiment"`
	Language         string      `json:"language"`
	Confidence       float64     `json:"confidence"`
	Assignment       *Assignment `json:"assignment,omitempty"`
	DraftJobID       string      `json:"draftJobId,omitempty"`
}

type ClassificationProcessor struct {
	uow        repository.UnitOfWork
	inference  domain.Inference
	assignment *AssignmentService
	dispatcher *Dispatcher
}

func NewClassificationProcessor(uow repository.UnitOfWork, inference domain.Inference, assignment *AssignmentService, dispatcher *Dispatcher) *ClassificationProcessor {
	return &ClassificationProcessor{uow: uow, inference: inference, assignment: assignment, dispatcher: dispatcher}
}

// Process 推理失败直接返回错误交给队列重试，不写入任何默认分类。
// 落库、更新会话、分配坐席在同一租户事务内完成，事务失败时会话保持原状。
func (p *ClassificationProcessor) Process(ctx context.Context, j *job.Job, payload job.Payload, progress queueService.ProgressFunc) (interface{}, error) {
	in, ok := payload.(job.ClassificationJob)
	if !ok {
		return nil, xerr.Permanent(fmt.Errorf("%w: expected classification payload", xerr.ErrInvalidPayload))
	}

	var (
		msg   *entity.Message
		teams []domain.TeamOption
	)
	err := p.uow.Transaction(ctx, in.AccountID, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		msg, err = repos.Messages.GetByID(in.MessageID)
		if err != nil {
			return err
		}
		list, err := repos.Teams.List()
		if err != nil {
			return err
		}
		for _, t := range list {
			teams = append(teams, domain.TeamOption{ID: t.ID, Name: t.Name})
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	progress(0.2)

	cc := domain.ClassifyContext{AccountID: in.AccountID, Teams: teams}
	if md := in.Metadata; md != nil {
		cc.CustomerTier = md.CustomerTier
		cc.BusinessHours = md.BusinessHours
		cc.Sender = md.Sender
		cc.Subject = md.Subject
	}
	result, err := p.inference.Classify(ctx, in.Content, cc)
	if err != nil {
		zlog.Warn("classification inference failed",
			zap.String("job_id", j.ID),
			zap.String("account_id", in.AccountID),
			zap.String("message_id", in.MessageID),
			zap.Int("attempt", j.Attempts+1),
			zap.Bool("permanent", xerr.IsPermanent(err)),
			zap.Error(err))
		return nil, err
	}
	if err := result.Normalize(); err != nil {
		return nil, err
	}
	progress(0.7)

	out := &ClassificationOutcome{
		ConversationID: msg.ConversationID,
		Category:       result.Category,
		Priority:       result.Priority,
		Sentiment:      result.Sentiment,
		Language:       result.Language,
		Confidence:     result.Confidence,
	}
	var conv *entity.Conversation
	err = p.uow.Transaction(ctx, in.AccountID, func(ctx context.Context, repos repository.Repositories) error {
		row := &entity.AIClassification{
			ID:              util.GenerateUUID(),
			ConversationID:  msg.ConversationID,
			MessageID:       msg.ID,
			Category:        result.Category,
			Priority:        result.Priority,
			Sentiment:       result.Sentiment,
			Language:        result.Language,
			Confidence:      result.Confidence,
			Reasoning:       result.Reasoning,
			SuggestedTeamID: result.SuggestedTeamID,
			SuggestedAgent:  result.SuggestedAgentID,
			Model:           result.Model,
		}
		if err := repos.Classifications.Create(row); err != nil {
			return err
		}
		out.ClassificationID = row.ID

		if err := repos.Conversations.UpdateClassification(msg.ConversationID, result.Category, result.Priority, result.Sentiment, result.Confidence); err != nil {
			return err
		}
		var err error
		conv, err = repos.Conversations.GetByID(msg.ConversationID)
		if err != nil {
			return err
		}
		teamID := conv.Team()
		if teamID == "" {
			teamID = result.SuggestedTeamID
		}
		out.Assignment, err = p.assignment.AssignInTx(ctx, repos, conv, teamID, result.SuggestedAgentID)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	progress(0.9)

	p.dispatcher.publish(ws.ConversationScope(in.AccountID, conv.ID), ws.EventClassificationCompleted, out)
	if a := out.Assignment; a != nil {
		if a.Parked {
			p.assignment.Park(ctx, in.AccountID, a.TeamID, conv.ID)
		}
		p.dispatcher.Assigned(ctx, in.AccountID, a)
	}
	out.DraftJobID = p.dispatcher.RequestDraft(ctx, conv, msg)

	zlog.Info("message classified",
		zap.String("job_id", j.ID),
		zap.String("account_id", in.AccountID),
		zap.String("conversation_id", conv.ID),
		zap.String("category", out.Category),
		zap.String("priority", out.Priority),
		zap.String("assignee", conv.Assignee()))
	return out, nil
}

// storeError 记录不存在不会自愈，其他存储错误按可重试处理
func storeError(err error) error {
	if errors.Is(err, xerr.ErrNotFoundRecord) || errors.Is(err, xerr.ErrInvalidScope) || errors.Is(err, xerr.ErrCrossTenant) {
		return xerr.Permanent(err)
	}
	var pe *xerr.ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return xerr.Transient(err)
}
