package service

import (
	"context"
	"errors"
	"fmt"

	"DeskRelay/internal/modules/conversation/domain/repository"
	queueService "DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/routing/domain"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

type NotificationOutcome struct {
	NotificationID string `json:"notificationId"`
	Recipient      string `json:"recipient"`
}

type NotificationProcessor struct {
	uow    repository.UnitOfWork
	sender domain.NotificationSender
}

func NewNotificationProcessor(uow repository.UnitOfWork, sender domain.NotificationSender) *NotificationProcessor {
	return &NotificationProcessor{uow: uow, sender: sender}
}

// Process 收件人为坐席 ID 时解析为坐席邮箱，找不到坐席则原样投递
func (p *NotificationProcessor) Process(ctx context.Context, j *job.Job, payload job.Payload, progress queueService.ProgressFunc) (interface{}, error) {
	in, ok := payload.(job.NotificationJob)
	if !ok {
		return nil, xerr.Permanent(fmt.Errorf("%w: expected notification payload", xerr.ErrInvalidPayload))
	}

	recipient := in.Recipient
	data := make(map[string]string, len(in.Data)+1)
	for k, v := range in.Data {
		data[k] = v
	}
	err := p.uow.Transaction(ctx, in.AccountID, func(ctx context.Context, repos repository.Repositories) error {
		agent, err := repos.Agents.GetByID(in.Recipient)
		if err != nil {
			if errors.Is(err, xerr.ErrNotFoundRecord) {
				return nil
			}
			return err
		}
		if agent.Email != "" {
			recipient = agent.Email
		}
		data["agentName"] = agent.Name
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	progress(0.5)

	id, err := p.sender.Send(ctx, domain.Notification{
		AccountID:      in.AccountID,
		Recipient:      recipient,
		Template:       in.Template,
		ConversationID: in.ConversationID,
		Data:           data,
	})
	if err != nil {
		zlog.Warn("notification send failed",
			zap.String("job_id", j.ID),
			zap.String("account_id", in.AccountID),
			zap.String("template", in.Template),
			zap.Bool("permanent", xerr.IsPermanent(err)),
			zap.Error(err))
		return nil, err
	}
	return &NotificationOutcome{NotificationID: id, Recipient: recipient}, nil
}
