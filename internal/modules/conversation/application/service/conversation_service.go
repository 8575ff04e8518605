package service

import (
	"context"
	"strings"
	"time"

	"DeskRelay/internal/modules/conversation/application/dto/respond"
	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/internal/modules/conversation/domain/statemachine"
	"DeskRelay/pkg/util"
	"DeskRelay/pkg/ws"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

const wakeBatch = 100

// Broadcaster 实时广播，*ws.Hub 实现
type Broadcaster interface {
	Publish(scope string, eventType string, payload interface{}) int
}

// LoadReleaser 会话结束时在同一事务内归还坐席名额
type LoadReleaser interface {
	Release(repos repository.Repositories, conv *entity.Conversation) error
}

// CapacityListener 团队释放名额后重新分配等待中的会话
type CapacityListener interface {
	Reevaluate(ctx context.Context, accountID, teamID string) (int, error)
}

type ConversationService interface {
	Resolve(ctx context.Context, accountID, conversationID string) (*respond.StatusChange, error)
	Snooze(ctx context.Context, accountID, conversationID string, until time.Time) (*respond.StatusChange, error)
	MarkPending(ctx context.Context, accountID, conversationID string) (*respond.StatusChange, error)
	Wake(ctx context.Context, accountID, conversationID string) (*respond.StatusChange, error)
	AgentReply(ctx context.Context, accountID, conversationID, agentID, content string) (*respond.ReplyRespond, error)
	// WakeDue 唤醒所有租户中 snoozed_until 已到期的会话
	WakeDue(ctx context.Context, now time.Time) (int, error)
}

type conversationServiceImpl struct {
	uow         repository.UnitOfWork
	accounts    repository.AccountRepository
	broadcaster Broadcaster
	releaser    LoadReleaser
	capacity    CapacityListener
	now         func() time.Time
}

func NewConversationService(uow repository.UnitOfWork, accounts repository.AccountRepository, broadcaster Broadcaster, releaser LoadReleaser, capacity CapacityListener) ConversationService {
	return &conversationServiceImpl{
		uow:         uow,
		accounts:    accounts,
		broadcaster: broadcaster,
		releaser:    releaser,
		capacity:    capacity,
		now:         time.Now,
	}
}

// Resolve 结束会话并释放处理人名额，处理人被清空，客户再次来信时重新分配
func (s *conversationServiceImpl) Resolve(ctx context.Context, accountID, conversationID string) (*respond.StatusChange, error) {
	var teamID string
	change, err := s.transition(ctx, accountID, conversationID, statemachine.Transition{Event: statemachine.EventResolve},
		func(repos repository.Repositories, conv *entity.Conversation) error {
			if conv.Assignee() == "" {
				return nil
			}
			teamID = conv.Team()
			if s.releaser != nil {
				if err := s.releaser.Release(repos, conv); err != nil {
					return err
				}
			}
			return repos.Conversations.ClearAssignee(conv.ID)
		})
	if err != nil {
		return nil, err
	}
	if change.Changed && teamID != "" && s.capacity != nil {
		if _, err := s.capacity.Reevaluate(ctx, accountID, teamID); err != nil {
			zlog.Warn("reevaluate after resolve failed",
				zap.String("account_id", accountID),
				zap.String("team_id", teamID),
				zap.Error(err))
		}
	}
	return change, nil
}

func (s *conversationServiceImpl) Snooze(ctx context.Context, accountID, conversationID string, until time.Time) (*respond.StatusChange, error) {
	if until.IsZero() {
		return nil, xerr.ErrParam
	}
	return s.transition(ctx, accountID, conversationID, statemachine.Transition{Event: statemachine.EventSnooze, Until: until}, nil)
}

func (s *conversationServiceImpl) MarkPending(ctx context.Context, accountID, conversationID string) (*respond.StatusChange, error) {
	return s.transition(ctx, accountID, conversationID, statemachine.Transition{Event: statemachine.EventMarkPending}, nil)
}

// Wake 人工唤醒，不检查 snoozed_until
func (s *conversationServiceImpl) Wake(ctx context.Context, accountID, conversationID string) (*respond.StatusChange, error) {
	return s.transition(ctx, accountID, conversationID, statemachine.Transition{Event: statemachine.EventWake, Manual: true}, nil)
}

// transition 非法流转不报错，返回 Changed=false 与当前状态
func (s *conversationServiceImpl) transition(ctx context.Context, accountID, conversationID string, t statemachine.Transition,
	after func(repos repository.Repositories, conv *entity.Conversation) error) (*respond.StatusChange, error) {
	if t.At.IsZero() {
		t.At = s.now()
	}
	var res statemachine.Result
	err := s.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		conv, err := repos.Conversations.GetByID(conversationID)
		if err != nil {
			return err
		}
		res = statemachine.Apply(conv, t)
		if !res.Changed {
			return nil
		}
		if err := repos.Conversations.UpdateState(conv); err != nil {
			return err
		}
		if after != nil {
			return after(repos, conv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	change := &respond.StatusChange{ConversationID: conversationID, From: res.From, To: res.To, Changed: res.Changed}
	if change.Changed {
		s.publishStatus(accountID, change)
	}
	return change, nil
}

func (s *conversationServiceImpl) AgentReply(ctx context.Context, accountID, conversationID, agentID, content string) (*respond.ReplyRespond, error) {
	if strings.TrimSpace(content) == "" || agentID == "" {
		return nil, xerr.ErrParam
	}
	now := s.now().UTC()
	var (
		msg *entity.Message
		res statemachine.Result
	)
	err := s.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		conv, err := repos.Conversations.GetByID(conversationID)
		if err != nil {
			return err
		}
		if conv.Status == entity.StatusResolved {
			return xerr.ErrIllegalTransit
		}
		msg = &entity.Message{
			ID:             util.GenerateUUID(),
			ConversationID: conv.ID,
			SenderType:     entity.SenderAgent,
			SenderID:       agentID,
			Content:        content,
			Read:           true,
			CreatedAt:      now,
		}
		if err := repos.Messages.Create(msg); err != nil {
			return err
		}
		if err := repos.Messages.MarkRead(conv.ID); err != nil {
			return err
		}
		res = statemachine.Apply(conv, statemachine.Transition{Event: statemachine.EventAgentReply, At: now})
		if res.Changed {
			return repos.Conversations.UpdateState(conv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ws.ConversationScope(accountID, conversationID), ws.EventMessageCreated, msg)
	return &respond.ReplyRespond{MessageID: msg.ID, ConversationID: conversationID, FirstReply: res.Changed}, nil
}

func (s *conversationServiceImpl) WakeDue(ctx context.Context, now time.Time) (int, error) {
	accounts, err := s.accounts.List()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, a := range accounts {
		n, err := s.wakeAccount(ctx, a.ID, now)
		if err != nil {
			zlog.Error("wake snoozed conversations failed", zap.String("account_id", a.ID), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

func (s *conversationServiceImpl) wakeAccount(ctx context.Context, accountID string, now time.Time) (int, error) {
	var woken []*respond.StatusChange
	err := s.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		due, err := repos.Conversations.ListDueSnoozed(now, wakeBatch)
		if err != nil {
			return err
		}
		for i := range due {
			conv := &due[i]
			res := statemachine.Apply(conv, statemachine.Transition{Event: statemachine.EventWake, At: now})
			if !res.Changed {
				continue
			}
			if err := repos.Conversations.UpdateState(conv); err != nil {
				return err
			}
			woken = append(woken, &respond.StatusChange{ConversationID: conv.ID, From: res.From, To: res.To, Changed: true})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, c := range woken {
		s.publishStatus(accountID, c)
	}
	if len(woken) > 0 {
		zlog.Info("snoozed conversations woken", zap.String("account_id", accountID), zap.Int("count", len(woken)))
	}
	return len(woken), nil
}

func (s *conversationServiceImpl) publishStatus(accountID string, change *respond.StatusChange) {
	s.publish(ws.ConversationScope(accountID, change.ConversationID), ws.EventConversationStatusChanged, change)
	s.publish(ws.AccountScope(accountID), ws.EventConversationStatusChanged, change)
}

func (s *conversationServiceImpl) publish(scope, eventType string, payload interface{}) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(scope, eventType, payload)
}
