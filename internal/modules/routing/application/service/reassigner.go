package service

import (
	"context"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	realtimeDomain "DeskRelay/internal/modules/realtime/domain"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

// Reassigner 坐席上线或释放名额时，把团队中等待的会话重新分配。不轮询
type Reassigner struct {
	uow        repository.UnitOfWork
	assignment *AssignmentService
	dispatcher *Dispatcher
}

func NewReassigner(uow repository.UnitOfWork, assignment *AssignmentService, dispatcher *Dispatcher) *Reassigner {
	return &Reassigner{uow: uow, assignment: assignment, dispatcher: dispatcher}
}

// Run 消费在线状态变化直到 ctx 取消或通道关闭
func (r *Reassigner) Run(ctx context.Context, transitions <-chan realtimeDomain.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			if tr.To != entity.AvailabilityOnline {
				continue
			}
			if _, err := r.OnAgentOnline(ctx, tr.AccountID, tr.AgentID); err != nil {
				zlog.Error("reassign on presence failed",
					zap.String("account_id", tr.AccountID),
					zap.String("agent_id", tr.AgentID),
					zap.Error(err))
			}
		}
	}
}

// OnAgentOnline 重新评估该坐席所在团队的等待会话
func (r *Reassigner) OnAgentOnline(ctx context.Context, accountID, agentID string) (int, error) {
	var teamID string
	err := r.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		a, err := repos.Agents.GetByID(agentID)
		if err != nil {
			return err
		}
		teamID = a.TeamID
		return nil
	})
	if err != nil || teamID == "" {
		return 0, err
	}
	return r.Reevaluate(ctx, accountID, teamID)
}

// Reevaluate 按停放先后逐个分配，直到团队没有可用坐席。返回新分配数
func (r *Reassigner) Reevaluate(ctx context.Context, accountID, teamID string) (int, error) {
	ids, err := r.assignment.Parked(ctx, accountID, teamID)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for _, id := range ids {
		res, err := r.assignment.Assign(ctx, accountID, id, teamID)
		if err != nil {
			zlog.Warn("reassign parked conversation failed",
				zap.String("account_id", accountID),
				zap.String("conversation_id", id),
				zap.Error(err))
			continue
		}
		if res.Parked {
			// 团队已满，剩余会话继续等待
			break
		}
		if !res.Assigned {
			// 已被其他路径分配或已结束
			r.assignment.Unpark(ctx, accountID, teamID, id)
			continue
		}
		assigned++
		r.dispatcher.Assigned(ctx, accountID, res)
		r.requestDraftForLatest(ctx, accountID, id)
	}
	if assigned > 0 {
		zlog.Info("parked conversations reassigned",
			zap.String("account_id", accountID),
			zap.String("team_id", teamID),
			zap.Int("assigned", assigned))
	}
	return assigned, nil
}

// requestDraftForLatest 等待期间到达的最后一条客户消息补生成草稿
func (r *Reassigner) requestDraftForLatest(ctx context.Context, accountID, conversationID string) {
	var (
		conv *entity.Conversation
		last *entity.Message
	)
	err := r.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		conv, err = repos.Conversations.GetByID(conversationID)
		if err != nil {
			return err
		}
		msgs, err := repos.Messages.ListRecent(conversationID, 1)
		if err != nil {
			return err
		}
		if len(msgs) == 1 && msgs[0].SenderType == entity.SenderContact {
			last = &msgs[0]
		}
		return nil
	})
	if err != nil {
		zlog.Warn("load conversation for draft failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	if last != nil {
		r.dispatcher.RequestDraft(ctx, conv, last)
	}
}
