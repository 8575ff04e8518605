package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/internal/modules/routing/domain"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

const maxAssignAttempts = 3

// ResolveAssignee 从团队坐席中选出一个：只考虑在线且未满载的坐席，按负载比升序、ID 升序。
// preferred 只在负载比相同的坐席之间优先。没有可选坐席时返回空串。不修改负载。
func ResolveAssignee(agents []entity.Agent, preferred string, exclude map[string]bool) string {
	candidates := make([]entity.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Availability != entity.AvailabilityOnline || !a.HasCapacity() || exclude[a.ID] {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].LoadRatio(), candidates[j].LoadRatio()
		if ri != rj {
			return ri < rj
		}
		if pi, pj := candidates[i].ID == preferred, candidates[j].ID == preferred; pi != pj {
			return pi
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0].ID
}

// Assignment 一次分配的结果
type Assignment struct {
	ConversationID string `json:"conversationId"`
	TeamID         string `json:"teamId,omitempty"`
	AgentID        string `json:"agentId,omitempty"`
	// Assigned 本次新分配
	Assigned bool `json:"assigned"`
	// Parked 没有可用坐席，等待下次在线状态变化
	Parked bool `json:"parked"`
}

type AssignmentService struct {
	uow      repository.UnitOfWork
	parking  domain.ParkingLot
	presence domain.LivePresence
}

// NewAssignmentService presence 为 nil 时只按坐席行的 availability 判断在线
func NewAssignmentService(uow repository.UnitOfWork, parking domain.ParkingLot, presence domain.LivePresence) *AssignmentService {
	return &AssignmentService{uow: uow, parking: parking, presence: presence}
}

// AssignInTx 在调用方的租户事务内分配坐席，负载自增与会话写入同事务提交。
// 条件自增失败视为并发冲突，重新读取候选后重试。
func (s *AssignmentService) AssignInTx(ctx context.Context, repos repository.Repositories, conv *entity.Conversation, teamID, preferred string) (*Assignment, error) {
	res := &Assignment{ConversationID: conv.ID, TeamID: teamID}
	if existing := conv.Assignee(); existing != "" {
		res.AgentID = existing
		res.TeamID = conv.Team()
		return res, nil
	}
	if teamID == "" || conv.Status == entity.StatusResolved {
		return res, nil
	}

	exclude := make(map[string]bool)
	for attempt := 1; attempt <= maxAssignAttempts; attempt++ {
		agents, err := repos.Agents.ListByTeam(teamID)
		if err != nil {
			return nil, err
		}
		if agents, err = s.live(ctx, agents); err != nil {
			return nil, err
		}
		agentID := ResolveAssignee(agents, preferred, exclude)
		if agentID == "" {
			res.Parked = true
			return res, nil
		}

		ok, err := repos.Agents.TryIncrementLoad(agentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			zlog.Info("assignment conflict, retrying",
				zap.String("conversation_id", conv.ID),
				zap.String("agent_id", agentID),
				zap.Int("attempt", attempt))
			exclude[agentID] = true
			continue
		}

		assigned, err := repos.Conversations.AssignIfUnassigned(conv.ID, teamID, agentID)
		if err != nil {
			return nil, err
		}
		if !assigned {
			// 其他事务先写入了处理人，归还刚占用的名额
			if err := repos.Agents.DecrementLoad(agentID); err != nil {
				return nil, err
			}
			current, err := repos.Conversations.GetByID(conv.ID)
			if err != nil {
				return nil, err
			}
			*conv = *current
			res.AgentID = current.Assignee()
			res.TeamID = current.Team()
			return res, nil
		}

		conv.AssigneeID = &agentID
		conv.TeamID = &teamID
		res.AgentID = agentID
		res.Assigned = true
		return res, nil
	}
	return nil, xerr.Transient(fmt.Errorf("%w: conversation %s team %s", xerr.ErrAssignConflict, conv.ID, teamID))
}

// live 在线以临时在线键为准：行为 online 但键已过期（心跳丢失、实例崩溃、启动清理）的坐席不参与分配
func (s *AssignmentService) live(ctx context.Context, agents []entity.Agent) ([]entity.Agent, error) {
	if s.presence == nil {
		return agents, nil
	}
	out := make([]entity.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Availability == entity.AvailabilityOnline {
			status, ok, err := s.presence.GetPresence(ctx, a.AccountID, a.ID)
			if err != nil {
				return nil, xerr.Transient(fmt.Errorf("read presence of agent %s: %w", a.ID, err))
			}
			a.Availability = status
			if !ok {
				a.Availability = entity.AvailabilityOffline
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// Assign 独立事务内为会话分配坐席，无可用坐席时放入等待集合
func (s *AssignmentService) Assign(ctx context.Context, accountID, conversationID, teamID string) (*Assignment, error) {
	var res *Assignment
	err := s.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		conv, err := repos.Conversations.GetByID(conversationID)
		if err != nil {
			return err
		}
		if teamID == "" {
			teamID = conv.Team()
		}
		res, err = s.AssignInTx(ctx, repos, conv, teamID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Parked {
		s.Park(ctx, accountID, res.TeamID, conversationID)
	} else if res.AgentID != "" && res.TeamID != "" {
		s.Unpark(ctx, accountID, res.TeamID, conversationID)
	}
	return res, nil
}

// Release 会话结束时归还坐席名额，须在同一租户事务内调用
func (s *AssignmentService) Release(repos repository.Repositories, conv *entity.Conversation) error {
	agentID := conv.Assignee()
	if agentID == "" {
		return nil
	}
	if err := repos.Agents.DecrementLoad(agentID); err != nil && !errors.Is(err, xerr.ErrNotFoundRecord) {
		return err
	}
	return nil
}

func (s *AssignmentService) Park(ctx context.Context, accountID, teamID, conversationID string) {
	if s.parking == nil || teamID == "" {
		return
	}
	if err := s.parking.Park(ctx, accountID, teamID, conversationID); err != nil {
		zlog.Error("park conversation failed",
			zap.String("account_id", accountID),
			zap.String("team_id", teamID),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return
	}
	zlog.Info("conversation parked, no agent available",
		zap.String("account_id", accountID),
		zap.String("team_id", teamID),
		zap.String("conversation_id", conversationID))
}

func (s *AssignmentService) Unpark(ctx context.Context, accountID, teamID, conversationID string) {
	if s.parking == nil || teamID == "" {
		return
	}
	if err := s.parking.Remove(ctx, accountID, teamID, conversationID); err != nil {
		zlog.Warn("unpark conversation failed",
			zap.String("account_id", accountID),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
}

// Parked 列出等待分配的会话
func (s *AssignmentService) Parked(ctx context.Context, accountID, teamID string) ([]string, error) {
	if s.parking == nil {
		return nil, nil
	}
	return s.parking.List(ctx, accountID, teamID)
}
