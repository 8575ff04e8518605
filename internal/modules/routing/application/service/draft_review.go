package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"DeskRelay/internal/modules/conversation/application/dto/respond"
	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

// 草稿审核动作
const (
	ReviewAccept = "accept"
	ReviewReject = "reject"
	ReviewEdit   = "edit"
)

// Replier 以坐席身份发送回复，conversation 模块的 ConversationService 实现
type Replier interface {
	AgentReply(ctx context.Context, accountID, conversationID, agentID, content string) (*respond.ReplyRespond, error)
}

type DraftView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Content        string    `json:"content"`
	Alternatives   []string  `json:"alternatives,omitempty"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ReviewResult struct {
	DraftID string                `json:"draftId"`
	Status  string                `json:"status"`
	Reply   *respond.ReplyRespond `json:"reply,omitempty"`
}

type DraftReviewService struct {
	uow     repository.UnitOfWork
	replier Replier
	now     func() time.Time
}

func NewDraftReviewService(uow repository.UnitOfWork, replier Replier) *DraftReviewService {
	return &DraftReviewService{uow: uow, replier: replier, now: time.Now}
}

// Pending 坐席自己的待审核草稿，其他坐席的草稿不可见
func (s *DraftReviewService) Pending(ctx context.Context, accountID, agentID string) ([]DraftView, error) {
	var out []DraftView
	err := s.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		list, err := repos.Drafts.ListByAgent(agentID, entity.DraftPending)
		if err != nil {
			return err
		}
		out = make([]DraftView, 0, len(list))
		for _, d := range list {
			out = append(out, toDraftView(d))
		}
		return nil
	})
	return out, err
}

// Review 审核草稿。accept 与 edit 会以坐席身份发送回复，与状态更新同事务
func (s *DraftReviewService) Review(ctx context.Context, accountID, draftID, agentID, action, content string) (*ReviewResult, error) {
	status, err := reviewStatus(action, content)
	if err != nil {
		return nil, err
	}
	res := &ReviewResult{DraftID: draftID, Status: status}
	err = s.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		d, err := repos.Drafts.GetByID(draftID)
		if err != nil {
			return err
		}
		if d.AgentID != agentID {
			return xerr.ErrForbidden
		}
		if d.Status != entity.DraftPending {
			return xerr.ErrDraftReviewed
		}
		if status == entity.DraftEdited {
			content = strings.TrimSpace(content)
		} else {
			content = ""
		}
		if err := repos.Drafts.UpdateReview(d.ID, status, content, s.now()); err != nil {
			return err
		}
		if status == entity.DraftRejected {
			return nil
		}
		text := d.DraftContent
		if content != "" {
			text = content
		}
		res.Reply, err = s.replier.AgentReply(ctx, accountID, d.ConversationID, agentID, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	zlog.Info("draft reviewed",
		zap.String("account_id", accountID),
		zap.String("draft_id", draftID),
		zap.String("agent_id", agentID),
		zap.String("status", status))
	return res, nil
}

func reviewStatus(action, content string) (string, error) {
	switch action {
	case ReviewAccept:
		return entity.DraftAccepted, nil
	case ReviewReject:
		return entity.DraftRejected, nil
	case ReviewEdit:
		if strings.TrimSpace(content) == "" {
			return "", xerr.ErrParam
		}
		return entity.DraftEdited, nil
	}
	return "", xerr.ErrParam
}

func toDraftView(d entity.AIDraft) DraftView {
	v := DraftView{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		MessageID:      d.MessageID,
		Content:        d.DraftContent,
		Confidence:     d.Confidence,
		Reasoning:      d.Reasoning,
		Status:         d.Status,
		CreatedAt:      d.CreatedAt,
	}
	if d.Alternatives != "" {
		_ = json.Unmarshal([]byte(d.Alternatives), &v.Alternatives)
	}
	return v
}
