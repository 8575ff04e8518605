package handler

import (
	"context"
	"strings"

	"DeskRelay/internal/modules/routing/application/service"
	"DeskRelay/pkg/back"
	"DeskRelay/pkg/util/myjwt"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Ingester interface {
	IngestInbound(ctx context.Context, in service.InboundMessage) (*service.IngestResult, error)
}

type DraftReviewer interface {
	Pending(ctx context.Context, accountID, agentID string) ([]service.DraftView, error)
	Review(ctx context.Context, accountID, draftID, agentID, action, content string) (*service.ReviewResult, error)
}

type reviewRequest struct {
	Action  string `json:"action" binding:"required,oneof=accept reject edit"`
	Content string `json:"content"`
}

type RoutingHandler struct {
	pipeline Ingester
	drafts   DraftReviewer
}

func NewRoutingHandler(pipeline Ingester, drafts DraftReviewer) *RoutingHandler {
	return &RoutingHandler{pipeline: pipeline, drafts: drafts}
}

func (h *RoutingHandler) Register(r gin.IRoutes) {
	r.POST("/api/inbound", h.Inbound)
	r.GET("/api/drafts", h.PendingDrafts)
	r.POST("/api/drafts/:id/review", h.ReviewDraft)
}

// Inbound 接收一封客户来信。service 角色可指定任意租户，其他角色只能写入自己的租户
func (h *RoutingHandler) Inbound(c *gin.Context) {
	var req service.InboundMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Warn("bind inbound request failed", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if c.GetString("role") != myjwt.RoleService || strings.TrimSpace(req.AccountID) == "" {
		req.AccountID = c.GetString("account_id")
	}
	res, err := h.pipeline.IngestInbound(c.Request.Context(), req)
	back.Result(c, res, err)
}

func (h *RoutingHandler) PendingDrafts(c *gin.Context) {
	list, err := h.drafts.Pending(c.Request.Context(), c.GetString("account_id"), c.GetString("user_id"))
	back.Result(c, list, err)
}

func (h *RoutingHandler) ReviewDraft(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	res, err := h.drafts.Review(c.Request.Context(), c.GetString("account_id"), c.Param("id"), c.GetString("user_id"), req.Action, req.Content)
	back.Result(c, res, err)
}
