package handler

import (
	"DeskRelay/internal/modules/conversation/application/dto/request"
	"DeskRelay/internal/modules/conversation/application/service"
	"DeskRelay/pkg/back"
	"DeskRelay/pkg/xerr"

	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	svc service.ConversationService
}

func NewConversationHandler(svc service.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

func (h *ConversationHandler) Register(r gin.IRoutes) {
	r.POST("/api/conversations/:id/resolve", h.Resolve)
	r.POST("/api/conversations/:id/pending", h.MarkPending)
	r.POST("/api/conversations/:id/snooze", h.Snooze)
	r.POST("/api/conversations/:id/wake", h.Wake)
	r.POST("/api/conversations/:id/reply", h.Reply)
}

func (h *ConversationHandler) Resolve(c *gin.Context) {
	res, err := h.svc.Resolve(c.Request.Context(), c.GetString("account_id"), c.Param("id"))
	back.Result(c, res, err)
}

func (h *ConversationHandler) MarkPending(c *gin.Context) {
	res, err := h.svc.MarkPending(c.Request.Context(), c.GetString("account_id"), c.Param("id"))
	back.Result(c, res, err)
}

func (h *ConversationHandler) Snooze(c *gin.Context) {
	var req request.SnoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	res, err := h.svc.Snooze(c.Request.Context(), c.GetString("account_id"), c.Param("id"), req.Until)
	back.Result(c, res, err)
}

func (h *ConversationHandler) Wake(c *gin.Context) {
	res, err := h.svc.Wake(c.Request.Context(), c.GetString("account_id"), c.Param("id"))
	back.Result(c, res, err)
}

// Reply 以当前登录坐席身份回复
func (h *ConversationHandler) Reply(c *gin.Context) {
	var req request.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	res, err := h.svc.AgentReply(c.Request.Context(), c.GetString("account_id"), c.Param("id"), c.GetString("user_id"), req.Content)
	back.Result(c, res, err)
}
