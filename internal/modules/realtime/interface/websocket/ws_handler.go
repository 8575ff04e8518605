package websocket

import (
	"context"
	"net/http"
	"time"

	"DeskRelay/internal/config"
	jwtMiddleware "DeskRelay/internal/middleware/jwt"
	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/internal/modules/realtime/application/service"
	"DeskRelay/pkg/back"
	"DeskRelay/pkg/util/myjwt"
	"DeskRelay/pkg/ws"
	"DeskRelay/pkg/zlog"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 客户端上行帧类型
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameTypingStart = "typing_start"
	FrameTypingStop  = "typing_stop"
	FramePresence    = "presence"
	FramePing        = "ping"
)

const (
	readLimit = 64 << 10
	pongWait  = 60 * time.Second
)

// Frame 客户端上行帧
type Frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Status         string `json:"status,omitempty"`
}

type WsHandler struct {
	hub     *ws.Hub
	tracker *service.PresenceTracker
	uow     repository.UnitOfWork
	signer  *myjwt.Signer
	auth    config.AuthConfig
}

func NewWsHandler(hub *ws.Hub, tracker *service.PresenceTracker, uow repository.UnitOfWork, signer *myjwt.Signer, auth config.AuthConfig) *WsHandler {
	return &WsHandler{hub: hub, tracker: tracker, uow: uow, signer: signer, auth: auth}
}

var upgrader = gws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connect 浏览器原生 WebSocket 不能带自定义 Header，token 放在 ?token= 里，握手前手动校验
func (h *WsHandler) Connect(c *gin.Context) {
	p, err := jwtMiddleware.Authenticate(h.signer, h.auth, c.Query("token"))
	if err != nil {
		back.Result(c, nil, err)
		c.Abort()
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Error("ws upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(p.AccountID, p.UserID, p.Role, conn)
	h.hub.Register(client)
	isAgent := p.Role == myjwt.RoleAgent
	if isAgent {
		if err := h.tracker.ReportPresence(context.Background(), p.AccountID, p.UserID, entity.AvailabilityOnline); err != nil {
			zlog.Warn("report online failed", zap.String("agent_id", p.UserID), zap.Error(err))
		}
	}
	zlog.Info("ws connected",
		zap.String("conn_id", client.ID()),
		zap.String("account_id", p.AccountID),
		zap.String("user_id", p.UserID))

	defer func() {
		h.hub.Unregister(client)
		// 请求 ctx 此时可能已结束
		last := isAgent && h.hub.UserConnections(p.AccountID, p.UserID) == 0
		if err := h.tracker.Disconnect(context.Background(), client.ID(), p.AccountID, p.UserID, last); err != nil {
			zlog.Warn("ws disconnect presence update failed", zap.String("user_id", p.UserID), zap.Error(err))
		}
		zlog.Info("ws disconnected", zap.String("conn_id", client.ID()), zap.Bool("last", last))
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go client.WritePump()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleFrame(c.Request.Context(), client, p, f)
	}
}

func (h *WsHandler) handleFrame(ctx context.Context, client *ws.Client, p jwtMiddleware.Principal, f Frame) {
	switch f.Type {
	case FrameSubscribe:
		if err := h.ownsConversation(ctx, p.AccountID, f.ConversationID); err != nil {
			h.sendError(client, f, err.Error())
			return
		}
		h.hub.Subscribe(ws.ConversationScope(p.AccountID, f.ConversationID), client)
		h.hub.Send(client, "subscribed", gin.H{"conversationId": f.ConversationID})
	case FrameUnsubscribe:
		h.hub.Unsubscribe(ws.ConversationScope(p.AccountID, f.ConversationID), client)
	case FrameTypingStart, FrameTypingStop:
		if f.ConversationID == "" {
			h.sendError(client, f, "conversationId required")
			return
		}
		key := service.TypingKey{AccountID: p.AccountID, UserID: p.UserID, ConversationID: f.ConversationID}
		h.tracker.ReportTyping(ctx, client.ID(), key, f.Type == FrameTypingStart)
	case FramePresence:
		if p.Role != myjwt.RoleAgent {
			h.sendError(client, f, "only agents report presence")
			return
		}
		if err := h.tracker.ReportPresence(ctx, p.AccountID, p.UserID, f.Status); err != nil {
			h.sendError(client, f, err.Error())
		}
	case FramePing:
		alive := true
		if p.Role == myjwt.RoleAgent {
			var err error
			if alive, err = h.tracker.Heartbeat(ctx, p.AccountID, p.UserID); err != nil {
				zlog.Warn("presence heartbeat failed", zap.String("user_id", p.UserID), zap.Error(err))
			}
		}
		h.hub.Send(client, "pong", gin.H{"presenceAlive": alive})
	default:
		h.sendError(client, f, "unknown frame type")
	}
}

// ownsConversation 只能订阅本租户的会话
func (h *WsHandler) ownsConversation(ctx context.Context, accountID, conversationID string) error {
	return h.uow.Transaction(ctx, accountID, func(ctx context.Context, repos repository.Repositories) error {
		_, err := repos.Conversations.GetByID(conversationID)
		return err
	})
}

func (h *WsHandler) sendError(client *ws.Client, f Frame, msg string) {
	h.hub.Send(client, "error", gin.H{"frame": f.Type, "message": msg})
}
