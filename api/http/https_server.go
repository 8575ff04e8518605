package http

import (
	"context"
	"net/http"

	"DeskRelay/internal/config"
	jwtMiddleware "DeskRelay/internal/middleware/jwt"
	conversationHandler "DeskRelay/internal/modules/conversation/interface/http"
	jobHandler "DeskRelay/internal/modules/queue/interface/http"
	routingHandler "DeskRelay/internal/modules/routing/interface/http"
	"DeskRelay/internal/modules/realtime/interface/websocket"
	"DeskRelay/pkg/ssl"
	"DeskRelay/pkg/util/myjwt"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
)

// Handlers 各模块的 HTTP 入口，MCP 为 nil 时不挂载 /mcp
type Handlers struct {
	Jobs          *jobHandler.JobHandler
	Routing       *routingHandler.RoutingHandler
	Conversations *conversationHandler.ConversationHandler
	Ws            *websocket.WsHandler
	MCP           *server.MCPServer
}

func NewEngine(conf *config.Config, signer *myjwt.Signer, h Handlers) *gin.Engine {
	ge := gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Mcp-Session-Id"}
	ge.Use(cors.New(corsConfig))
	if conf.MainConfig.TLS {
		ge.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))
	}

	ge.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	// websocket 通过 ?token= 自行鉴权
	if h.Ws != nil {
		ge.GET("/ws", h.Ws.Connect)
	}

	authed := ge.Group("/")
	authed.Use(jwtMiddleware.Auth(signer, conf.AuthConfig))
	authed.GET("/auth/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"account_id": c.GetString("account_id"),
			"user_id":    c.GetString("user_id"),
			"role":       c.GetString("role"),
		})
	})
	if h.Jobs != nil {
		h.Jobs.Register(authed)
	}
	if h.Routing != nil {
		h.Routing.Register(authed)
	}
	if h.Conversations != nil {
		h.Conversations.Register(authed)
	}
	if h.MCP != nil {
		mcpHTTP := server.NewStreamableHTTPServer(h.MCP,
			server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
				if p, ok := jwtMiddleware.PrincipalFrom(r.Context()); ok {
					return jwtMiddleware.WithPrincipal(ctx, p)
				}
				return ctx
			}))
		authed.Any("/mcp", gin.WrapH(mcpHTTP))
	}
	return ge
}
