package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"DeskRelay/internal/modules/conversation/application/dto/respond"
	"DeskRelay/internal/modules/conversation/application/service"
	"DeskRelay/pkg/back"
	"DeskRelay/pkg/xerr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	service.ConversationService
	calls []string
	until time.Time
}

func (s *stubService) Resolve(ctx context.Context, accountID, conversationID string) (*respond.StatusChange, error) {
	s.calls = append(s.calls, "resolve:"+accountID+":"+conversationID)
	return &respond.StatusChange{ConversationID: conversationID, From: "open", To: "resolved", Changed: true}, nil
}

func (s *stubService) Snooze(ctx context.Context, accountID, conversationID string, until time.Time) (*respond.StatusChange, error) {
	s.until = until
	return &respond.StatusChange{ConversationID: conversationID, Changed: true}, nil
}

func (s *stubService) AgentReply(ctx context.Context, accountID, conversationID, agentID, content string) (*respond.ReplyRespond, error) {
	s.calls = append(s.calls, "reply:"+agentID+":"+content)
	return nil, xerr.ErrIllegalTransit
}

func newRouter(svc service.ConversationService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("account_id", "a1")
		c.Set("user_id", "ag1")
		c.Next()
	})
	NewConversationHandler(svc).Register(r)
	return r
}

func do(t *testing.T, r http.Handler, path, body string) back.Response {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var resp back.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestResolveUsesTokenAccount(t *testing.T) {
	svc := &stubService{}
	resp := do(t, newRouter(svc), "/api/conversations/c1/resolve", "")
	assert.Equal(t, xerr.OK, resp.Code)
	assert.Equal(t, []string{"resolve:a1:c1"}, svc.calls)
}

func TestSnoozeRequiresUntil(t *testing.T) {
	svc := &stubService{}
	r := newRouter(svc)
	assert.Equal(t, xerr.BadRequest, do(t, r, "/api/conversations/c1/snooze", `{}`).Code)

	resp := do(t, r, "/api/conversations/c1/snooze", `{"until":"2026-10-18T09:00:00Z"}`)
	assert.Equal(t, xerr.OK, resp.Code)
	assert.Equal(t, time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC), svc.until.UTC())
}

func TestReplyMapsConflict(t *testing.T) {
	svc := &stubService{}
	resp := do(t, newRouter(svc), "/api/conversations/c1/reply", `{"content":"hello"}`)
	assert.Equal(t, xerr.Conflict, resp.Code)
	assert.Equal(t, []string{"reply:ag1:hello"}, svc.calls)
}
