package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jwtMiddleware "DeskRelay/internal/middleware/jwt"
	"DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/pkg/util/myjwt"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// JobToolHandler 通过 MCP 暴露任务运维能力，权限规则与 HTTP 接口一致
type JobToolHandler struct {
	registry *service.Registry
}

func NewJobToolHandler(registry *service.Registry) *JobToolHandler {
	return &JobToolHandler{registry: registry}
}

// NewJobToolsServer 创建注册好任务工具的 MCP Server
func NewJobToolsServer(registry *service.Registry, name, version string) *server.MCPServer {
	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)
	NewJobToolHandler(registry).RegisterTools(s)
	return s
}

func (h *JobToolHandler) RegisterTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("get_job_status",
		mcp.WithDescription("查询任务状态：state、attempts、progress、result、failedReason"),
		mcp.WithString("queue", mcp.Required(), mcp.Description("队列名: classification | draft | notification")),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("任务 ID")),
	), h.handleGetStatus)

	s.AddTool(mcp.NewTool("retry_job",
		mcp.WithDescription("重试一个 failed 任务，attempts 归零"),
		mcp.WithString("queue", mcp.Required(), mcp.Description("队列名")),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("任务 ID")),
	), h.handleRetry)

	s.AddTool(mcp.NewTool("retry_failed_jobs",
		mcp.WithDescription("重试队列中全部 failed 任务（需要 service 角色）"),
		mcp.WithString("queue", mcp.Required(), mcp.Description("队列名")),
	), h.handleRetryAll)

	s.AddTool(mcp.NewTool("pause_queue",
		mcp.WithDescription("暂停队列，进行中的任务会继续执行完（需要 service 角色）"),
		mcp.WithString("queue", mcp.Required(), mcp.Description("队列名")),
	), h.handlePause)

	s.AddTool(mcp.NewTool("resume_queue",
		mcp.WithDescription("恢复已暂停的队列（需要 service 角色）"),
		mcp.WithString("queue", mcp.Required(), mcp.Description("队列名")),
	), h.handleResume)

	s.AddTool(mcp.NewTool("clean_queue",
		mcp.WithDescription("删除保留期之前结束的 completed/failed 任务（需要 service 角色）"),
		mcp.WithString("queue", mcp.Required(), mcp.Description("队列名")),
		mcp.WithNumber("retention_hours", mcp.Description("保留小时数，默认 24")),
	), h.handleClean)

	s.AddTool(mcp.NewTool("queue_counts",
		mcp.WithDescription("各状态任务数量与暂停标记（需要 service 角色）"),
		mcp.WithString("queue", mcp.Required(), mcp.Description("队列名")),
	), h.handleCounts)
}

func (h *JobToolHandler) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, jobID, errResult := h.ownedJob(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	st, err := q.Status(ctx, jobID)
	if err != nil {
		return toolError("get_job_status", err), nil
	}
	return jsonResult(st)
}

func (h *JobToolHandler) handleRetry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, jobID, errResult := h.ownedJob(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	if err := q.Retry(ctx, jobID); err != nil {
		return toolError("retry_job", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("job %s requeued", jobID)), nil
}

func (h *JobToolHandler) handleRetryAll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, _, errResult := h.adminQueue(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	n, err := q.RetryAllFailed(ctx)
	if err != nil {
		return toolError("retry_failed_jobs", err), nil
	}
	return jsonResult(map[string]interface{}{"queue": q.Name(), "retried": n})
}

func (h *JobToolHandler) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, _, errResult := h.adminQueue(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	if err := q.Pause(ctx); err != nil {
		return toolError("pause_queue", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("queue %s paused", q.Name())), nil
}

func (h *JobToolHandler) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, _, errResult := h.adminQueue(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	if err := q.Resume(ctx); err != nil {
		return toolError("resume_queue", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("queue %s resumed", q.Name())), nil
}

func (h *JobToolHandler) handleClean(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, args, errResult := h.adminQueue(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	hours := 24.0
	if v, ok := args["retention_hours"].(float64); ok {
		if v < 0 {
			return mcp.NewToolResultError("retention_hours must not be negative"), nil
		}
		hours = v
	}
	n, err := q.Clean(ctx, time.Duration(hours*float64(time.Hour)), 1000)
	if err != nil {
		return toolError("clean_queue", err), nil
	}
	return jsonResult(map[string]interface{}{"queue": q.Name(), "removed": n})
}

func (h *JobToolHandler) handleCounts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, _, errResult := h.adminQueue(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	counts, err := q.Counts(ctx)
	if err != nil {
		return toolError("queue_counts", err), nil
	}
	return jsonResult(counts)
}

func (h *JobToolHandler) queueFromArgs(ctx context.Context, request mcp.CallToolRequest) (*service.Queue, map[string]interface{}, jwtMiddleware.Principal, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		zlog.Warn("mcp job tool invalid arguments", zap.String("tool", request.Params.Name))
		return nil, nil, jwtMiddleware.Principal{}, mcp.NewToolResultError("invalid arguments format")
	}
	p, ok := jwtMiddleware.PrincipalFrom(ctx)
	if !ok {
		return nil, nil, p, mcp.NewToolResultError("unauthorized: missing caller context")
	}
	name, _ := args["queue"].(string)
	q, err := h.registry.Queue(name)
	if err != nil {
		return nil, nil, p, mcp.NewToolResultError(fmt.Sprintf("unknown queue %q", name))
	}
	return q, args, p, nil
}

func (h *JobToolHandler) ownedJob(ctx context.Context, request mcp.CallToolRequest) (*service.Queue, string, *mcp.CallToolResult) {
	q, args, p, errResult := h.queueFromArgs(ctx, request)
	if errResult != nil {
		return nil, "", errResult
	}
	jobID, _ := args["job_id"].(string)
	if jobID == "" {
		return nil, "", mcp.NewToolResultError("job_id is required")
	}
	j, err := q.Get(ctx, jobID)
	if err != nil {
		return nil, "", toolError(request.Params.Name, err)
	}
	if p.Role != myjwt.RoleService && j.AccountID != p.AccountID {
		return nil, "", toolError(request.Params.Name, xerr.ErrJobNotFound)
	}
	return q, jobID, nil
}

func (h *JobToolHandler) adminQueue(ctx context.Context, request mcp.CallToolRequest) (*service.Queue, map[string]interface{}, *mcp.CallToolResult) {
	q, args, p, errResult := h.queueFromArgs(ctx, request)
	if errResult != nil {
		return nil, nil, errResult
	}
	if p.Role != myjwt.RoleService {
		zlog.Warn("mcp job tool forbidden",
			zap.String("tool", request.Params.Name),
			zap.String("account_id", p.AccountID),
			zap.String("role", p.Role))
		return nil, nil, mcp.NewToolResultError("forbidden: service role required")
	}
	return q, args, nil
}

func toolError(tool string, err error) *mcp.CallToolResult {
	if ce, ok := xerr.As(err); ok {
		return mcp.NewToolResultError(ce.Message)
	}
	zlog.Error("mcp job tool failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError("internal error")
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
