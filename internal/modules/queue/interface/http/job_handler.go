package handler

import (
	"strconv"
	"time"

	"DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/pkg/back"
	"DeskRelay/pkg/util/myjwt"
	"DeskRelay/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// JobHandler 任务运维接口。单个任务的查询、重试、删除只允许任务所属租户操作；
// 队列级操作（暂停、清理、批量重试、统计）只允许 service 角色。
type JobHandler struct {
	registry *service.Registry
}

func NewJobHandler(registry *service.Registry) *JobHandler {
	return &JobHandler{registry: registry}
}

func (h *JobHandler) Register(r gin.IRoutes) {
	r.GET("/api/jobs/:queue/counts", h.Counts)
	r.GET("/api/jobs/:queue/:id", h.GetStatus)
	r.POST("/api/jobs/:queue/retry-failed", h.RetryFailed)
	r.POST("/api/jobs/:queue/pause", h.Pause)
	r.POST("/api/jobs/:queue/resume", h.Resume)
	r.POST("/api/jobs/:queue/clean", h.Clean)
	r.POST("/api/jobs/:queue/:id/retry", h.Retry)
	r.DELETE("/api/jobs/:queue/:id", h.Remove)
}

func (h *JobHandler) GetStatus(c *gin.Context) {
	_, j, err := h.ownedJob(c)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	back.Result(c, j.Status(), nil)
}

func (h *JobHandler) Retry(c *gin.Context) {
	q, j, err := h.ownedJob(c)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	back.Result(c, gin.H{"id": j.ID}, q.Retry(c.Request.Context(), j.ID))
}

func (h *JobHandler) Remove(c *gin.Context) {
	q, j, err := h.ownedJob(c)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	back.Result(c, gin.H{"id": j.ID}, q.Remove(c.Request.Context(), j.ID))
}

func (h *JobHandler) RetryFailed(c *gin.Context) {
	q, err := h.adminQueue(c)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	n, err := q.RetryAllFailed(c.Request.Context())
	back.Result(c, gin.H{"retried": n}, err)
}

func (h *JobHandler) Pause(c *gin.Context) {
	q, err := h.adminQueue(c)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	back.Result(c, gin.H{"queue": q.Name(), "paused": true}, q.Pause(c.Request.Context()))
}

func (h *JobHandler) Resume(c *gin.Context) {
	q, err := h.adminQueue(c)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	back.Result(c, gin.H{"queue": q.Name(), "paused": false}, q.Resume(c.Request.Context()))
}

// Clean 可选 query 参数 retentionHours，默认 24
func (h *JobHandler) Clean(c *gin.Context) {
	q, err := h.adminQueue(c)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	hours := 24
	if v := c.Query("retentionHours"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
			return
		}
		hours = n
	}
	n, err := q.Clean(c.Request.Context(), time.Duration(hours)*time.Hour, 1000)
	back.Result(c, gin.H{"removed": n}, err)
}

func (h *JobHandler) Counts(c *gin.Context) {
	q, err := h.adminQueue(c)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	counts, err := q.Counts(c.Request.Context())
	back.Result(c, counts, err)
}

func (h *JobHandler) ownedJob(c *gin.Context) (*service.Queue, *job.Job, error) {
	q, err := h.registry.Queue(c.Param("queue"))
	if err != nil {
		return nil, nil, err
	}
	j, err := q.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, nil, err
	}
	if c.GetString("role") != myjwt.RoleService && j.AccountID != c.GetString("account_id") {
		// 不暴露其他租户任务是否存在
		return nil, nil, xerr.ErrJobNotFound
	}
	return q, j, nil
}

func (h *JobHandler) adminQueue(c *gin.Context) (*service.Queue, error) {
	if c.GetString("role") != myjwt.RoleService {
		return nil, xerr.ErrForbidden
	}
	return h.registry.Queue(c.Param("queue"))
}
