package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/podscribe-backend/internal/data/repos"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/http/response"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/services"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 500
)

type JobHandler struct {
	jobs services.JobControl
}

func NewJobHandler(jobs services.JobControl) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	batchID, err := queryUUID(c, "batch_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	episodeID, err := queryUUID(c, "episode_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	p, size, err := page(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	jobs, total, err := h.jobs.List(dbcOf(c), repos.JobFilter{
		BatchID:   batchID,
		EpisodeID: episodeID,
		Status:    c.Query("status"),
		Page:      p,
		PageSize:  size,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs, "total": total, "page": p})
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	job, err := h.jobs.Get(dbcOf(c), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:id/retry
func (h *JobHandler) RetryJob(c *gin.Context) { h.control(c, h.jobs.Retry) }

// POST /api/jobs/:id/pause
func (h *JobHandler) PauseJob(c *gin.Context) { h.control(c, h.jobs.Pause) }

// POST /api/jobs/:id/resume
func (h *JobHandler) ResumeJob(c *gin.Context) { h.control(c, h.jobs.Resume) }

// POST /api/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) { h.control(c, h.jobs.Cancel) }

// GET /api/jobs/:id/logs
func (h *JobHandler) JobLogs(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	limit, err := queryInt(c, "limit", defaultLogLimit)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if limit < 1 || limit > maxLogLimit {
		response.RespondErr(c, apperr.Invalid("limit", "must be between 1 and %d", maxLogLimit))
		return
	}
	logs, err := h.jobs.Logs(dbcOf(c), id, limit)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"logs": logs, "total": len(logs)})
}

func (h *JobHandler) control(c *gin.Context, fn func(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)) {
	id, err := pathID(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	job, err := fn(dbcOf(c), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
