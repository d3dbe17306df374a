package handlers

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/podscribe-backend/internal/data/repos"
	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/http/response"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/podscribe-backend/internal/pkg/errors"
	"github.com/yungbote/podscribe-backend/internal/services"
)

type BatchHandler struct {
	batches  services.BatchService
	orch     services.BatchOrchestrator
	reporter services.BatchReporter
}

func NewBatchHandler(batches services.BatchService, orch services.BatchOrchestrator, reporter services.BatchReporter) *BatchHandler {
	return &BatchHandler{batches: batches, orch: orch, reporter: reporter}
}

// GET /api/batches
func (h *BatchHandler) ListBatches(c *gin.Context) {
	channelID, err := queryUUID(c, "channel_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	p, size, err := page(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	items, total, err := h.batches.List(dbcOf(c), repos.BatchFilter{
		ChannelID: channelID,
		Status:    c.Query("status"),
		Page:      p,
		PageSize:  size,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"batches": items, "total": total, "page": p})
}

// POST /api/batches
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req services.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apperr.Invalid("body", "%s", err.Error()))
		return
	}
	view, err := h.batches.Create(dbcOf(c), req)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"batch": view})
}

// GET /api/batches/:id
func (h *BatchHandler) GetBatch(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	detail, err := h.batches.Get(dbcOf(c), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"batch": detail})
}

// POST /api/batches/:id/start
func (h *BatchHandler) StartBatch(c *gin.Context) { h.transition(c, h.orch.Start) }

// POST /api/batches/:id/pause
func (h *BatchHandler) PauseBatch(c *gin.Context) { h.transition(c, h.orch.Pause) }

// POST /api/batches/:id/resume
func (h *BatchHandler) ResumeBatch(c *gin.Context) { h.transition(c, h.orch.Resume) }

// POST /api/batches/:id/cancel
func (h *BatchHandler) CancelBatch(c *gin.Context) { h.transition(c, h.orch.Cancel) }

// POST /api/batches/:id/retry
func (h *BatchHandler) RetryBatch(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	n, err := h.orch.Retry(dbcOf(c), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "retrying", "batch_id": id, "jobs_retried": n})
}

// POST /api/batches/:id/reconcile
func (h *BatchHandler) ReconcileBatch(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	res, err := h.orch.Reconcile(dbcOf(c), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if res.NeedsRun() {
		if err := h.orch.Wake(c.Request.Context(), id); err != nil {
			response.RespondErr(c, err)
			return
		}
	}
	response.RespondOK(c, gin.H{"batch": services.NewBatchView(res.Batch), "remaining": res.Remaining})
}

// DELETE /api/batches/:id
func (h *BatchHandler) DeleteBatch(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if err := h.orch.Delete(dbcOf(c), id); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/batches/:id/report.xlsx
func (h *BatchHandler) ExportReport(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	// Buffered so a failure halfway still gets a JSON error.
	var buf bytes.Buffer
	if err := h.reporter.WriteXLSX(dbcOf(c), id, &buf); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="batch-%s.xlsx"`, id))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *BatchHandler) transition(c *gin.Context, fn func(dbc dbctx.Context, id uuid.UUID) (*types.Batch, error)) {
	id, err := pathID(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	b, err := fn(dbcOf(c), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"batch": services.NewBatchView(b)})
}
