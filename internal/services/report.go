package services

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/yungbote/podscribe-backend/internal/data/repos"
	"github.com/yungbote/podscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/podscribe-backend/internal/pkg/pointers"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

const (
	summarySheet = "Summary"
	jobsSheet    = "Jobs"
)

var jobColumns = []string{
	"Job ID", "Episode", "Status", "Progress", "Current step",
	"Error", "Retries", "Cost (cents)", "Started", "Completed",
}

// BatchReporter renders a batch and its jobs as an XLSX workbook.
type BatchReporter interface {
	WriteXLSX(dbc dbctx.Context, batchID uuid.UUID, w io.Writer) error
}

type batchReporter struct {
	log     *logger.Logger
	batches BatchService
	repos   repos.Set
}

func NewBatchReporter(baseLog *logger.Logger, batches BatchService, rs repos.Set) BatchReporter {
	return &batchReporter{
		log:     baseLog.With("service", "BatchReporter"),
		batches: batches,
		repos:   rs,
	}
}

func (r *batchReporter) WriteXLSX(dbc dbctx.Context, batchID uuid.UUID, w io.Writer) error {
	detail, err := r.batches.Get(dbc, batchID)
	if err != nil {
		return err
	}
	jobs, err := r.repos.Jobs.ListByBatch(dbc, batchID)
	if err != nil {
		return err
	}
	retries := make(map[uuid.UUID]int, len(jobs))
	for _, j := range jobs {
		retries[j.ID] = j.RetryCount
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			r.log.Warn("Close workbook failed", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	b := detail.Batch
	channel := ""
	if detail.ChannelName != nil {
		channel = *detail.ChannelName
	}
	summary := [][]interface{}{
		{"Batch", b.Name},
		{"Batch ID", b.ID.String()},
		{"Channel", channel},
		{"Provider", b.Provider},
		{"Status", b.Status},
		{"Concurrency", b.Concurrency},
		{"Total episodes", b.TotalEpisodes},
		{"Completed", b.CompletedEpisodes},
		{"Failed", b.FailedEpisodes},
		{"Progress %", fmt.Sprintf("%.1f", detail.ProgressPercent)},
		{"Estimated cost (cents)", b.EstimatedCostCents},
		{"Actual cost (cents)", b.ActualCostCents},
		{"Started", formatTime(b.StartedAt)},
		{"Completed at", formatTime(b.CompletedAt)},
	}
	for i, row := range summary {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "B", "B", 48); err != nil {
		return err
	}

	if _, err := f.NewSheet(jobsSheet); err != nil {
		return err
	}
	header := make([]interface{}, len(jobColumns))
	for i, c := range jobColumns {
		header[i] = c
	}
	if err := setRow(f, jobsSheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(jobColumns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(jobsSheet, "A1", last, bold); err != nil {
		return err
	}
	for i, j := range detail.Jobs {
		row := []interface{}{
			j.ID.String(),
			j.EpisodeTitle,
			j.Status,
			j.Progress,
			pointers.Deref(j.CurrentStep),
			pointers.Deref(j.ErrorMessage),
			retries[j.ID],
			derefInt(j.CostCents),
			formatTime(j.StartedAt),
			formatTime(j.CompletedAt),
		}
		if err := setRow(f, jobsSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(jobsSheet, "A", "A", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(jobsSheet, "B", "B", 48); err != nil {
		return err
	}
	if err := f.SetColWidth(jobsSheet, "F", "F", 60); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func derefInt(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
