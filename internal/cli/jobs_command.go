package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	types "github.com/yungbote/podscribe-backend/internal/domain"
)

func runJobs(args []string) error {
	if len(args) == 0 || args[0] != "status" {
		fmt.Println("usage: podctl jobs status [--batch <id>] [--status <s>] [--limit <n>] [--json]")
		if len(args) == 0 {
			return nil
		}
		return fmt.Errorf("unknown jobs command %q", args[0])
	}

	fs := flag.NewFlagSet("jobs status", flag.ContinueOnError)
	batch := fs.String("batch", "", "only jobs of this batch")
	status := fs.String("status", "", "only jobs in this status")
	limit := fs.Int("limit", 50, "max jobs to list")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	q := JobQuery{Status: strings.TrimSpace(*status), Limit: *limit}
	if b := strings.TrimSpace(*batch); b != "" {
		id, err := uuid.Parse(b)
		if err != nil {
			return fmt.Errorf("invalid --batch %q", b)
		}
		q.BatchID = &id
	}

	jobs, total, err := apiClientFromEnv().ListJobs(context.Background(), q)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(map[string]any{"jobs": jobs, "total": total})
	}
	writeJobTable(os.Stdout, jobs, total)
	return nil
}

func writeJobTable(w io.Writer, jobs []types.Job, total int64) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "no jobs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEPISODE\tPROVIDER\tSTATUS\tPROGRESS\tSTEP\tRETRIES")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\t%d\n",
			j.ID, j.EpisodeID, j.Provider, j.Status, j.Progress, deref(j.CurrentStep), j.RetryCount)
	}
	_ = tw.Flush()
	if int64(len(jobs)) < total {
		fmt.Fprintf(w, "showing %d of %d\n", len(jobs), total)
	}
}
