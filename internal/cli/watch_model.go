package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yungbote/podscribe-backend/internal/domain/jobs"
	"github.com/yungbote/podscribe-backend/internal/services"
)

const (
	watchInterval   = 2 * time.Second
	watchJobRows    = 8
	watchFetchLimit = 10 * time.Second
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	watchPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type batchFetcher func(ctx context.Context) (*services.BatchDetail, error)

type batchMsg struct{ detail *services.BatchDetail }

type watchErrMsg struct{ err error }

type watchTickMsg time.Time

type watchModel struct {
	fetch    batchFetcher
	interval time.Duration

	spin  spinner.Model
	bar   progress.Model
	batch *services.BatchDetail
	err   error
	done  bool
}

func newWatchModel(fetch batchFetcher, interval time.Duration) watchModel {
	if interval <= 0 {
		interval = watchInterval
	}
	return watchModel{
		fetch:    fetch,
		interval: interval,
		spin:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.fetchCmd())
}

func (m watchModel) fetchCmd() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), watchFetchLimit)
		defer cancel()
		detail, err := fetch(ctx)
		if err != nil {
			return watchErrMsg{err: err}
		}
		return batchMsg{detail: detail}
	}
}

func (m watchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		w := msg.Width - 4
		if w > 60 {
			w = 60
		}
		if w > 10 {
			m.bar.Width = w
		}
		return m, nil
	case batchMsg:
		m.batch = msg.detail
		m.err = nil
		if m.batch.IsTerminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, m.tickCmd()
	case watchErrMsg:
		// Keep polling; the API may be restarting.
		m.err = msg.err
		return m, m.tickCmd()
	case watchTickMsg:
		return m, m.fetchCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.batch == nil {
		if m.err != nil {
			return watchErrorStyle.Render("error: "+m.err.Error()) + "\n"
		}
		return m.spin.View() + " loading batch...\n"
	}
	b := m.batch

	header := watchTitleStyle.Render(b.Name) + " " + watchMutedStyle.Render(fmt.Sprintf("(%s, %s)", b.Provider, b.ID))
	state := m.spin.View() + " " + b.Status
	if m.done {
		state = watchOKStyle.Render("finished: " + b.Status)
	}

	var body strings.Builder
	body.WriteString(m.bar.ViewAs(b.ProgressPercent / 100))
	body.WriteString("\n")
	fmt.Fprintf(&body, "completed %d  failed %d  pending %d  of %d\n",
		b.CompletedEpisodes, b.FailedEpisodes, b.PendingEpisodes(), b.TotalEpisodes)
	fmt.Fprintf(&body, "cost $%.2f (estimated $%.2f)",
		float64(b.ActualCostCents)/100, float64(b.EstimatedCostCents)/100)

	active := activeJobs(b.Jobs, watchJobRows)
	if len(active) > 0 {
		body.WriteString("\n")
		for _, j := range active {
			step := j.Status
			if j.CurrentStep != nil && *j.CurrentStep != "" {
				step = *j.CurrentStep
			}
			fmt.Fprintf(&body, "\n%3d%% %-12s %s", j.Progress, step, truncate(j.EpisodeTitle, 48))
		}
	}

	parts := []string{header, state, watchPanelStyle.Render(body.String())}
	if m.err != nil {
		parts = append(parts, watchErrorStyle.Render("refresh failed: "+m.err.Error()))
	}
	if !m.done {
		parts = append(parts, watchMutedStyle.Render("q to quit"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
}

// activeJobs keeps jobs that are still moving, in the order the API returned.
func activeJobs(all []services.JobSummary, limit int) []services.JobSummary {
	out := make([]services.JobSummary, 0, limit)
	for _, j := range all {
		switch j.Status {
		case jobs.JobStatusPending, jobs.JobStatusDone, jobs.JobStatusFailed,
			jobs.JobStatusCancelled, jobs.JobStatusSkipped:
			continue
		}
		out = append(out, j)
		if len(out) == limit {
			break
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func runBatchWatch(args []string) error {
	id, err := parseIDArg(args, "batch")
	if err != nil {
		return err
	}
	client := apiClientFromEnv()
	m := newWatchModel(func(ctx context.Context) (*services.BatchDetail, error) {
		return client.GetBatch(ctx, id)
	}, watchInterval)

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return err
	}
	wm, ok := final.(watchModel)
	if !ok {
		return nil
	}
	if wm.batch == nil && wm.err != nil {
		return wm.err
	}
	return nil
}
