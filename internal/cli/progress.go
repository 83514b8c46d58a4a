package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/docjobs/internal/client"
	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/raphaelgruber/docjobs/internal/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// snapshotMsg carries a snapshot pushed by the watch stream.
type snapshotMsg models.JobSnapshot

// watchDoneMsg ends the stream.
type watchDoneMsg struct {
	snap *models.JobSnapshot
	err  error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	jobID    string
	snap     *models.JobSnapshot
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(jobID string) progressModel {
	return progressModel{
		jobID: jobID,
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme: defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case snapshotMsg:
		snap := models.JobSnapshot(msg)
		m.snap = &snap
		return m, nil

	case watchDoneMsg:
		m.done = true
		if msg.snap != nil {
			m.snap = msg.snap
		}
		m.err = outcome(m.snap, msg.err)
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.snap == nil {
		return "Waiting for job status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.snap.Status))
	bar := m.progress.ViewAs(float64(m.snap.Progress) / 100)
	counts := fmt.Sprintf("%s docs", formatMetric(m.snap.Metrics[telemetry.MetricDocumentsProcessed]))
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n%s\n", status, bar, counts, m.snap.Message, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'docjobs jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	var b strings.Builder
	b.WriteString(m.theme.completedStyle().Render("✓ Completed") + "\n\n")
	if m.snap != nil {
		for _, name := range sortedKeys(m.snap.Metrics) {
			fmt.Fprintf(&b, "  %-24s %s\n", name+":", formatMetric(m.snap.Metrics[name]))
		}
	}
	return b.String()
}

// outcome turns the final snapshot of a watch into the command's error.
func outcome(snap *models.JobSnapshot, watchErr error) error {
	if watchErr != nil {
		return watchErr
	}
	if snap == nil {
		return errors.New("watch ended without a status")
	}
	if snap.Status == models.JobStatusFailed {
		if snap.Error != nil {
			return fmt.Errorf("%s: %s", snap.Error.Class, snap.Error.Message)
		}
		return errors.New("job failed with unknown error")
	}
	return nil
}

// RunJobProgress follows a job until it finishes. On a terminal it renders an
// interactive progress bar; otherwise it prints one line per status change.
// Returns nil on success or Ctrl+C (background), error on job failure.
func RunJobProgress(ctx context.Context, c *client.Client, jobID string, out io.Writer) error {
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return watchPlain(ctx, c, jobID, out)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(jobID))
	go func() {
		final, err := c.Watch(ctx, jobID, func(s models.JobSnapshot) error {
			p.Send(snapshotMsg(s))
			return nil
		})
		p.Send(watchDoneMsg{snap: final, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// If user quit with Ctrl+C, job continues in background - not an error
		if m.quitting {
			return nil
		}
		return m.err
	}
	return nil
}

// watchPlain prints a line whenever status, progress or message change.
func watchPlain(ctx context.Context, c *client.Client, jobID string, out io.Writer) error {
	var last string
	final, err := c.Watch(ctx, jobID, func(s models.JobSnapshot) error {
		line := fmt.Sprintf("[%s] %3d%% %s", s.Status, s.Progress, s.Message)
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
		return nil
	})
	if err := outcome(final, err); err != nil {
		return err
	}
	if final != nil {
		for _, name := range sortedKeys(final.Metrics) {
			fmt.Fprintf(out, "  %-24s %s\n", name+":", formatMetric(final.Metrics[name]))
		}
	}
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunJobProgress(cmd.Context(), apiClient, args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
