package tui

import (
	"time"

	"gosnoop/internal/analysis"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TickMsg refreshes the dashboard from the run stats.
type TickMsg time.Time

// RunFinishedMsg tells the dashboard a pipeline pass ended.
type RunFinishedMsg struct {
	Built, Skipped, Failed int
	Err                    error
}

// RunStartedMsg tells the dashboard a new pass began, e.g. after a watch
// trigger.
type RunStartedMsg struct{}

type ProgressModel struct {
	stats    *analysis.RunStats
	inputDir string

	bps      float64
	fps      float64
	kinds    []analysis.KindStat
	services []analysis.ServiceStat
	conns    []analysis.ConnStat
	alerts   []analysis.Alert
	jobs     []analysis.JobStatus
	table    table.Model

	passes   int
	running  bool
	last     *RunFinishedMsg
	quitting bool
}

func NewProgressModel(stats *analysis.RunStats, inputDir string) ProgressModel {
	columns := []table.Column{
		{Title: "Archive", Width: 30},
		{Title: "State", Width: 9},
		{Title: "Frames", Width: 9},
		{Title: "Records", Width: 9},
		{Title: "Time", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return ProgressModel{
		stats:    stats,
		inputDir: inputDir,
		table:    t,
		running:  true,
		passes:   1,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
