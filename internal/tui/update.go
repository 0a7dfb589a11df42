package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case TickMsg:
		m = m.refresh()
		return m, tickCmd()

	case RunStartedMsg:
		if !m.running {
			m.passes++
		}
		m.running = true
		return m, nil

	case RunFinishedMsg:
		m.running = false
		m.last = &msg
		return m.refresh(), nil
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m ProgressModel) refresh() ProgressModel {
	m.bps, m.fps = m.stats.GetRates()
	m.kinds = m.stats.GetKindStats()
	m.services = m.stats.GetServiceStats()
	m.conns = m.stats.GetTopConnections(5)
	m.alerts = m.stats.GetAlerts()
	m.jobs = m.stats.GetJobs()

	rows := make([]table.Row, len(m.jobs))
	for i, j := range m.jobs {
		took := ""
		if d := j.Duration(); d > 0 {
			took = d.Round(10 * time.Millisecond).String()
		}
		rows[i] = table.Row{j.Name, string(j.State), fmt.Sprintf("%d", j.Frames), fmt.Sprintf("%d", j.Records), took}
	}
	m.table.SetRows(rows)
	return m
}
