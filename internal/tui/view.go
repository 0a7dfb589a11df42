package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF7DB")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Margin(0, 1)

	alertStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
)

func (m ProgressModel) View() string {
	if m.quitting {
		return ""
	}

	header := fmt.Sprintf("gosnoop - %s - run %s", m.inputDir, shortID(m.stats.RunID()))
	if m.passes > 1 {
		header += fmt.Sprintf(" (pass %d)", m.passes)
	}
	title := titleStyle.Render(header)

	done, skipped, failed, total := m.stats.Counts()
	progress := fmt.Sprintf("Jobs: %d/%d done, %d skipped, %d failed\nThroughput: %s\nFrame rate: %.1f fps",
		done, total, skipped, failed, formatBps(m.bps), m.fps)
	progressBox := infoStyle.Render(progress)

	var kindStrs []string
	for _, k := range m.kinds {
		kindStrs = append(kindStrs, fmt.Sprintf("%s: %d", k.Kind, k.Count))
	}
	if len(kindStrs) == 0 {
		kindStrs = append(kindStrs, "Waiting for data...")
	}
	kindBox := infoStyle.Render("Packet kinds:\n" + strings.Join(kindStrs, "\n"))

	var svcStrs []string
	limit := min(5, len(m.services))
	for i := 0; i < limit; i++ {
		svcStrs = append(svcStrs, fmt.Sprintf("%s: %d", m.services[i].Service, m.services[i].Count))
	}
	for _, c := range m.conns {
		svcStrs = append(svcStrs, fmt.Sprintf("handle 0x%03x: %d B", c.Handle, c.Bytes))
	}
	if len(svcStrs) == 0 {
		svcStrs = append(svcStrs, "No L2CAP traffic yet")
	}
	svcBox := infoStyle.Render("Services & links:\n" + strings.Join(svcStrs, "\n"))

	jobsBox := infoStyle.Render("Archives\n" + m.table.View())

	var alertStrs []string
	for _, a := range m.alerts {
		alertStrs = append(alertStrs, alertStyle.Render(fmt.Sprintf("[%s] %s #%d: %s", a.Type, a.Source, a.Frame, a.Message)))
	}
	if len(alertStrs) == 0 {
		alertStrs = append(alertStrs, "No anomalies")
	}
	alertBox := infoStyle.Render("Alerts:\n" + strings.Join(alertStrs, "\n"))

	row1 := lipgloss.JoinHorizontal(lipgloss.Top, progressBox, kindBox, svcBox)
	body := lipgloss.JoinVertical(lipgloss.Left, title, row1, jobsBox, alertBox)

	return body + "\n" + m.status() + "\nPress q to quit."
}

func (m ProgressModel) status() string {
	if m.running || m.last == nil {
		return "Converting..."
	}
	s := fmt.Sprintf("Finished: %d built, %d up to date, %d failed", m.last.Built, m.last.Skipped, m.last.Failed)
	if m.last.Err != nil {
		s += "\n" + alertStyle.Render("Error: "+m.last.Err.Error())
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatBps(bps float64) string {
	if bps >= 1e6 {
		return fmt.Sprintf("%.2f MB/s", bps/1e6)
	}
	if bps >= 1e3 {
		return fmt.Sprintf("%.2f KB/s", bps/1e3)
	}
	return fmt.Sprintf("%.0f B/s", bps)
}
