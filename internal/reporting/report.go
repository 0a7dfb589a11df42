package reporting

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gosnoop/internal/analysis"
)

// RunReport is the JSON form of a run report.
type RunReport struct {
	RunID       string                 `json:"run_id"`
	Started     time.Time              `json:"started"`
	Generated   time.Time              `json:"generated"`
	TotalFrames int64                  `json:"total_frames"`
	TotalBytes  int64                  `json:"total_bytes"`
	Jobs        []JobEntry             `json:"jobs"`
	Kinds       []analysis.KindStat    `json:"kinds"`
	Services    []analysis.ServiceStat `json:"services"`
	Connections []analysis.ConnStat    `json:"connections"`
	Alerts      []analysis.Alert       `json:"alerts"`
}

type JobEntry struct {
	Name    string  `json:"name"`
	State   string  `json:"state"`
	Frames  int     `json:"frames"`
	Records int     `json:"records"`
	Seconds float64 `json:"seconds"`
	Error   string  `json:"error,omitempty"`
}

// Build snapshots stats into a report.
func Build(stats *analysis.RunStats) RunReport {
	r := RunReport{
		RunID:       stats.RunID(),
		Started:     stats.Started(),
		Generated:   time.Now(),
		TotalFrames: stats.GetTotalFrames(),
		TotalBytes:  stats.GetTotalBytes(),
		Kinds:       stats.GetKindStats(),
		Services:    stats.GetServiceStats(),
		Connections: stats.GetTopConnections(10),
		Alerts:      stats.GetAllAlerts(),
	}
	for _, j := range stats.GetJobs() {
		r.Jobs = append(r.Jobs, JobEntry{
			Name:    j.Name,
			State:   string(j.State),
			Frames:  j.Frames,
			Records: j.Records,
			Seconds: j.Duration().Seconds(),
			Error:   j.Error,
		})
	}
	return r
}

// GenerateRunReport writes a report of the run into dir and returns its
// path. Supported formats are "html" and "json".
func GenerateRunReport(stats *analysis.RunStats, format, dir string) (string, error) {
	if format != "html" && format != "json" {
		return "", fmt.Errorf("unsupported format: %s", format)
	}

	report := Build(stats)
	timestamp := report.Generated.Format("20060102_150405")
	filename := filepath.Join(dir, fmt.Sprintf("report_%s.%s", timestamp, format))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	var content []byte
	if format == "json" {
		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", err
		}
		content = append(b, '\n')
	} else {
		content = []byte(renderHTML(report))
	}

	if err := os.WriteFile(filename, content, 0o644); err != nil {
		return "", err
	}
	return filename, nil
}

func renderHTML(r RunReport) string {
	var b strings.Builder
	e := html.EscapeString

	fmt.Fprintf(&b, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>gosnoop Run Report - %s</title>
    <style>
        body { font-family: sans-serif; margin: 20px; color: #333; }
        h1, h2 { color: #2c3e50; }
        table { width: 100%%; border-collapse: collapse; margin-bottom: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
        tr:nth-child(even) { background-color: #f9f9f9; }
        .summary { background: #eef; padding: 15px; border-radius: 5px; margin-bottom: 20px; }
        .alert, .failed { color: #d9534f; font-weight: bold; }
    </style>
</head>
<body>
    <h1>gosnoop Run Report</h1>
    <div class="summary">
        <p><strong>Run:</strong> %s</p>
        <p><strong>Started:</strong> %s</p>
        <p><strong>Frames decoded:</strong> %d</p>
        <p><strong>HCI data:</strong> %s</p>
    </div>
`, e(r.RunID), e(r.RunID), r.Started.Format(time.RFC1123), r.TotalFrames, formatBytes(r.TotalBytes))

	b.WriteString(tableStart("Archives", "Archive", "State", "Frames", "Records", "Seconds", "Error"))
	if len(r.Jobs) == 0 {
		b.WriteString(emptyRow(6, "No archives found."))
	}
	for _, j := range r.Jobs {
		class := ""
		if j.State == string(analysis.JobFailed) {
			class = ` class="failed"`
		}
		fmt.Fprintf(&b, "            <tr><td>%s</td><td%s>%s</td><td>%d</td><td>%d</td><td>%.2f</td><td>%s</td></tr>\n",
			e(j.Name), class, e(j.State), j.Frames, j.Records, j.Seconds, e(j.Error))
	}
	b.WriteString(tableEnd)

	b.WriteString(tableStart("Packet Kinds", "Kind", "Frames"))
	if len(r.Kinds) == 0 {
		b.WriteString(emptyRow(2, "No frames decoded."))
	}
	for _, k := range r.Kinds {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td>%d</td></tr>\n", e(string(k.Kind)), k.Count)
	}
	b.WriteString(tableEnd)

	b.WriteString(tableStart("L2CAP Services", "Service", "PDUs"))
	if len(r.Services) == 0 {
		b.WriteString(emptyRow(2, "No L2CAP traffic."))
	}
	for _, s := range r.Services {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td>%d</td></tr>\n", e(s.Service), s.Count)
	}
	b.WriteString(tableEnd)

	b.WriteString(tableStart("Top 10 Connections", "ACL Handle", "Data Transferred (Bytes)"))
	for _, c := range r.Connections {
		fmt.Fprintf(&b, "            <tr><td>0x%03x</td><td>%d</td></tr>\n", c.Handle, c.Bytes)
	}
	b.WriteString(tableEnd)

	b.WriteString(tableStart("Capture Anomalies", "Time", "Type", "Archive", "Frame", "Message"))
	if len(r.Alerts) == 0 {
		b.WriteString(emptyRow(5, "No anomalies detected during this run."))
	}
	for _, a := range r.Alerts {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td class=\"alert\">%s</td><td>%s</td><td>%d</td><td>%s</td></tr>\n",
			a.Timestamp.Format("15:04:05"), e(string(a.Type)), e(a.Source), a.Frame, e(a.Message))
	}
	b.WriteString(tableEnd)

	b.WriteString("</body>\n</html>\n")
	return b.String()
}

const tableEnd = `        </tbody>
    </table>
`

func tableStart(title string, headers ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n    <h2>%s</h2>\n    <table>\n        <thead>\n            <tr>\n", title)
	for _, h := range headers {
		fmt.Fprintf(&b, "                <th>%s</th>\n", h)
	}
	b.WriteString("            </tr>\n        </thead>\n        <tbody>\n")
	return b.String()
}

func emptyRow(cols int, text string) string {
	return fmt.Sprintf("            <tr><td colspan=\"%d\">%s</td></tr>\n", cols, text)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
