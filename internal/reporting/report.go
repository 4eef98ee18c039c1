package reporting

import (
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"gonetcut/internal/analysis"
	"gonetcut/internal/engine"
)

// GenerateSessionReport writes an HTML summary of the run to path, or to
// report_<timestamp>.html when path is empty, and returns the file name.
func GenerateSessionReport(snap engine.Snapshot, stats *analysis.TrafficStats, path string) (string, error) {
	now := time.Now()
	if path == "" {
		path = fmt.Sprintf("report_%s.html", now.Format("20060102_150405"))
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(renderHTML(snap, stats, now)); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func renderHTML(snap engine.Snapshot, stats *analysis.TrafficStats, now time.Time) string {
	var b strings.Builder
	esc := html.EscapeString

	fmt.Fprintf(&b, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>gonetcut Session Report - %s</title>
    <style>
        body { font-family: sans-serif; margin: 20px; color: #333; }
        h1, h2 { color: #2c3e50; }
        table { width: 100%%; border-collapse: collapse; margin-bottom: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
        tr:nth-child(even) { background-color: #f9f9f9; }
        .summary { background: #eef; padding: 15px; border-radius: 5px; margin-bottom: 20px; }
        .alert { color: #d9534f; font-weight: bold; }
    </style>
</head>
<body>
    <h1>gonetcut Session Report</h1>
    <div class="summary">
        <p><strong>Date:</strong> %s</p>
        <p><strong>Source:</strong> %s (%s mode)</p>
        <p><strong>Duration:</strong> %s</p>
        <p><strong>Target 1:</strong> %s &nbsp; <strong>Target 2:</strong> %s</p>
        <p><strong>Total Data Transferred:</strong> %s</p>
    </div>
`,
		now.Format("20060102_150405"),
		now.Format(time.RFC1123),
		esc(snap.Interface), snap.Mode,
		sessionDuration(snap, now),
		esc(snap.Target1), esc(snap.Target2),
		formatBytes(stats.GetTotalDataTransferred()),
	)

	f := snap.Filter
	b.WriteString(`
    <h2>Interception</h2>
    <table>
        <thead>
            <tr><th>Captured</th><th>Total</th><th>Forwarded</th><th>Dropped</th><th>Decoded</th><th>Ignored</th><th>Injected</th><th>Injection Failures</th></tr>
        </thead>
        <tbody>
`)
	fmt.Fprintf(&b, "            <tr><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td></tr>\n",
		snap.Captured, f.Total, f.Forwarded, f.Dropped, f.Decoded, f.Ignored, snap.Injector.Sent, snap.Injector.Failed)
	b.WriteString("        </tbody>\n    </table>\n")

	b.WriteString(`
    <h2>Targets</h2>
    <table>
        <thead>
            <tr><th>IP Address</th><th>MAC Address</th><th>Vendor</th><th>Last Seen</th><th>State</th></tr>
        </thead>
        <tbody>
`)
	rows := snap.Targets
	if snap.Gateway != nil {
		rows = append([]engine.TargetRow{*snap.Gateway}, rows...)
	}
	if len(rows) == 0 {
		b.WriteString("            <tr><td colspan=\"5\">No targets found.</td></tr>\n")
	}
	for _, t := range rows {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			esc(t.IP), esc(t.MAC), esc(t.Vendor), formatSeen(t.LastSeen), targetState(t, snap.Gateway))
	}
	b.WriteString("        </tbody>\n    </table>\n")

	b.WriteString(`
    <h2>Top 10 Talkers</h2>
    <table>
        <thead>
            <tr><th>IP Address</th><th>Data Transferred (Bytes)</th></tr>
        </thead>
        <tbody>
`)
	for _, talker := range stats.GetTopTalkers(10) {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td>%d</td></tr>\n", esc(talker.IP), talker.Bytes)
	}
	b.WriteString("        </tbody>\n    </table>\n")

	b.WriteString(`
    <h2>Security Alerts</h2>
    <table>
        <thead>
            <tr><th>Time</th><th>Type</th><th>Source</th><th>Message</th></tr>
        </thead>
        <tbody>
`)
	alerts := stats.GetAllAlerts()
	if len(alerts) == 0 {
		b.WriteString("            <tr><td colspan=\"4\">No alerts triggered during this session.</td></tr>\n")
	}
	for _, alert := range alerts {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td class=\"alert\">%s</td><td>%s</td><td>%s</td></tr>\n",
			alert.Timestamp.Format("15:04:05"), esc(string(alert.Type)), esc(alert.Source), esc(alert.Message))
	}
	b.WriteString("        </tbody>\n    </table>\n")

	b.WriteString(`
    <h2>Domain History (Unique Domains)</h2>
    <table>
        <thead>
            <tr><th>Time First Seen</th><th>Hostname</th><th>Client</th><th>Source</th></tr>
        </thead>
        <tbody>
`)
	domains := stats.GetAllDomains()
	if len(domains) == 0 {
		b.WriteString("            <tr><td colspan=\"4\">No domains captured.</td></tr>\n")
	}
	for _, d := range domains {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			d.Timestamp.Format("15:04:05"), esc(d.Hostname), esc(d.Client), esc(d.Source))
	}
	b.WriteString("        </tbody>\n    </table>\n</body>\n</html>")

	return b.String()
}

func sessionDuration(snap engine.Snapshot, now time.Time) string {
	if snap.Started.IsZero() {
		return "-"
	}
	end := snap.Stopped
	if snap.Running || end.IsZero() {
		end = now
	}
	return end.Sub(snap.Started).Round(time.Second).String()
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("15:04:05")
}

func targetState(t engine.TargetRow, gw *engine.TargetRow) string {
	switch {
	case gw != nil && t.MAC == gw.MAC:
		return "gateway"
	case t.Permanent:
		return "permanent"
	case t.Alive:
		return "alive"
	}
	return "stale"
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
