// Package report renders status snapshots as fixed-width tables.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"instance-reaper/src/status"
)

const (
	hostWidth = 20
	cellWidth = 10
	ruleWidth = 52
)

// RenderStatus writes title followed by a table of snap. stateLabel heads
// the instance state column (e.g. "EC2 state"). Colours are chosen by a
// renderer bound to w, so plain writers get plain text.
func RenderStatus(w io.Writer, title, stateLabel string, snap status.Snapshot) error {
	r := lipgloss.NewRenderer(w)
	good := r.NewStyle().Foreground(lipgloss.Color("2"))
	bad := r.NewStyle().Foreground(lipgloss.Color("1"))
	paint := func(v string) string {
		switch strings.ToLower(v) {
		case "ok", "running":
			return good.Render(v)
		default:
			return bad.Render(v)
		}
	}

	var b strings.Builder
	rule := strings.Repeat("-", ruleWidth)
	fmt.Fprintf(&b, "\n%s\n%s\n", title, rule)
	fmt.Fprintf(&b, "%s %s %s %s\n", padRight("hostname", hostWidth), center("TCP", cellWidth, nil), center("HTTP", cellWidth, nil), center(stateLabel, cellWidth, nil))
	fmt.Fprintln(&b, rule)
	for _, rec := range snap.Records() {
		fmt.Fprintf(&b, "%s %s %s %s\n",
			padRight(rec.Hostname, hostWidth),
			center(string(rec.TCP), cellWidth, paint),
			center(string(rec.HTTP), cellWidth, paint),
			center(string(rec.Instance.State), cellWidth, paint),
		)
	}
	fmt.Fprintln(&b, rule)
	_, err := io.WriteString(w, b.String())
	return err
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// center pads s to width, extra space going right, and styles only the text
// so escape codes never count towards the width.
func center(s string, width int, paint func(string) string) string {
	text := s
	if paint != nil {
		text = paint(s)
	}
	gap := width - len(s)
	if gap <= 0 {
		return text
	}
	left := gap / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", gap-left)
}
