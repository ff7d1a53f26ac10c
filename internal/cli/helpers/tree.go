package helpers

import (
	"fmt"
	"strings"
	"time"

	"github.com/coral-mesh/wallprof/internal/translate"
)

// RenderProfile renders the call tree of tp in ASCII art. Each node shows
// its own hits, the wall time they stand for at period, the share of all
// hits and how many contexts were matched to it. Subtrees without hits are
// omitted.
func RenderProfile(tp *translate.TimeProfile, period time.Duration) string {
	if tp == nil || tp.TopDownRoot == nil {
		return "No profile data available.\n"
	}
	total := tp.TotalHits()
	if total == 0 {
		return "No samples recorded.\n"
	}

	var buf strings.Builder
	children := visible(tp.TopDownRoot.Children)
	for i, c := range children {
		renderNode(&buf, c, "", i == len(children)-1, total, period)
	}
	return buf.String()
}

func renderNode(buf *strings.Builder, n *translate.TimeNode, prefix string, last bool, total int, period time.Duration) {
	connector := "├─"
	if last {
		connector = "└─"
	}

	name := n.Name
	if n.ScriptName != "" {
		name = fmt.Sprintf("%s %s:%d", n.Name, n.ScriptName, n.LineNumber)
	}
	fmt.Fprintf(buf, "%s%s %s (%d hits, %s, %.1f%%",
		prefix, connector, name, n.HitCount,
		FormatDuration(time.Duration(n.HitCount)*period),
		float64(n.HitCount)/float64(total)*100)
	if len(n.Contexts) > 0 {
		fmt.Fprintf(buf, ", %d contexts", len(n.Contexts))
	}
	buf.WriteString(")\n")

	childPrefix := prefix + "│ "
	if last {
		childPrefix = prefix + "  "
	}
	children := visible(n.Children)
	for i, c := range children {
		renderNode(buf, c, childPrefix, i == len(children)-1, total, period)
	}
}

func visible(nodes []*translate.TimeNode) []*translate.TimeNode {
	out := make([]*translate.TimeNode, 0, len(nodes))
	for _, n := range nodes {
		if subtreeHits(n) > 0 {
			out = append(out, n)
		}
	}
	return out
}

func subtreeHits(n *translate.TimeNode) int {
	hits := n.HitCount
	for _, c := range n.Children {
		hits += subtreeHits(c)
	}
	return hits
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
