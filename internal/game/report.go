package game

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/Garsondee/Volley-Sense/internal/volley"
)

// agentTimelineTicks is how far back the copied agent timeline reaches.
const agentTimelineTicks = 600

// debugReport is the text copied by the C key: the run summary, the live
// statistics report and, when an agent is selected, its recent timeline.
func (g *Game) debugReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- VolleySense report ---\n")
	fmt.Fprintf(&b, "run=%s seed=%d tick=%d\n\n", g.sim.RunID, g.sim.Seed(), g.sim.CurrentTick())
	b.WriteString(g.sim.Summary())
	b.WriteString("\n")
	b.WriteString(g.sim.Tracker.Totals(volley.ReportSnapshot).Format())

	if a := g.inspector.selected; a != nil {
		from := g.sim.Env.Tick() - agentTimelineTicks
		fmt.Fprintf(&b, "\n== %s timeline (T>=%d) ==\n", a.Label(), max(from, 0))
		n := 0
		for _, e := range g.sim.SimLog.FilterAgent(a.Label()) {
			if e.Tick < from {
				continue
			}
			b.WriteString(e.String())
			b.WriteString("\n")
			n++
		}
		if n == 0 {
			b.WriteString("(no events in range)\n")
		}
	}
	return b.String()
}

// copyReport puts debugReport on the system clipboard.
func (g *Game) copyReport() {
	if err := clipboard.WriteAll(g.debugReport()); err != nil {
		g.setStatus("copy failed: %v", err)
		return
	}
	g.setStatus("report copied to clipboard")
}
