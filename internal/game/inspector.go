package game

import (
	"fmt"
	"image/color"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/Garsondee/Volley-Sense/internal/volley"
)

const (
	inspW     = 380
	inspPad   = 8
	inspLineH = 17
	// inspRawEntries is how many recent log entries the raw view lists.
	inspRawEntries = 14
)

// Inspector holds the selected agent and view toggle state.
type Inspector struct {
	selected *volley.Agent
	rawView  bool // false = curated, true = recent log entries
}

// handleInspectorClick selects the agent nearest a click, or clears the
// selection when nothing is close. Returns true if an agent was hit.
func (g *Game) handleInspectorClick(mx, my int) bool {
	v := g.view()
	p := v.toCourt(float64(mx), float64(my))

	// Pick radius: 16 screen pixels expressed in metres.
	pick := 16.0/v.scale + g.sim.Settings.Court.AgentRadius
	best := math.MaxFloat64
	var hit *volley.Agent
	for _, a := range g.sim.Env.Agents() {
		d := a.Body().Position.Flat().Dist(p)
		if d < pick && d < best {
			best = d
			hit = a
		}
	}
	g.inspector.selected = hit
	return hit != nil
}

// curatedLines is the organised, human-readable view of an agent.
func curatedLines(a *volley.Agent) []string {
	v := a.Current()
	b := a.Body()
	lines := []string{
		fmt.Sprintf("[ %s %s ]  role %s", a.Team(), a.Label(), a.Role()),
		fmt.Sprintf("model: %s", v.ModelName()),
		fmt.Sprintf("pos %s  yaw %.0f", b.Position, b.Yaw),
		fmt.Sprintf("vel %s", b.Velocity),
		fmt.Sprintf("return %+.3f  last %+.3f  lifetime %+.3f", v.Return, v.LastReturn, v.Lifetime),
		fmt.Sprintf("episodes ended %d  interrupted %d", v.Ended, v.Interrupted),
	}
	if a.ActiveTarget {
		lines = append(lines, fmt.Sprintf("target %s", a.Target))
	} else {
		lines = append(lines, "target: none")
	}
	if a.IgnoredSwitches > 0 {
		lines = append(lines, fmt.Sprintf("ignored switches: %d", a.IgnoredSwitches))
	}
	lines = append(lines, "variants:")
	for _, vv := range a.Variants() {
		on := " "
		if vv.Enabled() {
			on = "*"
		}
		lines = append(lines, fmt.Sprintf(" %s %-10s %-14s %+.2f", on, vv.Role, vv.ModelName(), vv.Lifetime))
	}
	return lines
}

// rawLines lists the agent's most recent sim log entries.
func rawLines(a *volley.Agent, sl *volley.SimLog) []string {
	entries := sl.FilterAgent(a.Label())
	if len(entries) > inspRawEntries {
		entries = entries[len(entries)-inspRawEntries:]
	}
	lines := []string{fmt.Sprintf("[ %s %s ]  recent events", a.Team(), a.Label())}
	if len(entries) == 0 {
		return append(lines, "(no events yet)")
	}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%5d %-8s %s %s", e.Tick, e.Category, e.Key, e.Value))
	}
	return lines
}

// drawInspector renders the selected agent's panel in the top-right corner
// of the court view.
func (g *Game) drawInspector(screen *ebiten.Image) {
	a := g.inspector.selected
	if a == nil {
		return
	}
	lines := curatedLines(a)
	if g.inspector.rawView {
		lines = rawLines(a, g.sim.SimLog)
	}
	lines = append(lines, "[I] toggle view")

	bw := float32(inspW)
	bh := float32(len(lines)*inspLineH + inspPad*2)
	bx := float32(g.offX+g.gameWidth) - bw - 8
	by := float32(g.offY + 8)

	border := shade(teamColor(a.Team().String()), 0.8)
	vector.FillRect(screen, bx, by, bw, bh, color.RGBA{R: 12, G: 10, B: 8, A: 230}, false)
	vector.StrokeRect(screen, bx, by, bw, bh, 1.0, border, false)
	for i, l := range lines {
		drawText(screen, g.small, l, int(bx)+inspPad, int(by)+inspPad+i*inspLineH, color.White)
	}
}
