package game

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/Garsondee/Volley-Sense/internal/volley"
)

const (
	logPanelWidth = 360
	logMaxEntries = 80
	logLineHeight = 15
)

// RallyEntry is a single line in the rally log.
type RallyEntry struct {
	Tick    int
	Label   string // e.g. "B0", "P1", "--"
	Team    string
	Message string
}

// RallyLog is a ring buffer of engine events rendered on-screen.
type RallyLog struct {
	entries []RallyEntry
	head    int
	count   int

	// Categories not shown. Per-tick ball positions are hidden by default.
	muted map[string]bool
}

// NewRallyLog creates a rally log with a fixed capacity.
func NewRallyLog() *RallyLog {
	return &RallyLog{
		entries: make([]RallyEntry, logMaxEntries),
		muted:   map[string]bool{"ball": true},
	}
}

// Attach copies the sim log's existing entries and every later one into the
// rally log.
func (rl *RallyLog) Attach(sl *volley.SimLog) {
	for _, e := range sl.Entries() {
		rl.addEntry(e)
	}
	sl.Subscribe(rl.addEntry)
}

// Mute hides a category from now on.
func (rl *RallyLog) Mute(category string, muted bool) { rl.muted[category] = muted }

func (rl *RallyLog) addEntry(e volley.SimLogEntry) {
	if rl.muted[e.Category] {
		return
	}
	rl.Add(e.Tick, e.Agent, e.Team, e.Key+" "+e.Value)
}

// Add appends an entry to the log.
func (rl *RallyLog) Add(tick int, label, team, msg string) {
	rl.entries[rl.head] = RallyEntry{
		Tick:    tick,
		Label:   label,
		Team:    team,
		Message: msg,
	}
	rl.head = (rl.head + 1) % logMaxEntries
	if rl.count < logMaxEntries {
		rl.count++
	}
}

// Recent returns entries in chronological order (oldest first).
func (rl *RallyLog) Recent() []RallyEntry {
	result := make([]RallyEntry, rl.count)
	for i := 0; i < rl.count; i++ {
		idx := (rl.head - rl.count + i + logMaxEntries) % logMaxEntries
		result[i] = rl.entries[idx]
	}
	return result
}

func teamColor(team string) color.RGBA {
	switch team {
	case volley.TeamBlue.String():
		return color.RGBA{R: 70, G: 120, B: 220, A: 255}
	case volley.TeamPurple.String():
		return color.RGBA{R: 150, G: 80, B: 220, A: 255}
	}
	return color.RGBA{R: 150, G: 150, B: 150, A: 255}
}

// Draw renders the rally log panel on the right side of the screen.
func (rl *RallyLog) Draw(screen *ebiten.Image, face text.Face, panelX int, panelH int) {
	vector.FillRect(screen, float32(panelX), 0, float32(logPanelWidth), float32(panelH), color.RGBA{R: 14, G: 12, B: 10, A: 248}, false)
	vector.StrokeLine(screen, float32(panelX), 0, float32(panelX), float32(panelH), 1.0, color.RGBA{R: 80, G: 70, B: 50, A: 255}, false)

	vector.FillRect(screen, float32(panelX), 0, float32(logPanelWidth), 20, color.RGBA{R: 30, G: 26, B: 18, A: 255}, false)
	drawText(screen, face, "RALLY LOG", panelX+8, 3, color.White)
	vector.StrokeLine(screen, float32(panelX), 20, float32(panelX+logPanelWidth), 20, 1.0, color.RGBA{R: 90, G: 80, B: 50, A: 200}, false)

	entries := rl.Recent()

	// Newest at the bottom.
	maxVisible := (panelH - 28) / logLineHeight
	startIdx := 0
	if len(entries) > maxVisible {
		startIdx = len(entries) - maxVisible
	}
	visible := entries[startIdx:]
	recent := 3

	y := 24
	for i, e := range visible {
		isRecent := i >= len(visible)-recent
		if isRecent {
			vector.FillRect(screen, float32(panelX+2), float32(y), float32(logPanelWidth-4), float32(logLineHeight), color.RGBA{R: 40, G: 34, B: 24, A: 160}, false)
		}
		vector.FillRect(screen, float32(panelX+5), float32(y+4), 3, 7, teamColor(e.Team), false)

		textCol := color.RGBA{R: 170, G: 170, B: 160, A: 255}
		if isRecent {
			textCol = color.RGBA{R: 255, G: 255, B: 240, A: 255}
		}
		drawText(screen, face, fmt.Sprintf("%5d [%s] %s", e.Tick, e.Label, e.Message), panelX+12, y, textCol)
		y += logLineHeight
	}
}
