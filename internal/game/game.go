package game

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/Garsondee/Volley-Sense/internal/volley"
)

// borderWidth is the pixel gap between the window edge and the court view.
const borderWidth = 24

// statusFrames is how long a status line stays in the HUD (~2s at 60 TPS).
const statusFrames = 120

// simLogLimit bounds the sim log in long viewer sessions.
const simLogLimit = 20000

type Game struct {
	width      int
	height     int
	gameWidth  int // court view width (log panel takes the rest)
	gameHeight int // court view height (inside border)
	offX       int // pixel offset from window left to court view left
	offY       int // pixel offset from window top to court view top

	sim      *volley.Sim
	rallyLog *RallyLog
	face     text.Face
	small    text.Face

	showHUD     bool
	showTargets bool
	prevKeys    map[ebiten.Key]bool

	// Court view zoom (1.0 = whole court fits).
	camZoom float64

	// Simulation speed control.
	simSpeed  float64 // multiplier: 0=paused, 0.5, 1, 2, 4
	tickAccum float64 // fractional tick accumulator for sub-1x speeds

	inspector     Inspector
	prevMouseLeft bool

	status      string
	statusTimer int
}

// New builds a viewer around a fresh headless sim.
func New(opts ...volley.SimOption) (*Game, error) {
	sim, err := volley.NewSim(opts...)
	if err != nil {
		return nil, err
	}
	face, err := newFace(15)
	if err != nil {
		return nil, err
	}
	small, err := newFace(12)
	if err != nil {
		return nil, err
	}
	sim.SimLog.SetLimit(simLogLimit)

	courtW, courtH := 1200, 720
	g := &Game{
		width:       borderWidth + courtW + borderWidth + logPanelWidth,
		height:      borderWidth + courtH + borderWidth,
		gameWidth:   courtW,
		gameHeight:  courtH,
		offX:        borderWidth,
		offY:        borderWidth,
		sim:         sim,
		rallyLog:    NewRallyLog(),
		face:        face,
		small:       small,
		showHUD:     true,
		showTargets: sim.Settings.Manager.ShowTargets,
		prevKeys:    make(map[ebiten.Key]bool),
		camZoom:     1,
		simSpeed:    1,
	}
	g.rallyLog.Attach(sim.SimLog)
	return g, nil
}

// Sim exposes the underlying simulation.
func (g *Game) Sim() *volley.Sim { return g.sim }

// Close writes the final statistics report.
func (g *Game) Close() { g.sim.Close() }

func (g *Game) Update() error {
	g.handleInput()
	g.advance()
	if g.statusTimer > 0 {
		g.statusTimer--
	}
	return nil
}

// advance runs as many sim ticks as the speed setting owes this frame.
func (g *Game) advance() {
	if g.simSpeed <= 0 {
		return
	}
	g.tickAccum += g.simSpeed
	for g.tickAccum >= 1.0 {
		g.tickAccum -= 1.0
		g.sim.Step()
	}
}

var speeds = []float64{0, 0.5, 1, 2, 4}

func slower(cur float64) float64 {
	for i, s := range speeds {
		if s >= cur && i > 0 {
			return speeds[i-1]
		}
	}
	return cur
}

func faster(cur float64) float64 {
	for _, s := range speeds {
		if s > cur {
			return s
		}
	}
	return cur
}

func (g *Game) setStatus(format string, args ...any) {
	g.status = fmt.Sprintf(format, args...)
	g.statusTimer = statusFrames
}

// pressed reports an edge-triggered key press and records the key state.
func (g *Game) pressed(cur map[ebiten.Key]bool, k ebiten.Key) bool {
	cur[k] = ebiten.IsKeyPressed(k)
	return cur[k] && !g.prevKeys[k]
}

// handleInput processes keypresses (edge-triggered) and clicks.
func (g *Game) handleInput() {
	cur := map[ebiten.Key]bool{}

	if g.pressed(cur, ebiten.KeyH) {
		g.showHUD = !g.showHUD
	}
	if g.pressed(cur, ebiten.KeyT) {
		g.showTargets = !g.showTargets
	}
	if g.pressed(cur, ebiten.KeyR) {
		g.sim.Env.ResetScene()
		g.setStatus("scene reset")
	}
	if g.pressed(cur, ebiten.KeyC) {
		g.copyReport()
	}
	if g.pressed(cur, ebiten.KeyI) {
		g.inspector.rawView = !g.inspector.rawView
	}

	// Zoom: mouse wheel or =/- keys.
	const zoomMin, zoomMax = 0.5, 3.0
	if _, wy := ebiten.Wheel(); wy != 0 {
		g.camZoom *= math.Pow(1.12, wy)
	}
	if g.pressed(cur, ebiten.KeyEqual) {
		g.camZoom *= 1.25
	}
	if g.pressed(cur, ebiten.KeyMinus) {
		g.camZoom /= 1.25
	}
	g.camZoom = math.Max(zoomMin, math.Min(zoomMax, g.camZoom))

	// Sim speed controls: P=pause/resume, ,=slower, .=faster.
	if g.pressed(cur, ebiten.KeyP) {
		if g.simSpeed > 0 {
			g.simSpeed = 0
		} else {
			g.simSpeed = 1
		}
	}
	if g.pressed(cur, ebiten.KeyComma) {
		g.simSpeed = slower(g.simSpeed)
	}
	if g.pressed(cur, ebiten.KeyPeriod) {
		g.simSpeed = faster(g.simSpeed)
	}

	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) && !g.prevMouseLeft {
		mx, my := ebiten.CursorPosition()
		g.handleInspectorClick(mx, my)
	}
	g.prevMouseLeft = ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)

	g.prevKeys = cur
}

// --- Court projection ---

// courtView maps court coordinates to screen pixels. The court is drawn
// from above with the net vertical: z runs left to right (Purple's half on
// the left), x runs bottom to top.
type courtView struct {
	cx, cy float64 // screen position of the court centre
	scale  float64 // pixels per metre
}

func (g *Game) view() courtView {
	c := g.sim.Settings.Court
	margin := 3.0
	sx := float64(g.gameWidth) / (2 * (c.HalfLength + margin))
	sy := float64(g.gameHeight) / (2 * (c.HalfWidth + margin))
	return courtView{
		cx:    float64(g.offX) + float64(g.gameWidth)/2,
		cy:    float64(g.offY) + float64(g.gameHeight)/2,
		scale: math.Min(sx, sy) * g.camZoom,
	}
}

func (v courtView) toScreen(p volley.Vec3) (float32, float32) {
	return float32(v.cx + p.Z*v.scale), float32(v.cy - p.X*v.scale)
}

// toCourt inverts toScreen on the floor plane.
func (v courtView) toCourt(sx, sy float64) volley.Vec3 {
	return volley.Vec3{X: (v.cy - sy) / v.scale, Z: (sx - v.cx) / v.scale}
}

// parseHexColor reads "#rrggbb".
func parseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("colour %q: want #rrggbb", s)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 255}, nil
}

func materialColor(m volley.Material) color.RGBA {
	c, err := parseHexColor(m.Color)
	if err != nil {
		return color.RGBA{R: 128, G: 128, B: 128, A: 255}
	}
	return c
}

func shade(c color.RGBA, k float64) color.RGBA {
	f := func(v uint8) uint8 { return uint8(math.Min(255, float64(v)*k)) }
	return color.RGBA{R: f(c.R), G: f(c.G), B: f(c.B), A: c.A}
}

// --- Drawing ---

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{R: 16, G: 14, B: 12, A: 255})

	g.drawCourt(screen)

	ox, oy := float32(g.offX), float32(g.offY)
	gw, gh := float32(g.gameWidth), float32(g.gameHeight)
	vector.StrokeRect(screen, ox-1, oy-1, gw+2, gh+2, 2.0, color.RGBA{R: 90, G: 80, B: 60, A: 255}, false)

	logX := g.offX + g.gameWidth + g.offX
	g.rallyLog.Draw(screen, g.small, logX, g.height)

	if g.showHUD {
		g.drawHUD(screen)
	}
	g.drawInspector(screen)
}

func (g *Game) drawCourt(screen *ebiten.Image) {
	v := g.view()
	c := g.sim.Settings.Court

	// Floor: the whole court takes the ground material, so goal flashes
	// light up both halves.
	floor := materialColor(g.sim.Env.GroundFX().Current())
	x0, y0 := v.toScreen(volley.Vec3{X: c.HalfWidth, Z: -c.HalfLength})
	x1, y1 := v.toScreen(volley.Vec3{X: -c.HalfWidth, Z: c.HalfLength})
	vector.FillRect(screen, x0, y0, x1-x0, y1-y0, floor, false)
	vector.StrokeRect(screen, x0, y0, x1-x0, y1-y0, 2, color.RGBA{R: 240, G: 240, B: 230, A: 255}, false)

	// Half tints show which side each team owns.
	pal := g.sim.Env.Palette()
	nx, _ := v.toScreen(volley.Vec3{})
	purple := materialColor(pal.PurpleGoal)
	purple.A = 40
	blue := materialColor(pal.BlueGoal)
	blue.A = 40
	vector.FillRect(screen, x0, y0, nx-x0, y1-y0, purple, false)
	vector.FillRect(screen, nx, y0, x1-nx, y1-y0, blue, false)

	// Net.
	vector.StrokeLine(screen, nx, y0-8, nx, y1+8, 4, color.RGBA{R: 30, G: 30, B: 30, A: 255}, false)

	// Targets.
	if g.showTargets {
		for _, a := range g.sim.Env.Agents() {
			if !a.ActiveTarget || !a.TargetVisible {
				continue
			}
			tx, ty := v.toScreen(a.Target)
			col := shade(teamColor(a.Team().String()), 1.2)
			vector.StrokeLine(screen, tx-6, ty-6, tx+6, ty+6, 2, col, false)
			vector.StrokeLine(screen, tx-6, ty+6, tx+6, ty-6, 2, col, false)
			ax, ay := v.toScreen(a.Body().Position)
			col.A = 90
			vector.StrokeLine(screen, ax, ay, tx, ty, 1, col, false)
		}
	}

	// Agents.
	r := float32(c.AgentRadius * v.scale)
	for _, a := range g.sim.Env.Agents() {
		p := a.Body().Position
		ax, ay := v.toScreen(p)
		col := teamColor(a.Team().String())
		vector.FillCircle(screen, ax, ay, r, col, true)
		// Airborne agents get a lighter ring.
		if p.Y > 0.6 {
			vector.StrokeCircle(screen, ax, ay, r+2, 2, shade(col, 1.6), true)
		}
		if g.inspector.selected == a {
			vector.StrokeCircle(screen, ax, ay, r+6, 2, color.RGBA{R: 255, G: 230, B: 80, A: 255}, true)
		}
		drawText(screen, g.small, a.Label(), int(ax)-8, int(ay)-int(r)-16, color.White)
	}

	// Ball: shadow on the floor, ball offset by its height.
	b := g.sim.Ball.Position
	bx, by := v.toScreen(b.Flat())
	br := float32(c.BallRadius * v.scale)
	vector.FillCircle(screen, bx, by, br, color.RGBA{A: 90}, true)
	lift := float32(b.Y * v.scale * 0.35)
	vector.StrokeLine(screen, bx, by, bx, by-lift, 1, color.RGBA{R: 255, G: 255, B: 255, A: 80}, false)
	vector.FillCircle(screen, bx, by-lift, br*(1+float32(b.Y)/12), color.RGBA{R: 250, G: 240, B: 200, A: 255}, true)
}

func speedLabel(speed float64) string {
	switch speed {
	case 0:
		return "PAUSED"
	case 1, 2, 4:
		return fmt.Sprintf("%.0fx", speed)
	}
	return fmt.Sprintf("%.1fx", speed)
}

// hudLines is the text of the HUD panel.
func (g *Game) hudLines() []string {
	env := g.sim.Env
	t := env.Tally()
	lines := []string{
		fmt.Sprintf("SIM: %s  P=pause  ,/. speed", speedLabel(g.simSpeed)),
		fmt.Sprintf("T=%d  mode %s  phase %s  episodes %d", env.Tick(), g.sim.Mode(), env.Phase(), env.Episodes()),
		fmt.Sprintf("Blue %d  Purple %d  ties %d  faults %d  interrupted %d",
			t.BlueWins, t.PurpleWins, t.Ties, t.Faults, t.Interrupted),
	}
	if last := env.LastOutcome(); last.Description != "" {
		lines = append(lines, "last: "+last.Description)
	}
	for _, m := range []*volley.Manager{g.sim.Blue, g.sim.Purple} {
		var models []string
		for _, a := range m.Roster.Agents {
			models = append(models, a.Label()+"="+a.CurrentModelName())
		}
		lines = append(lines, fmt.Sprintf("%s %+.2f  %s", m.Team, m.Lifetime, strings.Join(models, " ")))
	}
	lines = append(lines, "[T] targets  [R] reset  [C] copy report  [H] HUD  =/- zoom  click=inspect")
	if g.statusTimer > 0 {
		lines = append(lines, g.status)
	}
	return lines
}

// drawHUD renders the status panel in the bottom-left corner.
func (g *Game) drawHUD(screen *ebiten.Image) {
	lines := g.hudLines()
	const lineH = 19
	const padX, padY = 8, 6

	maxW := 0.0
	for _, l := range lines {
		if w, _ := text.Measure(l, g.face, lineH); w > maxW {
			maxW = w
		}
	}
	boxW := float32(maxW) + padX*2
	boxH := float32(len(lines)*lineH + padY*2)
	bx := float32(g.offX + 6)
	by := float32(g.offY+g.gameHeight) - boxH - 6

	vector.FillRect(screen, bx, by, boxW, boxH, color.RGBA{R: 10, G: 8, B: 6, A: 210}, false)
	vector.StrokeRect(screen, bx, by, boxW, boxH, 1.0, color.RGBA{R: 110, G: 95, B: 60, A: 180}, false)
	for i, line := range lines {
		drawText(screen, g.face, line, int(bx)+padX, int(by)+padY+i*lineH, color.White)
	}
}

func (g *Game) Layout(_, _ int) (int, int) {
	return g.width, g.height
}

// Size is the window size the viewer lays itself out for.
func (g *Game) Size() (int, int) {
	return g.width, g.height
}
