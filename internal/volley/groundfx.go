package volley

import (
	"sync"
	"time"

	"github.com/Garsondee/Volley-Sense/internal/config"
)

// Material is a named floor colour (#rrggbb).
type Material struct {
	Name  string
	Color string
}

// Scheduler runs f once after d on some other goroutine.
type Scheduler func(d time.Duration, f func())

func afterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// GroundFX swaps the floor material for a short time after a point is
// scored. Restoration runs on a timer and re-reads the default material
// when it fires, so scene resets never wait for it.
type GroundFX struct {
	mu       sync.Mutex
	current  Material
	def      Material
	schedule Scheduler
	flashes  int
}

// NewGroundFX starts with def on the floor. A nil scheduler uses
// time.AfterFunc.
func NewGroundFX(def Material, schedule Scheduler) *GroundFX {
	if schedule == nil {
		schedule = afterFunc
	}
	return &GroundFX{current: def, def: def, schedule: schedule}
}

// Flash shows m for d, then restores the default.
func (g *GroundFX) Flash(m Material, d time.Duration) {
	g.mu.Lock()
	g.current = m
	g.flashes++
	g.mu.Unlock()
	g.schedule(d, g.restore)
}

func (g *GroundFX) restore() {
	g.mu.Lock()
	g.current = g.def
	g.mu.Unlock()
}

// SetDefault changes the material restores fall back to.
func (g *GroundFX) SetDefault(m Material) {
	g.mu.Lock()
	g.def = m
	g.mu.Unlock()
}

// Current is the material on the floor now.
func (g *GroundFX) Current() Material {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Flashing reports whether a goal material is on the floor.
func (g *GroundFX) Flashing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != g.def
}

// Flashes counts every Flash call.
func (g *GroundFX) Flashes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flashes
}

// Palette is the set of floor materials an environment uses.
type Palette struct {
	BlueGoal   Material
	PurpleGoal Material
	Floor      Material
	Flash      time.Duration
}

// PaletteFrom converts material settings.
func PaletteFrom(cfg config.Materials) Palette {
	return Palette{
		BlueGoal:   Material{Name: "blue_goal", Color: cfg.BlueGoal},
		PurpleGoal: Material{Name: "purple_goal", Color: cfg.PurpleGoal},
		Floor:      Material{Name: "default_floor", Color: cfg.DefaultFloor},
		Flash:      time.Duration(cfg.FlashSeconds * float64(time.Second)),
	}
}

// Goal returns the material shown when team scores.
func (p Palette) Goal(team Team) Material {
	if team == TeamPurple {
		return p.PurpleGoal
	}
	return p.BlueGoal
}
