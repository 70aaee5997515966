package volley

import (
	"fmt"
	"log/slog"
)

// Agent is a stable logical participant backed by one active behaviour
// variant at a time.
type Agent struct {
	id    int
	label string // e.g. "B0", "P1"
	team  Team

	variants []*Variant
	current  *Variant

	// Manager-assigned target used by movement and aiming roles.
	ActiveTarget  bool
	Target        Vec3
	TargetVisible bool

	// IgnoredSwitches counts Enable calls for roles this agent has no
	// variant for.
	IgnoredSwitches int
}

// NewAgent creates an agent with one variant per role. The first role is
// enabled. Roles may not repeat.
func NewAgent(id int, roles ...Role) *Agent {
	if len(roles) == 0 {
		roles = []Role{RoleFullGame}
	}
	a := &Agent{id: id, team: TeamNeutral, Target: Vec3{-1, 0.5, -1}}
	seen := make(map[Role]bool, len(roles))
	for _, r := range roles {
		if seen[r] {
			continue
		}
		seen[r] = true
		a.variants = append(a.variants, &Variant{
			Role: r,
			Name: fmt.Sprintf("Agent%d/%s", id, r.Tag()),
		})
	}
	a.current = a.variants[0]
	a.current.enabled = true
	return a
}

func (a *Agent) ID() int       { return a.id }
func (a *Agent) Label() string { return a.label }
func (a *Agent) Team() Team    { return a.team }

// Current returns the active variant.
func (a *Agent) Current() *Variant { return a.current }

// Role returns the active variant's role.
func (a *Agent) Role() Role { return a.current.Role }

// Variants returns every variant in creation order.
func (a *Agent) Variants() []*Variant { return a.variants }

// Variant returns the variant for role, or nil.
func (a *Agent) Variant(role Role) *Variant {
	for _, v := range a.variants {
		if v.Role == role {
			return v
		}
	}
	return nil
}

// Body is the active variant's body: the one physics moves.
func (a *Agent) Body() *Body { return &a.current.Body }

// Enable switches the active variant to the one playing role, carrying
// position, rotation and both velocities across so the body does not jump.
// Asking for the active role is a no-op. Asking for a role the agent does
// not have is ignored and counted; it returns false.
func (a *Agent) Enable(role Role) bool {
	next := a.Variant(role)
	if next == nil {
		a.IgnoredSwitches++
		slog.Debug("variant switch ignored", "agent", a.label, "role", role.Tag(), "active", a.current.Role.Tag())
		return false
	}
	if next == a.current {
		return true
	}
	next.Body.CopyKinematics(&a.current.Body)
	a.current.enabled = false
	next.enabled = true
	a.current = next
	return true
}

// RoleIs reports whether the active variant plays role.
func (a *Agent) RoleIs(role Role) bool { return a.current.Role == role }

// CurrentModelName returns the model bound to the active variant or "None".
func (a *Agent) CurrentModelName() string { return a.current.ModelName() }

// SetModel binds model to the variant playing role. It reports whether the
// agent has such a variant.
func (a *Agent) SetModel(role Role, model string) bool {
	v := a.Variant(role)
	if v == nil {
		return false
	}
	v.Model = model
	return true
}

// SetTarget assigns or clears the manager target. The visual indicator
// follows ActiveTarget whenever show is set.
func (a *Agent) SetTarget(active bool, target Vec3, show bool) {
	a.ActiveTarget = active
	if active {
		a.Target = target
	}
	a.TargetVisible = active && show
}

// EnabledCount returns how many variants are enabled. Always 1.
func (a *Agent) EnabledCount() int {
	n := 0
	for _, v := range a.variants {
		if v.enabled {
			n++
		}
	}
	return n
}

func (a *Agent) AddReward(r float64) { a.current.AddReward(r) }
func (a *Agent) EndEpisode()         { a.current.EndEpisode() }
func (a *Agent) EpisodeInterrupted() { a.current.EpisodeInterrupted() }
