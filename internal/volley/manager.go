package volley

import (
	"math/rand"

	"github.com/Garsondee/Volley-Sense/internal/config"
)

// SubTask is the discrete part of a manager action.
type SubTask int

const (
	TaskIdle SubTask = iota
	TaskMoveToBall
	TaskSendBallToTarget
	TaskMoveToPosition
	TaskSinglePlayer
	subTaskCount
)

func (t SubTask) String() string {
	switch t {
	case TaskIdle:
		return "idle"
	case TaskMoveToBall:
		return "move_to_ball"
	case TaskSendBallToTarget:
		return "send_ball_to_target"
	case TaskMoveToPosition:
		return "move_to_position"
	case TaskSinglePlayer:
		return "single_player"
	default:
		return "unknown"
	}
}

// Role returns the behaviour an agent switches to when given this task.
func (t SubTask) Role() Role {
	switch t {
	case TaskMoveToBall:
		return RoleMoveToBall
	case TaskSendBallToTarget:
		return RoleSendToTarget
	case TaskMoveToPosition:
		return RoleMoveToTarget
	case TaskSinglePlayer:
		return RoleFullGame
	default:
		return RoleIdle
	}
}

// usesTarget reports whether the task needs a manager-assigned point.
func (t SubTask) usesTarget() bool {
	return t == TaskMoveToPosition || t == TaskSendBallToTarget
}

// MemberAction is one roster member's share of a manager action. X and Z
// are in [-1, 1] and are scaled into a court offset from the team anchor.
type MemberAction struct {
	Task SubTask
	X, Z float64
}

// Manager assigns sub-tasks to its roster once per decision period and
// receives the team-level reward.
type Manager struct {
	Team      Team
	Roster    *Roster
	Opponents *Roster
	Ball      *Body

	cfg     config.Manager
	anchorZ float64

	Episode
	LastTasks []SubTask
}

// NewManager binds a manager to its roster. opponents and ball are only
// read, for observations.
func NewManager(roster *Roster, opponents *Roster, ball *Body, cfg config.Manager, court config.Court) *Manager {
	return &Manager{
		Team:      roster.Team,
		Roster:    roster,
		Opponents: opponents,
		Ball:      ball,
		cfg:       cfg,
		anchorZ:   court.SpawnAnchorZ,
		LastTasks: make([]SubTask, roster.Len()),
	}
}

// Anchor is the team's spawn point; targets are offsets from it.
func (m *Manager) Anchor() Vec3 {
	return Vec3{0, 0, -m.Team.Sign() * m.anchorZ}
}

// DecisionPeriod is how many ticks pass between Act calls.
func (m *Manager) DecisionPeriod() int {
	if m.cfg.DecisionPeriod < 1 {
		return 1
	}
	return m.cfg.DecisionPeriod
}

// TargetFor maps an action's continuous pair to a court point:
// anchor + (x*xScale*sign, height, z*zScale*sign).
func (m *Manager) TargetFor(x, z float64) Vec3 {
	sign := m.Team.Sign()
	return m.Anchor().Add(Vec3{
		X: clamp(x, -1, 1) * m.cfg.XScale * sign,
		Y: m.cfg.TargetHeight,
		Z: clamp(z, -1, 1) * m.cfg.ZScale * sign,
	})
}

// ShowTargets is whether target indicators are drawn.
func (m *Manager) ShowTargets() bool { return m.cfg.ShowTargets }

// Act applies one action per roster member. Missing entries mean idle.
func (m *Manager) Act(actions []MemberAction) {
	if len(m.LastTasks) != m.Roster.Len() {
		m.LastTasks = make([]SubTask, m.Roster.Len())
	}
	for i, a := range m.Roster.Agents {
		act := MemberAction{Task: TaskIdle}
		if i < len(actions) {
			act = actions[i]
		}
		if act.Task.usesTarget() {
			a.SetTarget(true, m.TargetFor(act.X, act.Z), m.cfg.ShowTargets)
		} else {
			a.SetTarget(false, Vec3{}, m.cfg.ShowTargets)
		}
		a.Enable(act.Task.Role())
		m.LastTasks[i] = act.Task
	}
}

// mirror flips the net-crossing axis into this team's frame. Y is never
// mirrored.
func (m *Manager) mirror(v Vec3) Vec3 { return v.MirrorZ(m.Team.Sign()) }

// CollectObservations builds the team-frame observation vector: per member
// position, velocity, role one-hot, target flag and target; then each
// opponent's position; then the ball's position and velocity.
func (m *Manager) CollectObservations() []float64 {
	obs := make([]float64, 0, m.ObservationSize())
	push := func(v Vec3) { obs = append(obs, v.X, v.Y, v.Z) }
	for _, a := range m.Roster.Agents {
		b := a.Body()
		push(m.mirror(b.Position))
		push(m.mirror(b.Velocity))
		for _, r := range Roles {
			if a.RoleIs(r) {
				obs = append(obs, 1)
			} else {
				obs = append(obs, 0)
			}
		}
		if a.ActiveTarget {
			obs = append(obs, 1)
		} else {
			obs = append(obs, 0)
		}
		push(m.mirror(a.Target))
	}
	if m.Opponents != nil {
		for _, o := range m.Opponents.Agents {
			push(m.mirror(o.Body().Position))
		}
	}
	if m.Ball != nil {
		push(m.mirror(m.Ball.Position))
		push(m.mirror(m.Ball.Velocity))
	} else {
		push(Vec3{})
		push(Vec3{})
	}
	return obs
}

// memberObservationSize is position, velocity, role one-hot, target flag
// and target.
const memberObservationSize = 3 + 3 + int(roleCount) + 1 + 3

// ObservationSize is the length of CollectObservations' result.
func (m *Manager) ObservationSize() int {
	return m.Roster.Len()*memberObservationSize + m.Opponents.Len()*3 + 6
}

// ManagerPolicy chooses member actions from a team-frame observation.
type ManagerPolicy interface {
	Decide(m *Manager, obs []float64) []MemberAction
}

// RandomManager samples tasks and offsets uniformly.
type RandomManager struct {
	Rng *rand.Rand
}

func (p RandomManager) Decide(m *Manager, _ []float64) []MemberAction {
	out := make([]MemberAction, m.Roster.Len())
	for i := range out {
		out[i] = MemberAction{
			Task: SubTask(p.Rng.Intn(int(subTaskCount))),
			X:    p.Rng.Float64()*2 - 1,
			Z:    p.Rng.Float64()*2 - 1,
		}
	}
	return out
}

// HeuristicManager sends the member closest to the ball after it while the
// ball is on the team's half and parks everyone else near the anchor. Once
// a member is on the ball it is asked to send it toward the net.
type HeuristicManager struct {
	// ReachDistance is how close a member must be to switch from chasing
	// to sending.
	ReachDistance float64
}

func (p HeuristicManager) Decide(m *Manager, _ []float64) []MemberAction {
	out := make([]MemberAction, m.Roster.Len())
	reach := p.ReachDistance
	if reach <= 0 {
		reach = 1.5
	}
	chaser := -1
	if m.Ball != nil && m.Team.OwnsZ(m.Ball.Position.Z) {
		best := 0.0
		for i, a := range m.Roster.Agents {
			d := a.Body().Position.Flat().Dist(m.Ball.Position.Flat())
			if chaser < 0 || d < best {
				chaser, best = i, d
			}
		}
	}
	for i, a := range m.Roster.Agents {
		switch {
		case i == chaser && a.Body().Position.Flat().Dist(m.Ball.Position.Flat()) <= reach:
			// Team frame: positive z points toward the net from the anchor.
			out[i] = MemberAction{Task: TaskSendBallToTarget, X: 0, Z: 1}
		case i == chaser:
			out[i] = MemberAction{Task: TaskMoveToBall}
		default:
			spread := 0.0
			if n := m.Roster.Len(); n > 1 {
				spread = float64(i)/float64(n-1)*2 - 1
			}
			out[i] = MemberAction{Task: TaskMoveToPosition, X: spread * 0.5}
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
