package volley

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/Garsondee/Volley-Sense/internal/config"
)

// Sim is a headless court: controller, toy physics, scripted pilots and
// statistics, driven tick by tick. Tests, the batch reporter and the viewer
// all run through it.
type Sim struct {
	RunID    string
	Settings config.Settings

	Env     *Env
	Court   *Court
	Pilot   *Pilot
	Tracker *Tracker
	SimLog  *SimLog
	Ball    *Body

	Blue, Purple *Manager
	Policies     map[Team]ManagerPolicy

	mode       TrainingMode
	rng        *rand.Rand
	seed       int64
	tick       int
	rosterSize int
	roles      []Role
	sinks      []Sink
	snapshot   *TrackerSnapshot
	logger     *slog.Logger
	groundFX   *GroundFX
}

// simOptionKind controls the pass in which an option is applied.
type simOptionKind int

const (
	simOptInfra simOptionKind = iota // settings, seed, verbose: applied first
	simOptTune                       // overrides on top of the settings
	simOptTeam                       // roster composition
	simOptWire                       // sinks, policies, restored statistics
)

// SimOption is a builder function applied to a Sim during construction.
type SimOption struct {
	kind simOptionKind
	fn   func(*Sim)
}

// WithSettings replaces the default settings.
func WithSettings(cfg config.Settings) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.Settings = cfg }}
}

// WithSeed sets the RNG seed for deterministic runs.
func WithSeed(seed int64) SimOption {
	return SimOption{simOptInfra, func(s *Sim) {
		s.seed = seed
		s.rng = rand.New(rand.NewSource(seed)) // #nosec G404 -- simulation
	}}
}

// WithVerbose enables per-tick verbose logging.
func WithVerbose(v bool) SimOption {
	return SimOption{simOptInfra, func(s *Sim) { s.SimLog = NewSimLog(v) }}
}

// WithMode sets the training mode.
func WithMode(m TrainingMode) SimOption {
	return SimOption{simOptTune, func(s *Sim) { s.Settings.TrainingMode = m.String() }}
}

// WithStatMode sets how statistics are keyed.
func WithStatMode(m StatMode) SimOption {
	return SimOption{simOptTune, func(s *Sim) { s.Settings.Statistics.Mode = m.String() }}
}

// WithMaxSteps sets the per-episode step budget; zero disables it.
func WithMaxSteps(n int) SimOption {
	return SimOption{simOptTune, func(s *Sim) { s.Settings.MaxEnvironmentSteps = n }}
}

// WithRosterSize sets how many agents each team fields.
func WithRosterSize(n int) SimOption {
	return SimOption{simOptTeam, func(s *Sim) { s.rosterSize = n }}
}

// WithRoles sets the variants every agent carries. The first is enabled.
func WithRoles(roles ...Role) SimOption {
	return SimOption{simOptTeam, func(s *Sim) { s.roles = append([]Role(nil), roles...) }}
}

// WithStatsSink adds a destination for touch records and reports.
func WithStatsSink(sink Sink) SimOption {
	return SimOption{simOptWire, func(s *Sim) { s.sinks = append(s.sinks, sink) }}
}

// WithManagerPolicy drives team's manager with p.
func WithManagerPolicy(team Team, p ManagerPolicy) SimOption {
	return SimOption{simOptWire, func(s *Sim) { s.Policies[team] = p }}
}

// WithRestoredStats seeds the tracker with counts from an earlier run.
func WithRestoredStats(snap TrackerSnapshot) SimOption {
	return SimOption{simOptWire, func(s *Sim) { s.snapshot = &snap }}
}

// WithSimLogger sets the structured logger shared by the tracker and
// controller.
func WithSimLogger(l *slog.Logger) SimOption {
	return SimOption{simOptWire, func(s *Sim) { s.logger = l }}
}

// WithGroundFXScheduler replaces the timer that restores the floor.
func WithGroundFXScheduler(sched Scheduler) SimOption {
	return SimOption{simOptWire, func(s *Sim) {
		s.groundFX = NewGroundFX(PaletteFrom(s.Settings.Materials).Floor, sched)
	}}
}

// NewSim constructs a Sim from the given options in ordered passes:
//  1. Infrastructure (settings, seed, verbose)
//  2. Overrides (mode, statistics mode, step budget)
//  3. Rosters
//  4. Wiring (sinks, policies, restored statistics)
func NewSim(opts ...SimOption) (*Sim, error) {
	s := &Sim{
		RunID:      uuid.New().String(),
		Settings:   config.Default(),
		SimLog:     NewSimLog(false),
		Ball:       &Body{},
		Policies:   map[Team]ManagerPolicy{},
		rng:        rand.New(rand.NewSource(1)), // #nosec G404 -- simulation default
		seed:       1,
		rosterSize: -1,
		logger:     slog.Default(),
	}
	for _, pass := range []simOptionKind{simOptInfra, simOptTune, simOptTeam, simOptWire} {
		for _, o := range opts {
			if o.kind == pass {
				o.fn(s)
			}
		}
		if pass == simOptTune {
			if err := s.Settings.Validate(); err != nil {
				return nil, err
			}
			mode, err := ParseTrainingMode(s.Settings.TrainingMode)
			if err != nil {
				return nil, err
			}
			s.mode = mode
		}
		if pass == simOptTeam {
			s.buildTeams()
		}
	}
	if s.mode == ModeManager {
		for _, team := range []Team{TeamBlue, TeamPurple} {
			if _, ok := s.Policies[team]; !ok {
				s.Policies[team] = HeuristicManager{}
			}
		}
	}

	var sink Sink
	switch len(s.sinks) {
	case 0:
	case 1:
		sink = s.sinks[0]
	default:
		sink = MultiSink(s.sinks)
	}
	tracker, err := NewTracker(s.Settings.Statistics,
		WithTrackerRand(s.rng), WithSink(sink), WithTrackerLogger(s.logger), WithRunID(s.RunID))
	if err != nil {
		return nil, err
	}
	if s.snapshot != nil {
		if err := tracker.Restore(*s.snapshot); err != nil {
			return nil, err
		}
	}
	s.Tracker = tracker
	if s.Settings.Statistics.KeepStats {
		tracker.RotateVariant(s.Blue.Roster.Agents...)
		tracker.RotateVariant(s.Purple.Roster.Agents...)
	}

	s.Pilot = NewPilot(s.Settings, s.rng)
	s.Court = NewCourt(s.Settings, s.Pilot)
	envOpts := []EnvOption{WithTracker(tracker), WithSimLog(s.SimLog), WithRand(s.rng), WithLogger(s.logger)}
	if s.groundFX != nil {
		envOpts = append(envOpts, WithGroundFX(s.groundFX))
	}
	env, err := NewEnv(s.Settings, s.Blue, s.Purple, s.Ball, envOpts...)
	if err != nil {
		return nil, err
	}
	s.Env = env
	env.OnAfterReset(s.afterReset)
	s.afterReset()
	s.SimLog.Add(0, "--", "--", "episode", "start",
		fmt.Sprintf("run %s seed %d mode %s", s.RunID, s.seed, s.mode), 0)
	return s, nil
}

func (s *Sim) buildTeams() {
	n := s.rosterSize
	if n < 0 {
		n = s.Settings.RosterSize
	}
	if n < 1 {
		n = 1
	}
	roles := s.roles
	if len(roles) == 0 {
		roles = []Role{s.mode.DefaultRole()}
		for _, r := range Roles {
			if r != roles[0] {
				roles = append(roles, r)
			}
		}
	}
	blue, purple := NewRoster(TeamBlue), NewRoster(TeamPurple)
	id := 0
	for _, r := range []*Roster{blue, purple} {
		for i := 0; i < n; i++ {
			r.Add(NewAgent(id, roles...))
			id++
		}
	}
	s.Blue = NewManager(blue, purple, s.Ball, s.Settings.Manager, s.Settings.Court)
	s.Purple = NewManager(purple, blue, s.Ball, s.Settings.Manager, s.Settings.Court)
}

// afterReset re-arms the court and hands out fresh targets in the modes
// whose roles need one.
func (s *Sim) afterReset() {
	s.Court.Reset(s.Ball)
	switch s.mode {
	case ModeMoveTo:
		s.assignAll(TaskMoveToPosition)
	case ModeSendBallTo:
		s.assignAll(TaskSendBallToTarget)
	}
}

func (s *Sim) assignAll(task SubTask) {
	for _, m := range []*Manager{s.Blue, s.Purple} {
		acts := make([]MemberAction, m.Roster.Len())
		for i := range acts {
			acts[i] = MemberAction{Task: task, X: s.rng.Float64()*2 - 1, Z: s.rng.Float64()*2 - 1}
		}
		m.Act(acts)
	}
}

// Step runs one fixed tick: manager decisions, physics, event dispatch,
// then the controller's own tick.
func (s *Sim) Step() {
	s.tick++
	for _, team := range []Team{TeamBlue, TeamPurple} {
		p, ok := s.Policies[team]
		m := s.Env.Manager(team)
		if !ok || s.tick%m.DecisionPeriod() != 0 {
			continue
		}
		m.Act(p.Decide(m, m.CollectObservations()))
	}
	if s.mode == ModeMoveTo {
		s.retarget()
	}

	for _, ev := range s.Court.Step(s.Env.Agents(), s.Ball) {
		var out Outcome
		if ev.IsContact() {
			out = s.Env.OnContact(ev.Team, ev.Agent)
		} else {
			out = s.Env.Resolve(*ev.Trigger)
		}
		if out.Terminal && s.Env.Rules().EndsEpisodes {
			// The scene was reset; the rest of this step's events belong
			// to the old rally.
			break
		}
	}
	s.Env.FixedTick()

	s.SimLog.AddVerbose(s.Env.Tick(), "--", "--", "ball", "position", s.Ball.Position.String(), s.Ball.Position.Y)
}

// retarget gives agents that reached their point a new one.
func (s *Sim) retarget() {
	for _, m := range []*Manager{s.Blue, s.Purple} {
		for _, a := range m.Roster.Agents {
			if !a.ActiveTarget || a.Body().Position.Flat().Dist(a.Target.Flat()) > 0.5 {
				continue
			}
			s.SimLog.Add(s.Env.Tick(), a.Label(), a.Team().String(), "manager", "target_reached", a.Target.String(), 0)
			a.SetTarget(true, m.TargetFor(s.rng.Float64()*2-1, s.rng.Float64()*2-1), m.ShowTargets())
		}
	}
}

// RunTicks advances the simulation n ticks.
func (s *Sim) RunTicks(n int) {
	for i := 0; i < n; i++ {
		s.Step()
	}
}

// RunUntil advances the simulation up to maxTicks, stopping early if predicate
// returns true. Returns the tick at which the predicate was satisfied, or -1.
func (s *Sim) RunUntil(predicate func(*Sim) bool, maxTicks int) int {
	for i := 0; i < maxTicks; i++ {
		s.Step()
		if predicate(s) {
			return s.tick
		}
	}
	return -1
}

// CurrentTick returns the current simulation tick.
func (s *Sim) CurrentTick() int { return s.tick }

// Seed is the seed the run was built with.
func (s *Sim) Seed() int64 { return s.seed }

// Mode is the training mode the run uses.
func (s *Sim) Mode() TrainingMode { return s.mode }

// Agent returns the agent with the given label.
func (s *Sim) Agent(label string) *Agent {
	for _, a := range s.Env.Agents() {
		if a.Label() == label {
			return a
		}
	}
	return nil
}

// CheckExclusive returns an error naming every agent that does not have
// exactly one enabled variant.
func (s *Sim) CheckExclusive() error {
	var errs []error
	for _, a := range s.Env.Agents() {
		if n := a.EnabledCount(); n != 1 {
			errs = append(errs, fmt.Errorf("%s has %d enabled variants", a.Label(), n))
		}
	}
	return errors.Join(errs...)
}

// Close writes the tracker's final report.
func (s *Sim) Close() { s.Tracker.Close() }

// Summary returns a short human-readable summary of the run so far.
func (s *Sim) Summary() string {
	var sb strings.Builder
	t := s.Env.Tally()
	fmt.Fprintf(&sb, "--- Summary at T=%03d (%s) ---\n", s.tick, s.mode)
	fmt.Fprintf(&sb, "Rallies: %d  blue=%d purple=%d tie=%d fault=%d done=%d interrupted=%d\n",
		t.Rallies(), t.BlueWins, t.PurpleWins, t.Ties, t.Faults, t.TasksDone, t.Interrupted)
	for _, m := range []*Manager{s.Blue, s.Purple} {
		fmt.Fprintf(&sb, "%s team: return=%+.2f lifetime=%+.2f\n", m.Team, m.Return, m.Lifetime)
		for _, a := range m.Roster.Agents {
			v := a.Current()
			fmt.Fprintf(&sb, "  %s %-10s model=%-14s lifetime=%+.3f ended=%d interrupted=%d\n",
				a.Label(), a.Role(), v.ModelName(), v.Lifetime, v.Ended, v.Interrupted)
		}
	}
	return sb.String()
}
