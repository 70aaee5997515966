package volley

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/Garsondee/Volley-Sense/internal/config"
)

// Env is the episode controller for one court. It turns contacts and
// region triggers into rewards, statistics and scene resets. All methods
// must be called from the simulation goroutine.
type Env struct {
	cfg     config.Settings
	rules   RuleSet
	shaper  *Shaper
	palette Palette

	Blue, Purple *Manager
	Ball         *Body

	tracker *Tracker
	simLog  *SimLog
	fx      *GroundFX
	rng     *rand.Rand
	logger  *slog.Logger

	// Episode state; cleared by ResetScene.
	lastHitterTeam  Team
	lastHitterAgent *Agent
	resetTimer      int
	ballApex        float64

	ballSpawnSide int
	maxSteps      int

	phase      *lifecycle
	tick       int
	episodes   int
	tally      Tally
	last       Outcome
	afterReset []func()
}

// EnvOption customises an Env at construction.
type EnvOption func(*Env)

// WithTracker uses t instead of a tracker built from the settings.
func WithTracker(t *Tracker) EnvOption { return func(e *Env) { e.tracker = t } }

// WithSimLog records engine events into l.
func WithSimLog(l *SimLog) EnvOption { return func(e *Env) { e.simLog = l } }

// WithRand sets the source for spawn randomisation.
func WithRand(rng *rand.Rand) EnvOption { return func(e *Env) { e.rng = rng } }

// WithGroundFX uses fx for goal flashes.
func WithGroundFX(fx *GroundFX) EnvOption { return func(e *Env) { e.fx = fx } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) EnvOption { return func(e *Env) { e.logger = l } }

// WithRuleSet overrides the rules derived from the training mode.
func WithRuleSet(rs RuleSet) EnvOption {
	return func(e *Env) { e.rules = rs }
}

// WithSpawnSide fixes the side the first reset flips away from.
func WithSpawnSide(side int) EnvOption {
	return func(e *Env) {
		if side < 0 {
			e.ballSpawnSide = -1
		} else {
			e.ballSpawnSide = 1
		}
	}
}

// NewEnv wires both managers to a court and performs the initial scene
// reset.
func NewEnv(cfg config.Settings, blue, purple *Manager, ball *Body, opts ...EnvOption) (*Env, error) {
	if blue == nil || purple == nil || ball == nil {
		return nil, fmt.Errorf("env: blue, purple and ball are required")
	}
	if blue.Team != TeamBlue || purple.Team != TeamPurple {
		return nil, fmt.Errorf("env: managers are %s and %s, want Blue and Purple", blue.Team, purple.Team)
	}
	mode, err := ParseTrainingMode(cfg.TrainingMode)
	if err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}
	e := &Env{
		cfg:            cfg,
		rules:          RuleSetFor(mode),
		palette:        PaletteFrom(cfg.Materials),
		Blue:           blue,
		Purple:         purple,
		Ball:           ball,
		logger:         slog.Default(),
		lastHitterTeam: TeamNeutral,
		maxSteps:       cfg.MaxEnvironmentSteps,
		phase:          newLifecycle(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.shaper, err = NewShaper(cfg.Rewards.SendTargetExpr, cfg.Rewards.TargetRadius); err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(1)) // #nosec G404 -- spawn jitter
	}
	if e.tracker == nil {
		if e.tracker, err = NewTracker(cfg.Statistics, WithTrackerRand(e.rng), WithTrackerLogger(e.logger)); err != nil {
			return nil, fmt.Errorf("env: %w", err)
		}
	}
	if e.simLog == nil {
		e.simLog = NewSimLog(false)
	}
	if e.fx == nil {
		e.fx = NewGroundFX(e.palette.Floor, nil)
	}
	if e.ballSpawnSide == 0 {
		e.ballSpawnSide = []int{-1, 1}[e.rng.Intn(2)]
	}
	e.tracker.BindRosters(blue.Roster, purple.Roster)
	e.ResetScene()
	return e, nil
}

// --- Accessors ---

// LastHitter returns the team and agent that touched the ball last this
// episode. Before any contact they are Neutral and nil.
func (e *Env) LastHitter() (Team, *Agent) { return e.lastHitterTeam, e.lastHitterAgent }

func (e *Env) Phase() Phase              { return e.phase.current() }
func (e *Env) BallSpawnSide() int        { return e.ballSpawnSide }
func (e *Env) Tally() Tally              { return e.tally }
func (e *Env) LastOutcome() Outcome      { return e.last }
func (e *Env) ResetTimer() int           { return e.resetTimer }
func (e *Env) Tick() int                 { return e.tick }
func (e *Env) Episodes() int             { return e.episodes }
func (e *Env) BallApex() float64         { return e.ballApex }
func (e *Env) Rules() RuleSet            { return e.rules }
func (e *Env) Tracker() *Tracker         { return e.tracker }
func (e *Env) SimLog() *SimLog           { return e.simLog }
func (e *Env) GroundFX() *GroundFX       { return e.fx }
func (e *Env) Palette() Palette          { return e.palette }
func (e *Env) Settings() config.Settings { return e.cfg }

// PhaseEntries counts how many times the lifecycle entered p.
func (e *Env) PhaseEntries(p Phase) int { return e.phase.entered[p] }

// Manager returns team's manager, or nil for Neutral.
func (e *Env) Manager(team Team) *Manager {
	switch team {
	case TeamBlue:
		return e.Blue
	case TeamPurple:
		return e.Purple
	default:
		return nil
	}
}

// Roster returns team's roster, or nil for Neutral.
func (e *Env) Roster(team Team) *Roster {
	if m := e.Manager(team); m != nil {
		return m.Roster
	}
	return nil
}

// Agents lists Blue's roster then Purple's.
func (e *Env) Agents() []*Agent {
	out := make([]*Agent, 0, e.Blue.Roster.Len()+e.Purple.Roster.Len())
	out = append(out, e.Blue.Roster.Agents...)
	return append(out, e.Purple.Roster.Agents...)
}

// OnAfterReset registers fn to run at the end of every scene reset.
func (e *Env) OnAfterReset(fn func()) { e.afterReset = append(e.afterReset, fn) }

// --- Inbound events ---

// OnContact records that agent, playing for team, touched the ball.
func (e *Env) OnContact(team Team, agent *Agent) Outcome {
	if agent == nil {
		panic("volley: contact without an agent")
	}
	e.phase.fire(evResolve)
	out := Outcome{Result: ResultContinue, Winner: TeamNeutral, LastHitter: agent.Label()}

	if agent == e.lastHitterAgent {
		if e.rules.HasTerminalDoubleTouch && agent.RoleIs(e.rules.TerminalDoubleTouch) {
			e.roleReward(agent, RewardDoubleTouch, 0)
			e.tracker.Record(StatTouch, agent)
			e.tracker.Record(StatMistake, agent)
			e.logf(agent, "contact", "double_touch_fault", "%s touched twice", agent.Role())
			out.Result, out.Terminal, out.Description = ResultFault, true, "double_touch_fault"
			e.finish(out)
			return out
		}
		e.teamReward(team, e.rules.Team.DoubleTouch)
		e.logf(agent, "contact", "double_touch", "team penalty %.2f", e.rules.Team.DoubleTouch)
	}

	e.lastHitterTeam, e.lastHitterAgent = team, agent
	e.tracker.Record(StatTouch, agent)
	e.ballApex = 0
	e.logf(agent, "contact", "touch", "%s", agent.Body().Position)

	e.teamReward(team, e.rules.Team.Touch)
	e.roleReward(agent, RewardTouch, 0)

	if e.rules.HasTerminalTouch && agent.RoleIs(e.rules.TerminalTouch) {
		out.Result, out.Terminal, out.Description = ResultTaskDone, true, "ball_reached"
		e.finish(out)
		return out
	}
	e.phase.fire(evSettle)
	return out
}

// Resolve applies a region trigger. An unknown trigger kind, or a goal
// credited to no team, panics: either would corrupt the win/lose counts.
func (e *Env) Resolve(tr Trigger) Outcome {
	switch tr.Kind {
	case TriggerOutOfBounds, TriggerHitIntoHalf:
	case TriggerHitGoal:
		if tr.Team != TeamBlue && tr.Team != TeamPurple {
			panic(fmt.Sprintf("volley: goal credited to %s", tr.Team))
		}
	default:
		panic(fmt.Sprintf("volley: unhandled trigger %v", tr))
	}
	e.phase.fire(evResolve)

	var out Outcome
	switch tr.Kind {
	case TriggerOutOfBounds:
		out = e.resolveOutOfBounds()
	case TriggerHitGoal:
		out = e.resolveGoal(tr.Team)
	case TriggerHitIntoHalf:
		out = e.resolveAttack(tr.Team)
	}
	out.Trigger = tr

	if out.Terminal {
		e.finish(out)
	} else {
		e.phase.fire(evSettle)
	}
	return out
}

func (e *Env) lastHitterLabel() string {
	if e.lastHitterAgent == nil {
		return "--"
	}
	return e.lastHitterAgent.Label()
}

func (e *Env) resolveOutOfBounds() Outcome {
	lh := e.lastHitterAgent
	if lh != nil {
		e.roleReward(lh, RewardOutOfBounds, 0)
		e.tracker.Record(StatMistake, lh)
		if lh.RoleIs(RoleSendToTarget) {
			e.tracker.Record(StatOutOfBoundsSend, lh)
		}
	}
	winner := e.lastHitterTeam.Opponent()
	e.recordResult(winner)
	desc := "out_of_bounds_no_touch"
	if lh != nil {
		desc = "out_of_bounds_by_" + lh.Label()
	}
	e.logf(lh, "resolve", "out_of_bounds", "winner %s", winner)
	return Outcome{
		Result:      resultFor(winner),
		Winner:      winner,
		LastHitter:  e.lastHitterLabel(),
		Terminal:    true,
		Description: desc,
	}
}

func (e *Env) resolveGoal(winner Team) Outcome {
	loser := winner.Opponent()
	lh, lhTeam := e.lastHitterAgent, e.lastHitterTeam
	desc := "goal"

	// The losing side conceded without playing the ball last.
	if lhTeam != loser {
		losers := e.Roster(loser).Agents
		for _, a := range losers {
			e.roleReward(a, RewardConcede, a.Body().Position.Dist(e.Ball.Position))
		}
		e.tracker.Record(StatMiss, losers...)
	}

	if lh != nil {
		switch lhTeam {
		case winner:
			e.roleReward(lh, RewardWinningHit, 0)
			desc = "goal_by_" + lh.Label()
		case loser:
			e.tracker.Record(StatMistake, lh)
			e.roleReward(lh, RewardOwnGoal, 0)
			desc = "own_goal_by_" + lh.Label()
		}
		if lh.RoleIs(RoleSendToTarget) {
			e.scoreSend(lh)
		}
	}

	e.recordResult(winner)
	e.teamReward(winner, e.rules.Team.Win)
	e.teamReward(loser, e.rules.Team.Lose)
	e.fx.Flash(e.palette.Goal(winner), e.palette.Flash)
	e.logf(lh, "resolve", "goal", "winner %s", winner)

	return Outcome{
		Result:      resultFor(winner),
		Winner:      winner,
		LastHitter:  e.lastHitterLabel(),
		Terminal:    true,
		Description: desc,
	}
}

// scoreSend rewards a send-to-target hitter for where the ball came down.
func (e *Env) scoreSend(a *Agent) {
	d := e.Ball.Position.Flat().Dist(a.Target.Flat())
	score, err := e.shaper.Score(d, e.ballApex)
	if err != nil {
		e.logger.Warn("send shaping failed", "agent", a.Label(), "error", err)
	}
	a.AddReward(score)
	e.logf(a, "reward", "send_target", "distance %.2f apex %.2f", d, e.ballApex)
	if d <= e.cfg.Rewards.TargetRadius {
		e.tracker.Record(StatSend, a)
	} else {
		e.tracker.Record(StatFailedSend, a)
	}
}

func (e *Env) resolveAttack(attacker Team) Outcome {
	lh := e.lastHitterAgent
	out := Outcome{
		Result:      ResultContinue,
		Winner:      TeamNeutral,
		LastHitter:  e.lastHitterLabel(),
		Description: "ball_crossed",
	}
	if lh == nil || e.lastHitterTeam != attacker {
		return out
	}
	e.teamReward(attacker, e.rules.Team.Attack)
	e.roleReward(lh, RewardAttack, 0)
	e.tracker.Record(StatSend, lh)
	e.logf(lh, "resolve", "attack", "into %s half", attacker.Opponent())
	out.Description = "attack_by_" + lh.Label()
	return out
}

// recordResult books win/lose or a tie for both rosters.
func (e *Env) recordResult(winner Team) {
	if winner == TeamNeutral {
		e.tracker.Record(StatTie, e.Blue.Roster.Agents...)
		e.tracker.Record(StatTie, e.Purple.Roster.Agents...)
	} else {
		e.tracker.Record(StatWin, e.Roster(winner).Agents...)
		e.tracker.Record(StatLose, e.Roster(winner.Opponent()).Agents...)
	}
	e.tracker.GameOver()
}

// finish closes a terminal resolution: tally it, then end every episode.
// In modes that never end episodes the machine settles back to active.
func (e *Env) finish(out Outcome) {
	e.last = out
	e.tally.Add(out)
	if !e.EndAllEpisodes() {
		e.phase.fire(evSettle)
	}
}

// EndAllEpisodes ends every agent's and manager's episode and resets the
// scene. It does nothing and returns false in modes that never end
// episodes through gameplay.
func (e *Env) EndAllEpisodes() bool {
	if !e.rules.EndsEpisodes {
		return false
	}
	if e.phase.is(PhaseActive) {
		e.phase.fire(evResolve)
	}
	e.phase.fire(evEnd)
	for _, a := range e.Agents() {
		a.EndEpisode()
	}
	e.Blue.EndEpisode()
	e.Purple.EndEpisode()
	e.episodes++
	e.logf(nil, "episode", "end", "episode %d", e.episodes)
	e.ResetScene()
	e.phase.fire(evResume)
	return true
}

// FixedTick advances one physics step. Once the step budget is spent every
// episode is interrupted, with no terminal reward, and the scene resets.
func (e *Env) FixedTick() {
	e.tick++
	e.resetTimer++
	if y := e.Ball.Position.Y; y > e.ballApex {
		e.ballApex = y
	}
	e.tracker.Tick()
	if e.maxSteps <= 0 || e.resetTimer < e.maxSteps {
		return
	}
	e.phase.fire(evInterrupt)
	for _, a := range e.Agents() {
		a.EpisodeInterrupted()
	}
	e.Blue.EpisodeInterrupted()
	e.Purple.EpisodeInterrupted()
	e.tally.Interrupted++
	e.episodes++
	e.logf(nil, "episode", "interrupted", "after %d steps", e.resetTimer)
	e.ResetScene()
	e.phase.fire(evResume)
}

// --- Scene reset ---

// ResetScene clears the last hitter, re-randomises every agent around its
// team anchor, then re-serves the ball and runs the after-reset hooks.
func (e *Env) ResetScene() {
	e.resetTimer = 0
	e.lastHitterTeam = TeamNeutral
	e.lastHitterAgent = nil

	spawn := e.cfg.AgentSpawn
	if e.rules.MoveToSpawn {
		spawn = e.cfg.MoveToSpawn
	}
	for _, m := range []*Manager{e.Blue, e.Purple} {
		anchor := m.Anchor()
		sign := m.Team.Sign()
		for _, a := range m.Roster.Agents {
			b := a.Body()
			b.Position = anchor.Add(Vec3{
				X: e.uniform(spawn.X),
				Y: e.uniform(spawn.Y),
				Z: e.uniform(spawn.Z) * sign,
			})
			b.Yaw = e.uniform(spawn.Yaw)
			b.Stop()
		}
	}
	e.ResetBall()
	for _, fn := range e.afterReset {
		fn()
	}
}

// ServingTeam owns the half the ball spawns over for side.
func ServingTeam(side int) Team {
	if side < 0 {
		return TeamBlue
	}
	return TeamPurple
}

// ResetBall flips the spawn side and places the ball over that half. When
// the rules serve, the ball goes above the serving team's first member
// instead and both first members lose their targets.
func (e *Env) ResetBall() {
	e.ballSpawnSide = -e.ballSpawnSide
	e.ballApex = 0
	b := e.Ball
	b.AngularVelocity = Vec3{}

	if e.rules.Serve {
		if server := e.Roster(ServingTeam(e.ballSpawnSide)).First(); server != nil {
			b.Position = server.Body().Position.Add(Vec3{Y: e.cfg.BallSpawn.ServeLift})
			for _, m := range []*Manager{e.Blue, e.Purple} {
				if f := m.Roster.First(); f != nil {
					f.SetTarget(false, Vec3{}, e.cfg.Manager.ShowTargets)
				}
			}
			n := e.cfg.BallSpawn.ServeNudge
			b.Velocity = Vec3{X: e.between(-n, n), Z: e.between(-n, n)}
			e.logf(server, "episode", "serve", "%s", b.Position)
			return
		}
	}

	bs := e.cfg.BallSpawn
	b.Position = Vec3{
		X: e.uniform(bs.X),
		Y: e.uniform(bs.Y),
		Z: -float64(e.ballSpawnSide) * e.uniform(bs.Z),
	}
	v := e.cfg.Physics.BallResetMaxVelocity
	b.Velocity = Vec3{e.between(-v, v), e.between(-v, v), e.between(-v, v)}
	e.logf(nil, "episode", "ball_reset", "%s side %d", b.Position, e.ballSpawnSide)
}

func (e *Env) uniform(r config.Range) float64 { return e.between(r.Min, r.Max) }

func (e *Env) between(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + e.rng.Float64()*(hi-lo)
}

// --- Reward plumbing ---

// roleReward pays agent the table entry for its active role, if any. d is
// the agent's distance to the ball for distance-scaled rules.
func (e *Env) roleReward(a *Agent, ev RewardEvent, d float64) {
	rule, ok := e.rules.Roles.Lookup(a.Role(), ev)
	if !ok {
		return
	}
	r := rule.Value(d)
	a.AddReward(r)
	e.simLog.Add(e.tick, a.Label(), a.Team().String(), "reward", ev.String(), fmt.Sprintf("%s %+.3f", a.Role(), r), r)
}

func (e *Env) teamReward(team Team, r float64) {
	m := e.Manager(team)
	if m == nil {
		return
	}
	m.AddReward(r)
	e.simLog.Add(e.tick, "--", team.String(), "reward", "team", fmt.Sprintf("%+.2f", r), r)
}

func (e *Env) logf(a *Agent, category, key, format string, args ...any) {
	label, team := "--", "--"
	if a != nil {
		label, team = a.Label(), a.Team().String()
	}
	e.simLog.Add(e.tick, label, team, category, key, fmt.Sprintf(format, args...), 0)
}
