package volley

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/Garsondee/Volley-Sense/internal/config"
)

var (
	blueKey   = StatKey{Subject: "Blue", Opponent: "Purple"}
	purpleKey = StatKey{Subject: "Purple", Opponent: "Blue"}
)

// testEnv bundles an Env with the sink and pending floor restores it
// writes to.
type testEnv struct {
	*Env
	sink     *MemorySink
	restores []func()
}

// newTestEnv builds a two-a-side court with matchup statistics and a
// deterministic spawn. mutate, if non-nil, edits the settings first.
func newTestEnv(t *testing.T, mode TrainingMode, mutate func(*config.Settings)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.TrainingMode = mode.String()
	cfg.Statistics.Mode = "matchup"
	cfg.Statistics.MatchesPerSet = 100
	cfg.Statistics.Models = nil
	if mutate != nil {
		mutate(&cfg)
	}
	te := &testEnv{sink: &MemorySink{}}
	tr, err := NewTracker(cfg.Statistics, WithSink(te.sink))
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	blue, purple, ball := newTestManagers(2)
	fx := NewGroundFX(PaletteFrom(cfg.Materials).Floor, func(_ time.Duration, f func()) {
		te.restores = append(te.restores, f)
	})
	env, err := NewEnv(cfg, blue, purple, ball,
		WithTracker(tr),
		WithRand(rand.New(rand.NewSource(11))), // #nosec G404 -- test
		WithSpawnSide(1),
		WithGroundFX(fx),
	)
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	te.Env = env
	return te
}

func (te *testEnv) counters(t *testing.T, k StatKey) Counters {
	t.Helper()
	c, ok := te.Tracker().Lookup(k)
	if !ok {
		t.Fatalf("no record for %s", k)
	}
	return c
}

func expectPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected a panic", name)
		}
	}()
	f()
}

// --- Scenario A: touch then winning goal ---

func TestEnv_ScenarioA_WinningHit(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	x := te.Blue.Roster.Agents[0]

	if out := te.OnContact(TeamBlue, x); out.Terminal || out.Result != ResultContinue {
		t.Fatalf("expected contact to continue, got %+v", out)
	}
	out := te.Resolve(HitGoal(TeamBlue))

	if out.Result != ResultBlueWin || !out.Terminal || out.LastHitter != "B0" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := x.Current().LastReturn; !near(got, 1.01) {
		t.Fatalf("expected X return 1.01 (touch + winning hit), got %v", got)
	}
	if got := te.Blue.LastReturn; !near(got, 1.1) {
		t.Fatalf("expected Blue team return 1.1 (touch + win), got %v", got)
	}
	if got := te.Purple.LastReturn; !near(got, -1) {
		t.Fatalf("expected Purple team return -1, got %v", got)
	}
	for _, p := range te.Purple.Roster.Agents {
		if got := p.Current().LastReturn; !near(got, -1) {
			t.Fatalf("expected %s concede -1, got %v", p.Label(), got)
		}
	}

	b, p := te.counters(t, blueKey), te.counters(t, purpleKey)
	if b.Wins != 1 || b.Games != 1 || b.Touches != 1 {
		t.Fatalf("unexpected Blue counters %+v", b)
	}
	if p.Losses != 1 || p.Misses != 2 {
		t.Fatalf("expected Purple loss and 2 misses, got %+v", p)
	}

	if team, agent := te.LastHitter(); team != TeamNeutral || agent != nil {
		t.Fatalf("expected last hitter cleared by reset, got %s/%v", team, agent)
	}
	if te.Episodes() != 1 || te.Phase() != PhaseActive {
		t.Fatalf("expected 1 episode and active phase, got %d %s", te.Episodes(), te.Phase())
	}
	if x.Current().Ended != 1 || te.Blue.Ended != 1 {
		t.Fatalf("expected agent and manager episodes ended")
	}
	if te.GroundFX().Current().Name != "blue_goal" || len(te.restores) != 1 {
		t.Fatalf("expected a pending blue flash, got %s with %d restores", te.GroundFX().Current().Name, len(te.restores))
	}
	te.restores[0]()
	if te.GroundFX().Current().Name != "default_floor" {
		t.Fatalf("expected floor restored, got %s", te.GroundFX().Current().Name)
	}
}

// --- Scenario B: no touch, out of bounds ---

func TestEnv_ScenarioB_UntouchedOutIsTie(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	out := te.Resolve(OutOfBounds())

	if out.Result != ResultTie || out.Winner != TeamNeutral || out.LastHitter != "--" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	for _, k := range []StatKey{blueKey, purpleKey} {
		if c := te.counters(t, k); c.Ties != 1 || c.Games != 1 || c.Wins != 0 || c.Losses != 0 {
			t.Fatalf("%s: expected one tie, got %+v", k, c)
		}
	}
	for _, a := range te.Agents() {
		if a.Current().LastReturn != 0 {
			t.Fatalf("expected no penalty for %s, got %v", a.Label(), a.Current().LastReturn)
		}
	}
	if te.Tally().Ties != 1 || te.Episodes() != 1 {
		t.Fatalf("expected tie tallied and episode ended")
	}
}

// --- Scenario C: own goal ---

func TestEnv_ScenarioC_OwnGoalNoDoublePenalty(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	y := te.Purple.Roster.Agents[0]
	te.OnContact(TeamPurple, y)
	out := te.Resolve(HitGoal(TeamBlue))

	if out.Result != ResultBlueWin || out.Description != "own_goal_by_P0" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := y.Current().LastReturn; !near(got, 0.01-0.009) {
		t.Fatalf("expected Y return 0.001, got %v", got)
	}
	if got := te.Purple.Roster.Agents[1].Current().LastReturn; got != 0 {
		t.Fatalf("expected P1 unpenalised, got %v", got)
	}
	p := te.counters(t, purpleKey)
	if p.Mistakes != 1 || p.Misses != 0 || p.Losses != 1 {
		t.Fatalf("expected one mistake, no misses, one loss; got %+v", p)
	}
	if b := te.counters(t, blueKey); b.Wins != 1 {
		t.Fatalf("expected Blue credited the win, got %+v", b)
	}
}

// --- Scenario D: terminal double touch ---

func TestEnv_ScenarioD_SendDoubleTouchEndsEpisode(t *testing.T) {
	te := newTestEnv(t, ModeSendBallTo, nil)
	s := te.Blue.Roster.Agents[0]
	s.Enable(RoleSendToTarget)

	te.OnContact(TeamBlue, s)
	out := te.OnContact(TeamBlue, s)

	if out.Result != ResultFault || !out.Terminal {
		t.Fatalf("expected terminal fault, got %+v", out)
	}
	if got := s.Variant(RoleSendToTarget).LastReturn; !near(got, -0.75) {
		t.Fatalf("expected -0.75, got %v", got)
	}
	if got := te.Blue.LastReturn; !near(got, 0.1) {
		t.Fatalf("expected only the first touch on the team, got %v", got)
	}
	if c := te.counters(t, blueKey); c.Touches != 2 || c.Mistakes != 1 || c.Games != 0 {
		t.Fatalf("unexpected counters %+v", c)
	}
	if te.Tally().Faults != 1 || te.Episodes() != 1 {
		t.Fatalf("expected the fault to end the episode")
	}
}

func TestEnv_DoubleTouchOutsideTrainingCostsTeamOnly(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	a := te.Blue.Roster.Agents[0]
	te.OnContact(TeamBlue, a)
	out := te.OnContact(TeamBlue, a)

	if out.Terminal {
		t.Fatalf("expected play to continue, got %+v", out)
	}
	if got := te.Blue.Return; !near(got, 0.1-0.2+0.1) {
		t.Fatalf("expected team return 0.0, got %v", got)
	}
	if got := a.Current().Return; !near(got, 0.02) {
		t.Fatalf("expected two touch rewards, got %v", got)
	}
}

// --- Symmetry and edge cases ---

func TestEnv_LastHitterNeutralAtStart(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	if team, agent := te.LastHitter(); team != TeamNeutral || agent != nil {
		t.Fatalf("expected Neutral/nil, got %s/%v", team, agent)
	}
}

func TestEnv_UntouchedGoalPenalisesLosers(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	out := te.Resolve(HitGoal(TeamPurple))
	if out.Result != ResultPurpleWin || out.Winner != TeamPurple {
		t.Fatalf("unexpected outcome %+v", out)
	}
	for _, b := range te.Blue.Roster.Agents {
		if got := b.Current().LastReturn; !near(got, -1) {
			t.Fatalf("expected %s concede -1, got %v", b.Label(), got)
		}
	}
	if c := te.counters(t, blueKey); c.Misses != 2 || c.Losses != 1 {
		t.Fatalf("unexpected Blue counters %+v", c)
	}
	if c := te.counters(t, purpleKey); c.Wins != 1 {
		t.Fatalf("unexpected Purple counters %+v", c)
	}
	if te.Tally().Leader() != TeamPurple {
		t.Fatalf("expected Purple leading")
	}
}

// mirrored places p, written from Blue's side of the net, on us's side.
func mirrored(p Vec3, us Team) Vec3 {
	if us == TeamBlue {
		return p
	}
	return Vec3{X: p.X, Y: p.Y, Z: -p.Z}
}

// goalResult is everything a goal hands out, seen from the side that
// plays the scenario ("us") and its opponent.
type goalResult struct {
	out                Outcome
	us, them           []float64
	usTeam, themTeam   float64
	usStats, themStats Counters
}

func playGoal(t *testing.T, mode TrainingMode, us Team, play func(te *testEnv, us, them *Roster) Team) goalResult {
	t.Helper()
	te := newTestEnv(t, mode, nil)
	them := us.Opponent()
	winner := play(te, te.Roster(us), te.Roster(them))
	r := goalResult{out: te.Resolve(HitGoal(winner))}
	for _, a := range te.Roster(us).Agents {
		r.us = append(r.us, a.Current().LastReturn)
	}
	for _, a := range te.Roster(them).Agents {
		r.them = append(r.them, a.Current().LastReturn)
	}
	r.usTeam, r.themTeam = te.Manager(us).LastReturn, te.Manager(them).LastReturn
	r.usStats = te.counters(t, StatKey{Subject: us.String(), Opponent: them.String()})
	r.themStats = te.counters(t, StatKey{Subject: them.String(), Opponent: us.String()})
	return r
}

func TestEnv_HitGoalSymmetry(t *testing.T) {
	cases := []struct {
		name string
		mode TrainingMode
		play func(te *testEnv, us, them *Roster) Team
	}{
		{"winning hit", ModeFullGame, func(te *testEnv, us, them *Roster) Team {
			te.OnContact(us.Team, us.Agents[0])
			return us.Team
		}},
		{"own goal", ModeFullGame, func(te *testEnv, us, them *Roster) Team {
			te.OnContact(them.Team, them.Agents[1])
			te.OnContact(us.Team, us.Agents[0])
			return them.Team
		}},
		{"send to target", ModeSendBallTo, func(te *testEnv, us, them *Roster) Team {
			s := us.Agents[1]
			s.Enable(RoleSendToTarget)
			target := te.Manager(us.Team).TargetFor(0.3, 0.5)
			s.SetTarget(true, target, true)
			te.Ball.Position = mirrored(Vec3{X: 0.5, Y: 2, Z: 3}, us.Team)
			te.OnContact(us.Team, s)
			te.Ball.Position = target.Add(mirrored(Vec3{X: 2, Y: 0.3, Z: 1}, us.Team))
			return us.Team
		}},
		{"move to ball concede", ModeMoveToBall, func(te *testEnv, us, them *Roster) Team {
			spots := []Vec3{{X: 1, Y: 0.5, Z: -4}, {X: -2, Y: 0.5, Z: -6}}
			for i, a := range them.Agents {
				a.Enable(RoleMoveToBall)
				a.Body().Position = mirrored(spots[i], us.Team)
			}
			te.Ball.Position = mirrored(Vec3{Y: 0.5, Z: -1}, us.Team)
			return us.Team
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			blue := playGoal(t, c.mode, TeamBlue, c.play)
			purple := playGoal(t, c.mode, TeamPurple, c.play)

			if purple.out.Winner != blue.out.Winner.Opponent() || purple.out.Result == blue.out.Result {
				t.Fatalf("expected mirrored winners, got %+v and %+v", blue.out, purple.out)
			}
			same := func(what string, a, b float64) {
				t.Helper()
				if !near(a, b) {
					t.Fatalf("%s: expected %v on both sides, got %v", what, a, b)
				}
			}
			for i := range blue.us {
				same("scenario side agent", blue.us[i], purple.us[i])
				same("opposing agent", blue.them[i], purple.them[i])
			}
			same("scenario side team", blue.usTeam, purple.usTeam)
			same("opposing team", blue.themTeam, purple.themTeam)
			if blue.usStats != purple.usStats || blue.themStats != purple.themStats {
				t.Fatalf("expected mirrored counters, got %+v/%+v and %+v/%+v",
					blue.usStats, blue.themStats, purple.usStats, purple.themStats)
			}
		})
	}
}

func TestEnv_OutOfBoundsByHitter(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	a := te.Blue.Roster.Agents[1]
	te.OnContact(TeamBlue, a)
	out := te.Resolve(OutOfBounds())
	if out.Result != ResultPurpleWin || out.Description != "out_of_bounds_by_B1" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := a.Current().LastReturn; !near(got, 0.01-0.009) {
		t.Fatalf("expected 0.001, got %v", got)
	}
	if c := te.counters(t, blueKey); c.Mistakes != 1 || c.Losses != 1 {
		t.Fatalf("unexpected counters %+v", c)
	}
}

func TestEnv_InvalidInputsPanic(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	expectPanic(t, "unknown trigger", func() { te.Resolve(Trigger{Kind: TriggerKind(9)}) })
	expectPanic(t, "neutral goal", func() { te.Resolve(HitGoal(TeamNeutral)) })
	expectPanic(t, "nil contact", func() { te.OnContact(TeamBlue, nil) })
	if te.Phase() != PhaseActive {
		t.Fatalf("expected rejected input to leave the phase alone, got %s", te.Phase())
	}
}

func TestEnv_AttackIntoOpposingHalf(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	a := te.Blue.Roster.Agents[0]
	te.OnContact(TeamBlue, a)

	if out := te.Resolve(HitIntoHalf(TeamPurple)); out.Description != "ball_crossed" {
		t.Fatalf("expected no credit for the other side's attack, got %+v", out)
	}
	out := te.Resolve(HitIntoHalfOf(TeamPurple))
	if out.Terminal || out.Description != "attack_by_B0" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := te.Blue.Return; !near(got, 0.35) {
		t.Fatalf("expected team return 0.35, got %v", got)
	}
	if got := a.Current().Return; !near(got, 0.11) {
		t.Fatalf("expected agent return 0.11, got %v", got)
	}
	if c := te.counters(t, blueKey); c.Sends != 1 {
		t.Fatalf("expected one send, got %+v", c)
	}
}

// --- Mode specific resolution ---

func TestEnv_MoveToBallTouchCompletesTask(t *testing.T) {
	te := newTestEnv(t, ModeMoveToBall, nil)
	a := te.Purple.Roster.Agents[0]
	a.Enable(RoleMoveToBall)
	out := te.OnContact(TeamPurple, a)
	if out.Result != ResultTaskDone || !out.Terminal {
		t.Fatalf("expected task done, got %+v", out)
	}
	if got := a.Current().LastReturn; !near(got, 1) {
		t.Fatalf("expected 1.0, got %v", got)
	}
	if te.Tally().TasksDone != 1 {
		t.Fatalf("expected the task tallied")
	}
}

func TestEnv_MoveToBallConcedeScalesWithDistance(t *testing.T) {
	te := newTestEnv(t, ModeMoveToBall, nil)
	a := te.Blue.Roster.Agents[0]
	a.Enable(RoleMoveToBall)
	a.Body().Position = Vec3{0, 0.5, 4}
	te.Ball.Position = Vec3{0, 0.5, 1}
	te.Resolve(HitGoal(TeamPurple))
	if got := a.Current().LastReturn; !near(got, -0.3) {
		t.Fatalf("expected -0.1 * 3, got %v", got)
	}
}

func TestEnv_SendScoredAgainstTarget(t *testing.T) {
	te := newTestEnv(t, ModeSendBallTo, nil)
	s := te.Blue.Roster.Agents[1]
	s.Enable(RoleSendToTarget)
	target := te.Blue.TargetFor(0, 0.5)
	s.SetTarget(true, target, true)

	te.OnContact(TeamBlue, s)
	te.Ball.Position = target.Add(Vec3{X: 1, Y: 0.3})
	te.Resolve(HitGoal(TeamBlue))

	if got := s.Current().LastReturn; !near(got, 1) {
		t.Fatalf("expected full send score, got %v", got)
	}
	if c := te.counters(t, blueKey); c.Sends != 1 || c.FailedSends != 0 {
		t.Fatalf("unexpected counters %+v", c)
	}
	if !te.SimLog().HasEntry("reward", "send_target", "distance 1.00") {
		t.Fatalf("expected send scoring logged:\n%s", te.SimLog().Format())
	}
}

func TestEnv_MoveToNeverEndsEpisodes(t *testing.T) {
	te := newTestEnv(t, ModeMoveTo, nil)
	if te.EndAllEpisodes() {
		t.Fatalf("expected EndAllEpisodes to refuse in MoveTo")
	}
	out := te.Resolve(OutOfBounds())
	if !out.Terminal {
		t.Fatalf("expected a terminal outcome, got %+v", out)
	}
	if te.Episodes() != 0 || te.Phase() != PhaseActive {
		t.Fatalf("expected no episode end, got %d in %s", te.Episodes(), te.Phase())
	}
}

// --- Ticks and resets ---

func TestEnv_FixedTickInterruptsAtStepBudget(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, func(s *config.Settings) { s.MaxEnvironmentSteps = 10 })
	a := te.Blue.Roster.Agents[0]
	a.AddReward(0.5)
	for i := 0; i < 9; i++ {
		te.FixedTick()
	}
	if te.ResetTimer() != 9 || te.Tally().Interrupted != 0 {
		t.Fatalf("expected no interrupt yet, timer=%d", te.ResetTimer())
	}
	te.FixedTick()
	if te.Tally().Interrupted != 1 || te.ResetTimer() != 0 {
		t.Fatalf("expected interrupt and reset, timer=%d", te.ResetTimer())
	}
	v := a.Current()
	if v.Interrupted != 1 || v.Ended != 0 || v.LastReturn != 0.5 {
		t.Fatalf("unexpected episode %+v", v.Episode)
	}
	if te.PhaseEntries(PhaseResetting) != 1 || te.Phase() != PhaseActive {
		t.Fatalf("expected one pass through resetting")
	}
}

func TestEnv_BallApexTracksHighestPoint(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	te.OnContact(TeamBlue, te.Blue.Roster.Agents[0])
	for _, y := range []float64{2, 5, 3} {
		te.Ball.Position.Y = y
		te.FixedTick()
	}
	if te.BallApex() != 5 {
		t.Fatalf("expected apex 5, got %v", te.BallApex())
	}
}

func TestEnv_SpawnSideAlternates(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	if te.BallSpawnSide() != -1 || te.Ball.Position.Z <= 0 {
		t.Fatalf("expected first ball over Blue, side=%d z=%v", te.BallSpawnSide(), te.Ball.Position.Z)
	}
	te.Resolve(OutOfBounds())
	if te.BallSpawnSide() != 1 || te.Ball.Position.Z >= 0 {
		t.Fatalf("expected second ball over Purple, side=%d z=%v", te.BallSpawnSide(), te.Ball.Position.Z)
	}
	te.Resolve(OutOfBounds())
	if te.BallSpawnSide() != -1 {
		t.Fatalf("expected side to flip back")
	}
}

func TestEnv_ResetPlacesAgentsAroundAnchors(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	for i := 0; i < 20; i++ {
		for _, m := range []*Manager{te.Blue, te.Purple} {
			for _, a := range m.Roster.Agents {
				off := a.Body().Position.Sub(m.Anchor())
				if math.Abs(off.X) > 2 || math.Abs(off.Z) > 2 || off.Y < 0.5 || off.Y > 3.75 {
					t.Fatalf("%s spawned outside its box: %s", a.Label(), off)
				}
				if a.Body().Velocity != (Vec3{}) {
					t.Fatalf("%s kept velocity after reset", a.Label())
				}
			}
		}
		te.ResetScene()
	}
}

func TestEnv_SendBallToServesFromFirstMember(t *testing.T) {
	te := newTestEnv(t, ModeSendBallTo, nil)
	server := te.Blue.Roster.First()
	want := server.Body().Position.Add(Vec3{Y: 3})
	if te.Ball.Position != want {
		t.Fatalf("expected ball at %s, got %s", want, te.Ball.Position)
	}
	if math.Abs(te.Ball.Velocity.X) > 0.5 || math.Abs(te.Ball.Velocity.Z) > 0.5 || te.Ball.Velocity.Y != 0 {
		t.Fatalf("expected a small horizontal nudge, got %s", te.Ball.Velocity)
	}
	if te.Blue.Roster.First().ActiveTarget || te.Purple.Roster.First().ActiveTarget {
		t.Fatalf("expected first members' targets cleared")
	}

	te.Resolve(OutOfBounds())
	server = te.Purple.Roster.First()
	if te.Ball.Position != server.Body().Position.Add(Vec3{Y: 3}) {
		t.Fatalf("expected Purple to serve next")
	}
}

func TestEnv_AfterResetHooksRun(t *testing.T) {
	te := newTestEnv(t, ModeFullGame, nil)
	calls := 0
	te.OnAfterReset(func() { calls++ })
	te.Resolve(OutOfBounds())
	te.ResetScene()
	if calls != 2 {
		t.Fatalf("expected 2 hook calls, got %d", calls)
	}
}
