package volley

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/Garsondee/Volley-Sense/internal/config"
)

func statsConfig(mode string) config.Statistics {
	cfg := config.Default().Statistics
	cfg.Mode = mode
	cfg.Models = []string{"M1", "M2"}
	cfg.ReportInterval = 0
	return cfg
}

func newTestTracker(t *testing.T, cfg config.Statistics, opts ...TrackerOption) (*Tracker, *MemorySink) {
	t.Helper()
	sink := &MemorySink{}
	opts = append([]TrackerOption{WithSink(sink), WithTrackerRand(rand.New(rand.NewSource(5)))}, opts...) // #nosec G404 -- test
	tr, err := NewTracker(cfg, opts...)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	return tr, sink
}

// --- Rates ---

func TestRates_UndefinedWithoutDenominator(t *testing.T) {
	r := Counters{}.Rates()
	for name, rate := range map[string]Rate{
		"win": r.WinRate, "miss": r.MissRate, "send": r.SendRate,
		"mistake": r.MistakeRate, "touches": r.TouchesPerGame,
	} {
		if rate.Defined || rate.String() != "n/a" {
			t.Fatalf("%s: expected undefined, got %+v", name, rate)
		}
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"winRate":null`) {
		t.Fatalf("expected null rates, got %s", b)
	}
}

func TestRates_Idempotent(t *testing.T) {
	c := Counters{Games: 4, Wins: 1, Losses: 3, Touches: 8, Misses: 1, Sends: 2}
	a, b := c.Rates(), c.Rates()
	if a != b {
		t.Fatalf("expected equal rates, got %+v and %+v", a, b)
	}
	row := newReportRow(StatKey{Subject: "A"}, c)
	want := "{'A': {'gamesPlayed': 4, 'winRate': 25.00, 'touchesPerGame': 2.00, 'missRate': 33.33, 'sendRate': 25.00, 'mistakeRate': 0.00}}"
	if got := row.Line(); got != want {
		t.Fatalf("expected\n%s\ngot\n%s", want, got)
	}
}

func TestRate_JSONRoundTrip(t *testing.T) {
	var r Rate
	if err := json.Unmarshal([]byte("12.5"), &r); err != nil || !r.Defined || r.Value != 12.5 {
		t.Fatalf("expected 12.5, got %+v (%v)", r, err)
	}
	if err := json.Unmarshal([]byte("null"), &r); err != nil || r.Defined {
		t.Fatalf("expected undefined, got %+v (%v)", r, err)
	}
}

func TestCounters_UnknownEventPanics(t *testing.T) {
	expectPanic(t, "counters", func() {
		var c Counters
		c.Add(statEventCount)
	})
}

// --- Variant mode ---

func TestTracker_VariantModePreSeedsModels(t *testing.T) {
	tr, _ := newTestTracker(t, statsConfig("variant"))
	keys := tr.Keys()
	if len(keys) != 2 || keys[0].Subject != "M1" || keys[1].Subject != "M2" {
		t.Fatalf("expected M1 and M2 records, got %v", keys)
	}
}

func TestTracker_GameCountsOncePerModel(t *testing.T) {
	tr, _ := newTestTracker(t, statsConfig("variant"))
	blue, purple, _ := newTestManagers(2)
	for _, a := range blue.Roster.Agents {
		a.SetModel(RoleFullGame, "M1")
	}
	for _, a := range purple.Roster.Agents {
		a.SetModel(RoleFullGame, "M2")
	}
	tr.Record(StatWin, blue.Roster.Agents...)
	tr.Record(StatLose, purple.Roster.Agents...)
	tr.Record(StatTouch, blue.Roster.Agents...)

	m1, _ := tr.Lookup(StatKey{Subject: "M1"})
	if m1.Games != 1 || m1.Wins != 1 || m1.Touches != 2 {
		t.Fatalf("unexpected M1 counters %+v", m1)
	}
	m2, _ := tr.Lookup(StatKey{Subject: "M2"})
	if m2.Games != 1 || m2.Losses != 1 {
		t.Fatalf("unexpected M2 counters %+v", m2)
	}
}

func TestTracker_RotateDrawsOneModelPerRoster(t *testing.T) {
	cfg := statsConfig("variant")
	cfg.RotateModels = true
	tr, _ := newTestTracker(t, cfg)
	blue, _, _ := newTestManagers(3)
	seen := map[string]bool{}
	for i := 0; i < 40; i++ {
		tr.Record(StatWin, blue.Roster.Agents...)
		first := blue.Roster.Agents[0].CurrentModelName()
		for _, a := range blue.Roster.Agents {
			if a.CurrentModelName() != first {
				t.Fatalf("expected one model per roster, got %s and %s", first, a.CurrentModelName())
			}
		}
		seen[first] = true
	}
	if !seen["M1"] || !seen["M2"] {
		t.Fatalf("expected both models drawn, got %v", seen)
	}
}

func TestTracker_DisabledIsNoOp(t *testing.T) {
	cfg := statsConfig("variant")
	cfg.KeepStats = false
	tr, sink := newTestTracker(t, cfg)
	blue, _, _ := newTestManagers(1)
	tr.Record(StatWin, blue.Roster.Agents...)
	tr.Record(StatTouch, blue.Roster.Agents...)
	tr.Tick()
	tr.Close()
	if len(tr.Keys()) != 0 || len(sink.Touches) != 0 || len(sink.Reports) != 0 {
		t.Fatalf("expected nothing recorded, got %v keys", tr.Keys())
	}
	expectPanic(t, "unknown event", func() { tr.Record(StatEvent(42), blue.Roster.Agents...) })
}

// --- Matchup mode ---

func TestTracker_ScenarioE_MatchupFlush(t *testing.T) {
	cfg := statsConfig("matchup")
	cfg.MatchesPerSet = 2
	tr, sink := newTestTracker(t, cfg)
	blue, purple, _ := newTestManagers(2)
	tr.BindRosters(blue.Roster, purple.Roster)
	for _, a := range blue.Roster.Agents {
		a.SetModel(RoleFullGame, "M1")
	}
	for _, a := range purple.Roster.Agents {
		a.SetModel(RoleFullGame, "M2")
	}

	play := func() {
		tr.Record(StatTouch, blue.Roster.Agents[0])
		tr.Record(StatWin, blue.Roster.Agents...)
		tr.Record(StatLose, purple.Roster.Agents...)
		tr.GameOver()
	}
	play()
	if len(sink.Reports) != 0 || tr.Sets() != 0 {
		t.Fatalf("expected no flush after one win")
	}
	play()

	rep, ok := sink.LastReport(ReportMatchupFlush)
	if !ok {
		t.Fatalf("expected a flush report")
	}
	b, ok := rep.Row(blueKey)
	if !ok || b.Counters.Wins != 2 || b.Counters.Games != 2 || b.Counters.Touches != 2 {
		t.Fatalf("unexpected Blue row %+v", b)
	}
	// The losing side's row is flushed in the same report.
	p, ok := rep.Row(purpleKey)
	if !ok || p.Counters.Losses != 2 {
		t.Fatalf("unexpected Purple row %+v", p)
	}
	if b.Model != "M1" || b.OpponentModel != "M2" || p.Model != "M2" || p.OpponentModel != "M1" {
		t.Fatalf("expected the set named M1 vs M2, got %s and %s", b.label(), p.label())
	}
	if !strings.Contains(b.Line(), "'model': 'M1', 'opponentModel': 'M2'") {
		t.Fatalf("expected models in the log line, got %s", b.Line())
	}
	if rep.Set != 1 || tr.Sets() != 1 {
		t.Fatalf("expected set 1 flushed, got %d/%d", rep.Set, tr.Sets())
	}
	for _, k := range []StatKey{blueKey, purpleKey} {
		c, ok := tr.Lookup(k)
		if !ok || c != (Counters{}) {
			t.Fatalf("%s: expected a fresh zero record, got %+v", k, c)
		}
	}
	for _, a := range append(append([]*Agent(nil), blue.Roster.Agents...), purple.Roster.Agents...) {
		if m := a.Variant(RoleFullGame).Model; m != "M1" && m != "M2" {
			t.Fatalf("%s: expected a redrawn model, got %q", a.Label(), m)
		}
	}
	next, _ := tr.Report(ReportSnapshot).Row(blueKey)
	if next.Model != blue.Roster.Agents[0].Variant(RoleFullGame).Model ||
		next.OpponentModel != purple.Roster.Agents[0].Variant(RoleFullGame).Model {
		t.Fatalf("expected the next set named after the redrawn models, got %s", next.label())
	}
}

func TestTracker_MatchupResumesRestoredSet(t *testing.T) {
	cfg := statsConfig("matchup")
	cfg.MatchesPerSet = 2
	snap := TrackerSnapshot{Mode: "matchup", Records: []SnapshotRecord{
		{Key: blueKey, Counters: Counters{Games: 1, Wins: 1}, Models: &MatchModels{Model: "M2", OpponentModel: "M1"}},
		{Key: purpleKey, Counters: Counters{Games: 1, Losses: 1}, Models: &MatchModels{Model: "M1", OpponentModel: "M2"}},
	}}
	tr, sink := newTestTracker(t, cfg)
	if err := tr.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	blue, purple, _ := newTestManagers(1)
	tr.BindRosters(blue.Roster, purple.Roster)
	if m := blue.Roster.Agents[0].Variant(RoleFullGame).Model; m != "M2" {
		t.Fatalf("expected Blue back on M2, got %q", m)
	}

	tr.Record(StatWin, blue.Roster.Agents...)
	tr.Record(StatLose, purple.Roster.Agents...)
	tr.GameOver()

	rep, ok := sink.LastReport(ReportMatchupFlush)
	if !ok {
		t.Fatalf("expected the restored win to complete the set")
	}
	b, _ := rep.Row(blueKey)
	if b.Counters.Wins != 1 || b.Counters.Games != 1 || b.Model != "M2" {
		t.Fatalf("expected only this run's win under M2, got %+v", b)
	}
	if len(tr.Snapshot().Records) != 2 {
		t.Fatalf("expected the retired set gone from the snapshot, got %+v", tr.Snapshot().Records)
	}
	if c, _ := tr.Lookup(blueKey); c != (Counters{}) {
		t.Fatalf("expected a fresh set, got %+v", c)
	}
}

// --- Reporting ---

func TestTracker_PeriodicReports(t *testing.T) {
	cfg := statsConfig("variant")
	cfg.ReportInterval = 3
	tr, sink := newTestTracker(t, cfg)
	for i := 0; i < 7; i++ {
		tr.Tick()
	}
	if len(sink.Reports) != 2 || sink.Reports[1].Tick != 6 {
		t.Fatalf("expected reports at ticks 3 and 6, got %d", len(sink.Reports))
	}
	tr.Close()
	if rep, ok := sink.LastReport(ReportFinal); !ok || rep.Tick != 7 {
		t.Fatalf("expected a final report at tick 7")
	}
}

func TestTracker_TouchLog(t *testing.T) {
	tr, sink := newTestTracker(t, statsConfig("variant"), WithRunID("run-1"))
	blue, _, _ := newTestManagers(1)
	a := blue.Roster.Agents[0]
	a.SetModel(RoleFullGame, "M1")
	a.Body().Position = Vec3{1, 0.5, 2}
	tr.Record(StatTouch, a)

	if len(sink.Touches) != 1 {
		t.Fatalf("expected 1 touch, got %d", len(sink.Touches))
	}
	rec := sink.Touches[0]
	if rec.RunID != "run-1" || rec.Agent != "B0" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if want := "{'behaviorName': 'M1', 'location': '(1.00, 0.50, 2.00)'}"; rec.Line() != want {
		t.Fatalf("expected %s, got %s", want, rec.Line())
	}
}

type failingSink struct{}

func (failingSink) WriteTouch(TouchRecord) error { return errors.New("disk full") }
func (failingSink) WriteReport(Report) error     { return errors.New("disk full") }

func TestTracker_SinkErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tr, err := NewTracker(statsConfig("variant"), WithSink(failingSink{}), WithTrackerLogger(logger))
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	blue, _, _ := newTestManagers(1)
	tr.Record(StatTouch, blue.Roster.Agents...)
	tr.Close()
	if tr.SinkErrors() != 2 {
		t.Fatalf("expected 2 sink errors, got %d", tr.SinkErrors())
	}
	if !strings.Contains(buf.String(), "touch record dropped") || !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("expected logged errors, got %q", buf.String())
	}
}

func TestMergeReports_SumsAndSorts(t *testing.T) {
	r1 := Report{Mode: "variant", Tick: 10, Rows: []ReportRow{
		newReportRow(StatKey{Subject: "M2"}, Counters{Games: 1, Wins: 1}),
	}}
	r2 := Report{Mode: "variant", Tick: 5, Rows: []ReportRow{
		newReportRow(StatKey{Subject: "M2"}, Counters{Games: 1}),
		newReportRow(StatKey{Subject: "M1"}, Counters{Touches: 3}),
	}}
	m := MergeReports(ReportFinal, r1, r2)
	if m.Tick != 15 || len(m.Rows) != 2 || m.Rows[0].Key.Subject != "M1" {
		t.Fatalf("unexpected merge %+v", m)
	}
	if m.Rows[1].Counters.Games != 2 || m.Rows[1].Rates.WinRate.Value != 50 {
		t.Fatalf("unexpected M2 row %+v", m.Rows[1])
	}
	if !strings.Contains(m.Format(), "M2") {
		t.Fatalf("expected M2 in format:\n%s", m.Format())
	}
}

// --- Snapshots ---

func TestTracker_SnapshotRestore(t *testing.T) {
	tr, _ := newTestTracker(t, statsConfig("variant"))
	blue, _, _ := newTestManagers(2)
	for _, a := range blue.Roster.Agents {
		a.SetModel(RoleFullGame, "M1")
	}
	tr.Record(StatWin, blue.Roster.Agents...)
	tr.Record(StatTouch, blue.Roster.Agents...)
	snap := tr.Snapshot()

	next, sink := newTestTracker(t, statsConfig("variant"))
	if err := next.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	next.Record(StatWin, blue.Roster.Agents...)
	c, _ := next.Lookup(StatKey{Subject: "M1"})
	if c.Wins != 2 || c.Touches != 2 {
		t.Fatalf("expected carried-over counts, got %+v", c)
	}
	if row, _ := next.Totals(ReportSnapshot).Row(StatKey{Subject: "M1"}); row.Counters.Wins != 2 {
		t.Fatalf("expected totals to include the snapshot, got %+v", row)
	}
	if again := next.Snapshot(); again.Records[0].Counters.Wins != 2 {
		t.Fatalf("expected the next snapshot to carry both runs, got %+v", again.Records)
	}

	// Reports written to the sink hold this run's counts only, so summing
	// final reports across runs never counts a run twice.
	next.Close()
	final, _ := sink.LastReport(ReportFinal)
	if row, _ := final.Row(StatKey{Subject: "M1"}); row.Counters.Wins != 1 || row.Counters.Touches != 0 {
		t.Fatalf("expected only this run's win in the final report, got %+v", row)
	}

	other, _ := newTestTracker(t, statsConfig("matchup"))
	if err := other.Restore(snap); err == nil {
		t.Fatalf("expected mode mismatch error")
	}
}
