package volley

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/Garsondee/Volley-Sense/internal/config"
)

// StatMode selects how statistics are keyed.
type StatMode int

const (
	StatsByVariant StatMode = iota // one record per bound model name
	StatsByMatchup                 // one record per ordered team pair, retired each set
)

func (m StatMode) String() string {
	switch m {
	case StatsByVariant:
		return "variant"
	case StatsByMatchup:
		return "matchup"
	default:
		return "unknown"
	}
}

// ParseStatMode maps a settings value to a mode.
func ParseStatMode(s string) (StatMode, error) {
	switch s {
	case "variant":
		return StatsByVariant, nil
	case "matchup":
		return StatsByMatchup, nil
	}
	return 0, fmt.Errorf("unknown statistics mode %q", s)
}

// Report kinds.
const (
	ReportPeriodic     = "periodic"
	ReportMatchupFlush = "matchup_flush"
	ReportFinal        = "final"
	ReportSnapshot     = "snapshot" // built on request, never written by the tracker
)

// Tracker owns every statistics record of one environment. It is driven
// from the simulation goroutine only.
type Tracker struct {
	mode          StatMode
	keep          bool
	interval      int
	matchesPerSet int
	rotate        bool
	rotateRole    Role
	models        []string

	rng    *rand.Rand
	sink   Sink
	logger *slog.Logger
	runID  string

	records     map[StatKey]*Counters
	order       []StatKey
	matchModels map[StatKey]MatchModels

	// baseline holds counts restored from a snapshot. They are part of
	// Lookup and Snapshot but never of the reports written to the sink,
	// which carry this run's own counts only.
	baseline  map[StatKey]Counters
	baseOrder []StatKey

	blue, purple *Roster

	tick       int
	sets       int
	reports    int
	sinkErrors int
}

// TrackerOption customises a Tracker at construction.
type TrackerOption func(*Tracker)

// WithTrackerRand sets the source used for model rotation.
func WithTrackerRand(rng *rand.Rand) TrackerOption {
	return func(t *Tracker) { t.rng = rng }
}

// WithSink routes touch records and reports to s.
func WithSink(s Sink) TrackerOption {
	return func(t *Tracker) { t.sink = s }
}

// WithTrackerLogger sets the logger used for sink failures.
func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithRunID stamps every record with id.
func WithRunID(id string) TrackerOption {
	return func(t *Tracker) { t.runID = id }
}

// NewTracker builds a tracker from the statistics settings.
func NewTracker(cfg config.Statistics, opts ...TrackerOption) (*Tracker, error) {
	mode, err := ParseStatMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	role := RoleFullGame
	if cfg.RotateRole != "" {
		if role, err = ParseRole(cfg.RotateRole); err != nil {
			return nil, fmt.Errorf("rotate role: %w", err)
		}
	}
	t := &Tracker{
		mode:          mode,
		keep:          cfg.KeepStats,
		interval:      cfg.ReportInterval,
		matchesPerSet: cfg.MatchesPerSet,
		rotate:        cfg.RotateModels,
		rotateRole:    role,
		models:        append([]string(nil), cfg.Models...),
		rng:           rand.New(rand.NewSource(1)), // #nosec G404 -- model sampling, not security
		logger:        slog.Default(),
		records:       map[StatKey]*Counters{},
		matchModels:   map[StatKey]MatchModels{},
		baseline:      map[StatKey]Counters{},
	}
	for _, o := range opts {
		o(t)
	}
	if t.keep && t.mode == StatsByVariant {
		for _, m := range t.models {
			t.record(StatKey{Subject: m})
		}
	}
	return t, nil
}

func (t *Tracker) Mode() StatMode      { return t.mode }
func (t *Tracker) Enabled() bool       { return t.keep }
func (t *Tracker) RunID() string       { return t.runID }
func (t *Tracker) Sets() int           { return t.sets }
func (t *Tracker) ReportsWritten() int { return t.reports }
func (t *Tracker) SinkErrors() int     { return t.sinkErrors }

// BindRosters tells the tracker which rosters to re-draw models for when a
// matchup set is retired. A matchup set restored from a snapshot rebinds
// the models it was being played with.
func (t *Tracker) BindRosters(blue, purple *Roster) {
	t.blue, t.purple = blue, purple
	if t.mode != StatsByMatchup {
		return
	}
	bk, _ := matchupKeys()
	if m, ok := t.matchModels[bk]; ok {
		t.bindModel(blue, m.Model)
		t.bindModel(purple, m.OpponentModel)
	}
}

func (t *Tracker) bindModel(r *Roster, model string) {
	if r == nil || model == "" || model == noModel {
		return
	}
	for _, a := range r.Agents {
		a.SetModel(t.rotateRole, model)
	}
}

// MatchModels names the models a matchup record was played with.
type MatchModels struct {
	Model         string `msgpack:"model"`
	OpponentModel string `msgpack:"opponent_model"`
}

// rosterModel is the model a roster plays its rotation role with.
func (t *Tracker) rosterModel(r *Roster) string {
	a := r.First()
	if a == nil {
		return ""
	}
	if v := a.Variant(t.rotateRole); v != nil {
		return v.ModelName()
	}
	return a.CurrentModelName()
}

func (t *Tracker) roster(team string) *Roster {
	switch team {
	case TeamBlue.String():
		return t.blue
	case TeamPurple.String():
		return t.purple
	}
	return nil
}

// KeyFor returns the record key an agent's events are counted under.
func (t *Tracker) KeyFor(a *Agent) StatKey {
	if t.mode == StatsByMatchup {
		return StatKey{Subject: a.Team().String(), Opponent: a.Team().Opponent().String()}
	}
	return StatKey{Subject: a.CurrentModelName()}
}

func (t *Tracker) record(k StatKey) *Counters {
	c, ok := t.records[k]
	if !ok {
		c = &Counters{}
		t.records[k] = c
		t.order = append(t.order, k)
		if _, named := t.matchModels[k]; t.mode == StatsByMatchup && !named {
			t.matchModels[k] = MatchModels{
				Model:         t.rosterModel(t.roster(k.Subject)),
				OpponentModel: t.rosterModel(t.roster(k.Opponent)),
			}
		}
	}
	return c
}

// total is the live record plus anything restored under k.
func (t *Tracker) total(k StatKey) (Counters, bool) {
	c, ok := t.baseline[k]
	if live, found := t.records[k]; found {
		c.Merge(*live)
		ok = true
	}
	return c, ok
}

func (t *Tracker) row(k StatKey, c Counters) ReportRow {
	r := newReportRow(k, c)
	m := t.matchModels[k]
	r.Model, r.OpponentModel = m.Model, m.OpponentModel
	return r
}

func (t *Tracker) retire(k StatKey) {
	delete(t.matchModels, k)
	if _, ok := t.baseline[k]; ok {
		delete(t.baseline, k)
		t.baseOrder = removeKey(t.baseOrder, k)
	}
	if _, ok := t.records[k]; ok {
		delete(t.records, k)
		t.order = removeKey(t.order, k)
	}
}

func removeKey(keys []StatKey, k StatKey) []StatKey {
	for i, o := range keys {
		if o == k {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

// Lookup returns the counters under k, restored counts included.
func (t *Tracker) Lookup(k StatKey) (Counters, bool) {
	return t.total(k)
}

// Keys returns record keys in creation order, restored keys first.
func (t *Tracker) Keys() []StatKey {
	keys := append([]StatKey(nil), t.baseOrder...)
	for _, k := range t.order {
		if _, ok := t.baseline[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Record counts event for agents. Win, lose and tie count once per
// distinct key, so two members sharing a model play one game; the other
// events count once per agent. An unknown event panics even when
// statistics are off.
func (t *Tracker) Record(event StatEvent, agents ...*Agent) {
	if event < 0 || event >= statEventCount {
		panic(fmt.Sprintf("volley: unknown statistic event %d", int(event)))
	}
	if !t.keep {
		return
	}
	if event.gameResult() {
		seen := map[StatKey]bool{}
		for _, a := range agents {
			k := t.KeyFor(a)
			if seen[k] {
				continue
			}
			seen[k] = true
			t.record(k).Add(event)
		}
		if t.mode == StatsByVariant && t.rotate && len(agents) > 0 {
			t.RotateVariant(agents...)
		}
		return
	}
	for _, a := range agents {
		t.record(t.KeyFor(a)).Add(event)
		if event == StatTouch {
			t.writeTouch(a)
		}
	}
}

// RotateVariant binds one uniformly drawn model to every agent's rotation
// role.
func (t *Tracker) RotateVariant(agents ...*Agent) string {
	if len(t.models) == 0 {
		return ""
	}
	m := t.models[t.rng.Intn(len(t.models))]
	for _, a := range agents {
		a.SetModel(t.rotateRole, m)
	}
	return m
}

// GameOver closes the bookkeeping of one game once both sides' results are
// recorded. In matchup mode it flushes the set when either side has won
// MatchesPerSet games.
func (t *Tracker) GameOver() {
	if t.keep && t.mode == StatsByMatchup {
		t.maybeFlushMatchup()
	}
}

// matchupKeys are the two ordered team pairs of the current matchup.
func matchupKeys() (StatKey, StatKey) {
	return StatKey{Subject: TeamBlue.String(), Opponent: TeamPurple.String()},
		StatKey{Subject: TeamPurple.String(), Opponent: TeamBlue.String()}
}

// maybeFlushMatchup retires the matchup once either side has won a set.
// Wins restored from a snapshot count towards the set; the flushed rows
// hold only the games played in this run.
func (t *Tracker) maybeFlushMatchup() {
	if t.matchesPerSet <= 0 {
		return
	}
	bk, pk := matchupKeys()
	b, _ := t.total(bk)
	p, _ := t.total(pk)
	if b.Wins < t.matchesPerSet && p.Wins < t.matchesPerSet {
		return
	}
	rep := Report{RunID: t.runID, Kind: ReportMatchupFlush, Tick: t.tick, Mode: t.mode.String(), Set: t.sets + 1}
	for _, k := range []StatKey{bk, pk} {
		if c, ok := t.records[k]; ok {
			rep.Rows = append(rep.Rows, t.row(k, *c))
		}
	}
	t.writeReport(rep)
	t.retire(bk)
	t.retire(pk)
	t.sets++
	if t.blue != nil {
		t.RotateVariant(t.blue.Agents...)
	}
	if t.purple != nil {
		t.RotateVariant(t.purple.Agents...)
	}
	t.record(bk)
	t.record(pk)
}

// Tick advances the periodic report counter by one simulation step.
func (t *Tracker) Tick() {
	if !t.keep {
		return
	}
	t.tick++
	if t.interval > 0 && t.tick%t.interval == 0 {
		t.writeReport(t.Report(ReportPeriodic))
	}
}

// Report builds a report of every record counted in this run. Restored
// counts are left out; see Totals.
func (t *Tracker) Report(kind string) Report {
	rep := Report{RunID: t.runID, Kind: kind, Tick: t.tick, Mode: t.mode.String(), Set: t.sets + 1}
	for _, k := range t.order {
		rep.Rows = append(rep.Rows, t.row(k, *t.records[k]))
	}
	return rep
}

// Totals is Report with restored counts folded in.
func (t *Tracker) Totals(kind string) Report {
	rep := Report{RunID: t.runID, Kind: kind, Tick: t.tick, Mode: t.mode.String(), Set: t.sets + 1}
	for _, k := range t.Keys() {
		c, _ := t.total(k)
		rep.Rows = append(rep.Rows, t.row(k, c))
	}
	return rep
}

// Close writes a final report.
func (t *Tracker) Close() {
	if !t.keep {
		return
	}
	t.writeReport(t.Report(ReportFinal))
}

func (t *Tracker) writeTouch(a *Agent) {
	if t.sink == nil {
		return
	}
	rec := TouchRecord{
		RunID:        t.runID,
		Tick:         t.tick,
		Team:         a.Team().String(),
		Agent:        a.Label(),
		BehaviorName: a.CurrentModelName(),
		Location:     a.Body().Position.String(),
	}
	if err := t.sink.WriteTouch(rec); err != nil {
		t.sinkErrors++
		t.logger.Error("touch record dropped", "agent", rec.Agent, "error", err)
	}
}

func (t *Tracker) writeReport(rep Report) {
	t.reports++
	if t.sink == nil {
		return
	}
	if err := t.sink.WriteReport(rep); err != nil {
		t.sinkErrors++
		t.logger.Error("statistics report dropped", "kind", rep.Kind, "tick", rep.Tick, "error", err)
	}
}

// --- Snapshots ---

// SnapshotRecord is one record in a TrackerSnapshot.
type SnapshotRecord struct {
	Key      StatKey      `msgpack:"key"`
	Counters Counters     `msgpack:"counters"`
	Models   *MatchModels `msgpack:"models,omitempty"`
}

// TrackerSnapshot is the persisted form of a tracker's records.
type TrackerSnapshot struct {
	RunID   string           `msgpack:"run_id"`
	Mode    string           `msgpack:"mode"`
	Tick    int              `msgpack:"tick"`
	Sets    int              `msgpack:"sets"`
	Records []SnapshotRecord `msgpack:"records"`
}

// Snapshot copies every record, restored counts included, so the next run
// carries on from the totals.
func (t *Tracker) Snapshot() TrackerSnapshot {
	s := TrackerSnapshot{RunID: t.runID, Mode: t.mode.String(), Tick: t.tick, Sets: t.sets}
	for _, k := range t.Keys() {
		c, _ := t.total(k)
		rec := SnapshotRecord{Key: k, Counters: c}
		if m, ok := t.matchModels[k]; ok {
			rec.Models = &m
		}
		s.Records = append(s.Records, rec)
	}
	return s
}

// Restore loads a snapshot as the baseline this run counts on top of.
// Snapshots from the other statistics mode are rejected.
func (t *Tracker) Restore(s TrackerSnapshot) error {
	if s.Mode != t.mode.String() {
		return fmt.Errorf("snapshot mode %q does not match tracker mode %q", s.Mode, t.mode)
	}
	for _, r := range s.Records {
		c, ok := t.baseline[r.Key]
		if !ok {
			t.baseOrder = append(t.baseOrder, r.Key)
		}
		c.Merge(r.Counters)
		t.baseline[r.Key] = c
		if r.Models != nil {
			t.matchModels[r.Key] = *r.Models
		}
	}
	t.sets += s.Sets
	return nil
}
