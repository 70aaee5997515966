package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Garsondee/Volley-Sense/internal/config"
	"github.com/Garsondee/Volley-Sense/internal/observer"
	"github.com/Garsondee/Volley-Sense/internal/persistence/eventlog"
	"github.com/Garsondee/Volley-Sense/internal/persistence/snapshot"
	"github.com/Garsondee/Volley-Sense/internal/persistence/statsdb"
	"github.com/Garsondee/Volley-Sense/internal/volley"
)

type runStats struct {
	runIndex int
	seed     int64
	runID    string
	ticks    int

	firstTouchTick int
	firstGoalTick  int
	firstOOBTick   int

	tally        volley.Tally
	episodes     int
	touches      int
	doubleTouch  int
	doubleFaults int
	attacks      int
	sendRewards  int
	flashes      int

	report  volley.Report   // final report: this run's own counts
	flushes []volley.Report // matchup sets retired during the run
}

type options struct {
	runs       int
	ticks      int
	seedBase   int64
	seedStep   int64
	mode       string
	statMode   string
	configPath string
	logDir     string
	dbPath     string
	snapPath   string
	observe    string
	verbose    bool
}

func main() {
	var o options
	flag.IntVar(&o.runs, "runs", 5, "number of headless simulation runs")
	flag.IntVar(&o.ticks, "ticks", 6000, "ticks per run")
	flag.Int64Var(&o.seedBase, "seed-base", 42, "base RNG seed for run 1")
	flag.Int64Var(&o.seedStep, "seed-step", 1, "seed increment between runs")
	flag.StringVar(&o.mode, "mode", "", "training mode override (full_game, move_to_ball, move_to, send_ball_to, manager)")
	flag.StringVar(&o.statMode, "stats", "", "statistics mode override (variant, matchup)")
	flag.StringVar(&o.configPath, "config", "", "YAML settings file")
	flag.StringVar(&o.logDir, "log-dir", "", "write zstd JSONL touch and report logs here")
	flag.StringVar(&o.dbPath, "db", "", "also keep reports in this SQLite file")
	flag.StringVar(&o.snapPath, "snapshot", "", "carry statistics across runs through this snapshot file")
	flag.StringVar(&o.observe, "observe", "", "serve a live WebSocket feed on this loopback address, e.g. 127.0.0.1:8090")
	flag.BoolVar(&o.verbose, "v", false, "debug logging")
	flag.Parse()

	if err := run(o, os.Stdout); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options, w io.Writer) error {
	if o.runs <= 0 {
		return errors.New("-runs must be > 0")
	}
	if o.ticks <= 0 {
		return errors.New("-ticks must be > 0")
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	if o.mode != "" {
		cfg.TrainingMode = o.mode
	}
	if o.statMode != "" {
		cfg.Statistics.Mode = o.statMode
	}
	if o.logDir == "" {
		o.logDir = cfg.Statistics.LogDir
	}
	if o.dbPath == "" {
		o.dbPath = cfg.Statistics.DBPath
	}
	if o.snapPath == "" {
		o.snapPath = cfg.Statistics.SnapshotPath
	}

	var sinks []volley.Sink
	if o.logDir != "" {
		el := eventlog.NewSink(o.logDir, cfg.Statistics)
		defer el.Close()
		sinks = append(sinks, el)
	}
	var db *statsdb.Store
	if o.dbPath != "" {
		var err error
		if db, err = statsdb.Open(o.dbPath, statsdb.WithLogger(logger)); err != nil {
			return fmt.Errorf("open stats db: %w", err)
		}
		defer db.Close()
		sinks = append(sinks, db)
	}
	var obs *observer.Server
	if o.observe != "" {
		obs = observer.NewServer("headless", logger)
		srv := &http.Server{Addr: o.observe, Handler: obs.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("observer stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	fmt.Fprintf(w, "=== Headless Volley Report ===\n")
	fmt.Fprintf(w, "mode=%s stats=%s runs=%d ticks=%d seed_base=%d seed_step=%d\n\n",
		cfg.TrainingMode, cfg.Statistics.Mode, o.runs, o.ticks, o.seedBase, o.seedStep)

	var carried *volley.Report
	if o.snapPath != "" {
		snap, err := snapshot.Load(o.snapPath)
		switch {
		case err == nil:
			rep := snapshotReport(snap)
			carried = &rep
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	all := make([]runStats, 0, o.runs)
	for i := 0; i < o.runs; i++ {
		seed := o.seedBase + int64(i)*o.seedStep
		opts := []volley.SimOption{
			volley.WithSettings(cfg),
			volley.WithSeed(seed),
			volley.WithSimLogger(logger),
		}
		for _, s := range sinks {
			opts = append(opts, volley.WithStatsSink(s))
		}
		if o.snapPath != "" {
			snap, err := snapshot.Load(o.snapPath)
			switch {
			case err == nil:
				opts = append(opts, volley.WithRestoredStats(snap))
			case !errors.Is(err, os.ErrNotExist):
				return fmt.Errorf("load snapshot: %w", err)
			}
		}

		rs, tracker, err := runOne(i+1, seed, o.ticks, obs, db, opts...)
		if err != nil {
			return err
		}
		if o.snapPath != "" {
			if err := snapshot.Save(o.snapPath, tracker.Snapshot()); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}
		}
		all = append(all, rs)
		printRun(w, rs)
	}

	printAggregate(w, all, carried)
	if db != nil {
		db.Flush()
		printStore(w, db)
	}
	return nil
}

func runOne(runIndex int, seed int64, ticks int, obs *observer.Server, db *statsdb.Store, opts ...volley.SimOption) (runStats, *volley.Tracker, error) {
	mem := &volley.MemorySink{}
	s, err := volley.NewSim(append(opts, volley.WithStatsSink(mem))...)
	if err != nil {
		return runStats{}, nil, err
	}
	if obs != nil {
		obs.Attach(s.SimLog)
	}
	if db != nil {
		db.RecordRun(s.RunID, s.Mode().String(), seed)
	}
	s.RunTicks(ticks)
	s.Close()

	final, _ := mem.LastReport(volley.ReportFinal)
	var flushes []volley.Report
	for _, r := range mem.Reports {
		if r.Kind == volley.ReportMatchupFlush {
			flushes = append(flushes, r)
		}
	}
	sl := s.SimLog
	return runStats{
		runIndex:       runIndex,
		seed:           seed,
		runID:          s.RunID,
		ticks:          ticks,
		firstTouchTick: firstTick(sl.Entries(), "contact", "touch", ""),
		firstGoalTick:  firstTick(sl.Entries(), "resolve", "goal", ""),
		firstOOBTick:   firstTick(sl.Entries(), "resolve", "out_of_bounds", ""),
		tally:          s.Env.Tally(),
		episodes:       s.Env.Episodes(),
		touches:        sl.CountCategory("contact", "touch"),
		doubleTouch:    sl.CountCategory("contact", "double_touch"),
		doubleFaults:   sl.CountCategory("contact", "double_touch_fault"),
		attacks:        sl.CountCategory("resolve", "attack"),
		sendRewards:    sl.CountCategory("reward", "send_target"),
		flashes:        s.Env.GroundFX().Flashes(),
		report:         final,
		flushes:        flushes,
	}, s.Tracker, nil
}

// snapshotReport turns the counts carried in from an earlier batch into a
// report that merges with this batch's.
func snapshotReport(snap volley.TrackerSnapshot) volley.Report {
	rep := volley.Report{RunID: snap.RunID, Kind: "carried", Mode: snap.Mode}
	for _, r := range snap.Records {
		row := volley.ReportRow{Key: r.Key, Counters: r.Counters, Rates: r.Counters.Rates()}
		if r.Models != nil {
			row.Model, row.OpponentModel = r.Models.Model, r.Models.OpponentModel
		}
		rep.Rows = append(rep.Rows, row)
	}
	return rep
}

func firstTick(entries []volley.SimLogEntry, category, key, contains string) int {
	for _, e := range entries {
		if e.Category != category || e.Key != key {
			continue
		}
		if contains == "" || strings.Contains(e.Value, contains) {
			return e.Tick
		}
	}
	return -1
}

// dominance returns the team that won more rallies and its share of the
// decided ones; Neutral when neither leads.
func dominance(t volley.Tally) (volley.Team, float64) {
	decided := t.BlueWins + t.PurpleWins
	if decided == 0 {
		return volley.TeamNeutral, 0
	}
	leader := t.Leader()
	if leader == volley.TeamNeutral {
		return leader, 0.5
	}
	return leader, float64(t.Wins(leader)) / float64(decided)
}

// detectStall flags runs where play never resolves: the step budget cut
// every episode, or undecided rallies outnumber decided ones.
func detectStall(rs runStats) (bool, string) {
	t := rs.tally
	decided := t.BlueWins + t.PurpleWins + t.TasksDone
	if decided == 0 && t.Interrupted > 0 {
		return true, fmt.Sprintf("no_decided_rallies interrupted=%d", t.Interrupted)
	}
	if undecided := t.Ties + t.Faults + t.Interrupted; undecided > decided && decided > 0 {
		return true, fmt.Sprintf("undecided_majority undecided=%d decided=%d", undecided, decided)
	}
	return false, "ok"
}

func printRun(w io.Writer, rs runStats) {
	t := rs.tally
	fmt.Fprintf(w, "--- Run %d (seed=%d run_id=%s) ---\n", rs.runIndex, rs.seed, rs.runID)
	fmt.Fprintf(w, "phase_markers: first_touch=%d first_goal=%d first_out_of_bounds=%d\n",
		rs.firstTouchTick, rs.firstGoalTick, rs.firstOOBTick)
	fmt.Fprintf(w, "rallies: total=%d blue=%d purple=%d tie=%d fault=%d task_done=%d interrupted=%d episodes=%d\n",
		t.Rallies(), t.BlueWins, t.PurpleWins, t.Ties, t.Faults, t.TasksDone, t.Interrupted, rs.episodes)
	fmt.Fprintf(w, "contact_events: touch=%d double_touch=%d double_touch_fault=%d attack=%d send_scored=%d ground_flash=%d\n",
		rs.touches, rs.doubleTouch, rs.doubleFaults, rs.attacks, rs.sendRewards, rs.flashes)
	leader, share := dominance(t)
	stalled, reason := detectStall(rs)
	fmt.Fprintf(w, "dominance: leader=%s share=%.2f stalled=%v (%s)\n", leader, share, stalled, reason)
	fmt.Fprint(w, rs.report.Format())
	fmt.Fprintln(w)
}

func printAggregate(w io.Writer, all []runStats, carried *volley.Report) {
	var sum volley.Tally
	totalTouches := 0
	totalEpisodes := 0
	goalTicks := make([]int, 0, len(all))
	stalled := map[string]struct{}{}
	reports := make([]volley.Report, 0, len(all)+1)
	if carried != nil {
		reports = append(reports, *carried)
	}
	for _, rs := range all {
		sum.BlueWins += rs.tally.BlueWins
		sum.PurpleWins += rs.tally.PurpleWins
		sum.Ties += rs.tally.Ties
		sum.Faults += rs.tally.Faults
		sum.TasksDone += rs.tally.TasksDone
		sum.Interrupted += rs.tally.Interrupted
		totalTouches += rs.touches
		totalEpisodes += rs.episodes
		if rs.firstGoalTick >= 0 {
			goalTicks = append(goalTicks, rs.firstGoalTick)
		}
		if ok, _ := detectStall(rs); ok {
			stalled[fmt.Sprintf("run%d", rs.runIndex)] = struct{}{}
		}
		reports = append(reports, rs.report)
		reports = append(reports, rs.flushes...)
	}

	fmt.Fprintln(w, "=== Aggregate ===")
	fmt.Fprintf(w, "runs=%d\n", len(all))
	fmt.Fprintf(w, "avg_per_run: rallies=%.1f blue=%.1f purple=%.1f tie=%.1f fault=%.1f interrupted=%.1f touches=%.1f episodes=%.1f\n",
		avg(sum.Rallies(), len(all)), avg(sum.BlueWins, len(all)), avg(sum.PurpleWins, len(all)),
		avg(sum.Ties, len(all)), avg(sum.Faults, len(all)), avg(sum.Interrupted, len(all)),
		avg(totalTouches, len(all)), avg(totalEpisodes, len(all)))
	fmt.Fprintf(w, "phase_marker_avg_ticks: first_goal=%s\n", avgTickString(goalTicks))
	leader, share := dominance(sum)
	fmt.Fprintf(w, "dominance: leader=%s share=%.2f\n", leader, share)
	fmt.Fprintf(w, "stalled_runs=%d [%s]\n", len(stalled), joinSet(stalled))

	// Final reports leave out restored counts and retired sets, so the
	// carried snapshot and every flush are summed alongside them.
	fmt.Fprintln(w, "\n=== Aggregate Statistics ===")
	fmt.Fprint(w, volley.MergeReports("aggregate", reports...).Format())
}

func printStore(w io.Writer, db *statsdb.Store) {
	rows, err := db.Totals(context.Background())
	if err != nil {
		fmt.Fprintf(w, "stats_db: error=%v\n", err)
		return
	}
	n, _ := db.Runs(context.Background())
	fmt.Fprintln(w, "\n=== Stats DB Totals ===")
	fmt.Fprintf(w, "runs=%d dropped_writes=%d\n", n, db.Dropped())
	for _, r := range rows {
		fmt.Fprintf(w, "  %s\n", r.Line())
	}
}

func avg(sum int, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func avgTickString(vals []int) string {
	if len(vals) == 0 {
		return "n/a"
	}
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return fmt.Sprintf("%.1f", float64(sum)/float64(len(vals)))
}

func joinSet(s map[string]struct{}) string {
	if len(s) == 0 {
		return "none"
	}
	labels := make([]string, 0, len(s))
	for k := range s {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return strings.Join(labels, ",")
}
