package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Garsondee/Volley-Sense/internal/persistence/snapshot"
	"github.com/Garsondee/Volley-Sense/internal/persistence/statsdb"
	"github.com/Garsondee/Volley-Sense/internal/volley"
)

func TestDominance(t *testing.T) {
	leader, share := dominance(volley.Tally{BlueWins: 3, PurpleWins: 1, Ties: 5})
	if leader != volley.TeamBlue || share != 0.75 {
		t.Fatalf("expected Blue at 0.75, got %s at %.2f", leader, share)
	}
	leader, share = dominance(volley.Tally{BlueWins: 2, PurpleWins: 2})
	if leader != volley.TeamNeutral || share != 0.5 {
		t.Fatalf("expected a level split, got %s at %.2f", leader, share)
	}
	if leader, _ := dominance(volley.Tally{Ties: 4}); leader != volley.TeamNeutral {
		t.Fatalf("expected Neutral without decided rallies, got %s", leader)
	}
}

func TestDetectStall_TrueWhenEveryEpisodeInterrupted(t *testing.T) {
	stalled, reason := detectStall(runStats{tally: volley.Tally{Interrupted: 3}})
	if !stalled {
		t.Fatalf("expected stalled=true, got false (reason=%s)", reason)
	}
	if !strings.Contains(reason, "no_decided_rallies") {
		t.Fatalf("expected reason to mention no_decided_rallies, got: %s", reason)
	}
}

func TestDetectStall_TrueWhenUndecidedDominate(t *testing.T) {
	stalled, reason := detectStall(runStats{tally: volley.Tally{BlueWins: 1, Ties: 2, Faults: 1}})
	if !stalled || !strings.Contains(reason, "undecided_majority") {
		t.Fatalf("expected undecided_majority, got %v (%s)", stalled, reason)
	}
}

func TestDetectStall_FalseForDecisiveRun(t *testing.T) {
	stalled, reason := detectStall(runStats{tally: volley.Tally{BlueWins: 4, PurpleWins: 3, Ties: 1}})
	if stalled {
		t.Fatalf("expected stalled=false for a decisive run (reason=%s)", reason)
	}
}

func TestRun_RejectsBadFlags(t *testing.T) {
	var out bytes.Buffer
	if err := run(options{runs: 0, ticks: 10}, &out); err == nil {
		t.Fatalf("expected an error for -runs 0")
	}
	if err := run(options{runs: 1, ticks: 10, mode: "bogus"}, &out); err == nil {
		t.Fatalf("expected an error for an unknown mode")
	}
}

func TestRun_PrintsRunsAndAggregate(t *testing.T) {
	var out bytes.Buffer
	if err := run(options{runs: 2, ticks: 1500, seedBase: 42, seedStep: 1}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"=== Headless Volley Report ===",
		"--- Run 1 (seed=42",
		"--- Run 2 (seed=43",
		"=== Aggregate ===",
		"runs=2",
		"=== Statistics (aggregate",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestRun_PersistsEverywhere(t *testing.T) {
	dir := t.TempDir()
	o := options{
		runs:     2,
		ticks:    1500,
		seedBase: 7,
		seedStep: 1,
		logDir:   filepath.Join(dir, "logs"),
		dbPath:   filepath.Join(dir, "stats.sqlite"),
		snapPath: filepath.Join(dir, "stats.snap"),
	}
	var out bytes.Buffer
	if err := run(o, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "=== Stats DB Totals ===") || !strings.Contains(out.String(), "runs=2 ") {
		t.Fatalf("expected db totals for 2 runs:\n%s", out.String())
	}

	logs, _ := filepath.Glob(filepath.Join(o.logDir, "statistics-*.jsonl.zst"))
	if len(logs) == 0 {
		t.Fatalf("expected a statistics log in %s", o.logDir)
	}

	h, err := snapshot.ReadHeader(o.snapPath)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Mode != "variant" || h.Records == 0 {
		t.Fatalf("expected a variant snapshot with records, got %+v", h)
	}
}

func dbTotals(t *testing.T, path string) map[volley.StatKey]volley.Counters {
	t.Helper()
	db, err := statsdb.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()
	rows, err := db.Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	out := map[volley.StatKey]volley.Counters{}
	for _, r := range rows {
		c := out[r.Key]
		c.Merge(r.Counters)
		out[r.Key] = c
	}
	return out
}

func TestRun_SnapshotDoesNotRecountEarlierRuns(t *testing.T) {
	for _, mode := range []string{"variant", "matchup"} {
		t.Run(mode, func(t *testing.T) {
			dir := t.TempDir()
			var out bytes.Buffer

			plain := options{runs: 2, ticks: 3000, seedBase: 7, seedStep: 1, statMode: mode,
				dbPath: filepath.Join(dir, "plain.sqlite")}
			if err := run(plain, &out); err != nil {
				t.Fatalf("run: %v", err)
			}

			carried := options{runs: 1, ticks: 3000, seedStep: 1, statMode: mode,
				dbPath:   filepath.Join(dir, "carried.sqlite"),
				snapPath: filepath.Join(dir, "carried.snap")}
			for _, seed := range []int64{7, 8} {
				carried.seedBase = seed
				if err := run(carried, &out); err != nil {
					t.Fatalf("run seed %d: %v", seed, err)
				}
			}

			want, got := dbTotals(t, plain.dbPath), dbTotals(t, carried.dbPath)
			if len(want) == 0 {
				t.Fatalf("expected totals in %s", plain.dbPath)
			}
			for k, c := range want {
				if got[k] != c {
					t.Fatalf("%s: expected %+v with a snapshot, got %+v", k, c, got[k])
				}
			}
		})
	}
}
