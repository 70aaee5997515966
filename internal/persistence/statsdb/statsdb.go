// Package statsdb keeps statistics reports and ball touches in SQLite so
// counts can be compared across runs. Writes go through a single writer
// goroutine and are dropped, not blocked on, when it falls behind.
package statsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Garsondee/Volley-Sense/internal/volley"
)

type Store struct {
	db *sql.DB

	// mu orders sends on ch against Close closing it.
	mu   sync.RWMutex
	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
	logger  *slog.Logger
}

type reqKind int

const (
	reqTouch reqKind = iota + 1
	reqReport
	reqRun
	reqFlush
)

type req struct {
	kind reqKind

	touch  volley.TouchRecord
	report volley.Report
	run    runRow
	done   chan struct{}
}

type runRow struct {
	RunID   string
	Mode    string
	Seed    int64
	Started string
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets where write failures are reported.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithBuffer sets how many pending writes are queued before new ones are
// dropped.
func WithBuffer(n int) Option { return func(s *Store) { s.ch = make(chan req, n) } }

func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, ch: make(chan req, 16384), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			tick INTEGER NOT NULL,
			set_no INTEGER NOT NULL,
			mode TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS report_rows (
			report_id INTEGER NOT NULL REFERENCES reports(id),
			subject TEXT NOT NULL,
			opponent TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			opponent_model TEXT NOT NULL DEFAULT '',
			games INTEGER NOT NULL,
			wins INTEGER NOT NULL,
			losses INTEGER NOT NULL,
			ties INTEGER NOT NULL,
			touches INTEGER NOT NULL,
			misses INTEGER NOT NULL,
			sends INTEGER NOT NULL,
			failed_sends INTEGER NOT NULL,
			oob_sends INTEGER NOT NULL,
			mistakes INTEGER NOT NULL,
			win_rate REAL,
			miss_rate REAL,
			send_rate REAL,
			mistake_rate REAL,
			touches_per_game REAL
		);`,
		`CREATE INDEX IF NOT EXISTS report_rows_key ON report_rows(subject, opponent);`,
		`CREATE TABLE IF NOT EXISTS touches (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			team TEXT NOT NULL,
			agent TEXT NOT NULL,
			behavior TEXT NOT NULL,
			location TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts writes discarded because the queue was full.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

func (s *Store) enqueue(r req) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// The JSONL logs remain the source of truth.
		s.dropped.Add(1)
	}
}

// RecordRun notes a run's mode and seed.
func (s *Store) RecordRun(runID, mode string, seed int64) {
	s.enqueue(req{kind: reqRun, run: runRow{
		RunID:   runID,
		Mode:    mode,
		Seed:    seed,
		Started: time.Now().UTC().Format(time.RFC3339),
	}})
}

func (s *Store) WriteTouch(r volley.TouchRecord) error {
	s.enqueue(req{kind: reqTouch, touch: r})
	return nil
}

func (s *Store) WriteReport(r volley.Report) error {
	s.enqueue(req{kind: reqReport, report: r})
	return nil
}

// Flush blocks until every write queued before it is committed.
func (s *Store) Flush() {
	if s == nil {
		return
	}
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return
	}
	// The loop keeps draining ch until Close, and Close cannot close it
	// while this send holds the read lock.
	s.ch <- req{kind: reqFlush, done: done}
	s.mu.RUnlock()
	<-done
}

func nullRate(r volley.Rate) sql.NullFloat64 {
	return sql.NullFloat64{Float64: r.Value, Valid: r.Defined}
}

func (s *Store) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,mode,seed,started_at) VALUES(?,?,?,?)`)
	insertTouch, _ := s.db.Prepare(`INSERT INTO touches(run_id,tick,team,agent,behavior,location) VALUES(?,?,?,?,?,?)`)
	insertReport, _ := s.db.Prepare(`INSERT INTO reports(run_id,kind,tick,set_no,mode) VALUES(?,?,?,?,?)`)
	insertRow, _ := s.db.Prepare(`INSERT INTO report_rows(report_id,subject,opponent,model,opponent_model,games,wins,losses,ties,touches,misses,sends,failed_sends,oob_sends,mistakes,win_rate,miss_rate,send_rate,mistake_rate,touches_per_game) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertTouch, insertReport, insertRow} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.logger.Error("statsdb begin failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.logger.Error("statsdb commit failed", "error", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		s.logger.Error("statsdb write failed", "error", err)
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			if _, err := tx.Stmt(insertRun).Exec(r.run.RunID, r.run.Mode, r.run.Seed, r.run.Started); err != nil {
				rollback(err)
				continue
			}
			opCount++

		case reqTouch:
			t := r.touch
			if _, err := tx.Stmt(insertTouch).Exec(t.RunID, t.Tick, t.Team, t.Agent, t.BehaviorName, t.Location); err != nil {
				rollback(err)
				continue
			}
			opCount++

		case reqReport:
			rep := r.report
			res, err := tx.Stmt(insertReport).Exec(rep.RunID, rep.Kind, rep.Tick, rep.Set, rep.Mode)
			if err != nil {
				rollback(err)
				continue
			}
			id, err := res.LastInsertId()
			if err != nil {
				rollback(err)
				continue
			}
			opCount++
			for _, row := range rep.Rows {
				c, rt := row.Counters, row.Rates
				if _, err := tx.Stmt(insertRow).Exec(
					id, row.Key.Subject, row.Key.Opponent, row.Model, row.OpponentModel,
					c.Games, c.Wins, c.Losses, c.Ties, c.Touches, c.Misses,
					c.Sends, c.FailedSends, c.OutOfBoundsSends, c.Mistakes,
					nullRate(rt.WinRate), nullRate(rt.MissRate), nullRate(rt.SendRate),
					nullRate(rt.MistakeRate), nullRate(rt.TouchesPerGame),
				); err != nil {
					rollback(err)
					break
				}
				opCount++
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

// Totals sums, per key and models, the rows of every final and matchup
// flush report across all runs. Each of those reports holds counts no other
// report repeats: a flush retires its set, and a run's final report leaves
// out whatever it restored from a snapshot.
func (s *Store) Totals(ctx context.Context) ([]volley.ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.subject, r.opponent, r.model, r.opponent_model,
			SUM(r.games), SUM(r.wins), SUM(r.losses), SUM(r.ties), SUM(r.touches),
			SUM(r.misses), SUM(r.sends), SUM(r.failed_sends), SUM(r.oob_sends), SUM(r.mistakes)
		FROM report_rows r JOIN reports p ON p.id = r.report_id
		WHERE p.kind IN (?, ?)
		GROUP BY r.subject, r.opponent, r.model, r.opponent_model
		ORDER BY r.subject, r.opponent, r.model, r.opponent_model`, volley.ReportFinal, volley.ReportMatchupFlush)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []volley.ReportRow
	for rows.Next() {
		var row volley.ReportRow
		k, c := &row.Key, &row.Counters
		if err := rows.Scan(&k.Subject, &k.Opponent, &row.Model, &row.OpponentModel,
			&c.Games, &c.Wins, &c.Losses, &c.Ties, &c.Touches,
			&c.Misses, &c.Sends, &c.FailedSends, &c.OutOfBoundsSends, &c.Mistakes); err != nil {
			return nil, err
		}
		row.Rates = c.Rates()
		out = append(out, row)
	}
	return out, rows.Err()
}

// Runs counts recorded runs.
func (s *Store) Runs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}
