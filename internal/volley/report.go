package volley

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TouchRecord is one line of the ball touch log.
type TouchRecord struct {
	RunID        string `json:"runId,omitempty"`
	Tick         int    `json:"tick"`
	Team         string `json:"team"`
	Agent        string `json:"agent"`
	BehaviorName string `json:"behaviorName"`
	Location     string `json:"location"`
}

// Line formats the record the way the touch log has always been written.
func (r TouchRecord) Line() string {
	return fmt.Sprintf("{'behaviorName': '%s', 'location': '%s'}", r.BehaviorName, r.Location)
}

// ReportRow is one statistics record in a report. Model and OpponentModel
// name the models a matchup record was played with.
type ReportRow struct {
	Key           StatKey  `json:"key"`
	Model         string   `json:"model,omitempty"`
	OpponentModel string   `json:"opponentModel,omitempty"`
	Counters      Counters `json:"counters"`
	Rates         Rates    `json:"rates"`
}

func newReportRow(k StatKey, c Counters) ReportRow {
	return ReportRow{Key: k, Counters: c, Rates: c.Rates()}
}

// Line formats the row the way the statistics log has always been written,
// with "n/a" in place of undefined rates.
func (r ReportRow) Line() string {
	models := ""
	if r.Model != "" || r.OpponentModel != "" {
		models = fmt.Sprintf("'model': '%s', 'opponentModel': '%s', ", r.Model, r.OpponentModel)
	}
	return fmt.Sprintf("{'%s': {%s'gamesPlayed': %d, 'winRate': %s, 'touchesPerGame': %s, 'missRate': %s, 'sendRate': %s, 'mistakeRate': %s}}",
		r.Key, models, r.Counters.Games, r.Rates.WinRate, r.Rates.TouchesPerGame,
		r.Rates.MissRate, r.Rates.SendRate, r.Rates.MistakeRate)
}

// label is the key plus, for matchup rows, the models that played.
func (r ReportRow) label() string {
	if r.Model == "" && r.OpponentModel == "" {
		return r.Key.String()
	}
	return fmt.Sprintf("%s (%s vs %s)", r.Key, r.Model, r.OpponentModel)
}

// Report is one periodic, flush or final statistics dump.
type Report struct {
	RunID string      `json:"runId,omitempty"`
	Kind  string      `json:"kind"`
	Tick  int         `json:"tick"`
	Mode  string      `json:"mode"`
	Set   int         `json:"set"`
	Rows  []ReportRow `json:"rows"`
}

// Row returns the row for k.
func (r Report) Row(k StatKey) (ReportRow, bool) {
	for _, row := range r.Rows {
		if row.Key == k {
			return row, true
		}
	}
	return ReportRow{}, false
}

// Format returns a human-readable multi-line summary.
func (r Report) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Statistics (%s, T=%d, mode=%s, set=%d) ===\n", r.Kind, r.Tick, r.Mode, r.Set)
	if len(r.Rows) == 0 {
		sb.WriteString("  no records\n")
		return sb.String()
	}
	for _, row := range r.Rows {
		c := row.Counters
		fmt.Fprintf(&sb, "  %-20s games=%d  W/L/T=%d/%d/%d  touches=%d  misses=%d  sends=%d/%d/%d  mistakes=%d\n",
			row.label(), c.Games, c.Wins, c.Losses, c.Ties, c.Touches, c.Misses,
			c.Sends, c.FailedSends, c.OutOfBoundsSends, c.Mistakes)
		fmt.Fprintf(&sb, "  %-20s win=%s%%  touches/game=%s  miss=%s%%  send=%s%%  mistake/touch=%s%%\n",
			"", row.Rates.WinRate, row.Rates.TouchesPerGame, row.Rates.MissRate,
			row.Rates.SendRate, row.Rates.MistakeRate)
	}
	return sb.String()
}

// MergeReports sums rows with equal keys and models across reports, for
// aggregating several headless runs or matchup sets. Rows come back
// sorted by key, then models.
func MergeReports(kind string, reports ...Report) Report {
	type mergeKey struct {
		key                  StatKey
		model, opponentModel string
	}
	sum := map[mergeKey]*Counters{}
	out := Report{Kind: kind}
	for _, r := range reports {
		if out.Mode == "" {
			out.Mode = r.Mode
		}
		out.Tick += r.Tick
		for _, row := range r.Rows {
			mk := mergeKey{row.Key, row.Model, row.OpponentModel}
			c, ok := sum[mk]
			if !ok {
				c = &Counters{}
				sum[mk] = c
			}
			c.Merge(row.Counters)
		}
	}
	keys := make([]mergeKey, 0, len(sum))
	for k := range sum {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		switch {
		case a.key.Subject != b.key.Subject:
			return a.key.Subject < b.key.Subject
		case a.key.Opponent != b.key.Opponent:
			return a.key.Opponent < b.key.Opponent
		case a.model != b.model:
			return a.model < b.model
		}
		return a.opponentModel < b.opponentModel
	})
	for _, k := range keys {
		row := newReportRow(k.key, *sum[k])
		row.Model, row.OpponentModel = k.model, k.opponentModel
		out.Rows = append(out.Rows, row)
	}
	return out
}

// --- Sinks ---

// Sink receives touch records and reports. Implementations may do I/O; the
// tracker logs their errors and carries on.
type Sink interface {
	WriteTouch(TouchRecord) error
	WriteReport(Report) error
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) WriteTouch(r TouchRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteTouch(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) WriteReport(r Report) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteReport(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps everything it is given. Used by the viewer and tests.
type MemorySink struct {
	Touches []TouchRecord
	Reports []Report
}

func (m *MemorySink) WriteTouch(r TouchRecord) error {
	m.Touches = append(m.Touches, r)
	return nil
}

func (m *MemorySink) WriteReport(r Report) error {
	m.Reports = append(m.Reports, r)
	return nil
}

// LastReport returns the most recent report of kind, if any.
func (m *MemorySink) LastReport(kind string) (Report, bool) {
	for i := len(m.Reports) - 1; i >= 0; i-- {
		if m.Reports[i].Kind == kind {
			return m.Reports[i], true
		}
	}
	return Report{}, false
}
