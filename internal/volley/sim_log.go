package volley

import (
	"fmt"
	"strings"
)

// SimLogEntry is one recorded engine event.
type SimLogEntry struct {
	Tick     int     `json:"tick"`
	Agent    string  `json:"agent"`    // label e.g. "B0", "P1", or "--" for global events
	Team     string  `json:"team"`     // "Blue", "Purple" or "--"
	Category string  `json:"category"` // contact, resolve, reward, episode, stats, manager, switch
	Key      string  `json:"key"`      // specific event name within the category
	Value    string  `json:"value"`    // human-readable detail
	NumVal   float64 `json:"num"`      // optional numeric value for threshold checks
}

// String formats the entry as a fixed-width log line.
//
//	[T=042] B0   contact   touch            (1.20, 0.50, 3.10)
func (e SimLogEntry) String() string {
	return fmt.Sprintf("[T=%03d] %-4s %-9s %-16s %s",
		e.Tick, e.Agent, e.Category, e.Key, e.Value)
}

// SimLog collects structured engine events. It is machine-readable; the
// viewer's RallyLog is the on-screen ring buffer.
type SimLog struct {
	entries []SimLogEntry
	verbose bool
	limit   int
	dropped int
	subs    []func(SimLogEntry)
}

// NewSimLog creates a SimLog. If verbose is true, per-tick entries are also
// recorded.
func NewSimLog(verbose bool) *SimLog {
	return &SimLog{verbose: verbose}
}

// SetLimit keeps at most n entries, dropping the oldest. Zero means no
// limit. Subscribers still see every entry.
func (sl *SimLog) SetLimit(n int) { sl.limit = n }

// Subscribe calls fn for every entry added from now on, on the adding
// goroutine.
func (sl *SimLog) Subscribe(fn func(SimLogEntry)) {
	sl.subs = append(sl.subs, fn)
}

// Add records a new entry.
func (sl *SimLog) Add(tick int, agent, team, category, key, value string, numVal float64) {
	e := SimLogEntry{
		Tick:     tick,
		Agent:    agent,
		Team:     team,
		Category: category,
		Key:      key,
		Value:    value,
		NumVal:   numVal,
	}
	sl.entries = append(sl.entries, e)
	if sl.limit > 0 && len(sl.entries) > sl.limit {
		over := len(sl.entries) - sl.limit
		sl.entries = append(sl.entries[:0], sl.entries[over:]...)
		sl.dropped += over
	}
	for _, fn := range sl.subs {
		fn(e)
	}
}

// AddVerbose records an entry only when verbose mode is on.
func (sl *SimLog) AddVerbose(tick int, agent, team, category, key, value string, numVal float64) {
	if !sl.verbose {
		return
	}
	sl.Add(tick, agent, team, category, key, value, numVal)
}

// Entries returns all retained entries.
func (sl *SimLog) Entries() []SimLogEntry {
	return sl.entries
}

// Dropped is how many entries the limit has discarded.
func (sl *SimLog) Dropped() int { return sl.dropped }

// Filter returns entries matching the given category and/or key.
// Pass empty string to match any value for that field.
func (sl *SimLog) Filter(category, key string) []SimLogEntry {
	var out []SimLogEntry
	for _, e := range sl.entries {
		if category != "" && e.Category != category {
			continue
		}
		if key != "" && e.Key != key {
			continue
		}
		out = append(out, e)
	}
	return out
}

// FilterAgent returns entries for a specific agent label.
func (sl *SimLog) FilterAgent(label string) []SimLogEntry {
	var out []SimLogEntry
	for _, e := range sl.entries {
		if e.Agent == label {
			out = append(out, e)
		}
	}
	return out
}

// CountCategory returns how many entries match the given category and key.
func (sl *SimLog) CountCategory(category, key string) int {
	return len(sl.Filter(category, key))
}

// LastOf returns the most recent entry matching category+key, or false if none.
func (sl *SimLog) LastOf(category, key string) (SimLogEntry, bool) {
	entries := sl.Filter(category, key)
	if len(entries) == 0 {
		return SimLogEntry{}, false
	}
	return entries[len(entries)-1], true
}

// HasEntry returns true if at least one entry matches category, key, and value substring.
func (sl *SimLog) HasEntry(category, key, valueSubstr string) bool {
	for _, e := range sl.entries {
		if category != "" && e.Category != category {
			continue
		}
		if key != "" && e.Key != key {
			continue
		}
		if valueSubstr != "" && !strings.Contains(e.Value, valueSubstr) {
			continue
		}
		return true
	}
	return false
}

// Format returns the full log as a single string for t.Log output.
func (sl *SimLog) Format() string {
	var sb strings.Builder
	for _, e := range sl.entries {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
