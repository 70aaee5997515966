package volley

import (
	"encoding/json"
	"fmt"
)

// --- Statistic events ---

// StatEvent is something the tracker counts.
type StatEvent int

const (
	StatWin StatEvent = iota
	StatLose
	StatTie
	StatTouch
	StatMiss
	StatSend            // ball sent into the opposing half or onto its target
	StatFailedSend      // send-to-target landed outside the target radius
	StatOutOfBoundsSend // send-to-target went out of bounds
	StatMistake
	statEventCount
)

func (e StatEvent) String() string {
	switch e {
	case StatWin:
		return "win"
	case StatLose:
		return "lose"
	case StatTie:
		return "tie"
	case StatTouch:
		return "touch"
	case StatMiss:
		return "miss"
	case StatSend:
		return "send"
	case StatFailedSend:
		return "failed_send"
	case StatOutOfBoundsSend:
		return "out_of_bounds_send"
	case StatMistake:
		return "mistake"
	default:
		return fmt.Sprintf("stat(%d)", int(e))
	}
}

// gameResult reports whether the event closes a game for its subjects.
func (e StatEvent) gameResult() bool {
	return e == StatWin || e == StatLose || e == StatTie
}

// --- Counters ---

// StatKey addresses one counter record. In variant mode Subject is the model
// name and Opponent is empty; in matchup mode both are team names.
type StatKey struct {
	Subject  string `msgpack:"subject" json:"subject"`
	Opponent string `msgpack:"opponent" json:"opponent,omitempty"`
}

func (k StatKey) String() string {
	if k.Opponent == "" {
		return k.Subject
	}
	return k.Subject + " vs " + k.Opponent
}

// Counters only ever increase until the record is retired.
type Counters struct {
	Games            int `msgpack:"games" json:"gamesPlayed"`
	Wins             int `msgpack:"wins" json:"wins"`
	Losses           int `msgpack:"losses" json:"losses"`
	Ties             int `msgpack:"ties" json:"ties"`
	Touches          int `msgpack:"touches" json:"touches"`
	Misses           int `msgpack:"misses" json:"misses"`
	Sends            int `msgpack:"sends" json:"sendBalls"`
	FailedSends      int `msgpack:"failed_sends" json:"failedSends"`
	OutOfBoundsSends int `msgpack:"oob_sends" json:"outOfBoundsSends"`
	Mistakes         int `msgpack:"mistakes" json:"mistakes"`
}

// Add applies one event. Win, lose and tie also count a game.
func (c *Counters) Add(e StatEvent) {
	switch e {
	case StatWin:
		c.Wins++
		c.Games++
	case StatLose:
		c.Losses++
		c.Games++
	case StatTie:
		c.Ties++
		c.Games++
	case StatTouch:
		c.Touches++
	case StatMiss:
		c.Misses++
	case StatSend:
		c.Sends++
	case StatFailedSend:
		c.FailedSends++
	case StatOutOfBoundsSend:
		c.OutOfBoundsSends++
	case StatMistake:
		c.Mistakes++
	default:
		panic(fmt.Sprintf("volley: unknown statistic event %v", e))
	}
}

// Merge adds o into c.
func (c *Counters) Merge(o Counters) {
	c.Games += o.Games
	c.Wins += o.Wins
	c.Losses += o.Losses
	c.Ties += o.Ties
	c.Touches += o.Touches
	c.Misses += o.Misses
	c.Sends += o.Sends
	c.FailedSends += o.FailedSends
	c.OutOfBoundsSends += o.OutOfBoundsSends
	c.Mistakes += o.Mistakes
}

// --- Derived rates ---

// Rate is a ratio that may be undefined because its denominator is zero.
// It never holds NaN or Inf.
type Rate struct {
	Value   float64
	Defined bool
}

// ratio returns num/den*scale, undefined for a zero denominator.
func ratio(num, den int, scale float64) Rate {
	if den == 0 {
		return Rate{}
	}
	return Rate{Value: float64(num) / float64(den) * scale, Defined: true}
}

func (r Rate) String() string {
	if !r.Defined {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", r.Value)
}

// MarshalJSON writes null for an undefined rate.
func (r Rate) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r *Rate) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Rate{}
		return nil
	}
	if err := json.Unmarshal(b, &r.Value); err != nil {
		return err
	}
	r.Defined = true
	return nil
}

// Rates are the percentages and averages reported for one record.
type Rates struct {
	WinRate        Rate `json:"winRate"`        // wins / games, percent
	MissRate       Rate `json:"missRate"`       // misses / losses, percent
	SendRate       Rate `json:"sendRate"`       // sends / touches, percent
	MistakeRate    Rate `json:"mistakeRate"`    // mistakes / touches, percent
	TouchesPerGame Rate `json:"touchesPerGame"` // touches / games
}

// Rates derives the guarded rates. Calling it twice on unchanged counters
// returns equal values.
func (c Counters) Rates() Rates {
	return Rates{
		WinRate:        ratio(c.Wins, c.Games, 100),
		MissRate:       ratio(c.Misses, c.Losses, 100),
		SendRate:       ratio(c.Sends, c.Touches, 100),
		MistakeRate:    ratio(c.Mistakes, c.Touches, 100),
		TouchesPerGame: ratio(c.Touches, c.Games, 1),
	}
}
