package volley

// Learner receives reward and episode signals. Variants and managers
// implement it; a training bridge can wrap either.
type Learner interface {
	AddReward(r float64)
	EndEpisode()
	EpisodeInterrupted()
}

// Episode accumulates the return of the running episode and counts closed
// ones.
type Episode struct {
	Return      float64 // reward accumulated since the last end/interrupt
	LastReturn  float64 // return of the most recently closed episode
	Ended       int     // episodes closed with a terminal signal
	Interrupted int     // episodes cut off without a terminal signal
	Lifetime    float64 // all reward ever received
}

func (e *Episode) AddReward(r float64) {
	e.Return += r
	e.Lifetime += r
}

func (e *Episode) EndEpisode() {
	e.LastReturn = e.Return
	e.Return = 0
	e.Ended++
}

func (e *Episode) EpisodeInterrupted() {
	e.LastReturn = e.Return
	e.Return = 0
	e.Interrupted++
}

// Variant is one trainable behaviour mode of an agent, bound to a model and
// owning its own physical body. Variants are enabled and disabled, never
// recreated.
type Variant struct {
	Role  Role
	Name  string // scene object name, e.g. "B0/MoveToBall"
	Model string // bound model; empty means unbound
	Body  Body

	enabled bool
	Episode
}

// Enabled reports whether this variant is the active one.
func (v *Variant) Enabled() bool { return v.enabled }

// noModel is shown for a variant with no bound model.
const noModel = "None"

// ModelName returns the bound model or "None".
func (v *Variant) ModelName() string {
	if v.Model == "" {
		return noModel
	}
	return v.Model
}
