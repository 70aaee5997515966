package volley

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Phase is the controller lifecycle state.
type Phase string

const (
	PhaseActive    Phase = "active"    // episode running, reset timer counting
	PhaseResolving Phase = "resolving" // a trigger or contact is being attributed
	PhaseResetting Phase = "resetting" // scene being re-randomised
)

const (
	evResolve   = "resolve"
	evEnd       = "end"
	evSettle    = "settle"
	evInterrupt = "interrupt"
	evResume    = "resume"
)

// lifecycle wraps the phase machine. Transitions are driven one at a time
// from Env methods, never from inside callbacks.
type lifecycle struct {
	m       *fsm.FSM
	entered map[Phase]int
}

func newLifecycle() *lifecycle {
	lc := &lifecycle{entered: map[Phase]int{}}
	lc.m = fsm.NewFSM(
		string(PhaseActive),
		fsm.Events{
			{Name: evResolve, Src: []string{string(PhaseActive)}, Dst: string(PhaseResolving)},
			{Name: evEnd, Src: []string{string(PhaseResolving)}, Dst: string(PhaseResetting)},
			{Name: evSettle, Src: []string{string(PhaseResolving)}, Dst: string(PhaseActive)},
			{Name: evInterrupt, Src: []string{string(PhaseActive)}, Dst: string(PhaseResetting)},
			{Name: evResume, Src: []string{string(PhaseResetting)}, Dst: string(PhaseActive)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				lc.entered[Phase(e.Dst)]++
			},
		},
	)
	return lc
}

func (lc *lifecycle) current() Phase { return Phase(lc.m.Current()) }

// fire panics on an illegal transition: the caller broke the lifecycle
// contract and the bookkeeping that follows would be wrong.
func (lc *lifecycle) fire(event string) {
	if err := lc.m.Event(context.Background(), event); err != nil {
		panic(fmt.Sprintf("volley: %s from %s: %v", event, lc.current(), err))
	}
}

// is reports whether the machine is in p.
func (lc *lifecycle) is(p Phase) bool { return lc.m.Is(string(p)) }
