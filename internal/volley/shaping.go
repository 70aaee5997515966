package volley

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ShapingEnv is the scope a send-to-target shaping expression sees.
type ShapingEnv struct {
	Distance float64 `expr:"distance"` // ball rest point to assigned target
	Radius   float64 `expr:"radius"`   // full-reward radius
	Apex     float64 `expr:"apex"`     // highest ball point since the last touch
}

// Shaper scores where a sent ball came down relative to its target.
type Shaper struct {
	src     string
	radius  float64
	program *vm.Program
}

// NewShaper compiles src once; evaluation is then allocation-light.
func NewShaper(src string, radius float64) (*Shaper, error) {
	prog, err := expr.Compile(src, expr.Env(ShapingEnv{}), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("compile shaping %q: %w", src, err)
	}
	return &Shaper{src: src, radius: radius, program: prog}, nil
}

// Score evaluates the expression. A runtime error scores zero; the error is
// returned so the caller can log it.
func (s *Shaper) Score(distance, apex float64) (float64, error) {
	out, err := vm.Run(s.program, ShapingEnv{Distance: distance, Radius: s.radius, Apex: apex})
	if err != nil {
		return 0, fmt.Errorf("shaping %q: %w", s.src, err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("shaping %q: result %T is not a number", s.src, out)
	}
	return v, nil
}

func (s *Shaper) Source() string { return s.src }
