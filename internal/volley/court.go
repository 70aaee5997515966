package volley

import (
	"math"

	"github.com/Garsondee/Volley-Sense/internal/config"
)

// groundY is the height of an agent's centre when standing.
const groundY = 0.5

// contactCooldownTicks keeps one pass through the ball from counting as
// several contacts.
const contactCooldownTicks = 12

// CourtEvent is one abstract physics event: either a contact or a region
// trigger.
type CourtEvent struct {
	Agent   *Agent
	Team    Team
	Trigger *Trigger
}

// IsContact reports whether the event is an agent touching the ball.
func (ev CourtEvent) IsContact() bool { return ev.Agent != nil }

// Court is a deliberately small kinematics model: point ball with gravity,
// agents that run and jump inside their own half, a net that blocks low
// balls. It exists to drive the controller headless and in the viewer, and
// reports only the events a real physics layer would.
type Court struct {
	cfg     config.Settings
	pilot   *Pilot
	side    Team // half the ball is over, Neutral before the first crossing
	settled bool // ball came to rest; no more triggers until Reset
	cool    map[*Agent]int
}

func NewCourt(cfg config.Settings, pilot *Pilot) *Court {
	return &Court{cfg: cfg, pilot: pilot, side: TeamNeutral, cool: map[*Agent]int{}}
}

// Reset forgets per-rally state. Register it as an after-reset hook.
func (c *Court) Reset(ball *Body) {
	c.settled = false
	c.side = c.halfOf(ball.Position.Z)
	for a := range c.cool {
		delete(c.cool, a)
	}
}

// Settled reports whether the ball is resting without having reset.
func (c *Court) Settled() bool { return c.settled }

func (c *Court) halfOf(z float64) Team {
	switch {
	case z > 0:
		return TeamBlue
	case z < 0:
		return TeamPurple
	default:
		return TeamNeutral
	}
}

// Step integrates one fixed step and returns the events it produced, in
// the order they happened.
func (c *Court) Step(agents []*Agent, ball *Body) []CourtEvent {
	dt := c.cfg.Physics.FixedDeltaSeconds
	var events []CourtEvent

	for _, a := range agents {
		if c.pilot != nil {
			c.pilot.Steer(a, ball)
		}
		c.moveAgent(a, dt)
		if c.cool[a] > 0 {
			c.cool[a]--
		}
	}

	if c.settled {
		return nil
	}

	prevZ := ball.Position.Z
	ball.Velocity.Y -= c.cfg.Physics.BallGravity * dt
	ball.Position = ball.Position.Add(ball.Velocity.Scale(dt))

	// Net: a ball crossing below the tape bounces back.
	if crossed(prevZ, ball.Position.Z) && ball.Position.Y < c.cfg.Court.NetHeight {
		ball.Position.Z = prevZ
		ball.Velocity.Z = -ball.Velocity.Z * 0.5
	}

	reach := c.cfg.Court.AgentRadius + c.cfg.Court.BallRadius + 0.4
	for _, a := range agents {
		if c.cool[a] > 0 {
			continue
		}
		if a.Body().Position.Dist(ball.Position) > reach {
			continue
		}
		c.cool[a] = contactCooldownTicks
		if c.pilot != nil {
			ball.Velocity = c.pilot.Hit(a, ball)
		}
		events = append(events, CourtEvent{Agent: a, Team: a.Team()})
	}

	if half := c.halfOf(ball.Position.Z); half != TeamNeutral && half != c.side {
		if c.side != TeamNeutral {
			tr := HitIntoHalfOf(half)
			events = append(events, CourtEvent{Trigger: &tr})
		}
		c.side = half
	}

	if ball.Position.Y <= c.cfg.Court.BallRadius {
		ball.Position.Y = c.cfg.Court.BallRadius
		var tr Trigger
		if c.inBounds(ball.Position) {
			// The ball landed on a half: the other team scores.
			tr = HitGoal(c.halfOf(ball.Position.Z).Opponent())
			if tr.Team == TeamNeutral {
				tr = OutOfBounds()
			}
		} else {
			tr = OutOfBounds()
		}
		ball.Stop()
		c.settled = true
		events = append(events, CourtEvent{Trigger: &tr})
	} else if c.farOut(ball.Position) {
		tr := OutOfBounds()
		ball.Stop()
		c.settled = true
		events = append(events, CourtEvent{Trigger: &tr})
	}
	return events
}

func crossed(a, b float64) bool { return (a > 0 && b <= 0) || (a < 0 && b >= 0) }

func (c *Court) inBounds(p Vec3) bool {
	return math.Abs(p.X) <= c.cfg.Court.HalfWidth && math.Abs(p.Z) <= c.cfg.Court.HalfLength
}

// farOut catches balls that will never come down on the court.
func (c *Court) farOut(p Vec3) bool {
	return math.Abs(p.X) > 3*c.cfg.Court.HalfWidth || math.Abs(p.Z) > 3*c.cfg.Court.HalfLength
}

// moveAgent integrates one agent and keeps it on its own half.
func (c *Court) moveAgent(a *Agent, dt float64) {
	b := a.Body()
	if b.Position.Y > groundY || b.Velocity.Y > 0 {
		b.Velocity.Y -= c.cfg.Physics.FallingAcceleration * dt
	}
	b.Position = b.Position.Add(b.Velocity.Scale(dt))
	if b.Position.Y <= groundY {
		b.Position.Y = groundY
		b.Velocity.Y = 0
	}

	hw, hl := c.cfg.Court.HalfWidth+1, c.cfg.Court.HalfLength+1
	b.Position.X = clamp(b.Position.X, -hw, hw)
	r := c.cfg.Court.AgentRadius
	switch a.Team() {
	case TeamBlue:
		b.Position.Z = clamp(b.Position.Z, r, hl)
	case TeamPurple:
		b.Position.Z = clamp(b.Position.Z, -hl, -r)
	}
}
