package volley

import (
	"math"
	"math/rand"

	"github.com/Garsondee/Volley-Sense/internal/config"
)

// Pilot is the scripted stand-in for a trained policy: it steers an
// agent's active body according to its role and decides how a touch sends
// the ball.
type Pilot struct {
	cfg config.Settings
	rng *rand.Rand

	// FlightTime is the planned airtime of a hit, in seconds.
	FlightTime float64
	// Spread is the random aim error of a hit, in court units.
	Spread float64
	// Skill is the chance a touch is controlled. The rest are shanked
	// somewhere around the whole court.
	Skill float64
}

func NewPilot(cfg config.Settings, rng *rand.Rand) *Pilot {
	return &Pilot{cfg: cfg, rng: rng, FlightTime: 1.4, Spread: 1.5, Skill: 0.8}
}

// anchor is the spawn point of team.
func (p *Pilot) anchor(team Team) Vec3 {
	return Vec3{0, 0, -team.Sign() * p.cfg.Court.SpawnAnchorZ}
}

// LandingPoint predicts where the ball comes down, ignoring the net.
func (p *Pilot) LandingPoint(ball *Body) Vec3 {
	g := p.cfg.Physics.BallGravity
	h := ball.Position.Y - p.cfg.Court.BallRadius
	if g <= 0 || h <= 0 {
		return ball.Position.Flat()
	}
	vy := ball.Velocity.Y
	t := (vy + math.Sqrt(vy*vy+2*g*h)) / g
	return Vec3{ball.Position.X + ball.Velocity.X*t, 0, ball.Position.Z + ball.Velocity.Z*t}
}

// Steer sets the horizontal velocity of a's active body and starts a jump
// when the ball is close overhead.
func (p *Pilot) Steer(a *Agent, ball *Body) {
	b := a.Body()
	var goal Vec3
	chase := false
	switch a.Role() {
	case RoleIdle:
		b.Velocity.X, b.Velocity.Z = 0, 0
		return
	case RoleMoveToTarget:
		if !a.ActiveTarget {
			b.Velocity.X, b.Velocity.Z = 0, 0
			return
		}
		goal = a.Target.Flat()
	default:
		land := p.LandingPoint(ball)
		if a.Team().OwnsZ(land.Z) || a.Team().OwnsZ(ball.Position.Z) {
			goal, chase = land, true
		} else {
			goal = p.anchor(a.Team())
		}
	}

	to := goal.Sub(b.Position.Flat())
	speed := p.cfg.Physics.RunSpeed
	if d := to.Len(); d < 0.1 {
		b.Velocity.X, b.Velocity.Z = 0, 0
	} else {
		v := to.Norm().Scale(math.Min(speed, d/p.cfg.Physics.FixedDeltaSeconds))
		b.Velocity.X, b.Velocity.Z = v.X, v.Z
	}

	if chase && p.onGround(b) {
		flat := ball.Position.Flat().Dist(b.Position.Flat())
		above := ball.Position.Y - b.Position.Y
		if flat < 1.0 && above > 0.5 && above < p.cfg.Physics.JumpHeight+1 && ball.Velocity.Y < 0 {
			b.Velocity.Y = p.cfg.Physics.JumpVelocity
		}
	}
}

func (p *Pilot) onGround(b *Body) bool {
	return b.Position.Y <= groundY+1e-6
}

// Hit returns the ball velocity after a touches it. A send-to-target agent
// with a target aims at it; everyone else aims somewhere in the opposing
// half. Uncontrolled touches go anywhere.
func (p *Pilot) Hit(a *Agent, ball *Body) Vec3 {
	var aim Vec3
	if p.rng.Float64() >= p.Skill {
		c := p.cfg.Court
		aim = Vec3{
			X: (p.rng.Float64()*2 - 1) * c.HalfWidth * 1.5,
			Z: (p.rng.Float64()*2 - 1) * c.HalfLength * 1.5,
		}
		return p.ballistic(ball.Position, aim)
	}
	if a.RoleIs(RoleSendToTarget) && a.ActiveTarget {
		aim = a.Target.Flat()
	} else {
		opp := a.Team().Opponent()
		aim = p.anchor(opp)
		aim.X += (p.rng.Float64()*2 - 1) * p.cfg.Court.HalfWidth * 0.6
	}
	aim.X += (p.rng.Float64()*2 - 1) * p.Spread
	aim.Z += (p.rng.Float64()*2 - 1) * p.Spread
	return p.ballistic(ball.Position, aim)
}

// ballistic solves for the launch velocity that lands at aim after
// FlightTime.
func (p *Pilot) ballistic(from, aim Vec3) Vec3 {
	t := p.FlightTime
	g := p.cfg.Physics.BallGravity
	dy := p.cfg.Court.BallRadius - from.Y
	return Vec3{
		X: (aim.X - from.X) / t,
		Y: (dy + 0.5*g*t*t) / t,
		Z: (aim.Z - from.Z) / t,
	}
}
