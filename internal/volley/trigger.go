package volley

import "fmt"

// TriggerKind is a court region event produced by the physics layer.
type TriggerKind int

const (
	TriggerOutOfBounds TriggerKind = iota
	TriggerHitGoal
	TriggerHitIntoHalf
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerOutOfBounds:
		return "out_of_bounds"
	case TriggerHitGoal:
		return "hit_goal"
	case TriggerHitIntoHalf:
		return "hit_into_half"
	default:
		return fmt.Sprintf("trigger(%d)", int(k))
	}
}

// Trigger is one ball region event. Team is the winner for HitGoal and the
// attacking side for HitIntoHalf; it is unused for OutOfBounds.
type Trigger struct {
	Kind TriggerKind
	Team Team
}

func OutOfBounds() Trigger { return Trigger{Kind: TriggerOutOfBounds, Team: TeamNeutral} }

// HitGoal is the ball landing in a scoring region credited to winner.
func HitGoal(winner Team) Trigger { return Trigger{Kind: TriggerHitGoal, Team: winner} }

// HitIntoHalf is the ball crossing into the half opposite attacker.
func HitIntoHalf(attacker Team) Trigger { return Trigger{Kind: TriggerHitIntoHalf, Team: attacker} }

// HitIntoHalfOf is the ball entering owner's half, which is an attack by
// owner's opponent.
func HitIntoHalfOf(owner Team) Trigger { return HitIntoHalf(owner.Opponent()) }

func (t Trigger) String() string {
	if t.Kind == TriggerOutOfBounds {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.Team)
}
