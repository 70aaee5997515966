package volley

import "fmt"

// TrainingMode selects which reward rules are live for a run.
type TrainingMode int

const (
	ModeFullGame TrainingMode = iota
	ModeMoveTo
	ModeMoveToBall
	ModeSendBallTo
	ModeManager
)

func (m TrainingMode) String() string {
	switch m {
	case ModeFullGame:
		return "full_game"
	case ModeMoveTo:
		return "move_to"
	case ModeMoveToBall:
		return "move_to_ball"
	case ModeSendBallTo:
		return "send_ball_to"
	case ModeManager:
		return "manager"
	default:
		return "unknown"
	}
}

// ParseTrainingMode maps a settings value to a mode.
func ParseTrainingMode(s string) (TrainingMode, error) {
	for _, m := range []TrainingMode{ModeFullGame, ModeMoveTo, ModeMoveToBall, ModeSendBallTo, ModeManager} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown training mode %q", s)
}

// DefaultRole is the behaviour every agent starts in under this mode.
func (m TrainingMode) DefaultRole() Role {
	switch m {
	case ModeMoveTo:
		return RoleMoveToTarget
	case ModeMoveToBall:
		return RoleMoveToBall
	case ModeSendBallTo:
		return RoleSendToTarget
	default:
		return RoleFullGame
	}
}
