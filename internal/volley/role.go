package volley

import "fmt"

// Role is a behaviour mode an agent can embody. Each role is backed by its
// own variant and reward rules.
type Role int

const (
	RoleIdle Role = iota
	RoleFullGame
	RoleMoveToBall
	RoleMoveToTarget
	RoleSendToTarget
	roleCount
)

// Roles lists every role in declaration order.
var Roles = [roleCount]Role{RoleIdle, RoleFullGame, RoleMoveToBall, RoleMoveToTarget, RoleSendToTarget}

// roleTags are the behaviour names the trained models were exported with.
var roleTags = [roleCount]string{
	RoleIdle:         "Idle",
	RoleFullGame:     "1v1",
	RoleMoveToBall:   "MoveToBall",
	RoleMoveToTarget: "MoveTo",
	RoleSendToTarget: "SendBallTo",
}

// Tag returns the behaviour name.
func (r Role) Tag() string {
	if r < 0 || r >= roleCount {
		return "unknown"
	}
	return roleTags[r]
}

func (r Role) String() string { return r.Tag() }

// ParseRole maps a behaviour name back to its role.
func ParseRole(tag string) (Role, error) {
	for i, t := range roleTags {
		if t == tag {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown behaviour %q", tag)
}
