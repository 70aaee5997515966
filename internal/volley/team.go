package volley

import "fmt"

// Team identifies a side of the net.
type Team int

const (
	TeamBlue Team = iota
	TeamPurple
	TeamNeutral // no side; the last-hitter default and the tie outcome
)

func (t Team) String() string {
	switch t {
	case TeamBlue:
		return "Blue"
	case TeamPurple:
		return "Purple"
	case TeamNeutral:
		return "Neutral"
	default:
		return "unknown"
	}
}

// Sign is the multiplier applied to the net-crossing axis so both teams
// see a mirrored court. Blue plays the z > 0 half.
func (t Team) Sign() float64 {
	switch t {
	case TeamBlue:
		return -1
	case TeamPurple:
		return 1
	default:
		return 0
	}
}

// Opponent returns the other side. The opponent of Neutral is Neutral.
func (t Team) Opponent() Team {
	switch t {
	case TeamBlue:
		return TeamPurple
	case TeamPurple:
		return TeamBlue
	default:
		return TeamNeutral
	}
}

// OwnsZ reports whether the court coordinate z lies in this team's half.
func (t Team) OwnsZ(z float64) bool {
	switch t {
	case TeamBlue:
		return z > 0
	case TeamPurple:
		return z < 0
	default:
		return false
	}
}

// labelPrefix is the one-letter prefix used in agent labels.
func (t Team) labelPrefix() string {
	switch t {
	case TeamBlue:
		return "B"
	case TeamPurple:
		return "P"
	default:
		return "N"
	}
}

// Roster is the ordered membership list of one team. It does not own the
// agents' lifetime; agents persist for the whole run.
type Roster struct {
	Team   Team
	Agents []*Agent
}

// NewRoster creates a roster and points each agent back at the team.
func NewRoster(team Team, agents ...*Agent) *Roster {
	r := &Roster{Team: team}
	for _, a := range agents {
		r.Add(a)
	}
	return r
}

// Add appends an agent to the roster.
func (r *Roster) Add(a *Agent) {
	a.team = r.Team
	if a.label == "" {
		a.label = fmt.Sprintf("%s%d", r.Team.labelPrefix(), len(r.Agents))
	}
	r.Agents = append(r.Agents, a)
}

// Contains reports membership.
func (r *Roster) Contains(a *Agent) bool {
	if r == nil || a == nil {
		return false
	}
	for _, m := range r.Agents {
		if m == a {
			return true
		}
	}
	return false
}

// Len returns the member count.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Agents)
}

// First returns the first member or nil.
func (r *Roster) First() *Agent {
	if r.Len() == 0 {
		return nil
	}
	return r.Agents[0]
}
