package volley

// RewardEvent is a gameplay moment that can carry a role reward.
type RewardEvent int

const (
	RewardTouch       RewardEvent = iota // agent contacted the ball
	RewardDoubleTouch                    // same agent touched twice in a row
	RewardOutOfBounds                    // last hitter sent the ball out
	RewardConcede                        // losing-side agent, last hitter not on its side
	RewardWinningHit                     // last hitter on the winning side
	RewardOwnGoal                        // last hitter on the losing side
	RewardAttack                         // last hitter sent the ball into the opposing half
	rewardEventCount
)

func (e RewardEvent) String() string {
	switch e {
	case RewardTouch:
		return "touch"
	case RewardDoubleTouch:
		return "double_touch"
	case RewardOutOfBounds:
		return "out_of_bounds"
	case RewardConcede:
		return "concede"
	case RewardWinningHit:
		return "winning_hit"
	case RewardOwnGoal:
		return "own_goal"
	case RewardAttack:
		return "attack"
	default:
		return "unknown"
	}
}

// RewardRule is Flat + PerDistance * (agent distance to the ball).
type RewardRule struct {
	Flat        float64
	PerDistance float64
}

// Value evaluates the rule for an agent at distance d from the ball.
func (r RewardRule) Value(d float64) float64 { return r.Flat + r.PerDistance*d }

type rewardKey struct {
	role  Role
	event RewardEvent
}

// RewardTable maps (role, event) to a rule. Missing entries mean the role
// is not rewarded for the event.
type RewardTable map[rewardKey]RewardRule

// Lookup returns the rule for (role, event).
func (t RewardTable) Lookup(role Role, event RewardEvent) (RewardRule, bool) {
	r, ok := t[rewardKey{role, event}]
	return r, ok
}

// Set adds or replaces a rule.
func (t RewardTable) Set(role Role, event RewardEvent, rule RewardRule) {
	t[rewardKey{role, event}] = rule
}

// DefaultRewardTable holds the stock role rewards. The send-to-target
// landing score is not here: it comes from the shaping expression.
func DefaultRewardTable() RewardTable {
	t := RewardTable{}
	t.Set(RoleFullGame, RewardTouch, RewardRule{Flat: 0.01})
	t.Set(RoleMoveToBall, RewardTouch, RewardRule{Flat: 1.0})

	t.Set(RoleSendToTarget, RewardDoubleTouch, RewardRule{Flat: -0.75})

	t.Set(RoleFullGame, RewardOutOfBounds, RewardRule{Flat: -0.009})
	t.Set(RoleSendToTarget, RewardOutOfBounds, RewardRule{Flat: -0.5})

	t.Set(RoleFullGame, RewardConcede, RewardRule{Flat: -1.0})
	t.Set(RoleMoveToBall, RewardConcede, RewardRule{PerDistance: -0.1})
	t.Set(RoleSendToTarget, RewardConcede, RewardRule{Flat: -1.0})

	t.Set(RoleFullGame, RewardWinningHit, RewardRule{Flat: 1.0})
	t.Set(RoleFullGame, RewardOwnGoal, RewardRule{Flat: -0.009})
	t.Set(RoleFullGame, RewardAttack, RewardRule{Flat: 0.1})
	return t
}

// TeamRewards are the manager-level rewards.
type TeamRewards struct {
	Touch       float64
	DoubleTouch float64
	Attack      float64
	Win         float64
	Lose        float64
}

func DefaultTeamRewards() TeamRewards {
	return TeamRewards{
		Touch:       0.1,
		DoubleTouch: -0.2,
		Attack:      0.25,
		Win:         1,
		Lose:        -1,
	}
}

// RuleSet is everything a training mode changes about resolution.
type RuleSet struct {
	Mode  TrainingMode
	Roles RewardTable
	Team  TeamRewards

	// A touch by an agent playing TerminalTouch ends the episode.
	TerminalTouch    Role
	HasTerminalTouch bool

	// A double touch by an agent playing TerminalDoubleTouch is penalised
	// by the role table and ends the episode.
	TerminalDoubleTouch    Role
	HasTerminalDoubleTouch bool

	// EndsEpisodes is false for point-to-point navigation, which never
	// terminates through gameplay events.
	EndsEpisodes bool

	// Serve places the ball over the serving team's first member instead
	// of the generic spawn box.
	Serve bool

	// MoveToSpawn selects the wide navigation spawn ranges.
	MoveToSpawn bool
}

// RuleSetFor returns the stock rules of a mode.
func RuleSetFor(mode TrainingMode) RuleSet {
	rs := RuleSet{
		Mode:         mode,
		Roles:        DefaultRewardTable(),
		Team:         DefaultTeamRewards(),
		EndsEpisodes: true,
	}
	switch mode {
	case ModeMoveTo:
		rs.EndsEpisodes = false
		rs.MoveToSpawn = true
	case ModeMoveToBall:
		rs.TerminalTouch, rs.HasTerminalTouch = RoleMoveToBall, true
	case ModeSendBallTo:
		rs.TerminalDoubleTouch, rs.HasTerminalDoubleTouch = RoleSendToTarget, true
		rs.Serve = true
	}
	return rs
}
