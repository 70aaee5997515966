package volley

// RallyResult is how a resolved trigger ended, if it ended at all.
type RallyResult int

const (
	ResultContinue RallyResult = iota // non-terminal trigger
	ResultBlueWin
	ResultPurpleWin
	ResultTie
	ResultFault    // terminal double touch
	ResultTaskDone // terminal touch in a single-task training mode
)

func (r RallyResult) String() string {
	switch r {
	case ResultContinue:
		return "continue"
	case ResultBlueWin:
		return "blue_win"
	case ResultPurpleWin:
		return "purple_win"
	case ResultTie:
		return "tie"
	case ResultFault:
		return "fault"
	case ResultTaskDone:
		return "task_done"
	default:
		return "unknown"
	}
}

// resultFor maps a winning team to its result. Neutral is a tie.
func resultFor(winner Team) RallyResult {
	switch winner {
	case TeamBlue:
		return ResultBlueWin
	case TeamPurple:
		return ResultPurpleWin
	default:
		return ResultTie
	}
}

// Outcome describes what a resolution did.
type Outcome struct {
	Result      RallyResult
	Trigger     Trigger
	Winner      Team   // Neutral for ties and non-terminal triggers
	LastHitter  string // agent label, "--" when nobody touched the ball
	Terminal    bool   // an episode end was requested
	Description string
}

// Tally counts rally results since the environment was built.
type Tally struct {
	BlueWins    int
	PurpleWins  int
	Ties        int
	Faults      int
	TasksDone   int
	Interrupted int
}

// Add counts a terminal outcome. Non-terminal ones are ignored.
func (t *Tally) Add(o Outcome) {
	switch o.Result {
	case ResultBlueWin:
		t.BlueWins++
	case ResultPurpleWin:
		t.PurpleWins++
	case ResultTie:
		t.Ties++
	case ResultFault:
		t.Faults++
	case ResultTaskDone:
		t.TasksDone++
	}
}

// Rallies is the number of rallies that reached a result.
func (t Tally) Rallies() int { return t.BlueWins + t.PurpleWins + t.Ties + t.Faults + t.TasksDone }

// Wins returns team's win count.
func (t Tally) Wins(team Team) int {
	switch team {
	case TeamBlue:
		return t.BlueWins
	case TeamPurple:
		return t.PurpleWins
	default:
		return 0
	}
}

// Leader is the team with more wins, or Neutral when level.
func (t Tally) Leader() Team {
	switch {
	case t.BlueWins > t.PurpleWins:
		return TeamBlue
	case t.PurpleWins > t.BlueWins:
		return TeamPurple
	default:
		return TeamNeutral
	}
}
