package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Range is a closed [Min, Max] interval sampled uniformly.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Span returns Max-Min.
func (r Range) Span() float64 { return r.Max - r.Min }

// Physics holds the movement constants shared by agents and the ball.
type Physics struct {
	RunSpeed             float64 `yaml:"run_speed" json:"run_speed"`
	JumpHeight           float64 `yaml:"jump_height" json:"jump_height"`
	JumpVelocity         float64 `yaml:"jump_velocity" json:"jump_velocity"`
	FallingAcceleration  float64 `yaml:"falling_acceleration" json:"falling_acceleration"`
	BallGravity          float64 `yaml:"ball_gravity" json:"ball_gravity"`
	BallResetMaxVelocity float64 `yaml:"ball_reset_max_velocity" json:"ball_reset_max_velocity"`
	FixedDeltaSeconds    float64 `yaml:"fixed_delta_seconds" json:"fixed_delta_seconds"`
}

// Court describes the playing area. The net sits on z = 0.
type Court struct {
	HalfWidth    float64 `yaml:"half_width" json:"half_width"`
	HalfLength   float64 `yaml:"half_length" json:"half_length"`
	NetHeight    float64 `yaml:"net_height" json:"net_height"`
	SpawnAnchorZ float64 `yaml:"spawn_anchor_z" json:"spawn_anchor_z"`
	BallRadius   float64 `yaml:"ball_radius" json:"ball_radius"`
	AgentRadius  float64 `yaml:"agent_radius" json:"agent_radius"`
}

// BallSpawn ranges; Z is mirrored by the spawn side.
type BallSpawn struct {
	X Range `yaml:"x" json:"x"`
	Y Range `yaml:"y" json:"y"`
	Z Range `yaml:"z" json:"z"`
	// ServeLift is the height above the serving agent used by the
	// send-ball-to training mode.
	ServeLift  float64 `yaml:"serve_lift" json:"serve_lift"`
	ServeNudge float64 `yaml:"serve_nudge" json:"serve_nudge"`
}

// AgentSpawn ranges are local to the team's spawn anchor.
type AgentSpawn struct {
	X   Range `yaml:"x" json:"x"`
	Y   Range `yaml:"y" json:"y"`
	Z   Range `yaml:"z" json:"z"`
	Yaw Range `yaml:"yaw" json:"yaw"`
}

// Materials are hex colours (#rrggbb) keyed by role on the floor.
type Materials struct {
	BlueGoal     string  `yaml:"blue_goal" json:"blue_goal"`
	PurpleGoal   string  `yaml:"purple_goal" json:"purple_goal"`
	DefaultFloor string  `yaml:"default_floor" json:"default_floor"`
	FlashSeconds float64 `yaml:"flash_seconds" json:"flash_seconds"`
}

// Manager configures the target mapping used by team managers.
type Manager struct {
	XScale         float64 `yaml:"x_scale" json:"x_scale"`
	ZScale         float64 `yaml:"z_scale" json:"z_scale"`
	TargetHeight   float64 `yaml:"target_height" json:"target_height"`
	ShowTargets    bool    `yaml:"show_targets" json:"show_targets"`
	DecisionPeriod int     `yaml:"decision_period" json:"decision_period"`
}

// Statistics configures the tracker and its sinks.
type Statistics struct {
	KeepStats       bool     `yaml:"keep_stats" json:"keep_stats"`
	Mode            string   `yaml:"mode" json:"mode"`
	MatchesPerSet   int      `yaml:"matches_per_set" json:"matches_per_set"`
	ReportInterval  int      `yaml:"report_interval" json:"report_interval"`
	RotateModels    bool     `yaml:"rotate_models" json:"rotate_models"`
	RotateRole      string   `yaml:"rotate_role" json:"rotate_role"` // empty means "1v1"
	Models          []string `yaml:"models" json:"models"`
	LogDir          string   `yaml:"log_dir" json:"log_dir"`
	DBPath          string   `yaml:"db_path" json:"db_path"`
	SnapshotPath    string   `yaml:"snapshot_path" json:"snapshot_path"`
	TouchLogPrefix  string   `yaml:"touch_log_prefix" json:"touch_log_prefix"`
	ReportLogPrefix string   `yaml:"report_log_prefix" json:"report_log_prefix"`
}

// Rewards holds the tunable shaping inputs.
type Rewards struct {
	// SendTargetExpr is evaluated with distance, radius and apex in scope.
	SendTargetExpr string  `yaml:"send_target_expr" json:"send_target_expr"`
	TargetRadius   float64 `yaml:"target_radius" json:"target_radius"`
}

// Settings is the read-only configuration surface consumed by the engine.
type Settings struct {
	TrainingMode        string     `yaml:"training_mode" json:"training_mode"`
	MaxEnvironmentSteps int        `yaml:"max_environment_steps" json:"max_environment_steps"`
	RosterSize          int        `yaml:"roster_size" json:"roster_size"`
	Physics             Physics    `yaml:"physics" json:"physics"`
	Court               Court      `yaml:"court" json:"court"`
	BallSpawn           BallSpawn  `yaml:"ball_spawn" json:"ball_spawn"`
	AgentSpawn          AgentSpawn `yaml:"agent_spawn" json:"agent_spawn"`
	MoveToSpawn         AgentSpawn `yaml:"move_to_spawn" json:"move_to_spawn"`
	Materials           Materials  `yaml:"materials" json:"materials"`
	Manager             Manager    `yaml:"manager" json:"manager"`
	Statistics          Statistics `yaml:"statistics" json:"statistics"`
	Rewards             Rewards    `yaml:"rewards" json:"rewards"`
}

// DefaultSendTargetExpr reproduces the stock send-to-target shaping.
const DefaultSendTargetExpr = `(distance <= radius ? 1.0 : -0.05 * distance) + 0.025 * apex`

// Default returns the stock settings.
func Default() Settings {
	return Settings{
		TrainingMode:        "full_game",
		MaxEnvironmentSteps: 5000,
		RosterSize:          2,
		Physics: Physics{
			RunSpeed:             6.0,
			JumpHeight:           2.75,
			JumpVelocity:         7.0,
			FallingAcceleration:  25.0,
			BallGravity:          9.81,
			BallResetMaxVelocity: 1.0,
			FixedDeltaSeconds:    0.02,
		},
		Court: Court{
			HalfWidth:    6,
			HalfLength:   12,
			NetHeight:    2.4,
			SpawnAnchorZ: 6,
			BallRadius:   0.3,
			AgentRadius:  0.5,
		},
		BallSpawn: BallSpawn{
			X:          Range{-2, 2},
			Y:          Range{6, 8},
			Z:          Range{6, 10},
			ServeLift:  3,
			ServeNudge: 0.5,
		},
		AgentSpawn: AgentSpawn{
			X:   Range{-2, 2},
			Y:   Range{0.5, 3.75},
			Z:   Range{-2, 2},
			Yaw: Range{-45, 45},
		},
		MoveToSpawn: AgentSpawn{
			X:   Range{-5, 5},
			Y:   Range{0.5, 0.5},
			Z:   Range{-5, 5},
			Yaw: Range{-180, 180},
		},
		Materials: Materials{
			BlueGoal:     "#3a6fd8",
			PurpleGoal:   "#8a3ad8",
			DefaultFloor: "#c9b27c",
			FlashSeconds: 0.5,
		},
		Manager: Manager{
			XScale:         5,
			ZScale:         5,
			TargetHeight:   0.5,
			ShowTargets:    true,
			DecisionPeriod: 5,
		},
		Statistics: Statistics{
			KeepStats:       true,
			Mode:            "variant",
			MatchesPerSet:   10,
			ReportInterval:  1000,
			RotateModels:    false,
			RotateRole:      "1v1",
			Models:          []string{"Volleyball-A", "Volleyball-B"},
			TouchLogPrefix:  "ballTouches",
			ReportLogPrefix: "statistics",
		},
		Rewards: Rewards{
			SendTargetExpr: DefaultSendTargetExpr,
			TargetRadius:   1.5,
		},
	}
}

// Load reads a YAML settings file on top of Default and validates it.
// Keys missing from the file keep their default values.
func Load(path string) (Settings, error) {
	s := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := validateYAML(raw); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate checks the fully merged settings against the schema.
func (s Settings) Validate() error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	return validateDoc(doc)
}

// validateYAML catches unknown keys and wrong types before merging, so a
// typo in the file does not silently fall back to a default.
func validateYAML(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("settings yaml: %w", err)
	}
	if doc == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("settings yaml: %w", err)
	}
	var jdoc any
	if err := json.Unmarshal(b, &jdoc); err != nil {
		return err
	}
	// The schema has no required keys, so a partial file validates too.
	return validateDoc(jdoc)
}
