package config

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const settingsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "range": {
      "type": "object",
      "additionalProperties": false,
      "properties": {"min": {"type": "number"}, "max": {"type": "number"}}
    },
    "spawn": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "x": {"$ref": "#/definitions/range"},
        "y": {"$ref": "#/definitions/range"},
        "z": {"$ref": "#/definitions/range"},
        "yaw": {"$ref": "#/definitions/range"}
      }
    },
    "colour": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"}
  },
  "properties": {
    "training_mode": {"enum": ["full_game", "move_to", "move_to_ball", "send_ball_to", "manager"]},
    "max_environment_steps": {"type": "integer", "minimum": 0},
    "roster_size": {"type": "integer", "minimum": 1, "maximum": 6},
    "physics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "run_speed": {"type": "number", "exclusiveMinimum": 0},
        "jump_height": {"type": "number", "minimum": 0},
        "jump_velocity": {"type": "number", "minimum": 0},
        "falling_acceleration": {"type": "number", "minimum": 0},
        "ball_gravity": {"type": "number", "minimum": 0},
        "ball_reset_max_velocity": {"type": "number", "minimum": 0},
        "fixed_delta_seconds": {"type": "number", "exclusiveMinimum": 0}
      }
    },
    "court": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "half_width": {"type": "number", "exclusiveMinimum": 0},
        "half_length": {"type": "number", "exclusiveMinimum": 0},
        "net_height": {"type": "number", "minimum": 0},
        "spawn_anchor_z": {"type": "number", "minimum": 0},
        "ball_radius": {"type": "number", "exclusiveMinimum": 0},
        "agent_radius": {"type": "number", "exclusiveMinimum": 0}
      }
    },
    "ball_spawn": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "x": {"$ref": "#/definitions/range"},
        "y": {"$ref": "#/definitions/range"},
        "z": {"$ref": "#/definitions/range"},
        "serve_lift": {"type": "number"},
        "serve_nudge": {"type": "number", "minimum": 0}
      }
    },
    "agent_spawn": {"$ref": "#/definitions/spawn"},
    "move_to_spawn": {"$ref": "#/definitions/spawn"},
    "materials": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "blue_goal": {"$ref": "#/definitions/colour"},
        "purple_goal": {"$ref": "#/definitions/colour"},
        "default_floor": {"$ref": "#/definitions/colour"},
        "flash_seconds": {"type": "number", "minimum": 0}
      }
    },
    "manager": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "x_scale": {"type": "number"},
        "z_scale": {"type": "number"},
        "target_height": {"type": "number"},
        "show_targets": {"type": "boolean"},
        "decision_period": {"type": "integer", "minimum": 1}
      }
    },
    "statistics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "keep_stats": {"type": "boolean"},
        "mode": {"enum": ["variant", "matchup"]},
        "matches_per_set": {"type": "integer", "minimum": 1},
        "report_interval": {"type": "integer", "minimum": 1},
        "rotate_models": {"type": "boolean"},
        "rotate_role": {"enum": ["", "Idle", "1v1", "MoveToBall", "MoveTo", "SendBallTo"]},
        "models": {"type": ["array", "null"], "items": {"type": "string", "minLength": 1}},
        "log_dir": {"type": "string"},
        "db_path": {"type": "string"},
        "snapshot_path": {"type": "string"},
        "touch_log_prefix": {"type": "string"},
        "report_log_prefix": {"type": "string"}
      }
    },
    "rewards": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "send_target_expr": {"type": "string"},
        "target_radius": {"type": "number", "minimum": 0}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("settings.schema.json", settingsSchema)

func validateDoc(doc any) error {
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("settings schema: %w", err)
	}
	return nil
}
