package main

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is wrapped by every ConfigError
var ErrInvalidConfig = errors.New("invalid config")

// ConfigError describes one rejected configuration value
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// Difficulty names an AI preset
type Difficulty string

const (
	DifficultyCustom Difficulty = ""
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// DifficultyForLevel maps a 0..1 slider value to a preset
func DifficultyForLevel(level float64) Difficulty {
	switch {
	case level < 0.33:
		return DifficultyEasy
	case level < 0.66:
		return DifficultyMedium
	}
	return DifficultyHard
}

// BallConfig holds ball tuning
type BallConfig struct {
	InitialSpeed  float64 `toml:"initial_speed"`
	SpeedIncrease float64 `toml:"speed_increase"`
	MaxSpeed      float64 `toml:"max_speed"`
	Radius        float64 `toml:"radius"`
	ResetDelay    float64 `toml:"reset_delay"`  // seconds between reset and launch
	LaunchSpread  float64 `toml:"launch_spread"` // vertical launch component range
}

// FieldConfig holds the playfield geometry. Origin is the field centre, +Y is up.
type FieldConfig struct {
	TopBoundary    float64 `toml:"top_boundary"`    // highest paddle centre
	BottomBoundary float64 `toml:"bottom_boundary"` // lowest paddle centre
	WallTop        float64 `toml:"wall_top"`
	WallBottom     float64 `toml:"wall_bottom"`
	GoalX          float64 `toml:"goal_x"`
}

// PaddleConfig holds per-paddle settings
type PaddleConfig struct {
	X          float64 `toml:"x"`
	MoveSpeed  float64 `toml:"move_speed"`
	HalfHeight float64 `toml:"half_height"`
	HalfWidth  float64 `toml:"half_width"`
	AI         bool    `toml:"ai"`
}

// AIConfig holds the AI difficulty knobs
type AIConfig struct {
	ReactionDelay   float64    `toml:"reaction_delay"`
	PredictionError float64    `toml:"prediction_error"`
	Difficulty      Difficulty `toml:"difficulty"`
}

// Config is the full set of simulation parameters
type Config struct {
	ScoreToWin int          `toml:"score_to_win"`
	Seed       int64        `toml:"seed"`
	Ball       BallConfig   `toml:"ball"`
	Field      FieldConfig  `toml:"field"`
	First      PaddleConfig `toml:"first"`
	Second     PaddleConfig `toml:"second"`
	AI         AIConfig     `toml:"ai"`
}

// DefaultConfig returns the stock table: human on the left, AI on the right
func DefaultConfig() Config {
	return Config{
		ScoreToWin: 10,
		Ball: BallConfig{
			InitialSpeed:  4,
			SpeedIncrease: 0.5,
			MaxSpeed:      10,
			Radius:        0.15,
			ResetDelay:    1.0,
			LaunchSpread:  0.5,
		},
		Field: FieldConfig{
			TopBoundary:    2.5,
			BottomBoundary: -2.5,
			WallTop:        3,
			WallBottom:     -3,
			GoalX:          8,
		},
		First: PaddleConfig{
			X:          -7,
			MoveSpeed:  5,
			HalfHeight: 0.5,
			HalfWidth:  0.125,
		},
		Second: PaddleConfig{
			X:          7,
			MoveSpeed:  4.5,
			HalfHeight: 0.5,
			HalfWidth:  0.125,
			AI:         true,
		},
		AI: AIConfig{
			ReactionDelay:   0.1,
			PredictionError: 0.2,
		},
	}
}

// ApplyDifficulty overwrites the AI knobs with a preset.
// DifficultyCustom leaves them untouched.
func (c *Config) ApplyDifficulty(d Difficulty) error {
	switch d {
	case DifficultyCustom:
	case DifficultyEasy:
		c.AI.ReactionDelay = 0.3
		c.AI.PredictionError = 0.8
	case DifficultyMedium:
		c.AI.ReactionDelay = 0.15
		c.AI.PredictionError = 0.4
	case DifficultyHard:
		c.AI.ReactionDelay = 0.05
		c.AI.PredictionError = 0.1
	default:
		return &ConfigError{Field: "ai.difficulty", Reason: fmt.Sprintf("unknown preset %q", d)}
	}
	c.AI.Difficulty = d
	return nil
}

// Validate reports every invalid value, joined
func (c Config) Validate() error {
	var errs []error
	bad := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}

	if c.ScoreToWin <= 0 {
		bad("score_to_win", "must be positive")
	}

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"ball.initial_speed", c.Ball.InitialSpeed},
		{"ball.speed_increase", c.Ball.SpeedIncrease},
		{"ball.max_speed", c.Ball.MaxSpeed},
		{"ball.radius", c.Ball.Radius},
		{"ball.reset_delay", c.Ball.ResetDelay},
		{"ball.launch_spread", c.Ball.LaunchSpread},
		{"field.top_boundary", c.Field.TopBoundary},
		{"field.bottom_boundary", c.Field.BottomBoundary},
		{"field.wall_top", c.Field.WallTop},
		{"field.wall_bottom", c.Field.WallBottom},
		{"field.goal_x", c.Field.GoalX},
		{"first.x", c.First.X},
		{"first.move_speed", c.First.MoveSpeed},
		{"second.x", c.Second.X},
		{"second.move_speed", c.Second.MoveSpeed},
		{"ai.reaction_delay", c.AI.ReactionDelay},
		{"ai.prediction_error", c.AI.PredictionError},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			bad(f.name, "must be finite")
		}
	}

	b := c.Ball
	if b.InitialSpeed <= 0 {
		bad("ball.initial_speed", "must be positive")
	}
	if b.MaxSpeed < b.InitialSpeed {
		bad("ball.max_speed", "must be at least ball.initial_speed")
	}
	if b.SpeedIncrease < 0 {
		bad("ball.speed_increase", "must not be negative")
	}
	if b.Radius <= 0 {
		bad("ball.radius", "must be positive")
	}
	if b.ResetDelay < 0 {
		bad("ball.reset_delay", "must not be negative")
	}
	if b.LaunchSpread < 0 {
		bad("ball.launch_spread", "must not be negative")
	}

	f := c.Field
	if f.BottomBoundary > f.TopBoundary {
		bad("field.bottom_boundary", "must not be above field.top_boundary")
	}
	if f.WallTop-f.WallBottom <= 2*b.Radius {
		bad("field.wall_top", "walls must be further apart than the ball diameter")
	}
	if f.GoalX <= 0 {
		bad("field.goal_x", "must be positive")
	}

	for _, p := range []struct {
		name string
		cfg  PaddleConfig
	}{{"first", c.First}, {"second", c.Second}} {
		if p.cfg.MoveSpeed < 0 {
			bad(p.name+".move_speed", "must not be negative")
		}
		if p.cfg.HalfHeight <= 0 {
			bad(p.name+".half_height", "must be positive")
		}
		if p.cfg.HalfWidth < 0 {
			bad(p.name+".half_width", "must not be negative")
		}
		if p.cfg.X <= -f.GoalX || p.cfg.X >= f.GoalX {
			bad(p.name+".x", "must be between the goals")
		}
	}
	if c.First.X >= c.Second.X {
		bad("first.x", "first paddle must be left of second paddle")
	}

	if c.AI.ReactionDelay < 0 {
		bad("ai.reaction_delay", "must not be negative")
	}
	if c.AI.PredictionError < 0 {
		bad("ai.prediction_error", "must not be negative")
	}

	return errors.Join(errs...)
}

// LoadConfig decodes a TOML file over DefaultConfig and validates the result
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		log.Printf("config: ignoring unknown keys in %s: %s", path, strings.Join(names, ", "))
	}
	if err := cfg.ApplyDifficulty(cfg.AI.Difficulty); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
