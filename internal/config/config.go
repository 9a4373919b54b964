// Package config holds the flat set of recognized VELO options (§6) and
// applies them to the domain packages that hold the corresponding tunables
// as package-level variables. Grounded on the teacher's config/guards.go
// (YAML load/save via gopkg.in/yaml.v2), scoped down from the teacher's
// nested regime-profile structure to the flat option list this spec calls
// for — there are no regimes or profiles here, just named thresholds.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/racelock/veloengine/internal/domain/ablation"
	"github.com/racelock/veloengine/internal/domain/form"
	"github.com/racelock/veloengine/internal/domain/historical"
	"github.com/racelock/veloengine/internal/domain/learninggate"
	"github.com/racelock/veloengine/internal/domain/policy"
	"github.com/racelock/veloengine/internal/domain/safety"
	"github.com/racelock/veloengine/internal/domain/scoring"
)

// HistoricalCaps mirrors the source's historical_stats_caps map.
type HistoricalCaps struct {
	Trainer float64 `yaml:"trainer"`
	Jockey  float64 `yaml:"jockey"`
	Combo   float64 `yaml:"combo"`
}

// Config is the flat set of recognized options from §6. Every field has a
// default matching what the domain packages shipped with before this
// package existed, so a zero-value Config loaded from an empty file changes
// nothing.
type Config struct {
	ChaosThreshold        float64        `yaml:"chaos_threshold"`
	ManipulationThreshold float64        `yaml:"manipulation_threshold"`
	StabilityThreshold    float64        `yaml:"stability_threshold"`
	AblationMaxFlips      int            `yaml:"ablation_max_flips"`
	AblationMaxProbDelta  float64        `yaml:"ablation_max_prob_delta"`
	AnchorGuardMinProb    float64        `yaml:"anchor_guard_min_prob"`
	AnchorGuardMaxManip   float64        `yaml:"anchor_guard_max_manip"`
	TopStrikeBaseMargin   float64        `yaml:"topstrike_base_margin"`
	TopStrikeChaosSlope   float64        `yaml:"topstrike_chaos_slope"`
	HistoricalStatsCaps   HistoricalCaps `yaml:"historical_stats_caps"`
	StabilityModifierCap  float64        `yaml:"stability_modifier_cap"`
	StageTimeoutMs        int            `yaml:"stage_timeout_ms"`
	EngineRunDir          string         `yaml:"engine_run_dir"`

	StakingCapFraction float64 `yaml:"staking_cap_fraction"`
}

// Default returns the recognized options at the values the domain packages
// shipped with, i.e. loading Default and calling Apply is a no-op.
func Default() *Config {
	return &Config{
		ChaosThreshold:        0.60,
		ManipulationThreshold: 0.60,
		StabilityThreshold:    0.65,
		AblationMaxFlips:      1,
		AblationMaxProbDelta:  0.15,
		AnchorGuardMinProb:    0.62,
		AnchorGuardMaxManip:   0.45,
		TopStrikeBaseMargin:   0.12,
		TopStrikeChaosSlope:   0.10,
		HistoricalStatsCaps:   HistoricalCaps{Trainer: 0.05, Jockey: 0.05, Combo: 0.03},
		StabilityModifierCap:  0.10,
		StageTimeoutMs:        5000,
		EngineRunDir:          "out/engine_runs",
		StakingCapFraction:    safety.DefaultStakingCap.MaxFraction,
	}
}

// Load reads a YAML config file, starting from Default and overlaying
// whatever the file sets (unset fields keep Default's values since they
// decode as YAML's zero value only if the file zeros them explicitly —
// callers wanting a clean override should set every field they use).
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}

// StageTimeout returns the configured per-stage budget as a time.Duration.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutMs) * time.Millisecond
}

// Apply pushes every threshold onto the domain packages' package-level
// variables. Call once at process start before any pipeline run.
func (c *Config) Apply() {
	policy.ChaosThreshold = c.ChaosThreshold
	policy.ManipulationThreshold = c.ManipulationThreshold
	policy.StabilityThreshold = c.StabilityThreshold
	policy.TopStrikeBaseMargin = c.TopStrikeBaseMargin
	policy.TopStrikeChaosSlope = c.TopStrikeChaosSlope

	learninggate.ManipulationThreshold = c.ManipulationThreshold
	learninggate.StabilityThreshold = c.StabilityThreshold
	learninggate.AblationFlipMax = c.AblationMaxFlips
	learninggate.AblationProbDeltaMax = c.AblationMaxProbDelta

	ablation.MaxAllowedFlips = c.AblationMaxFlips
	ablation.MaxProbDelta = c.AblationMaxProbDelta

	scoring.AnchorGuardMinProb = c.AnchorGuardMinProb
	scoring.AnchorGuardMaxManip = c.AnchorGuardMaxManip

	historical.TrainerCap = c.HistoricalStatsCaps.Trainer
	historical.JockeyCap = c.HistoricalStatsCaps.Jockey
	historical.ComboCap = c.HistoricalStatsCaps.Combo

	// form.StabilityModifierCap is the spec's stability_modifier_cap; it
	// bounds the form-cluster trust modifier, not historical's own
	// (unexposed) total-modifier clamp — the two are distinct by design.
	form.StabilityModifierCap = c.StabilityModifierCap
}

// NewStakingCap builds the safety.StakingCap this config describes.
func (c *Config) NewStakingCap() safety.StakingCap {
	return safety.StakingCap{MaxFraction: c.StakingCapFraction}
}
