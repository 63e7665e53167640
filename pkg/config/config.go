// Package config loads the orchestrator's configuration: a YAML file
// with environment-variable expansion, plus a small ambient
// environment surface (database path, provider API key, optional API
// auth key, log level). No other configuration source exists — no hot
// reload, no remote config service, no CLI flag parsing.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment is the single ambient-coupling point the orchestrator
// allows: every other component receives its configuration by explicit
// construction, never by reading os.Getenv itself.
type Environment struct {
	// DBPath is ORCHESTRATE_DB_PATH, the SQLite database file path.
	DBPath string
	// ProviderAPIKey authenticates outbound chat API calls.
	ProviderAPIKey string
	// APIAuthKey, if non-empty, is a static bearer token operators must
	// present to the operational interface. Optional.
	APIAuthKey string
	// LogLevel is one of debug/info/warn/error.
	LogLevel string
}

const defaultDBPath = "orchestrate.db"

// LoadEnvironment reads the four supported environment variables.
// .env / .env.local are loaded first (if present) so they can populate
// the process environment before it is read.
func LoadEnvironment() (*Environment, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	dbPath := os.Getenv("ORCHESTRATE_DB_PATH")
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	logLevel := os.Getenv("ORCHESTRATE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Environment{
		DBPath:         dbPath,
		ProviderAPIKey: GetProviderAPIKey(),
		APIAuthKey:     os.Getenv("ORCHESTRATE_API_AUTH_KEY"),
		LogLevel:       logLevel,
	}, nil
}

// Config is the YAML-backed configuration document. It holds the
// settings every engine needs that are not secrets (those live only in
// Environment) and not purely run-time state.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Model      ModelConfig      `yaml:"model"`
	LoopRunner LoopRunnerConfig `yaml:"loop_runner"`
	Decision   DecisionConfig   `yaml:"decision"`
	Stuck      StuckConfig      `yaml:"stuck"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Review     ReviewConfig     `yaml:"review"`
	Learning   LearningConfig   `yaml:"learning"`
	Controller ControllerConfig `yaml:"controller"`
}

// DatabaseConfig describes the Persistent Store's backing database.
type DatabaseConfig struct {
	Dialect string `yaml:"dialect"` // "sqlite3" (default), "postgres", "mysql"
	DSN     string `yaml:"dsn"`
	MaxConns int   `yaml:"max_conns"`
	MaxIdle  int   `yaml:"max_idle"`
}

// DriverName maps the configured dialect to its database/sql driver name.
func (c DatabaseConfig) DriverName() string {
	if c.Dialect == "" {
		return "sqlite3"
	}
	return c.Dialect
}

// ModelConfig names the model tiers and per-tier model identifiers used
// by the abstract Chat API.
type ModelConfig struct {
	FastModel     string `yaml:"fast_model"`
	BalancedModel string `yaml:"balanced_model"`
	SmartModel    string `yaml:"smart_model"`
	PremiumModel  string `yaml:"premium_model"`
	ContextWindow int    `yaml:"context_window"`
	MaxOutput     int    `yaml:"max_output"`
}

// LoopRunnerConfig holds the Agent Loop Runner's budgets.
type LoopRunnerConfig struct {
	MaxTurns             int     `yaml:"max_turns"`
	MaxIdleTurns         int     `yaml:"max_idle_turns"`
	MaxConsecutiveErrors int     `yaml:"max_consecutive_errors"`
	TokenOptimization    bool    `yaml:"token_optimization"`
	WindowFraction       float64 `yaml:"window_fraction"`
	// EnableInstructions injects learned custom instructions into the
	// dynamic prompt suffix.
	EnableInstructions bool `yaml:"enable_instructions"`
	// EnableLearning feeds completed runs to the Learning Engine.
	EnableLearning bool `yaml:"enable_learning"`
	// EnableSessions opens a token-accounting Session per run.
	EnableSessions bool `yaml:"enable_sessions"`
}

// DecisionConfig holds the Decision Engine's thresholds.
type DecisionConfig struct {
	ReviewFileThreshold int      `yaml:"review_file_threshold"`
	AlwaysReviewPaths   []string `yaml:"always_review_paths"`
	AutoEscalateOnError bool     `yaml:"auto_escalate_on_error"`
	MaxRetries          int      `yaml:"max_retries"`
}

// StuckConfig holds the Stuck Detector's thresholds.
type StuckConfig struct {
	TurnPercentThreshold    float64 `yaml:"turn_percent_threshold"`
	TokenPercentThreshold   float64 `yaml:"token_percent_threshold"`
	NoProgressMinutes       int     `yaml:"no_progress_minutes"`
	CiTimeoutMinutes        int     `yaml:"ci_timeout_minutes"`
	ReviewDelayMinutes      int     `yaml:"review_delay_minutes"`
	ErrorLoopThreshold      int     `yaml:"error_loop_threshold"`
}

// RecoveryConfig holds the Recovery Selector's attempt caps.
type RecoveryConfig struct {
	PauseForHuman    []string       `yaml:"pause_for_human"`
	MaxRetriesByType map[string]int `yaml:"max_retries_by_type"`
}

// ReviewConfig holds the Code-Review Coordinator's policy.
type ReviewConfig struct {
	AutoApproveNitpicks     bool     `yaml:"auto_approve_nitpicks"`
	RequireHumanForCritical bool     `yaml:"require_human_for_critical"`
	MaxIterations           int      `yaml:"max_iterations"`
	EscalateAfterIterations int      `yaml:"escalate_after_iterations"`
	ReviewerPreference      []string `yaml:"reviewer_preference"`
}

// LearningConfig holds the Learning Engine's thresholds.
type LearningConfig struct {
	MinOccurrences        int     `yaml:"min_occurrences"`
	AutoApproveThreshold   float64 `yaml:"auto_approve_threshold"`
	MinSamples             int     `yaml:"min_samples"`
	MinEffectiveness       float64 `yaml:"min_effectiveness"`
	ExperimentConfidence   float64 `yaml:"experiment_confidence"`
	DisableRetentionCycles int     `yaml:"disable_retention_cycles"`
}

// ControllerConfig holds the Autonomous Session Controller's budgets.
type ControllerConfig struct {
	// MaxAttemptsPerItem bounds how many times one WorkItem is retried
	// (via recovery.Retry/FreshRetry/ModelEscalation) before the
	// controller gives up and blocks the session for human attention.
	MaxAttemptsPerItem int `yaml:"max_attempts_per_item"`
	// StartTier is the model tier every agent is spawned at. The
	// controller does not escalate it: a ModelEscalation recovery action
	// requeues the item at this same tier.
	StartTier string `yaml:"start_tier"`
	// CommandBufferSize sizes the controller's pause/resume/stop
	// command channel.
	CommandBufferSize int `yaml:"command_buffer_size"`
}

// Default returns a Config populated with the documented production
// defaults for every engine's thresholds and budgets.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Dialect: "sqlite3"},
		Model: ModelConfig{
			FastModel:     "claude-haiku",
			BalancedModel: "claude-sonnet",
			SmartModel:    "claude-sonnet-thinking",
			PremiumModel:  "claude-opus",
			ContextWindow: 200_000,
			MaxOutput:     8192,
		},
		LoopRunner: LoopRunnerConfig{
			MaxTurns:             100,
			MaxIdleTurns:         3,
			MaxConsecutiveErrors: 5,
			TokenOptimization:    true,
			WindowFraction:       0.70,
			EnableInstructions:   true,
			EnableLearning:       true,
			EnableSessions:       true,
		},
		Decision: DecisionConfig{
			ReviewFileThreshold: 5,
			AlwaysReviewPaths:   []string{"go.mod", "go.sum", "package.json", "Cargo.toml", ".github/workflows", "migrations/"},
			AutoEscalateOnError: true,
			MaxRetries:          3,
		},
		Stuck: StuckConfig{
			TurnPercentThreshold:  80,
			TokenPercentThreshold: 85,
			NoProgressMinutes:     5,
			CiTimeoutMinutes:      30,
			ReviewDelayMinutes:    60,
			ErrorLoopThreshold:    3,
		},
		Recovery: RecoveryConfig{
			PauseForHuman: []string{"merge_conflict", "context_limit"},
			MaxRetriesByType: map[string]int{
				"retry":             3,
				"model_escalation":  2,
				"spawn_fixer":       1,
				"fresh_retry":       1,
				"wait":              5,
			},
		},
		Review: ReviewConfig{
			AutoApproveNitpicks:     true,
			RequireHumanForCritical: true,
			MaxIterations:           5,
			EscalateAfterIterations: 3,
			ReviewerPreference:      []string{"automated", "copilot", "human"},
		},
		Learning: LearningConfig{
			MinOccurrences:         3,
			AutoApproveThreshold:   0.75,
			MinSamples:             10,
			MinEffectiveness:       0.5,
			ExperimentConfidence:   0.95,
			DisableRetentionCycles: 5,
		},
		Controller: ControllerConfig{
			MaxAttemptsPerItem: 3,
			StartTier:          "balanced",
			CommandBufferSize:  4,
		},
	}
}

// Load reads a YAML config file, expands environment variables in its
// string values, and overlays it onto the documented defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	expanded := ExpandEnvVarsInData(raw)

	reEncoded, err := yaml.Marshal(expanded)
	if err != nil {
		return cfg, fmt.Errorf("re-encode expanded config: %w", err)
	}
	if err := yaml.Unmarshal(reEncoded, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}
