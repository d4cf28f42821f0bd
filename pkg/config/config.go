// Package config provides configuration loading, validation, and management for agentcore.
//
// A single global Config is kept in memory behind a mutex. GetConfig returns it BY VALUE,
// so callers cannot mutate shared state; changes go through the Update* functions, which
// validate before persisting to <dir>/.agentcore/config.json.
//
//	err := config.LoadConfig(dir)
//	cfg, err := config.GetConfig()
//	err = config.UpdateChat(&chatCfg)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agentcore/pkg/logx"
)

const (
	// SchemaVersion must be bumped on any incompatible change to Config.
	SchemaVersion = "1.0"

	// ConfigDir is the directory under the project root holding config, secrets and the memory db.
	ConfigDir = ".agentcore"

	// ConfigFilename is the config file name inside ConfigDir.
	ConfigFilename = "config.json"

	// DefaultMemoryFile is the sqlite file name for the memory store.
	DefaultMemoryFile = "memory.db"
)

// Defaults for tunables that are not user-facing algorithm constants.
const (
	DefaultMaxToolSteps        = 25
	DefaultSubAgentMaxDepth    = 2
	DefaultSubAgentTimeoutSec  = 120
	DefaultCheckpointRetention = 10
	DefaultContextTokens       = 100_000
	DefaultConsensusTimeoutSec = 300
	DefaultMaxConcurrency      = 3
	DefaultMaxAnalystSteps     = 8
	DefaultRequestTimeoutSec   = 180
	DefaultRetryAttempts       = 3
	DefaultRetryInitialMs      = 250
	DefaultRetryMaxMs          = 10_000
	DefaultBackoffFactor       = 2.0
	DefaultFailureThreshold    = 5
	DefaultSuccessThreshold    = 2
	DefaultCircuitTimeoutSec   = 30
)

// DefaultApprovalTools are the side-effecting tools that require approval when a gate is configured.
//
//nolint:gochecknoglobals // default list
var DefaultApprovalTools = []string{"write_file", "edit_file", "delete_file", "web_fetch", "shell"}

// ProviderSettings overrides the built-in defaults for one provider kind.
type ProviderSettings struct {
	BaseURL       string `json:"base_url,omitempty"`
	DefaultModel  string `json:"default_model,omitempty"`
	CredentialRef string `json:"credential_ref,omitempty"`
}

// RetryConfig controls retries of stream establishment.
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts"`
	InitialDelayMs int     `json:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms"`
	BackoffFactor  float64 `json:"backoff_factor"`
	Jitter         bool    `json:"jitter"`
}

// CircuitConfig controls the per-endpoint circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	TimeoutSec       int `json:"timeout_sec"`
}

// ResilienceConfig groups the middleware settings applied to every resolved endpoint.
type ResilienceConfig struct {
	Retry             RetryConfig   `json:"retry"`
	Circuit           CircuitConfig `json:"circuit"`
	RequestTimeoutSec int           `json:"request_timeout_sec"`
}

// ChatConfig configures single-agent runs and the deep-agent runtime.
type ChatConfig struct {
	MaxToolSteps        int      `json:"max_tool_steps"`
	SubAgentMaxDepth    int      `json:"sub_agent_max_depth"`
	SubAgentTimeoutSec  int      `json:"sub_agent_timeout_sec"`
	ApprovalTools       []string `json:"approval_tools"`
	CheckpointRetention int      `json:"checkpoint_retention"`
	ContextTokens       int      `json:"context_tokens"`
}

// ConsensusConfig configures the fork/judge/synthesize graph.
type ConsensusConfig struct {
	TimeoutSec      int `json:"timeout_sec"`
	MaxConcurrency  int `json:"max_concurrency"`
	MaxAnalystSteps int `json:"max_analyst_steps"`
}

// MemoryConfig locates the durable memory store.
type MemoryConfig struct {
	Path string `json:"path"` // relative paths resolve against ConfigDir
}

// MetricsConfig toggles Prometheus recording.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Config is the complete persisted configuration.
type Config struct {
	SchemaVersion string                      `json:"schema_version"`
	Providers     map[string]ProviderSettings `json:"providers,omitempty"`
	Resilience    ResilienceConfig            `json:"resilience"`
	Chat          ChatConfig                  `json:"chat"`
	Consensus     ConsensusConfig             `json:"consensus"`
	Memory        MemoryConfig                `json:"memory"`
	Metrics       MetricsConfig               `json:"metrics"`
}

// Global config instance with mutex protection.
//
//nolint:gochecknoglobals // intentional singleton
var (
	config     *Config
	projectDir string
	logger     = logx.NewLogger("config")
	mu         sync.RWMutex
)

// GetConfig returns the current global config BY VALUE.
// Must call LoadConfig (or SetConfigForTesting) first.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return cloneConfig(config), nil
}

// GetConfigOrDefault returns the global config, or the defaults when none is loaded.
func GetConfigOrDefault() Config {
	cfg, err := GetConfig()
	if err != nil {
		return *createDefaultConfig()
	}
	return cfg
}

// SetConfigForTesting sets the global config. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// ProjectDir returns the directory passed to LoadConfig.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// LoadConfig loads <dir>/.agentcore/config.json into the global singleton.
//
//   - Missing file: defaults are written and used.
//   - Existing file: defaults fill missing fields, then the result is validated and saved back.
//   - Unparseable file: error, the file is left untouched.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = dir
	path := filepath.Join(dir, ConfigDir, ConfigFilename)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("Config file not found, creating %s", path)
		config = createDefaultConfig()
		return saveConfigLocked()
	}

	loaded, err := loadConfigFromFile(path)
	if err != nil {
		return fmt.Errorf("config file exists but cannot be parsed: %w", err)
	}
	applyDefaults(loaded)
	if err := validateConfig(loaded); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config = loaded
	if err := saveConfigLocked(); err != nil {
		return fmt.Errorf("failed to save config with applied defaults: %w", err)
	}
	logger.Info("Config loaded from %s", path)
	return nil
}

// UpdateChat validates and persists new chat settings.
func UpdateChat(chat *ChatConfig) error {
	return update(func(c *Config) { c.Chat = *chat })
}

// UpdateConsensus validates and persists new consensus settings.
func UpdateConsensus(cons *ConsensusConfig) error {
	return update(func(c *Config) { c.Consensus = *cons })
}

// UpdateProvider validates and persists overrides for one provider kind.
func UpdateProvider(kind string, settings ProviderSettings) error {
	return update(func(c *Config) {
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderSettings)
		}
		c.Providers[kind] = settings
	})
}

func update(mutate func(*Config)) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	next := cloneConfig(config)
	mutate(&next)
	if err := validateConfig(&next); err != nil {
		return err
	}
	config = &next
	if projectDir == "" {
		return nil
	}
	return saveConfigLocked()
}

// SaveConfig writes cfg to <dir>/.agentcore/config.json.
func SaveConfig(cfg *Config, dir string) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	return writeConfig(cfg, filepath.Join(dir, ConfigDir, ConfigFilename))
}

func saveConfigLocked() error {
	if projectDir == "" {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return writeConfig(config, filepath.Join(projectDir, ConfigDir, ConfigFilename))
}

func writeConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON %s: %w", path, err)
	}
	return &cfg, nil
}

func cloneConfig(c *Config) Config {
	out := *c
	if c.Providers != nil {
		out.Providers = make(map[string]ProviderSettings, len(c.Providers))
		for k, v := range c.Providers {
			out.Providers[k] = v
		}
	}
	out.Chat.ApprovalTools = append([]string(nil), c.Chat.ApprovalTools...)
	return out
}

func createDefaultConfig() *Config {
	cfg := &Config{SchemaVersion: SchemaVersion}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued fields.
func applyDefaults(c *Config) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SchemaVersion
	}
	r := &c.Resilience
	if r.Retry.MaxAttempts == 0 {
		r.Retry = RetryConfig{
			MaxAttempts:    DefaultRetryAttempts,
			InitialDelayMs: DefaultRetryInitialMs,
			MaxDelayMs:     DefaultRetryMaxMs,
			BackoffFactor:  DefaultBackoffFactor,
			Jitter:         true,
		}
	}
	if r.Circuit.FailureThreshold == 0 {
		r.Circuit = CircuitConfig{
			FailureThreshold: DefaultFailureThreshold,
			SuccessThreshold: DefaultSuccessThreshold,
			TimeoutSec:       DefaultCircuitTimeoutSec,
		}
	}
	if r.RequestTimeoutSec == 0 {
		r.RequestTimeoutSec = DefaultRequestTimeoutSec
	}

	ch := &c.Chat
	if ch.MaxToolSteps == 0 {
		ch.MaxToolSteps = DefaultMaxToolSteps
	}
	if ch.SubAgentMaxDepth == 0 {
		ch.SubAgentMaxDepth = DefaultSubAgentMaxDepth
	}
	if ch.SubAgentTimeoutSec == 0 {
		ch.SubAgentTimeoutSec = DefaultSubAgentTimeoutSec
	}
	if ch.ApprovalTools == nil {
		ch.ApprovalTools = append([]string(nil), DefaultApprovalTools...)
	}
	if ch.CheckpointRetention == 0 {
		ch.CheckpointRetention = DefaultCheckpointRetention
	}
	if ch.ContextTokens == 0 {
		ch.ContextTokens = DefaultContextTokens
	}

	co := &c.Consensus
	if co.TimeoutSec == 0 {
		co.TimeoutSec = DefaultConsensusTimeoutSec
	}
	if co.MaxConcurrency == 0 {
		co.MaxConcurrency = DefaultMaxConcurrency
	}
	if co.MaxAnalystSteps == 0 {
		co.MaxAnalystSteps = DefaultMaxAnalystSteps
	}

	if c.Memory.Path == "" {
		c.Memory.Path = DefaultMemoryFile
	}
}

func validateConfig(c *Config) error {
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %q (want %s)", c.SchemaVersion, SchemaVersion)
	}
	if c.Resilience.Retry.MaxAttempts < 1 {
		return fmt.Errorf("resilience.retry.max_attempts must be at least 1")
	}
	if c.Resilience.Retry.BackoffFactor < 1 {
		return fmt.Errorf("resilience.retry.backoff_factor must be >= 1")
	}
	if c.Resilience.RequestTimeoutSec < 1 {
		return fmt.Errorf("resilience.request_timeout_sec must be positive")
	}
	if c.Chat.MaxToolSteps < 1 {
		return fmt.Errorf("chat.max_tool_steps must be positive")
	}
	if c.Chat.SubAgentMaxDepth < 0 || c.Chat.SubAgentMaxDepth > DefaultSubAgentMaxDepth {
		return fmt.Errorf("chat.sub_agent_max_depth must be between 0 and %d", DefaultSubAgentMaxDepth)
	}
	if c.Chat.CheckpointRetention < 1 {
		return fmt.Errorf("chat.checkpoint_retention must be positive")
	}
	if c.Consensus.MaxConcurrency < 1 {
		return fmt.Errorf("consensus.max_concurrency must be positive")
	}
	if c.Consensus.TimeoutSec < 1 {
		return fmt.Errorf("consensus.timeout_sec must be positive")
	}
	for kind := range c.Providers {
		if _, ok := ProviderDefaults[kind]; !ok {
			return fmt.Errorf("providers: unknown provider kind %q", kind)
		}
	}
	return nil
}

// RequestTimeout returns the per-request timeout as a duration.
func (r ResilienceConfig) RequestTimeout() time.Duration {
	return time.Duration(r.RequestTimeoutSec) * time.Second
}

// SubAgentTimeout returns the per-sub-agent timeout as a duration.
func (c ChatConfig) SubAgentTimeout() time.Duration {
	return time.Duration(c.SubAgentTimeoutSec) * time.Second
}

// Timeout returns the graph wall-clock bound as a duration.
func (c ConsensusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// MemoryPath resolves the memory store location.
func (c Config) MemoryPath(dir string) string {
	if filepath.IsAbs(c.Memory.Path) {
		return c.Memory.Path
	}
	return filepath.Join(dir, ConfigDir, c.Memory.Path)
}
