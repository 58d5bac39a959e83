// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/thinkchat/internal/cloud"
	"github.com/jeranaias/thinkchat/internal/util"
)

// CurrentVersion is the schema version written by Save.
const CurrentVersion = 3

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete thinkchat configuration.
type Config struct {
	Version      int    `toml:"version" json:"version"`
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`

	API        APIConfig       `toml:"api" json:"api"`
	Generation cloud.Params    `toml:"generation" json:"generation"`
	Reasoning  ReasoningConfig `toml:"reasoning" json:"reasoning"`
	Profile    ProfileConfig   `toml:"profile" json:"profile"`
	Memory     MemoryConfig    `toml:"memory" json:"memory"`
	Storage    StorageConfig   `toml:"storage" json:"storage"`
	Logging    LoggingConfig   `toml:"logging" json:"logging"`
	UI         UIConfig        `toml:"ui" json:"ui"`
}

// APIConfig describes the completion endpoint.
type APIConfig struct {
	Endpoint    string `toml:"endpoint" json:"endpoint"`
	Model       string `toml:"model" json:"model"`
	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs"`
	MaxRetries  int    `toml:"max_retries" json:"max_retries"`
	// RateLimitRPS paces outgoing calls. 0 disables pacing.
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	RateBurst    int     `toml:"rate_burst" json:"rate_burst"`
	// Framing is "auto", "sse" or "concat".
	Framing string `toml:"framing" json:"framing"`
}

// ReasoningConfig controls the multi-phase pipeline.
type ReasoningConfig struct {
	// Auto lets the classifier decide per message.
	Auto bool `toml:"auto" json:"auto"`
	// Strategy is "staged" or "adaptive".
	Strategy          string `toml:"strategy" json:"strategy"`
	MaxAttempts       int    `toml:"max_attempts" json:"max_attempts"`
	MaxSteps          int    `toml:"max_steps" json:"max_steps"`
	ClassifierHistory int    `toml:"classifier_history" json:"classifier_history"`
}

// ProfileConfig personalizes the system prompt.
type ProfileConfig struct {
	Name               string `toml:"name" json:"name"`
	Occupation         string `toml:"occupation" json:"occupation"`
	CustomInstructions string `toml:"custom_instructions" json:"custom_instructions"`
}

// MemoryConfig controls long-term fact extraction.
type MemoryConfig struct {
	Enabled     bool `toml:"enabled" json:"enabled"`
	MaxFacts    int  `toml:"max_facts" json:"max_facts"`
	TimeoutSecs int  `toml:"timeout_secs" json:"timeout_secs"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	// Backend is "json" or "sqlite".
	Backend string `toml:"backend" json:"backend"`
	// Dir overrides the data directory (default: config dir).
	Dir              string `toml:"dir" json:"dir"`
	MaxConversations int    `toml:"max_conversations" json:"max_conversations"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	// File is a log file path. Empty logs to stderr.
	File string `toml:"file" json:"file"`
}

// UIConfig controls terminal rendering.
type UIConfig struct {
	Markdown      bool   `toml:"markdown" json:"markdown"`
	Style         string `toml:"style" json:"style"`
	ShowReasoning bool   `toml:"show_reasoning" json:"show_reasoning"`
	Width         int    `toml:"width" json:"width"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultSystemPrompt is used when the config leaves system_prompt empty.
const DefaultSystemPrompt = "You are a helpful assistant. Answer clearly and accurately. Use Markdown when it helps readability."

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version:      CurrentVersion,
		SystemPrompt: DefaultSystemPrompt,

		API: APIConfig{
			Endpoint:     cloud.DefaultEndpoint,
			Model:        cloud.DefaultModel,
			TimeoutSecs:  int(cloud.DefaultTimeout.Seconds()),
			MaxRetries:   cloud.DefaultMaxRetries,
			RateLimitRPS: 0,
			RateBurst:    1,
			Framing:      "auto",
		},

		Reasoning: ReasoningConfig{
			Auto:              true,
			Strategy:          "staged",
			MaxAttempts:       3,
			MaxSteps:          15,
			ClassifierHistory: 6,
		},

		Memory: MemoryConfig{
			Enabled:     false,
			MaxFacts:    200,
			TimeoutSecs: 30,
		},

		Storage: StorageConfig{
			Backend:          "json",
			MaxConversations: 1000,
		},

		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},

		UI: UIConfig{
			Markdown:      true,
			Style:         "auto",
			ShowReasoning: true,
			Width:         0,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the thinkchat configuration directory path.
// THINKCHAT_HOME overrides the default ~/.thinkchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("THINKCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".thinkchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ActivePath returns the config file Load would read, or the TOML path if
// neither file exists.
func ActivePath() (string, error) {
	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	jsonPath, err := ConfigPathJSON()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, nil
	}
	return tomlPath, nil
}

// DataDir returns where conversations and memory are stored.
func (c *Config) DataDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	return ConfigDir()
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ActivePath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Files ending in .json are read as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes TOML config text. Used by tests and `config init --check`.
func Parse(data []byte) (*Config, error) {
	raw := map[string]any{}
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}
	cfg, err := decode(raw)
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

func readRaw(path string) (map[string]any, error) {
	raw := map[string]any{}
	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON file: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode JSON file: %w", err)
		}
		return raw, nil
	}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return raw, nil
}

// decode migrates a raw document to the current schema and decodes it on
// top of the defaults, so keys missing from the file keep default values.
func decode(raw map[string]any) (*Config, error) {
	version := storedVersion(raw)
	migrated, err := Migrate(version, raw)
	if err != nil {
		return nil, fmt.Errorf("config migration failed: %w", err)
	}
	if version < CurrentVersion {
		log.Info().Str("component", "config").Int("from", version).Int("to", CurrentVersion).Msg("migrated config")
	}

	data, err := json.Marshal(migrated)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// storedVersion reads the version key. Files from before versioning have
// none and are version 1.
func storedVersion(raw map[string]any) int {
	switch v := raw["version"].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	case string:
		// early releases wrote a semver string
		if major, _, ok := strings.Cut(v, "."); ok {
			if n, err := strconv.Atoi(major); err == nil && n > 1 {
				return n
			}
		}
	}
	return 1
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to path, as JSON when path ends in .json and TOML
// otherwise.
func Save(cfg *Config, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return SaveJSON(cfg, path)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# thinkchat configuration file\n")
	buf.WriteString("# Generated by thinkchat - edit with care\n\n")

	out := *cfg
	out.Version = CurrentVersion
	if err := toml.NewEncoder(&buf).Encode(&out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file.
func SaveJSON(cfg *Config, path string) error {
	out := *cfg
	out.Version = CurrentVersion
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validFramings   = []string{"auto", "sse", "concat"}
	validStrategies = []string{"staged", "adaptive"}
	validBackends   = []string{"json", "sqlite"}
	validLevels     = []string{"trace", "debug", "info", "warn", "error", "disabled"}
	validFormats    = []string{"console", "json"}
	validStyles     = []string{"auto", "dark", "light", "notty"}
)

// Validate validates the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}
	oneOf := func(field, value string, allowed []string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		add(field, fmt.Sprintf("%q is not one of %s", value, strings.Join(allowed, ", ")))
	}

	if c.API.Endpoint == "" {
		add("api.endpoint", "must not be empty")
	} else if u, err := url.Parse(c.API.Endpoint); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		add("api.endpoint", "must be an http or https URL")
	}
	if c.API.Model == "" {
		add("api.model", "must not be empty")
	}
	if c.API.TimeoutSecs < 1 {
		add("api.timeout_secs", "must be at least 1")
	}
	if c.API.MaxRetries < 1 || c.API.MaxRetries > 10 {
		add("api.max_retries", "must be between 1 and 10")
	}
	if c.API.RateLimitRPS < 0 {
		add("api.rate_limit_rps", "must not be negative")
	}
	oneOf("api.framing", c.API.Framing, validFramings)

	if t := c.Generation.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("generation.temperature", "must be between 0 and 2")
	}
	if p := c.Generation.TopP; p != nil && (*p < 0 || *p > 1) {
		add("generation.top_p", "must be between 0 and 1")
	}
	if m := c.Generation.MaxTokens; m != nil && *m < 1 {
		add("generation.max_tokens", "must be positive")
	}

	oneOf("reasoning.strategy", c.Reasoning.Strategy, validStrategies)
	if c.Reasoning.MaxAttempts < 1 || c.Reasoning.MaxAttempts > 10 {
		add("reasoning.max_attempts", "must be between 1 and 10")
	}
	if c.Reasoning.MaxSteps < 1 || c.Reasoning.MaxSteps > 50 {
		add("reasoning.max_steps", "must be between 1 and 50")
	}
	if c.Reasoning.ClassifierHistory < 0 {
		add("reasoning.classifier_history", "must not be negative")
	}

	if c.Memory.MaxFacts < 0 {
		add("memory.max_facts", "must not be negative")
	}
	oneOf("storage.backend", c.Storage.Backend, validBackends)
	if c.Storage.MaxConversations < 0 {
		add("storage.max_conversations", "must not be negative")
	}
	oneOf("logging.level", c.Logging.Level, validLevels)
	oneOf("logging.format", c.Logging.Format, validFormats)
	oneOf("ui.style", c.UI.Style, validStyles)
	if c.UI.Width < 0 {
		add("ui.width", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	c.Version = CurrentVersion
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = defaults.SystemPrompt
	}

	if c.API.Endpoint == "" {
		c.API.Endpoint = defaults.API.Endpoint
	}
	if c.API.Model == "" {
		c.API.Model = defaults.API.Model
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = defaults.API.TimeoutSecs
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = defaults.API.MaxRetries
	}
	if c.API.RateBurst < 1 {
		c.API.RateBurst = defaults.API.RateBurst
	}
	if c.API.Framing == "" {
		c.API.Framing = defaults.API.Framing
	}

	if c.Reasoning.Strategy == "" {
		c.Reasoning.Strategy = defaults.Reasoning.Strategy
	}
	if c.Reasoning.MaxAttempts == 0 {
		c.Reasoning.MaxAttempts = defaults.Reasoning.MaxAttempts
	}
	if c.Reasoning.MaxSteps == 0 {
		c.Reasoning.MaxSteps = defaults.Reasoning.MaxSteps
	}

	if c.Memory.MaxFacts == 0 {
		c.Memory.MaxFacts = defaults.Memory.MaxFacts
	}
	if c.Memory.TimeoutSecs == 0 {
		c.Memory.TimeoutSecs = defaults.Memory.TimeoutSecs
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	if c.UI.Style == "" {
		c.UI.Style = defaults.UI.Style
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - THINKCHAT_ENDPOINT: overrides api.endpoint
//   - THINKCHAT_MODEL: overrides api.model
//   - THINKCHAT_AUTO_REASONING: "1"/"true" or "0"/"false"
//   - THINKCHAT_STRATEGY: overrides reasoning.strategy
//   - THINKCHAT_STORAGE: overrides storage.backend
//   - THINKCHAT_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("THINKCHAT_ENDPOINT"); v != "" {
		c.API.Endpoint = v
	}
	if v := os.Getenv("THINKCHAT_MODEL"); v != "" {
		c.API.Model = v
	}
	if v := os.Getenv("THINKCHAT_AUTO_REASONING"); v != "" {
		if b, ok := parseBool(v); ok {
			c.Reasoning.Auto = b
		}
	}
	if v := os.Getenv("THINKCHAT_STRATEGY"); v != "" {
		c.Reasoning.Strategy = strings.ToLower(v)
	}
	if v := os.Getenv("THINKCHAT_STORAGE"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("THINKCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// parseBool accepts the spellings that have shown up in stored settings,
// including a JSON string that was encoded twice.
func parseBool(v string) (bool, bool) {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(v), `"\`))
	switch s {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// =============================================================================
// HELPERS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Generation = cloneParams(c.Generation)
	return &clone
}

func cloneParams(p cloud.Params) cloud.Params {
	out := p
	if p.Temperature != nil {
		v := *p.Temperature
		out.Temperature = &v
	}
	if p.TopP != nil {
		v := *p.TopP
		out.TopP = &v
	}
	if p.MaxTokens != nil {
		v := *p.MaxTokens
		out.MaxTokens = &v
	}
	if p.Seed != nil {
		v := *p.Seed
		out.Seed = &v
	}
	if p.PresencePenalty != nil {
		v := *p.PresencePenalty
		out.PresencePenalty = &v
	}
	if p.FrequencyPenalty != nil {
		v := *p.FrequencyPenalty
		out.FrequencyPenalty = &v
	}
	if p.ReasoningEffort != nil {
		v := *p.ReasoningEffort
		out.ReasoningEffort = &v
	}
	return out
}

// String returns the config as TOML for display.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
