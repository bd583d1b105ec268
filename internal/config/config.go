package config

import (
	"fmt"
	"time"
)

// Config represents the main Riko configuration
type Config struct {
	// Model
	Model        string `json:"model" mapstructure:"model"`
	MaxTokens    int    `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`

	// Run bounds
	MaxTurns        int `json:"max_turns" mapstructure:"max_turns"`
	ToolConcurrency int `json:"tool_concurrency" mapstructure:"tool_concurrency"`

	// Shell session
	CommandTimeoutSeconds int `json:"command_timeout_seconds" mapstructure:"command_timeout_seconds"`

	// Context bounds
	KeepImages   int `json:"keep_images" mapstructure:"keep_images"`
	PruneChunk   int `json:"prune_chunk" mapstructure:"prune_chunk"`
	CacheMarkers int `json:"cache_markers" mapstructure:"cache_markers"`

	// Display used by the computer tool
	Display string `json:"display" mapstructure:"display"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model:                 "claude-3-5-sonnet-20241022",
		MaxTokens:             4096,
		MaxTurns:              50,
		CommandTimeoutSeconds: 120,
		KeepImages:            10,
		PruneChunk:            5,
		CacheMarkers:          3,
		Display:               ":1",
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// CommandTimeout returns the per-command shell timeout as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive")
	}
	if c.ToolConcurrency < 0 {
		return fmt.Errorf("tool_concurrency cannot be negative")
	}
	if c.CommandTimeoutSeconds <= 0 {
		return fmt.Errorf("command_timeout_seconds must be positive")
	}
	if c.KeepImages < 0 {
		return fmt.Errorf("keep_images cannot be negative")
	}
	if c.PruneChunk < 0 {
		return fmt.Errorf("prune_chunk cannot be negative")
	}
	if c.CacheMarkers < 0 {
		return fmt.Errorf("cache_markers cannot be negative")
	}
	return nil
}
