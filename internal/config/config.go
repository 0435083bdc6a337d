package config

import (
	"fmt"

	"content-refinery/pkg/config"
)

// LLM holds the configuration for the LLM provider endpoint.
type LLM struct {
	APIKey              string  `mapstructure:"api_key"`
	BaseURL             string  `mapstructure:"base_url"`
	Model               string  `mapstructure:"model"`
	Temperature         float64 `mapstructure:"temperature"`
	MaxRequestPerMinute int     `mapstructure:"max_request_per_minute"`
	MaxTokenPerMinute   int     `mapstructure:"max_token_per_minute"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
}

// Chat holds configuration for the outbound chat platform.
type Chat struct {
	SendToken          string `mapstructure:"send_token"`
	SendEndpoint       string `mapstructure:"send_endpoint"`
	PrimaryChannelID   string `mapstructure:"primary_channel_id"`
	SecondaryChannelID string `mapstructure:"secondary_channel_id"`
	AdminChannelID     string `mapstructure:"admin_channel_id"`
}

// Heartbeat holds the elastic scheduler configuration.
type Heartbeat struct {
	BaseMs      int64  `mapstructure:"base_ms"`
	MinMs       int64  `mapstructure:"min_ms"`
	MaxMs       int64  `mapstructure:"max_ms"`
	DigestCron  string `mapstructure:"digest_cron"`
	JanitorCron string `mapstructure:"janitor_cron"`
}

// Analyzer holds batch analysis configuration.
type Analyzer struct {
	BatchMax             int   `mapstructure:"batch_max"`
	MaxRetries           int   `mapstructure:"max_retries"`
	ReuseWindowMs        int64 `mapstructure:"reuse_window_ms"`
	PromoteThreshold     int   `mapstructure:"promote_threshold"`
	SignalDedupeWindowMs int64 `mapstructure:"signal_dedupe_window_ms"`
}

// Mirror holds outbound routing thresholds.
type Mirror struct {
	PrimaryThreshold   int `mapstructure:"primary_threshold"`
	SecondaryThreshold int `mapstructure:"secondary_threshold"`
}

// Poller holds feed polling configuration.
type Poller struct {
	StalenessMs     int64 `mapstructure:"staleness_ms"`
	FetchTimeoutSec int   `mapstructure:"fetch_timeout_sec"`
}

// Config holds the full configuration for the refinery.
type Config struct {
	App       config.App      `mapstructure:"app"`
	Logger    config.Logger   `mapstructure:"logger"`
	Database  config.Database `mapstructure:"database"`
	Redis     config.Redis    `mapstructure:"redis"`
	Server    config.Server   `mapstructure:"server"`
	LLM       LLM             `mapstructure:"llm"`
	Chat      Chat            `mapstructure:"chat"`
	Heartbeat Heartbeat       `mapstructure:"heartbeat"`
	Analyzer  Analyzer        `mapstructure:"analyzer"`
	Mirror    Mirror          `mapstructure:"mirror"`
	Poller    Poller          `mapstructure:"poller"`
}

// Load loads the refinery configuration from the given path and
// applies defaults for optional knobs.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks the required keys. A missing LLM credential is a
// fatal configuration error by contract.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.Chat.SendToken == "" || c.Chat.SendEndpoint == "" {
		return fmt.Errorf("chat.send_token and chat.send_endpoint are required for mirroring")
	}
	if c.Chat.PrimaryChannelID == "" {
		return fmt.Errorf("chat.primary_channel_id is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LLM.Model == "" {
		c.LLM.Model = "gemini-2.0-flash"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.MaxRequestPerMinute == 0 {
		c.LLM.MaxRequestPerMinute = 15
	}
	if c.LLM.MaxTokenPerMinute == 0 {
		c.LLM.MaxTokenPerMinute = 1_000_000
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 30
	}
	if c.Heartbeat.BaseMs == 0 {
		c.Heartbeat.BaseMs = 300_000
	}
	if c.Heartbeat.MinMs == 0 {
		c.Heartbeat.MinMs = 5_000
	}
	if c.Heartbeat.MaxMs == 0 {
		c.Heartbeat.MaxMs = 3_600_000
	}
	if c.Heartbeat.DigestCron == "" {
		c.Heartbeat.DigestCron = "0 */12 * * *"
	}
	if c.Heartbeat.JanitorCron == "" {
		c.Heartbeat.JanitorCron = "30 */12 * * *"
	}
	if c.Analyzer.BatchMax == 0 {
		c.Analyzer.BatchMax = 20
	}
	if c.Analyzer.MaxRetries == 0 {
		c.Analyzer.MaxRetries = 5
	}
	if c.Analyzer.ReuseWindowMs == 0 {
		c.Analyzer.ReuseWindowMs = 86_400_000
	}
	if c.Analyzer.PromoteThreshold == 0 {
		c.Analyzer.PromoteThreshold = 40
	}
	if c.Analyzer.SignalDedupeWindowMs == 0 {
		c.Analyzer.SignalDedupeWindowMs = 6 * 3_600_000
	}
	if c.Mirror.PrimaryThreshold == 0 {
		c.Mirror.PrimaryThreshold = 80
	}
	if c.Mirror.SecondaryThreshold == 0 {
		c.Mirror.SecondaryThreshold = 60
	}
	if c.Poller.StalenessMs == 0 {
		c.Poller.StalenessMs = 15 * 60_000
	}
	if c.Poller.FetchTimeoutSec == 0 {
		c.Poller.FetchTimeoutSec = 15
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8787
	}
}
