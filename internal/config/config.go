package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultAPIURL      = "http://localhost:2024"
	DefaultAssistantID = "agent"
)

type Config struct {
	DataDir               string `json:"data_dir"`
	LogLevel              string `json:"log_level"`
	LogFile               string `json:"log_file,omitempty"`
	APIURL                string `json:"api_url"`
	AssistantID           string `json:"assistant_id"`
	APIKey                string `json:"api_key,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	MaxConcurrent         int    `json:"max_concurrent"`
	Health                struct {
		IntervalMS int `json:"interval_ms"`
	} `json:"health"`
	Session struct {
		ThreadIDRefreshDelayMS int `json:"thread_id_refresh_delay_ms"`
		MessageRefreshDelayMS  int `json:"message_refresh_delay_ms"`
	} `json:"session"`
	Threads struct {
		SearchLimit    int `json:"search_limit"`
		TitleMaxLength int `json:"title_max_length"`
	} `json:"threads"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Telegram struct {
		Token string `json:"token,omitempty"`
	} `json:"telegram"`
	Telemetry struct {
		Enabled bool   `json:"enabled"`
		Dir     string `json:"dir,omitempty"`
	} `json:"telemetry"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".graphchat"),
		LogLevel:      "info",
		APIURL:        DefaultAPIURL,
		AssistantID:   DefaultAssistantID,
		MaxConcurrent: 2,
	}
	cfg.Health.IntervalMS = 30000
	cfg.Session.ThreadIDRefreshDelayMS = 4000
	cfg.Session.MessageRefreshDelayMS = 3000
	cfg.Threads.SearchLimit = 100
	cfg.Threads.TitleMaxLength = 40
	cfg.HTTP.Listen = "127.0.0.1:3000"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if v := os.Getenv("GRAPHCHAT_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("GRAPHCHAT_ASSISTANT_ID"); v != "" {
		cfg.AssistantID = v
	}
	if v := os.Getenv("LANGGRAPH_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}

	return cfg, nil
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Defaults returns the Config State defaults derived from this config.
func (c *Config) Defaults() Defaults {
	return Defaults{APIURL: c.APIURL, AssistantID: c.AssistantID, APIKey: c.APIKey}
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalMS) * time.Millisecond
}

func (c *Config) ThreadIDRefreshDelay() time.Duration {
	return time.Duration(c.Session.ThreadIDRefreshDelayMS) * time.Millisecond
}

func (c *Config) MessageRefreshDelay() time.Duration {
	return time.Duration(c.Session.MessageRefreshDelayMS) * time.Millisecond
}
