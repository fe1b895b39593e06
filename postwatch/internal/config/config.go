// Package config handles postwatch configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level postwatch configuration.
type Config struct {
	DBPath     string           `yaml:"db_path"`
	Listen     string           `yaml:"listen"`
	Browser    BrowserConfig    `yaml:"browser"`
	Pages      []PageConfig     `yaml:"pages"`
	Viewport   ViewportConfig   `yaml:"viewport"`
	Debounce   DebounceConfig   `yaml:"debounce"`
	StatePoll  StatePollConfig  `yaml:"state_poll"`
	Annotation AnnotationConfig `yaml:"annotation"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Sinks      []SinkConfig     `yaml:"sinks"`
	Markdown   bool             `yaml:"markdown"`
	Events     EventsConfig     `yaml:"events"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Stealth          string   `yaml:"stealth"` // headless | headful
	ResourceBlocking []string `yaml:"resource_blocking"`
	XvfbDisplay      string   `yaml:"xvfb_display"`
}

// PageConfig is a feed to watch in the browser.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

type ViewportConfig struct {
	MarginBottom int `yaml:"margin_bottom"`
}

// DebounceConfig controls how live mutation batches are coalesced.
type DebounceConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

type StatePollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type AnnotationConfig struct {
	Message string `yaml:"message"`
}

// ClassifierConfig selects the optional post classifier.
type ClassifierConfig struct {
	Provider      string `yaml:"provider"` // "" | openai
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	MaxInFlight   int    `yaml:"max_inflight"`
}

// EventsConfig bounds the pipeline event log. A negative RetentionDays
// keeps every event.
type EventsConfig struct {
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for i, s := range cfg.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return nil, fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return nil, fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "fakezero.db"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Viewport.MarginBottom <= 0 {
		c.Viewport.MarginBottom = 200
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 100 * time.Millisecond
	}
	if c.Debounce.MaxBuffer <= 0 {
		c.Debounce.MaxBuffer = 500
	}
	if c.StatePoll.Interval <= 0 {
		c.StatePoll.Interval = 250 * time.Millisecond
	}
	if c.Classifier.APIKeyEnv == "" {
		c.Classifier.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Classifier.RatePerMinute <= 0 {
		c.Classifier.RatePerMinute = 20
	}
	if c.Classifier.MaxInFlight <= 0 {
		c.Classifier.MaxInFlight = 2
	}
	if c.Events.RetentionDays == 0 {
		c.Events.RetentionDays = 30
	}
	if c.Events.CleanupInterval <= 0 {
		c.Events.CleanupInterval = time.Hour
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
	}
}
