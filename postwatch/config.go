package postwatch

import (
	"github.com/hazyhaar/fakezero/postwatch/internal/config"
	"github.com/hazyhaar/fakezero/postwatch/internal/sink"
)

// Config is the top-level postwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig is a feed to watch in the browser.
type PageConfig = config.PageConfig

// ClassifierConfig selects the optional post classifier.
type ClassifierConfig = config.ClassifierConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// Detection is the event sent to sinks for every processed post.
type Detection = sink.Detection

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
