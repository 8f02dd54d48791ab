package annotator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/floatnote/annotation"
	"github.com/hazyhaar/floatnote/overlay"
)

// Config holds all floatnote configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Listen    string          `yaml:"listen"`
	Highlight HighlightConfig `yaml:"highlight"`
	Restore   RestoreConfig   `yaml:"restore"`
	Selection SelectionConfig `yaml:"selection"`
	Note      NoteConfig      `yaml:"note"`
	Browser   BrowserConfig   `yaml:"browser"`
	Sinks     []SinkConfig    `yaml:"sinks"`
	CORS      CORSConfig      `yaml:"cors"`
}

// HighlightConfig controls highlight painting.
type HighlightConfig struct {
	Key          string `yaml:"key"`
	DefaultColor string `yaml:"default_color"`
}

// RestoreConfig controls the restoration retry queue.
type RestoreConfig struct {
	MaxRounds  int           `yaml:"max_rounds"`
	RoundDelay time.Duration `yaml:"round_delay"`
}

// SelectionConfig controls the armed selection window.
type SelectionConfig struct {
	Window time.Duration `yaml:"window"`
}

// NoteConfig sets the size of new notes, in CSS pixels.
type NoteConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// BrowserConfig configures the Chrome instance behind live pages.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"` // ws:// control URL; empty launches a local Chrome
	Headless         *bool         `yaml:"headless"`
	Stealth          bool          `yaml:"stealth"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// SinkConfig declares one event sink: "stdout" or "webhook".
type SinkConfig struct {
	Type    string `yaml:"type"`
	URL     string `yaml:"url"`
	Retries int    `yaml:"retries"`
}

// CORSConfig lists the origins allowed to call the HTTP surface.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "floatnote.db"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8917"
	}
	if c.Highlight.Key == "" {
		c.Highlight.Key = overlay.DefaultKey
	}
	if c.Highlight.DefaultColor == "" {
		c.Highlight.DefaultColor = annotation.DefaultColor
	}
	if c.Restore.MaxRounds <= 0 {
		c.Restore.MaxRounds = 5
	}
	if c.Restore.RoundDelay <= 0 {
		c.Restore.RoundDelay = time.Second
	}
	if c.Selection.Window <= 0 {
		c.Selection.Window = 10 * time.Second
	}
	if c.Note.Width <= 0 {
		c.Note.Width = 300
	}
	if c.Note.Height <= 0 {
		c.Note.Height = 200
	}
	if c.Browser.Headless == nil {
		on := true
		c.Browser.Headless = &on
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 2 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"chrome-extension://*", "http://localhost:*", "http://127.0.0.1:*"}
	}
}

// ApplyEnv overrides config values from FLOATNOTE_DB, FLOATNOTE_LISTEN and
// FLOATNOTE_BROWSER.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("FLOATNOTE_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("FLOATNOTE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("FLOATNOTE_BROWSER"); v != "" {
		c.Browser.Remote = v
	}
}

// Validate rejects values defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := annotation.NormalizeColor(c.Highlight.DefaultColor); err != nil {
		return fmt.Errorf("config: highlight.default_color: %w", err)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, nil
}
