package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/iambrandonn/bmoffice/internal/fsutil"
	"gopkg.in/yaml.v3"
)

// FileNames are the config file names Find looks for, in order
var FileNames = []string{"bmoffice.json", "bmoffice.yaml", "bmoffice.yml", "bmoffice.toml"}

// Config represents the bmoffice configuration file
type Config struct {
	Version  string   `json:"version" yaml:"version" toml:"version"`
	LogLevel string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	API      API      `json:"api" yaml:"api" toml:"api"`
	Poll     Poll     `json:"poll" yaml:"poll" toml:"poll"`
	Movement Movement `json:"movement" yaml:"movement" toml:"movement"`
	Feed     Feed     `json:"feed" yaml:"feed" toml:"feed"`
	Record   Record   `json:"record" yaml:"record" toml:"record"`
}

// API points at the backend
type API struct {
	BaseURL   string `json:"base_url" yaml:"base_url" toml:"base_url"`
	CompanyID string `json:"company_id,omitempty" yaml:"company_id,omitempty" toml:"company_id,omitempty"`
	TimeoutS  int    `json:"timeout_s" yaml:"timeout_s" toml:"timeout_s"`
}

// Poll controls the reconciliation loop
type Poll struct {
	IntervalMs   int `json:"interval_ms" yaml:"interval_ms" toml:"interval_ms"`
	CleanupEvery int `json:"cleanup_every" yaml:"cleanup_every" toml:"cleanup_every"`
	LogLimit     int `json:"log_limit" yaml:"log_limit" toml:"log_limit"`
}

// Movement controls local animation
type Movement struct {
	HandoffDwellMs int     `json:"handoff_dwell_ms" yaml:"handoff_dwell_ms" toml:"handoff_dwell_ms"`
	SpeedUnitsPerS float64 `json:"speed_units_per_s" yaml:"speed_units_per_s" toml:"speed_units_per_s"`
	TickMs         int     `json:"tick_ms" yaml:"tick_ms" toml:"tick_ms"`
}

// Feed is the websocket presentation feed
type Feed struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

// Record optionally writes every session event to a file
type Record struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version:  "1.0",
		LogLevel: "info",
		API: API{
			BaseURL:  "http://127.0.0.1:3000",
			TimeoutS: 10,
		},
		Poll: Poll{
			IntervalMs:   2000,
			CleanupEvery: 10,
			LogLimit:     50,
		},
		Movement: Movement{
			HandoffDwellMs: 2000,
			SpeedUnitsPerS: 120,
			TickMs:         50,
		},
		Feed: Feed{
			Enabled: false,
			Addr:    "127.0.0.1:8787",
		},
	}
}

// Timeout is the per-request backend timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutS) * time.Second
}

// PollInterval is the delay between poll cycles
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// HandoffDwell is how long a handoff discussion lasts
func (c *Config) HandoffDwell() time.Duration {
	return time.Duration(c.Movement.HandoffDwellMs) * time.Millisecond
}

// Tick is the animation frame interval
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Movement.TickMs) * time.Millisecond
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  \"version\": \"1.0\"")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("configuration error: %v\n\nHint: Use one of debug, info, warn or error:\n  \"log_level\": \"info\"", err)
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("configuration error: missing required field 'api.base_url'\n\nHint: Point the client at the backend:\n  \"api\": {\n    \"base_url\": \"http://127.0.0.1:3000\"\n  }")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("configuration error: invalid 'api.base_url' value: %q\n\nHint: Use an absolute http(s) URL such as \"http://127.0.0.1:3000\"", c.API.BaseURL)
	}

	if c.API.TimeoutS <= 0 {
		return fmt.Errorf("configuration error: invalid 'api.timeout_s' value: %d\n\nHint: Backend calls need a positive timeout:\n  \"api\": {\n    \"timeout_s\": 10\n  }", c.API.TimeoutS)
	}

	if c.Poll.IntervalMs < 100 {
		return fmt.Errorf("configuration error: invalid 'poll.interval_ms' value: %d\n\nHint: Poll at most ten times a second:\n  \"poll\": {\n    \"interval_ms\": 2000\n  }", c.Poll.IntervalMs)
	}
	if c.Poll.CleanupEvery < 0 {
		return fmt.Errorf("configuration error: invalid 'poll.cleanup_every' value: %d\n\nHint: Use 0 to disable stale movement cleanup", c.Poll.CleanupEvery)
	}
	if c.Poll.LogLimit < 0 {
		return fmt.Errorf("configuration error: invalid 'poll.log_limit' value: %d\n\nHint: Use 0 to disable log fetching", c.Poll.LogLimit)
	}

	if c.Movement.SpeedUnitsPerS <= 0 {
		return fmt.Errorf("configuration error: invalid 'movement.speed_units_per_s' value: %g\n\nHint: Actors need a positive walking speed:\n  \"movement\": {\n    \"speed_units_per_s\": 120\n  }", c.Movement.SpeedUnitsPerS)
	}
	if c.Movement.TickMs <= 0 {
		return fmt.Errorf("configuration error: invalid 'movement.tick_ms' value: %d\n\nHint: Use a positive frame interval such as 50", c.Movement.TickMs)
	}
	if c.Movement.HandoffDwellMs < 0 {
		return fmt.Errorf("configuration error: invalid 'movement.handoff_dwell_ms' value: %d\n\nHint: Use 0 for no discussion pause", c.Movement.HandoffDwellMs)
	}

	if c.Feed.Enabled && c.Feed.Addr == "" {
		return fmt.Errorf("configuration error: feed is enabled but 'feed.addr' is empty\n\nHint: Choose a listen address:\n  \"feed\": {\n    \"enabled\": true,\n    \"addr\": \"127.0.0.1:8787\"\n  }")
	}

	return nil
}

// format is a config file encoding
type format int

const (
	formatJSON format = iota
	formatYAML
	formatTOML
)

func formatFor(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".toml":
		return formatTOML, nil
	default:
		return 0, fmt.Errorf("unsupported config file extension %q (want .json, .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// LoadFromFile loads a configuration, picking the decoder by file extension.
// Fields missing from the file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	f, err := formatFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := GenerateDefault()
	switch f {
	case formatJSON:
		err = json.Unmarshal(data, cfg)
	case formatYAML:
		err = yaml.Unmarshal(data, cfg)
	case formatTOML:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration atomically with 0600 permissions, in
// the format matching the file extension
func (c *Config) SaveToFile(path string) error {
	f, err := formatFor(path)
	if err != nil {
		return err
	}

	var data []byte
	switch f {
	case formatJSON:
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	case formatYAML:
		data, err = yaml.Marshal(c)
	case formatTOML:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := fsutil.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Find looks for a config file in start and each of its parents. It returns
// "" when none exists.
func Find(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", start, err)
	}

	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
