package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"civicops/internal/domain"
)

// FileName is the policy file looked up in a workspace.
const FileName = "civicops.yml"

// Config models civicops.yml.
type Config struct {
	Assignment struct {
		IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"`
		DefaultDailyCap int `yaml:"default_daily_cap" json:"default_daily_cap"`
	} `yaml:"assignment" json:"assignment"`
	Priority struct {
		DensityWeight       float64            `yaml:"density_weight" json:"density_weight"`
		UrgencyWeight       float64            `yaml:"urgency_weight" json:"urgency_weight"`
		DensityRadiusMeters float64            `yaml:"density_radius_meters" json:"density_radius_meters"`
		Urgency             map[string]float64 `yaml:"urgency" json:"urgency"`
	} `yaml:"priority" json:"priority"`
	Verification struct {
		// RadiusMeters is the only source of truth for the completion distance gate.
		RadiusMeters float64 `yaml:"radius_meters" json:"radius_meters"`
	} `yaml:"verification" json:"verification"`
	Reset struct {
		Timezone string `yaml:"timezone" json:"timezone"`
	} `yaml:"reset" json:"reset"`
	API struct {
		CompletionRatePerMinute int `yaml:"completion_rate_per_minute" json:"completion_rate_per_minute"`
	} `yaml:"api" json:"api"`
	Lock struct {
		RedisAddr  string `yaml:"redis_addr" json:"redis_addr"`
		Key        string `yaml:"key" json:"key"`
		TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
	} `yaml:"lock" json:"lock"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with civ config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the workspace has no config file.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Assignment.IntervalSeconds < 1 {
		return fmt.Errorf("config.assignment.interval_seconds must be >= 1")
	}
	if c.Assignment.DefaultDailyCap < 1 {
		return fmt.Errorf("config.assignment.default_daily_cap must be >= 1")
	}
	p := c.Priority
	if p.DensityWeight < 0 || p.UrgencyWeight < 0 {
		return fmt.Errorf("config.priority weights must be non-negative")
	}
	if math.Abs(p.DensityWeight+p.UrgencyWeight-1) > 1e-9 {
		return fmt.Errorf("config.priority weights must sum to 1 (got %v)", p.DensityWeight+p.UrgencyWeight)
	}
	if p.DensityRadiusMeters <= 0 {
		return fmt.Errorf("config.priority.density_radius_meters must be > 0")
	}
	for name, u := range p.Urgency {
		if _, err := domain.ParseProblemType(name); err != nil {
			return fmt.Errorf("config.priority.urgency: %w", err)
		}
		if u < 0 || u > 1 {
			return fmt.Errorf("config.priority.urgency.%s must be within [0,1]", name)
		}
	}
	if c.Verification.RadiusMeters <= 0 {
		return fmt.Errorf("config.verification.radius_meters must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.reset.timezone: %w", err)
	}
	if c.API.CompletionRatePerMinute < 0 {
		return fmt.Errorf("config.api.completion_rate_per_minute must be >= 0")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// UrgencyTable returns the urgency lookup keyed by problem type; unknown entries fall back to 0.
func (c *Config) UrgencyTable() map[domain.ProblemType]float64 {
	out := make(map[domain.ProblemType]float64, len(c.Priority.Urgency))
	for name, u := range c.Priority.Urgency {
		pt, err := domain.ParseProblemType(name)
		if err != nil {
			continue
		}
		out[pt] = u
	}
	return out
}

// Location resolves the timezone of the daily reset boundary.
func (c *Config) Location() (*time.Location, error) {
	if c.Reset.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Reset.Timezone)
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Assignment.IntervalSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	if c.Lock.TTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Keys missing from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `assignment:
  interval_seconds: 60
  default_daily_cap: 3

priority:
  density_weight: 0.6
  urgency_weight: 0.4
  density_radius_meters: 1000
  urgency:
    Water: 0.9
    Electrical: 0.9
    StreetLight: 0.8
    Pothole: 0.6
    Drainage: 0.6
    Garbage: 0.4
    Park: 0.4
    Other: 0.2

verification:
  radius_meters: 500

reset:
  timezone: Asia/Kolkata

api:
  completion_rate_per_minute: 20

lock:
  redis_addr: ""
  key: civicops:assignment-tick
  ttl_seconds: 600

webhooks: []
`
