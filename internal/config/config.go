package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PICTUREBOOK_"

// Config holds settings loaded from picturebook.yml. Durations are written
// as Go duration strings ("1s", "3m").
type Config struct {
	API       APIConfig       `yaml:"api"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Poller    PollerConfig    `yaml:"poller"`
	Presenter PresenterConfig `yaml:"presenter"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Sim       SimConfig       `yaml:"sim"`
}

// APIConfig locates the generation backend.
type APIConfig struct {
	BaseURL        string        `yaml:"baseURL,omitempty"`
	Token          string        `yaml:"token,omitempty"`
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`
	PollTimeout    time.Duration `yaml:"pollTimeout,omitempty"`
}

// WorkflowConfig tunes the setup workflow.
type WorkflowConfig struct {
	KickTimeout         time.Duration `yaml:"kickTimeout,omitempty"`
	CompensationTimeout time.Duration `yaml:"compensationTimeout,omitempty"`
	// DeleteOrphans switches compensation from logging to issuing deletes.
	DeleteOrphans bool `yaml:"deleteOrphans,omitempty"`
}

// PollerConfig tunes the progress poller.
type PollerConfig struct {
	SuccessInterval time.Duration `yaml:"successInterval,omitempty"`
	ErrorInterval   time.Duration `yaml:"errorInterval,omitempty"`
}

// PresenterConfig tunes the progress animation.
type PresenterConfig struct {
	StoryDuration    time.Duration `yaml:"storyDuration,omitempty"`
	CompletionDwell  time.Duration `yaml:"completionDwell,omitempty"`
	HintInterval     time.Duration `yaml:"hintInterval,omitempty"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval,omitempty"`
	Hints            []string      `yaml:"hints,omitempty"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// SimConfig tunes the simulated backend.
type SimConfig struct {
	Addr         string        `yaml:"addr,omitempty"`
	PageDuration time.Duration `yaml:"pageDuration,omitempty"`
	FailPage     int           `yaml:"failPage,omitempty"`
	Token        string        `yaml:"token,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://127.0.0.1:8787",
			RequestTimeout: 3 * time.Minute,
			PollTimeout:    10 * time.Second,
		},
		Workflow: WorkflowConfig{
			KickTimeout:         time.Minute,
			CompensationTimeout: 30 * time.Second,
		},
		Poller: PollerConfig{
			SuccessInterval: time.Second,
			ErrorInterval:   2 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Sim: SimConfig{
			Addr:         "127.0.0.1:8787",
			PageDuration: 2 * time.Second,
		},
	}
}

// Load attempts to read picturebook.yml or picturebook.yaml from the given
// directory on top of the defaults. A missing file is not an error.
func Load(dir string) (*Config, error) {
	for _, name := range []string{"picturebook.yml", "picturebook.yaml"} {
		cfg, err := LoadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return cfg, err
	}
	return Default(), nil
}

// LoadFile reads one config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PICTUREBOOK_* variables found by lookup.
// Pass os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("API_URL", &c.API.BaseURL)
	str("API_TOKEN", &c.API.Token)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("SIM_ADDR", &c.Sim.Addr)
	str("SIM_TOKEN", &c.Sim.Token)

	if err := dur("REQUEST_TIMEOUT", &c.API.RequestTimeout); err != nil {
		return err
	}
	if err := dur("POLL_TIMEOUT", &c.API.PollTimeout); err != nil {
		return err
	}
	if err := dur("SIM_PAGE_DURATION", &c.Sim.PageDuration); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "DELETE_ORPHANS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDELETE_ORPHANS: %w", EnvPrefix, err)
		}
		c.Workflow.DeleteOrphans = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.baseURL %q is not an absolute URL", c.API.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.baseURL scheme must be http or https, got %q", u.Scheme)
	}
	for name, d := range map[string]time.Duration{
		"api.requestTimeout":           c.API.RequestTimeout,
		"api.pollTimeout":              c.API.PollTimeout,
		"workflow.kickTimeout":         c.Workflow.KickTimeout,
		"workflow.compensationTimeout": c.Workflow.CompensationTimeout,
		"poller.successInterval":       c.Poller.SuccessInterval,
		"poller.errorInterval":         c.Poller.ErrorInterval,
		"presenter.storyDuration":      c.Presenter.StoryDuration,
		"presenter.completionDwell":    c.Presenter.CompletionDwell,
		"presenter.hintInterval":       c.Presenter.HintInterval,
		"sim.pageDuration":             c.Sim.PageDuration,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Sim.FailPage < 0 {
		return fmt.Errorf("sim.failPage must not be negative, got %d", c.Sim.FailPage)
	}
	return nil
}
