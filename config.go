package flowclip

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowclip/flowclip/runtime/store"
)

type (
	// Config is the process configuration. Values load from a YAML file and
	// may be overridden by environment variables named after the options
	// (SESSION_IDLE_TIMEOUT, SESSION_JOIN_WINDOW, SESSION_JOIN_MIN_CONFIDENCE,
	// SESSION_RESEARCH_DEBOUNCE, MODEL_MAX_INFLIGHT, MODEL_MAX_RETRIES,
	// AUTOMATION_RATE_LIMIT, AUTOMATION_REQUEST_TIMEOUT).
	Config struct {
		Session    SessionConfig    `yaml:"session"`
		Model      ModelConfig      `yaml:"model"`
		Automation AutomationConfig `yaml:"automation"`
		Mongo      MongoConfig      `yaml:"mongo"`
		Redis      RedisConfig      `yaml:"redis"`
	}

	// SessionConfig tunes the session lifecycle engine.
	SessionConfig struct {
		// IdleTimeout expires sessions after this much inactivity.
		IdleTimeout time.Duration `yaml:"idle_timeout"`
		// JoinWindow is the candidate search horizon.
		JoinWindow time.Duration `yaml:"join_window"`
		// JoinMinConfidence is the membership acceptance bar.
		JoinMinConfidence float64 `yaml:"join_min_confidence"`
		// ResearchDebounce coalesces research triggers.
		ResearchDebounce time.Duration `yaml:"research_debounce"`
		// ResearchMaxInflight bounds concurrent member queries per session.
		ResearchMaxInflight int `yaml:"research_max_inflight"`
		// SweepInterval is the expiration sweep period.
		SweepInterval time.Duration `yaml:"sweep_interval"`
		// Complementary overrides the complementary type table.
		Complementary map[string][]string `yaml:"complementary"`
	}

	// ModelConfig tunes the model client stack.
	ModelConfig struct {
		// Provider selects the adapter: "anthropic" (default) or "openai".
		Provider string `yaml:"provider"`
		// Model is the provider model identifier.
		Model string `yaml:"model"`
		// APIKey authenticates with the provider. Usually supplied via
		// ANTHROPIC_API_KEY or OPENAI_API_KEY instead.
		APIKey string `yaml:"api_key"`
		// MaxInflight is the global concurrent request cap.
		MaxInflight int `yaml:"max_inflight"`
		// MaxRetries caps retries of rate-limited and transient failures.
		MaxRetries int `yaml:"max_retries"`
		// TokensPerMinute seeds the adaptive rate limiter.
		TokensPerMinute float64 `yaml:"tokens_per_minute"`
	}

	// AutomationConfig tunes the webhook dispatcher.
	AutomationConfig struct {
		// RateLimit is the per-session minimum dispatch interval.
		RateLimit time.Duration `yaml:"rate_limit"`
		// RequestTimeout bounds one webhook request.
		RequestTimeout time.Duration `yaml:"request_timeout"`
		// Types configures dispatch per session type.
		Types map[string]AutomationTypeConfig `yaml:"types"`
	}

	// AutomationTypeConfig configures one session type's automation.
	AutomationTypeConfig struct {
		Enabled          bool     `yaml:"enabled"`
		TriggerThreshold int      `yaml:"trigger_threshold"`
		WebhookURL       string   `yaml:"webhook_url"`
		Tasks            []string `yaml:"tasks"`
	}

	// MongoConfig locates the durable store.
	MongoConfig struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	// RedisConfig locates the optional UI event bridge.
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		// Stream names the Pulse stream for the bridge.
		Stream string `yaml:"stream"`
	}
)

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			IdleTimeout:         10 * time.Minute,
			JoinWindow:          20 * time.Minute,
			JoinMinConfidence:   0.6,
			ResearchDebounce:    time.Second,
			ResearchMaxInflight: 2,
			SweepInterval:       time.Minute,
		},
		Model: ModelConfig{
			Provider:    "anthropic",
			MaxInflight: 4,
			MaxRetries:  3,
		},
		Automation: AutomationConfig{
			RateLimit:      time.Minute,
			RequestTimeout: 30 * time.Second,
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "flowclip",
		},
	}
}

// LoadConfig reads the YAML configuration file (when path is non-empty) over
// the defaults and applies environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks option ranges.
func (c *Config) Validate() error {
	if c.Session.JoinMinConfidence < 0 || c.Session.JoinMinConfidence > 1 {
		return errors.New("session.join_min_confidence must be in [0,1]")
	}
	if c.Model.MaxInflight < 1 {
		return errors.New("model.max_inflight must be at least 1")
	}
	if c.Model.MaxRetries < 0 {
		return errors.New("model.max_retries must not be negative")
	}
	for name, t := range c.Automation.Types {
		if t.Enabled && t.TriggerThreshold < 1 {
			return fmt.Errorf("automation.types.%s.trigger_threshold must be at least 1", name)
		}
	}
	return nil
}

// ComplementaryTypes renders the configured complementary table onto the
// store types, falling back to nil (engine defaults) when unset.
func (c *Config) ComplementaryTypes() map[store.SessionType][]store.SessionType {
	if len(c.Session.Complementary) == 0 {
		return nil
	}
	out := make(map[store.SessionType][]store.SessionType, len(c.Session.Complementary))
	for k, vs := range c.Session.Complementary {
		types := make([]store.SessionType, 0, len(vs))
		for _, v := range vs {
			types = append(types, store.SessionType(v))
		}
		out[store.SessionType(k)] = types
	}
	return out
}

func applyEnv(cfg *Config) {
	envDuration("SESSION_IDLE_TIMEOUT", &cfg.Session.IdleTimeout)
	envDuration("SESSION_JOIN_WINDOW", &cfg.Session.JoinWindow)
	envFloat("SESSION_JOIN_MIN_CONFIDENCE", &cfg.Session.JoinMinConfidence)
	envDuration("SESSION_RESEARCH_DEBOUNCE", &cfg.Session.ResearchDebounce)
	envInt("MODEL_MAX_INFLIGHT", &cfg.Model.MaxInflight)
	envInt("MODEL_MAX_RETRIES", &cfg.Model.MaxRetries)
	envDuration("AUTOMATION_RATE_LIMIT", &cfg.Automation.RateLimit)
	envDuration("AUTOMATION_REQUEST_TIMEOUT", &cfg.Automation.RequestTimeout)
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Model.Provider == "anthropic" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Model.Provider == "openai" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			*dst = f
		}
	}
}
