package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port               int    `env:"PORT" envDefault:"8080"`
	DatabaseURL        string `env:"DATABASE_URL,required"`
	RedisURL           string `env:"REDIS_URL,required"`
	SessionTokenSecret string `env:"SESSION_TOKEN_SECRET,required"`
	LedgerBaseURL      string `env:"LEDGER_BASE_URL"`
	LedgerAPIKey       string `env:"LEDGER_API_KEY"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`

	HeartbeatSeconds     int `env:"HEARTBEAT_SECONDS" envDefault:"10"`
	LivenessMultiplier   int `env:"LIVENESS_MULTIPLIER" envDefault:"3"`
	IdleGraceSeconds     int `env:"IDLE_GRACE_SECONDS" envDefault:"120"`
	EvictionGraceSeconds int `env:"EVICTION_GRACE_SECONDS" envDefault:"60"`
	AbsoluteTimeoutMins  int `env:"ABSOLUTE_TIMEOUT_MINUTES" envDefault:"30"`
	RateLimitPerMin      int `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
}

// HeartbeatCadence is the expected client heartbeat interval.
func (c *Config) HeartbeatCadence() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// LivenessWindow is the maximum tolerated heartbeat silence before a running
// session is auto-paused.
func (c *Config) LivenessWindow() time.Duration {
	return c.HeartbeatCadence() * time.Duration(c.LivenessMultiplier)
}

// IdleGrace is how long a session may sit with zero participants before
// eviction.
func (c *Config) IdleGrace() time.Duration {
	return time.Duration(c.IdleGraceSeconds) * time.Second
}

// EvictionGrace keeps a closed session in the registry long enough for late
// duplicate leave messages to be ignored rather than resurrecting state.
func (c *Config) EvictionGrace() time.Duration {
	return time.Duration(c.EvictionGraceSeconds) * time.Second
}

// AbsoluteTimeout force-closes a session stuck without heartbeats far beyond
// the liveness window.
func (c *Config) AbsoluteTimeout() time.Duration {
	return time.Duration(c.AbsoluteTimeoutMins) * time.Minute
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	if len(c.SessionTokenSecret) < 32 {
		return fmt.Errorf("SESSION_TOKEN_SECRET must be at least 32 characters (generate with: openssl rand -base64 32)")
	}
	if c.HeartbeatSeconds <= 0 {
		return fmt.Errorf("HEARTBEAT_SECONDS must be positive")
	}
	if c.LivenessMultiplier < 2 {
		return fmt.Errorf("LIVENESS_MULTIPLIER must be at least 2, or a single dropped heartbeat pauses the session")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
