package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port int    `env:"PORT" envDefault:"3000"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	APIKey      string `env:"API_KEY,required"`

	NodeID      string `env:"NODE_ID,required"`
	NodeName    string `env:"NODE_NAME,required"`
	LogFilePath string `env:"LOG_FILE_PATH,required"`

	LogPollIntervalMs int `env:"LOG_POLL_INTERVAL_MS" envDefault:"1000"`

	MinOverlapMinutes int `env:"MIN_OVERLAP_MINUTES" envDefault:"5"`
	TrustWindowHours  int `env:"TRUST_WINDOW_HOURS" envDefault:"24"`

	VoteCooldownSeconds    int `env:"VOTE_COOLDOWN_SECONDS" envDefault:"3600"`
	VoteRateLimit          int `env:"VOTE_RATE_LIMIT" envDefault:"10"`
	VoteRateWindowSeconds  int `env:"VOTE_RATE_WINDOW_SECONDS" envDefault:"600"`
	ReplicationSyncSeconds int `env:"REPLICATION_SYNC_SECONDS" envDefault:"300"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) LogPollInterval() time.Duration {
	return time.Duration(c.LogPollIntervalMs) * time.Millisecond
}

func (c *Config) VoteCooldown() time.Duration {
	return time.Duration(c.VoteCooldownSeconds) * time.Second
}

func (c *Config) VoteRateWindow() time.Duration {
	return time.Duration(c.VoteRateWindowSeconds) * time.Second
}

func (c *Config) ReplicationSyncInterval() time.Duration {
	return time.Duration(c.ReplicationSyncSeconds) * time.Second
}

func (c *Config) Validate() error {
	if err := validateSecret("API_KEY", c.APIKey); err != nil {
		return err
	}
	if c.MinOverlapMinutes < 1 {
		return fmt.Errorf("MIN_OVERLAP_MINUTES must be at least 1")
	}
	if c.TrustWindowHours < 1 {
		return fmt.Errorf("TRUST_WINDOW_HOURS must be at least 1")
	}
	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret", name)
		}
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
