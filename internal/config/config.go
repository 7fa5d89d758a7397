package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration, loaded from ACCORD_* variables.
type Config struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8080"`
	HomeOrg         string        `envconfig:"HOME_ORG" default:"Org1"`
	PGDSN           string        `envconfig:"PG_DSN"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	RateLimitRPS    float64       `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"100"`
	TokenTTL        time.Duration `envconfig:"TOKEN_TTL" default:"1h"`
	AdminUser       string        `envconfig:"ADMIN_USER" default:"admin"`
	AdminPassword   string        `envconfig:"ADMIN_PASSWORD"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("ACCORD", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	if strings.TrimSpace(cfg.HomeOrg) == "" {
		return nil, fmt.Errorf("home org must not be empty")
	}
	return &cfg, nil
}
