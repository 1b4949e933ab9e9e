package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port            int           `mapstructure:"port"`
	CORSOrigins     string        `mapstructure:"cors_origins"`
	RoomTTLHours    float64       `mapstructure:"room_ttl_hours"`
	ReapInterval    time.Duration `mapstructure:"reap_interval"`
	SyncTimeout     time.Duration `mapstructure:"sync_timeout"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	OTLPEndpoint    string        `mapstructure:"otel_exporter_otlp_endpoint"`
	ServiceName     string        `mapstructure:"otel_service_name"`
}

// Load reads the environment, after merging any of envFiles (default ".env")
// that exist. Variables already set in the process win over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("port", 3001)
	v.SetDefault("cors_origins", "http://localhost:3000,http://127.0.0.1:3000")
	v.SetDefault("room_ttl_hours", 24)
	v.SetDefault("reap_interval", "1h")
	v.SetDefault("sync_timeout", "5s")
	v.SetDefault("rate_limit_window", "1s")
	v.SetDefault("rate_limit_max", 10)
	v.SetDefault("ping_interval", "25s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_service_name", "movie-sync")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid PORT %d", c.Port)
	case c.RoomTTLHours <= 0:
		return fmt.Errorf("invalid ROOM_TTL_HOURS %v", c.RoomTTLHours)
	case c.ReapInterval <= 0:
		return fmt.Errorf("invalid REAP_INTERVAL %v", c.ReapInterval)
	case c.RateLimitWindow <= 0 || c.RateLimitMax <= 0:
		return fmt.Errorf("invalid rate limit %d per %v", c.RateLimitMax, c.RateLimitWindow)
	}
	return nil
}

// AllowedOrigins splits CORS_ORIGINS, dropping blanks.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) RoomTTL() time.Duration {
	return time.Duration(c.RoomTTLHours * float64(time.Hour))
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
