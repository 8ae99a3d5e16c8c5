package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	JWTExpireHours int    `mapstructure:"JWT_EXPIRE_HOURS"`

	AIAPIKey        string        `mapstructure:"AI_API_KEY"`
	AIBaseURL       string        `mapstructure:"AI_BASE_URL"`
	AIModelName     string        `mapstructure:"AI_MODEL_NAME"`
	AIStageTimeout  time.Duration `mapstructure:"AI_STAGE_TIMEOUT"`
	AIRetries       int           `mapstructure:"AI_RETRIES"`
	AIMaxConcurrent int           `mapstructure:"AI_MAX_CONCURRENT"`
	AIStaleAfter    time.Duration `mapstructure:"AI_STALE_AFTER"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_EXPIRE_HOURS", 24)
	v.SetDefault("AI_MODEL_NAME", "deepseek-chat")
	v.SetDefault("AI_STAGE_TIMEOUT", "120s")
	v.SetDefault("AI_RETRIES", 2)
	v.SetDefault("AI_MAX_CONCURRENT", 4)
	v.SetDefault("AI_STALE_AFTER", "10m")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_EXPIRE_HOURS")
	v.BindEnv("AI_API_KEY")
	v.BindEnv("AI_BASE_URL")
	v.BindEnv("AI_MODEL_NAME")
	v.BindEnv("AI_STAGE_TIMEOUT")
	v.BindEnv("AI_RETRIES")
	v.BindEnv("AI_MAX_CONCURRENT")
	v.BindEnv("AI_STALE_AFTER")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret and an AI API key must be present, and the pipeline knobs must
// be within sane bounds.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
		}
		if c.AIAPIKey == "" {
			return fmt.Errorf("AI_API_KEY is required when ENV=%q", c.Env)
		}
	}
	if c.AIStageTimeout <= 0 {
		return fmt.Errorf("AI_STAGE_TIMEOUT must be positive, got %s", c.AIStageTimeout)
	}
	if c.AIRetries < 0 {
		return fmt.Errorf("AI_RETRIES must not be negative, got %d", c.AIRetries)
	}
	if c.AIMaxConcurrent < 1 {
		return fmt.Errorf("AI_MAX_CONCURRENT must be at least 1, got %d", c.AIMaxConcurrent)
	}
	if c.AIStaleAfter <= 0 {
		return fmt.Errorf("AI_STALE_AFTER must be positive, got %s", c.AIStaleAfter)
	}
	return nil
}
