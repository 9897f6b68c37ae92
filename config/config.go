package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config carries everything the api binary needs to boot.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	JWTSecret   string

	PayMongoSecretKey string
	PayMongoBaseURL   string

	// Minimum length of a dispute reason before filing is accepted.
	DisputeMinReasonLen int

	Log LogConfig
}

// LogConfig mirrors the knobs exposed by logging.New.
type LogConfig struct {
	Level    string
	Encoding string
}

// Load reads configuration from the environment. Only DATABASE_URL and
// JWT_SECRET are mandatory; everything else has a sane default.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("PAYMONGO_BASE_URL", "https://api.paymongo.com/v1")
	v.SetDefault("DISPUTE_MIN_REASON_LEN", 10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_ENCODING", "json")

	cfg := Config{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		HTTPAddr:            v.GetString("HTTP_ADDR"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		PayMongoSecretKey:   v.GetString("PAYMONGO_SECRET_KEY"),
		PayMongoBaseURL:     v.GetString("PAYMONGO_BASE_URL"),
		DisputeMinReasonLen: v.GetInt("DISPUTE_MIN_REASON_LEN"),
		Log: LogConfig{
			Level:    v.GetString("LOG_LEVEL"),
			Encoding: v.GetString("LOG_ENCODING"),
		},
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}
	if cfg.DisputeMinReasonLen < 1 {
		return Config{}, fmt.Errorf("config: DISPUTE_MIN_REASON_LEN must be positive")
	}

	return cfg, nil
}
