package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	APIURL          string        `mapstructure:"api_url"`
	APIToken        string        `mapstructure:"api_token"`
	Room            string        `mapstructure:"room"`
	SignalURL       string        `mapstructure:"signal_url"`
	STUNURL         string        `mapstructure:"stun_url"`
	OutputDir       string        `mapstructure:"output_dir"`
	ControlAddr     string        `mapstructure:"control_addr"`
	ControlsTimeout time.Duration `mapstructure:"controls_timeout"`
	ErrorTTL        time.Duration `mapstructure:"error_ttl"`
	LogLevel        string        `mapstructure:"log_level"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
}

// Load reads configuration from a .env file (if present), an optional
// meetcall.yaml and MEET_* environment variables. Environment variables
// take precedence over file values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("meetcall")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", "http://localhost:3001/")
	v.SetDefault("api_token", "")
	v.SetDefault("room", "")
	v.SetDefault("signal_url", "")
	v.SetDefault("stun_url", "stun:stun.l.google.com:19302")
	v.SetDefault("output_dir", "./surfaces")
	v.SetDefault("control_addr", "")
	v.SetDefault("controls_timeout", "3s")
	v.SetDefault("error_ttl", "5s")
	v.SetDefault("log_level", "info")
	v.SetDefault("ping_interval", "20s")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.SignalURL == "" {
		return nil, fmt.Errorf("MEET_SIGNAL_URL environment variable is required")
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("MEET_API_URL must not be empty")
	}
	return &cfg, nil
}
