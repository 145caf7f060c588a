// Package config resolves relaymarkd's runtime configuration from, in
// increasing priority order: built-in defaults, an optional relaymark.yaml
// file, and OS environment variables (which always win). A .env file, if
// present, is loaded into the environment before resolution so local
// development doesn't need exported shell variables.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved set of knobs relaymarkd needs to run.
type Config struct {
	Port           int    `yaml:"port"`
	LogEnabled     bool   `yaml:"log_enabled"`
	LogDir         string `yaml:"log_dir"`
	AllowLocalNet  bool   `yaml:"allow_local_net"`
	MetricsPort    int    `yaml:"metrics_port"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`
}

func defaults() Config {
	return Config{
		Port:           3000,
		LogEnabled:     false,
		LogDir:         "./logs",
		AllowLocalNet:  false,
		MetricsPort:    9464,
		RateLimitRPS:   0,
		RateLimitBurst: 0,
	}
}

// Load resolves configuration from defaults, then yamlPath if it exists,
// then the environment (loading envFile first, if it exists, via
// godotenv — a missing .env is not an error).
func Load(yamlPath, envFile string) (Config, error) {
	cfg := defaults()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return cfg, err
			}
		}
	}

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v, ok := os.LookupEnv("LOG_ENABLED"); ok {
		cfg.LogEnabled = parseBool(v, cfg.LogEnabled)
	}
	if v, ok := os.LookupEnv("LOG_DIR"); ok && v != "" {
		cfg.LogDir = v
	}
	if v, ok := os.LookupEnv("ALLOW_LOCAL_NET"); ok {
		cfg.AllowLocalNet = parseBool(v, cfg.AllowLocalNet)
	}
	if v, ok := os.LookupEnv("METRICS_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MetricsPort = n
		}
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_RPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_BURST"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
