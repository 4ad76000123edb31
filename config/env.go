package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Env holds deployment settings and credentials read from the environment.
type Env struct {
	DatabaseDriver   string
	DatabaseURL      string
	T212APIKey       string
	T212BaseURL      string
	PerplexityAPIKey string
	PerplexityModel  string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	ClaudeCLIPath    string
	ClaudeCLITimeout time.Duration
	RedisAddr        string
	LogLevel         string
	MetricsAddr      string
}

// DefaultEnv returns the settings used when no variables are set.
func DefaultEnv() Env {
	return Env{
		DatabaseDriver:   "sqlite3",
		DatabaseURL:      "tradeagent.db",
		T212BaseURL:      "https://demo.trading212.com/api/v0",
		PerplexityModel:  "sonar",
		OpenAIBaseURL:    "https://api.openai.com/v1",
		ClaudeCLIPath:    "claude",
		ClaudeCLITimeout: 120 * time.Second,
		LogLevel:         "info",
		MetricsAddr:      ":9090",
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// ApplyEnv overlays environment variables onto c.Env. Unset or unparsable
// variables leave the current value in place.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	e := &c.Env
	setString(getenv, "DATABASE_DRIVER", &e.DatabaseDriver)
	setString(getenv, "DATABASE_URL", &e.DatabaseURL)
	setString(getenv, "T212_API_KEY", &e.T212APIKey)
	setString(getenv, "T212_BASE_URL", &e.T212BaseURL)
	setString(getenv, "PERPLEXITY_API_KEY", &e.PerplexityAPIKey)
	setString(getenv, "PERPLEXITY_MODEL", &e.PerplexityModel)
	setString(getenv, "OPENAI_API_KEY", &e.OpenAIAPIKey)
	setString(getenv, "OPENAI_BASE_URL", &e.OpenAIBaseURL)
	setString(getenv, "CLAUDE_CLI_PATH", &e.ClaudeCLIPath)
	setString(getenv, "REDIS_ADDR", &e.RedisAddr)
	setString(getenv, "LOG_LEVEL", &e.LogLevel)
	setString(getenv, "METRICS_ADDR", &e.MetricsAddr)

	if v := getenv("CLAUDE_CLI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			e.ClaudeCLITimeout = d
		} else if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			e.ClaudeCLITimeout = time.Duration(secs) * time.Second
		}
	}
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

// Load reads the config file at path (defaults when path is empty), loads
// .env and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	LoadDotEnv()
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}
