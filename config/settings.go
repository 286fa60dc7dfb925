// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Settings holds all application configuration.
type Settings struct {
	Gemini      GeminiConfig
	R2          R2Config
	Redis       RedisConfig
	Log         LogConfig
	TraceDBPath string
}

// GeminiConfig holds model-service configuration.
type GeminiConfig struct {
	APIKey         string
	Model          string
	ThinkingLevel  string
	ThinkingBudget int32 // 0 means unset
}

// R2Config holds Cloudflare R2 object storage configuration.
// Endpoint is the S3 API host (no scheme); PublicBaseURL serves
// unauthenticated GETs for public keys.
type R2Config struct {
	PublicBaseURL string
	Endpoint      string
	Bucket        string
	AccessKey     string
	SecretKey     string
}

// RedisConfig holds job queue configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	FilePath string
	Prod     bool
}

// New loads settings from environment variables. GEMINI_API_KEY is the
// only hard requirement; R2 and Redis sections are validated lazily by
// the components that need them.
func New() (Settings, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return Settings{}, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	thinkingBudget, err := getEnvInt("GEMINI_THINKING_BUDGET", 0)
	if err != nil {
		return Settings{}, err
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		Gemini: GeminiConfig{
			APIKey:         apiKey,
			Model:          getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			ThinkingLevel:  getEnv("GEMINI_THINKING_LEVEL", "low"),
			ThinkingBudget: int32(thinkingBudget),
		},
		R2: R2Config{
			PublicBaseURL: os.Getenv("R2_PUBLIC_BASE_URL"),
			Endpoint:      os.Getenv("R2_ENDPOINT"),
			Bucket:        os.Getenv("R2_BUCKET"),
			AccessKey:     os.Getenv("R2_ACCESS_KEY"),
			SecretKey:     os.Getenv("R2_SECRET_KEY"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Log: LogConfig{
			FilePath: getEnv("LOG_FILE", "logs/drafter.log"),
			Prod:     os.Getenv("APP_ENV") == "production",
		},
		TraceDBPath: getEnv("TRACE_DB_PATH", "data/traces.db"),
	}, nil
}

// MustNew loads settings and panics on error. Use only when
// configuration errors should be fatal.
func MustNew() Settings {
	settings, err := New()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// HasR2 reports whether the object storage section is configured.
func (s Settings) HasR2() bool {
	return s.R2.Endpoint != "" && s.R2.Bucket != ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}
