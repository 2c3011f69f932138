// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"scenegen/internal/pkg/errors"
)

// Config is the full runtime configuration of the API process.
type Config struct {
	HTTP      HTTPConfig
	Log       LogConfig
	LLM       LLMConfig
	Render    RenderConfig
	Storage   StorageConfig
	Retention RetentionConfig
	Redis     RedisConfig

	ShutdownTimeout time.Duration
}

type HTTPConfig struct {
	Port               string
	CORSAllowedOrigins []string
}

type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// LLMConfig configures the chat completion client. APIKey may be empty;
// requests then fail individually instead of at startup.
type LLMConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Referer string
	Timeout time.Duration
}

type RenderConfig struct {
	Binary          string
	Scene           string
	Quality         string
	FallbackQuality string
	Timeout         time.Duration
	CodeDir         string
	WorkDir         string
	Sandbox         []string
}

type StorageConfig struct {
	Provider  string
	LocalRoot string
	GDrive    GDriveConfig
}

type GDriveConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

// RetentionConfig controls the janitor. MaxAge 0 keeps files forever.
type RetentionConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// RedisConfig enables rate limiting when Addr is set.
type RedisConfig struct {
	Addr               string
	Password           string
	DB                 int
	RateLimitPerMinute int
}

var defaults = map[string]any{
	"HTTP_PORT":               "8000",
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "json",
	"LOG_SOURCE":              false,
	"OPENROUTER_MODEL":        "deepseek-r1:free",
	"OPENROUTER_BASE_URL":     "https://openrouter.ai/api/v1",
	"OPENROUTER_REFERER":      "http://localhost:8000",
	"LLM_TIMEOUT":             "60s",
	"RENDER_BINARY":           "manim",
	"RENDER_SCENE":            "Scene0",
	"RENDER_QUALITY":          "h",
	"RENDER_FALLBACK_QUALITY": "l",
	"RENDER_TIMEOUT":          "30s",
	"RENDER_CODE_DIR":         "data/manim-code",
	"STORAGE_PROVIDER":        "localfs",
	"STORAGE_LOCAL_ROOT":      "data/videos",
	"RETENTION_MAX_AGE":       "0s",
	"RETENTION_INTERVAL":      "10m",
	"REDIS_DB":                0,
	"RATE_LIMIT_PER_MINUTE":   10,
	"SHUTDOWN_TIMEOUT":        "30s",
}

// Load reads a .env file if one is found and builds the configuration from
// the environment. It returns the path of the loaded .env file, if any.
func Load() (*Config, string, error) {
	envFile := loadEnvFile(envCandidates())

	cfg, err := fromEnv()
	if err != nil {
		return nil, envFile, err
	}
	return cfg, envFile, nil
}

func fromEnv() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:               v.GetString("HTTP_PORT"),
			CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Log: LogConfig{
			Level:     v.GetString("LOG_LEVEL"),
			Format:    v.GetString("LOG_FORMAT"),
			AddSource: v.GetBool("LOG_SOURCE"),
		},
		LLM: LLMConfig{
			APIKey:  strings.TrimSpace(v.GetString("OPENROUTER_API_KEY")),
			Model:   v.GetString("OPENROUTER_MODEL"),
			BaseURL: strings.TrimRight(v.GetString("OPENROUTER_BASE_URL"), "/"),
			Referer: v.GetString("OPENROUTER_REFERER"),
			Timeout: v.GetDuration("LLM_TIMEOUT"),
		},
		Render: RenderConfig{
			Binary:          v.GetString("RENDER_BINARY"),
			Scene:           v.GetString("RENDER_SCENE"),
			Quality:         v.GetString("RENDER_QUALITY"),
			FallbackQuality: v.GetString("RENDER_FALLBACK_QUALITY"),
			Timeout:         v.GetDuration("RENDER_TIMEOUT"),
			CodeDir:         v.GetString("RENDER_CODE_DIR"),
			WorkDir:         v.GetString("RENDER_WORK_DIR"),
			Sandbox:         strings.Fields(v.GetString("RENDER_SANDBOX")),
		},
		Storage: StorageConfig{
			Provider:  strings.ToLower(v.GetString("STORAGE_PROVIDER")),
			LocalRoot: v.GetString("STORAGE_LOCAL_ROOT"),
			GDrive: GDriveConfig{
				ClientID:     v.GetString("GDRIVE_CLIENT_ID"),
				ClientSecret: v.GetString("GDRIVE_CLIENT_SECRET"),
				RefreshToken: v.GetString("GDRIVE_REFRESH_TOKEN"),
				FolderID:     v.GetString("GDRIVE_FOLDER_ID"),
			},
		},
		Retention: RetentionConfig{
			MaxAge:   v.GetDuration("RETENTION_MAX_AGE"),
			Interval: v.GetDuration("RETENTION_INTERVAL"),
		},
		Redis: RedisConfig{
			Addr:               v.GetString("REDIS_ADDR"),
			Password:           v.GetString("REDIS_PASSWORD"),
			DB:                 v.GetInt("REDIS_DB"),
			RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		},
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var qualities = map[string]bool{"l": true, "m": true, "h": true, "p": true, "k": true}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	const op = "config.validate"

	if !qualities[c.Render.Quality] {
		return errors.Validation(fmt.Sprintf("RENDER_QUALITY must be one of l,m,h,p,k, got %q", c.Render.Quality)).
			WithField("op", op)
	}
	if !qualities[c.Render.FallbackQuality] {
		return errors.Validation(fmt.Sprintf("RENDER_FALLBACK_QUALITY must be one of l,m,h,p,k, got %q", c.Render.FallbackQuality)).
			WithField("op", op)
	}
	if c.Render.Timeout <= 0 {
		return errors.Validation("RENDER_TIMEOUT must be positive").WithField("op", op)
	}
	if c.LLM.Timeout <= 0 {
		return errors.Validation("LLM_TIMEOUT must be positive").WithField("op", op)
	}
	if c.Render.Scene == "" || c.Render.Binary == "" {
		return errors.Validation("RENDER_BINARY and RENDER_SCENE are required").WithField("op", op)
	}
	switch c.Storage.Provider {
	case "localfs", "gdrive":
	default:
		return errors.Validation(fmt.Sprintf("unknown STORAGE_PROVIDER %q", c.Storage.Provider)).WithField("op", op)
	}
	if c.Retention.MaxAge < 0 {
		return errors.Validation("RETENTION_MAX_AGE must not be negative").WithField("op", op)
	}
	if c.Retention.MaxAge > 0 && c.Retention.Interval <= 0 {
		return errors.Validation("RETENTION_INTERVAL must be positive when retention is enabled").WithField("op", op)
	}
	if c.Redis.Addr != "" && c.Redis.RateLimitPerMinute <= 0 {
		return errors.Validation("RATE_LIMIT_PER_MINUTE must be positive").WithField("op", op)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envCandidates lists .env locations from the working directory upwards,
// ending with the module root.
func envCandidates() []string {
	paths := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}
	return paths
}

// loadEnvFile loads the first readable file. Existing variables win.
func loadEnvFile(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
