// Package config loads settings from defaults, an optional YAML file, an
// optional .env file and CALORILY_* environment variables, in increasing
// order of precedence. Command-line flags bound by the CLI win over all.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sakif/calorily/internal/logging"
)

// EnvPrefix is prepended to every key: http.addr → CALORILY_HTTP_ADDR.
const EnvPrefix = "CALORILY"

// Config is the resolved application configuration.
type Config struct {
	DBPath   string
	ImageDir string
	InboxDir string // empty disables the inbox watcher

	HTTP     HTTPConfig
	Analysis AnalysisConfig
	Sync     SyncConfig
	Log      logging.Options

	DailyCalories float64
}

type HTTPConfig struct {
	Addr string
	// JWTSecret signs local API tokens. Empty disables authentication.
	JWTSecret string
}

type AnalysisConfig struct {
	BaseURL string
	// Token is the bearer credential for the analysis service: a JWT (whose
	// exp is honored) or an opaque key.
	Token   string
	Timeout time.Duration
}

type SyncConfig struct {
	RetryDelay    time.Duration
	SweepInterval time.Duration
	SweepMinAge   time.Duration
}

// New returns a viper instance with defaults and env binding set up. The CLI
// binds its flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", filepath.Join("data", "calorily.db"))
	v.SetDefault("image_dir", filepath.Join("data", "images"))
	v.SetDefault("inbox.dir", "")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.jwt_secret", "")

	v.SetDefault("analysis.base_url", "http://localhost:9000")
	v.SetDefault("analysis.token", "")
	v.SetDefault("analysis.timeout", 30*time.Second)

	v.SetDefault("sync.retry_delay", 5*time.Second)
	v.SetDefault("sync.sweep_interval", time.Hour)
	v.SetDefault("sync.sweep_min_age", 10*time.Minute)

	v.SetDefault("goals.daily_calories", 2000.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are not overridden. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	return nil
}

// Load reads the optional config file into v and resolves a Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		DBPath:   v.GetString("db_path"),
		ImageDir: v.GetString("image_dir"),
		InboxDir: v.GetString("inbox.dir"),
		HTTP: HTTPConfig{
			Addr:      v.GetString("http.addr"),
			JWTSecret: v.GetString("http.jwt_secret"),
		},
		Analysis: AnalysisConfig{
			BaseURL: v.GetString("analysis.base_url"),
			Token:   v.GetString("analysis.token"),
			Timeout: v.GetDuration("analysis.timeout"),
		},
		Sync: SyncConfig{
			RetryDelay:    v.GetDuration("sync.retry_delay"),
			SweepInterval: v.GetDuration("sync.sweep_interval"),
			SweepMinAge:   v.GetDuration("sync.sweep_min_age"),
		},
		Log: logging.Options{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
		},
		DailyCalories: v.GetFloat64("goals.daily_calories"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("config: db_path is required")
	case c.ImageDir == "":
		return errors.New("config: image_dir is required")
	case c.Sync.RetryDelay <= 0:
		return errors.New("config: sync.retry_delay must be positive")
	case c.Sync.SweepMinAge < 0:
		return errors.New("config: sync.sweep_min_age cannot be negative")
	case c.Analysis.Timeout <= 0:
		return errors.New("config: analysis.timeout must be positive")
	case c.DailyCalories < 0:
		return errors.New("config: goals.daily_calories cannot be negative")
	case c.HTTP.JWTSecret != "" && len(c.HTTP.JWTSecret) < 16:
		return errors.New("config: http.jwt_secret must be at least 16 characters")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
