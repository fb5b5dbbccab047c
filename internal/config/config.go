package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the enricher.yaml configuration.
type Config struct {
	Classifier ClassifierConfig `yaml:"classifier"`
	Travel     TravelConfig     `yaml:"travel"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Server     ServerConfig     `yaml:"server"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Log        LogConfig        `yaml:"log"`
}

// ClassifierConfig locates the remote classification service.
type ClassifierConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key,omitempty"`
	ClassifyPath string        `yaml:"classify_path"`
	TravelPath   string        `yaml:"travel_path"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	BatchSize    int           `yaml:"batch_size"`
}

// TravelConfig tunes the travel pre-filter.
type TravelConfig struct {
	WindowDays int      `yaml:"window_days"`
	Keywords   []string `yaml:"keywords,omitempty"` // replaces the built-in anchors
}

// GeminiConfig drives PDF statement extraction.
type GeminiConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxUploadMB  int64         `yaml:"max_upload_mb"`
}

// JobsConfig sizes the import queue.
type JobsConfig struct {
	Workers    int `yaml:"workers"`
	BufferSize int `yaml:"buffer_size"`
	MaxRetries int `yaml:"max_retries"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config with working defaults.
func Default() *Config {
	return &Config{
		Classifier: ClassifierConfig{
			BaseURL:      "http://localhost:8000/api",
			ClassifyPath: "/classify",
			TravelPath:   "/travel",
			Timeout:      60 * time.Second,
			MaxAttempts:  2,
			RetryDelay:   2 * time.Second,
			BatchSize:    24,
		},
		Travel: TravelConfig{
			WindowDays: 2,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
			MaxUploadMB:  32,
		},
		Jobs: JobsConfig{
			Workers:    2,
			BufferSize: 100,
			MaxRetries: 0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// it exists, then a .env file, then environment variables. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Classifier.BaseURL == "":
		return errors.New("config: classifier.base_url is required")
	case c.Classifier.Timeout <= 0:
		return errors.New("config: classifier.timeout must be positive")
	case c.Classifier.MaxAttempts < 1:
		return errors.New("config: classifier.max_attempts must be at least 1")
	case c.Classifier.BatchSize < 1:
		return errors.New("config: classifier.batch_size must be at least 1")
	case c.Travel.WindowDays < 0:
		return errors.New("config: travel.window_days must not be negative")
	case c.Jobs.Workers < 1:
		return errors.New("config: jobs.workers must be at least 1")
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Classifier.BaseURL, "ENRICH_BASE_URL")
	setString(&c.Classifier.APIKey, "ENRICH_API_KEY")
	setString(&c.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&c.Gemini.Model, "GEMINI_MODEL")
	setString(&c.Server.Port, "PORT")
	setString(&c.Log.Level, "LOG_LEVEL")

	if err := setDuration(&c.Classifier.Timeout, "ENRICH_TIMEOUT"); err != nil {
		return err
	}
	if err := setInt(&c.Classifier.BatchSize, "ENRICH_BATCH_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.Travel.WindowDays, "TRAVEL_WINDOW_DAYS"); err != nil {
		return err
	}
	if err := setInt(&c.Jobs.Workers, "JOB_WORKERS"); err != nil {
		return err
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: LOG_JSON: %w", err)
		}
		c.Log.JSON = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
