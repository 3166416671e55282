// Package config provides unified configuration loading for cinedeck.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the cinedeck services.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Content       ContentConfig       `yaml:"content"`
	ImageSearch   ImageSearchConfig   `yaml:"image_search"`
	ImageGen      ImageGenConfig      `yaml:"image_gen"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Registry      RegistryConfig      `yaml:"registry"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// ContentConfig holds the content-structuring service settings.
type ContentConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ImageSearchConfig holds the web image search service settings.
type ImageSearchConfig struct {
	APIKey     string        `yaml:"api_key"`
	URL        string        `yaml:"url"`
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ImageGenConfig holds the AI image generation service settings.
type ImageGenConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig holds task coordinator settings.
type PipelineConfig struct {
	Workers          int `yaml:"workers"`
	QueueSize        int `yaml:"queue_size"`
	MaxInputChars    int `yaml:"max_input_chars"`
	StructureRetries int `yaml:"structure_retries"`
	ImageParallelism int `yaml:"image_parallelism"`
	DefaultMaxSlides int `yaml:"default_max_slides"`
}

// RegistryConfig holds task registry and cancellation flag settings.
type RegistryConfig struct {
	Driver        string        `yaml:"driver"` // memory or redis
	TaskTTL       time.Duration `yaml:"task_ttl"`
	CancelFlagTTL time.Duration `yaml:"cancel_flag_ttl"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ArtifactsConfig holds generated artifact storage settings.
type ArtifactsConfig struct {
	Dir           string        `yaml:"dir"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8001,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   10 << 20,
			AllowedOrigins:   []string{"*"},
		},
		Content: ContentConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.1-8b-instant",
			Temperature: 0.3,
			MaxTokens:   8000,
			Timeout:     30 * time.Second,
		},
		ImageSearch: ImageSearchConfig{
			URL:        "https://google.serper.dev/images",
			MaxResults: 20,
			Timeout:    20 * time.Second,
		},
		ImageGen: ImageGenConfig{
			URL:     "https://image.pollinations.ai/prompt",
			Model:   "flux",
			Timeout: 60 * time.Second,
		},
		Pipeline: PipelineConfig{
			Workers:          2,
			QueueSize:        32,
			MaxInputChars:    20000,
			StructureRetries: 2,
			ImageParallelism: 4,
			DefaultMaxSlides: 50,
		},
		Registry: RegistryConfig{
			Driver:        "memory",
			TaskTTL:       24 * time.Hour,
			CancelFlagTTL: time.Hour,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Artifacts: ArtifactsConfig{
			Dir:           "output_presentations",
			Retention:     24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.ImageParallelism <= 0 {
		return fmt.Errorf("image parallelism must be positive, got %d", c.Pipeline.ImageParallelism)
	}
	if c.Pipeline.StructureRetries < 0 {
		return fmt.Errorf("structure retries must not be negative, got %d", c.Pipeline.StructureRetries)
	}
	switch c.Registry.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown registry driver %q", c.Registry.Driver)
	}
	if c.Registry.Driver == "redis" && c.Registry.Redis.Addr == "" {
		return fmt.Errorf("registry driver is redis but no redis addr configured")
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts dir must not be empty")
	}
	return nil
}

// applyEnvOverrides maps well-known environment variables onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CINEDECK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.Content.APIKey = v
	}
	if v := os.Getenv("GROQ_BASE_URL"); v != "" {
		cfg.Content.BaseURL = v
	}
	if v := os.Getenv("GROQ_MODEL"); v != "" {
		cfg.Content.Model = v
	}
	if v := os.Getenv("SERPER_API_KEY"); v != "" {
		cfg.ImageSearch.APIKey = v
	}
	if v := os.Getenv("SERPER_URL"); v != "" {
		cfg.ImageSearch.URL = v
	}
	if v := os.Getenv("IMAGE_GEN_URL"); v != "" {
		cfg.ImageGen.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Registry.Driver = "redis"
		cfg.Registry.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Registry.Redis.Password = v
	}
	if v := os.Getenv("CINEDECK_ARTIFACT_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
	if v := os.Getenv("CINEDECK_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("CINEDECK_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
