package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	AI       AIConfig       `yaml:"ai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxUploadSize ByteSize      `yaml:"maxUploadSize"`
	WorkerCount   int           `yaml:"workerCount"`
	QueueCapacity int           `yaml:"queueCapacity"`
	StorageDir    string        `yaml:"storageDir"`
	APIKey        string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	DatabasePath  string        `yaml:"databasePath"`  // optional, overrides default storage_dir/studysum.db
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for workers before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
}

// AIConfig selects provider and provider-specific options.
type AIConfig struct {
	Provider string           `yaml:"provider"` // "mock" or "deepseek"
	Mock     MockSettings     `yaml:"mock"`
	DeepSeek DeepSeekSettings `yaml:"deepseek"`
}

// MockSettings config for the mock AI client.
type MockSettings struct {
	Delay  time.Duration `yaml:"delay"`
	Prefix string        `yaml:"prefix"`
}

// DeepSeekSettings config for the DeepSeek (OpenAI-compatible) AI client.
type DeepSeekSettings struct {
	BaseURL     string        `yaml:"baseUrl"`     // e.g. https://api.deepseek.com
	APIKey      string        `yaml:"apiKey"`      // supports env expansion
	Model       string        `yaml:"model"`       // e.g. deepseek-chat
	Timeout     time.Duration `yaml:"timeout"`     // per-call ceiling; generation is slow
	Retries     int           `yaml:"retries"`     // transport/5xx retry attempts
	Backoff     time.Duration `yaml:"backoff"`     // base backoff duration, doubled per attempt
	Cooldown    time.Duration `yaml:"cooldown"`    // window after a transport failure during which the service reports unavailable
	Temperature float32       `yaml:"temperature"` // optional
	MaxTokens   int           `yaml:"maxTokens"`   // optional
}

// PipelineConfig bounds the document-processing pipeline.
type PipelineConfig struct {
	MaxTextLength int `yaml:"maxTextLength"` // runes sent to the AI service
	PreviewLength int `yaml:"previewLength"` // runes stored as content preview
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseByteSize(strings.TrimSpace(value.Value))
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var STUDYSUM_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("STUDYSUM_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Expand environment variables in file content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	// Ensure storage dir exists
	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storage_dir: %w", err)
		}
	}
	// Default DB path under storage dir if not set.
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, "studysum.db")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(10 * 1024 * 1024) // 10 MiB default
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = 4
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = 128
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// AI defaults
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "mock"
	}
	if cfg.AI.Mock.Delay == 0 {
		cfg.AI.Mock.Delay = 2 * time.Second
	}
	if cfg.AI.Mock.Prefix == "" {
		cfg.AI.Mock.Prefix = "Summary (mock)"
	}
	if strings.EqualFold(cfg.AI.Provider, "deepseek") {
		if strings.TrimSpace(cfg.AI.DeepSeek.BaseURL) == "" {
			cfg.AI.DeepSeek.BaseURL = "https://api.deepseek.com"
		}
		if strings.TrimSpace(cfg.AI.DeepSeek.Model) == "" {
			cfg.AI.DeepSeek.Model = "deepseek-chat"
		}
	}
	if cfg.AI.DeepSeek.Timeout == 0 {
		cfg.AI.DeepSeek.Timeout = 5 * time.Minute
	}
	if cfg.AI.DeepSeek.Retries <= 0 {
		cfg.AI.DeepSeek.Retries = 3
	}
	if cfg.AI.DeepSeek.Backoff == 0 {
		cfg.AI.DeepSeek.Backoff = 2 * time.Second
	}
	if cfg.AI.DeepSeek.Cooldown == 0 {
		cfg.AI.DeepSeek.Cooldown = 30 * time.Second
	}

	// Pipeline defaults
	if cfg.Pipeline.MaxTextLength <= 0 {
		cfg.Pipeline.MaxTextLength = 8000
	}
	if cfg.Pipeline.PreviewLength <= 0 {
		cfg.Pipeline.PreviewLength = 1000
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.AI.Provider)) {
	case "mock":
	case "deepseek":
		if strings.TrimSpace(cfg.AI.DeepSeek.APIKey) == "" {
			return fmt.Errorf("deepseek.apiKey is required")
		}
	default:
		return fmt.Errorf("unsupported ai provider %q", cfg.AI.Provider)
	}
	return nil
}
