package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	LogLevel        string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	MaxUploadBytes  int           `yaml:"max_upload_bytes" validate:"gt=0"`
	StreamKeepAlive time.Duration `yaml:"stream_keepalive" validate:"gte=0"`
}

type JobsConfig struct {
	Capacity      int           `yaml:"capacity" validate:"gte=0"`
	GracePeriod   time.Duration `yaml:"grace_period" validate:"gte=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	MaxAge        time.Duration `yaml:"max_age" validate:"gte=0"`
}

type RetrievalConfig struct {
	TopK             int  `yaml:"top_k" validate:"gt=0"`
	FallbackRecent   bool `yaml:"fallback_recent"`
	MaxContextTokens int  `yaml:"max_context_tokens" validate:"gte=0"`
}

type LoaderConfig struct {
	StorageDir     string        `yaml:"storage_dir" validate:"required"`
	InboxDir       string        `yaml:"inbox_dir"`
	MonitoringTime time.Duration `yaml:"monitoring_time" validate:"gte=0"`
	ChunkSize      int           `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap   int           `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider" validate:"oneof=openai groq ollama"`
	URL         string        `yaml:"url" validate:"omitempty,url"`
	Model       string        `yaml:"model" validate:"required"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gt=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	RateLimit   float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst   int           `yaml:"rate_burst" validate:"gte=0"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Loader    LoaderConfig    `yaml:"loader"`
	LLM       LLMConfig       `yaml:"llm"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			LogLevel:        "info",
			MaxUploadBytes:  50 << 20,
			StreamKeepAlive: 15 * time.Second,
		},
		Jobs: JobsConfig{
			Capacity:      1024,
			GracePeriod:   5 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:             4,
			MaxContextTokens: 6000,
		},
		Loader: LoaderConfig{
			StorageDir:     "storage",
			MonitoringTime: 5 * time.Second,
			ChunkSize:      200,
			ChunkOverlap:   35,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "qwen/qwen3-32b",
			Temperature: 0.5,
			MaxTokens:   1024,
			Timeout:     2 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $CONFIG_FILE) if any, then environment variables, and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s' tag", e.Namespace(), e.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Level maps the configured log level onto slog.
func (c *Config) Level() slog.Level {
	switch c.Server.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type envReader struct {
	errs []error
}

func (r *envReader) string(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) int(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *envReader) float(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (r *envReader) bool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func applyEnv(cfg *Config) error {
	var r envReader

	r.string("SERVER_ADDR", &cfg.Server.Addr)
	r.string("LOG_LEVEL", &cfg.Server.LogLevel)
	r.int("MAX_UPLOAD_BYTES", &cfg.Server.MaxUploadBytes)
	r.duration("STREAM_KEEPALIVE", &cfg.Server.StreamKeepAlive)

	r.int("JOB_CAPACITY", &cfg.Jobs.Capacity)
	r.duration("JOB_GRACE_PERIOD", &cfg.Jobs.GracePeriod)
	r.duration("JOB_SWEEP_INTERVAL", &cfg.Jobs.SweepInterval)
	r.duration("JOB_MAX_AGE", &cfg.Jobs.MaxAge)

	r.int("RETRIEVAL_TOP_K", &cfg.Retrieval.TopK)
	r.bool("RETRIEVAL_FALLBACK_RECENT", &cfg.Retrieval.FallbackRecent)
	r.int("MAX_CONTEXT_TOKENS", &cfg.Retrieval.MaxContextTokens)

	r.string("STORAGE_DIR", &cfg.Loader.StorageDir)
	r.string("INBOX_DIR", &cfg.Loader.InboxDir)
	r.duration("INBOX_MONITORING_TIME", &cfg.Loader.MonitoringTime)
	r.int("CHUNK_SIZE", &cfg.Loader.ChunkSize)
	r.int("CHUNK_OVERLAP", &cfg.Loader.ChunkOverlap)

	r.string("LLM_PROVIDER", &cfg.LLM.Provider)
	r.string("LLM_URL", &cfg.LLM.URL)
	r.string("LLM_MODEL", &cfg.LLM.Model)
	r.string("GROQ_API_KEY", &cfg.LLM.APIKey)
	r.string("LLM_API_KEY", &cfg.LLM.APIKey)
	r.float("LLM_TEMPERATURE", &cfg.LLM.Temperature)
	r.int("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	r.duration("LLM_TIMEOUT", &cfg.LLM.Timeout)
	r.float("LLM_RATE_LIMIT", &cfg.LLM.RateLimit)
	r.int("LLM_RATE_BURST", &cfg.LLM.RateBurst)

	return errors.Join(r.errs...)
}
