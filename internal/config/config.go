// Package config handles loading and validating latexfogel configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for latexfogel.
type Config struct {
	Renderer      RendererConfig       `yaml:"renderer"`
	Telegram      TelegramConfig       `yaml:"telegram"`
	Answers       *AnswersConfig       `yaml:"answers,omitempty"` // nil = Wolfram|Alpha commands disabled
	RateLimit     RateLimitConfig      `yaml:"rate_limit"`
	Cache         CacheConfig          `yaml:"cache"`
	Observability *ObservabilityConfig `yaml:"observability,omitempty"` // nil = metrics/tracing/admin server disabled
	Maintenance   MaintenanceConfig    `yaml:"maintenance"`
}

// RendererConfig configures the sandboxed render pipeline.
type RendererConfig struct {
	Image          string  `yaml:"image"`           // Renderer container image. Required.
	TimeoutSeconds int     `yaml:"timeout_seconds"` // Wall-clock deadline per render. 0 = 15s default.
	MemoryMB       int     `yaml:"memory_mb"`       // --memory hard limit. 0 = 500 MB default.
	CPUCores       float64 `yaml:"cpu_cores"`       // --cpus rate limit. 0 = 1.0 default.
	PIDsLimit      int     `yaml:"pids_limit"`      // --pids-limit. 0 = 5000 default.
	PullOnStart    bool    `yaml:"pull_on_start"`   // Pull the image once at startup instead of per render.
}

// Timeout returns the render deadline, defaulting to 15 seconds.
func (r RendererConfig) Timeout() time.Duration {
	if r.TimeoutSeconds > 0 {
		return time.Duration(r.TimeoutSeconds) * time.Second
	}
	return 15 * time.Second
}

// TelegramConfig configures the Telegram gateway.
type TelegramConfig struct {
	BotToken     string  `yaml:"-"`             // From TELEGRAM_BOT_TOKEN env var only, never from file.
	WebhookURL   string  `yaml:"webhook_url"`   // If set, webhook mode. Empty = long polling.
	ListenAddr   string  `yaml:"listen_addr"`   // Webhook listen address.
	PollTimeout  int     `yaml:"poll_timeout"`  // Long poll timeout in seconds. 0 = 30s default.
	AllowedUsers []int64 `yaml:"allowed_users"` // Telegram user IDs allowed to render. Empty = open to everyone.
}

// AnswersConfig configures the question-answering API client.
type AnswersConfig struct {
	AppID          string `yaml:"-"`               // From WOLFRAM_TOKEN env var only.
	BaseURL        string `yaml:"base_url"`        // Override for tests. Empty = api.wolframalpha.com.
	TimeoutSeconds int    `yaml:"timeout_seconds"` // HTTP timeout. 0 = 30s default.
}

// Timeout returns the answers HTTP timeout, defaulting to 30 seconds.
func (a AnswersConfig) Timeout() time.Duration {
	if a.TimeoutSeconds > 0 {
		return time.Duration(a.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// RateLimitConfig configures the per-user token bucket.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `yaml:"burst_size"`          // 0 = requests_per_minute.
}

// CacheConfig configures the interaction correlation cache.
type CacheConfig struct {
	TTLHours int `yaml:"ttl_hours"` // Entry lifetime before eviction. 0 = 24h default.
}

// TTL returns the cache entry lifetime, defaulting to 24 hours.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLHours > 0 {
		return time.Duration(c.TTLHours) * time.Hour
	}
	return 24 * time.Hour
}

// ObservabilityConfig configures metrics, tracing, and the admin HTTP server.
type ObservabilityConfig struct {
	ListenAddr string         `yaml:"listen_addr"`       // Admin server address (health + metrics). Empty = ":9090".
	Metrics    bool           `yaml:"metrics"`           // Expose Prometheus metrics on /metrics.
	Tracing    *TracingConfig `yaml:"tracing,omitempty"` // nil = tracing disabled.
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `yaml:"protocol"`     // "grpc" or "http". Default: "grpc"
	ServiceName string  `yaml:"service_name"` // Default: "latexfogel"
	SampleRate  float64 `yaml:"sample_rate"`  // 0.0–1.0. Default: 1.0
	Insecure    bool    `yaml:"insecure"`     // Skip TLS for dev
}

// MaintenanceConfig configures the cron-driven upkeep jobs.
type MaintenanceConfig struct {
	CacheSweepSchedule   string `yaml:"cache_sweep_schedule"`   // Cron spec. Empty = "@every 15m".
	ImageRefreshSchedule string `yaml:"image_refresh_schedule"` // Cron spec. Empty = "@daily".
}

// SweepSchedule returns the cache sweep cron spec with its default.
func (m MaintenanceConfig) SweepSchedule() string {
	if m.CacheSweepSchedule != "" {
		return m.CacheSweepSchedule
	}
	return "@every 15m"
}

// RefreshSchedule returns the image refresh cron spec with its default.
func (m MaintenanceConfig) RefreshSchedule() string {
	if m.ImageRefreshSchedule != "" {
		return m.ImageRefreshSchedule
	}
	return "@daily"
}

// Load reads the config file, applies environment overrides, and validates.
// A missing file is not an error — env vars alone can configure the bot.
func Load(path string) (*Config, error) {
	var cfg Config

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	case os.IsNotExist(err):
		// Defaults + env only.
	default:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	// Environment variable overrides — secrets come from env only.
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		cfg.Telegram.BotToken = tok
	}
	if tok := os.Getenv("WOLFRAM_TOKEN"); tok != "" {
		if cfg.Answers == nil {
			cfg.Answers = &AnswersConfig{}
		}
		cfg.Answers.AppID = tok
	}
	if img := os.Getenv("LATEXFOGEL_RENDERER_IMAGE"); img != "" {
		cfg.Renderer.Image = img
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required (set TELEGRAM_BOT_TOKEN env var)")
	}
	if c.Renderer.Image == "" {
		return fmt.Errorf("renderer.image is required (or set LATEXFOGEL_RENDERER_IMAGE env var)")
	}
	if c.Renderer.MemoryMB < 0 {
		return fmt.Errorf("renderer.memory_mb must not be negative")
	}
	if c.Renderer.TimeoutSeconds < 0 {
		return fmt.Errorf("renderer.timeout_seconds must not be negative")
	}
	if c.Answers != nil && c.Answers.AppID == "" {
		return fmt.Errorf("answers requires an app id (set WOLFRAM_TOKEN env var)")
	}
	if c.Cache.TTLHours < 0 {
		return fmt.Errorf("cache.ttl_hours must not be negative")
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/latexfogel.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".latexfogel", "config.yaml")
}
