// Package config loads personad settings from defaults, an optional YAML file
// and PERSONAD_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"personad/internal/observability"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "PERSONAD"

// Config is the complete runtime configuration.
type Config struct {
	Personas      PersonasConfig       `mapstructure:"personas"`
	Resolver      ResolverConfig       `mapstructure:"resolver"`
	Context       ContextConfig        `mapstructure:"context"`
	Embedding     EmbeddingConfig      `mapstructure:"embedding"`
	Observability observability.Config `mapstructure:"observability"`
}

// PersonasConfig locates persona definition files.
type PersonasConfig struct {
	Dir      string        `mapstructure:"dir"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// ResolverConfig tunes activation.
type ResolverConfig struct {
	MaxPersonas       int     `mapstructure:"max_personas"`
	Matcher           string  `mapstructure:"matcher"` // keyword, semantic
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`
}

// ContextConfig selects and tunes the context store.
type ContextConfig struct {
	Backend      string        `mapstructure:"backend"` // file, redis
	BaseURL      string        `mapstructure:"base_url"`
	Extension    string        `mapstructure:"extension"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisPrefix  string        `mapstructure:"redis_prefix"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Concurrency  int           `mapstructure:"concurrency"`
	CacheSize    int           `mapstructure:"cache_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// EmbeddingConfig configures the embedding endpoint used by the semantic
// matcher. An empty BaseURL selects the offline hash embedder.
type EmbeddingConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	CacheSize  int    `mapstructure:"cache_size"`
	Dimensions int    `mapstructure:"dimensions"`
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	configPath string
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithConfigPath forces the loader to read configuration from a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

func setDefaults(v *viper.Viper) {
	obs := observability.DefaultConfig()

	v.SetDefault("personas.dir", "personas")
	v.SetDefault("personas.watch", false)
	v.SetDefault("personas.debounce", 300*time.Millisecond)

	v.SetDefault("resolver.max_personas", 0)
	v.SetDefault("resolver.matcher", "keyword")
	v.SetDefault("resolver.semantic_threshold", 0.35)

	v.SetDefault("context.backend", "file")
	v.SetDefault("context.base_url", "context")
	v.SetDefault("context.extension", ".md")
	v.SetDefault("context.redis_addr", "localhost:6379")
	v.SetDefault("context.redis_prefix", "personad:context:")
	v.SetDefault("context.fetch_timeout", 2*time.Second)
	v.SetDefault("context.concurrency", 8)
	v.SetDefault("context.cache_size", 256)
	v.SetDefault("context.cache_ttl", 5*time.Minute)

	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.cache_size", 1024)
	v.SetDefault("embedding.dimensions", 256)

	v.SetDefault("observability.logging.level", obs.Logging.Level)
	v.SetDefault("observability.logging.format", obs.Logging.Format)
	v.SetDefault("observability.metrics.enabled", obs.Metrics.Enabled)
	v.SetDefault("observability.metrics.prometheus_port", obs.Metrics.PrometheusPort)
	v.SetDefault("observability.tracing.enabled", obs.Tracing.Enabled)
	v.SetDefault("observability.tracing.exporter", obs.Tracing.Exporter)
	v.SetDefault("observability.tracing.otlp_endpoint", obs.Tracing.OTLPEndpoint)
	v.SetDefault("observability.tracing.zipkin_endpoint", obs.Tracing.ZipkinEndpoint)
	v.SetDefault("observability.tracing.sample_rate", obs.Tracing.SampleRate)
	v.SetDefault("observability.tracing.service_name", obs.Tracing.ServiceName)
	v.SetDefault("observability.tracing.service_version", obs.Tracing.ServiceVersion)
}

// EnvName returns the environment variable that overrides key, e.g.
// "context.fetch_timeout" -> "PERSONAD_CONTEXT_FETCH_TIMEOUT".
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load resolves the configuration. Without WithConfigPath it looks for
// personad.yaml in the working directory and $HOME/.personad; a missing file
// is not an error. An explicit path must exist.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{envLookup: DefaultEnvLookup}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	if options.configPath != "" {
		v.SetConfigFile(options.configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", options.configPath, err)
		}
	} else {
		v.SetConfigName("personad")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.personad")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if options.envLookup != nil {
		for _, key := range v.AllKeys() {
			if value, ok := options.envLookup(EnvName(key)); ok {
				v.Set(key, value)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Resolver.Matcher = strings.ToLower(strings.TrimSpace(cfg.Resolver.Matcher))
	cfg.Context.Backend = strings.ToLower(strings.TrimSpace(cfg.Context.Backend))
	cfg.Personas.Dir = strings.TrimSpace(cfg.Personas.Dir)
}

// Validate rejects unknown backends and matchers and negative limits.
func (c Config) Validate() error {
	var errs []error
	switch c.Resolver.Matcher {
	case "keyword", "semantic":
	default:
		errs = append(errs, fmt.Errorf("resolver.matcher: unsupported %q", c.Resolver.Matcher))
	}
	if c.Resolver.MaxPersonas < 0 {
		errs = append(errs, fmt.Errorf("resolver.max_personas: must not be negative"))
	}
	if c.Resolver.SemanticThreshold < 0 || c.Resolver.SemanticThreshold > 1 {
		errs = append(errs, fmt.Errorf("resolver.semantic_threshold: must be within [0,1]"))
	}
	switch c.Context.Backend {
	case "file":
	case "memory":
		errs = append(errs, fmt.Errorf("context.backend: memory is for in-process callers only, use file or redis"))
	case "redis":
		if strings.TrimSpace(c.Context.RedisAddr) == "" {
			errs = append(errs, fmt.Errorf("context.redis_addr: required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("context.backend: unsupported %q", c.Context.Backend))
	}
	if c.Context.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("context.fetch_timeout: must not be negative"))
	}
	if c.Context.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("context.concurrency: must not be negative"))
	}
	if c.Context.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("context.cache_size: must not be negative"))
	}
	if c.Embedding.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions: must not be negative"))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
