package sgmailer

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// DefaultPrefix is prepended to every remote template name when no prefix is configured.
const DefaultPrefix = "sendgrid_template_helper_"

// DefaultBaseURL is the SendGrid API host.
const DefaultBaseURL = "https://api.sendgrid.com"

// Config holds the complete client configuration.
// Exported fields can be populated from SENDGRID_* environment variables with LoadConfig.
type Config struct {
	// APIKey authenticates every call. Required.
	APIKey string `env:"SENDGRID_API_KEY"`

	// Prefix namespaces remote template names. Empty means DefaultPrefix.
	Prefix string `env:"SENDGRID_TEMPLATE_PREFIX" envDefault:"sendgrid_template_helper_"`

	// BaseURL is the API host, without the /v3 path.
	BaseURL string `env:"SENDGRID_BASE_URL" envDefault:"https://api.sendgrid.com"`

	// Timeout bounds each HTTP request made by the default HTTP client.
	Timeout time.Duration `env:"SENDGRID_TIMEOUT" envDefault:"30s"`

	// MaxConcurrency limits concurrent mail send calls within one Send.
	MaxConcurrency int `env:"SENDGRID_MAX_CONCURRENCY" envDefault:"10"`

	// KeyPolicy decides what happens to unrecognized keys in raw messages.
	KeyPolicy KeyPolicy `env:"SENDGRID_KEY_POLICY" envDefault:"passthrough"`

	// Retry contains retry policy configuration for API calls.
	Retry RetryConfig `envPrefix:"SENDGRID_RETRY_"`

	// Logging contains logger configuration. Ignored when a logger is injected.
	Logging LoggingConfig `envPrefix:"SENDGRID_LOG_"`

	logger     *zap.Logger
	httpClient *http.Client
	cache      TemplateCache
	dispatcher Dispatcher
}

// RetryConfig contains retry policy configuration.
type RetryConfig struct {
	// Enabled indicates whether retries are enabled.
	Enabled bool `env:"ENABLED" envDefault:"false"`

	// MaxAttempts is the maximum number of attempts (including the initial attempt).
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`

	// InitialDelay is the delay before the first retry. Later delays double.
	InitialDelay time.Duration `env:"INITIAL_DELAY" envDefault:"100ms"`

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration `env:"MAX_DELAY" envDefault:"5s"`

	// Jitter indicates whether random jitter should be added to delays.
	Jitter bool `env:"JITTER" envDefault:"true"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Enabled turns on the built-in zap logger. Disabled means a no-op logger.
	Enabled bool `env:"ENABLED" envDefault:"false"`

	// Level is the logging level (debug, info, warn, error).
	Level string `env:"LEVEL" envDefault:"info"`

	// Format is the log format (json, console).
	Format string `env:"FORMAT" envDefault:"json"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:         DefaultPrefix,
		BaseURL:        DefaultBaseURL,
		Timeout:        30 * time.Second,
		MaxConcurrency: 10,
		KeyPolicy:      KeyPolicyPassThrough,
		Retry:          DefaultRetryConfig(),
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
			Format:  "json",
		},
	}
}

// DefaultRetryConfig returns default retry configuration. Retries are off
// unless enabled explicitly.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:      false,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// LoadConfig reads SENDGRID_* environment variables into a Config, after
// loading the given dotenv files (".env" when none are given). Missing
// dotenv files are ignored; variables already set in the environment win.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}

	config := DefaultConfig()
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return NewConfigError("api_key", "SendGrid API key is required")
	}

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewConfigError("base_url", "base URL must be an absolute URL")
		}
	}

	if c.Timeout <= 0 {
		return NewConfigError("timeout", "timeout must be greater than 0")
	}

	if c.MaxConcurrency < 1 {
		return NewConfigError("max_concurrency", "max concurrency must be at least 1")
	}

	if !c.KeyPolicy.Valid() {
		return NewConfigError("key_policy", "unsupported key policy: "+string(c.KeyPolicy))
	}

	if c.Retry.Enabled {
		if c.Retry.MaxAttempts < 1 {
			return NewConfigError("retry.max_attempts", "max attempts must be at least 1")
		}
		if c.Retry.InitialDelay <= 0 {
			return NewConfigError("retry.initial_delay", "initial delay must be greater than 0")
		}
		if c.Retry.MaxDelay < c.Retry.InitialDelay {
			return NewConfigError("retry.max_delay", "max delay must not be less than initial delay")
		}
	}

	return nil
}
