package sgmailer

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithAPIKey sets the SendGrid API key.
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithPrefix sets the prefix used to namespace remote template names.
func WithPrefix(prefix string) Option {
	return func(c *Config) {
		c.Prefix = prefix
	}
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithHTTPClient sets the HTTP client used for every API call.
// The client's own timeout applies instead of Config.Timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.httpClient = client
	}
}

// WithLogger injects a zap logger. It takes precedence over Config.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithLogging enables the built-in logger with the given level and format.
func WithLogging(level, format string) Option {
	return func(c *Config) {
		c.Logging.Enabled = true
		c.Logging.Level = level
		c.Logging.Format = format
	}
}

// WithTemplateCache sets the template id cache. Pass the same cache to
// several clients to share resolved ids between them.
func WithTemplateCache(cache TemplateCache) Option {
	return func(c *Config) {
		c.cache = cache
	}
}

// WithDispatcher replaces the SendGrid mail send dispatcher.
func WithDispatcher(dispatcher Dispatcher) Option {
	return func(c *Config) {
		c.dispatcher = dispatcher
	}
}

// WithKeyPolicy sets how unrecognized raw message keys are handled.
func WithKeyPolicy(policy KeyPolicy) Option {
	return func(c *Config) {
		c.KeyPolicy = policy
	}
}

// WithMaxConcurrency limits concurrent mail send calls within one Send.
func WithMaxConcurrency(n int) Option {
	return func(c *Config) {
		c.MaxConcurrency = n
	}
}

// WithRetry configures retry behavior.
func WithRetry(maxAttempts int, initialDelay, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.Retry.Enabled = true
		c.Retry.MaxAttempts = maxAttempts
		c.Retry.InitialDelay = initialDelay
		c.Retry.MaxDelay = maxDelay
	}
}

// WithJitter enables or disables jitter in retry delays.
func WithJitter(enabled bool) Option {
	return func(c *Config) {
		c.Retry.Jitter = enabled
	}
}

// WithoutRetry disables retry functionality.
func WithoutRetry() Option {
	return func(c *Config) {
		c.Retry.Enabled = false
	}
}
