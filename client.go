package sgmailer

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lattiq/sgmailer/internal/core"
	"github.com/lattiq/sgmailer/internal/providers/sendgrid"
)

// Type aliases to re-export core types for the public API.
type (
	Message         = core.Message
	Address         = core.Address
	Template        = core.Template
	TemplateVersion = core.TemplateVersion
	VersionInput    = core.VersionInput
	SendResult      = core.SendResult
	Dispatcher      = core.Dispatcher
	TemplateAPI     = core.TemplateAPI
	KeyPolicy       = core.KeyPolicy
	ValidationError = core.ValidationError
	APIError        = core.APIError
)

// Key policies for raw messages.
const (
	KeyPolicyPassThrough = core.KeyPolicyPassThrough
	KeyPolicyReject      = core.KeyPolicyReject
)

// ErrInvalidAPIKey is returned whenever SendGrid answers 401 or 403.
var ErrInvalidAPIKey = core.ErrInvalidAPIKey

// Helper re-exports.
var (
	NewValidationError          = core.NewValidationError
	NewValidationErrorWithValue = core.NewValidationErrorWithValue
	IsRetryable                 = core.IsRetryable
	ParseAddress                = core.ParseAddress
	DecodeMessage               = core.DecodeMessage
	Fingerprint                 = core.Fingerprint
)

// Client implements the Mailer interface on top of SendGrid.
// All methods are safe for concurrent use.
type Client struct {
	config       Config
	postfix      string
	api          *sendgrid.API
	dispatcher   Dispatcher
	templates    *TemplateSynchronizer
	retryManager *RetryManager
	httpClient   *http.Client
	ownsHTTP     bool
	ownsLogger   bool
	logger       *zap.Logger
	tracer       trace.Tracer
	mu           sync.RWMutex
	closed       bool
}

// New creates a new client. It fails without touching the network when the
// configuration is invalid, in particular when the API key is missing.
func New(config Config, opts ...Option) (*Client, error) {
	// Apply functional options
	for _, opt := range opts {
		opt(&config)
	}

	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.logger
	if logger == nil {
		var err error
		logger, err = NewLogger(config.Logging)
		if err != nil {
			return nil, err
		}
	}

	client := &Client{
		config:     config,
		postfix:    Postfix(config.Prefix, config.APIKey),
		ownsLogger: config.logger == nil,
		logger:     logger,
		tracer:     otel.Tracer("github.com/lattiq/sgmailer"),
	}

	client.httpClient = config.httpClient
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: config.Timeout}
		client.ownsHTTP = true
	}

	versionInfo := GetVersionInfo()
	apiOptions := sendgrid.APIOptions{
		BaseURL:    config.BaseURL,
		UserAgent:  versionInfo.UserAgent(),
		HTTPClient: client.httpClient,
		Logger:     logger,
	}

	if config.Retry.Enabled {
		client.retryManager = NewRetryManager(config.Retry)
		apiOptions.Retrier = client.retryManager
	}

	api, err := sendgrid.NewAPI(config.APIKey, apiOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create SendGrid API: %w", err)
	}
	client.api = api

	client.dispatcher = config.dispatcher
	if client.dispatcher == nil {
		client.dispatcher = sendgrid.NewProvider(api, config.MaxConcurrency)
	}

	client.templates = NewTemplateSynchronizer(api, config.cache, config.Prefix, client.postfix, logger)

	logger.Debug("client created",
		zap.String("version", versionInfo.String()),
		zap.String("prefix", config.Prefix),
		zap.String("provider", client.dispatcher.Name()),
		zap.Bool("retry", config.Retry.Enabled),
	)

	return client, nil
}

// Send mangles every message, resolving template paths to template ids, and
// then dispatches them all. Nothing is dispatched if any message fails.
func (c *Client) Send(ctx context.Context, messages ...*Message) error {
	ctx, span := c.tracer.Start(ctx, "sgmailer.Client.Send")
	defer span.End()

	if err := c.checkOpen(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if len(messages) == 0 {
		span.SetStatus(codes.Ok, "no messages to send")
		return nil
	}

	span.SetAttributes(
		attribute.Int("sgmailer.batch.size", len(messages)),
		attribute.String("sgmailer.provider", c.dispatcher.Name()),
	)

	// Sequential, so the first resolution of a template fills the cache for the rest.
	mangled := make([]*Message, 0, len(messages))
	recipients := 0
	for i, message := range messages {
		if message == nil {
			err := NewValidationErrorWithValue("message", "message is nil", i)
			span.RecordError(err)
			span.SetStatus(codes.Error, "validation failed")
			return err
		}

		if err := message.Validate(); err != nil {
			c.logger.Debug("message validation failed", zap.Int("index", i), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "validation failed")
			return err
		}

		m, err := c.mangle(ctx, message)
		if err != nil {
			c.logger.Debug("message mangling failed", zap.Int("index", i), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "mangle failed")
			return err
		}
		mangled = append(mangled, m)
		recipients += m.TotalRecipients()
	}
	span.SetAttributes(attribute.Int("sgmailer.batch.recipients", recipients))

	results, err := c.dispatcher.Dispatch(ctx, mangled)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r != nil {
			ids = append(ids, r.MessageID)
		}
	}
	span.SetAttributes(attribute.StringSlice("sgmailer.message_ids", ids))
	span.SetStatus(codes.Ok, "messages sent")

	c.logger.Info("messages sent",
		zap.Int("count", len(mangled)),
		zap.Int("recipients", recipients),
		zap.String("provider", c.dispatcher.Name()),
		zap.Strings("message_ids", ids),
	)

	return nil
}

// SendRaw decodes loosely keyed messages (snake_case or camelCase keys) and
// sends them like Send.
func (c *Client) SendRaw(ctx context.Context, raws ...map[string]any) error {
	messages := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		message, err := core.DecodeMessage(raw, c.config.KeyPolicy)
		if err != nil {
			return err
		}
		messages = append(messages, message)
	}
	return c.Send(ctx, messages...)
}

// Mangle decodes a loosely keyed message and mangles it. See MangleMessage.
func (c *Client) Mangle(ctx context.Context, raw map[string]any) (*Message, error) {
	message, err := core.DecodeMessage(raw, c.config.KeyPolicy)
	if err != nil {
		return nil, err
	}
	return c.MangleMessage(ctx, message)
}

// MangleMessage returns a copy of message ready for dispatch. When the
// message names a template path, the template id is resolved and set, and
// the subject is copied into the dynamic template data if that data has no
// subject of its own. Without a template path no network call is made.
func (c *Client) MangleMessage(ctx context.Context, message *Message) (*Message, error) {
	ctx, span := c.tracer.Start(ctx, "sgmailer.Client.Mangle")
	defer span.End()

	if err := c.checkOpen(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if message == nil {
		err := NewValidationError("message", "message is nil")
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	m, err := c.mangle(ctx, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mangle failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("sgmailer.template.id", m.TemplateID))
	span.SetStatus(codes.Ok, "message mangled")
	return m, nil
}

func (c *Client) mangle(ctx context.Context, message *Message) (*Message, error) {
	m := message.Clone()
	if m.TemplatePath == "" {
		return m, nil
	}

	// SendGrid only renders the version's {{subject}} from the dynamic data.
	if m.DynamicTemplateData != nil && !hasSubject(m.DynamicTemplateData) {
		m.DynamicTemplateData["subject"] = m.Subject
	}

	id, err := c.templates.ResolveTemplateID(ctx, m.TemplatePath)
	if err != nil {
		return nil, err
	}
	m.TemplateID = id

	return m, nil
}

// ResolveTemplateID returns the remote template id for a local template file.
func (c *Client) ResolveTemplateID(ctx context.Context, templatePath string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	return c.templates.ResolveTemplateID(ctx, templatePath)
}

// TemplateName returns the remote template name derived for a local template file.
func (c *Client) TemplateName(templatePath string) string {
	return c.templates.TemplateName(templatePath)
}

// DeleteTemplate removes the remote template backing a local template file.
func (c *Client) DeleteTemplate(ctx context.Context, templatePath string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.templates.DeleteTemplate(ctx, templatePath)
}

// PurgeTemplates removes every remote template created by clients with this
// prefix and API key.
func (c *Client) PurgeTemplates(ctx context.Context) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return c.templates.PurgeTemplates(ctx)
}

// ResetTemplateCache empties the template id cache. A cache shared through
// WithTemplateCache is emptied for every client using it.
func (c *Client) ResetTemplateCache() {
	c.templates.Cache().Reset()
}

// Close closes the client and releases any resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if c.ownsHTTP {
		c.httpClient.CloseIdleConnections()
	}

	if c.ownsLogger {
		_ = c.logger.Sync()
	}

	return nil
}

// hasSubject reports whether the dynamic data carries a non-empty subject.
func hasSubject(data map[string]any) bool {
	switch v := data["subject"].(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	return nil
}
