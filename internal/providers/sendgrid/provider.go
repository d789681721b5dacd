package sendgrid

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lattiq/sgmailer/internal/core"
)

// Provider implements core.Dispatcher on top of the v3 mail send endpoint.
type Provider struct {
	api            *API
	maxConcurrency int
	logger         *zap.Logger
}

// NewProvider creates a new SendGrid dispatcher. maxConcurrency bounds the
// number of in-flight sends; values below one mean one.
func NewProvider(api *API, maxConcurrency int) *Provider {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	return &Provider{
		api:            api,
		maxConcurrency: maxConcurrency,
		logger:         api.logger,
	}
}

// Dispatch sends each message with its own mail send call. The first
// failure cancels the rest and is returned as is.
func (p *Provider) Dispatch(ctx context.Context, messages []*core.Message) ([]*core.SendResult, error) {
	results := make([]*core.SendResult, len(messages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency)

	for i, message := range messages {
		i, message := i, message
		g.Go(func() error {
			result, err := p.send(gctx, message)
			if err != nil {
				p.logger.Debug("mail send failed", zap.Int("index", i), zap.Error(err))
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "sendgrid"
}

// send posts one message.
func (p *Provider) send(ctx context.Context, message *core.Message) (*core.SendResult, error) {
	body, err := RequestBody(message)
	if err != nil {
		return nil, err
	}

	response, err := p.api.Do(ctx, rest.Post, "/mail/send", nil, body)
	if err != nil {
		return nil, err
	}

	// SendGrid returns the id in X-Message-Id.
	messageID := "unknown"
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 && ids[0] != "" {
		messageID = ids[0]
	}

	return &core.SendResult{
		MessageID: messageID,
		Provider:  p.Name(),
		Timestamp: time.Now(),
	}, nil
}

// NewV3Mail converts a mangled message into the sendgrid-go mail model.
func NewV3Mail(message *core.Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(message.From.Name, message.From.Email))
	m.Subject = message.Subject

	personalization := mail.NewPersonalization()
	for _, recipient := range message.To {
		personalization.AddTos(mail.NewEmail(recipient.Name, recipient.Email))
	}
	for _, recipient := range message.CC {
		personalization.AddCCs(mail.NewEmail(recipient.Name, recipient.Email))
	}
	for _, recipient := range message.BCC {
		personalization.AddBCCs(mail.NewEmail(recipient.Name, recipient.Email))
	}
	for key, value := range message.DynamicTemplateData {
		personalization.SetDynamicTemplateData(key, value)
	}
	m.AddPersonalizations(personalization)

	if message.TemplateID != "" {
		m.SetTemplateID(message.TemplateID)
	}

	// text/plain must precede text/html.
	if message.Text != "" {
		m.AddContent(mail.NewContent("text/plain", message.Text))
	}
	if message.HTML != "" {
		m.AddContent(mail.NewContent("text/html", message.HTML))
	}

	if message.ReplyTo != nil {
		m.SetReplyTo(mail.NewEmail(message.ReplyTo.Name, message.ReplyTo.Email))
	}
	if len(message.Categories) > 0 {
		m.AddCategories(message.Categories...)
	}
	for key, value := range message.Headers {
		m.SetHeader(key, value)
	}
	for key, value := range message.CustomArgs {
		m.SetCustomArg(key, value)
	}
	if message.SendAt > 0 {
		m.SetSendAt(int(message.SendAt))
	}

	return m
}

// RequestBody returns the JSON mail send payload for message. Keys from
// message.Extra are added at the top level unless the payload already has them.
func RequestBody(message *core.Message) ([]byte, error) {
	body := mail.GetRequestBody(NewV3Mail(message))
	if len(message.Extra) == 0 {
		return body, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode mail payload: %w", err)
	}
	for key, value := range message.Extra {
		if _, exists := payload[key]; !exists {
			payload[key] = value
		}
	}

	merged, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mail payload: %w", err)
	}
	return merged, nil
}
