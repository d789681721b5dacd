package core

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// Dispatcher delivers fully mangled messages to the mail-sending endpoint.
// Implementations own MIME construction, batching and delivery details.
type Dispatcher interface {
	// Dispatch sends every message. It fails as a whole if any message fails.
	Dispatch(ctx context.Context, messages []*Message) ([]*SendResult, error)

	// Name returns the dispatcher's name for identification and logging.
	Name() string
}

// TemplateAPI is the subset of the remote API used to reconcile dynamic templates.
type TemplateAPI interface {
	ListTemplates(ctx context.Context) ([]Template, error)
	CreateTemplate(ctx context.Context, name string) (*Template, error)
	CreateVersion(ctx context.Context, templateID string, version VersionInput) (*TemplateVersion, error)
	UpdateVersion(ctx context.Context, templateID, versionID string, version VersionInput) (*TemplateVersion, error)
	DeleteTemplate(ctx context.Context, templateID string) error
}

// Address represents an email address with optional display name.
type Address struct {
	Name  string `json:"name,omitempty" mapstructure:"name"` // Display name (optional)
	Email string `json:"email" mapstructure:"email"`         // Email address (required)
}

// String returns the formatted email address.
// If Name is provided, returns "Name <email@domain.com>"
// Otherwise returns just "email@domain.com"
func (a Address) String() string {
	if a.Name != "" {
		return mime.QEncoding.Encode("UTF-8", a.Name) + " <" + a.Email + ">"
	}
	return a.Email
}

// Valid checks if the address has a valid email format.
func (a Address) Valid() bool {
	if a.Email == "" {
		return false
	}
	_, err := mail.ParseAddress(a.String())
	return err == nil
}

// ParseAddress parses "user@example.com" or "Name <user@example.com>".
func ParseAddress(s string) (Address, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Address{}, err
	}
	return Address{Name: parsed.Name, Email: parsed.Address}, nil
}

// Message is a single outgoing email in normalized (camelCase) form.
type Message struct {
	To      []Address `json:"to" mapstructure:"to"`
	CC      []Address `json:"cc,omitempty" mapstructure:"cc"`
	BCC     []Address `json:"bcc,omitempty" mapstructure:"bcc"`
	From    Address   `json:"from" mapstructure:"from"`
	ReplyTo *Address  `json:"replyTo,omitempty" mapstructure:"replyTo"`
	Subject string    `json:"subject,omitempty" mapstructure:"subject"`
	Text    string    `json:"text,omitempty" mapstructure:"text"`
	HTML    string    `json:"html,omitempty" mapstructure:"html"`

	// TemplatePath is the local template file. It never leaves the process.
	TemplatePath string `json:"templatePath,omitempty" mapstructure:"templatePath"`

	// TemplateID is the remote dynamic template id, filled in during mangling.
	TemplateID string `json:"templateId,omitempty" mapstructure:"templateId"`

	DynamicTemplateData map[string]any    `json:"dynamicTemplateData,omitempty" mapstructure:"dynamicTemplateData"`
	Categories          []string          `json:"categories,omitempty" mapstructure:"categories"`
	Headers             map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	CustomArgs          map[string]string `json:"customArgs,omitempty" mapstructure:"customArgs"`
	SendAt              int64             `json:"sendAt,omitempty" mapstructure:"sendAt"`

	// Extra holds keys outside the field table, kept verbatim.
	Extra map[string]any `json:"-" mapstructure:"-"`
}

// Clone returns a copy of the message whose maps and slices can be modified
// without touching the original.
func (m *Message) Clone() *Message {
	c := *m
	c.To = append([]Address(nil), m.To...)
	c.CC = append([]Address(nil), m.CC...)
	c.BCC = append([]Address(nil), m.BCC...)
	c.Categories = append([]string(nil), m.Categories...)
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	if m.DynamicTemplateData != nil {
		c.DynamicTemplateData = make(map[string]any, len(m.DynamicTemplateData))
		for k, v := range m.DynamicTemplateData {
			c.DynamicTemplateData[k] = v
		}
	}
	if m.Headers != nil {
		c.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = v
		}
	}
	if m.CustomArgs != nil {
		c.CustomArgs = make(map[string]string, len(m.CustomArgs))
		for k, v := range m.CustomArgs {
			c.CustomArgs[k] = v
		}
	}
	if m.Extra != nil {
		c.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Validate checks the addressing fields required by the mail endpoint.
func (m *Message) Validate() error {
	if len(m.To) == 0 {
		return &ValidationError{Field: "to", Message: "at least one recipient required"}
	}

	for i, to := range m.To {
		if !to.Valid() {
			return &ValidationError{
				Field:   "to",
				Message: "invalid recipient address at index " + strconv.Itoa(i),
			}
		}
	}

	for i, cc := range m.CC {
		if !cc.Valid() {
			return &ValidationError{
				Field:   "cc",
				Message: "invalid CC address at index " + strconv.Itoa(i),
			}
		}
	}

	for i, bcc := range m.BCC {
		if !bcc.Valid() {
			return &ValidationError{
				Field:   "bcc",
				Message: "invalid BCC address at index " + strconv.Itoa(i),
			}
		}
	}

	return nil
}

// TotalRecipients returns the total number of recipients (To + CC + BCC).
func (m *Message) TotalRecipients() int {
	return len(m.To) + len(m.CC) + len(m.BCC)
}

// Template is a remote dynamic template.
type Template struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Generation string            `json:"generation"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
	Versions   []TemplateVersion `json:"versions"`
}

// LatestVersion returns the most recent version, or nil when there is none.
// The remote API lists versions most-recent-first.
func (t *Template) LatestVersion() *TemplateVersion {
	if len(t.Versions) == 0 {
		return nil
	}
	return &t.Versions[0]
}

// TemplateVersion is a content snapshot of a remote template. Name carries
// the content fingerprint.
type TemplateVersion struct {
	ID          string `json:"id"`
	TemplateID  string `json:"template_id"`
	Name        string `json:"name"`
	Active      int    `json:"active"`
	HTMLContent string `json:"html_content,omitempty"`
	Subject     string `json:"subject,omitempty"`
}

// VersionInput is the body of a create or update version call.
type VersionInput struct {
	TemplateID  string `json:"template_id,omitempty"`
	Name        string `json:"name"`
	HTMLContent string `json:"html_content"`
	Active      *int   `json:"active,omitempty"`
	Subject     string `json:"subject,omitempty"`
}

// SendResult contains the result of sending a single message.
type SendResult struct {
	// MessageID is the identifier assigned by the provider.
	MessageID string

	// Provider is the name of the dispatcher that sent the message.
	Provider string

	// Timestamp when the message was accepted.
	Timestamp time.Time
}

// ErrInvalidAPIKey is returned for any 401 or 403 response.
var ErrInvalidAPIKey = errors.New("Invalid SendGrid API Key") //nolint:staticcheck // fixed wording surfaced to callers

// ValidationError represents a validation error with specific field information.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string

	// Message is the validation error message.
	Message string

	// Value is the invalid value (optional).
	Value interface{}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error in %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Is implements error matching for errors.Is.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// APIError is a non-2xx response other than 401/403.
type APIError struct {
	// Method is the HTTP method of the failed call.
	Method string

	// Endpoint is the path relative to the API version root.
	Endpoint string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Body is the raw response body.
	Body string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("sendgrid %s %s failed (status: %d): %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports whether the call may succeed on a later attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// RetryableError interface indicates whether an error can be retried.
type RetryableError interface {
	Retryable() bool
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewValidationErrorWithValue creates a new validation error with a value.
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidAPIKey) {
		return false
	}

	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}

	return false
}
