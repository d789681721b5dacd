package sgmailer

import (
	"context"
)

// Public interfaces for the sgmailer library
type (
	// Mailer defines the core email sending interface.
	// All methods are safe for concurrent use.
	Mailer interface {
		// Send sends one or more messages. Template paths are resolved to
		// template ids for every message before anything is dispatched.
		Send(ctx context.Context, messages ...*Message) error

		// SendRaw sends messages given as maps with snake_case or camelCase keys.
		SendRaw(ctx context.Context, raws ...map[string]any) error

		// ResolveTemplateID returns the remote template id for a local template file.
		ResolveTemplateID(ctx context.Context, templatePath string) (string, error)

		// Close closes the mailer and releases any resources.
		// After calling Close, the mailer should not be used.
		Close() error
	}
)

var _ Mailer = (*Client)(nil)
