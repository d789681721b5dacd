// Package sgmailer sends transactional email through SendGrid and keeps
// SendGrid dynamic templates in sync with local HTML template files.
//
// A message that names a local template file is resolved to a remote
// template id before it is sent. The remote template is named after the
// configured prefix, the file name and a hash of prefix and API key, so
// every client configuration owns its own copy. Each version's name holds a
// hash of the file content: unchanged files cause no remote writes, changed
// files update the latest version in place.
//
// # Basic Usage
//
//	client, err := sgmailer.New(sgmailer.DefaultConfig(),
//		sgmailer.WithAPIKey(os.Getenv("SENDGRID_API_KEY")),
//		sgmailer.WithPrefix("my_app_"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Send(ctx, &sgmailer.Message{
//		From:         sgmailer.Address{Email: "noreply@example.com"},
//		To:           []sgmailer.Address{{Email: "user@example.com"}},
//		Subject:      "Welcome",
//		TemplatePath: "/srv/templates/welcome.html",
//		DynamicTemplateData: map[string]any{
//			"username": "user",
//		},
//	})
//
// Messages can also be given as maps with snake_case or camelCase keys:
//
//	err = client.SendRaw(ctx, map[string]any{
//		"to":                    "user@example.com",
//		"from":                  "noreply@example.com",
//		"subject":               "Welcome",
//		"template_path":         "/srv/templates/welcome.html",
//		"dynamic_template_data": map[string]any{"username": "user"},
//	})
//
// # Features
//
//   - Idempotent template publishing with an in-memory id cache
//   - One remote reconciliation per template name, even under concurrency
//   - Invalid API keys reported as ErrInvalidAPIKey
//   - Optional retries with exponential backoff
//   - Distributed tracing with OpenTelemetry and logging with zap
//   - Configuration from SENDGRID_* environment variables
package sgmailer
