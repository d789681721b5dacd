package sendgrid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"go.uber.org/zap"

	"github.com/lattiq/sgmailer/internal/core"
)

// DefaultBaseURL is the SendGrid API host.
const DefaultBaseURL = "https://api.sendgrid.com"

// apiVersion is prepended to every endpoint.
const apiVersion = "/v3"

// Retrier runs fn, possibly more than once.
type Retrier interface {
	Retry(ctx context.Context, fn func(ctx context.Context) error) error
}

// APIOptions configures an API.
type APIOptions struct {
	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// UserAgent replaces the sendgrid-go default user agent when set.
	UserAgent string

	// HTTPClient executes requests. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	// Retrier wraps every call. Nil means a single attempt.
	Retrier Retrier

	// Logger receives per-call debug logs. Nil means no logging.
	Logger *zap.Logger
}

// API is a thin wrapper over the SendGrid v3 REST API.
// All methods are safe for concurrent use.
type API struct {
	apiKey    string
	baseURL   string
	userAgent string
	client    *rest.Client
	retrier   Retrier
	logger    *zap.Logger
}

// NewAPI creates a new API wrapper authenticated with apiKey.
func NewAPI(apiKey string, opts APIOptions) (*API, error) {
	if apiKey == "" {
		return nil, core.NewValidationError("api_key", "SendGrid API key is required")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &API{
		apiKey:    apiKey,
		baseURL:   baseURL,
		userAgent: opts.UserAgent,
		client:    &rest.Client{HTTPClient: httpClient},
		retrier:   opts.Retrier,
		logger:    logger.Named("sendgrid"),
	}, nil
}

// Do sends one request and returns the raw response. A 401 or 403 becomes
// core.ErrInvalidAPIKey and any other non-2xx status a *core.APIError.
// Transport errors are returned unchanged.
func (a *API) Do(ctx context.Context, method rest.Method, endpoint string, query map[string]string, body []byte) (*rest.Response, error) {
	var response *rest.Response

	attempt := func(ctx context.Context) error {
		request := sendgrid.GetRequest(a.apiKey, apiVersion+endpoint, a.baseURL)
		request.Method = method
		request.Body = body
		if len(query) > 0 {
			request.QueryParams = query
		}
		if a.userAgent != "" {
			request.Headers["User-Agent"] = a.userAgent
		}

		start := time.Now()
		resp, err := a.client.SendWithContext(ctx, request)
		if err != nil {
			a.logger.Debug("request failed",
				zap.String("method", string(method)),
				zap.String("endpoint", endpoint),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return err
		}

		a.logger.Debug("request completed",
			zap.String("method", string(method)),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", time.Since(start)),
		)

		if err := checkResponse(method, endpoint, resp); err != nil {
			return err
		}
		response = resp
		return nil
	}

	if a.retrier == nil {
		if err := attempt(ctx); err != nil {
			return nil, err
		}
		return response, nil
	}

	if err := a.retrier.Retry(ctx, attempt); err != nil {
		return nil, err
	}
	return response, nil
}

// Call JSON-encodes in (when non-nil), sends the request and decodes the
// response body into out (when non-nil).
func (a *API) Call(ctx context.Context, method rest.Method, endpoint string, query map[string]string, in, out interface{}) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, endpoint, err)
		}
		body = encoded
	}

	resp, err := a.Do(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}

	if out == nil || strings.TrimSpace(resp.Body) == "" {
		return nil
	}

	if err := json.Unmarshal([]byte(resp.Body), out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, endpoint, err)
	}
	return nil
}

// checkResponse maps HTTP status codes to errors.
func checkResponse(method rest.Method, endpoint string, resp *rest.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.ErrInvalidAPIKey
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &core.APIError{
			Method:     string(method),
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
		}
	default:
		return nil
	}
}

// templateList covers both list shapes: "templates" for plain listings and
// "result" for paged ones.
type templateList struct {
	Templates []core.Template `json:"templates"`
	Result    []core.Template `json:"result"`
}

// ListTemplates returns all dynamic templates.
func (a *API) ListTemplates(ctx context.Context) ([]core.Template, error) {
	var list templateList
	err := a.Call(ctx, rest.Get, "/templates", map[string]string{"generations": "dynamic"}, nil, &list)
	if err != nil {
		return nil, err
	}
	if len(list.Templates) == 0 {
		return list.Result, nil
	}
	return list.Templates, nil
}

// CreateTemplate creates an empty dynamic template.
func (a *API) CreateTemplate(ctx context.Context, name string) (*core.Template, error) {
	var template core.Template
	body := map[string]string{
		"name":       name,
		"generation": "dynamic",
	}
	if err := a.Call(ctx, rest.Post, "/templates", nil, body, &template); err != nil {
		return nil, err
	}
	return &template, nil
}

// CreateVersion adds a version to a template.
func (a *API) CreateVersion(ctx context.Context, templateID string, version core.VersionInput) (*core.TemplateVersion, error) {
	version.TemplateID = templateID

	var created core.TemplateVersion
	endpoint := "/templates/" + templateID + "/versions"
	if err := a.Call(ctx, rest.Post, endpoint, nil, version, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateVersion patches the name and HTML content of an existing version.
func (a *API) UpdateVersion(ctx context.Context, templateID, versionID string, version core.VersionInput) (*core.TemplateVersion, error) {
	body := map[string]string{
		"name":         version.Name,
		"html_content": version.HTMLContent,
	}

	var updated core.TemplateVersion
	endpoint := "/templates/" + templateID + "/versions/" + versionID
	if err := a.Call(ctx, rest.Patch, endpoint, nil, body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteTemplate removes a template and all of its versions.
func (a *API) DeleteTemplate(ctx context.Context, templateID string) error {
	return a.Call(ctx, rest.Delete, "/templates/"+templateID, nil, nil, nil)
}
