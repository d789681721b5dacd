package sendgrid_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/sgmailer/internal/core"
	"github.com/lattiq/sgmailer/internal/providers/sendgrid"
)

func TestRequestBody(t *testing.T) {
	t.Parallel()

	message := &core.Message{
		To:                  []core.Address{{Email: "user@example.com", Name: "User"}},
		CC:                  []core.Address{{Email: "cc@example.com"}},
		From:                core.Address{Email: "admin@example.com"},
		ReplyTo:             &core.Address{Email: "support@example.com"},
		Subject:             "Hello",
		TemplatePath:        "/local/only.html",
		TemplateID:          "d-123",
		DynamicTemplateData: map[string]any{"title": "T", "subject": "Hello"},
		Categories:          []string{"welcome"},
		CustomArgs:          map[string]string{"campaign": "spring"},
		Extra:               map[string]any{"ip_pool_name": "transactional", "subject": "ignored"},
	}

	body, err := sendgrid.RequestBody(message)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))

	assert.Equal(t, "d-123", payload["template_id"])
	assert.Equal(t, "Hello", payload["subject"])
	assert.Equal(t, "transactional", payload["ip_pool_name"])
	assert.Equal(t, map[string]any{"email": "admin@example.com"}, payload["from"])
	assert.Equal(t, map[string]any{"email": "support@example.com"}, payload["reply_to"])
	assert.Equal(t, []any{"welcome"}, payload["categories"])
	assert.Equal(t, map[string]any{"campaign": "spring"}, payload["custom_args"])
	assert.NotContains(t, string(body), "/local/only.html")

	personalizations, ok := payload["personalizations"].([]any)
	require.True(t, ok)
	require.Len(t, personalizations, 1)

	p := personalizations[0].(map[string]any)
	assert.Equal(t, []any{map[string]any{"email": "user@example.com", "name": "User"}}, p["to"])
	assert.Equal(t, []any{map[string]any{"email": "cc@example.com"}}, p["cc"])
	assert.Equal(t, map[string]any{"title": "T", "subject": "Hello"}, p["dynamic_template_data"])
}

func TestRequestBody_Content(t *testing.T) {
	t.Parallel()

	body, err := sendgrid.RequestBody(&core.Message{
		To:   []core.Address{{Email: "user@example.com"}},
		From: core.Address{Email: "admin@example.com"},
		Text: "plain",
		HTML: "<p>rich</p>",
	})
	require.NoError(t, err)

	var payload struct {
		Content []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Content, 2)
	assert.Equal(t, "text/plain", payload.Content[0].Type)
	assert.Equal(t, "text/html", payload.Content[1].Type)
}

func TestProvider_Dispatch(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)

		raw, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(raw, &payload)

		mu.Lock()
		received = append(received, payload)
		mu.Unlock()

		w.Header().Set("X-Message-Id", "msg-"+payload["subject"].(string))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	provider := sendgrid.NewProvider(newAPI(t, server.URL), 2)
	assert.Equal(t, "sendgrid", provider.Name())

	messages := []*core.Message{
		{To: []core.Address{{Email: "a@example.com"}}, From: core.Address{Email: "x@example.com"}, Subject: "a", Text: "a"},
		{To: []core.Address{{Email: "b@example.com"}}, From: core.Address{Email: "x@example.com"}, Subject: "b", Text: "b"},
		{To: []core.Address{{Email: "c@example.com"}}, From: core.Address{Email: "x@example.com"}, Subject: "c", Text: "c"},
	}

	results, err := provider.Dispatch(context.Background(), messages)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "msg-a", results[0].MessageID)
	assert.Equal(t, "msg-b", results[1].MessageID)
	assert.Equal(t, "msg-c", results[2].MessageID)
	assert.Equal(t, "sendgrid", results[0].Provider)
	assert.Len(t, received, 3)
}

func TestProvider_Dispatch_InvalidKey(t *testing.T) {
	t.Parallel()

	server, _ := newServer(t, http.StatusUnauthorized, `{"errors":[{"message":"The provided authorization grant is invalid"}]}`)
	provider := sendgrid.NewProvider(newAPI(t, server.URL), 0)

	_, err := provider.Dispatch(context.Background(), []*core.Message{
		{To: []core.Address{{Email: "user@example.com"}}},
	})
	require.Error(t, err)
	assert.Equal(t, "Invalid SendGrid API Key", err.Error())
}
