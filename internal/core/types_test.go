package core_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/sgmailer/internal/core"
)

func TestMessage_Clone(t *testing.T) {
	t.Parallel()

	original := &core.Message{
		To:                  []core.Address{{Email: "a@example.com"}},
		ReplyTo:             &core.Address{Email: "r@example.com"},
		DynamicTemplateData: map[string]any{"title": "T"},
		Headers:             map[string]string{"X-A": "1"},
		Extra:               map[string]any{"asm": 1},
	}

	clone := original.Clone()
	clone.To[0].Email = "b@example.com"
	clone.ReplyTo.Email = "other@example.com"
	clone.DynamicTemplateData["subject"] = "S"
	clone.Headers["X-B"] = "2"
	clone.Extra["ip_pool_name"] = "pool"

	assert.Equal(t, "a@example.com", original.To[0].Email)
	assert.Equal(t, "r@example.com", original.ReplyTo.Email)
	assert.Equal(t, map[string]any{"title": "T"}, original.DynamicTemplateData)
	assert.Equal(t, map[string]string{"X-A": "1"}, original.Headers)
	assert.Equal(t, map[string]any{"asm": 1}, original.Extra)
}

func TestMessage_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message core.Message
		field   string
	}{
		{
			name:    "valid",
			message: core.Message{To: []core.Address{{Email: "user@example.com"}}},
		},
		{
			name:    "no recipients",
			message: core.Message{},
			field:   "to",
		},
		{
			name:    "invalid recipient",
			message: core.Message{To: []core.Address{{Email: "nope"}}},
			field:   "to",
		},
		{
			name: "invalid cc",
			message: core.Message{
				To: []core.Address{{Email: "user@example.com"}},
				CC: []core.Address{{Email: ""}},
			},
			field: "cc",
		},
		{
			name: "invalid bcc",
			message: core.Message{
				To:  []core.Address{{Email: "user@example.com"}},
				BCC: []core.Address{{Email: "x@"}},
			},
			field: "bcc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.message.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var ve *core.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestMessage_TotalRecipients(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, (&core.Message{}).TotalRecipients())
	assert.Equal(t, 4, (&core.Message{
		To:  []core.Address{{Email: "a@example.com"}, {Email: "b@example.com"}},
		CC:  []core.Address{{Email: "c@example.com"}},
		BCC: []core.Address{{Email: "d@example.com"}},
	}).TotalRecipients())
}

func TestTemplate_LatestVersion(t *testing.T) {
	t.Parallel()

	empty := core.Template{ID: "d-1"}
	assert.Nil(t, empty.LatestVersion())

	tpl := core.Template{
		ID: "d-1",
		Versions: []core.TemplateVersion{
			{ID: "v-2", Name: "newest"},
			{ID: "v-1", Name: "oldest"},
		},
	}
	require.NotNil(t, tpl.LatestVersion())
	assert.Equal(t, "v-2", tpl.LatestVersion().ID)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid api key", core.ErrInvalidAPIKey, false},
		{"plain error", errors.New("boom"), false},
		{"bad request", &core.APIError{StatusCode: http.StatusBadRequest}, false},
		{"too many requests", &core.APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &core.APIError{StatusCode: http.StatusBadGateway}, true},
		{"wrapped server error", fmt.Errorf("list: %w", &core.APIError{StatusCode: 503}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, core.IsRetryable(tt.err))
		})
	}
}

func TestErrInvalidAPIKey_Message(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Invalid SendGrid API Key", core.ErrInvalidAPIKey.Error())
}
