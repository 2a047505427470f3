package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec/core/pkg/audit"
	"github.com/clawsec/core/pkg/config"
)

func TestWebhookSenderPostsEvent(t *testing.T) {
	var got audit.Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(config.WebhookApproval{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	})
	require.NoError(t, err)

	err = sender.Send(context.Background(), audit.Event{
		Kind:   audit.KindDecision,
		Tool:   "bash",
		Action: "block",
		Reason: "recursive force-remove of protected path /",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer token", auth)
	assert.Equal(t, "bash", got.Tool)
	assert.Equal(t, "block", got.Action)
}

func TestWebhookSenderReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(config.WebhookApproval{URL: srv.URL})
	require.NoError(t, err)
	err = sender.Send(context.Background(), audit.Event{Kind: audit.KindDecision})
	assert.ErrorContains(t, err, "403")
}

func TestWebhookSenderRequiresURL(t *testing.T) {
	_, err := NewWebhookSender(config.WebhookApproval{})
	assert.Error(t, err)
}

func TestSlogSenderNeverFails(t *testing.T) {
	s := NewSlogSender(nil)
	assert.NoError(t, s.Send(context.Background(), audit.Event{Kind: audit.KindSanitize}))
	assert.NoError(t, s.Test(context.Background()))
}
