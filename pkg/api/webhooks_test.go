package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-cms/shepherd/pkg/configs"
	"github.com/shepherd-cms/shepherd/pkg/configs/memory"
	"github.com/shepherd-cms/shepherd/pkg/webhook"
)

func newWebhookHandler(t *testing.T) (*Handler, *webhook.Manager) {
	t.Helper()
	m := webhook.NewManager(webhook.Options{Workers: 1, QueueSize: 4})
	t.Cleanup(m.Close)
	h := NewHandler(Deps{
		Service: configs.NewService(memory.New(), m, nil, nil),
		Hooks:   m,
	})
	return h, m
}

func TestAddAndListWebhooks(t *testing.T) {
	h, m := newWebhookHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/webhooks",
		`{"url":"http://example.invalid/hook","events":["config.created"],"secret":"s","timeout_seconds":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created subscriberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "http://example.invalid/hook", created.URL)
	assert.Equal(t, 5, created.TimeoutSeconds)
	assert.True(t, created.Enabled)

	rec = doJSON(t, h, http.MethodGet, "/api/webhooks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Webhooks []subscriberResponse `json:"webhooks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Webhooks, 1)

	// The secret is registered but never echoed back.
	assert.NotContains(t, rec.Body.String(), `"s"`)
	require.Len(t, m.Subscribers(), 1)
	assert.Equal(t, "s", m.Subscribers()[0].Secret)
}

func TestAddWebhook_RespondsWithOwnRegistration(t *testing.T) {
	h, m := newWebhookHandler(t)
	m.Register(webhook.Subscriber{URL: "http://other.invalid/hook", Enabled: true})

	rec := doJSON(t, h, http.MethodPost, "/api/webhooks",
		`{"url":"http://mine.invalid/hook","retry_attempts":7}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created subscriberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "http://mine.invalid/hook", created.URL)
	assert.Equal(t, 7, created.RetryAttempts)
	assert.ElementsMatch(t, webhook.AllEventTypes, created.Events)
}

func TestAddWebhook_Validation(t *testing.T) {
	h, _ := newWebhookHandler(t)

	t.Run("missing url", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/webhooks", `{"events":["config.created"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown event type", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/webhooks",
			`{"url":"http://example.invalid/hook","events":["config.exploded"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRemoveWebhook(t *testing.T) {
	h, m := newWebhookHandler(t)
	m.Register(webhook.Subscriber{URL: "http://example.invalid/hook", Enabled: true})

	t.Run("missing url parameter", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodDelete, "/api/webhooks", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	rec := doJSON(t, h, http.MethodDelete, "/api/webhooks?url=http%3A%2F%2Fexample.invalid%2Fhook", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, m.Subscribers())
}

func TestTestWebhooks(t *testing.T) {
	h, _ := newWebhookHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/webhooks/test", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["event_id"])
}

func TestWebhookStats(t *testing.T) {
	h, _ := newWebhookHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/api/webhooks/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stats":{}}`, rec.Body.String())
}
