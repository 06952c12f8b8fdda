package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shepherd-cms/shepherd/pkg/webhook"
)

// subscriberRequest is the body of POST /api/webhooks. Durations are in
// seconds; zero values take the delivery defaults.
type subscriberRequest struct {
	URL               string   `json:"url"`
	Events            []string `json:"events"`
	Secret            string   `json:"secret"`
	Enabled           *bool    `json:"enabled"`
	TimeoutSeconds    int      `json:"timeout_seconds"`
	RetryAttempts     int      `json:"retry_attempts"`
	RetryDelaySeconds int      `json:"retry_delay_seconds"`
}

// subscriberResponse is the API view of a registered subscriber. The
// secret is never echoed back.
type subscriberResponse struct {
	URL               string   `json:"url"`
	Events            []string `json:"events"`
	Enabled           bool     `json:"enabled"`
	TimeoutSeconds    int      `json:"timeout_seconds"`
	RetryAttempts     int      `json:"retry_attempts"`
	RetryDelaySeconds int      `json:"retry_delay_seconds"`
}

func toSubscriberResponse(s webhook.Subscriber) subscriberResponse {
	return subscriberResponse{
		URL:               s.URL,
		Events:            s.Events,
		Enabled:           s.Enabled,
		TimeoutSeconds:    int(s.Timeout / time.Second),
		RetryAttempts:     s.RetryAttempts,
		RetryDelaySeconds: int(s.RetryDelay / time.Second),
	}
}

// listWebhooks handles GET /api/webhooks.
func (h *Handler) listWebhooks(w http.ResponseWriter, _ *http.Request) {
	subs := h.deps.Hooks.Subscribers()
	out := make([]subscriberResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubscriberResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

// addWebhook handles POST /api/webhooks.
func (h *Handler) addWebhook(w http.ResponseWriter, r *http.Request) {
	var req subscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	for _, ev := range req.Events {
		if !validEventType(ev) {
			writeError(w, http.StatusBadRequest, "unknown event type: "+ev)
			return
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sub := webhook.Subscriber{
		URL:           req.URL,
		Events:        req.Events,
		Secret:        req.Secret,
		Enabled:       enabled,
		Timeout:       time.Duration(req.TimeoutSeconds) * time.Second,
		RetryAttempts: req.RetryAttempts,
		RetryDelay:    time.Duration(req.RetryDelaySeconds) * time.Second,
	}
	registered := h.deps.Hooks.Register(sub)
	h.logger.Info("registered webhook subscriber", "url", registered.URL)
	writeJSON(w, http.StatusCreated, toSubscriberResponse(registered))
}

// removeWebhook handles DELETE /api/webhooks?url=...
func (h *Handler) removeWebhook(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	h.deps.Hooks.Unregister(url)
	h.logger.Info("unregistered webhook subscriber", "url", url)
	writeJSON(w, http.StatusOK, map[string]string{"removed": url})
}

// testWebhooks handles POST /api/webhooks/test by dispatching a marked
// test event to every interested subscriber.
func (h *Handler) testWebhooks(w http.ResponseWriter, r *http.Request) {
	event := webhook.NewEvent(webhook.EventUpdated, webhook.EventConfig{
		ConfigID:    "webhook-test",
		Version:     1,
		AppName:     "shepherd",
		Environment: "test",
		UpdatedBy:   actor(r),
		ChangeNotes: "Webhook connectivity test",
		Settings:    json.RawMessage(`{}`),
	})
	event.Metadata = map[string]any{"test": true}

	h.deps.Hooks.Dispatch(event)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "queued",
		"event_id": event.EventID,
	})
}

// webhookStats handles GET /api/webhooks/stats.
func (h *Handler) webhookStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stats": h.deps.Hooks.Stats()})
}

func validEventType(ev string) bool {
	for _, known := range webhook.AllEventTypes {
		if ev == known {
			return true
		}
	}
	return false
}
