package webhook

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Defaults applied to subscribers and the delivery pool.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second

	defaultWorkers   = 8
	defaultQueueSize = 256
	maxRetryDelay    = 60 * time.Second
)

// Subscriber is a registered webhook endpoint.
type Subscriber struct {
	URL           string        `json:"url" yaml:"url"`
	Events        []string      `json:"events" yaml:"events"`
	Secret        string        `json:"-" yaml:"secret"`
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// wants reports whether the subscriber is interested in eventType.
func (s Subscriber) wants(eventType string) bool {
	return slices.Contains(s.Events, eventType)
}

// DeliveryStats are cumulative per-subscriber delivery counters. A
// delivery that succeeds after retries counts as exactly one success;
// a delivery that exhausts its attempts counts as exactly one failure.
type DeliveryStats struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// DeliveryRecorder receives one observation per delivery outcome, in
// step with the Stats counters.
type DeliveryRecorder interface {
	RecordDelivery(url, outcome string)
}

// Options configures the Manager.
type Options struct {
	// Workers is the delivery pool size. Defaults to 8.
	Workers int
	// QueueSize bounds the pending delivery queue. When the queue is
	// full new deliveries are dropped and logged rather than blocking
	// the write path. Defaults to 256.
	QueueSize int
	// Recorder optionally mirrors delivery outcomes to a metrics
	// backend. May be nil.
	Recorder DeliveryRecorder
	Logger   *slog.Logger
}

type task struct {
	event Event
	sub   Subscriber
}

// Manager fans committed write events out to subscribers through a
// bounded worker pool. Dispatch never blocks on delivery completion.
type Manager struct {
	mu     sync.RWMutex
	subs   []Subscriber
	closed bool

	statsMu sync.Mutex
	stats   map[string]*DeliveryStats

	tasks    chan task
	wg       sync.WaitGroup
	client   *resty.Client
	recorder DeliveryRecorder
	logger   *slog.Logger
}

// NewManager creates a Manager and starts its delivery workers.
func NewManager(opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		stats:    make(map[string]*DeliveryStats),
		tasks:    make(chan task, opts.QueueSize),
		client:   resty.New(),
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}

	m.wg.Add(opts.Workers)
	for range opts.Workers {
		go func() {
			defer m.wg.Done()
			for t := range m.tasks {
				m.deliver(t)
			}
		}()
	}
	return m
}

// Register adds a subscriber, filling in defaults for unset fields,
// and returns the subscriber as stored.
func (m *Manager) Register(sub Subscriber) Subscriber {
	if sub.Timeout <= 0 {
		sub.Timeout = DefaultTimeout
	}
	if sub.RetryAttempts <= 0 {
		sub.RetryAttempts = DefaultRetryAttempts
	}
	if sub.RetryDelay <= 0 {
		sub.RetryDelay = DefaultRetryDelay
	}
	if len(sub.Events) == 0 {
		sub.Events = slices.Clone(AllEventTypes)
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return sub
}

// Unregister removes every subscriber with the given URL.
func (m *Manager) Unregister(url string) {
	m.mu.Lock()
	m.subs = slices.DeleteFunc(m.subs, func(s Subscriber) bool {
		return s.URL == url
	})
	m.mu.Unlock()
}

// Subscribers returns a snapshot of the registered subscribers.
func (m *Manager) Subscribers() []Subscriber {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.subs)
}

// Dispatch schedules one delivery per enabled, interested subscriber
// and returns immediately. When the queue is saturated the delivery is
// dropped and logged; the write that triggered the event is unaffected.
func (m *Manager) Dispatch(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	for _, sub := range m.subs {
		if !sub.Enabled || !sub.wants(event.EventType) {
			continue
		}
		m.ensureStats(sub.URL)
		select {
		case m.tasks <- task{event: event, sub: sub}:
		default:
			m.logger.Warn("webhook queue full, dropping delivery",
				"url", sub.URL, "event_id", event.EventID)
			m.recordOutcome(sub.URL, false)
		}
	}
}

// Stats returns a copy of the per-subscriber delivery counters.
func (m *Manager) Stats() map[string]DeliveryStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	out := make(map[string]DeliveryStats, len(m.stats))
	for url, s := range m.stats {
		out[url] = *s
	}
	return out
}

// Close stops accepting deliveries and waits for in-flight ones.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	close(m.tasks)
	m.wg.Wait()
}

// deliver runs one delivery to completion: serialize, sign, post, and
// retry on connection errors, timeouts and 5xx responses. A 4xx is
// terminal since it marks a rejected payload, not a transient fault.
func (m *Manager) deliver(t task) {
	payload, err := t.event.Payload()
	if err != nil {
		m.logger.Error("serializing webhook event",
			"event_id", t.event.EventID, "error", err)
		m.recordOutcome(t.sub.URL, false)
		return
	}

	delay := t.sub.RetryDelay
	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= t.sub.RetryAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(delay)
			delay = min(delay*2, maxRetryDelay)
		}

		status, err := m.post(t.sub, t.event, payload)
		lastStatus, lastErr = status, err

		if err == nil && status >= 200 && status < 300 {
			m.recordOutcome(t.sub.URL, true)
			m.logger.Info("webhook delivered",
				"url", t.sub.URL, "event_type", t.event.EventType,
				"event_id", t.event.EventID, "status", status, "attempt", attempt)
			return
		}
		if err == nil && status < 500 {
			break
		}
	}

	m.recordOutcome(t.sub.URL, false)
	m.logger.Warn("webhook delivery failed",
		"url", t.sub.URL, "event_type", t.event.EventType,
		"event_id", t.event.EventID, "status", lastStatus, "error", lastErr)
}

func (m *Manager) post(sub Subscriber, event Event, payload []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sub.Timeout)
	defer cancel()

	req := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "Shepherd-Webhook/1.0").
		SetHeader("X-Shepherd-Event", event.EventType).
		SetHeader("X-Shepherd-Delivery", event.EventID).
		SetBody(payload)
	if sub.Secret != "" {
		req.SetHeader("X-Shepherd-Signature", Sign(payload, sub.Secret))
	}

	resp, err := req.Post(sub.URL)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

func (m *Manager) ensureStats(url string) {
	m.statsMu.Lock()
	if _, ok := m.stats[url]; !ok {
		m.stats[url] = &DeliveryStats{}
	}
	m.statsMu.Unlock()
}

func (m *Manager) recordOutcome(url string, success bool) {
	m.statsMu.Lock()
	s, ok := m.stats[url]
	if !ok {
		s = &DeliveryStats{}
		m.stats[url] = s
	}
	if success {
		s.Success++
	} else {
		s.Failure++
	}
	m.statsMu.Unlock()

	if m.recorder != nil {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		m.recorder.RecordDelivery(url, outcome)
	}
}
