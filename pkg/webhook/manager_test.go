package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRetryDelay = 10 * time.Millisecond
	statsWait      = 2 * time.Second
	statsTick      = 10 * time.Millisecond
)

func testEvent() Event {
	prev := 2
	return NewEvent(EventUpdated, EventConfig{
		ConfigID:        "billing-api-prod",
		Version:         3,
		PreviousVersion: &prev,
		AppName:         "billing-api",
		Environment:     "production",
		UpdatedBy:       "operator",
		ChangeNotes:     "Raised timeout",
		Settings:        json.RawMessage(`{"timeout":60}`),
	})
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Options{Workers: 2, QueueSize: 16})
	t.Cleanup(m.Close)
	return m
}

// waitForStats polls until the subscriber's counters match.
func waitForStats(t *testing.T, m *Manager, url string, want DeliveryStats) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return m.Stats()[url] == want
	}, statsWait, statsTick, "stats for %s never reached %+v, got %+v", url, want, m.Stats()[url])
}

func TestDeliver_SignedRequest(t *testing.T) {
	type received struct {
		header http.Header
		body   []byte
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.Register(Subscriber{URL: srv.URL, Secret: "topsecret", Enabled: true})

	event := testEvent()
	m.Dispatch(event)

	select {
	case r := <-got:
		assert.Equal(t, "application/json", r.header.Get("Content-Type"))
		assert.Equal(t, "Shepherd-Webhook/1.0", r.header.Get("User-Agent"))
		assert.Equal(t, EventUpdated, r.header.Get("X-Shepherd-Event"))
		assert.Equal(t, event.EventID, r.header.Get("X-Shepherd-Delivery"))
		assert.True(t, Verify(r.body, r.header.Get("X-Shepherd-Signature"), "topsecret"))

		var delivered Event
		require.NoError(t, json.Unmarshal(r.body, &delivered))
		assert.Equal(t, "billing-api-prod", delivered.ConfigID)
		assert.Equal(t, 3, delivered.Version)
		require.NotNil(t, delivered.PreviousVersion)
		assert.Equal(t, 2, *delivered.PreviousVersion)
	case <-time.After(statsWait):
		t.Fatal("delivery never arrived")
	}

	waitForStats(t, m, srv.URL, DeliveryStats{Success: 1})
}

func TestDeliver_NoSignatureWithoutSecret(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.Register(Subscriber{URL: srv.URL, Enabled: true})
	m.Dispatch(testEvent())

	select {
	case header := <-got:
		assert.Empty(t, header.Get("X-Shepherd-Signature"))
	case <-time.After(statsWait):
		t.Fatal("delivery never arrived")
	}
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.Register(Subscriber{
		URL:           srv.URL,
		Enabled:       true,
		RetryAttempts: 3,
		RetryDelay:    testRetryDelay,
	})
	m.Dispatch(testEvent())

	// An eventual success after retries counts exactly once.
	waitForStats(t, m, srv.URL, DeliveryStats{Success: 1})
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliver_ClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.Register(Subscriber{
		URL:           srv.URL,
		Enabled:       true,
		RetryAttempts: 3,
		RetryDelay:    testRetryDelay,
	})
	m.Dispatch(testEvent())

	waitForStats(t, m, srv.URL, DeliveryStats{Failure: 1})
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliver_ExhaustedRetriesCountOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.Register(Subscriber{
		URL:           srv.URL,
		Enabled:       true,
		RetryAttempts: 3,
		RetryDelay:    testRetryDelay,
	})
	m.Dispatch(testEvent())

	waitForStats(t, m, srv.URL, DeliveryStats{Failure: 1})
	assert.Equal(t, int32(3), calls.Load())
}

// stubRecorder counts RecordDelivery calls by outcome.
type stubRecorder struct {
	success atomic.Int32
	failure atomic.Int32
}

func (r *stubRecorder) RecordDelivery(_, outcome string) {
	if outcome == "success" {
		r.success.Add(1)
	} else {
		r.failure.Add(1)
	}
}

func TestDeliver_RecorderMirrorsStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	recorder := &stubRecorder{}
	m := NewManager(Options{Workers: 1, QueueSize: 4, Recorder: recorder})
	t.Cleanup(m.Close)
	m.Register(Subscriber{URL: srv.URL, Enabled: true})

	m.Dispatch(testEvent())

	waitForStats(t, m, srv.URL, DeliveryStats{Success: 1})
	assert.Eventually(t, func() bool {
		return recorder.success.Load() == 1
	}, statsWait, statsTick)
	assert.Zero(t, recorder.failure.Load())
}

func TestDispatch_FiltersByEventType(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.Register(Subscriber{URL: srv.URL, Events: []string{EventCreated}, Enabled: true})

	m.Dispatch(testEvent()) // config.updated, not subscribed
	m.Dispatch(NewEvent(EventCreated, EventConfig{ConfigID: "c", Version: 1}))

	waitForStats(t, m, srv.URL, DeliveryStats{Success: 1})
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatch_SkipsDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.Register(Subscriber{URL: srv.URL, Enabled: false})
	m.Dispatch(testEvent())

	// Give a disabled delivery a chance to (incorrectly) happen.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.Empty(t, m.Stats())
}

func TestDispatch_DropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	m := NewManager(Options{Workers: 1, QueueSize: 1})
	t.Cleanup(m.Close)
	m.Register(Subscriber{
		URL:           srv.URL,
		Enabled:       true,
		RetryAttempts: 1,
		RetryDelay:    testRetryDelay,
	})

	dispatched := make(chan struct{})
	go func() {
		for range 5 {
			m.Dispatch(testEvent())
		}
		close(dispatched)
	}()

	select {
	case <-dispatched:
	case <-time.After(statsWait):
		t.Fatal("Dispatch blocked on a saturated queue")
	}

	// With the single worker wedged and one queue slot, at most two of
	// the five deliveries are accepted; the rest are dropped and each
	// drop counts as one failure.
	assert.GreaterOrEqual(t, m.Stats()[srv.URL].Failure, int64(3))
}

func TestRegister_AppliesDefaults(t *testing.T) {
	m := newTestManager(t)
	got := m.Register(Subscriber{URL: "http://example.invalid/hook", Enabled: true})

	assert.Equal(t, DefaultTimeout, got.Timeout)
	assert.Equal(t, DefaultRetryAttempts, got.RetryAttempts)
	assert.Equal(t, DefaultRetryDelay, got.RetryDelay)
	assert.ElementsMatch(t, AllEventTypes, got.Events)

	subs := m.Subscribers()
	require.Len(t, subs, 1)
	assert.Equal(t, got, subs[0])
}

func TestUnregister(t *testing.T) {
	m := newTestManager(t)
	m.Register(Subscriber{URL: "http://a.invalid/hook", Enabled: true})
	m.Register(Subscriber{URL: "http://b.invalid/hook", Enabled: true})

	m.Unregister("http://a.invalid/hook")

	subs := m.Subscribers()
	require.Len(t, subs, 1)
	assert.Equal(t, "http://b.invalid/hook", subs[0].URL)
}

func TestClose_DrainsInFlight(t *testing.T) {
	done := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	m := NewManager(Options{Workers: 1, QueueSize: 4})
	m.Register(Subscriber{URL: srv.URL, Enabled: true})
	m.Dispatch(testEvent())
	m.Close()

	select {
	case <-done:
	default:
		t.Fatal("Close returned before the in-flight delivery finished")
	}

	// Dispatch after Close is a no-op.
	m.Dispatch(testEvent())
}
