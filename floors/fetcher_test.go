package floors

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/floorworks/floorengine/config"
	"github.com/floorworks/floorengine/metrics"
)

const validCatalogJSON = `{
	"currency": "USD",
	"schema": {"fields": ["mediaType", "size"], "delimiter": "|"},
	"values": {"banner|300x250": 1.5, "*|*": 0.5}
}`

// floorServer serves a catalog payload after an optional delay.
func floorServer(t *testing.T, delay time.Duration, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

// resumeRecorder captures every continuation invocation.
type resumeRecorder struct {
	mu       sync.Mutex
	statuses []string
	done     chan struct{}
}

func newResumeRecorder() *resumeRecorder {
	return &resumeRecorder{done: make(chan struct{}, 16)}
}

func (r *resumeRecorder) resume(status string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *resumeRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

func (r *resumeRecorder) wait(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(timeout):
		t.Fatal("continuation was never resumed")
	}
}

func acceptAll(*Catalog) error { return nil }

func TestStartFetchRejectsNonGet(t *testing.T) {
	coordinator := NewCoordinator(nil, metrics.NewNilMetricsEngine())

	err := coordinator.StartFetch(config.FloorEndpoint{
		URL:     "http://floors.example.com/rules.json",
		Method:  "POST",
		Timeout: 100,
	}, acceptAll)
	assert.Error(t, err)
	assert.Equal(t, FetchNone, coordinator.Status())
}

func TestStartFetchRejectsBadURL(t *testing.T) {
	coordinator := NewCoordinator(nil, metrics.NewNilMetricsEngine())

	err := coordinator.StartFetch(config.FloorEndpoint{URL: "not a url", Timeout: 100}, acceptAll)
	assert.Error(t, err)
}

func TestAwaitFetchImmediateWhenIdle(t *testing.T) {
	coordinator := NewCoordinator(nil, metrics.NewNilMetricsEngine())

	recorder := newResumeRecorder()
	coordinator.AwaitFetch(100*time.Millisecond, recorder.resume)
	assert.Equal(t, []string{FetchNone}, recorder.recorded(), "no fetch in flight resumes synchronously")
}

func TestAwaitFetchZeroDelayProceedsWhileFetching(t *testing.T) {
	server := floorServer(t, 100*time.Millisecond, http.StatusOK, validCatalogJSON, nil)
	defer server.Close()

	coordinator := NewCoordinator(server.Client(), metrics.NewNilMetricsEngine())
	assert.NoError(t, coordinator.StartFetch(config.FloorEndpoint{URL: server.URL, Timeout: 5000}, acceptAll))

	recorder := newResumeRecorder()
	coordinator.AwaitFetch(0, recorder.resume)
	assert.Equal(t, []string{FetchInprogress}, recorder.recorded())
}

func TestSecondFetchWhileFetchingIsNoOp(t *testing.T) {
	var hits int32
	server := floorServer(t, 100*time.Millisecond, http.StatusOK, validCatalogJSON, &hits)
	defer server.Close()

	coordinator := NewCoordinator(server.Client(), metrics.NewNilMetricsEngine())
	endpoint := config.FloorEndpoint{URL: server.URL, Timeout: 5000}

	assert.NoError(t, coordinator.StartFetch(endpoint, acceptAll))
	assert.NoError(t, coordinator.StartFetch(endpoint, acceptAll), "second request is a logged no-op, not an error")

	assert.Eventually(t, func() bool {
		return coordinator.Status() == FetchSuccess
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDeferredAuctionResumesWhenFetchSettles(t *testing.T) {
	server := floorServer(t, 40*time.Millisecond, http.StatusOK, validCatalogJSON, nil)
	defer server.Close()

	coordinator := NewCoordinator(server.Client(), metrics.NewNilMetricsEngine())
	assert.NoError(t, coordinator.StartFetch(config.FloorEndpoint{URL: server.URL, Timeout: 5000}, acceptAll))

	recorder := newResumeRecorder()
	coordinator.AwaitFetch(500*time.Millisecond, recorder.resume)
	recorder.wait(t, 2*time.Second)

	assert.Equal(t, []string{FetchSuccess}, recorder.recorded())

	// The delay timer must not fire a second resumption.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, []string{FetchSuccess}, recorder.recorded())
}

func TestDeferredAuctionTimesOutBeforeFetch(t *testing.T) {
	server := floorServer(t, 400*time.Millisecond, http.StatusOK, validCatalogJSON, nil)
	defer server.Close()

	coordinator := NewCoordinator(server.Client(), metrics.NewNilMetricsEngine())
	assert.NoError(t, coordinator.StartFetch(config.FloorEndpoint{URL: server.URL, Timeout: 5000}, acceptAll))

	recorder := newResumeRecorder()
	coordinator.AwaitFetch(50*time.Millisecond, recorder.resume)
	recorder.wait(t, 2*time.Second)

	assert.Equal(t, []string{FetchTimeout}, recorder.recorded())

	// Fetch settlement afterwards must not resume the timed-out continuation.
	assert.Eventually(t, func() bool {
		return coordinator.Status() == FetchSuccess
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{FetchTimeout}, recorder.recorded())
}

func TestDeferredAuctionsResumeInQueueOrder(t *testing.T) {
	server := floorServer(t, 40*time.Millisecond, http.StatusOK, validCatalogJSON, nil)
	defer server.Close()

	coordinator := NewCoordinator(server.Client(), metrics.NewNilMetricsEngine())
	assert.NoError(t, coordinator.StartFetch(config.FloorEndpoint{URL: server.URL, Timeout: 5000}, acceptAll))

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		i := i
		coordinator.AwaitFetch(time.Second, func(status string) {
			mu.Lock()
			order = append(order, i)
			finished := len(order) == 3
			mu.Unlock()
			if finished {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred auctions never resumed")
	}
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestFetchTransportFailureSettlesWithError(t *testing.T) {
	server := floorServer(t, 0, http.StatusInternalServerError, "", nil)
	defer server.Close()

	coordinator := NewCoordinator(server.Client(), metrics.NewNilMetricsEngine())
	assert.NoError(t, coordinator.StartFetch(config.FloorEndpoint{URL: server.URL, Timeout: 5000}, acceptAll))

	recorder := newResumeRecorder()
	coordinator.AwaitFetch(time.Second, recorder.resume)
	recorder.wait(t, 2*time.Second)

	assert.Equal(t, []string{FetchError}, recorder.recorded())
	assert.Equal(t, FetchError, coordinator.Status())
}

func TestFetchValidationFailureSettlesWithError(t *testing.T) {
	server := floorServer(t, 0, http.StatusOK, validCatalogJSON, nil)
	defer server.Close()

	coordinator := NewCoordinator(server.Client(), metrics.NewNilMetricsEngine())
	rejectAll := func(*Catalog) error { return assert.AnError }
	assert.NoError(t, coordinator.StartFetch(config.FloorEndpoint{URL: server.URL, Timeout: 5000}, rejectAll))

	assert.Eventually(t, func() bool {
		return coordinator.Status() == FetchError
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelDiscardsLateFetch(t *testing.T) {
	server := floorServer(t, 100*time.Millisecond, http.StatusOK, validCatalogJSON, nil)
	defer server.Close()

	coordinator := NewCoordinator(server.Client(), metrics.NewNilMetricsEngine())
	var applied int32
	apply := func(*Catalog) error {
		atomic.AddInt32(&applied, 1)
		return nil
	}
	assert.NoError(t, coordinator.StartFetch(config.FloorEndpoint{URL: server.URL, Timeout: 5000}, apply))

	recorder := newResumeRecorder()
	coordinator.AwaitFetch(time.Second, recorder.resume)

	coordinator.Cancel()
	recorder.wait(t, 2*time.Second)
	assert.Equal(t, []string{FetchNone}, recorder.recorded(), "cancel releases deferred auctions")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&applied), "a superseded fetch settlement is discarded")
	assert.Equal(t, FetchNone, coordinator.Status())
}
