package floors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	validator "github.com/asaskevich/govalidator"
	"github.com/golang/glog"

	"github.com/floorworks/floorengine/config"
	"github.com/floorworks/floorengine/metrics"
	"github.com/floorworks/floorengine/util/timeutil"
)

// Coordinator owns the single outstanding remote fetch, the queue of auctions
// deferred behind it, and the per-auction timeout fallback. At most one fetch
// is ever in flight; configuration updates arriving mid-fetch are no-ops.
type Coordinator struct {
	client  *http.Client
	metrics metrics.MetricsEngine
	clock   timeutil.Time

	mu       sync.Mutex
	fetching bool
	// generation invalidates a fetch superseded by a newer config or a disable.
	generation int
	// status is the settlement of the most recent fetch; FetchInprogress is
	// reported while one is outstanding.
	status   string
	deferred []*deferredAuction
}

type deferredAuction struct {
	resume func(fetchStatus string)
	timer  *time.Timer
	fired  bool
}

func NewCoordinator(client *http.Client, metricsEngine metrics.MetricsEngine) *Coordinator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Coordinator{
		client:  client,
		metrics: metricsEngine,
		clock:   &timeutil.RealTime{},
		status:  FetchNone,
	}
}

// StartFetch issues the remote catalog request unless one is already in
// flight. apply is invoked with the parsed payload on success and must return
// an error when validation rejects it; either way the fetch settles and every
// deferred auction resumes in queue order.
func (c *Coordinator) StartFetch(endpoint config.FloorEndpoint, apply func(*Catalog) error) error {
	if method := strings.ToUpper(endpoint.Method); method != "" && method != http.MethodGet {
		return fmt.Errorf("floors fetch only supports GET, refusing %s", endpoint.Method)
	}
	if !validator.IsURL(endpoint.URL) {
		return fmt.Errorf("floors fetch URL is not valid: %s", endpoint.URL)
	}

	c.mu.Lock()
	if c.fetching {
		c.mu.Unlock()
		glog.Warningf("Floors fetch already in progress, ignoring request for %s", endpoint.URL)
		return nil
	}
	c.fetching = true
	c.generation++
	generation := c.generation
	c.mu.Unlock()

	go func() {
		start := c.clock.Now()
		catalog, err := fetchCatalog(c.client, endpoint)
		glog.V(2).Infof("Floors fetch from %s took %s", endpoint.URL, c.clock.Now().Sub(start))
		c.settle(generation, catalog, err, apply)
	}()
	return nil
}

// AwaitFetch resumes the auction continuation immediately when no fetch is in
// flight or the delay budget is zero. Otherwise the continuation is parked
// with a timer of the budget's length; whichever of fetch settlement and timer
// expiry comes first resumes it, exactly once.
func (c *Coordinator) AwaitFetch(delay time.Duration, resume func(fetchStatus string)) {
	c.mu.Lock()
	if !c.fetching || delay <= 0 {
		status := c.statusLocked()
		c.mu.Unlock()
		resume(status)
		return
	}

	deferred := &deferredAuction{resume: resume}
	deferred.timer = time.AfterFunc(delay, func() {
		c.expire(deferred)
	})
	c.deferred = append(c.deferred, deferred)
	c.metrics.RecordDeferredAuction()
	c.mu.Unlock()
}

// Status reports the coordinator's current fetch status.
func (c *Coordinator) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() string {
	if c.fetching {
		return FetchInprogress
	}
	return c.status
}

// Cancel invalidates any in-flight fetch (its settlement will be discarded)
// and releases deferred auctions with the fetch status reset.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	c.generation++
	c.fetching = false
	c.status = FetchNone
	resumed := c.takeDeferredLocked()
	c.mu.Unlock()

	for _, deferred := range resumed {
		deferred.resume(FetchNone)
	}
}

// settle records the fetch outcome and flushes the deferred queue. A
// settlement whose generation was superseded (config replaced or disabled
// mid-flight) is discarded.
func (c *Coordinator) settle(generation int, catalog *Catalog, err error, apply func(*Catalog) error) {
	c.mu.Lock()
	if generation != c.generation || !c.fetching {
		c.mu.Unlock()
		glog.Warningf("Discarding floors fetch result for superseded configuration")
		return
	}

	status := FetchSuccess
	if err != nil {
		glog.Errorf("Error while fetching floors data: %v", err)
		status = FetchError
	} else if applyErr := apply(catalog); applyErr != nil {
		glog.Errorf("Fetched floors data rejected: %v", applyErr)
		status = FetchError
	}

	c.fetching = false
	c.status = status
	resumed := c.takeDeferredLocked()
	c.mu.Unlock()

	c.metrics.RecordFloorFetch(status)
	for _, deferred := range resumed {
		deferred.resume(status)
	}
}

// expire is the timeout fallback for a single deferred auction. Only that
// continuation resumes, with the fetch status forced to timeout; the fetch
// itself keeps running for everyone else.
func (c *Coordinator) expire(deferred *deferredAuction) {
	c.mu.Lock()
	if deferred.fired {
		c.mu.Unlock()
		return
	}
	deferred.fired = true
	for i, d := range c.deferred {
		if d == deferred {
			c.deferred = append(c.deferred[:i], c.deferred[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.metrics.RecordAuctionTimeout()
	deferred.resume(FetchTimeout)
}

// takeDeferredLocked claims every parked continuation that has not already
// fired, cancelling its timer. Callers resume them after releasing the lock,
// preserving queue order.
func (c *Coordinator) takeDeferredLocked() []*deferredAuction {
	resumed := make([]*deferredAuction, 0, len(c.deferred))
	for _, deferred := range c.deferred {
		if deferred.fired {
			continue
		}
		deferred.fired = true
		deferred.timer.Stop()
		resumed = append(resumed, deferred)
	}
	c.deferred = nil
	return resumed
}

// fetchCatalog performs the GET and parses the body as a rule catalog.
func fetchCatalog(client *http.Client, endpoint config.FloorEndpoint) (*Catalog, error) {
	timeout := time.Duration(endpoint.Timeout) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.URL, nil)
	if err != nil {
		return nil, errors.New("error while forming http fetch request : " + err.Error())
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.New("error while getting response from url : " + err.Error())
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from floors endpoint", httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.New("unable to read response")
	}

	var catalog Catalog
	if err := json.Unmarshal(body, &catalog); err != nil {
		return nil, errors.New("invalid floors JSON : " + err.Error())
	}
	return &catalog, nil
}
