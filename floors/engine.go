package floors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/floorworks/floorengine/config"
	"github.com/floorworks/floorengine/currency"
	"github.com/floorworks/floorengine/metrics"
	"github.com/floorworks/floorengine/util/randomutil"
)

// Engine is the explicitly owned context of the floors subsystem: the active
// catalog, the custom field registry, bidder adjustment callbacks, the
// per-auction dataset table and the fetch coordinator. Construct one on
// service start and inject it into every operation; there is no ambient state.
type Engine struct {
	registry    *FieldRegistry
	coordinator *Coordinator
	store       *auctionStore
	conversions currency.Conversions
	metrics     metrics.MetricsEngine
	random      randomutil.RandomGenerator

	mu          sync.Mutex
	cfg         config.PriceFloors
	active      *Catalog
	location    string
	adjustments map[string]*BidderAdjustments
}

// NewEngine wires an engine from its collaborators. conversions may be nil
// when the caller has no currency service; floors then only apply same-
// currency comparisons.
func NewEngine(cfg *config.PriceFloors, conversions currency.Conversions, metricsEngine metrics.MetricsEngine, client *http.Client) *Engine {
	if metricsEngine == nil {
		metricsEngine = metrics.NewNilMetricsEngine()
	}

	grace := 3000 * time.Millisecond
	if cfg != nil && cfg.AuctionGrace > 0 {
		grace = time.Duration(cfg.AuctionGrace) * time.Millisecond
	}

	engine := &Engine{
		registry:    NewFieldRegistry(),
		coordinator: NewCoordinator(client, metricsEngine),
		store:       newAuctionStore(grace),
		conversions: conversions,
		metrics:     metricsEngine,
		random:      randomutil.RandomNumberGenerator{},
		location:    NoDataLocation,
		adjustments: make(map[string]*BidderAdjustments),
	}
	if cfg != nil {
		engine.SetConfig(*cfg)
	}
	return engine
}

// SetRandomGenerator swaps the randomness source. Tests use this to make model
// selection and skip sampling deterministic.
func (e *Engine) SetRandomGenerator(random randomutil.RandomGenerator) {
	e.random = random
}

// RegisterField adds a publisher-defined schema field to the matching engine.
func (e *Engine) RegisterField(name string, resolver FieldResolver) error {
	return e.registry.Register(name, resolver)
}

// RegisterBidderAdjustments installs a bidder's price-adjustment callbacks,
// used to translate floors into the bidder's pre-adjustment scale.
func (e *Engine) RegisterBidderAdjustments(bidder string, adjustments *BidderAdjustments) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adjustments[strings.ToLower(bidder)] = adjustments
}

// SetConfig installs a new configuration snapshot. Disabling tears the active
// catalog down and invalidates any in-flight fetch; enabling validates inline
// data and, when an endpoint is configured, starts the remote fetch.
func (e *Engine) SetConfig(cfg config.PriceFloors) {
	errs := cfg.Validate()
	for _, err := range errs {
		glog.Errorf("Invalid floors config: %v", err)
	}
	if len(errs) > 0 {
		// An invalid snapshot leaves floors inactive rather than half-applied.
		cfg.Enabled = false
	}

	e.mu.Lock()
	e.cfg = cfg

	if !cfg.Enabled {
		e.active = nil
		e.location = NoDataLocation
		e.mu.Unlock()
		e.coordinator.Cancel()
		e.store.Flush()
		return
	}

	if len(cfg.Data) > 0 {
		var inline Catalog
		if err := json.Unmarshal(cfg.Data, &inline); err != nil {
			glog.Errorf("Inline floors data is not valid JSON: %v", err)
		} else if err := ValidateCatalog(&inline, e.registry); err != nil {
			glog.Errorf("Inline floors data rejected: %v", err)
		} else {
			e.active = &inline
			e.location = ConfigLocation
		}
	}
	e.mu.Unlock()

	if cfg.Endpoint.URL != "" {
		if err := e.coordinator.StartFetch(cfg.Endpoint, e.applyFetchedCatalog); err != nil {
			glog.Errorf("Floors fetch not started: %v", err)
		}
	}
}

// applyFetchedCatalog validates a fetched payload and promotes it to the
// active catalog. Validation failure keeps the prior catalog.
func (e *Engine) applyFetchedCatalog(catalog *Catalog) error {
	if err := ValidateCatalog(catalog, e.registry); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Enabled {
		return fmt.Errorf("floors disabled while fetch was in flight")
	}
	e.active = catalog
	e.location = FetchLocation
	// Fetched data may override the skip rate and provider identity.
	if catalog.SkipRate != nil {
		e.cfg.SkipRate = *catalog.SkipRate
	}
	if catalog.FloorProvider != "" {
		e.cfg.FloorProvider = catalog.FloorProvider
	}
	return nil
}

// StartAuction resolves the floor dataset for one auction and hands it to the
// continuation. While a fetch is outstanding and the configured auction delay
// is positive, the continuation is deferred until the fetch settles or the
// delay elapses; it runs exactly once either way.
func (e *Engine) StartAuction(request *BidRequestInfo, next func(*AuctionFloorData)) {
	e.mu.Lock()
	enabled := e.cfg.Enabled
	delay := time.Duration(e.cfg.AuctionDelay) * time.Millisecond
	e.mu.Unlock()

	if !enabled || request == nil {
		next(nil)
		return
	}

	e.coordinator.AwaitFetch(delay, func(fetchStatus string) {
		data := e.resolveAuction(request, fetchStatus)
		e.store.Save(data)
		next(data)
	})
}

// EndAuction consumes the auction-ended lifecycle signal; the auction's floor
// dataset stays queryable for the configured grace period.
func (e *Engine) EndAuction(auctionID string) {
	e.store.AuctionEnded(auctionID)
}

// FloorData returns the resolved dataset for an auction, or nil once evicted.
func (e *Engine) FloorData(auctionID string) *AuctionFloorData {
	return e.store.Get(auctionID)
}

// FetchStatus reports the coordinator's current fetch state.
func (e *Engine) FetchStatus() string {
	return e.coordinator.Status()
}
