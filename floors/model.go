package floors

import (
	"net/url"
	"strings"
	"sync"

	"github.com/floorworks/floorengine/config"
)

// Fetch status stamped on every resolved auction.
const (
	FetchNone       string = "none"
	FetchInprogress string = "inprogress"
	FetchSuccess    string = "success"
	FetchError      string = "error"
	FetchTimeout    string = "timeout"
)

// Where the active catalog came from.
const (
	NoDataLocation string = "noData"
	ConfigLocation string = "setConfig"
	FetchLocation  string = "fetch"
	AdUnitLocation string = "adUnit"
)

const (
	defaultDelimiter string = "|"
	catchAll         string = "*"
	defaultCurrency  string = "USD"
	defaultMediaType string = "banner"
	skipRateMax      int    = 100
)

// Schema declares the ordered field list and the delimiter joining them into
// rule keys. Field order is matching priority, left-most first.
type Schema struct {
	Fields    []string `json:"fields,omitempty"`
	Delimiter string   `json:"delimiter,omitempty"`
}

// Catalog is a rule table plus its schema metadata. The same shape serves both
// schema versions: a v1 catalog carries Schema/Values directly, a v2 catalog
// carries ModelGroups (each itself a Catalog with a ModelWeight) and is
// promoted to a plain catalog by sampling one group per auction.
type Catalog struct {
	FloorsSchemaVersion int                `json:"floorsSchemaVersion,omitempty"`
	Currency            string             `json:"currency,omitempty"`
	SkipRate            *int               `json:"skipRate,omitempty"`
	FloorMin            float64            `json:"floorMin,omitempty"`
	FloorProvider       string             `json:"floorProvider,omitempty"`
	ModelVersion        string             `json:"modelVersion,omitempty"`
	ModelWeight         int                `json:"modelWeight,omitempty"`
	ModelTimestamp      int64              `json:"modelTimestamp,omitempty"`
	Schema              Schema             `json:"schema,omitempty"`
	Values              map[string]float64 `json:"values,omitempty"`
	Default             *float64           `json:"default,omitempty"`
	ModelGroups         []*Catalog         `json:"modelGroups,omitempty"`

	// ModelWeightSum is accumulated by the validator for v2 catalogs.
	ModelWeightSum int `json:"-"`

	// defaultRuleKeys records the rule keys that were expanded from a scalar
	// default, so matching can tell default fallback apart from a real rule
	// hit. Ad-unit-derived catalogs may carry one per unit.
	defaultRuleKeys map[string]bool

	// memo caches lookups by exact-value key. It belongs to exactly one
	// auction's catalog copy and must never be shared across auctions.
	memo *matchMemo
}

// matchMemo is the per-catalog lookup cache. Every participant of an auction
// queries the same catalog copy concurrently, so access is mutex-guarded.
type matchMemo struct {
	mu          sync.Mutex
	entries     map[string]*MatchResult
	evaluations int
}

func (m *matchMemo) lookup(key string) (MatchResult, bool) {
	if m == nil {
		return MatchResult{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.entries[key]; ok {
		return *cached, true
	}
	return MatchResult{}, false
}

func (m *matchMemo) store(key string, result MatchResult) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]*MatchResult)
	}
	m.entries[key] = &result
	m.evaluations++
}

// Copy returns a deep copy with a fresh, empty match cache.
func (c *Catalog) Copy() *Catalog {
	if c == nil {
		return nil
	}

	clone := *c
	clone.memo = &matchMemo{}

	clone.Schema.Fields = append([]string(nil), c.Schema.Fields...)
	if c.Values != nil {
		clone.Values = make(map[string]float64, len(c.Values))
		for k, v := range c.Values {
			clone.Values[k] = v
		}
	}
	if c.SkipRate != nil {
		skipRate := *c.SkipRate
		clone.SkipRate = &skipRate
	}
	if c.Default != nil {
		def := *c.Default
		clone.Default = &def
	}
	if c.ModelGroups != nil {
		clone.ModelGroups = make([]*Catalog, len(c.ModelGroups))
		for i, group := range c.ModelGroups {
			clone.ModelGroups[i] = group.Copy()
		}
	}
	if c.defaultRuleKeys != nil {
		clone.defaultRuleKeys = make(map[string]bool, len(c.defaultRuleKeys))
		for key := range c.defaultRuleKeys {
			clone.defaultRuleKeys[key] = true
		}
	}
	return &clone
}

// Evaluations exposes the enumeration counter for tests asserting memoization.
func (c *Catalog) Evaluations() int {
	if c.memo == nil {
		return 0
	}
	c.memo.mu.Lock()
	defer c.memo.mu.Unlock()
	return c.memo.evaluations
}

// MatchResult is the outcome of one floor lookup. Matched false means no rule,
// not even the synthetic default, covered the context.
type MatchResult struct {
	Matched        bool
	Floor          float64
	FloorMin       float64
	FloorRuleValue float64
	// Rule is the matched key; empty when only the synthesized default matched.
	Rule          string
	DefaultMatch  bool
	MatchedFields map[string]string
}

// AdUnit is one unit of inventory (a line item / slot) in an auction.
type AdUnit struct {
	Code     string
	GptSlot  string
	PbAdSlot string
	// Sizes per media type, "300x250" style strings.
	Sizes map[string][]string
	// Floors is an optional per-unit rule fragment used when no global catalog
	// is available.
	Floors       *Catalog
	Participants []*Participant
}

// Participant is one bidding counterparty invited to price an ad unit.
type Participant struct {
	Bidder string

	// FloorMeta is stamped by the resolver on every participant, skipped or not.
	FloorMeta *FloorMeta

	// GetFloor is the proactive floor-query capability. Nil for bidders on the
	// no-signal list and for skipped auctions.
	GetFloor func(FloorQuery) FloorPrice
}

// FloorQuery is what a participant asks for; zero fields default to the
// wildcard (and USD for currency).
type FloorQuery struct {
	Currency  string
	MediaType string
	Size      string
}

// FloorPrice is the answer to a FloorQuery. The zero value means no floor
// applies.
type FloorPrice struct {
	Floor    float64
	Currency string
}

// FloorMeta is the enforcement metadata stamped on participants for analytics.
type FloorMeta struct {
	Skipped        bool
	ModelVersion   string
	ModelWeight    int
	ModelTimestamp int64
	Provider       string
	Location       string
	FetchStatus    string
}

// BidRequestInfo is the request-side context of one auction.
type BidRequestInfo struct {
	AuctionID string
	PageURL   string
	AdUnits   []*AdUnit

	// FloorMin overrides the catalog floorMin for this request when positive.
	FloorMin float64

	domainResolved bool
	domain         string
}

// Domain returns the page's hostname, lowercased and resolved once per request.
func (r *BidRequestInfo) Domain() string {
	if r == nil {
		return ""
	}
	if !r.domainResolved {
		r.domainResolved = true
		if parsed, err := url.Parse(r.PageURL); err == nil {
			r.domain = strings.ToLower(parsed.Hostname())
		}
	}
	return r.domain
}

// AdUnitByCode returns the ad unit with the given code, or nil.
func (r *BidRequestInfo) AdUnitByCode(code string) *AdUnit {
	if r == nil {
		return nil
	}
	for _, adUnit := range r.AdUnits {
		if adUnit.Code == code {
			return adUnit
		}
	}
	return nil
}

// Bid is a received bid response for one ad unit.
type Bid struct {
	ID         string
	Bidder     string
	AdUnitCode string
	Price      float64
	Currency   string
	// OriginalPrice/OriginalCurrency hold the pre-adjustment values as sent by
	// the bidder, before any cpm adjustment ran.
	OriginalPrice    float64
	OriginalCurrency string
	DealID           string
	Width            int64
	Height           int64
	MediaType        string
	Ext              []byte

	// FloorData is attached by the enforcement pipeline whenever a floor
	// matched, accepted or not.
	FloorData *BidFloorInfo
}

// BidFloorInfo records the full floor context the enforcement pipeline used.
type BidFloorInfo struct {
	FloorValue     float64
	FloorRuleValue float64
	FloorCurrency  string
	// FloorRule is empty when only the synthesized default matched.
	FloorRule     string
	MatchedFields map[string]string
	Enforcements  config.PriceFloorEnforcement
}

// AuctionFloorData is the immutable-for-the-auction floor dataset.
type AuctionFloorData struct {
	AuctionID   string
	Catalog     *Catalog
	Enforcement config.PriceFloorEnforcement
	FloorMin    float64
	FloorMinCur string
	Skipped     bool
	FetchStatus string
	Location    string
	Provider    string
}

// FloorCurrency returns the catalog currency, defaulting to USD.
func (d *AuctionFloorData) FloorCurrency() string {
	if d != nil && d.Catalog != nil && d.Catalog.Currency != "" {
		return d.Catalog.Currency
	}
	return defaultCurrency
}
