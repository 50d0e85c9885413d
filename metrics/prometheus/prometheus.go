package prometheusmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics defines the Prometheus metrics backing the MetricsEngine implementation.
type Metrics struct {
	Registry *prometheus.Registry

	floorFetches     *prometheus.CounterVec
	deferredAuctions prometheus.Counter
	auctionTimeouts  prometheus.Counter
	skippedAuctions  prometheus.Counter
	ruleMatches      *prometheus.CounterVec
	rejectedBids     *prometheus.CounterVec
	conversionErrors prometheus.Counter
}

const (
	statusLabel  = "status"
	matchedLabel = "matched"
	bidderLabel  = "bidder"
)

// NewMetrics constructs the engine and registers every collector on a fresh
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		floorFetches: newCounterVec("floor_fetches",
			"Count of dynamic floor fetches by settlement status.",
			[]string{statusLabel}),
		deferredAuctions: newCounter("deferred_auctions",
			"Count of auctions parked behind an in-flight floor fetch."),
		auctionTimeouts: newCounter("deferred_auction_timeouts",
			"Count of deferred auctions resumed by the delay timer rather than fetch settlement."),
		skippedAuctions: newCounter("skipped_auctions",
			"Count of auctions with floors sampled out or unavailable."),
		ruleMatches: newCounterVec("rule_matches",
			"Count of floor rule lookups by match outcome.",
			[]string{matchedLabel}),
		rejectedBids: newCounterVec("rejected_bids",
			"Count of bids rejected for not meeting the price floor.",
			[]string{bidderLabel}),
		conversionErrors: newCounter("conversion_errors",
			"Count of bids passed through unenforced because currency conversion failed."),
	}

	m.Registry.MustRegister(
		m.floorFetches,
		m.deferredAuctions,
		m.auctionTimeouts,
		m.skippedAuctions,
		m.ruleMatches,
		m.rejectedBids,
		m.conversionErrors,
	)

	return m
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "floorengine",
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floorengine",
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Metrics) RecordFloorFetch(status string) {
	m.floorFetches.With(prometheus.Labels{statusLabel: status}).Inc()
}

func (m *Metrics) RecordDeferredAuction() {
	m.deferredAuctions.Inc()
}

func (m *Metrics) RecordAuctionTimeout() {
	m.auctionTimeouts.Inc()
}

func (m *Metrics) RecordSkippedAuction() {
	m.skippedAuctions.Inc()
}

func (m *Metrics) RecordRuleMatch(matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	m.ruleMatches.With(prometheus.Labels{matchedLabel: label}).Inc()
}

func (m *Metrics) RecordRejectedBid(bidder string) {
	m.rejectedBids.With(prometheus.Labels{bidderLabel: bidder}).Inc()
}

func (m *Metrics) RecordConversionError() {
	m.conversionErrors.Inc()
}
