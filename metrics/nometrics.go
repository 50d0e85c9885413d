package metrics

// This file provides a no-op implementation of MetricsEngine.
// Callers can use this if they don't want to export metrics anywhere.

func NewNilMetricsEngine() MetricsEngine {
	return &nilMetricsEngine{}
}

type nilMetricsEngine struct{}

func (m *nilMetricsEngine) RecordFloorFetch(status string) {}

func (m *nilMetricsEngine) RecordDeferredAuction() {}

func (m *nilMetricsEngine) RecordAuctionTimeout() {}

func (m *nilMetricsEngine) RecordSkippedAuction() {}

func (m *nilMetricsEngine) RecordRuleMatch(matched bool) {}

func (m *nilMetricsEngine) RecordRejectedBid(bidder string) {}

func (m *nilMetricsEngine) RecordConversionError() {}
