package metrics

// MetricsEngine is a generic interface to record floors engine metrics into
// the desired backend.
type MetricsEngine interface {
	RecordFloorFetch(status string)
	RecordDeferredAuction()
	RecordAuctionTimeout()
	RecordSkippedAuction()
	RecordRuleMatch(matched bool)
	RecordRejectedBid(bidder string)
	RecordConversionError()
}
