package prometheusmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/floorworks/floorengine/metrics"
)

func TestMetricsImplementsEngine(t *testing.T) {
	var engine metrics.MetricsEngine = NewMetrics()
	assert.NotNil(t, engine)
}

func TestRecordFloorFetch(t *testing.T) {
	m := NewMetrics()

	m.RecordFloorFetch("success")
	m.RecordFloorFetch("success")
	m.RecordFloorFetch("error")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.floorFetches.With(prometheus.Labels{statusLabel: "success"})))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.floorFetches.With(prometheus.Labels{statusLabel: "error"})))
}

func TestRecordCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordDeferredAuction()
	m.RecordAuctionTimeout()
	m.RecordSkippedAuction()
	m.RecordSkippedAuction()
	m.RecordConversionError()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.deferredAuctions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.auctionTimeouts))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.skippedAuctions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.conversionErrors))
}

func TestRecordRuleMatch(t *testing.T) {
	m := NewMetrics()

	m.RecordRuleMatch(true)
	m.RecordRuleMatch(true)
	m.RecordRuleMatch(false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ruleMatches.With(prometheus.Labels{matchedLabel: "true"})))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ruleMatches.With(prometheus.Labels{matchedLabel: "false"})))
}

func TestRecordRejectedBid(t *testing.T) {
	m := NewMetrics()

	m.RecordRejectedBid("bidderA")
	m.RecordRejectedBid("bidderA")
	m.RecordRejectedBid("bidderB")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.rejectedBids.With(prometheus.Labels{bidderLabel: "bidderA"})))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rejectedBids.With(prometheus.Labels{bidderLabel: "bidderB"})))
}
