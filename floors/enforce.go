package floors

import (
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/golang/glog"
	"github.com/shopspring/decimal"
)

// RejectionReasonFloorNotMet is the fixed reason code carried by every
// floor rejection.
const RejectionReasonFloorNotMet = "Bid does not meet price floor"

// RejectedBidError is returned by EnforceBid when a bid prices below its
// matched floor. Rejected bids must not continue through the response pipeline.
type RejectedBidError struct {
	AuctionID string
	Bidder    string
	BidID     string
	Floor     float64
	FloorCur  string
	Reason    string
}

func (e *RejectedBidError) Error() string {
	return fmt.Sprintf("bid %q from %q rejected: %s (floor %f %s)", e.BidID, e.Bidder, e.Reason, e.Floor, e.FloorCur)
}

// BidderAdjustments holds a bidder's price-adjustment callbacks. Forward is
// the cpm adjustment the orchestrator applies to incoming bids; Inverse, when
// registered, converts a floor into that bidder's pre-adjustment equivalent.
type BidderAdjustments struct {
	Forward func(price float64, bid *Bid) float64
	Inverse func(floor float64, bid *Bid) float64
}

// EnforceBid applies the floor decision to one received bid. A nil return
// accepts the bid; a *RejectedBidError rejects it with the floor-not-met
// reason. Missing or skipped floor data passes the bid through unmodified.
func (e *Engine) EnforceBid(auctionID string, bid *Bid, request *BidRequestInfo) error {
	data := e.store.Get(auctionID)
	if data == nil || data.Skipped || data.Catalog == nil {
		return nil
	}

	adUnit := request.AdUnitByCode(bid.AdUnitCode)
	result := Match(data.Catalog, e.registry, FieldContext{
		Request: request,
		AdUnit:  adUnit,
		Bid:     bid,
	})
	e.metrics.RecordRuleMatch(result.Matched)
	if !result.Matched {
		// An explicit zero floor still enforces; no match does not.
		return nil
	}

	floorCur := data.FloorCurrency()
	price, ok := e.priceInFloorCurrency(bid, floorCur)
	if !ok {
		// No safe comparison is possible; never enforce with a wrong currency.
		e.metrics.RecordConversionError()
		return nil
	}

	floor := result.Floor
	if data.Enforcement.BidAdjustment {
		floor = e.bidderEquivalentFloor(bid.Bidder, floor, bid)
	}

	attachFloorInfo(bid, data, result, floor, floorCur)

	if !data.Enforcement.EnforceJS {
		return nil
	}
	if bid.DealID != "" && !data.Enforcement.FloorDeals {
		return nil
	}
	if price >= floor {
		return nil
	}

	e.metrics.RecordRejectedBid(bid.Bidder)
	return &RejectedBidError{
		AuctionID: auctionID,
		Bidder:    bid.Bidder,
		BidID:     bid.ID,
		Floor:     floor,
		FloorCur:  floorCur,
		Reason:    RejectionReasonFloorNotMet,
	}
}

// priceInFloorCurrency determines the bid's price in the floor currency:
// the bid currency as-is, then the pre-adjustment original currency, then an
// external conversion. A conversion failure returns ok=false.
func (e *Engine) priceInFloorCurrency(bid *Bid, floorCur string) (float64, bool) {
	if bid.Currency == "" || strings.EqualFold(bid.Currency, floorCur) {
		return bid.Price, true
	}
	if strings.EqualFold(bid.OriginalCurrency, floorCur) {
		return bid.OriginalPrice, true
	}
	if e.conversions == nil {
		glog.Warningf("No currency conversions available for %s->%s, bid %q passes unenforced", bid.Currency, floorCur, bid.ID)
		return 0, false
	}
	rate, err := e.conversions.GetRate(bid.Currency, floorCur)
	if err != nil {
		glog.Warningf("Currency conversion %s->%s failed for bid %q, passing through unenforced: %v", bid.Currency, floorCur, bid.ID, err)
		return 0, false
	}
	return rate * bid.Price, true
}

// bidderEquivalentFloor translates a floor into the bidder's pre-adjustment
// scale. A registered inverse wins; otherwise the generic correction divides
// the squared floor by its adjusted-forward value, in fixed point so binary
// float drift cannot move a bid across the floor.
func (e *Engine) bidderEquivalentFloor(bidder string, floor float64, bid *Bid) float64 {
	adjustments := e.adjustmentsFor(bidder)
	if adjustments == nil {
		return floor
	}
	if adjustments.Inverse != nil {
		return adjustments.Inverse(floor, bid)
	}
	if adjustments.Forward == nil {
		return floor
	}

	adjusted := adjustments.Forward(floor, bid)
	if adjusted <= 0 {
		return floor
	}

	const scale = 10
	floorFixed := decimal.NewFromFloat(floor)
	result := floorFixed.Mul(floorFixed).DivRound(decimal.NewFromFloat(adjusted), scale)
	value, _ := result.Float64()
	return value
}

func (e *Engine) adjustmentsFor(bidder string) *BidderAdjustments {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adjustments[strings.ToLower(bidder)]
}

// attachFloorInfo records the full floor context on the bid, struct-side and
// in the raw ext JSON. The rule key is withheld when only the synthesized
// default matched.
func attachFloorInfo(bid *Bid, data *AuctionFloorData, result MatchResult, floor float64, floorCur string) {
	bid.FloorData = &BidFloorInfo{
		FloorValue:     floor,
		FloorRuleValue: result.FloorRuleValue,
		FloorCurrency:  floorCur,
		FloorRule:      result.Rule,
		MatchedFields:  result.MatchedFields,
		Enforcements:   data.Enforcement,
	}

	ext := bid.Ext
	if len(ext) == 0 {
		ext = []byte(`{}`)
	}
	ext, _ = jsonparser.Set(ext, []byte(fmt.Sprintf("%.4f", floor)), "floors", "floorValue")
	ext, _ = jsonparser.Set(ext, []byte(fmt.Sprintf("%.4f", result.FloorRuleValue)), "floors", "floorRuleValue")
	ext, _ = jsonparser.Set(ext, []byte(`"`+floorCur+`"`), "floors", "floorCurrency")
	if result.Rule != "" {
		ext, _ = jsonparser.Set(ext, []byte(`"`+result.Rule+`"`), "floors", "floorRule")
	}
	bid.Ext = ext
}
