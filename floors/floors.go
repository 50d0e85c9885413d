package floors

import (
	"math"
	"reflect"
	"strings"

	"github.com/golang/glog"
)

// pickRandomModel runs the per-auction weighted lottery over model groups: a
// uniform integer draw in [1, weightSum] walks the groups in order and selects
// the first at which the running remainder drops to zero or below.
func pickRandomModel(groups []*Catalog, weightSum int, random func() float64) *Catalog {
	if len(groups) == 1 || weightSum <= 0 {
		return groups[0]
	}

	draw := int(random()*float64(weightSum)) + 1
	for _, group := range groups {
		draw -= group.ModelWeight
		if draw <= 0 {
			return group
		}
	}
	return groups[len(groups)-1]
}

// shouldSkipFloors samples the per-auction skip decision against the effective
// skip rate. Precedence: rate carried by the catalog data, then static config,
// then the debug override.
func shouldSkipFloors(dataSkipRate *int, configSkipRate, overrideSkipRate int, random func() float64) bool {
	skipRate := 0
	switch {
	case dataSkipRate != nil:
		skipRate = *dataSkipRate
	case configSkipRate > 0:
		skipRate = configSkipRate
	case overrideSkipRate >= 0:
		skipRate = overrideSkipRate
	}

	if skipRate <= 0 {
		return false
	}
	return random()*float64(skipRateMax) < float64(skipRate)
}

// catalogFromAdUnits derives a catalog purely from ad-unit floor fragments.
// The first declared schema wins; units declaring a different schema are
// dropped and logged, never merged. Rule keys are prefixed with the unit's own
// code to avoid cross-unit collisions, unless the schema already carries the
// adUnitCode field.
func catalogFromAdUnits(adUnits []*AdUnit, registry *FieldRegistry) *Catalog {
	var catalog *Catalog
	var baseFields []string
	prefixCodes := false

	for _, adUnit := range adUnits {
		if adUnit.Floors == nil {
			continue
		}

		fragment := adUnit.Floors.Copy()
		if catalog == nil {
			if err := ValidateCatalog(fragment, registry); err != nil {
				glog.Warningf("Invalid floors data on ad unit %q: %v", adUnit.Code, err)
				continue
			}
			baseFields = append([]string(nil), fragment.Schema.Fields...)
			prefixCodes = !containsField(baseFields, AdUnitCode)

			catalog = fragment
			if prefixCodes {
				catalog.Schema.Fields = append([]string{AdUnitCode}, baseFields...)
				catalog.Values = prefixRuleKeys(fragment.Values, adUnit.Code, catalog.Schema.Delimiter)
				catalog.defaultRuleKeys = prefixDefaultKeys(fragment.defaultRuleKeys, adUnit.Code, catalog.Schema.Delimiter)
			}
			continue
		}

		if err := ValidateCatalog(fragment, registry); err != nil {
			glog.Warningf("Invalid floors data on ad unit %q: %v", adUnit.Code, err)
			continue
		}
		if !reflect.DeepEqual(fragment.Schema.Fields, baseFields) {
			glog.Warningf("Dropping floors data on ad unit %q: schema fields %v disagree with %v", adUnit.Code, fragment.Schema.Fields, baseFields)
			continue
		}

		values := fragment.Values
		defaults := fragment.defaultRuleKeys
		if prefixCodes {
			values = prefixRuleKeys(values, adUnit.Code, catalog.Schema.Delimiter)
			defaults = prefixDefaultKeys(defaults, adUnit.Code, catalog.Schema.Delimiter)
		}
		for key, floor := range values {
			if _, exists := catalog.Values[key]; !exists {
				catalog.Values[key] = floor
				if defaults[key] {
					if catalog.defaultRuleKeys == nil {
						catalog.defaultRuleKeys = make(map[string]bool)
					}
					catalog.defaultRuleKeys[key] = true
				}
			}
		}
	}

	if catalog != nil {
		catalog.memo = &matchMemo{}
	}
	return catalog
}

func containsField(fields []string, name string) bool {
	for _, field := range fields {
		if field == name {
			return true
		}
	}
	return false
}

func prefixRuleKeys(values map[string]float64, code, delimiter string) map[string]float64 {
	prefixed := make(map[string]float64, len(values))
	for key, floor := range values {
		prefixed[strings.ToLower(code)+delimiter+key] = floor
	}
	return prefixed
}

func prefixDefaultKeys(keys map[string]bool, code, delimiter string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make(map[string]bool, len(keys))
	for key := range keys {
		prefixed[strings.ToLower(code)+delimiter+key] = true
	}
	return prefixed
}

// resolveAuction builds the complete per-auction floor dataset from the active
// catalog (or ad-unit fragments), runs model selection and the skip sample, and
// stamps every participant. Called exactly once per auction id.
func (e *Engine) resolveAuction(request *BidRequestInfo, fetchStatus string) *AuctionFloorData {
	e.mu.Lock()
	catalog := e.active.Copy()
	location := e.location
	cfg := e.cfg
	e.mu.Unlock()

	data := &AuctionFloorData{
		AuctionID:   request.AuctionID,
		Enforcement: cfg.Enforcement,
		FloorMin:    cfg.FloorMin,
		FloorMinCur: cfg.FloorMinCur,
		FetchStatus: fetchStatus,
		Location:    location,
		Provider:    cfg.FloorProvider,
	}

	if catalog != nil && len(catalog.ModelGroups) > 0 {
		catalog = pickRandomModel(catalog.ModelGroups, catalog.ModelWeightSum, e.random.GenerateFloat64)
	}

	if catalog == nil || len(catalog.Values) == 0 {
		catalog = catalogFromAdUnits(request.AdUnits, e.registry)
		if catalog != nil {
			data.Location = AdUnitLocation
		}
	}

	if catalog == nil || len(catalog.Values) == 0 {
		// Terminal for this auction: floors stay inactive for every participant.
		data.Skipped = true
		data.Location = NoDataLocation
		e.metrics.RecordSkippedAuction()
		e.stampParticipants(request, data)
		return data
	}

	if catalog.FloorMin == 0 {
		catalog.FloorMin = cfg.FloorMin
	}
	data.Catalog = catalog
	if catalog.FloorProvider != "" {
		data.Provider = catalog.FloorProvider
	}

	if shouldSkipFloors(catalog.SkipRate, cfg.SkipRate, cfg.SkipRateOverride, e.random.GenerateFloat64) {
		data.Skipped = true
		e.metrics.RecordSkippedAuction()
	}

	e.stampParticipants(request, data)
	return data
}

// stampParticipants attaches enforcement metadata to every participant and,
// unless the auction is skipped or the bidder is on the no-signal list, the
// proactive floor-query capability.
func (e *Engine) stampParticipants(request *BidRequestInfo, data *AuctionFloorData) {
	meta := FloorMeta{
		Skipped:     data.Skipped,
		Provider:    data.Provider,
		Location:    data.Location,
		FetchStatus: data.FetchStatus,
	}
	if data.Catalog != nil {
		meta.ModelVersion = data.Catalog.ModelVersion
		meta.ModelWeight = data.Catalog.ModelWeight
		meta.ModelTimestamp = data.Catalog.ModelTimestamp
	}

	for _, adUnit := range request.AdUnits {
		for _, participant := range adUnit.Participants {
			stamped := meta
			participant.FloorMeta = &stamped

			if data.Skipped || data.Catalog == nil || e.isNoSignalBidder(participant.Bidder, data) {
				continue
			}
			participant.GetFloor = e.getFloorFunc(request, adUnit, participant.Bidder, data)
		}
	}
}

func (e *Engine) isNoSignalBidder(bidder string, data *AuctionFloorData) bool {
	for _, name := range data.Enforcement.NoFloorSignalBidders {
		if strings.EqualFold(name, bidder) {
			return true
		}
	}
	return false
}

// getFloorFunc builds the synchronous floor-query capability for one
// participant. Conversion failures fall back to the floor's native currency;
// the proactive path never blocks signalling on a missing rate.
func (e *Engine) getFloorFunc(request *BidRequestInfo, adUnit *AdUnit, bidder string, data *AuctionFloorData) func(FloorQuery) FloorPrice {
	return func(query FloorQuery) FloorPrice {
		mediaType := query.MediaType
		if mediaType == "" {
			mediaType = catchAll
		}
		size := query.Size
		if size == "" {
			size = catchAll
		}
		cur := query.Currency
		if cur == "" {
			cur = defaultCurrency
		}

		result := Match(data.Catalog, e.registry, FieldContext{
			Request:           request,
			AdUnit:            adUnit,
			SizeOverride:      size,
			MediaTypeOverride: mediaType,
		})
		e.metrics.RecordRuleMatch(result.Matched)
		if !result.Matched {
			return FloorPrice{}
		}

		floor := result.Floor
		floorCur := data.FloorCurrency()
		if !strings.EqualFold(cur, floorCur) && e.conversions != nil {
			if rate, err := e.conversions.GetRate(floorCur, cur); err == nil {
				floor = rate * floor
				floorCur = cur
			} else {
				glog.Warningf("Floor currency conversion %s->%s failed, reporting native currency: %v", floorCur, cur, err)
			}
		}

		if data.Enforcement.BidAdjustment {
			floor = e.bidderEquivalentFloor(bidder, floor, nil)
		}

		return FloorPrice{Floor: roundPrice(floor), Currency: floorCur}
	}
}

func roundPrice(price float64) float64 {
	return math.Round(price*10000) / 10000
}
