package floors

import (
	"sort"
	"strings"
)

// Match finds the single best rule for the given context. Results are memoized
// on the catalog by the exact resolved field values, so repeated lookups for
// the same contextual combination cost one map read.
func Match(catalog *Catalog, registry *FieldRegistry, ctx FieldContext) MatchResult {
	if catalog == nil || len(catalog.Schema.Fields) == 0 {
		return MatchResult{}
	}

	fields := catalog.Schema.Fields
	exactValues := make([]string, len(fields))
	matchedFields := make(map[string]string, len(fields))
	for i, field := range fields {
		value := strings.ToLower(registry.resolve(field, ctx))
		exactValues[i] = value
		matchedFields[field] = value
	}

	memoKey := strings.Join(exactValues, catalog.Schema.Delimiter)
	if cached, ok := catalog.memo.lookup(memoKey); ok {
		return applyFloorMin(cached, ctx.Request, catalog)
	}

	result := MatchResult{MatchedFields: matchedFields}
	for _, candidate := range ruleCandidates(exactValues, catalog.Schema.Delimiter) {
		if floor, ok := catalog.Values[candidate]; ok {
			result.Matched = true
			result.FloorRuleValue = floor
			if catalog.defaultRuleKeys[candidate] {
				result.DefaultMatch = true
			} else {
				result.Rule = candidate
			}
			break
		}
	}
	catalog.memo.store(memoKey, result)

	return applyFloorMin(result, ctx.Request, catalog)
}

// applyFloorMin finishes a raw match: the resolved floor is the rule floor
// clamped from below by the effective floorMin. A request-scoped override wins
// over the catalog's floorMin.
func applyFloorMin(result MatchResult, request *BidRequestInfo, catalog *Catalog) MatchResult {
	floorMin := catalog.FloorMin
	if request != nil && request.FloorMin > 0 {
		floorMin = request.FloorMin
	}
	result.FloorMin = floorMin

	if result.Matched {
		result.Floor = result.FloorRuleValue
		if floorMin > result.Floor {
			result.Floor = floorMin
		}
	}
	return result
}

// ruleCandidates enumerates every exact/wildcard combination of the resolved
// field values, most specific first. Left fields vary slower than right ones,
// and the stable sort by wildcard count preserves that order among equally
// wildcarded keys, so left-most exactness breaks ties.
func ruleCandidates(exactValues []string, delimiter string) []string {
	options := make([][]string, len(exactValues))
	total := 1
	for i, value := range exactValues {
		if value == catchAll {
			options[i] = []string{catchAll}
		} else {
			options[i] = []string{value, catchAll}
		}
		total *= len(options[i])
	}

	type candidate struct {
		key       string
		wildcards int
	}
	candidates := make([]candidate, 0, total)

	segments := make([]string, len(options))
	var build func(i, wildcards int)
	build = func(i, wildcards int) {
		if i == len(options) {
			candidates = append(candidates, candidate{
				key:       strings.Join(segments, delimiter),
				wildcards: wildcards,
			})
			return
		}
		for j, value := range options[i] {
			segments[i] = value
			added := 0
			// The second option is always the wildcard; an exact value that is
			// itself the wildcard already counts.
			if j > 0 || value == catchAll {
				added = 1
			}
			build(i+1, wildcards+added)
		}
	}
	build(0, 0)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].wildcards < candidates[j].wildcards
	})

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys
}
