package floors

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// ValidateCatalog normalizes a raw catalog in place and reports whether it is
// usable. Invalid rule entries are dropped silently; a catalog survives iff at
// least one rule (including an expanded default) remains. The pass is
// idempotent: re-validating an already-valid catalog changes nothing.
func ValidateCatalog(catalog *Catalog, registry *FieldRegistry) error {
	if catalog == nil {
		return fmt.Errorf("no floor data")
	}

	switch catalog.FloorsSchemaVersion {
	case 0, 1:
		return validateModel(catalog, registry)
	case 2:
		return validateModelGroups(catalog, registry)
	default:
		return fmt.Errorf("unknown floors schema version %d", catalog.FloorsSchemaVersion)
	}
}

// validateModel handles a flat (schema v1) rule table.
func validateModel(catalog *Catalog, registry *FieldRegistry) error {
	if len(catalog.Schema.Fields) == 0 {
		if catalog.Default == nil {
			return fmt.Errorf("floor schema declares no fields")
		}
		// A default-only catalog still needs a one-segment key space.
		catalog.Schema.Fields = []string{SyntheticField}
	}

	for _, field := range catalog.Schema.Fields {
		if !registry.Allowed(field) {
			return fmt.Errorf("floor schema field %q is not recognized", field)
		}
	}

	if catalog.Schema.Delimiter == "" {
		catalog.Schema.Delimiter = defaultDelimiter
	}

	normalizeRules(catalog)
	expandDefaultRule(catalog)

	if len(catalog.Values) == 0 {
		return fmt.Errorf("floor data contains no usable rules")
	}
	if catalog.memo == nil {
		catalog.memo = &matchMemo{}
	}
	return nil
}

// validateModelGroups handles the weighted multi-model (schema v2) table. Every
// group must pass v1 validation on its own; the total weight is accumulated for
// the per-auction lottery.
func validateModelGroups(catalog *Catalog, registry *FieldRegistry) error {
	if len(catalog.ModelGroups) == 0 {
		return fmt.Errorf("schema v2 floor data carries no model groups")
	}

	weightSum := 0
	for i, group := range catalog.ModelGroups {
		if group == nil {
			return fmt.Errorf("model group %d is empty", i)
		}
		if group.ModelWeight <= 0 {
			return fmt.Errorf("model group %q has non-positive weight %d", group.ModelVersion, group.ModelWeight)
		}
		if err := validateModel(group, registry); err != nil {
			return fmt.Errorf("model group %q: %v", group.ModelVersion, err)
		}
		weightSum += group.ModelWeight
	}
	catalog.ModelWeightSum = weightSum
	return nil
}

// normalizeRules lowercases rule keys and drops entries whose key does not
// split into exactly one segment per schema field or whose floor is negative.
func normalizeRules(catalog *Catalog) {
	numFields := len(catalog.Schema.Fields)
	normalized := make(map[string]float64, len(catalog.Values))

	for key, floor := range catalog.Values {
		segments := strings.Split(key, catalog.Schema.Delimiter)
		if len(segments) != numFields {
			glog.Warningf("Dropping floor rule %q: expected %d fields", key, numFields)
			continue
		}
		if floor < 0 {
			glog.Warningf("Dropping floor rule %q: negative floor %f", key, floor)
			continue
		}
		normalized[strings.ToLower(key)] = floor
	}
	catalog.Values = normalized
}

// expandDefaultRule turns a scalar default floor into a synthetic all-wildcard
// rule so it participates uniformly in matching. An explicit all-wildcard rule
// wins over the default.
func expandDefaultRule(catalog *Catalog) {
	if catalog.Default == nil || *catalog.Default < 0 {
		return
	}

	segments := make([]string, len(catalog.Schema.Fields))
	for i := range segments {
		segments[i] = catchAll
	}
	key := strings.Join(segments, catalog.Schema.Delimiter)

	if catalog.Values == nil {
		catalog.Values = make(map[string]float64, 1)
	}
	if _, exists := catalog.Values[key]; !exists {
		catalog.Values[key] = *catalog.Default
		if catalog.defaultRuleKeys == nil {
			catalog.defaultRuleKeys = make(map[string]bool, 1)
		}
		catalog.defaultRuleKeys[key] = true
	}
}
