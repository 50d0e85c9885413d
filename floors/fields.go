package floors

import (
	"fmt"
	"strings"
)

// Built-in schema field names. SyntheticField is the hidden all-wildcard field
// backing default-only catalogs.
const (
	SyntheticField string = "*"
	AdUnitCode     string = "adUnitCode"
	GptSlot        string = "gptSlot"
	Size           string = "size"
	Domain         string = "domain"
	MediaType      string = "mediaType"
)

// FieldContext carries everything a resolver may look at. Request attributes
// and response attributes fall back to each other per field.
type FieldContext struct {
	Request *BidRequestInfo
	AdUnit  *AdUnit
	Bid     *Bid

	// Overrides come from an explicit getFloor query and beat resolution.
	SizeOverride      string
	MediaTypeOverride string
}

// FieldResolver computes the concrete value of one schema field for a context.
// Returning catchAll means the field has no concrete value here.
type FieldResolver func(ctx FieldContext) string

// FieldRegistry maps schema field names to their resolvers. Built-ins are
// installed at construction; publishers may register additional fields, but
// never overwrite an existing one.
type FieldRegistry struct {
	resolvers map[string]FieldResolver
}

func NewFieldRegistry() *FieldRegistry {
	return &FieldRegistry{
		resolvers: map[string]FieldResolver{
			SyntheticField: resolveSynthetic,
			AdUnitCode:     resolveAdUnitCode,
			GptSlot:        resolveGptSlot,
			Size:           resolveSize,
			Domain:         resolveDomain,
			MediaType:      resolveMediaType,
		},
	}
}

// Register adds a custom field. Duplicate and reserved names are rejected at
// registration time rather than silently overwritten.
func (r *FieldRegistry) Register(name string, resolver FieldResolver) error {
	if name == "" || resolver == nil {
		return fmt.Errorf("floor schema field registration requires a name and a resolver")
	}
	if _, exists := r.resolvers[name]; exists {
		return fmt.Errorf("floor schema field %q is already registered", name)
	}
	r.resolvers[name] = resolver
	return nil
}

// Allowed reports whether a schema may declare the given field.
func (r *FieldRegistry) Allowed(name string) bool {
	_, ok := r.resolvers[name]
	return ok
}

func (r *FieldRegistry) resolve(field string, ctx FieldContext) string {
	if resolver, ok := r.resolvers[field]; ok {
		if value := resolver(ctx); value != "" {
			return value
		}
	}
	return catchAll
}

func resolveSynthetic(ctx FieldContext) string {
	return catchAll
}

func resolveAdUnitCode(ctx FieldContext) string {
	if ctx.AdUnit != nil && ctx.AdUnit.Code != "" {
		return ctx.AdUnit.Code
	}
	if ctx.Bid != nil {
		return ctx.Bid.AdUnitCode
	}
	return ""
}

func resolveGptSlot(ctx FieldContext) string {
	if ctx.AdUnit == nil {
		return ""
	}
	if ctx.AdUnit.GptSlot != "" {
		return ctx.AdUnit.GptSlot
	}
	return ctx.AdUnit.PbAdSlot
}

func resolveSize(ctx FieldContext) string {
	if ctx.SizeOverride != "" {
		return ctx.SizeOverride
	}
	if ctx.Bid != nil && ctx.Bid.Width > 0 && ctx.Bid.Height > 0 {
		return fmt.Sprintf("%dx%d", ctx.Bid.Width, ctx.Bid.Height)
	}
	if ctx.AdUnit != nil {
		// A single declared size is unambiguous; anything else is the wildcard.
		if sizes := singleAdUnitSize(ctx.AdUnit); sizes != "" {
			return sizes
		}
	}
	return ""
}

func singleAdUnitSize(adUnit *AdUnit) string {
	var only string
	for _, sizes := range adUnit.Sizes {
		for _, size := range sizes {
			if only != "" && only != size {
				return ""
			}
			only = size
		}
	}
	return only
}

func resolveDomain(ctx FieldContext) string {
	return ctx.Request.Domain()
}

func resolveMediaType(ctx FieldContext) string {
	if ctx.MediaTypeOverride != "" {
		return ctx.MediaTypeOverride
	}
	if ctx.Bid != nil && ctx.Bid.MediaType != "" {
		return strings.ToLower(ctx.Bid.MediaType)
	}
	if ctx.AdUnit != nil && len(ctx.AdUnit.Sizes) == 1 {
		for mediaType := range ctx.AdUnit.Sizes {
			return strings.ToLower(mediaType)
		}
	}
	return defaultMediaType
}
