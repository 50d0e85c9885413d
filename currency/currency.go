package currency

// Conversions is the interface the floors engine uses to translate a price
// from one currency into another. Implementations must return a
// ConversionNotFoundError when no rate (direct or reciprocal) is known.
type Conversions interface {
	GetRate(from string, to string) (float64, error)
}
