package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	validator "github.com/asaskevich/govalidator"
	"github.com/spf13/viper"
)

// PriceFloors is the full configuration surface of the floors engine. A new
// snapshot is handed to the engine on every SetConfig call; the engine never
// reads ambient globals.
type PriceFloors struct {
	Enabled       bool                  `mapstructure:"enabled"`
	FloorMin      float64               `mapstructure:"floor_min"`
	FloorMinCur   string                `mapstructure:"floor_min_cur"`
	AuctionDelay  int                   `mapstructure:"auction_delay_ms"`
	FloorProvider string                `mapstructure:"floor_provider"`
	Endpoint      FloorEndpoint         `mapstructure:"endpoint"`
	SkipRate      int                   `mapstructure:"skip_rate"`
	Enforcement   PriceFloorEnforcement `mapstructure:"enforcement"`

	// SkipRateOverride is the debug override; -1 means unset.
	SkipRateOverride int `mapstructure:"skip_rate_override"`

	// Data carries an inline rule catalog. It is kept as raw JSON here so the
	// floors package owns the catalog schema; the engine validates it on receipt.
	Data json.RawMessage `mapstructure:"-"`

	// AuctionGrace is how long (ms) an auction's floor dataset outlives the
	// auction-ended signal, so late bids can still be floored.
	AuctionGrace int `mapstructure:"auction_grace_ms"`
}

type FloorEndpoint struct {
	URL     string `mapstructure:"url"`
	Method  string `mapstructure:"method"`
	Timeout int    `mapstructure:"timeout_ms"`
}

type PriceFloorEnforcement struct {
	EnforceJS            bool     `mapstructure:"enforce_js"`
	EnforcePBS           bool     `mapstructure:"enforce_pbs"`
	FloorDeals           bool     `mapstructure:"floor_deals"`
	BidAdjustment        bool     `mapstructure:"bid_adjustment"`
	NoFloorSignalBidders []string `mapstructure:"no_floor_signal_bidders"`
}

// New builds a PriceFloors config from a viper instance that has been primed
// with SetupViper. The inline "data" node, if any, is re-marshalled to JSON so
// the floors package can parse it with its own catalog types.
func New(v *viper.Viper) (*PriceFloors, error) {
	var cfg PriceFloors
	if err := v.UnmarshalKey("price_floors", &cfg); err != nil {
		return nil, fmt.Errorf("viper failed to unmarshal price_floors config: %v", err)
	}

	if raw := v.Get("price_floors.data"); raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("price_floors.data is not representable as JSON: %v", err)
		}
		cfg.Data = data
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return &cfg, errs[0]
	}
	return &cfg, nil
}

// SetupViper primes default values. Call before reading the config file.
func SetupViper(v *viper.Viper) {
	v.SetDefault("price_floors.enabled", true)
	v.SetDefault("price_floors.floor_min", 0.0)
	v.SetDefault("price_floors.floor_min_cur", "USD")
	v.SetDefault("price_floors.auction_delay_ms", 0)
	v.SetDefault("price_floors.skip_rate", 0)
	v.SetDefault("price_floors.skip_rate_override", -1)
	v.SetDefault("price_floors.auction_grace_ms", 3000)
	v.SetDefault("price_floors.endpoint.method", http.MethodGet)
	v.SetDefault("price_floors.endpoint.timeout_ms", 5000)
	v.SetDefault("price_floors.enforcement.enforce_js", true)
	v.SetDefault("price_floors.enforcement.enforce_pbs", false)
	v.SetDefault("price_floors.enforcement.floor_deals", false)
	v.SetDefault("price_floors.enforcement.bid_adjustment", true)
}

// Validate reports every problem it finds. The caller logs them and disables
// the offending scope; a bad floors config must never abort an auction.
func (cfg *PriceFloors) Validate() []error {
	var errs []error

	if cfg.SkipRate < 0 || cfg.SkipRate > 100 {
		errs = append(errs, fmt.Errorf("price_floors.skip_rate must be in [0, 100], got %d", cfg.SkipRate))
	}
	if cfg.SkipRateOverride > 100 {
		errs = append(errs, fmt.Errorf("price_floors.skip_rate_override must be in [0, 100], got %d", cfg.SkipRateOverride))
	}
	if cfg.FloorMin < 0 {
		errs = append(errs, fmt.Errorf("price_floors.floor_min must not be negative, got %f", cfg.FloorMin))
	}
	if cfg.AuctionDelay < 0 {
		errs = append(errs, fmt.Errorf("price_floors.auction_delay_ms must not be negative, got %d", cfg.AuctionDelay))
	}
	if cfg.Endpoint.URL != "" {
		if !validator.IsURL(cfg.Endpoint.URL) {
			errs = append(errs, fmt.Errorf("price_floors.endpoint.url is not a valid URL: %s", cfg.Endpoint.URL))
		}
		if method := strings.ToUpper(cfg.Endpoint.Method); method != "" && method != http.MethodGet {
			errs = append(errs, fmt.Errorf("price_floors.endpoint.method only supports GET, got %s", cfg.Endpoint.Method))
		}
	}
	if cfg.Endpoint.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("price_floors.endpoint.timeout_ms must be positive, got %d", cfg.Endpoint.Timeout))
	}
	if cfg.AuctionGrace < 0 {
		errs = append(errs, fmt.Errorf("price_floors.auction_grace_ms must not be negative, got %d", cfg.AuctionGrace))
	}

	return errs
}
