// Package ortb copies resolved floor values into outbound OpenRTB request
// envelopes for server-side auction participants.
package ortb

import (
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/prebid/openrtb/v20/openrtb2"

	"github.com/floorworks/floorengine/floors"
)

// FloorSource yields the floor to advertise for one line item, identified by
// its imp id / ad unit code. ok false leaves the imp untouched.
type FloorSource func(adUnitCode string) (floor float64, currency string, ok bool)

// AnnotateRequest stamps every imp with its bidfloor/bidfloorcur pair and
// writes the aggregate ext.prebid.floors summary: the minimum floor across
// imps, its currency, and enabled=false when enforcement already happened
// client side so the downstream server must not enforce again. The minimum is
// only meaningful within one currency; when imps advertise floors in more than
// one, the floorMin summary is withheld.
func AnnotateRequest(req *openrtb2.BidRequest, data *floors.AuctionFloorData, source FloorSource) error {
	if req == nil || data == nil || data.Skipped || source == nil {
		return nil
	}

	var (
		minFloor float64
		minCur   string
		stamped  bool
		mixedCur bool
	)

	for i := range req.Imp {
		floor, cur, ok := source(req.Imp[i].ID)
		if !ok || floor <= 0 {
			continue
		}
		req.Imp[i].BidFloor = floor
		req.Imp[i].BidFloorCur = cur

		if !stamped {
			minFloor = floor
			minCur = cur
		} else {
			if cur != minCur {
				mixedCur = true
			}
			if floor < minFloor {
				minFloor = floor
			}
		}
		stamped = true
	}

	if !stamped {
		return nil
	}

	ext := req.Ext
	if len(ext) == 0 {
		ext = []byte(`{}`)
	}

	var err error
	if !mixedCur {
		if ext, err = jsonparser.Set(ext, []byte(fmt.Sprintf("%.4f", minFloor)), "prebid", "floors", "floorMin"); err != nil {
			return err
		}
		if ext, err = jsonparser.Set(ext, []byte(`"`+minCur+`"`), "prebid", "floors", "floorMinCur"); err != nil {
			return err
		}
	}
	// enabled=false signals that floors were already enforced client side.
	enabled := "false"
	if data.Enforcement.EnforcePBS {
		enabled = "true"
	}
	if ext, err = jsonparser.Set(ext, []byte(enabled), "prebid", "floors", "enabled"); err != nil {
		return err
	}

	req.Ext = ext
	return nil
}
