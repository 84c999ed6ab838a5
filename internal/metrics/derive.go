// Package metrics computes derived UPS metrics from raw status fields.
// Derivation is pure: no I/O, no clock.
package metrics

import "github.com/k2patel/apcupsd-client/internal/models"

// Derive computes wattage, runtime and headroom from raw fields.
//
//   - Wattage: NOMPOWER * LOADPCT / 100. When the device does not report
//     NOMPOWER, fallbackNominalWatts (>0) is used instead. With no load
//     percentage, wattage stays absent; zero is never emitted as a stand-in.
//   - Runtime: TIMELEFT passed through (leading number, minutes).
//   - Headroom: 100 - LOADPCT, clamped at 0.
func Derive(fields models.Fields, fallbackNominalWatts float64) models.Derived {
	var d models.Derived

	if load, ok := fields.Float("LOADPCT"); ok {
		head := 100 - load
		if head < 0 {
			head = 0
		}
		d.HeadroomPct = &head

		nominal, haveNominal := fields.Float("NOMPOWER")
		if !haveNominal && fallbackNominalWatts > 0 {
			nominal, haveNominal = fallbackNominalWatts, true
		}
		if haveNominal {
			w := nominal * load / 100
			d.Watts = &w
		}
	}

	if rt, ok := fields.Float("TIMELEFT"); ok {
		d.RuntimeMinutes = &rt
	}
	return d
}
