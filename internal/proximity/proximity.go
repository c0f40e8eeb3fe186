package proximity

import (
	"bluewatch/internal/config"
	"bluewatch/internal/model"
)

// Classify maps a signal-strength reading (dBm) to a discrete zone. The
// thresholds come from config so adapters with unusual gain can be
// recalibrated without a rebuild. Boundary readings resolve exactly once:
// rssi > immediate is immediate, rssi > near is near, rssi > far is far,
// everything else is remote.
func Classify(rssi int, cfg config.ProximityConfig) model.Zone {
	switch {
	case rssi > cfg.Immediate:
		return model.ZoneImmediate
	case rssi > cfg.Near:
		return model.ZoneNear
	case rssi > cfg.Far:
		return model.ZoneFar
	}
	return model.ZoneRemote
}
