package command

import (
	"strings"

	"github.com/nerrad567/timerly-core/internal/device"
)

// MatchDevices returns the devices addressed by targets. A target matches a
// device's entity ID, unique ID or name (case-insensitive). No targets
// selects every device.
func MatchDevices(devs []device.Device, targets []string) []device.Device {
	if len(targets) == 0 {
		return devs
	}
	var out []device.Device
	for _, d := range devs {
		for _, t := range targets {
			if t == d.EntityID() || t == d.UniqueID || strings.EqualFold(t, d.Name) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
