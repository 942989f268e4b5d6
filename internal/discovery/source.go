package discovery

import (
	"context"

	"github.com/nerrad567/timerly-core/internal/infrastructure/config"
)

// Source produces discovery events until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(Event)) error
}

// Mock device announced when discovery.mock is enabled.
const (
	MockDeviceName    = "Office TV"
	MockDeviceAddress = "192.168.10.37"
	MockDevicePort    = 8181
)

// StaticSource announces a fixed device list once.
type StaticSource struct {
	devices []config.StaticDeviceConf
}

// NewStaticSource returns a source for the configured devices, plus the
// mock device when mock is true.
func NewStaticSource(devices []config.StaticDeviceConf, mock bool) *StaticSource {
	list := append([]config.StaticDeviceConf(nil), devices...)
	if mock {
		list = append(list, config.StaticDeviceConf{
			Name:    MockDeviceName,
			Address: MockDeviceAddress,
			Port:    MockDevicePort,
		})
	}
	return &StaticSource{devices: list}
}

// Name implements Source.
func (s *StaticSource) Name() string { return "static" }

// Run emits one Added event per device and returns.
func (s *StaticSource) Run(ctx context.Context, emit func(Event)) error {
	for _, d := range s.devices {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(Added(d.Name, d.Address, d.Port, s.Name()))
	}
	return nil
}

// Len returns the number of devices the source announces.
func (s *StaticSource) Len() int {
	return len(s.devices)
}
