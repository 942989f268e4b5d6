package integration

import (
	"time"

	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/discovery"
	"github.com/nerrad567/timerly-core/internal/infrastructure/config"
)

// Settings are the polling and command parameters applied to every device.
type Settings struct {
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	FailureThreshold int
	PostExpiryDelay  time.Duration
	CommandTimeout   time.Duration
}

// SettingsFromConfig reads Settings from the timerly config section.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PollInterval:     cfg.GetPollInterval(),
		RequestTimeout:   cfg.GetRequestTimeout(),
		FailureThreshold: cfg.Timerly.FailureThreshold,
		PostExpiryDelay:  cfg.GetPostExpiryDelay(),
		CommandTimeout:   cfg.GetCommandTimeout(),
	}
}

func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = coordinator.DefaultInterval
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = coordinator.DefaultRequestTimeout
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = coordinator.DefaultFailureThreshold
	}
	if s.PostExpiryDelay <= 0 {
		s.PostExpiryDelay = coordinator.DefaultPostExpiryDelay
	}
	return s
}

// SourcesFromConfig builds the discovery sources enabled in cfg. sub may be
// nil when MQTT is not connected; the MQTT source is then skipped.
func SourcesFromConfig(cfg config.DiscoveryConfig, sub discovery.Subscriber, logger Logger) []discovery.Source {
	sources := []discovery.Source{discovery.NewStaticSource(cfg.Static, cfg.Mock)}
	if cfg.MDNS.Enabled {
		sources = append(sources, discovery.NewMDNSSource(discovery.MDNSOptions{
			Service: cfg.MDNS.Service,
			Domain:  cfg.MDNS.Domain,
			Window:  time.Duration(cfg.MDNS.Window) * time.Second,
			Logger:  logger,
		}))
	}
	if cfg.MQTT.Enabled && sub != nil {
		sources = append(sources, discovery.NewMQTTSource(sub, logger))
	}
	return sources
}
