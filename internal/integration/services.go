package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/timerly-core/internal/audit"
	"github.com/nerrad567/timerly-core/internal/command"
	"github.com/nerrad567/timerly-core/internal/device"
	"github.com/nerrad567/timerly-core/internal/discovery"
	"github.com/nerrad567/timerly-core/internal/infrastructure/mqtt"
)

// Service names.
const (
	ServiceStartTimer = "start_timer"
	ServiceCancelAll  = "cancel_all"
	ServiceDoorbell   = "doorbell"
	ServiceDismiss    = "dismiss"
	ServiceNotify     = "notify"
	ServiceRefreshAll = "refresh_all"
)

const (
	commandQoS         = 1
	mqttCommandTimeout = 30 * time.Second
	refreshConcurrency = 8
)

// Services returns the registered service names, sorted.
func Services() []string {
	names := []string{
		ServiceStartTimer,
		ServiceCancelAll,
		ServiceDoorbell,
		ServiceDismiss,
		ServiceNotify,
		ServiceRefreshAll,
	}
	sort.Strings(names)
	return names
}

// CallService decodes body as the request for service and runs it. An
// empty body is the zero request.
func (i *Integration) CallService(ctx context.Context, service string, body []byte) error {
	switch service {
	case ServiceStartTimer:
		var req command.StartTimerRequest
		if err := decodeRequest(body, &req); err != nil {
			return err
		}
		return i.StartTimer(ctx, req)
	case ServiceCancelAll:
		var req command.CancelRequest
		if err := decodeRequest(body, &req); err != nil {
			return err
		}
		return i.CancelAll(ctx, req)
	case ServiceDoorbell:
		var req command.DoorbellRequest
		if err := decodeRequest(body, &req); err != nil {
			return err
		}
		return i.Doorbell(ctx, req)
	case ServiceDismiss:
		var req command.DismissRequest
		if err := decodeRequest(body, &req); err != nil {
			return err
		}
		return i.Dismiss(ctx, req)
	case ServiceNotify:
		var req command.NotifyRequest
		if err := decodeRequest(body, &req); err != nil {
			return err
		}
		return i.Notify(ctx, req)
	case ServiceRefreshAll:
		return i.RefreshAll(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
}

func decodeRequest(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", command.ErrInvalidRequest, err)
	}
	return nil
}

// StartTimer starts a countdown on the targeted displays, then refreshes
// every coordinator.
func (i *Integration) StartTimer(ctx context.Context, req command.StartTimerRequest) error {
	payload, err := command.BuildStartTimer(req, i.now(), i.timerType.Current())
	if err != nil {
		return err
	}
	devs, err := i.targets(req.EntityID)
	if err != nil {
		return err
	}
	i.logger.Info("starting timer", "devices", len(devs), "seconds", payload.Seconds, "type", payload.Type)
	postErr := i.commands.PostAll(ctx, devs, command.EndpointTimer, payload)
	i.refreshAfterCommand(ctx)
	return postErr
}

// CancelAll cancels every timer on the targeted displays, then refreshes
// every coordinator.
func (i *Integration) CancelAll(ctx context.Context, req command.CancelRequest) error {
	if err := command.Validate(req); err != nil {
		return err
	}
	devs, err := i.targets(req.EntityID)
	if err != nil {
		return err
	}
	postErr := i.commands.PostAll(ctx, devs, command.EndpointCancel, command.CancelPayload{})
	i.refreshAfterCommand(ctx)
	return postErr
}

// Doorbell shows the doorbell overlay on the targeted displays.
func (i *Integration) Doorbell(ctx context.Context, req command.DoorbellRequest) error {
	payload, err := command.BuildDoorbell(req)
	if err != nil {
		return err
	}
	devs, err := i.targets(req.EntityID)
	if err != nil {
		return err
	}
	return i.commands.PostAll(ctx, devs, command.EndpointDoorbell, payload)
}

// Dismiss dismisses a named timer on the targeted displays.
func (i *Integration) Dismiss(ctx context.Context, req command.DismissRequest) error {
	payload, err := command.BuildDismiss(req)
	if err != nil {
		return err
	}
	devs, err := i.targets(req.EntityID)
	if err != nil {
		return err
	}
	return i.commands.PostAll(ctx, devs, command.EndpointCancel, payload)
}

// Notify shows an alert on the targeted displays.
func (i *Integration) Notify(ctx context.Context, req command.NotifyRequest) error {
	payload, err := command.BuildAlert(req)
	if err != nil {
		return err
	}
	devs, err := i.targets(req.EntityID)
	if err != nil {
		return err
	}
	return i.commands.PostAll(ctx, devs, command.EndpointAlert, payload)
}

// RefreshAll refreshes every coordinator concurrently and returns the
// failures that reached the threshold, joined.
func (i *Integration) RefreshAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(refreshConcurrency)
	for _, c := range i.coords.All() {
		g.Go(func() error {
			if err := c.Refresh(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", c.Device().Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// RefreshEntity refreshes the coordinator behind one entity.
func (i *Integration) RefreshEntity(ctx context.Context, uniqueID string) error {
	c, ok := i.coords.ByUniqueID(uniqueID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, uniqueID)
	}
	return c.Refresh(ctx)
}

func (i *Integration) refreshAfterCommand(ctx context.Context) {
	if err := i.RefreshAll(ctx); err != nil {
		i.logger.Warn("refresh after command failed", "error", err)
	}
}

// targets resolves entity IDs, unique IDs or names to the devices that
// have a coordinator. Explicit targets matching nothing are an error.
func (i *Integration) targets(ids []string) ([]device.Device, error) {
	coords := i.coords.All()
	devs := make([]device.Device, 0, len(coords))
	for _, c := range coords {
		devs = append(devs, c.Device())
	}
	matched := command.MatchDevices(devs, ids)
	if len(ids) > 0 && len(matched) == 0 {
		return nil, fmt.Errorf("%w: %v", command.ErrNoDevices, ids)
	}
	return matched, nil
}

func commandTopic() string {
	return mqtt.Topics{}.AllCommands()
}

// SubscribeCommands routes timerly/command/{service} messages to
// CallService. The subscription is removed by Unload.
func (i *Integration) SubscribeCommands(sub discovery.Subscriber) error {
	topics := mqtt.Topics{}
	handler := func(topic string, payload []byte) error {
		service, ok := topics.ParseCommand(topic)
		if !ok {
			return fmt.Errorf("%w: topic %q", ErrUnknownService, topic)
		}
		ctx, cancel := context.WithTimeout(i.ctx, mqttCommandTimeout)
		defer cancel()
		err := i.CallService(ctx, service, payload)
		entry := &audit.AuditLog{Action: audit.ActionService, Target: service, Source: "mqtt"}
		if err != nil {
			entry.Outcome = audit.OutcomeError
			entry.Error = err.Error()
		}
		i.recordAudit(ctx, entry)
		if err != nil {
			i.logger.Warn("mqtt service call failed", "service", service, "error", err)
			return err
		}
		i.logger.Info("mqtt service call", "service", service)
		return nil
	}

	if err := sub.Subscribe(commandTopic(), commandQoS, handler); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	i.mu.Lock()
	i.subscriber = sub
	i.mu.Unlock()
	return nil
}
