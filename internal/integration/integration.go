package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/timerly-core/internal/audit"
	"github.com/nerrad567/timerly-core/internal/command"
	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/device"
	"github.com/nerrad567/timerly-core/internal/discovery"
	"github.com/nerrad567/timerly-core/internal/entity"
	"github.com/nerrad567/timerly-core/internal/scheduler"
)

const (
	eventBuffer = 64

	// ChannelDiscovery is the WebSocket channel for discovery events.
	ChannelDiscovery = "discovery.event"
)

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures an Integration. Only Settings has no default; the
// zero value uses the coordinator defaults.
type Options struct {
	Settings Settings
	Sources  []discovery.Source

	// Collection receives new entities. Without one, coordinators are still
	// created and polled.
	Collection *entity.Collection
	TimerType  *entity.TimerTypeSelect

	Fetcher  coordinator.TimerFetcher
	Commands *command.Client
	Hub      entity.Broadcaster
	Clock    scheduler.Clock
	Logger   Logger

	// Audit records discovery cache changes and MQTT service calls.
	Audit audit.Recorder
}

// Integration is the application context of one running instance.
//
// Thread Safety: All methods are safe for concurrent use.
type Integration struct {
	settings   Settings
	sources    []discovery.Source
	cache      *discovery.Cache
	coords     *discovery.Coordinators
	reconciler *discovery.Reconciler
	queue      *scheduler.Queue
	fetcher    coordinator.TimerFetcher
	commands   *command.Client
	collection *entity.Collection
	timerType  *entity.TimerTypeSelect
	hub        entity.Broadcaster
	audit      audit.Recorder
	logger     Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	events chan discovery.Event
	wg     sync.WaitGroup

	mu          sync.Mutex
	started     bool
	unloaded    bool
	subscriber  discovery.Subscriber
	stopWatcher func() bool
	unloadOnce  sync.Once
}

// New creates an Integration. Nothing runs until Start.
func New(opts Options) (*Integration, error) {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	settings := opts.Settings.withDefaults()
	if opts.Fetcher == nil {
		opts.Fetcher = coordinator.NewFetcher(nil, settings.RequestTimeout)
	}
	if opts.Commands == nil {
		opts.Commands = command.NewClient(nil, settings.CommandTimeout, opts.Logger)
	}
	if opts.TimerType == nil {
		opts.TimerType = entity.NewTimerTypeSelect(nil, "")
	}

	ctx, cancel := context.WithCancel(context.Background())
	i := &Integration{
		settings:   settings,
		sources:    opts.Sources,
		cache:      discovery.NewCache(nil),
		coords:     discovery.NewCoordinators(),
		queue:      scheduler.NewQueue(opts.Clock),
		fetcher:    opts.Fetcher,
		commands:   opts.Commands,
		collection: opts.Collection,
		timerType:  opts.TimerType,
		hub:        opts.Hub,
		audit:      opts.Audit,
		logger:     opts.Logger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan discovery.Event, eventBuffer),
	}

	recOpts := discovery.ReconcilerOptions{
		Cache:        i.cache,
		Coordinators: i.coords,
		Factory:      i.newCoordinator,
		Activate:     func(c *coordinator.Coordinator) { c.Start(i.ctx) },
		Logger:       opts.Logger,
	}
	if opts.Collection != nil {
		recOpts.Adder = opts.Collection
	}
	rec, err := discovery.NewReconciler(recOpts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating reconciler: %w", err)
	}
	i.reconciler = rec
	return i, nil
}

func (i *Integration) newCoordinator(dev device.Device) (*coordinator.Coordinator, error) {
	return coordinator.New(coordinator.Options{
		Device:           dev,
		Queue:            i.queue,
		Fetcher:          i.fetcher,
		Interval:         i.settings.PollInterval,
		FailureThreshold: i.settings.FailureThreshold,
		PostExpiryDelay:  i.settings.PostExpiryDelay,
		RequestTimeout:   i.settings.RequestTimeout,
		Logger:           i.logger,
	})
}

// Start runs the timer queue, the event loop and every discovery source.
// Cancelling ctx has the same effect as Unload.
func (i *Integration) Start(ctx context.Context) {
	i.mu.Lock()
	if i.started || i.unloaded {
		i.mu.Unlock()
		return
	}
	i.started = true
	i.stopWatcher = context.AfterFunc(ctx, i.cancel)
	i.mu.Unlock()

	i.wg.Add(2)
	go func() {
		defer i.wg.Done()
		i.queue.Run(i.ctx)
	}()
	go func() {
		defer i.wg.Done()
		i.eventLoop()
	}()

	for _, src := range i.sources {
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			i.logger.Info("discovery source started", "source", src.Name())
			if err := src.Run(i.ctx, i.emit); err != nil {
				i.logger.Error("discovery source stopped", "source", src.Name(), "error", err)
			}
		}()
	}
	i.logger.Info("integration started", "sources", len(i.sources))
}

func (i *Integration) emit(ev discovery.Event) {
	if err := i.Submit(ev); err != nil && !errors.Is(err, ErrNotRunning) {
		i.logger.Warn("discovery event rejected", "source", ev.Source, "error", err)
	}
}

// Submit queues a discovery event for the event loop.
func (i *Integration) Submit(ev discovery.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	i.mu.Lock()
	running := i.started && !i.unloaded
	i.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case i.events <- ev:
		return nil
	case <-i.ctx.Done():
		return ErrNotRunning
	}
}

func (i *Integration) eventLoop() {
	for {
		select {
		case <-i.ctx.Done():
			return
		case ev := <-i.events:
			if err := i.HandleEvent(i.ctx, ev); err != nil {
				i.logger.Warn("handling discovery event failed", "event", ev.Type, "device", ev.CleanName(), "error", err)
			}
		}
	}
}

// HandleEvent applies one discovery event. Added upserts the cache and runs
// a reconciliation pass; Removed drops the cache entry only, the device's
// coordinator and entity stay.
func (i *Integration) HandleEvent(ctx context.Context, ev discovery.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if i.hub != nil {
		i.hub.Broadcast(ChannelDiscovery, ev)
	}

	switch ev.Type {
	case discovery.EventAdded:
		dev := ev.Device()
		if i.cache.Add(dev) {
			i.logger.Info("device discovered", "device", dev.Name, "address", dev.HostPort(), "source", ev.Source)
			i.recordAudit(ctx, &audit.AuditLog{
				Action:  audit.ActionDeviceAdded,
				Target:  dev.Name,
				Source:  ev.Source,
				Details: map[string]any{"address": dev.HostPort(), "unique_id": dev.UniqueID},
			})
		}
		_, err := i.Reconcile(ctx)
		return err
	case discovery.EventRemoved:
		if !i.cache.Remove(ev.Name) {
			return fmt.Errorf("%w: %s", discovery.ErrDeviceNotFound, ev.CleanName())
		}
		i.logger.Info("device removed", "device", ev.CleanName(), "source", ev.Source)
		i.recordAudit(ctx, &audit.AuditLog{
			Action: audit.ActionDeviceRemoved,
			Target: ev.CleanName(),
			Source: ev.Source,
		})
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", discovery.ErrInvalidEvent, ev.Type)
	}
}

// recordAudit writes an audit entry when a recorder is configured. A failed
// write is logged and never fails the operation being audited.
func (i *Integration) recordAudit(ctx context.Context, log *audit.AuditLog) {
	if i.audit == nil {
		return
	}
	if err := i.audit.Record(context.WithoutCancel(ctx), log); err != nil {
		i.logger.Warn("audit write failed", "action", log.Action, "error", err)
	}
}

// Reconcile runs one reconciliation pass and returns how many entities
// were added.
func (i *Integration) Reconcile(ctx context.Context) (int, error) {
	return i.reconciler.TryAddNewEntities(ctx)
}

// Devices returns the discovery cache ordered by name.
func (i *Integration) Devices() []discovery.Entry {
	return i.cache.Entries()
}

// Device returns the cached device with the given raw or clean name.
func (i *Integration) Device(name string) (discovery.Entry, bool) {
	return i.cache.Get(device.CleanName(name))
}

// Coordinators returns every coordinator ordered by device name.
func (i *Integration) Coordinators() []*coordinator.Coordinator {
	return i.coords.All()
}

// Coordinator returns the coordinator for an entity unique ID.
func (i *Integration) Coordinator(uniqueID string) (*coordinator.Coordinator, bool) {
	return i.coords.ByUniqueID(uniqueID)
}

// Collection returns the entity collection, which may be nil.
func (i *Integration) Collection() *entity.Collection {
	return i.collection
}

// TimerType returns the timer type selection.
func (i *Integration) TimerType() *entity.TimerTypeSelect {
	return i.timerType
}

// Unload cancels every post-expiry job, stops all coordinator loops, the
// queue, the sources and the event loop, and closes idle HTTP connections.
// It is safe to call more than once.
func (i *Integration) Unload() {
	i.unloadOnce.Do(func() {
		i.mu.Lock()
		i.unloaded = true
		sub := i.subscriber
		i.subscriber = nil
		stopWatcher := i.stopWatcher
		i.mu.Unlock()

		if sub != nil {
			if err := sub.Unsubscribe(commandTopic()); err != nil {
				i.logger.Debug("unsubscribing command topic failed", "error", err)
			}
		}

		i.cancel()
		if stopWatcher != nil {
			stopWatcher()
		}
		i.wg.Wait()

		coords := i.coords.Drain()
		for _, c := range coords {
			c.Stop()
		}
		i.queue.Clear()

		if i.collection != nil {
			i.collection.Close()
		}
		if closer, ok := i.fetcher.(interface{ CloseIdleConnections() }); ok {
			closer.CloseIdleConnections()
		}
		i.commands.CloseIdleConnections()

		i.logger.Info("integration unloaded", "coordinators", len(coords))
	})
}
