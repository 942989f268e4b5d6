package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/timerly-core/internal/audit"
	"github.com/nerrad567/timerly-core/internal/coordinator"
	"github.com/nerrad567/timerly-core/internal/discovery"
	"github.com/nerrad567/timerly-core/internal/entity"
	"github.com/nerrad567/timerly-core/internal/infrastructure/config"
	"github.com/nerrad567/timerly-core/internal/infrastructure/database"
	"github.com/nerrad567/timerly-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Application is the part of the integration the API drives.
// *integration.Integration satisfies it.
type Application interface {
	Devices() []discovery.Entry
	Device(name string) (discovery.Entry, bool)
	Submit(ev discovery.Event) error
	Reconcile(ctx context.Context) (int, error)
	Collection() *entity.Collection
	Coordinators() []*coordinator.Coordinator
	RefreshEntity(ctx context.Context, uniqueID string) error
	CallService(ctx context.Context, service string, body []byte) error
	TimerType() *entity.TimerTypeSelect
}

// ConnectionChecker reports broker connectivity for /metrics.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	App      Application
	Registry entity.Registry          // optional
	History  entity.HistoryRepository // optional
	Audit    audit.Repository         // optional
	MQTT     ConnectionChecker        // optional
	DB       *database.DB             // optional
	Hub      *Hub                     // If set, the server uses this hub instead of creating its own
	Version  string
}

// Server is the HTTP API server for the Timerly daemon.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	app      Application
	registry entity.Registry
	history  entity.HistoryRepository
	mqtt     ConnectionChecker
	db       *database.DB
	version  string
	started  time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool
	tickets     *ticketStore
	cancel      context.CancelFunc

	auditRepo audit.Repository
	auditCh   chan *audit.AuditLog

	closeOnce sync.Once
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.App == nil {
		return nil, fmt.Errorf("application is required")
	}
	if deps.Security.JWT.Enabled && deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required when jwt is enabled")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger.Component("api"),
		app:      deps.App,
		registry: deps.Registry,
		history:  deps.History,
		mqtt:     deps.MQTT,
		db:       deps.DB,
		version:  deps.Version,
		started:  time.Now(),
		tickets:  newTicketStore(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
		s.registerSnapshots()
	}
	if deps.Audit != nil {
		s.auditRepo = deps.Audit
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	return s, nil
}

// registerSnapshots gives new entity.state subscribers the current states.
func (s *Server) registerSnapshots() {
	s.hub.SetSnapshot(entity.ChannelState, func() any {
		col := s.app.Collection()
		if col == nil {
			return []entity.State{}
		}
		return col.States()
	})
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		s.registerSnapshots()
		go s.hub.Run(srvCtx)
	}

	go s.tickets.cleanLoop(srvCtx)
	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.server == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down API server: %w", shutdownErr)
		}
	})
	return err
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
