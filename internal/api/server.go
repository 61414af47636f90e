package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/launchdarkly/eventsource"

	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/history"
	"github.com/correomqtt/correo-core/internal/infrastructure/config"
	"github.com/correomqtt/correo-core/internal/infrastructure/database"
	"github.com/correomqtt/correo-core/internal/infrastructure/logging"
	"github.com/correomqtt/correo-core/internal/message"
	"github.com/correomqtt/correo-core/internal/session"
	"github.com/correomqtt/correo-core/internal/subscription"
	"github.com/correomqtt/correo-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Sessions is the session control the API exposes. *session.Manager
// implements it.
type Sessions interface {
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string) error
	Subscribe(ctx context.Context, id, topic string, qos byte) (subscription.Subscription, error)
	Unsubscribe(ctx context.Context, id, topic string) error
	UnsubscribeAll(ctx context.Context, id string) error
	Subscriptions(id string) ([]subscription.Subscription, error)
	Publish(ctx context.Context, id, topic string, payload []byte, qos byte, retained bool) (message.Message, error)
	Statuses() []session.Status
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Bus      *event.Bus
	Sessions Sessions

	// History serves the history endpoints. Optional.
	History history.Store

	// Counters reports telemetry totals for /metrics. Optional.
	Counters func() telemetry.Counters

	// DB reports pool statistics for /metrics. Optional.
	DB *database.DB

	// DefaultQoS applies to subscribe and publish requests without a qos.
	DefaultQoS byte

	Version string
}

// Server is the HTTP control API of the correo daemon.
//
// New registers the server's event relay on the bus, so WebSocket and SSE
// clients see events as soon as they connect; Start only opens the
// listener.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	bus       *event.Bus
	sessions  Sessions
	history   history.Store
	counters  func() telemetry.Counters
	db        *database.DB
	qos       byte
	version   string
	startTime time.Time

	hub    *Hub
	sse    *eventsource.Server
	relay  *relay
	server *http.Server
	cancel context.CancelFunc
}

// New creates an API server with the given dependencies.
//
// Returns an error if a required dependency is missing or the event relay
// cannot be registered.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("event bus is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("sessions are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		bus:       deps.Bus,
		sessions:  deps.Sessions,
		history:   deps.History,
		counters:  deps.Counters,
		db:        deps.DB,
		qos:       deps.DefaultQoS,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		sse:       eventsource.NewServer(),
	}
	s.sse.AllowCORS = len(deps.Config.CORS.AllowedOrigins) == 0
	s.relay = &relay{hub: s.hub, sse: s.sse, logger: deps.Logger}

	if err := s.bus.Register(s.relay); err != nil {
		return nil, fmt.Errorf("registering event relay: %w", err)
	}
	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Timeouts.Read,
		ReadHeaderTimeout: s.cfg.Timeouts.Read,
		WriteTimeout:      s.cfg.Timeouts.Write,
		IdleTimeout:       s.cfg.Timeouts.Idle,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close detaches the server from the bus, closes streaming clients and
// shuts the listener down, waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	s.bus.Unregister(s.relay)
	if s.cancel != nil {
		s.cancel()
	} else {
		s.hub.closeAll()
	}
	s.sse.Close()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
