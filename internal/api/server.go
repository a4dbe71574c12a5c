// Package api provides the operator HTTP API and WebSocket server for the
// logger gateway.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/loggergw/internal/command"
	"github.com/nerrad567/loggergw/internal/device"
	"github.com/nerrad567/loggergw/internal/gateway"
	"github.com/nerrad567/loggergw/internal/infrastructure/config"
	"github.com/nerrad567/loggergw/internal/infrastructure/influxdb"
	"github.com/nerrad567/loggergw/internal/infrastructure/logging"
	"github.com/nerrad567/loggergw/internal/ingestion"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceStore is the device surface the API needs: lookups for operators
// and registration for admins. *device.SQLiteRepository satisfies it.
type DeviceStore interface {
	FindByUID(ctx context.Context, uid string) (*device.Device, error)
	List(ctx context.Context) ([]device.Device, error)
	Create(ctx context.Context, d *device.Device) error
	CreateHardwareModel(ctx context.Context, m *device.HardwareModel) error
}

// ConfigQueue is the operator side of the configuration command queue.
type ConfigQueue interface {
	Enqueue(ctx context.Context, deviceID string, config map[string]any, priority int) (*command.Request, error)
	Get(ctx context.Context, id string) (*command.Request, error)
	ListForDevice(ctx context.Context, deviceID string, limit int) ([]command.Request, error)
	MarkFailed(ctx context.Context, id, reason string) error
}

// ReadingStore returns recently ingested batches.
type ReadingStore interface {
	RecentBatches(ctx context.Context, deviceID string, limit int) ([]ingestion.StoredBatch, error)
}

// CheckInRoutes is the device-facing router mounted under /gateway.
type CheckInRoutes interface {
	Routes() chi.Router
	Stats() gateway.Stats
}

// ConnectionChecker reports broker connectivity for metrics.
type ConnectionChecker interface {
	IsConnected() bool
}

// MirrorStats reports the time-series mirror counters for metrics.
// *influxdb.Client satisfies it.
type MirrorStats interface {
	Stats() influxdb.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Devices  DeviceStore
	Queue    ConfigQueue
	Gateway  CheckInRoutes

	// Optional collaborators.
	Readings ReadingStore
	MQTT     ConnectionChecker
	Mirror   MirrorStats
	DB       *sql.DB

	// Hub, if set, is used instead of creating one. The event bus needs
	// the hub before the server starts.
	Hub *Hub

	Version string
}

// Server is the HTTP API server for the gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	devices     DeviceStore
	queue       ConfigQueue
	gateway     CheckInRoutes
	readings    ReadingStore
	mqtt        ConnectionChecker
	mirror      MirrorStats
	db          *sql.DB
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool
	startTime   time.Time
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("config queue is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		devices:   deps.Devices,
		queue:     deps.Queue,
		gateway:   deps.Gateway,
		readings:  deps.Readings,
		mqtt:      deps.MQTT,
		mirror:    deps.Mirror,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub used by the server.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected) and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
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
		return fmt.Errorf("api server not started")
	}

	return nil
}
