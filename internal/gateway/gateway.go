package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/loggergw/internal/adapter"
	"github.com/nerrad567/loggergw/internal/command"
	"github.com/nerrad567/loggergw/internal/deadletter"
	"github.com/nerrad567/loggergw/internal/device"
	"github.com/nerrad567/loggergw/internal/ingestion"
)

// defaultUploadInterval is reported when neither the device nor the
// configuration names one (seconds).
const defaultUploadInterval = 600

// Logger defines the logging interface used by this package.
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

// DeviceFinder resolves check-in identifiers to registered devices.
// *device.SQLiteRepository satisfies it.
type DeviceFinder interface {
	FindByUID(ctx context.Context, uid string) (*device.Device, error)
	FindByUIDOrCode(ctx context.Context, identifier string) (*device.Device, error)
}

// Ingestor stores parsed batches and records check-ins.
// *ingestion.Service satisfies it.
type Ingestor interface {
	IngestBatches(ctx context.Context, d *device.Device, batches []adapter.Batch) ([]ingestion.StoredBatch, error)
	MarkOnline(ctx context.Context, d *device.Device) error
}

// CommandQueue is the part of the config command queue a check-in drives.
// *command.Queue satisfies it.
type CommandQueue interface {
	OutstandingFor(ctx context.Context, deviceID string) (*command.Request, error)
	NextPendingFor(ctx context.Context, deviceID string) (*command.Request, error)
	MarkSent(ctx context.Context, req *command.Request, cmd string) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkConfirmedLatestSentFor(ctx context.Context, deviceID string) (*command.Request, error)
	MarkFailedLatestSentFor(ctx context.Context, deviceID, reason string) (*command.Request, error)
}

// FailureTracker is told about every ingestion outcome. RecordFailure must
// not block on delivery. *deadletter.Tracker satisfies it.
type FailureTracker interface {
	RecordSuccess(vendor device.Vendor, deviceUID string)
	RecordFailure(e deadletter.Entry) bool
}

// Deps holds the collaborators of the gateway.
type Deps struct {
	Devices   DeviceFinder
	Ingestion Ingestor
	Queue     CommandQueue
	Adapters  *adapter.Factory

	// DeadLetters is optional.
	DeadLetters FailureTracker

	// DefaultUploadInterval is reported for devices without their own
	// upload interval (seconds). Zero means 600.
	DefaultUploadInterval int

	Logger Logger
}

// Stats is a snapshot of gateway counters.
type Stats struct {
	CheckIns          uint64 `json:"check_ins"`
	TimeSyncs         uint64 `json:"time_syncs"`
	Rejected          uint64 `json:"rejected"`
	UnknownDevices    uint64 `json:"unknown_devices"`
	IngestionFailures uint64 `json:"ingestion_failures"`
	BatchesIngested   uint64 `json:"batches_ingested"`
	AcksConfirmed     uint64 `json:"acks_confirmed"`
	AcksFailed        uint64 `json:"acks_failed"`
	CommandsSent      uint64 `json:"commands_sent"`
	CommandsFailed    uint64 `json:"commands_failed"`
}

type counters struct {
	checkIns          atomic.Uint64
	timeSyncs         atomic.Uint64
	rejected          atomic.Uint64
	unknownDevices    atomic.Uint64
	ingestionFailures atomic.Uint64
	batchesIngested   atomic.Uint64
	acksConfirmed     atomic.Uint64
	acksFailed        atomic.Uint64
	commandsSent      atomic.Uint64
	commandsFailed    atomic.Uint64
}

// Gateway serves the five vendor check-in endpoints.
//
// Thread Safety:
//   - Safe for concurrent use. Adapters are shared and stateless; all
//     mutable state lives behind the queue and ingestion collaborators.
type Gateway struct {
	devices        DeviceFinder
	ingestion      Ingestor
	queue          CommandQueue
	adapters       *adapter.Factory
	deadLetters    FailureTracker
	uploadInterval int
	logger         Logger
	stats          counters

	// now is replaced in tests.
	now func() time.Time
}

// New creates a gateway.
func New(deps Deps) (*Gateway, error) {
	if deps.Devices == nil {
		return nil, errors.New("gateway: device finder is required")
	}
	if deps.Ingestion == nil {
		return nil, errors.New("gateway: ingestion is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("gateway: command queue is required")
	}

	g := &Gateway{
		devices:        deps.Devices,
		ingestion:      deps.Ingestion,
		queue:          deps.Queue,
		adapters:       deps.Adapters,
		deadLetters:    deps.DeadLetters,
		uploadInterval: deps.DefaultUploadInterval,
		logger:         deps.Logger,
		now:            time.Now,
	}
	if g.adapters == nil {
		g.adapters = adapter.NewFactory()
	}
	if g.uploadInterval <= 0 {
		g.uploadInterval = defaultUploadInterval
	}
	if g.logger == nil {
		g.logger = noopLogger{}
	}
	return g, nil
}

// Routes returns a router with one POST route per vendor:
//
//	POST /zion, /tzone, /ideabyte, /aliter, /sunsui
func (g *Gateway) Routes() chi.Router {
	r := chi.NewRouter()
	for _, ep := range endpoints() {
		r.Post("/"+string(ep.vendor), g.handle(ep))
	}
	return r
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		CheckIns:          g.stats.checkIns.Load(),
		TimeSyncs:         g.stats.timeSyncs.Load(),
		Rejected:          g.stats.rejected.Load(),
		UnknownDevices:    g.stats.unknownDevices.Load(),
		IngestionFailures: g.stats.ingestionFailures.Load(),
		BatchesIngested:   g.stats.batchesIngested.Load(),
		AcksConfirmed:     g.stats.acksConfirmed.Load(),
		AcksFailed:        g.stats.acksFailed.Load(),
		CommandsSent:      g.stats.commandsSent.Load(),
		CommandsFailed:    g.stats.commandsFailed.Load(),
	}
}
