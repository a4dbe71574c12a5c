package deadletter

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/loggergw/internal/device"
)

// DefaultThreshold is used when a non-positive threshold is configured.
const DefaultThreshold = 3

const (
	// queueSize bounds entries waiting for the sink. Entries beyond it are
	// dropped and logged.
	queueSize = 64

	// sendTimeout bounds one sink delivery.
	sendTimeout = 10 * time.Second
)

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

// Entry is one dead-lettered check-in.
type Entry struct {
	Vendor     device.Vendor `json:"vendor"`
	DeviceUID  string        `json:"device_uid"`
	Failures   int           `json:"failures"`
	LastError  string        `json:"last_error"`
	Query      string        `json:"query,omitempty"`
	Payload    string        `json:"payload"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Sink delivers dead-lettered entries somewhere an operator can replay them.
type Sink interface {
	Send(ctx context.Context, e Entry) error
}

// Tracker counts consecutive ingestion failures per device and hands the
// failing payload to a Sink once the threshold is reached.
//
// Delivery happens on a background goroutine started by Start, so a slow or
// unreachable sink never holds up the check-in that tripped the threshold.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Tracker struct {
	threshold int
	sink      Sink
	logger    Logger

	mu     sync.Mutex
	counts map[string]int
	closed bool

	queue chan Entry
	wg    sync.WaitGroup
}

// NewTracker creates a tracker. A nil sink counts failures and logs at the
// threshold without forwarding anything.
func NewTracker(threshold int, sink Sink) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		threshold: threshold,
		sink:      sink,
		logger:    noopLogger{},
		counts:    make(map[string]int),
		queue:     make(chan Entry, queueSize),
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Start launches the delivery goroutine. Sink writes derive their deadline
// from ctx, not from the request that produced the entry.
func (t *Tracker) Start(ctx context.Context) {
	if t.sink == nil {
		return
	}
	t.wg.Add(1)
	go t.deliver(ctx)
}

// Stop stops accepting entries and waits for queued ones to be delivered.
// It is safe to call more than once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// RecordSuccess clears the failure streak of a device.
func (t *Tracker) RecordSuccess(vendor device.Vendor, deviceUID string) {
	t.mu.Lock()
	delete(t.counts, key(vendor, deviceUID))
	t.mu.Unlock()
}

// RecordFailure counts a failed ingestion. When the streak reaches the
// threshold the entry is queued for the sink and the streak restarts.
// It never waits on the sink and reports whether the entry was queued.
func (t *Tracker) RecordFailure(e Entry) bool {
	k := key(e.Vendor, e.DeviceUID)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[k]++
	count := t.counts[k]
	if count < t.threshold {
		return false
	}
	delete(t.counts, k)

	e.Failures = count
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	if t.sink == nil {
		t.logger.Warn("ingestion failure threshold reached, no dead-letter sink configured",
			"vendor", e.Vendor,
			"device_uid", e.DeviceUID,
			"failures", count,
		)
		return false
	}
	if t.closed {
		t.logger.Warn("dead-letter tracker stopped, entry dropped",
			"vendor", e.Vendor,
			"device_uid", e.DeviceUID,
		)
		return false
	}

	select {
	case t.queue <- e:
		return true
	default:
		t.logger.Error("dead-letter queue full, entry dropped",
			"vendor", e.Vendor,
			"device_uid", e.DeviceUID,
			"failures", count,
		)
		return false
	}
}

// Failures returns the current streak of a device.
func (t *Tracker) Failures(vendor device.Vendor, deviceUID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[key(vendor, deviceUID)]
}

func (t *Tracker) deliver(ctx context.Context) {
	defer t.wg.Done()
	for e := range t.queue {
		t.send(ctx, e)
	}
}

func (t *Tracker) send(ctx context.Context, e Entry) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := t.sink.Send(sendCtx, e); err != nil {
		t.logger.Error("dead-letter delivery failed",
			"vendor", e.Vendor,
			"device_uid", e.DeviceUID,
			"error", err,
		)
		return
	}
	t.logger.Warn("payload dead-lettered",
		"vendor", e.Vendor,
		"device_uid", e.DeviceUID,
		"failures", e.Failures,
	)
}

func key(vendor device.Vendor, deviceUID string) string {
	return string(vendor) + "/" + deviceUID
}
