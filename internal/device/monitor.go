package device

import (
	"context"
	"sync"
	"time"
)

// Logger defines the logging interface used by this package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatusListener is notified when a device changes between online and offline.
type StatusListener interface {
	DeviceStatusChanged(ctx context.Context, d *Device, status Status)
}

// MonitorConfig holds configuration for the offline monitor.
type MonitorConfig struct {
	// OfflineAfter is how long a device may stay silent before it is
	// considered offline.
	OfflineAfter time.Duration

	// Interval is how often stale devices are swept.
	// Default: 1 minute.
	Interval time.Duration

	// Listener receives status transitions. Optional.
	Listener StatusListener
}

// Monitor periodically marks silent devices offline.
type Monitor struct {
	repo     Repository
	after    time.Duration
	interval time.Duration
	listener StatusListener
	logger   Logger

	// now is replaced in tests.
	now func() time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMonitor creates an offline monitor. Call Start to begin sweeping.
func NewMonitor(repo Repository, cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		repo:     repo,
		after:    cfg.OfflineAfter,
		interval: interval,
		listener: cfg.Listener,
		logger:   noopLogger{},
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// Start begins periodic sweeps until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
// Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

// Sweep marks every stale online device offline and returns how many changed.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.after)
	stale, err := m.repo.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range stale {
		d := &stale[i]
		ok, err := m.repo.MarkOffline(ctx, d.ID)
		if err != nil {
			m.logger.Error("marking device offline", "device_uid", d.UID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		changed++
		d.Status = StatusOffline
		m.logger.Info("device offline", "device_uid", d.UID, "last_seen_at", d.LastSeenAt)
		if m.listener != nil {
			m.listener.DeviceStatusChanged(ctx, d, StatusOffline)
		}
	}
	return changed, nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error("offline sweep failed", "error", err)
			}
		}
	}
}
