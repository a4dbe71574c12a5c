package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/loggergw/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Logger is the logging interface used by the mirror.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// pointWriter is the part of api.WriteAPI the mirror drives.
type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Stats is a snapshot of mirror counters for the metrics endpoint.
type Stats struct {
	Connected      bool   `json:"connected"`
	PointsQueued   uint64 `json:"points_queued"`
	WriteErrors    uint64 `json:"write_errors"`
	LastWriteError string `json:"last_write_error,omitempty"`
}

// Client mirrors committed readings into an InfluxDB v2 bucket.
//
// Writes go through the library's batching WriteAPI and never block
// ingestion. Failed batches surface on the API's error channel and are
// counted and logged here. Every point carries the configured site_id.
type Client struct {
	client influxdb2.Client
	writer pointWriter
	bucket string

	connected atomic.Bool
	queued    atomic.Uint64
	failures  atomic.Uint64

	mu        sync.RWMutex
	lastError string
	logger    Logger
}

// Connect pings the server and prepares the non-blocking write API.
// siteID, when set, becomes a default site_id tag on every point.
// It returns ErrDisabled when the mirror is switched off.
func Connect(cfg config.InfluxDBConfig, siteID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive; flush interval is in milliseconds
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval) * 1000)
	if siteID != "" {
		opts.AddDefaultTag("site_id", siteID)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(writeAPI, cfg.Bucket)
	c.client = client
	go c.watchErrors(writeAPI.Errors())
	return c, nil
}

func newClient(w pointWriter, bucket string) *Client {
	c := &Client{writer: w, bucket: bucket, logger: noopLogger{}}
	c.connected.Store(true)
	return c
}

// SetLogger sets the logger used for asynchronous write failures.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// watchErrors drains the write API's error channel until it is closed.
func (c *Client) watchErrors(errs <-chan error) {
	for err := range errs {
		c.recordWriteError(err)
	}
}

func (c *Client) recordWriteError(err error) {
	c.failures.Add(1)
	c.mu.Lock()
	c.lastError = err.Error()
	logger := c.logger
	c.mu.Unlock()
	logger.Error("influxdb mirror write failed", "bucket", c.bucket, "error", err)
}

// Stats returns the mirror counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	last := c.lastError
	c.mu.RUnlock()
	return Stats{
		Connected:      c.IsConnected(),
		PointsQueued:   c.queued.Load(),
		WriteErrors:    c.failures.Load(),
		LastWriteError: last,
	}
}

// IsConnected reports whether the mirror still accepts points.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// Flush blocks until buffered points are sent. It is a no-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Close flushes pending points and releases the client. Points written
// afterwards are dropped.
func (c *Client) Close() error {
	if !c.connected.Swap(false) {
		return nil
	}
	c.writer.Flush()
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

func (c *Client) writePoint(p *write.Point) {
	if p == nil || !c.IsConnected() {
		return
	}
	c.queued.Add(1)
	c.writer.WritePoint(p)
}
