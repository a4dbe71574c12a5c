package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the queue.
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

// Listener is notified after a request changes status.
type Listener interface {
	ConfigRequestChanged(ctx context.Context, r *Request)
}

// Queue is the configuration command state machine.
//
// Every transition is a conditional update on the current status, so a
// retried check-in that confirms an already confirmed request changes
// nothing.
//
// Failed has two causes besides an explicit rejection: the vendor cannot
// express the config, or a newer request was sent to a device that never
// acknowledges (reason "superseded by <id>").
type Queue struct {
	repo      Repository
	validator *ConfigValidator
	listener  Listener
	logger    Logger
	now       func() time.Time
}

// NewQueue creates a queue over repo.
func NewQueue(repo Repository) (*Queue, error) {
	validator, err := NewConfigValidator()
	if err != nil {
		return nil, err
	}
	return &Queue{
		repo:      repo,
		validator: validator,
		logger:    noopLogger{},
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// SetListener registers the status change listener.
func (q *Queue) SetListener(l Listener) {
	q.listener = l
}

// Enqueue validates config and stores it as a Pending request.
func (q *Queue) Enqueue(ctx context.Context, deviceID string, config map[string]any, priority int) (*Request, error) {
	if err := q.validator.Validate(config); err != nil {
		return nil, err
	}

	req := &Request{
		ID:              uuid.New().String(),
		DeviceID:        deviceID,
		RequestedConfig: config,
		Priority:        priority,
		Status:          StatusPending,
		CreatedAt:       q.now(),
	}
	if err := q.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	q.logger.Info("config request queued", "request_id", req.ID, "device_id", deviceID, "priority", priority)
	q.notify(ctx, req)
	return req, nil
}

// Get retrieves a request by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Request, error) {
	return q.repo.GetByID(ctx, id)
}

// ListForDevice returns the device's requests, newest first.
func (q *Queue) ListForDevice(ctx context.Context, deviceID string, limit int) ([]Request, error) {
	return q.repo.ListForDevice(ctx, deviceID, limit)
}

// NextPendingFor returns the request to deliver on this check-in, or nil
// when the device has nothing pending. Requests already Sent are never
// offered again.
func (q *Queue) NextPendingFor(ctx context.Context, deviceID string) (*Request, error) {
	req, err := q.repo.NextPending(ctx, deviceID)
	if errors.Is(err, ErrRequestNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting pending request: %w", err)
	}
	return req, nil
}

// OutstandingFor returns the device's Sent request still awaiting an ack,
// or nil when there is none.
func (q *Queue) OutstandingFor(ctx context.Context, deviceID string) (*Request, error) {
	req, err := q.repo.LatestSent(ctx, deviceID)
	if errors.Is(err, ErrRequestNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting sent request: %w", err)
	}
	return req, nil
}

// MarkSent records that command was embedded in a response for req and
// fails any older Sent request of the device with "superseded by <id>".
// Returns ErrInvalidTransition if req is no longer Pending.
//
// Superseding only happens for vendors that never acknowledge: the gateway
// holds new commands back while an acknowledging device has one
// outstanding, so a late ack cannot confirm a newer request.
func (q *Queue) MarkSent(ctx context.Context, req *Request, command string) error {
	at := q.now()
	ok, superseded, err := q.repo.MarkSent(ctx, req.ID, req.DeviceID, command, at)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is no longer pending", ErrInvalidTransition, req.ID)
	}

	req.Status = StatusSent
	req.Command = &command
	req.SentAt = &at
	q.logger.Info("config request sent", "request_id", req.ID, "device_id", req.DeviceID)
	q.notify(ctx, req)

	for _, id := range superseded {
		q.logger.Warn("config request superseded", "request_id", id, "superseded_by", req.ID)
		q.notifyByID(ctx, id)
	}
	return nil
}

// MarkFailed fails a Pending or Sent request with reason.
// Returns ErrInvalidTransition if the request is already terminal.
func (q *Queue) MarkFailed(ctx context.Context, id, reason string) error {
	req, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidateTransition(req.Status, StatusFailed); err != nil {
		return err
	}

	ok, err := q.repo.Resolve(ctx, id, req.Status, StatusFailed, &reason, q.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}

	q.logger.Warn("config request failed", "request_id", id, "device_id", req.DeviceID, "reason", reason)
	q.notifyByID(ctx, id)
	return nil
}

// MarkConfirmedLatestSentFor confirms the device's outstanding Sent
// request. It returns the confirmed request, or nil when there was nothing
// to confirm.
func (q *Queue) MarkConfirmedLatestSentFor(ctx context.Context, deviceID string) (*Request, error) {
	return q.resolveLatestSent(ctx, deviceID, StatusConfirmed, nil)
}

// MarkFailedLatestSentFor fails the device's outstanding Sent request with
// reason. It returns the failed request, or nil when there was nothing to fail.
func (q *Queue) MarkFailedLatestSentFor(ctx context.Context, deviceID, reason string) (*Request, error) {
	return q.resolveLatestSent(ctx, deviceID, StatusFailed, &reason)
}

func (q *Queue) resolveLatestSent(ctx context.Context, deviceID string, to Status, reason *string) (*Request, error) {
	req, err := q.repo.LatestSent(ctx, deviceID)
	if errors.Is(err, ErrRequestNotFound) {
		q.logger.Debug("ack without outstanding request", "device_id", deviceID, "result", to)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting sent request: %w", err)
	}

	ok, err := q.repo.Resolve(ctx, req.ID, StatusSent, to, reason, q.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	updated, err := q.repo.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	q.logger.Info("config request resolved", "request_id", req.ID, "device_id", deviceID, "status", to)
	q.notify(ctx, updated)
	return updated, nil
}

func (q *Queue) notifyByID(ctx context.Context, id string) {
	if q.listener == nil {
		return
	}
	req, err := q.repo.GetByID(ctx, id)
	if err != nil {
		q.logger.Error("loading request for notification", "request_id", id, "error", err)
		return
	}
	q.notify(ctx, req)
}

func (q *Queue) notify(ctx context.Context, req *Request) {
	if q.listener != nil {
		q.listener.ConfigRequestChanged(ctx, req)
	}
}
