package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Repository defines persistence for configuration requests.
type Repository interface {
	// Create inserts a new request.
	Create(ctx context.Context, r *Request) error

	// GetByID retrieves a request. Returns ErrRequestNotFound if missing.
	GetByID(ctx context.Context, id string) (*Request, error)

	// NextPending returns the highest-priority, oldest Pending request for
	// the device. Returns ErrRequestNotFound when nothing is pending.
	NextPending(ctx context.Context, deviceID string) (*Request, error)

	// LatestSent returns the most recently sent request still in Sent.
	// Returns ErrRequestNotFound when none is outstanding.
	LatestSent(ctx context.Context, deviceID string) (*Request, error)

	// ListForDevice returns the device's requests, newest first.
	ListForDevice(ctx context.Context, deviceID string, limit int) ([]Request, error)

	// MarkSent moves a Pending request to Sent and fails any other Sent
	// request of the same device as superseded, atomically. It reports
	// whether the request was still Pending and returns the superseded IDs.
	MarkSent(ctx context.Context, id, deviceID, command string, at time.Time) (bool, []string, error)

	// Resolve moves a request from one status to another only if it is
	// still in the expected status. It reports whether a row changed.
	Resolve(ctx context.Context, id string, from, to Status, reason *string, at time.Time) (bool, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectRequest = `
	SELECT id, device_id, requested_config, priority, status, command, error,
		created_at, sent_at, resolved_at
	FROM config_requests`

// Create inserts a new request.
func (r *SQLiteRepository) Create(ctx context.Context, req *Request) error {
	cfgJSON, err := json.Marshal(req.RequestedConfig)
	if err != nil {
		return fmt.Errorf("marshalling requested_config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO config_requests (
			id, device_id, requested_config, priority, status, command, error,
			created_at, sent_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.DeviceID,
		string(cfgJSON),
		req.Priority,
		string(req.Status),
		nullableString(req.Command),
		nullableString(req.Error),
		req.CreatedAt.UTC().Format(timeLayout),
		nullableTime(req.SentAt),
		nullableTime(req.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting config request: %w", err)
	}
	return nil
}

// GetByID retrieves a request by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Request, error) {
	return r.queryOne(ctx, selectRequest+` WHERE id = ?`, id)
}

// NextPending selects by priority descending, then creation time, then
// insertion order.
func (r *SQLiteRepository) NextPending(ctx context.Context, deviceID string) (*Request, error) {
	return r.queryOne(ctx, selectRequest+`
		WHERE device_id = ? AND status = ?
		ORDER BY priority DESC, created_at ASC, rowid ASC
		LIMIT 1`,
		deviceID, string(StatusPending),
	)
}

// LatestSent returns the most recently sent outstanding request.
func (r *SQLiteRepository) LatestSent(ctx context.Context, deviceID string) (*Request, error) {
	return r.queryOne(ctx, selectRequest+`
		WHERE device_id = ? AND status = ?
		ORDER BY sent_at DESC, rowid DESC
		LIMIT 1`,
		deviceID, string(StatusSent),
	)
}

// ListForDevice returns requests newest first. A limit <= 0 means no limit.
func (r *SQLiteRepository) ListForDevice(ctx context.Context, deviceID string, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, selectRequest+`
		WHERE device_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying config requests: %w", err)
	}
	defer rows.Close()

	requests := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning config request: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating config requests: %w", err)
	}
	return requests, nil
}

// MarkSent moves id to Sent and supersedes older Sent requests in one
// transaction.
func (r *SQLiteRepository) MarkSent(ctx context.Context, id, deviceID, command string, at time.Time) (bool, []string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stamp := at.UTC().Format(timeLayout)
	result, err := tx.ExecContext(ctx, `
		UPDATE config_requests SET status = ?, command = ?, sent_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusSent), command, stamp, id, string(StatusPending),
	)
	if err != nil {
		return false, nil, fmt.Errorf("marking config request sent: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return false, nil, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM config_requests WHERE device_id = ? AND status = ? AND id != ?`,
		deviceID, string(StatusSent), id,
	)
	if err != nil {
		return false, nil, fmt.Errorf("querying superseded requests: %w", err)
	}
	var superseded []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return false, nil, fmt.Errorf("scanning superseded request: %w", err)
		}
		superseded = append(superseded, sid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, nil, fmt.Errorf("iterating superseded requests: %w", err)
	}

	if len(superseded) > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE config_requests SET status = ?, error = ?, resolved_at = ?
			WHERE device_id = ? AND status = ? AND id != ?`,
			string(StatusFailed), "superseded by "+id, stamp,
			deviceID, string(StatusSent), id,
		); err != nil {
			return false, nil, fmt.Errorf("superseding sent requests: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("committing sent transition: %w", err)
	}
	return true, superseded, nil
}

// Resolve performs a conditional status change.
func (r *SQLiteRepository) Resolve(ctx context.Context, id string, from, to Status, reason *string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE config_requests SET status = ?, error = COALESCE(?, error), resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(to), nullableString(reason), at.UTC().Format(timeLayout), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("updating config request status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) queryOne(ctx context.Context, query string, args ...any) (*Request, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("querying config request: %w", err)
	}
	return req, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(scanner rowScanner) (*Request, error) {
	var req Request
	var cfgJSON, status, createdAt string
	var command, errMsg, sentAt, resolvedAt sql.NullString

	if err := scanner.Scan(
		&req.ID, &req.DeviceID, &cfgJSON, &req.Priority, &status,
		&command, &errMsg, &createdAt, &sentAt, &resolvedAt,
	); err != nil {
		return nil, err
	}

	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	req.Status = st

	if err := json.Unmarshal([]byte(cfgJSON), &req.RequestedConfig); err != nil {
		return nil, fmt.Errorf("unmarshalling requested_config: %w", err)
	}
	if command.Valid {
		req.Command = &command.String
	}
	if errMsg.Valid {
		req.Error = &errMsg.String
	}
	req.CreatedAt = parseTime(createdAt)
	if sentAt.Valid {
		t := parseTime(sentAt.String)
		req.SentAt = &t
	}
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		req.ResolvedAt = &t
	}
	return &req, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s) //nolint:errcheck // Format is controlled
	return t
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}
