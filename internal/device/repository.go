package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Execer is satisfied by both *sql.DB and *sql.Tx, so bookkeeping can join
// the caller's ingestion transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// CreateHardwareModel inserts a hardware model.
	CreateHardwareModel(ctx context.Context, m *HardwareModel) error

	// GetHardwareModel retrieves a hardware model by ID.
	// Returns ErrHardwareModelNotFound if it does not exist.
	GetHardwareModel(ctx context.Context, id string) (*HardwareModel, error)

	// Create inserts a device together with its sensor assignments.
	// Returns ErrDeviceExists if the UID or code is already registered.
	Create(ctx context.Context, d *Device) error

	// GetByID retrieves a device by its internal identifier.
	GetByID(ctx context.Context, id string) (*Device, error)

	// FindByUID retrieves a device by the identifier it reports on the wire.
	FindByUID(ctx context.Context, uid string) (*Device, error)

	// FindByUIDOrCode retrieves a device whose UID or short code matches.
	// A UID match wins over a code match.
	FindByUIDOrCode(ctx context.Context, identifier string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// ListStale retrieves online devices not seen since cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]Device, error)

	// MarkOnline records a check-in. It reports whether the device moved
	// from offline to online.
	MarkOnline(ctx context.Context, id string, seenAt time.Time) (bool, error)

	// MarkOffline flips an online device to offline. It reports whether the
	// status changed.
	MarkOffline(ctx context.Context, id string) (bool, error)

	// UpdateBookkeeping refreshes last-reading and telemetry columns using ex,
	// which may be an open transaction.
	UpdateBookkeeping(ctx context.Context, ex Execer, id string, u BookkeepingUpdate) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
	SELECT d.id, d.uid, d.code, d.name, d.hardware_model_id, d.status,
		d.last_seen_at, d.last_reading_at, d.firmware_version, d.battery_voltage,
		d.signal_strength, d.upload_interval, d.created_at, d.updated_at,
		m.id, m.vendor, m.name, m.slot_count, m.created_at
	FROM devices d
	JOIN hardware_models m ON m.id = d.hardware_model_id`

// CreateHardwareModel inserts a hardware model.
func (r *SQLiteRepository) CreateHardwareModel(ctx context.Context, m *HardwareModel) error {
	if err := ValidateHardwareModel(m); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = GenerateID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO hardware_models (id, vendor, name, slot_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, string(m.Vendor), m.Name, m.SlotCount, m.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting hardware model: %w", err)
	}
	return nil
}

// GetHardwareModel retrieves a hardware model by ID.
func (r *SQLiteRepository) GetHardwareModel(ctx context.Context, id string) (*HardwareModel, error) {
	var m HardwareModel
	var vendor, createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, vendor, name, slot_count, created_at FROM hardware_models WHERE id = ?`, id,
	).Scan(&m.ID, &vendor, &m.Name, &m.SlotCount, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrHardwareModelNotFound
		}
		return nil, fmt.Errorf("querying hardware model: %w", err)
	}
	m.Vendor = Vendor(vendor)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

// Create inserts a device and its sensor assignments in one transaction.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	model, err := r.GetHardwareModel(ctx, d.HardwareModelID)
	if err != nil {
		return err
	}
	if err := ValidateDevice(d, model); err != nil {
		return err
	}

	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Status == "" {
		d.Status = StatusOffline
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.HardwareModel = model

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (
			id, uid, code, name, hardware_model_id, status,
			last_seen_at, last_reading_at, firmware_version, battery_voltage,
			signal_strength, upload_interval, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.UID,
		nullableString(d.Code),
		d.Name,
		d.HardwareModelID,
		string(d.Status),
		nullableTime(d.LastSeenAt),
		nullableTime(d.LastReadingAt),
		nullableString(d.FirmwareVersion),
		nullableFloat(d.BatteryVoltage),
		nullableInt(d.SignalStrength),
		d.UploadInterval,
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	for i := range d.Sensors {
		s := &d.Sensors[i]
		if s.Unit == "" {
			s.Unit = s.SensorType.DefaultUnit()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_sensors (device_id, slot, sensor_type, unit) VALUES (?, ?, ?, ?)`,
			d.ID, s.Slot, string(s.SensorType), s.Unit,
		); err != nil {
			return fmt.Errorf("inserting sensor slot %d: %w", s.Slot, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device: %w", err)
	}
	return nil
}

// GetByID retrieves a device by its internal identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	return r.queryOne(ctx, selectDevice+` WHERE d.id = ?`, id)
}

// FindByUID retrieves a device by its wire identifier.
func (r *SQLiteRepository) FindByUID(ctx context.Context, uid string) (*Device, error) {
	return r.queryOne(ctx, selectDevice+` WHERE d.uid = ?`, uid)
}

// FindByUIDOrCode retrieves a device by UID, falling back to its short code.
func (r *SQLiteRepository) FindByUIDOrCode(ctx context.Context, identifier string) (*Device, error) {
	query := selectDevice + `
		WHERE d.uid = ? OR d.code = ?
		ORDER BY (d.uid = ?) DESC
		LIMIT 1`
	return r.queryOne(ctx, query, identifier, identifier, identifier)
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` ORDER BY d.name`)
}

// ListStale retrieves online devices whose last check-in is older than cutoff.
func (r *SQLiteRepository) ListStale(ctx context.Context, cutoff time.Time) ([]Device, error) {
	query := selectDevice + `
		WHERE d.status = ? AND (d.last_seen_at IS NULL OR d.last_seen_at < ?)
		ORDER BY d.last_seen_at`
	return r.queryDevices(ctx, query, string(StatusOnline), cutoff.UTC().Format(time.RFC3339))
}

// MarkOnline sets last_seen_at and the online status.
func (r *SQLiteRepository) MarkOnline(ctx context.Context, id string, seenAt time.Time) (bool, error) {
	seen := seenAt.UTC().Format(time.RFC3339)
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET status = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusOnline), seen, now, id, string(StatusOffline),
	)
	if err != nil {
		return false, fmt.Errorf("marking device online: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	} else if n > 0 {
		return true, nil
	}

	// Already online: refresh last_seen_at only.
	result, err = r.db.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = ?, updated_at = ? WHERE id = ?`,
		seen, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("updating last seen: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return false, ErrDeviceNotFound
	}
	return false, nil
}

// MarkOffline flips an online device to offline.
func (r *SQLiteRepository) MarkOffline(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusOffline), time.Now().UTC().Format(time.RFC3339), id, string(StatusOnline),
	)
	if err != nil {
		return false, fmt.Errorf("marking device offline: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateBookkeeping refreshes last_reading_at and the latest telemetry.
// Telemetry columns keep their previous value when the batch omitted them.
func (r *SQLiteRepository) UpdateBookkeeping(ctx context.Context, ex Execer, id string, u BookkeepingUpdate) error {
	if ex == nil {
		ex = r.db
	}
	result, err := ex.ExecContext(ctx, `
		UPDATE devices SET
			last_reading_at = CASE
				WHEN last_reading_at IS NULL OR last_reading_at < ? THEN ?
				ELSE last_reading_at END,
			firmware_version = COALESCE(?, firmware_version),
			battery_voltage = COALESCE(?, battery_voltage),
			signal_strength = COALESCE(?, signal_strength),
			updated_at = ?
		WHERE id = ?`,
		u.LastReadingAt.UTC().Format(time.RFC3339),
		u.LastReadingAt.UTC().Format(time.RFC3339),
		nullableString(u.FirmwareVersion),
		nullableFloat(u.BatteryVoltage),
		nullableInt(u.SignalStrength),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device bookkeeping: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryOne(ctx context.Context, query string, args ...any) (*Device, error) {
	d, err := scanDeviceRow(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	if err := r.loadSensors(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// queryDevices executes a query and returns a slice of devices. Rows are
// fully drained before sensors are loaded because the pool holds a single
// connection.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}

	var devices []Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	rows.Close()

	for i := range devices {
		if err := r.loadSensors(ctx, &devices[i]); err != nil {
			return nil, err
		}
	}
	return devices, nil
}

func (r *SQLiteRepository) loadSensors(ctx context.Context, d *Device) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT slot, sensor_type, unit FROM device_sensors WHERE device_id = ? ORDER BY slot`, d.ID,
	)
	if err != nil {
		return fmt.Errorf("querying sensors: %w", err)
	}
	defer rows.Close()

	d.Sensors = []SensorAssignment{}
	for rows.Next() {
		var s SensorAssignment
		var sensorType string
		if err := rows.Scan(&s.Slot, &sensorType, &s.Unit); err != nil {
			return fmt.Errorf("scanning sensor: %w", err)
		}
		s.SensorType = SensorType(sensorType)
		d.Sensors = append(d.Sensors, s)
	}
	return rows.Err()
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row produced by selectDevice.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var m HardwareModel
	var code, firmware sql.NullString
	var lastSeen, lastReading sql.NullString
	var battery sql.NullFloat64
	var signal sql.NullInt64
	var status, vendor string
	var createdAt, updatedAt, modelCreatedAt string

	err := scanner.Scan(
		&d.ID, &d.UID, &code, &d.Name, &d.HardwareModelID, &status,
		&lastSeen, &lastReading, &firmware, &battery,
		&signal, &d.UploadInterval, &createdAt, &updatedAt,
		&m.ID, &vendor, &m.Name, &m.SlotCount, &modelCreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	m.Vendor = Vendor(vendor)
	m.CreatedAt = parseTime(modelCreatedAt)
	d.HardwareModel = &m

	if code.Valid {
		d.Code = &code.String
	}
	if firmware.Valid {
		d.FirmwareVersion = &firmware.String
	}
	if battery.Valid {
		d.BatteryVoltage = &battery.Float64
	}
	if signal.Valid {
		v := int(signal.Int64)
		d.SignalStrength = &v
	}
	if lastSeen.Valid {
		t := parseTime(lastSeen.String)
		d.LastSeenAt = &t
	}
	if lastReading.Valid {
		t := parseTime(lastReading.String)
		d.LastReadingAt = &t
	}
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)

	return &d, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // Format is controlled
	return t
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
