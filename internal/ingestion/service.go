package ingestion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nerrad567/loggergw/internal/adapter"
	"github.com/nerrad567/loggergw/internal/device"
	"github.com/nerrad567/loggergw/internal/infrastructure/database"
)

// ErrNoDevice is returned when ingestion is attempted without a resolved device.
var ErrNoDevice = errors.New("ingestion: device is required")

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

// Mirror receives a copy of every stored reading after commit.
// *influxdb.Client satisfies it.
type Mirror interface {
	WriteReading(deviceUID string, slot int, sensorType string, value float64, at time.Time)
	WriteTelemetry(deviceUID string, battery *float64, signal *int, at time.Time)
}

// Listener is told about batches once they are durably stored.
type Listener interface {
	ReadingsIngested(ctx context.Context, d *device.Device, batches []StoredBatch)
}

// StoredBatch is a persisted batch with resolved sensor types.
type StoredBatch struct {
	ID              string          `json:"id"`
	DeviceID        string          `json:"device_id"`
	RecordedAt      time.Time       `json:"recorded_at"`
	ReceivedAt      time.Time       `json:"received_at"`
	FirmwareVersion *string         `json:"firmware_version,omitempty"`
	BatteryVoltage  *float64        `json:"battery_voltage,omitempty"`
	SignalStrength  *int            `json:"signal_strength,omitempty"`
	Readings        []StoredReading `json:"readings"`
}

// StoredReading is one persisted slot value.
type StoredReading struct {
	Slot       int               `json:"slot"`
	SensorType device.SensorType `json:"sensor_type,omitempty"`
	Value      *float64          `json:"value"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// Service stores normalized batches and keeps device bookkeeping current.
//
// Thread Safety:
//   - Safe for concurrent use. Each IngestBatches call runs in its own
//     transaction.
type Service struct {
	db             *sql.DB
	devices        device.Repository
	mirror         Mirror
	listener       Listener
	statusListener device.StatusListener
	logger         Logger

	// now is replaced in tests.
	now func() time.Time
}

// NewService creates an ingestion service writing to db.
func NewService(db *sql.DB, devices device.Repository) *Service {
	return &Service{
		db:      db,
		devices: devices,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMirror sets the optional time-series mirror.
func (s *Service) SetMirror(m Mirror) {
	s.mirror = m
}

// SetListener sets the listener notified after each committed ingestion.
func (s *Service) SetListener(l Listener) {
	s.listener = l
}

// SetStatusListener sets the listener told about offline to online transitions.
func (s *Service) SetStatusListener(l device.StatusListener) {
	s.statusListener = l
}

// IngestBatches persists batches for d in one transaction. Batches without
// readings are skipped. Either every batch is stored or none is.
//
// Returns the stored batches, which is empty when nothing carried readings.
func (s *Service) IngestBatches(ctx context.Context, d *device.Device, batches []adapter.Batch) ([]StoredBatch, error) {
	if d == nil {
		return nil, ErrNoDevice
	}

	receivedAt := s.now().UTC()
	stored := make([]StoredBatch, 0, len(batches))
	for _, b := range batches {
		if len(b.Readings) == 0 {
			continue
		}
		stored = append(stored, toStored(d, b, receivedAt))
	}
	if len(stored) == 0 {
		return stored, nil
	}

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var latest StoredBatch
		for i, b := range stored {
			if err := insertBatch(ctx, tx, b); err != nil {
				return err
			}
			if i == 0 || b.RecordedAt.After(latest.RecordedAt) {
				latest = b
			}
		}
		return s.devices.UpdateBookkeeping(ctx, tx, d.ID, device.BookkeepingUpdate{
			LastReadingAt:   latest.RecordedAt,
			FirmwareVersion: latest.FirmwareVersion,
			BatteryVoltage:  latest.BatteryVoltage,
			SignalStrength:  latest.SignalStrength,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ingesting %d batches for %s: %w", len(stored), d.UID, err)
	}

	s.logger.Debug("readings ingested", "device_uid", d.UID, "batches", len(stored))
	s.mirrorBatches(d, stored)
	if s.listener != nil {
		s.listener.ReadingsIngested(ctx, d, stored)
	}
	return stored, nil
}

// MarkOnline records a successful check-in for d.
func (s *Service) MarkOnline(ctx context.Context, d *device.Device) error {
	if d == nil {
		return ErrNoDevice
	}
	changed, err := s.devices.MarkOnline(ctx, d.ID, s.now())
	if err != nil {
		return fmt.Errorf("marking %s online: %w", d.UID, err)
	}
	if changed {
		d.Status = device.StatusOnline
		s.logger.Info("device online", "device_uid", d.UID)
		if s.statusListener != nil {
			s.statusListener.DeviceStatusChanged(ctx, d, device.StatusOnline)
		}
	}
	return nil
}

// RecentBatches returns the newest stored batches of a device, newest first.
// A limit of zero or less returns every batch.
func (s *Service) RecentBatches(ctx context.Context, deviceID string, limit int) ([]StoredBatch, error) {
	query := `
		SELECT id, device_id, recorded_at, received_at, firmware_version,
			battery_voltage, signal_strength
		FROM reading_batches
		WHERE device_id = ?
		ORDER BY recorded_at DESC, rowid DESC`
	args := []any{deviceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}

	var batches []StoredBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			rows.Close() //nolint:errcheck // Already returning an error
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck // Already returning an error
		return nil, fmt.Errorf("iterating batches: %w", err)
	}
	// The pool holds one connection, so batch rows are drained before
	// readings are loaded.
	rows.Close() //nolint:errcheck // Read-only query

	for i := range batches {
		readings, err := s.loadReadings(ctx, batches[i].ID)
		if err != nil {
			return nil, err
		}
		batches[i].Readings = readings
	}
	return batches, nil
}

func (s *Service) mirrorBatches(d *device.Device, batches []StoredBatch) {
	if s.mirror == nil {
		return
	}
	for _, b := range batches {
		for _, r := range b.Readings {
			if r.Value == nil {
				continue
			}
			s.mirror.WriteReading(d.UID, r.Slot, string(r.SensorType), *r.Value, b.RecordedAt)
		}
		s.mirror.WriteTelemetry(d.UID, b.BatteryVoltage, b.SignalStrength, b.RecordedAt)
	}
}

func toStored(d *device.Device, b adapter.Batch, receivedAt time.Time) StoredBatch {
	recordedAt := b.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = receivedAt
	}
	sb := StoredBatch{
		ID:              uuid.NewString(),
		DeviceID:        d.ID,
		RecordedAt:      recordedAt.UTC(),
		ReceivedAt:      receivedAt,
		FirmwareVersion: b.FirmwareVersion,
		BatteryVoltage:  b.BatteryVoltage,
		SignalStrength:  b.SignalStrength,
		Readings:        make([]StoredReading, 0, len(b.Readings)),
	}
	for _, r := range b.Readings {
		sr := StoredReading{Slot: r.Slot, Value: r.Value, Metadata: r.Metadata}
		if sensor, ok := d.SensorForSlot(r.Slot); ok {
			sr.SensorType = sensor.SensorType
		}
		sb.Readings = append(sb.Readings, sr)
	}
	return sb
}

func insertBatch(ctx context.Context, tx *sql.Tx, b StoredBatch) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reading_batches (id, device_id, recorded_at, received_at,
			firmware_version, battery_voltage, signal_strength)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.DeviceID,
		b.RecordedAt.Format(time.RFC3339),
		b.ReceivedAt.Format(time.RFC3339),
		nullableString(b.FirmwareVersion),
		nullableFloat(b.BatteryVoltage),
		nullableInt(b.SignalStrength),
	)
	if err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}

	for _, r := range b.Readings {
		metadata := []byte("{}")
		if len(r.Metadata) > 0 {
			if metadata, err = json.Marshal(r.Metadata); err != nil {
				return fmt.Errorf("encoding metadata for slot %d: %w", r.Slot, err)
			}
		}
		var sensorType sql.NullString
		if r.SensorType != "" {
			sensorType = sql.NullString{String: string(r.SensorType), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO readings (batch_id, slot, sensor_type, value, metadata)
			VALUES (?, ?, ?, ?, ?)`,
			b.ID, r.Slot, sensorType, nullableFloat(r.Value), string(metadata),
		)
		if err != nil {
			return fmt.Errorf("inserting reading for slot %d: %w", r.Slot, err)
		}
	}
	return nil
}

func (s *Service) loadReadings(ctx context.Context, batchID string) ([]StoredReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot, sensor_type, value, metadata
		FROM readings WHERE batch_id = ? ORDER BY slot`, batchID)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := []StoredReading{}
	for rows.Next() {
		var (
			r          StoredReading
			sensorType sql.NullString
			value      sql.NullFloat64
			metadata   string
		)
		if err := rows.Scan(&r.Slot, &sensorType, &value, &metadata); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		r.SensorType = device.SensorType(sensorType.String)
		if value.Valid {
			v := value.Float64
			r.Value = &v
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decoding reading metadata: %w", err)
			}
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(scanner rowScanner) (StoredBatch, error) {
	var (
		b                      StoredBatch
		recordedAt, receivedAt string
		firmware               sql.NullString
		battery                sql.NullFloat64
		signal                 sql.NullInt64
	)
	err := scanner.Scan(&b.ID, &b.DeviceID, &recordedAt, &receivedAt, &firmware, &battery, &signal)
	if err != nil {
		return b, fmt.Errorf("scanning batch: %w", err)
	}
	b.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt) //nolint:errcheck // Written by insertBatch
	b.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt) //nolint:errcheck // Written by insertBatch
	if firmware.Valid {
		b.FirmwareVersion = &firmware.String
	}
	if battery.Valid {
		b.BatteryVoltage = &battery.Float64
	}
	if signal.Valid {
		v := int(signal.Int64)
		b.SignalStrength = &v
	}
	return b, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
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
