package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/loggergw/internal/infrastructure/database"
	"github.com/nerrad567/loggergw/migrations"
)

// setupTestRepo opens an in-memory database with the real schema applied.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func createModel(t *testing.T, repo *SQLiteRepository, vendor Vendor) *HardwareModel {
	t.Helper()
	m := &HardwareModel{Vendor: vendor, Name: string(vendor) + " logger", SlotCount: 4}
	if err := repo.CreateHardwareModel(context.Background(), m); err != nil {
		t.Fatalf("CreateHardwareModel() error = %v", err)
	}
	return m
}

func createDevice(t *testing.T, repo *SQLiteRepository, model *HardwareModel, uid string, code *string) *Device {
	t.Helper()
	d := &Device{
		UID:             uid,
		Code:            code,
		Name:            "Cold room " + uid,
		HardwareModelID: model.ID,
		UploadInterval:  600,
		Sensors: []SensorAssignment{
			{Slot: 1, SensorType: SensorTemperature},
			{Slot: 2, SensorType: SensorHumidity},
		},
	}
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return d
}

func strPtr(s string) *string { return &s }

func TestSQLiteRepository_CreateAndFind(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	model := createModel(t, repo, VendorZion)
	created := createDevice(t, repo, model, "ABC123", nil)

	got, err := repo.FindByUID(ctx, "ABC123")
	if err != nil {
		t.Fatalf("FindByUID() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}
	if got.Status != StatusOffline {
		t.Errorf("Status = %q, want %q", got.Status, StatusOffline)
	}
	if got.Vendor() != VendorZion {
		t.Errorf("Vendor() = %q, want %q", got.Vendor(), VendorZion)
	}
	if len(got.Sensors) != 2 {
		t.Fatalf("Sensors = %d, want 2", len(got.Sensors))
	}
	if s, ok := got.SensorForSlot(2); !ok || s.SensorType != SensorHumidity || s.Unit != "%RH" {
		t.Errorf("SensorForSlot(2) = %+v, %v", s, ok)
	}

	byID, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.UID != "ABC123" {
		t.Errorf("UID = %q, want ABC123", byID.UID)
	}
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if _, err := repo.FindByUID(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FindByUID() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := repo.FindByUIDOrCode(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FindByUIDOrCode() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := repo.GetHardwareModel(ctx, "missing"); !errors.Is(err, ErrHardwareModelNotFound) {
		t.Errorf("GetHardwareModel() error = %v, want ErrHardwareModelNotFound", err)
	}
}

func TestSQLiteRepository_FindByUIDOrCode(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	model := createModel(t, repo, VendorTZone)
	byCode := createDevice(t, repo, model, "860000000000001", strPtr("TZ01"))
	// A second device whose UID collides with the first one's code.
	byUID := createDevice(t, repo, model, "TZ01", nil)

	tests := []struct {
		name       string
		identifier string
		wantID     string
	}{
		{"uid match", "860000000000001", byCode.ID},
		{"uid wins over code", "TZ01", byUID.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FindByUIDOrCode(ctx, tt.identifier)
			if err != nil {
				t.Fatalf("FindByUIDOrCode() error = %v", err)
			}
			if got.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", got.ID, tt.wantID)
			}
		})
	}

	// Code-only lookup is not available through FindByUID.
	other := createDevice(t, repo, model, "860000000000002", strPtr("TZ02"))
	got, err := repo.FindByUIDOrCode(ctx, "TZ02")
	if err != nil || got.ID != other.ID {
		t.Errorf("FindByUIDOrCode(code) = %v, %v", got, err)
	}
	if _, err := repo.FindByUID(ctx, "TZ02"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("FindByUID(code) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	repo := setupTestRepo(t)
	model := createModel(t, repo, VendorZion)
	createDevice(t, repo, model, "DUP", nil)

	err := repo.Create(context.Background(), &Device{UID: "DUP", Name: "again", HardwareModelID: model.ID})
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create() error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_CreateValidation(t *testing.T) {
	repo := setupTestRepo(t)
	model := createModel(t, repo, VendorZion)
	ctx := context.Background()

	err := repo.Create(ctx, &Device{UID: "X1", Name: "bad slot", HardwareModelID: model.ID,
		Sensors: []SensorAssignment{{Slot: 9, SensorType: SensorTemperature}}})
	if !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("Create() error = %v, want ErrInvalidSlot", err)
	}

	err = repo.Create(ctx, &Device{UID: "X2", Name: "no model", HardwareModelID: "nope"})
	if !errors.Is(err, ErrHardwareModelNotFound) {
		t.Errorf("Create() error = %v, want ErrHardwareModelNotFound", err)
	}
}

func TestSQLiteRepository_MarkOnlineOffline(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	d := createDevice(t, repo, createModel(t, repo, VendorSunsui), "SUN1", nil)
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	changed, err := repo.MarkOnline(ctx, d.ID, seen)
	if err != nil || !changed {
		t.Fatalf("MarkOnline() = %v, %v; want true, nil", changed, err)
	}

	changed, err = repo.MarkOnline(ctx, d.ID, seen.Add(time.Minute))
	if err != nil || changed {
		t.Fatalf("second MarkOnline() = %v, %v; want false, nil", changed, err)
	}

	got, _ := repo.GetByID(ctx, d.ID)
	if got.Status != StatusOnline {
		t.Errorf("Status = %q, want online", got.Status)
	}
	if got.LastSeenAt == nil || !got.LastSeenAt.Equal(seen.Add(time.Minute)) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, seen.Add(time.Minute))
	}

	changed, err = repo.MarkOffline(ctx, d.ID)
	if err != nil || !changed {
		t.Fatalf("MarkOffline() = %v, %v; want true, nil", changed, err)
	}
	changed, _ = repo.MarkOffline(ctx, d.ID)
	if changed {
		t.Error("MarkOffline() on offline device reported a change")
	}

	if _, err := repo.MarkOnline(ctx, "missing", seen); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("MarkOnline(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_ListStale(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	model := createModel(t, repo, VendorAliter)
	old := createDevice(t, repo, model, "OLD", nil)
	fresh := createDevice(t, repo, model, "FRESH", nil)
	createDevice(t, repo, model, "NEVER", nil) // offline, never seen

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.MarkOnline(ctx, old.ID, now.Add(-2*time.Hour)) //nolint:errcheck // Test setup
	repo.MarkOnline(ctx, fresh.ID, now)                 //nolint:errcheck // Test setup

	stale, err := repo.ListStale(ctx, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ListStale() error = %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Errorf("ListStale() = %+v, want only OLD", stale)
	}
}

func TestSQLiteRepository_UpdateBookkeeping(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	d := createDevice(t, repo, createModel(t, repo, VendorIdeabyte), "IB1", nil)

	later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	battery := 3.6
	if err := repo.UpdateBookkeeping(ctx, nil, d.ID, BookkeepingUpdate{
		LastReadingAt:   later,
		FirmwareVersion: strPtr("1.2.0"),
		BatteryVoltage:  &battery,
	}); err != nil {
		t.Fatalf("UpdateBookkeeping() error = %v", err)
	}

	// An older batch must not move last_reading_at backwards or clear telemetry.
	if err := repo.UpdateBookkeeping(ctx, nil, d.ID, BookkeepingUpdate{
		LastReadingAt: later.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("UpdateBookkeeping() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, d.ID)
	if got.LastReadingAt == nil || !got.LastReadingAt.Equal(later) {
		t.Errorf("LastReadingAt = %v, want %v", got.LastReadingAt, later)
	}
	if got.FirmwareVersion == nil || *got.FirmwareVersion != "1.2.0" {
		t.Errorf("FirmwareVersion = %v, want 1.2.0", got.FirmwareVersion)
	}
	if got.BatteryVoltage == nil || *got.BatteryVoltage != 3.6 {
		t.Errorf("BatteryVoltage = %v, want 3.6", got.BatteryVoltage)
	}
}
