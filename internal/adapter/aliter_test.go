package adapter

import (
	"errors"
	"testing"
	"time"
)

func TestAliterIdentifier(t *testing.T) {
	if got := AliterIdentifier([]byte(`{"device":"AL-9"}`)); got != "AL-9" {
		t.Errorf("AliterIdentifier() = %q", got)
	}
}

func TestAliter_ParseReadings(t *testing.T) {
	body := `{"device":"AL-9","ts":"2026-03-01 09:15:00","bat":3.0,"rssi":-90,"fw":"a1",
		"channels":[{"ch":1,"v":3.2},{"ch":2,"v":null},{"ch":0,"v":1},{"v":5},{"ch":3}]}`

	batches, err := Aliter{}.ParseReadings(newRequest("device_uid=AL-9", body))
	if err != nil {
		t.Fatalf("ParseReadings() error = %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	b := batches[0]
	if want := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC); !b.RecordedAt.Equal(want) {
		t.Errorf("RecordedAt = %v, want %v", b.RecordedAt, want)
	}
	if len(b.Readings) != 3 {
		t.Fatalf("readings = %+v, want 3 (invalid channel numbers dropped)", b.Readings)
	}
	if b.Readings[0].Value == nil || *b.Readings[0].Value != 3.2 {
		t.Errorf("ch1 = %+v", b.Readings[0])
	}
	for _, r := range b.Readings[1:] {
		if r.Value != nil || r.Metadata["state"] != StateNoSensor {
			t.Errorf("reading %+v, want no_sensor", r)
		}
	}
}

func TestAliter_BuildConfigCommandAlwaysFails(t *testing.T) {
	configs := []map[string]any{
		{"record_interval": 60},
		{"temp_high": 8, "temp_low": 2},
		{"anything": true},
		{},
		nil,
	}
	for _, cfg := range configs {
		cmd, err := Aliter{}.BuildConfigCommand(cfg)
		if !errors.Is(err, ErrUnsupportedConfig) {
			t.Errorf("BuildConfigCommand(%v) error = %v, want ErrUnsupportedConfig", cfg, err)
		}
		if cmd != "" {
			t.Errorf("BuildConfigCommand(%v) = %q, want empty", cfg, cmd)
		}
	}
}

func TestAliter_BuildSuccessResponse(t *testing.T) {
	cmd := "ignored"
	out := encode(t, Aliter{}.BuildSuccessResponse(&cmd, ResponseContext{ServerTime: testNow}))
	if out["status"] != "ok" || out["time"] != float64(testNow.Unix()) {
		t.Errorf("envelope = %v", out)
	}
	if len(out) != 2 {
		t.Errorf("envelope has extra fields: %v", out)
	}
}
