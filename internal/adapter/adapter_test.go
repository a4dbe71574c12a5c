package adapter

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/loggergw/internal/device"
)

var testNow = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

func newRequest(query string, body string) *Request {
	q, _ := url.ParseQuery(query) //nolint:errcheck // Test input is well formed
	return &Request{Query: q, Body: []byte(body), ReceivedAt: testNow}
}

func allAdapters() []VendorAdapter {
	return []VendorAdapter{Zion{}, TZone{}, Ideabyte{}, Aliter{}, Sunsui{}}
}

// encode renders an envelope the way the gateway writes it.
func encode(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal response %s: %v", raw, err)
	}
	return out
}

func TestParseReadings_NoSensorFields(t *testing.T) {
	payloads := map[device.Vendor][]string{
		device.VendorZion:     {``, `{}`, `{"entity":{"data":{"deviceUid":"ABC123","battery":3.6}}}`},
		device.VendorTZone:    {`{"msgtype":1}`, `{"msgtype":4,"imei":"1","result":0}`, `{"msgtype":3,"imei":"1","data":[]}`, `{"msgtype":3,"imei":"1","data":[{"bat":3.1}]}`},
		device.VendorIdeabyte: {`{"Id":"IB1"}`, `[]`, `[{"Id":"IB1","Bat":3.3}]`},
		device.VendorAliter:   {`{"device":"AL1"}`, `{"device":"AL1","channels":[]}`},
		device.VendorSunsui:   {`{"device_uid":"SU1"}`, `{"device_uid":"SU1","sensors":{},"battery_mv":3600}`},
	}

	for _, a := range allAdapters() {
		for _, body := range payloads[a.Vendor()] {
			t.Run(string(a.Vendor())+" "+body, func(t *testing.T) {
				batches, err := a.ParseReadings(newRequest("", body))
				if err != nil {
					t.Fatalf("ParseReadings() error = %v", err)
				}
				if len(batches) != 0 {
					t.Errorf("ParseReadings() = %d batches, want 0", len(batches))
				}
			})
		}
	}
}

func TestParseReadings_MalformedBody(t *testing.T) {
	for _, a := range allAdapters() {
		t.Run(string(a.Vendor()), func(t *testing.T) {
			_, err := a.ParseReadings(newRequest("", `{not json`))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("ParseReadings() error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestBuildSuccessResponse_NoCommand(t *testing.T) {
	empty := ""
	rc := ResponseContext{Identifier: "X1", ServerTime: testNow, UploadInterval: 600}

	for _, a := range allAdapters() {
		for name, cmd := range map[string]*string{"nil": nil, "empty": &empty} {
			t.Run(string(a.Vendor())+" "+name, func(t *testing.T) {
				out := encode(t, a.BuildSuccessResponse(cmd, rc))
				for _, key := range []string{"cmd", "command"} {
					if _, ok := out[key]; ok {
						t.Errorf("response has %q field: %v", key, out)
					}
				}
				if data, ok := out["data"].(map[string]any); ok {
					if _, ok := data["cmd"]; ok {
						t.Errorf("response data has cmd field: %v", out)
					}
				}
				if cfg, ok := out["config"]; ok && cfg != nil {
					t.Errorf("response config = %v, want null", cfg)
				}
			})
		}
	}
}

func TestUnsupportedConfigError(t *testing.T) {
	err := error(&UnsupportedConfigError{Vendor: device.VendorTZone, Keys: []string{"humidity_high"}})

	if !errors.Is(err, ErrUnsupportedConfig) {
		t.Error("errors.Is(err, ErrUnsupportedConfig) = false")
	}
	var uce *UnsupportedConfigError
	if !errors.As(err, &uce) || uce.Keys[0] != "humidity_high" {
		t.Errorf("errors.As() = %+v", uce)
	}
	want := "adapter: unsupported configuration for tzone: humidity_high"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestBuildConfigCommand_UnknownKey(t *testing.T) {
	for _, a := range allAdapters() {
		t.Run(string(a.Vendor()), func(t *testing.T) {
			_, err := a.BuildConfigCommand(map[string]any{"record_interval": 60, "led": "on"})
			var uce *UnsupportedConfigError
			if !errors.As(err, &uce) {
				t.Fatalf("BuildConfigCommand() error = %v, want UnsupportedConfigError", err)
			}
			found := false
			for _, k := range uce.Keys {
				if k == "led" {
					found = true
				}
			}
			if !found {
				t.Errorf("Keys = %v, want to include led", uce.Keys)
			}
		})
	}
}

func TestBuildConfigCommand_BadValues(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{"non numeric", map[string]any{"record_interval": "soon"}},
		{"zero interval", map[string]any{"upload_interval": 0}},
		{"negative interval", map[string]any{"record_interval": -5.0}},
		{"bool threshold", map[string]any{"temp_high": true}},
		{"empty", map[string]any{}},
	}

	for _, a := range []VendorAdapter{Zion{}, TZone{}, Ideabyte{}, Sunsui{}} {
		for _, tt := range tests {
			t.Run(string(a.Vendor())+" "+tt.name, func(t *testing.T) {
				if _, err := a.BuildConfigCommand(tt.config); !errors.Is(err, ErrUnsupportedConfig) {
					t.Errorf("BuildConfigCommand() error = %v, want ErrUnsupportedConfig", err)
				}
			})
		}
	}
}

func TestParseReadings_NullValueIsNoSensor(t *testing.T) {
	batches, err := Zion{}.ParseReadings(newRequest("", `{"entity":{"data":{"deviceUid":"A","temp":null,"humi":"55.5"}}}`))
	if err != nil {
		t.Fatalf("ParseReadings() error = %v", err)
	}
	if len(batches) != 1 || len(batches[0].Readings) != 2 {
		t.Fatalf("batches = %+v", batches)
	}
	missing := batches[0].Readings[0]
	if missing.Slot != 1 || missing.Value != nil || missing.Metadata["state"] != StateNoSensor {
		t.Errorf("null reading = %+v", missing)
	}
	hum := batches[0].Readings[1]
	if hum.Value == nil || *hum.Value != 55.5 {
		t.Errorf("numeric-string reading = %+v", hum)
	}
}
