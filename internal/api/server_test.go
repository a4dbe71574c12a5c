package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/loggergw/internal/adapter"
	"github.com/nerrad567/loggergw/internal/auth"
	"github.com/nerrad567/loggergw/internal/command"
	"github.com/nerrad567/loggergw/internal/device"
	"github.com/nerrad567/loggergw/internal/events"
	"github.com/nerrad567/loggergw/internal/gateway"
	"github.com/nerrad567/loggergw/internal/infrastructure/config"
	"github.com/nerrad567/loggergw/internal/infrastructure/database"
	"github.com/nerrad567/loggergw/internal/infrastructure/influxdb"
	"github.com/nerrad567/loggergw/internal/infrastructure/logging"
	"github.com/nerrad567/loggergw/internal/infrastructure/mqtt"
	"github.com/nerrad567/loggergw/internal/ingestion"
	"github.com/nerrad567/loggergw/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type testEnv struct {
	srv     *Server
	handler http.Handler
	devices *device.SQLiteRepository
	queue   *command.Queue
	zion    *device.Device
	other   *device.Device
}

// testServer builds the full stack over an in-memory database with two
// Zion loggers registered.
func testServer(t *testing.T) *testEnv {
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
		t.Fatalf("failed to migrate: %v", err)
	}

	devices := device.NewSQLiteRepository(db.DB)
	model := &device.HardwareModel{Vendor: device.VendorZion, Name: "Z1", SlotCount: 4}
	if err := devices.CreateHardwareModel(ctx, model); err != nil {
		t.Fatalf("CreateHardwareModel() error = %v", err)
	}
	newDevice := func(uid string) *device.Device {
		d := &device.Device{
			UID:             uid,
			Name:            "Logger " + uid,
			HardwareModelID: model.ID,
			UploadInterval:  300,
			Sensors:         []device.SensorAssignment{{Slot: 1, SensorType: device.SensorTemperature}},
		}
		if err := devices.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", uid, err)
		}
		return d
	}

	queue, err := command.NewQueue(command.NewSQLiteRepository(db.DB))
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	svc := ingestion.NewService(db.DB, devices)

	gw, err := gateway.New(gateway.Deps{
		Devices:   devices,
		Ingestion: svc,
		Queue:     queue,
		Adapters:  adapter.NewFactory(),
	})
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:   log,
		Devices:  devices,
		Queue:    queue,
		Gateway:  gw,
		Readings: svc,
		DB:       db.DB,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(hubCtx)

	bus := events.NewBus(devices, mqtt.NewTopics(""))
	bus.SetHub(srv.Hub())
	queue.SetListener(bus)
	svc.SetListener(bus)

	return &testEnv{
		srv:     srv,
		handler: srv.buildRouter(),
		devices: devices,
		queue:   queue,
		zion:    newDevice("ABC123"),
		other:   newDevice("XYZ789"),
	}
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("tester", role, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return tok
}

// do sends a request through the router. role "" sends no token.
func (e *testEnv) do(t *testing.T, method, path string, role auth.Role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response: %v (%s)", err, rec.Body.String())
	}
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no logger should fail")
	}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() with no device store should fail")
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-id-1" {
		t.Errorf("X-Request-ID = %q, want client-id-1", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestAuth_Rejections(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/ABC123", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if e := decode[Error](t, rec); e.Code != ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", e.Code, ErrCodeUnauthorized)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices/ABC123", auth.RoleViewer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	d := decode[device.Device](t, rec)
	if d.UID != "ABC123" || d.ID != env.zion.ID {
		t.Errorf("device = %+v", d)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/NOPE", auth.RoleViewer, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}
}

func TestListDevices_Filters(t *testing.T) {
	env := testServer(t)

	if _, err := env.devices.MarkOnline(context.Background(), env.zion.ID, time.Now()); err != nil {
		t.Fatalf("MarkOnline() error = %v", err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"?status=online", 1},
		{"?vendor=zion", 2},
		{"?vendor=tzone", 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/devices"+tt.query, auth.RoleViewer, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			body := decode[struct {
				Count int `json:"count"`
			}](t, rec)
			if body.Count != tt.want {
				t.Errorf("count = %d, want %d", body.Count, tt.want)
			}
		})
	}
}

func TestRegisterDevice(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/hardware-models", auth.RoleAdmin,
		`{"vendor":"tzone","name":"TT19","slot_count":2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("model status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}
	model := decode[device.HardwareModel](t, rec)
	if model.ID == "" || model.Vendor != device.VendorTZone {
		t.Fatalf("model = %+v", model)
	}

	body := `{"uid":"860000000000009","code":"TZ09","name":"Cold room","hardware_model_id":"` + model.ID +
		`","upload_interval":600,"sensors":[{"slot":1,"sensor_type":"temperature","unit":"C"}]}`
	rec = env.do(t, http.MethodPost, "/api/v1/devices", auth.RoleAdmin, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("device status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}
	created := decode[device.Device](t, rec)
	if created.Status != device.StatusOffline || created.HardwareModel == nil || created.HardwareModel.Vendor != device.VendorTZone {
		t.Errorf("created device = %+v", created)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/860000000000009", auth.RoleViewer, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get registered device status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/devices", auth.RoleAdmin, body)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}
}

func TestRegisterDevice_Errors(t *testing.T) {
	env := testServer(t)
	modelID := env.zion.HardwareModelID

	tests := []struct {
		name     string
		path     string
		role     auth.Role
		body     string
		wantCode int
	}{
		{"operator cannot register", "/api/v1/devices", auth.RoleOperator, `{"uid":"Z-2","name":"x","hardware_model_id":"` + modelID + `"}`, http.StatusForbidden},
		{"invalid JSON", "/api/v1/devices", auth.RoleAdmin, `{`, http.StatusBadRequest},
		{"invalid uid", "/api/v1/devices", auth.RoleAdmin, `{"uid":"bad uid!","name":"x","hardware_model_id":"` + modelID + `"}`, http.StatusUnprocessableEntity},
		{"empty name", "/api/v1/devices", auth.RoleAdmin, `{"uid":"Z-2","name":" ","hardware_model_id":"` + modelID + `"}`, http.StatusUnprocessableEntity},
		{"unknown model", "/api/v1/devices", auth.RoleAdmin, `{"uid":"Z-2","name":"x","hardware_model_id":"missing"}`, http.StatusUnprocessableEntity},
		{"slot outside model", "/api/v1/devices", auth.RoleAdmin, `{"uid":"Z-2","name":"x","hardware_model_id":"` + modelID + `","sensors":[{"slot":9,"sensor_type":"temperature"}]}`, http.StatusUnprocessableEntity},
		{"unknown vendor", "/api/v1/hardware-models", auth.RoleAdmin, `{"vendor":"acme","name":"A1","slot_count":2}`, http.StatusUnprocessableEntity},
		{"viewer cannot add model", "/api/v1/hardware-models", auth.RoleViewer, `{"vendor":"zion","name":"Z2","slot_count":2}`, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.role, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestCreateConfigRequest(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/devices/ABC123/config-requests", auth.RoleOperator,
		`{"config":{"record_interval":300},"priority":5}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}
	req := decode[command.Request](t, rec)
	if req.Status != command.StatusPending || req.Priority != 5 || req.DeviceID != env.zion.ID {
		t.Errorf("request = %+v", req)
	}

	next, err := env.queue.NextPendingFor(context.Background(), env.zion.ID)
	if err != nil || next == nil || next.ID != req.ID {
		t.Errorf("NextPendingFor() = %+v, %v", next, err)
	}
}

func TestCreateConfigRequest_Errors(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		path string
		role auth.Role
		body string
		want int
	}{
		{"viewer forbidden", "/api/v1/devices/ABC123/config-requests", auth.RoleViewer, `{"config":{"record_interval":300}}`, http.StatusForbidden},
		{"invalid json", "/api/v1/devices/ABC123/config-requests", auth.RoleOperator, `{`, http.StatusBadRequest},
		{"empty config", "/api/v1/devices/ABC123/config-requests", auth.RoleOperator, `{"config":{}}`, http.StatusBadRequest},
		{"out of range", "/api/v1/devices/ABC123/config-requests", auth.RoleOperator, `{"config":{"record_interval":0}}`, http.StatusUnprocessableEntity},
		{"unknown device", "/api/v1/devices/NOPE/config-requests", auth.RoleAdmin, `{"config":{"record_interval":300}}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.role, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestListAndGetConfigRequests(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	first, err := env.queue.Enqueue(ctx, env.zion.ID, map[string]any{"record_interval": 60}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := env.queue.Enqueue(ctx, env.zion.ID, map[string]any{"record_interval": 120}, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	foreign, err := env.queue.Enqueue(ctx, env.other.ID, map[string]any{"record_interval": 60}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices/ABC123/config-requests", auth.RoleViewer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decode[struct {
		ConfigRequests []command.Request `json:"config_requests"`
		Count          int               `json:"count"`
	}](t, rec)
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/ABC123/config-requests?limit=1", auth.RoleViewer, "")
	if got := decode[struct {
		Count int `json:"count"`
	}](t, rec).Count; got != 1 {
		t.Errorf("limited count = %d, want 1", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/ABC123/config-requests?limit=zero", auth.RoleViewer, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/ABC123/config-requests/"+first.ID, auth.RoleViewer, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/ABC123/config-requests/"+foreign.ID, auth.RoleViewer, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign request status = %d, want 404", rec.Code)
	}
}

func TestCancelConfigRequest(t *testing.T) {
	env := testServer(t)

	req, err := env.queue.Enqueue(context.Background(), env.zion.ID, map[string]any{"record_interval": 60}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	path := "/api/v1/devices/ABC123/config-requests/" + req.ID + "/cancel"

	if rec := env.do(t, http.MethodPost, path, auth.RoleOperator, ""); rec.Code != http.StatusForbidden {
		t.Errorf("operator cancel status = %d, want 403", rec.Code)
	}

	rec := env.do(t, http.MethodPost, path, auth.RoleAdmin, `{"reason":"wrong device"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	got := decode[command.Request](t, rec)
	if got.Status != command.StatusFailed || got.Error == nil || *got.Error != "wrong device" {
		t.Errorf("cancelled request = %+v", got)
	}

	if rec := env.do(t, http.MethodPost, path, auth.RoleAdmin, ""); rec.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rec.Code)
	}
}

func TestGatewayMountAndMetrics(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPost, "/gateway/zion?deviceUid=ABC123", "",
		`{"entity":{"data":{"deviceUid":"ABC123","temp":21.5}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("check-in status = %d (%s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/ABC123/readings", auth.RoleViewer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("readings status = %d", rec.Code)
	}
	if got := decode[struct {
		Count int `json:"count"`
	}](t, rec).Count; got != 1 {
		t.Errorf("stored batches = %d, want 1", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	m := decode[SystemMetrics](t, rec)
	if m.Gateway.CheckIns != 1 || m.Gateway.BatchesIngested != 1 {
		t.Errorf("gateway stats = %+v", m.Gateway)
	}
	if m.Devices.Total != 2 || m.Devices.ByStatus["online"] != 1 || m.Devices.ByVendor["zion"] != 2 {
		t.Errorf("device metrics = %+v", m.Devices)
	}
	if m.MQTT.Enabled {
		t.Error("MQTT should be reported as disabled")
	}
	if m.InfluxDB.Enabled || m.InfluxDB.Stats != nil {
		t.Errorf("InfluxDB metrics = %+v, want disabled", m.InfluxDB)
	}
}

type fixedMirror struct {
	stats influxdb.Stats
}

func (m fixedMirror) Stats() influxdb.Stats { return m.stats }

func TestMetrics_InfluxDBMirror(t *testing.T) {
	env := testServer(t)
	env.srv.mirror = fixedMirror{stats: influxdb.Stats{
		Connected:      true,
		PointsQueued:   12,
		WriteErrors:    1,
		LastWriteError: "bucket not found",
	}}

	rec := env.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	m := decode[SystemMetrics](t, rec)
	if !m.InfluxDB.Enabled || m.InfluxDB.Stats == nil {
		t.Fatalf("InfluxDB metrics = %+v", m.InfluxDB)
	}
	if m.InfluxDB.Stats.PointsQueued != 12 || m.InfluxDB.Stats.WriteErrors != 1 {
		t.Errorf("InfluxDB stats = %+v", *m.InfluxDB.Stats)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := testServer(t)

	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func testHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

// subscribeClient registers a connectionless client and applies payload as
// a subscribe request, returning the reply.
func subscribeClient(t *testing.T, hub *Hub, role auth.Role, payload string) (*WSClient, WSMessage) {
	t.Helper()
	c := newWSClient(hub, nil, "tester", role)
	hub.register(c)
	c.handleMessage([]byte(`{"type":"subscribe","id":"s1","payload":` + payload + `}`))
	return c, nextMessage(t, c)
}

func nextMessage(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for websocket message")
		return WSMessage{}
	}
}

func assertNoMessage(t *testing.T, c *WSClient) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Errorf("unexpected message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := testHub(t)

	readings, _ := subscribeClient(t, hub, auth.RoleViewer, `{"channels":["reading.ingested"]}`)
	status, _ := subscribeClient(t, hub, auth.RoleViewer, `{"channels":["device.status_changed"]}`)

	hub.Broadcast(events.ChannelReading, "ABC123", map[string]any{"device_uid": "ABC123"})

	msg := nextMessage(t, readings)
	if msg.Type != WSTypeEvent || msg.EventType != events.ChannelReading || msg.DeviceUID != "ABC123" {
		t.Errorf("event = %+v", msg)
	}
	assertNoMessage(t, status)

	if hub.ClientCount() != 2 {
		t.Errorf("client count = %d, want 2", hub.ClientCount())
	}
	hub.unregister(status)
	hub.unregister(status)
	if hub.ClientCount() != 1 {
		t.Errorf("after unregister count = %d, want 1", hub.ClientCount())
	}
}

func TestHub_DeviceFilter(t *testing.T) {
	hub := testHub(t)

	filtered, reply := subscribeClient(t, hub, auth.RoleViewer,
		`{"channels":["reading.ingested","config_request.changed"],"device_uids":["ABC123"]}`)
	if reply.Type != WSTypeResponse || reply.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", reply)
	}
	all, _ := subscribeClient(t, hub, auth.RoleViewer, `{"channels":["reading.ingested","config_request.changed"]}`)

	hub.Broadcast(events.ChannelReading, "XYZ789", "other device")
	assertNoMessage(t, filtered)
	if msg := nextMessage(t, all); msg.DeviceUID != "XYZ789" {
		t.Errorf("unfiltered client event = %+v", msg)
	}

	hub.Broadcast(events.ChannelReading, "ABC123", "watched device")
	if msg := nextMessage(t, filtered); msg.DeviceUID != "ABC123" {
		t.Errorf("filtered client event = %+v", msg)
	}
	nextMessage(t, all)

	// A config event whose device could not be resolved carries no UID.
	hub.Broadcast(events.ChannelConfigRequest, "", "unresolved")
	assertNoMessage(t, filtered)
	nextMessage(t, all)
}

func TestHub_SubscribeValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"unknown channel", `{"channels":["reading.ingested","system.shutdown"]}`, "unknown channel: system.shutdown"},
		{"no channels", `{"channels":[]}`, "subscribe requires a channels list"},
		{"malformed", `"reading.ingested"`, "subscribe requires a channels list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := testHub(t)
			c, reply := subscribeClient(t, hub, auth.RoleViewer, tt.payload)

			if reply.Type != WSTypeError {
				t.Fatalf("reply = %+v, want error", reply)
			}
			payload, _ := reply.Payload.(map[string]any)
			if payload["message"] != tt.wantErr {
				t.Errorf("error message = %v, want %q", payload["message"], tt.wantErr)
			}

			// A rejected request applies nothing.
			hub.Broadcast(events.ChannelReading, "ABC123", "x")
			assertNoMessage(t, c)
		})
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := testHub(t)
	c, _ := subscribeClient(t, hub, auth.RoleViewer, `{"channels":["reading.ingested"],"device_uids":["ABC123"]}`)

	c.handleMessage([]byte(`{"type":"unsubscribe","id":"u1","payload":{"channels":["reading.ingested"]}}`))
	reply := nextMessage(t, c)
	if reply.Type != WSTypeResponse || reply.ID != "u1" {
		t.Fatalf("unsubscribe reply = %+v", reply)
	}

	hub.Broadcast(events.ChannelReading, "ABC123", "x")
	assertNoMessage(t, c)

	c.handleMessage([]byte(`{"type":"ping","id":"p1"}`))
	if pong := nextMessage(t, c); pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("ping reply = %+v", pong)
	}
	c.handleMessage([]byte(`{"type":"bogus"}`))
	if msg := nextMessage(t, c); msg.Type != WSTypeError {
		t.Errorf("unknown type reply = %+v", msg)
	}
}

func TestWebSocket_Auth(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	for _, url := range []string{base, base + "?token=invalid"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("Dial(%s) should fail", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Dial(%s) response = %v, want 401", url, resp)
		}
	}
}

func TestWebSocket_ConfigRequestEvent(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := fmt.Sprintf("ws%s/api/v1/ws?token=%s", strings.TrimPrefix(ts.URL, "http"), token(t, auth.RoleViewer))
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{events.ChannelConfigRequest}},
	}
	if err := ws.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", ack)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/devices/ABC123/config-requests", auth.RoleOperator,
		`{"config":{"record_interval":300}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	var ev WSMessage
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != WSTypeEvent || ev.EventType != events.ChannelConfigRequest {
		t.Errorf("event = %+v", ev)
	}
	payload, ok := ev.Payload.(map[string]any)
	if !ok || payload["device_uid"] != "ABC123" {
		t.Errorf("payload = %v", ev.Payload)
	}
}
