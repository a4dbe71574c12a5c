package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/loggergw/internal/auth"
	"github.com/nerrad567/loggergw/internal/infrastructure/config"
	"github.com/nerrad567/loggergw/internal/infrastructure/mqtt"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// writeConfig writes a minimal standalone config (no MQTT, no InfluxDB)
// and points LOGGERGW_CONFIG at it.
func writeConfig(t *testing.T, dbPath string, port int) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := fmt.Sprintf(`
gateway:
  site_id: test-site
  offline_after: 600
  offline_check_interval: 60

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: %d

security:
  jwt:
    secret: %q
    access_token_ttl: 15
`, dbPath, port, testJWTSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("LOGGERGW_CONFIG", configPath)
	return configPath
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("LOGGERGW_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_InvalidDatabasePath(t *testing.T) {
	// A regular file where the database directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	writeConfig(t, filepath.Join(blocker, "loggergw.db"), 18731)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the database cannot be opened")
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	const port = 18732
	writeConfig(t, filepath.Join(t.TempDir(), "test.db"), port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(healthURL) //nolint:gosec,noctx // Test request to local server
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server never became healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/gateway/zion", port), "application/json", strings.NewReader(`{}`)) //nolint:gosec,noctx // Test request to local server
	if err != nil {
		t.Fatalf("check-in request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("check-in without identifier status = %d, want 400", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("LOGGERGW_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("LOGGERGW_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestNewDeadLetterSink(t *testing.T) {
	topics := mqtt.NewTopics("")

	sink, closeFn, err := newDeadLetterSink(config.DeadLetterConfig{Sink: config.DeadLetterSinkNone}, nil, topics)
	if err != nil || sink != nil {
		t.Errorf("none sink = %v, %v; want nil, nil", sink, err)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close() error = %v", err)
	}

	if _, _, err := newDeadLetterSink(config.DeadLetterConfig{Sink: config.DeadLetterSinkMQTT}, nil, topics); err == nil {
		t.Error("mqtt sink without a client should fail")
	}

	sink, closeFn, err = newDeadLetterSink(config.DeadLetterConfig{
		Sink:  config.DeadLetterSinkKafka,
		Kafka: config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "dl"},
	}, nil, topics)
	if err != nil || sink == nil {
		t.Fatalf("kafka sink = %v, %v", sink, err)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close() error = %v", err)
	}
}

func TestRunToken(t *testing.T) {
	writeConfig(t, filepath.Join(t.TempDir(), "test.db"), 18733)

	var out bytes.Buffer
	if err := runToken([]string{"-subject", "ops", "-role", "operator"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testJWTSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %+v", claims)
	}

	if err := runToken([]string{"-subject", "ops", "-role", "owner"}, &out); err == nil {
		t.Error("runToken() with an unknown role should fail")
	}
}
