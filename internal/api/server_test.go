package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nerrad567/span-bridge/internal/bridge"
	"github.com/nerrad567/span-bridge/internal/infrastructure/config"
	"github.com/nerrad567/span-bridge/internal/infrastructure/logging"
)

// stubSession implements bridge.Session for handler tests.
type stubSession struct {
	connected bool
}

func (s *stubSession) Subscribe(string, byte, func(string, []byte, byte, bool)) error { return nil }
func (s *stubSession) Publish(string, []byte, byte, bool) error                       { return nil }
func (s *stubSession) IsConnected() bool                                              { return s.connected }
func (s *stubSession) WaitConnected(context.Context) error                            { return nil }
func (s *stubSession) SetOnConnect(func())                                            {}
func (s *stubSession) SetOnDisconnect(func(error))                                    {}
func (s *stubSession) SetOnFatalConnectError(func(error))                             {}
func (s *stubSession) Close() error                                                   { return nil }

func testServer(t *testing.T, connected bool) *Server {
	t.Helper()

	cfg := &config.Config{
		Bridge: config.BridgeConfig{
			ID:             "test-bridge",
			QueueDepth:     8,
			StartupTimeout: 1,
			FingerprintTTL: 60,
		},
		Rules: []config.RuleConfig{
			{Source: "a", Destination: "b", Pattern: "sensors/#", Template: "out/{0}"},
		},
	}

	sup, err := bridge.NewSupervisor(bridge.SupervisorOptions{
		Config:   cfg,
		SessionA: &stubSession{connected: connected},
		SessionB: &stubSession{connected: connected},
		Logger:   logging.Default(),
	})
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(sup.Stop)

	return New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1", Port: 8181},
		Logger:     logging.Default(),
		Supervisor: sup,
		Version:    "test",
	})
}

func TestHandleHealthOK(t *testing.T) {
	server := testServer(t, true)
	router := server.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Status   string `json:"status"`
		BridgeID string `json:"bridge_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Status != "running" {
		t.Errorf("status = %q, want running", body.Status)
	}
	if body.BridgeID != "test-bridge" {
		t.Errorf("bridge_id = %q, want test-bridge", body.BridgeID)
	}
}

func TestHandleHealthDegraded(t *testing.T) {
	server := testServer(t, false)
	router := server.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleMetrics(t *testing.T) {
	server := testServer(t, true)
	router := server.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}

	var snap bridge.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if snap.ForwardedToA != 0 || snap.ForwardedToB != 0 {
		t.Errorf("expected zeroed counters, got %+v", snap)
	}
}

func TestCloseWithoutStart(t *testing.T) {
	server := testServer(t, true)
	if err := server.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}
