package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/metrics"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/stream"
)

func newTestServer(t *testing.T) (*Server, *stream.MemoryStore) {
	t.Helper()
	store := stream.NewMemoryStore(stream.Classes(time.Hour, 1000), time.Second)
	cfg := &config.HTTPConfig{
		ListenAddr:      ":0",
		ShutdownTimeout: time.Second,
	}
	return NewServer(cfg, store, metrics.New(), log.New()), store
}

func post(srv *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIngestEndpoint_Accepts(t *testing.T) {
	srv, store := newTestServer(t)

	rec := post(srv, `{"topic":"tenant/acme/device/d1/telemetry","source_identity":"tok","payload":{"v":1}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	msgs, err := store.Pull(context.Background(), "http-test", envelope.ClassTelemetry, 1, 100*time.Millisecond)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected 1 appended envelope, got %d (err %v)", len(msgs), err)
	}
	env, err := envelope.Decode(msgs[0].Data())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.TenantID != "acme" || env.DeviceID != "d1" {
		t.Errorf("identity not filled from topic: %+v", env)
	}
	if env.TS == 0 {
		t.Error("TS not stamped")
	}
}

func TestIngestEndpoint_AcceptsWithoutValidating(t *testing.T) {
	srv, store := newTestServer(t)

	// A bogus topic is the ingest workers' problem, not the endpoint's.
	rec := post(srv, `{"topic":"not/a/device/topic/x","payload":{"v":1}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	msgs, err := store.Pull(context.Background(), "http-test", envelope.ClassTelemetry, 1, 100*time.Millisecond)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected envelope appended, got %d (err %v)", len(msgs), err)
	}
}

func TestIngestEndpoint_RejectsNonEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)

	if rec := post(srv, "not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("non-JSON: status = %d", rec.Code)
	}
	if rec := post(srv, `{"payload":{"v":1}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing topic: status = %d", rec.Code)
	}
}

func TestIngestEndpoint_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pulse_") {
		t.Error("expected pulse metrics in exposition")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
