package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/metrics"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/stream"
)

// maxIngestBody bounds a single HTTP ingest request. Per-message
// payload bounds are enforced downstream.
const maxIngestBody = 1 << 20

// Server is the HTTP side of the ingest boundary. It also serves the
// metrics endpoint.
type Server struct {
	store    stream.Store
	server   *http.Server
	shutdown time.Duration
	log      *log.Logger
	now      func() time.Time
}

// NewServer creates the HTTP server with the ingest and metrics routes.
func NewServer(cfg *config.HTTPConfig, store stream.Store, m *metrics.Metrics, logger *log.Logger) *Server {
	s := &Server{
		store:    store,
		shutdown: cfg.ShutdownTimeout,
		log:      logger,
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the mux. Test hook.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// handleIngest appends the posted envelope and answers 202 immediately.
// Validation is the ingest workers' job; the only synchronous rejects
// are an unreadable or undecodable body.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}

	var env envelope.Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Topic == "" {
		http.Error(w, "body must be a JSON envelope with a topic", http.StatusBadRequest)
		return
	}
	if env.TS == 0 {
		env.TS = s.now().UnixMilli()
	}

	class := envelope.ClassTelemetry
	partition := "unknown"
	if parts, err := envelope.ParseTopic(env.Topic); err == nil {
		env.TenantID = parts.TenantID
		env.DeviceID = parts.DeviceID
		env.MsgType = parts.MsgType
		class = envelope.ClassForType(parts.MsgType)
		partition = parts.TenantID
	}

	data, err := env.Encode()
	if err != nil {
		http.Error(w, "envelope not encodable", http.StatusBadRequest)
		return
	}
	if _, err := s.store.Publish(r.Context(), class, partition, data); err != nil {
		s.log.Error("Failed to append ingest request: %v", err)
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
