// ABOUTME: HTTP liveness and status endpoints on a gorilla/mux router
// ABOUTME: Status reports engine state, watermark, backoff and client attachment

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/TinLe/localslackirc/internal/stream"
)

// Engine reports the stream engine state.
type Engine interface {
	Snapshot() stream.Snapshot
}

// Clients reports whether an IRC client is attached.
type Clients interface {
	Attached() bool
}

// Report is the /status body.
type Report struct {
	State          string    `json:"state"`
	LastTimestamp  float64   `json:"last_timestamp"`
	Backoff        string    `json:"backoff"`
	RetryAt        time.Time `json:"retry_at,omitzero"`
	User           string    `json:"user,omitempty"`
	Team           string    `json:"team,omitempty"`
	Queued         int       `json:"queued"`
	ClientAttached bool      `json:"client_attached"`
}

// NewRouter builds the handler for both endpoints.
func NewRouter(engine Engine, clients Clients) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := engine.Snapshot()
		report := Report{
			State:          snap.State.String(),
			LastTimestamp:  float64(snap.LastTimestamp),
			Backoff:        snap.Backoff.String(),
			RetryAt:        snap.RetryAt,
			User:           snap.Identity.Self.Name,
			Team:           snap.Identity.Team.Name,
			Queued:         snap.Queued,
			ClientAttached: clients != nil && clients.Attached(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}).Methods(http.MethodGet)
	return r
}

// Server runs the endpoints on one address.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server for addr. It does not listen yet.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "health"),
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("health endpoint listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health shutdown: %w", err)
	}
	return nil
}
