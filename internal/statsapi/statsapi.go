// Package statsapi is the daemon's optional HTTP surface, enabled by
// `daemon.enable_stats` (spec.md §6 config, SPEC_FULL.md §B): a
// Prometheus `/metrics` endpoint and a `/status` JSON endpoint reporting
// registry stats. Routing follows the teacher's httprouter + promhttp
// wiring in lib/api/api.go (restMux := httprouter.New(); promhttp.Handler()
// mounted at "/metrics").
package statsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zachhandley/fakenotify/internal/logging"
	"github.com/zachhandley/fakenotify/internal/registry"
)

var l = logging.New("statsapi", "metrics and status HTTP surface")

// Server exposes /metrics and /status over plain HTTP. It implements the
// same suture.Service-compatible Serve(ctx) signature used elsewhere in
// the daemon (internal/ipcserver.Server).
type Server struct {
	Addr     string
	Registry *registry.Registry

	srv *http.Server
}

// Serve binds Addr and serves until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/metrics", promhttp.Handler().ServeHTTP)
	router.HandlerFunc(http.MethodGet, "/status", s.getStatus)

	s.srv = &http.Server{Addr: s.Addr, Handler: router}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("statsapi: listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	l.Infof("stats API listening on %s", s.Addr)

	select {
	case <-ctx.Done():
		return s.srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("statsapi: serve: %w", err)
	}
}

// statusResponse is the JSON body returned by /status.
type statusResponse struct {
	UptimeSeconds uint64 `json:"uptime_seconds"`
	TotalClients  int    `json:"total_clients"`
	TotalWatches  int    `json:"total_watches"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.Registry.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{ //nolint:errcheck
		UptimeSeconds: stats.UptimeSeconds,
		TotalClients:  stats.TotalClients,
		TotalWatches:  stats.TotalWatches,
	})
}
