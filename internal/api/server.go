// Package api exposes the REST surface over plain net/http and a bare
// http.ServeMux rather than a framework. Routes use Go 1.22's
// method+pattern registration; handlers decode and encode JSON directly
// against the request/response body.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/artifactkeeper/borgcore/internal/availability"
	"github.com/artifactkeeper/borgcore/internal/config"
	"github.com/artifactkeeper/borgcore/internal/peercatalog"
	"github.com/artifactkeeper/borgcore/internal/scheduler"
	"github.com/artifactkeeper/borgcore/internal/store"
	"github.com/artifactkeeper/borgcore/internal/transfer"
)

// Server wires every dependency the REST handlers need behind one
// http.ServeMux.
type Server struct {
	mux *http.ServeMux

	Scheduler    *scheduler.Scheduler
	Engine       *transfer.Engine
	Sessions     *store.SessionStore
	Manifests    *store.ManifestStore
	Availability *availability.Registry
	Catalog      *peercatalog.Catalog
	Repos        *store.RepoStore
	Edges        *store.EdgeStore

	// Tuning carries the operator-configurable transfer/scheduling knobs
	// into REST-initiated engine runs and artifact ingestion. Zero value
	// falls back to internal/transfer's and internal/manifest's own
	// package defaults.
	Tuning config.Tuning

	// Registry serves /metrics. Defaults to prometheus.DefaultGatherer
	// when nil, matching wherever internal/metrics registered against.
	Registry prometheus.Gatherer

	Log *logrus.Logger
}

// New builds a Server with routes registered. Every dependency field
// should be set on the returned Server before it starts serving traffic.
func New(log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{mux: http.NewServeMux(), Log: log, Tuning: config.DefaultTuning()}
	s.routes()
	return s
}

func (s *Server) Mux() *http.ServeMux { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)

	s.mux.HandleFunc("PUT /api/v1/repositories/{id}/replication-priority", s.handleSetRepoPriority)
	s.mux.HandleFunc("POST /api/v1/repositories/{id}/artifacts", s.handleIngestArtifact)
	s.mux.HandleFunc("POST /api/v1/edge-nodes/{id}/repositories", s.handleAssignRepo)

	s.mux.HandleFunc("POST /api/v1/edge-nodes/{id}/transfer/init", s.handleTransferInit)
	s.mux.HandleFunc("GET /api/v1/edge-nodes/{id}/transfer/{sid}/chunks", s.handleTransferManifest)
	s.mux.HandleFunc("GET /api/v1/edge-nodes/{id}/transfer/{sid}/chunk/{n}", s.handleGetChunk)
	s.mux.HandleFunc("POST /api/v1/edge-nodes/{id}/transfer/{sid}/chunk/{n}/verify", s.handleVerifyChunk)
	s.mux.HandleFunc("POST /api/v1/edge-nodes/{id}/transfer/{sid}/complete", s.handleCompleteTransfer)

	s.mux.HandleFunc("GET /api/v1/edge-nodes/{id}/peers", s.handleListPeers)
	s.mux.HandleFunc("POST /api/v1/edge-nodes/{id}/peers/probe", s.handleProbeResult)

	s.mux.HandleFunc("GET /api/v1/edge-nodes/{id}/chunks/{artifact_id}", s.handleGetOwnAvailability)
	s.mux.HandleFunc("PUT /api/v1/edge-nodes/{id}/chunks/{artifact_id}", s.handlePutOwnAvailability)

	s.mux.HandleFunc("PUT /api/v1/edge-nodes/{id}/network-profile", s.handleNetworkProfile)
	s.mux.HandleFunc("POST /api/v1/edge-nodes/{id}/heartbeat", s.handleHeartbeat)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// handleMetrics serves whichever registry internal/metrics registered
// against, resolved at request time so Registry can be set on Server
// after New returns.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	gatherer := s.Registry
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
