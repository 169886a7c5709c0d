// Command edge runs one edge node: it heartbeats to its hub, pulls
// artifacts into a local cache on request, and serves its own REST and
// QUIC surfaces so it can act as a swarm seeder for the hub and other
// edges once it holds verified bytes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artifactkeeper/borgcore/internal/api"
	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/config"
	"github.com/artifactkeeper/borgcore/internal/edgeclient"
	"github.com/artifactkeeper/borgcore/internal/logging"
	"github.com/artifactkeeper/borgcore/internal/p2p"
	"github.com/artifactkeeper/borgcore/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML ops overlay")
	quicAddr := flag.String("quic-addr", ":0", "address this edge's QUIC seeder listens on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("edge: load config: %v", err)
	}
	if cfg.EdgeID == "" {
		log.Fatal("edge: edge_id must be set in the ops config")
	}
	if cfg.HubURL == "" {
		log.Fatal("edge: hub_url must be set in the ops config")
	}
	logger := logging.New(nil, cfg.LogLevel)

	if err := run(cfg, *quicAddr, logger); err != nil {
		logger.WithError(err).Fatal("edge: exited with error")
	}
}

func run(cfg config.Config, quicAddr string, logger *logrus.Logger) error {
	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	sessions := store.NewSessionStore(db)

	client := edgeclient.New(cfg.HubURL, cfg.EdgeID)

	heartbeater := edgeclient.NewHeartbeater(client, func() uint64 {
		used, err := sessions.CacheSize(context.Background())
		if err != nil {
			logger.WithError(err).Warn("edge: cache size lookup failed")
			return 0
		}
		return used
	})
	heartbeater.Log = logger

	puller := edgeclient.NewPuller(client, sessions)
	puller.Threshold = edgeclient.DefaultChunkedTransferThreshold
	puller.Log = logger

	transport, err := p2p.NewTransport(quicAddr)
	if err != nil {
		return err
	}
	defer transport.Close()
	p2pServer := p2p.NewServer(transport, sessions, logger)

	srv := api.New(logger)
	srv.Sessions = sessions

	pd := &pullDispatcher{puller: puller, log: logger}
	srv.Mux().HandleFunc("POST /local/pull", pd.handlePull)

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Mux(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go heartbeater.Run(ctx)
	go p2pServer.Run(ctx)
	go func() {
		logger.WithField("addr", cfg.Listen).Info("edge: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("edge: http server failed")
		}
	}()
	logger.WithField("addr", transport.LocalAddr().String()).Info("edge: quic seeder listening")

	<-ctx.Done()
	logger.Info("edge: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// pullDispatcher exposes an on-demand "cache this artifact" trigger,
// mirroring a cache-miss-driven fetch without pinning it to any one
// upstream event source (a registry webhook, an operator script, and so
// on can all call it the same way).
type pullDispatcher struct {
	puller *edgeclient.Puller
	log    *logrus.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

type pullRequest struct {
	ArtifactID string `json:"artifact_id"`
	SizeBytes  uint64 `json:"size_bytes"`
}

func (d *pullDispatcher) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.ArtifactID == "" {
		http.Error(w, "artifact_id is required", http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	if d.inFlight == nil {
		d.inFlight = make(map[string]bool)
	}
	if d.inFlight[req.ArtifactID] {
		d.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		return
	}
	d.inFlight[req.ArtifactID] = true
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.inFlight, req.ArtifactID)
			d.mu.Unlock()
		}()
		ctx := context.Background()
		if err := d.puller.Pull(ctx, req.ArtifactID, req.SizeBytes); err != nil {
			if apierr.Is(err, apierr.MalformedInput) {
				d.log.WithField("artifact_id", req.ArtifactID).Debug("edge: below chunked-transfer threshold, caller should fetch whole")
				return
			}
			d.log.WithError(err).WithField("artifact_id", req.ArtifactID).Warn("edge: pull failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}
