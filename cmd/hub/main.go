// Command hub runs the artifact registry's replication hub: the swarm
// coordinator that opens and drives every transfer session (both
// scheduler-pushed and edge-initiated), aggregates verified chunk bytes
// into its own content-addressed cache, and serves the REST surface every
// edge calls to heartbeat, pull artifacts, and report peer probes.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artifactkeeper/borgcore/internal/api"
	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/availability"
	"github.com/artifactkeeper/borgcore/internal/config"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/logging"
	"github.com/artifactkeeper/borgcore/internal/metrics"
	"github.com/artifactkeeper/borgcore/internal/peercatalog"
	"github.com/artifactkeeper/borgcore/internal/scheduler"
	"github.com/artifactkeeper/borgcore/internal/scheduler/tokenbucket"
	"github.com/artifactkeeper/borgcore/internal/store"
	"github.com/artifactkeeper/borgcore/internal/transfer"
)

// selfNodeID is how the hub identifies itself in internal/peercatalog's
// (source, target) probe table — it probes every edge from its own vantage
// point regardless of which edge ultimately requested an artifact.
const selfNodeID = "hub"

// defaultBandwidthBPS gates an edge with no configured max_download_bps,
// standing in for "unconfigured, don't throttle to a token bucket of one".
const defaultBandwidthBPS = 100 << 20 // 100 MiB/s

const (
	drainInterval = 5 * time.Second
	scanInterval  = time.Minute
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML ops overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("hub: load config: %v", err)
	}
	logger := logging.New(nil, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("hub: exited with error")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}

	sessions := store.NewSessionStore(db)
	manifests := store.NewManifestStore(db)
	repos := store.NewRepoStore(db)
	edges := store.NewEdgeStore(db)
	peerConns := store.NewPeerConnectionStore(db)
	queue := store.NewTaskQueue(db)
	availStore := store.NewAvailabilityStore(db)

	staleAfter := time.Duration(cfg.StaleHeartbeatMinutes) * time.Minute
	liveness := edgeLiveness{edges: edges, staleAfter: staleAfter}
	avail := availability.New(availStore, liveness)
	catalog := peercatalog.New(peerConns, edges, peercatalog.WithStaleHeartbeat(staleAfter))

	peers := transfer.SwarmPeerSource{Availability: avail, Catalog: catalog, TargetNode: selfNodeID}
	router := transfer.StaticRouter{Fetcher: transfer.NewPeerHTTPFetcher(nil, edgeEndpoints{edges: edges})}

	engine := transfer.NewEngine(sessions, avail, peers, manifests, router, sessions, sessions)
	engine.Bandwidth = tokenbucket.NewPerEdge(func(edgeID string) uint64 {
		edge, err := edges.Get(context.Background(), edgeID)
		if err != nil || edge.MaxDownloadBPS == 0 {
			return defaultBandwidthBPS
		}
		return edge.MaxDownloadBPS
	})
	engine.Window = scheduler.NewSyncWindowGate(edges)
	engine.Edges = edges
	engine.Log = logger

	replicationMetrics := metrics.Init(nil)
	engine.Metrics = replicationMetrics

	sched := scheduler.New(repos, repos, repos, edges, sessions, manifests, engine, queue)
	sched.Metrics = replicationMetrics
	sched.Tuning = cfg.Tuning
	sched.Log = logger

	srv := api.New(logger)
	srv.Scheduler = sched
	srv.Engine = engine
	srv.Sessions = sessions
	srv.Manifests = manifests
	srv.Availability = avail
	srv.Catalog = catalog
	srv.Repos = repos
	srv.Edges = edges
	srv.Tuning = cfg.Tuning

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Mux(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sched.Drain(ctx)
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sched.Scan(ctx, time.Now())
			}
		}
	}()
	go sched.RunMetricsSnapshots(ctx, 0)

	prober := &peercatalog.Prober{
		Catalog:  catalog,
		Source:   selfNodeID,
		Targets:  edges,
		Probe:    healthzProbe(nil, edgeEndpoints{edges: edges}),
		Interval: time.Duration(cfg.Tuning.PeerProbeIntervalSecs) * time.Second,
		Log:      logger,
	}
	go prober.Run(ctx)

	go func() {
		logger.WithField("addr", cfg.Listen).Info("hub: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("hub: http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("hub: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// edgeLiveness adapts store.EdgeStore into availability.LivenessSource,
// joining seeder liveness from the same last-heartbeat fields
// internal/peercatalog already uses to filter stale peers.
type edgeLiveness struct {
	edges      *store.EdgeStore
	staleAfter time.Duration
}

func (l edgeLiveness) IsLive(ctx context.Context, edgeID string) (bool, error) {
	edge, err := l.edges.GetEdge(ctx, edgeID)
	if err != nil {
		return false, err
	}
	return edge.IsLive(time.Now(), l.staleAfter), nil
}

// edgeEndpoints adapts store.EdgeStore into transfer.EdgeEndpointSource so
// the hub's chunk fetcher can resolve a swarm peer's REST base URL by id.
type edgeEndpoints struct {
	edges *store.EdgeStore
}

func (e edgeEndpoints) EndpointFor(ctx context.Context, edgeID string) (string, error) {
	edge, err := e.edges.GetEdge(ctx, edgeID)
	if err != nil {
		return "", err
	}
	return edge.Endpoint, nil
}

// healthzProbe builds a peercatalog.ProbeFunc that times a GET of target's
// /healthz endpoint. It never estimates bandwidth — that dimension is left
// to the passive EMA that chunk transfers already feed into the catalog.
func healthzProbe(client *http.Client, endpoints transfer.EdgeEndpointSource) peercatalog.ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context, target domain.EdgeNode) (float64, float64, error) {
		base, err := endpoints.EndpointFor(ctx, target.ID)
		if err != nil {
			return 0, 0, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
		if err != nil {
			return 0, 0, err
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return 0, 0, err
		}
		defer resp.Body.Close()
		elapsed := time.Since(start)
		if resp.StatusCode != http.StatusOK {
			return 0, 0, apierr.New(apierr.TransportError, "healthz probe returned non-200")
		}
		return float64(elapsed.Milliseconds()), 0, nil
	}
}
