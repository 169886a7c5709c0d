// Package scheduler decides when a transfer session starts and how many
// may run concurrently on an edge. It resolves each
// (edge, repo) assignment's effective priority, enqueues P0/P1 work,
// and pre-empts lower-priority sessions when an edge's concurrency
// budget is saturated.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/config"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/manifest"
	"github.com/artifactkeeper/borgcore/internal/metrics"
	"github.com/artifactkeeper/borgcore/internal/scheduler/cronsched"
	"github.com/artifactkeeper/borgcore/internal/transfer"
)

// Scheduling priorities for the durable sync_tasks queue. Lower values are dequeued first.
const (
	QueuePriorityImmediate = 0
	QueuePriorityCron      = 10
)

// RepoSource resolves a repository's default replication priority.
type RepoSource interface {
	DefaultPriority(ctx context.Context, repoID string) (domain.Priority, error)
}

// AssignmentSource lists (edge, repo) assignments the scheduler must scan.
type AssignmentSource interface {
	ActiveAssignments(ctx context.Context) ([]domain.RepoAssignment, error)
}

// ArtifactSource resolves the artifacts a repo assignment still owes to
// its edge, used when a P1 cron fires.
type ArtifactSource interface {
	PendingArtifacts(ctx context.Context, edgeID, repoID string) ([]string, error)
}

// EdgeSource resolves an edge's concurrency budget and liveness.
type EdgeSource interface {
	Get(ctx context.Context, edgeID string) (domain.EdgeNode, error)
}

// SessionRunner drives one transfer session end to end. *transfer.Engine
// satisfies this directly.
type SessionRunner interface {
	Open(ctx context.Context, sess domain.TransferSession, man *manifest.Manifest) error
	Run(ctx context.Context, sessionID string, opts transfer.Options) error
}

// Scheduler coordinates session starts, pre-emption, and cron-driven
// enqueue across all edges. One Scheduler instance is process-wide.
type Scheduler struct {
	Repos       RepoSource
	Assignments AssignmentSource
	Artifacts   ArtifactSource
	Edges       EdgeSource
	Sessions    transfer.SessionStore
	Manifests   transfer.ManifestSource
	Runner      SessionRunner
	Queue       TaskQueue
	Log         *logrus.Logger

	// Tuning carries the operator-configurable transfer knobs into every
	// session this scheduler dispatches. Zero value falls back to
	// internal/transfer's and internal/assign's own package defaults.
	Tuning config.Tuning

	// Metrics is optional; nil disables gauge snapshotting.
	Metrics *metrics.Replication

	mu        sync.Mutex
	edges     map[string]*edgeRuntime
	lastFired map[string]time.Time // assignment key -> last cron fire consumed
}

func New(repos RepoSource, assignments AssignmentSource, artifacts ArtifactSource, edges EdgeSource, sessions transfer.SessionStore, manifests transfer.ManifestSource, runner SessionRunner, queue TaskQueue) *Scheduler {
	return &Scheduler{
		Repos:       repos,
		Assignments: assignments,
		Artifacts:   artifacts,
		Edges:       edges,
		Sessions:    sessions,
		Manifests:   manifests,
		Runner:      runner,
		Queue:       queue,
		Tuning:      config.DefaultTuning(),
		Log:         logrus.StandardLogger(),
		edges:       make(map[string]*edgeRuntime),
		lastFired:   make(map[string]time.Time),
	}
}

// OnPublish resolves the effective priority for (edgeID, repoID) and, for
// P0, enqueues an immediate session start for artifactID. P1 assignments
// wait for their cron; P2 assignments never enqueue (pull-based); P3
// assignments are skipped entirely.
func (s *Scheduler) OnPublish(ctx context.Context, edgeID, repoID, artifactID string, override *domain.Priority) error {
	repoDefault, err := s.Repos.DefaultPriority(ctx, repoID)
	if err != nil {
		return err
	}
	effective := domain.EffectivePriority(override, repoDefault)
	switch effective {
	case domain.PriorityLocalOnly:
		return nil
	case domain.PriorityImmediate:
		return s.Queue.Enqueue(ctx, domain.SyncTask{
			ID:                 uuid.NewString(),
			EdgeID:             edgeID,
			ArtifactID:         artifactID,
			SchedulingPriority: QueuePriorityImmediate,
			EnqueuedAt:         nowFunc(),
		})
	default:
		// P1 and P2 do not enqueue from a publish event: P1 waits for its
		// cron, P2 is pull-based.
		return nil
	}
}

// Scan resolves every active assignment's effective priority and, for P1
// assignments whose cron has fired since the last scan, enqueues their
// still-pending artifacts at QueuePriorityCron. Call this periodically
// (e.g. every minute) from a supervised loop; a single assignment's
// failure to resolve is logged and does not block the rest of the scan.
func (s *Scheduler) Scan(ctx context.Context, now time.Time) {
	assignments, err := s.Assignments.ActiveAssignments(ctx)
	if err != nil {
		s.Log.WithError(err).Warn("scheduler: failed to list assignments, retrying next scan")
		return
	}
	for _, a := range assignments {
		if err := s.scanOne(ctx, a, now); err != nil {
			s.Log.WithError(err).WithFields(logrus.Fields{
				"edge_id": a.EdgeID,
				"repo_id": a.RepoID,
			}).Warn("scheduler: assignment scan failed, isolated from other assignments")
		}
	}
}

func (s *Scheduler) scanOne(ctx context.Context, a domain.RepoAssignment, now time.Time) error {
	repoDefault, err := s.Repos.DefaultPriority(ctx, a.RepoID)
	if err != nil {
		return err
	}
	effective := domain.EffectivePriority(a.PriorityOverride, repoDefault)
	if effective != domain.PriorityScheduled {
		return nil
	}
	key := a.EdgeID + "/" + a.RepoID
	next, err := cronsched.NextFire(a.Schedule, s.lastFire(key, a.LastReplicatedAt), time.UTC)
	if err != nil {
		return err
	}
	if now.Before(next) {
		return nil
	}
	s.setLastFire(key, now)
	artifacts, err := s.Artifacts.PendingArtifacts(ctx, a.EdgeID, a.RepoID)
	if err != nil {
		return err
	}
	for _, artifactID := range artifacts {
		if err := s.Queue.Enqueue(ctx, domain.SyncTask{
			ID:                 uuid.NewString(),
			EdgeID:             a.EdgeID,
			ArtifactID:         artifactID,
			SchedulingPriority: QueuePriorityCron,
			EnqueuedAt:         now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) lastFire(key string, fallback time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.lastFired[key]; ok {
		return t
	}
	return fallback
}

func (s *Scheduler) setLastFire(key string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFired[key] = t
}

// DefaultMetricsSnapshotInterval is how often RunMetricsSnapshots samples
// gauge-style metrics that have no natural state-transition hook.
const DefaultMetricsSnapshotInterval = 5 * time.Minute

// RunMetricsSnapshots periodically samples queue depth into Metrics until
// ctx is done. A no-op if Metrics is nil.
func (s *Scheduler) RunMetricsSnapshots(ctx context.Context, interval time.Duration) {
	if s.Metrics == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultMetricsSnapshotInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.snapshotQueueDepth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshotQueueDepth(ctx)
		}
	}
}

func (s *Scheduler) snapshotQueueDepth(ctx context.Context) {
	depth, err := s.Queue.Depth(ctx)
	if err != nil {
		s.Log.WithError(err).Warn("scheduler: failed to sample queue depth")
		return
	}
	s.Metrics.SchedulerQueueDepth.Set(float64(depth))
}

// Drain pulls queued tasks and dispatches them to their edge's runtime
// until the queue reports empty or ctx is done. A task whose session
// fails to start (saturated edge, no pre-emptable victim) is logged and
// dropped. Only P1 work comes back on its own: Scan enqueues an
// assignment's still-pending artifacts again at its next cron fire.
func (s *Scheduler) Drain(ctx context.Context) {
	for {
		task, err := s.Queue.Dequeue(ctx)
		if err != nil {
			s.Log.WithError(err).Warn("scheduler: queue dequeue failed")
			return
		}
		if task == nil {
			return
		}
		priority := domain.PriorityOnDemand
		if task.SchedulingPriority == QueuePriorityImmediate {
			priority = domain.PriorityImmediate
		} else if task.SchedulingPriority == QueuePriorityCron {
			priority = domain.PriorityScheduled
		}
		if err := s.Dispatch(ctx, *task, priority); err != nil {
			s.Log.WithError(err).WithFields(logrus.Fields{
				"edge_id":     task.EdgeID,
				"artifact_id": task.ArtifactID,
			}).Warn("scheduler: dispatch failed, isolated from other tasks")
		}
	}
}

// Dispatch starts (or resumes) a session for task on its edge, respecting
// the edge's max_concurrency and pre-empting a lower-priority session if
// saturated and priority is P0.
func (s *Scheduler) Dispatch(ctx context.Context, task domain.SyncTask, priority domain.Priority) error {
	edge, err := s.Edges.Get(ctx, task.EdgeID)
	if err != nil {
		return err
	}
	rt := s.edgeRuntimeFor(task.EdgeID, edge.MaxConcurrency)

	sessionID, resumed, err := s.resolveSession(ctx, task)
	if err != nil {
		return err
	}

	started, err := rt.tryStart(sessionID, task.ArtifactID, priority, func(runCtx context.Context) {
		s.runSession(runCtx, task.EdgeID, sessionID, task.ArtifactID, priority, resumed)
	})
	if err != nil {
		return err
	}
	if !started {
		return apierr.New(apierr.ResourceExhausted, "edge saturated, no pre-emptable session")
	}
	return nil
}

// resolveSession finds an existing non-terminal session for (edge,
// artifact) to resume, or allocates a new session id. The ":" separator
// keeps the id usable as a single net/http path segment in internal/api's
// transfer routes.
func (s *Scheduler) resolveSession(ctx context.Context, task domain.SyncTask) (sessionID string, resumed bool, err error) {
	candidateID := task.EdgeID + ":" + task.ArtifactID
	existing, getErr := s.Sessions.GetSession(ctx, candidateID)
	if getErr == nil && existing != nil {
		if isTerminal(existing.Status) {
			return candidateID, false, nil
		}
		return existing.ID, true, nil
	}
	return candidateID, false, nil
}

func isTerminal(status domain.SessionStatus) bool {
	return status == domain.SessionCompleted || status == domain.SessionFailed || status == domain.SessionCancelled
}

// runSession opens (if new) and runs a session to a terminal or
// pre-empted outcome, recovering from panics so one session's bug never
// takes down the scheduler's dispatch loop.
func (s *Scheduler) runSession(ctx context.Context, edgeID, sessionID, artifactID string, priority domain.Priority, resumed bool) {
	defer s.releaseSlot(edgeID, sessionID)
	defer func() {
		if r := recover(); r != nil {
			s.Log.WithField("session_id", sessionID).Errorf("scheduler: session goroutine panicked: %v", r)
		}
	}()

	if !resumed {
		man, err := s.Manifests.ManifestFor(ctx, artifactID)
		if err != nil {
			s.Log.WithError(err).WithField("session_id", sessionID).Warn("scheduler: manifest lookup failed")
			return
		}
		sess := domain.TransferSession{
			ID:         sessionID,
			ArtifactID: artifactID,
			TargetNode: edgeID,
			Status:     domain.SessionPending,
			CreatedAt:  nowFunc(),
		}
		if err := s.Runner.Open(ctx, sess, man); err != nil {
			s.Log.WithError(err).WithField("session_id", sessionID).Warn("scheduler: session open failed")
			return
		}
	}

	opts := transfer.Options{
		Priority:                    priority,
		MaxConcurrentChunkDownloads: s.Tuning.MaxConcurrentChunkDownloads,
		RarestFirstThreshold:        s.Tuning.RarestFirstThreshold,
		MaxBackoffSecs:              s.Tuning.MaxBackoffSecs,
	}
	if err := s.Runner.Run(ctx, sessionID, opts); err != nil {
		if ctx.Err() != nil {
			// Cancelled by pre-emption, not a real failure; the session
			// stays in whatever non-terminal status Run left it in and
			// resumes from its own verified-chunk state later.
			return
		}
		s.Log.WithError(err).WithField("session_id", sessionID).Warn("scheduler: session run failed")
	}
}

func (s *Scheduler) releaseSlot(edgeID, sessionID string) {
	s.mu.Lock()
	rt := s.edges[edgeID]
	s.mu.Unlock()
	if rt == nil {
		return
	}
	rt.release(sessionID)
}

func (s *Scheduler) edgeRuntimeFor(edgeID string, maxConcurrency int) *edgeRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.edges[edgeID]
	if !ok || rt.maxConcurrency != maxConcurrency {
		rt = newEdgeRuntime(maxConcurrency)
		s.edges[edgeID] = rt
	}
	return rt
}

// nowFunc is a seam for tests; production code always uses time.Now.
var nowFunc = func() time.Time { return time.Now() }
