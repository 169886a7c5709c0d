package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/manifest"
	"github.com/artifactkeeper/borgcore/internal/metrics"
	"github.com/artifactkeeper/borgcore/internal/transfer"
)

type staticRepoSource map[string]domain.Priority

func (s staticRepoSource) DefaultPriority(_ context.Context, repoID string) (domain.Priority, error) {
	return s[repoID], nil
}

type staticEdgeSource map[string]domain.EdgeNode

func (s staticEdgeSource) Get(_ context.Context, edgeID string) (domain.EdgeNode, error) {
	return s[edgeID], nil
}

type staticAssignmentSource []domain.RepoAssignment

func (s staticAssignmentSource) ActiveAssignments(context.Context) ([]domain.RepoAssignment, error) {
	return s, nil
}

type staticArtifactSource map[string][]string

func (s staticArtifactSource) PendingArtifacts(_ context.Context, edgeID, repoID string) ([]string, error) {
	return s[repoID], nil
}

type memSessionStoreFake struct {
	mu       sync.Mutex
	sessions map[string]domain.TransferSession
}

func newMemSessionStoreFake() *memSessionStoreFake {
	return &memSessionStoreFake{sessions: make(map[string]domain.TransferSession)}
}

func (m *memSessionStoreFake) GetSession(_ context.Context, id string) (*domain.TransferSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSessionStoreFake) SaveSession(_ context.Context, s domain.TransferSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memSessionStoreFake) GetChunks(context.Context, string) ([]domain.TransferChunk, error) {
	return nil, nil
}

func (m *memSessionStoreFake) SaveChunk(context.Context, domain.TransferChunk) error { return nil }

var _ transfer.SessionStore = (*memSessionStoreFake)(nil)

type staticManifestSourceFake struct{ man *manifest.Manifest }

func (s staticManifestSourceFake) ManifestFor(context.Context, string) (*manifest.Manifest, error) {
	return s.man, nil
}

// blockingRunner simulates a long-running session: Run blocks until ctx
// is cancelled (pre-emption) or a completion signal fires.
type blockingRunner struct {
	mu       sync.Mutex
	openedID []string
	complete map[string]chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{complete: make(map[string]chan struct{})}
}

func (b *blockingRunner) Open(_ context.Context, sess domain.TransferSession, _ *manifest.Manifest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openedID = append(b.openedID, sess.ID)
	b.complete[sess.ID] = make(chan struct{})
	return nil
}

func (b *blockingRunner) finish(sessionID string) {
	b.mu.Lock()
	ch, ok := b.complete[sessionID]
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (b *blockingRunner) Run(ctx context.Context, sessionID string, _ transfer.Options) error {
	b.mu.Lock()
	ch := b.complete[sessionID]
	b.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{ArtifactID: "artifact-1", ChunkSize: 1024, TotalChunks: 1}
}

func TestOnPublishP0EnqueuesImmediate(t *testing.T) {
	repos := staticRepoSource{"repo-1": domain.PriorityImmediate}
	q := NewMemQueue()
	s := New(repos, nil, nil, nil, nil, nil, nil, q)

	require.NoError(t, s.OnPublish(context.Background(), "edge-1", "repo-1", "artifact-1", nil))

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, QueuePriorityImmediate, task.SchedulingPriority)
	assert.Equal(t, "artifact-1", task.ArtifactID)
}

func TestOnPublishP3NeverEnqueues(t *testing.T) {
	repos := staticRepoSource{"repo-1": domain.PriorityLocalOnly}
	q := NewMemQueue()
	s := New(repos, nil, nil, nil, nil, nil, nil, q)

	require.NoError(t, s.OnPublish(context.Background(), "edge-1", "repo-1", "artifact-1", nil))

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestOnPublishP2NeverEnqueues(t *testing.T) {
	repos := staticRepoSource{"repo-1": domain.PriorityOnDemand}
	q := NewMemQueue()
	s := New(repos, nil, nil, nil, nil, nil, nil, q)

	require.NoError(t, s.OnPublish(context.Background(), "edge-1", "repo-1", "artifact-1", nil))

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestScanEnqueuesP1OnCronFire(t *testing.T) {
	repos := staticRepoSource{"repo-1": domain.PriorityScheduled}
	assignments := staticAssignmentSource{{
		EdgeID: "edge-1", RepoID: "repo-1", SyncEnabled: true, Schedule: "0 * * * *",
		LastReplicatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	artifacts := staticArtifactSource{"repo-1": {"artifact-1", "artifact-2"}}
	q := NewMemQueue()
	s := New(repos, assignments, artifacts, nil, nil, nil, nil, q)

	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	s.Scan(context.Background(), now)

	first, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, QueuePriorityCron, first.SchedulingPriority)
}

func TestScanSkipsP1BeforeCronFire(t *testing.T) {
	repos := staticRepoSource{"repo-1": domain.PriorityScheduled}
	assignments := staticAssignmentSource{{
		EdgeID: "edge-1", RepoID: "repo-1", SyncEnabled: true, Schedule: "0 * * * *",
		LastReplicatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	artifacts := staticArtifactSource{"repo-1": {"artifact-1"}}
	q := NewMemQueue()
	s := New(repos, assignments, artifacts, nil, nil, nil, nil, q)

	now := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	s.Scan(context.Background(), now)

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestDispatchPreemptsP2BeforeOldestP1(t *testing.T) {
	edges := staticEdgeSource{"edge-1": {ID: "edge-1", MaxConcurrency: 2}}
	sessions := newMemSessionStoreFake()
	runner := newBlockingRunner()
	man := testManifest()
	manifests := staticManifestSourceFake{man: man}
	q := NewMemQueue()
	s := New(nil, nil, nil, edges, sessions, manifests, runner, q)

	ctx := context.Background()
	require.NoError(t, s.Dispatch(ctx, domain.SyncTask{EdgeID: "edge-1", ArtifactID: "p1-old"}, domain.PriorityScheduled))
	require.NoError(t, s.Dispatch(ctx, domain.SyncTask{EdgeID: "edge-1", ArtifactID: "p2-victim"}, domain.PriorityOnDemand))

	rt := s.edgeRuntimeFor("edge-1", 2)
	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return len(rt.active) == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Dispatch(ctx, domain.SyncTask{EdgeID: "edge-1", ArtifactID: "p0-urgent"}, domain.PriorityImmediate))

	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		_, hasP0 := rt.active["edge-1:p0-urgent"]
		_, stillHasP2 := rt.active["edge-1:p2-victim"]
		return hasP0 && !stillHasP2 && len(rt.paused) == 1
	}, time.Second, time.Millisecond)

	rt.mu.Lock()
	_, stillHasP1 := rt.active["edge-1:p1-old"]
	rt.mu.Unlock()
	assert.True(t, stillHasP1, "oldest P1 should survive while a P2 victim exists")
}

func TestPreemptedSessionResumesWhenSlotFrees(t *testing.T) {
	edges := staticEdgeSource{"edge-1": {ID: "edge-1", MaxConcurrency: 1}}
	sessions := newMemSessionStoreFake()
	runner := newBlockingRunner()
	manifests := staticManifestSourceFake{man: testManifest()}
	q := NewMemQueue()
	s := New(nil, nil, nil, edges, sessions, manifests, runner, q)

	ctx := context.Background()
	require.NoError(t, s.Dispatch(ctx, domain.SyncTask{EdgeID: "edge-1", ArtifactID: "p1-a"}, domain.PriorityScheduled))
	rt := s.edgeRuntimeFor("edge-1", 1)
	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return len(rt.active) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Dispatch(ctx, domain.SyncTask{EdgeID: "edge-1", ArtifactID: "p0-b"}, domain.PriorityImmediate))
	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		_, ok := rt.active["edge-1:p0-b"]
		return ok
	}, time.Second, time.Millisecond)

	runner.finish("edge-1:p0-b")

	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		_, resumed := rt.active["edge-1:p1-a"]
		return resumed && len(rt.paused) == 0
	}, time.Second, time.Millisecond)
}

func TestRunMetricsSnapshotsSamplesQueueDepth(t *testing.T) {
	q := NewMemQueue()
	require.NoError(t, q.Enqueue(context.Background(), domain.SyncTask{ID: "t1", EnqueuedAt: time.Now()}))
	require.NoError(t, q.Enqueue(context.Background(), domain.SyncTask{ID: "t2", EnqueuedAt: time.Now()}))

	s := &Scheduler{Queue: q, Log: logrus.StandardLogger(), Metrics: metrics.Init(prometheus.NewRegistry())}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.RunMetricsSnapshots(ctx, 5*time.Millisecond)

	require.Equal(t, float64(2), testutil.ToFloat64(s.Metrics.SchedulerQueueDepth))
}
