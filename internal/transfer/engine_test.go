package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/artifactkeeper/borgcore/internal/assign"
	"github.com/artifactkeeper/borgcore/internal/availability"
	"github.com/artifactkeeper/borgcore/internal/bitfield"
	"github.com/artifactkeeper/borgcore/internal/domain"
	"github.com/artifactkeeper/borgcore/internal/manifest"
	"github.com/artifactkeeper/borgcore/internal/metrics"
)

type memAvailStore struct {
	mu   sync.Mutex
	rows map[string]domain.ChunkAvailability
}

func newMemAvailStore() *memAvailStore { return &memAvailStore{rows: make(map[string]domain.ChunkAvailability)} }

func (s *memAvailStore) key(edge, artifact string) string { return edge + "/" + artifact }

func (s *memAvailStore) GetAvailability(_ context.Context, edge, artifact string) (*domain.ChunkAvailability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[s.key(edge, artifact)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memAvailStore) PutAvailability(_ context.Context, row domain.ChunkAvailability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[s.key(row.EdgeID, row.ArtifactID)] = row
	return nil
}

func (s *memAvailStore) SeedersOf(_ context.Context, artifact string) ([]domain.ChunkAvailability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChunkAvailability
	for _, r := range s.rows {
		if r.ArtifactID == artifact {
			out = append(out, r)
		}
	}
	return out, nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.TransferSession
	chunks   map[string]map[uint32]domain.TransferChunk
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[string]domain.TransferSession),
		chunks:   make(map[string]map[uint32]domain.TransferChunk),
	}
}

func (s *memSessionStore) GetSession(_ context.Context, id string) (*domain.TransferSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *memSessionStore) SaveSession(_ context.Context, sess domain.TransferSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memSessionStore) GetChunks(_ context.Context, sessionID string) ([]domain.TransferChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIdx, ok := s.chunks[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.TransferChunk, 0, len(byIdx))
	for _, c := range byIdx {
		out = append(out, c)
	}
	return out, nil
}

func (s *memSessionStore) SaveChunk(_ context.Context, c domain.TransferChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks[c.SessionID] == nil {
		s.chunks[c.SessionID] = make(map[uint32]domain.TransferChunk)
	}
	s.chunks[c.SessionID][c.ChunkIndex] = c
	return nil
}

type memSink struct {
	mu   sync.Mutex
	data map[string]map[uint32][]byte
}

func newMemSink() *memSink { return &memSink{data: make(map[string]map[uint32][]byte)} }

func (s *memSink) WriteChunk(_ context.Context, artifactID string, index uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[artifactID] == nil {
		s.data[artifactID] = make(map[uint32][]byte)
	}
	cp := append([]byte(nil), data...)
	s.data[artifactID][index] = cp
	return nil
}

type staticPeerSource struct{ peers []assign.Peer }

func (s staticPeerSource) CandidatesFor(context.Context, string) ([]assign.Peer, error) {
	return s.peers, nil
}

type staticManifestSource struct{ man *manifest.Manifest }

func (s staticManifestSource) ManifestFor(context.Context, string) (*manifest.Manifest, error) {
	return s.man, nil
}

// fakeFetcher serves chunk bytes from an in-memory artifact, optionally
// failing every attempt for a given peer id to exercise blacklist/backoff.
type fakeFetcher struct {
	data       []byte
	chunkSize  uint64
	alwaysFail bool
}

func (f *fakeFetcher) FetchChunk(_ context.Context, _ string, _ string, index uint32) ([]byte, error) {
	if f.alwaysFail {
		return nil, errTransport
	}
	start := uint64(index) * f.chunkSize
	end := start + f.chunkSize
	if end > uint64(len(f.data)) {
		end = uint64(len(f.data))
	}
	return f.data[start:end], nil
}

type sinkAssembler struct {
	sink       *memSink
	artifactID string
}

func (a sinkAssembler) Finalize(_ context.Context, artifactID string, totalChunks uint32) (string, error) {
	a.sink.mu.Lock()
	defer a.sink.mu.Unlock()
	h := sha256.New()
	for i := uint32(0); i < totalChunks; i++ {
		h.Write(a.sink.data[artifactID][i])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var errTransport = &fetchErr{"peer unreachable"}

type fetchErr struct{ msg string }

func (e *fetchErr) Error() string { return e.msg }

func buildTestManifest(t *testing.T, size int) (*manifest.Manifest, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	man, err := manifest.Build("sess-1", "artifact-1", bytes.NewReader(data), uint64(size), digest, 16)
	require.NoError(t, err)
	return man, data
}

func TestEngineCompletesSessionOnAllChunksVerified(t *testing.T) {
	man, data := buildTestManifest(t, 64)
	store := newMemSessionStore()
	avail := availability.New(newMemAvailStore(), nil)
	sink := newMemSink()

	peers := []assign.Peer{{ID: "seed", Bitfield: fullBF(man.TotalChunks), LatencyMS: 5, BandwidthBPS: 1_000_000}}
	fetcher := &fakeFetcher{data: data, chunkSize: man.ChunkSize}

	e := NewEngine(store, avail, staticPeerSource{peers}, staticManifestSource{man}, StaticRouter{fetcher}, sink, sinkAssembler{sink: sink, artifactID: "artifact-1"})
	e.Metrics = metrics.Init(prometheus.NewRegistry())
	bytesBefore := testutil.ToFloat64(e.Metrics.BytesTransferred)
	completedBefore := testutil.ToFloat64(e.Metrics.SessionsByStatus.WithLabelValues(string(domain.SessionCompleted)))

	sess := domain.TransferSession{ID: "sess-1", ArtifactID: "artifact-1", TargetNode: "edge-a", CreatedAt: time.Now()}
	require.NoError(t, e.Open(context.Background(), sess, man))

	err := e.Run(context.Background(), "sess-1", Options{})
	require.NoError(t, err)

	got, err := store.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, domain.SessionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	require.Equal(t, bytesBefore+float64(len(data)), testutil.ToFloat64(e.Metrics.BytesTransferred))
	require.Equal(t, completedBefore+1, testutil.ToFloat64(e.Metrics.SessionsByStatus.WithLabelValues(string(domain.SessionCompleted))))
}

func TestEngineBlacklistsPeerAfterThreeFailures(t *testing.T) {
	man, data := buildTestManifest(t, 32)
	store := newMemSessionStore()
	avail := availability.New(newMemAvailStore(), nil)
	sink := newMemSink()

	peers := []assign.Peer{{ID: "bad", Bitfield: fullBF(man.TotalChunks), LatencyMS: 5, BandwidthBPS: 1_000_000}}
	fetcher := &fakeFetcher{data: data, chunkSize: man.ChunkSize, alwaysFail: true}

	e := NewEngine(store, avail, staticPeerSource{peers}, staticManifestSource{man}, StaticRouter{fetcher}, sink, sinkAssembler{sink: sink, artifactID: "artifact-1"})
	e.Metrics = metrics.Init(prometheus.NewRegistry())
	blacklistedBefore := testutil.ToFloat64(e.Metrics.PeerBlacklistEvents)
	retriesBefore := testutil.ToFloat64(e.Metrics.ChunkRetries)

	sess := domain.TransferSession{ID: "sess-2", ArtifactID: "artifact-1", TargetNode: "edge-a", CreatedAt: time.Now()}
	require.NoError(t, e.Open(context.Background(), sess, man))

	err := e.Run(context.Background(), "sess-2", Options{MaxBackoffSecs: 1})
	require.Error(t, err)

	got, err := store.GetSession(context.Background(), "sess-2")
	require.NoError(t, err)
	require.Equal(t, domain.SessionFailed, got.Status)

	require.Equal(t, blacklistedBefore+1, testutil.ToFloat64(e.Metrics.PeerBlacklistEvents), "the single bad peer should cross the blacklist threshold exactly once")
	require.Greater(t, testutil.ToFloat64(e.Metrics.ChunkRetries), retriesBefore)
}

type memEdgeRecorder struct {
	mu    sync.Mutex
	edges map[string]domain.EdgeNode
}

func newMemEdgeRecorder(edges ...domain.EdgeNode) *memEdgeRecorder {
	r := &memEdgeRecorder{edges: make(map[string]domain.EdgeNode)}
	for _, e := range edges {
		r.edges[e.ID] = e
	}
	return r
}

func (r *memEdgeRecorder) Get(_ context.Context, edgeID string) (domain.EdgeNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.edges[edgeID], nil
}

func (r *memEdgeRecorder) Put(_ context.Context, edge domain.EdgeNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[edge.ID] = edge
	return nil
}

func TestEngineResetsEdgeFailuresOnSuccessfulChunk(t *testing.T) {
	man, data := buildTestManifest(t, 64)
	store := newMemSessionStore()
	avail := availability.New(newMemAvailStore(), nil)
	sink := newMemSink()
	edges := newMemEdgeRecorder(domain.EdgeNode{ID: "seed", ConsecutiveFailures: 3})

	peers := []assign.Peer{{ID: "seed", Bitfield: fullBF(man.TotalChunks), LatencyMS: 5, BandwidthBPS: 1_000_000}}
	fetcher := &fakeFetcher{data: data, chunkSize: man.ChunkSize}

	e := NewEngine(store, avail, staticPeerSource{peers}, staticManifestSource{man}, StaticRouter{fetcher}, sink, sinkAssembler{sink: sink, artifactID: "artifact-1"})
	e.Edges = edges

	sess := domain.TransferSession{ID: "sess-1", ArtifactID: "artifact-1", TargetNode: "edge-a", CreatedAt: time.Now()}
	require.NoError(t, e.Open(context.Background(), sess, man))
	require.NoError(t, e.Run(context.Background(), "sess-1", Options{}))

	got, err := edges.Get(context.Background(), "seed")
	require.NoError(t, err)
	require.Zero(t, got.ConsecutiveFailures)
}

func TestEngineBumpsEdgeBackoffOnFailure(t *testing.T) {
	man, data := buildTestManifest(t, 32)
	store := newMemSessionStore()
	avail := availability.New(newMemAvailStore(), nil)
	sink := newMemSink()
	edges := newMemEdgeRecorder(domain.EdgeNode{ID: "bad"})

	peers := []assign.Peer{{ID: "bad", Bitfield: fullBF(man.TotalChunks), LatencyMS: 5, BandwidthBPS: 1_000_000}}
	fetcher := &fakeFetcher{data: data, chunkSize: man.ChunkSize, alwaysFail: true}

	e := NewEngine(store, avail, staticPeerSource{peers}, staticManifestSource{man}, StaticRouter{fetcher}, sink, sinkAssembler{sink: sink, artifactID: "artifact-1"})
	e.Edges = edges

	sess := domain.TransferSession{ID: "sess-2", ArtifactID: "artifact-1", TargetNode: "edge-a", CreatedAt: time.Now()}
	require.NoError(t, e.Open(context.Background(), sess, man))
	require.Error(t, e.Run(context.Background(), "sess-2", Options{MaxBackoffSecs: 1}))

	got, err := edges.Get(context.Background(), "bad")
	require.NoError(t, err)
	require.Positive(t, got.ConsecutiveFailures)
	require.True(t, got.BackoffUntil.After(time.Now().Add(-time.Second)))
}

func fullBF(total uint32) *bitfield.Bitfield {
	bf := bitfield.New(total)
	for i := uint32(0); i < total; i++ {
		bf.Set(i)
	}
	return bf
}
