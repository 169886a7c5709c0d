package edgeclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artifactkeeper/borgcore/internal/domain"
)

type fakeCache struct {
	mu       sync.Mutex
	sessions []domain.TransferSession
	chunks   map[uint32][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{chunks: make(map[uint32][]byte)}
}

func (c *fakeCache) SaveSession(_ context.Context, sess domain.TransferSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, sess)
	return nil
}

func (c *fakeCache) WriteChunk(_ context.Context, _ string, index uint32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[index] = data
	return nil
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// newFakeHub serves the exact sequence Puller.Pull drives: init, manifest,
// per-chunk GET plus verify, then complete.
func newFakeHub(t *testing.T, chunks map[uint32][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/edge-nodes/{id}/transfer/init", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1", "status": "active"})
	})

	mux.HandleFunc("GET /api/v1/edge-nodes/{id}/transfer/{sid}/chunks", func(w http.ResponseWriter, r *http.Request) {
		wireChunks := make([]map[string]any, 0, len(chunks))
		for idx, data := range chunks {
			wireChunks = append(wireChunks, map[string]any{
				"index":       idx,
				"byte_offset": 0,
				"byte_length": len(data),
				"sha256":      digestOf(data),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id":   "sess-1",
			"artifact_id":  "artifact-1",
			"total_chunks": uint32(len(chunks)),
			"chunks":       wireChunks,
		})
	})

	mux.HandleFunc("GET /api/v1/edge-nodes/{id}/transfer/{sid}/chunk/{n}", func(w http.ResponseWriter, r *http.Request) {
		n := r.PathValue("n")
		for idx, data := range chunks {
			if strconv.Itoa(int(idx)) == n {
				_, _ = w.Write(data)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("POST /api/v1/edge-nodes/{id}/transfer/{sid}/chunk/{n}/verify", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"verified": true})
	})

	mux.HandleFunc("POST /api/v1/edge-nodes/{id}/transfer/{sid}/complete", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
	})

	return httptest.NewServer(mux)
}

func TestPullerPullVerifiesAndCachesEveryChunk(t *testing.T) {
	chunks := map[uint32][]byte{
		0: []byte("first-chunk-bytes"),
		1: []byte("second-chunk-bytes"),
	}
	hub := newFakeHub(t, chunks)
	defer hub.Close()

	client := New(hub.URL, "edge-1")
	cache := newFakeCache()
	puller := NewPuller(client, cache)
	puller.Threshold = 1 // force the chunked path regardless of declared size

	err := puller.Pull(context.Background(), "artifact-1", 1<<20)
	require.NoError(t, err)

	require.Len(t, cache.chunks, len(chunks))
	for idx, want := range chunks {
		require.Equal(t, want, cache.chunks[idx])
	}
	require.Len(t, cache.sessions, 2)
	require.Equal(t, domain.SessionCompleted, cache.sessions[len(cache.sessions)-1].Status)
}

func TestPullerPullRejectsBelowThreshold(t *testing.T) {
	client := New("http://unused.invalid", "edge-1")
	puller := NewPuller(client, newFakeCache())
	puller.Threshold = DefaultChunkedTransferThreshold

	err := puller.Pull(context.Background(), "artifact-1", 1024)
	require.Error(t, err)
}

func TestPullerPullFailsOnDigestMismatch(t *testing.T) {
	chunks := map[uint32][]byte{0: []byte("original-bytes")}
	hub := newFakeHub(t, chunks)
	defer hub.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/edge-nodes/{id}/transfer/init", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1", "status": "active"})
	})
	mux.HandleFunc("GET /api/v1/edge-nodes/{id}/transfer/{sid}/chunks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id":   "sess-1",
			"artifact_id":  "artifact-1",
			"total_chunks": uint32(1),
			"chunks": []map[string]any{
				{"index": 0, "byte_offset": 0, "byte_length": 4, "sha256": "deadbeef"},
			},
		})
	})
	mux.HandleFunc("GET /api/v1/edge-nodes/{id}/transfer/{sid}/chunk/{n}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("original-bytes"))
	})
	badHub := httptest.NewServer(mux)
	defer badHub.Close()

	client := New(badHub.URL, "edge-1")
	puller := NewPuller(client, newFakeCache())
	puller.Threshold = 1

	err := puller.Pull(context.Background(), "artifact-1", 1<<20)
	require.Error(t, err)
}
