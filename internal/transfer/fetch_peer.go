package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/artifactkeeper/borgcore/internal/apierr"
)

// EdgeEndpointSource resolves a known edge's REST base URL.
type EdgeEndpointSource interface {
	EndpointFor(ctx context.Context, edgeID string) (string, error)
}

// PeerHTTPFetcher fetches a chunk from whichever edge peerID names,
// resolving its endpoint and session id per call rather than being pinned
// to one endpoint the way HTTPFetcher is. It is the hub's fetcher: the hub
// has no fixed upstream, only a swarm of edges that might hold the bytes a
// session still needs, so the source varies by peer and by call.
type PeerHTTPFetcher struct {
	Client *http.Client
	Edges  EdgeEndpointSource
}

func NewPeerHTTPFetcher(client *http.Client, edges EdgeEndpointSource) *PeerHTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &PeerHTTPFetcher{Client: client, Edges: edges}
}

// FetchChunk resolves peerID's endpoint and requests the chunk from the
// session that peer opened for itself over artifactID, following the same
// "ownerID:artifactID" session id convention internal/api's transfer-init
// handler uses when a node opens a session for its own local cache.
func (f *PeerHTTPFetcher) FetchChunk(ctx context.Context, peerID string, artifactID string, index uint32) ([]byte, error) {
	base, err := f.Edges.EndpointFor(ctx, peerID)
	if err != nil {
		return nil, err
	}
	sessionID := peerID + ":" + artifactID
	url := fmt.Sprintf("%s/api/v1/edge-nodes/%s/transfer/%s/chunk/%d", base, peerID, sessionID, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransportError, "build peer chunk fetch request", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransportError, "fetch chunk from peer over http", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("peer %s has no chunk %d of %s", peerID, index, artifactID))
	default:
		return nil, apierr.New(apierr.TransportError, fmt.Sprintf("unexpected status %d fetching chunk %d from peer %s", resp.StatusCode, index, peerID))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransportError, "read peer chunk body", err)
	}
	return data, nil
}
