package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/artifactkeeper/borgcore/internal/apierr"
)

// HTTPFetcher fetches chunk bytes from the hub's REST surface
// (GET /edge-nodes/:id/transfer/:sid/chunk/:n), used when a session has no
// eligible direct peer or is running against the hub itself as source.
type HTTPFetcher struct {
	Client    *http.Client
	BaseURL   string // e.g. https://hub.internal:8443, no trailing slash
	EdgeID    string
	SessionID string
}

func NewHTTPFetcher(client *http.Client, baseURL, edgeID, sessionID string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client, BaseURL: baseURL, EdgeID: edgeID, SessionID: sessionID}
}

// FetchChunk ignores peerID and artifactID: an HTTPFetcher is scoped to one
// hub endpoint and one session for its lifetime, matching the REST path's
// (edge, session, index) key.
func (f *HTTPFetcher) FetchChunk(ctx context.Context, _ string, _ string, index uint32) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v1/edge-nodes/%s/transfer/%s/chunk/%d", f.BaseURL, f.EdgeID, f.SessionID, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransportError, "build chunk fetch request", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransportError, "fetch chunk over http", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("chunk %d not found for session %s", index, f.SessionID))
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, apierr.New(apierr.MalformedInput, fmt.Sprintf("chunk index %d out of range", index))
	default:
		return nil, apierr.New(apierr.TransportError, fmt.Sprintf("unexpected status %d fetching chunk %d", resp.StatusCode, index))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransportError, "read chunk body", err)
	}
	return data, nil
}
