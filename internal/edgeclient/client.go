// Package edgeclient is the outbound half of an edge node: it calls the
// hub's REST surface (internal/api) to send heartbeats, open pull-based
// transfer sessions, and fetch chunk data, mirroring the way internal/api
// itself decodes and encodes JSON directly against net/http request and
// response bodies.
package edgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/artifactkeeper/borgcore/internal/apierr"
	"github.com/artifactkeeper/borgcore/internal/manifest"
	"github.com/artifactkeeper/borgcore/internal/transfer"
)

// DefaultTimeout bounds a single outbound call to the hub.
const DefaultTimeout = 10 * time.Second

// Client is one edge's connection to its hub.
type Client struct {
	HTTP    *http.Client
	BaseURL string // e.g. https://hub.internal:8443, no trailing slash
	EdgeID  string
}

// New builds a Client with a bounded-timeout http.Client if none is given.
func New(baseURL, edgeID string) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		BaseURL: baseURL,
		EdgeID:  edgeID,
	}
}

func (c *Client) url(format string, a ...any) string {
	return c.BaseURL + "/api/v1/edge-nodes/" + c.EdgeID + fmt.Sprintf(format, a...)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apierr.Wrap(apierr.MalformedInput, "marshal request body", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return apierr.Wrap(apierr.TransportError, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.TransportError, "call hub", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Message == "" {
			errBody.Message = fmt.Sprintf("hub returned status %d", resp.StatusCode)
		}
		return apierr.New(kindFromStatus(resp.StatusCode), errBody.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierr.Wrap(apierr.TransportError, "decode hub response", err)
	}
	return nil
}

func kindFromStatus(status int) apierr.Kind {
	switch status {
	case http.StatusBadRequest:
		return apierr.MalformedInput
	case http.StatusNotFound:
		return apierr.NotFound
	case http.StatusConflict:
		return apierr.ConflictState
	case http.StatusForbidden:
		return apierr.Forbidden
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return apierr.ResourceExhausted
	default:
		return apierr.TransportError
	}
}

type heartbeatRequest struct {
	CacheUsedBytes uint64 `json:"cache_used_bytes"`
}

// Heartbeat reports this edge's current cache usage to the hub.
func (c *Client) Heartbeat(ctx context.Context, cacheUsedBytes uint64) error {
	return c.doJSON(ctx, http.MethodPost, c.url("/heartbeat"), heartbeatRequest{CacheUsedBytes: cacheUsedBytes}, nil)
}

type transferInitRequest struct {
	ArtifactID string `json:"artifact_id"`
}

type transferInitResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// InitTransfer opens (or resumes) a pull-based session for artifactID and
// returns the session id the rest of the transfer calls key off.
func (c *Client) InitTransfer(ctx context.Context, artifactID string) (string, string, error) {
	var resp transferInitResponse
	err := c.doJSON(ctx, http.MethodPost, c.url("/transfer/init"), transferInitRequest{ArtifactID: artifactID}, &resp)
	if err != nil {
		return "", "", err
	}
	return resp.SessionID, resp.Status, nil
}

// Manifest fetches the chunk manifest for an open session.
func (c *Client) Manifest(ctx context.Context, sessionID string) (manifest.Wire, error) {
	var wire manifest.Wire
	err := c.doJSON(ctx, http.MethodGet, c.url("/transfer/%s/chunks", sessionID), nil, &wire)
	return wire, err
}

type verifyChunkRequest struct {
	SHA256   string `json:"sha256"`
	Verified bool   `json:"verified"`
}

type verifyChunkResponse struct {
	Verified bool `json:"verified"`
}

// VerifyChunk reports chunk index to the hub as locally verified, together
// with its locally computed digest, and returns whether the hub accepted it
// against the manifest's expected digest.
func (c *Client) VerifyChunk(ctx context.Context, sessionID string, index uint32, sha256Hex string) (bool, error) {
	var resp verifyChunkResponse
	err := c.doJSON(ctx, http.MethodPost, c.url("/transfer/%s/chunk/%d/verify", sessionID, index), verifyChunkRequest{SHA256: sha256Hex, Verified: true}, &resp)
	return resp.Verified, err
}

type sessionView struct {
	SessionID      string `json:"session_id"`
	ArtifactID     string `json:"artifact_id"`
	Status         string `json:"status"`
	TotalChunks    uint32 `json:"total_chunks"`
	ArtifactDigest string `json:"artifact_digest"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// CompleteTransfer nudges the hub to finalize a fully-verified session and
// returns its resulting status.
func (c *Client) CompleteTransfer(ctx context.Context, sessionID string) (string, error) {
	var resp sessionView
	err := c.doJSON(ctx, http.MethodPost, c.url("/transfer/%s/complete", sessionID), nil, &resp)
	return resp.Status, err
}

// ChunkFetcher returns a transfer.ChunkFetcher scoped to sessionID, wired
// against this same hub connection, satisfying the interface the transfer
// engine assigns work through.
func (c *Client) ChunkFetcher(sessionID string) transfer.ChunkFetcher {
	return transfer.NewHTTPFetcher(c.HTTP, c.BaseURL, c.EdgeID, sessionID)
}

// FetchWhole downloads an artifact in one request, used for artifacts below
// the chunked-transfer threshold. downloadURL is the registry's own
// download endpoint, not part of the replication core's REST surface.
func (c *Client) FetchWhole(ctx context.Context, downloadURL string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return apierr.Wrap(apierr.TransportError, "build download request", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.TransportError, "fetch artifact", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apierr.New(kindFromStatus(resp.StatusCode), fmt.Sprintf("download returned status %d", resp.StatusCode))
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return apierr.Wrap(apierr.TransportError, "read artifact body", err)
	}
	return nil
}
