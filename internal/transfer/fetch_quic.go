package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/artifactkeeper/borgcore/internal/p2p"
	"github.com/artifactkeeper/borgcore/internal/p2p/wire"
)

// PeerDialer resolves a peer id to a dialable QUIC endpoint. A concrete
// implementation looks the endpoint up in the edge catalog.
type PeerDialer interface {
	EndpointFor(peerID string) (string, bool)
}

// QUICFetcher fetches chunks directly from another edge over the p2p
// transport, reusing one *p2p.Peer connection per peer id for
// the lifetime of the fetcher.
type QUICFetcher struct {
	transport *p2p.Transport
	dialer    PeerDialer

	mu    sync.Mutex
	peers map[string]*p2p.Peer
}

func NewQUICFetcher(transport *p2p.Transport, dialer PeerDialer) *QUICFetcher {
	return &QUICFetcher{
		transport: transport,
		dialer:    dialer,
		peers:     make(map[string]*p2p.Peer),
	}
}

func (f *QUICFetcher) FetchChunk(ctx context.Context, peerID string, artifactID string, index uint32) ([]byte, error) {
	peer, err := f.peerFor(ctx, peerID)
	if err != nil {
		return nil, err
	}

	if err := peer.Send(ctx, &wire.ChunkReq{ArtifactID: artifactID, Index: index}); err != nil {
		f.drop(peerID)
		return nil, fmt.Errorf("send chunk request to %s: %w", peerID, err)
	}

	msg, err := peer.Receive(ctx)
	if err != nil {
		f.drop(peerID)
		return nil, fmt.Errorf("receive chunk response from %s: %w", peerID, err)
	}

	switch m := msg.(type) {
	case *wire.ChunkRes:
		if m.Index != index || m.ArtifactID != artifactID {
			return nil, fmt.Errorf("peer %s returned mismatched chunk %s/%d, expected %s/%d", peerID, m.ArtifactID, m.Index, artifactID, index)
		}
		return m.Data, nil
	case *wire.Error:
		return nil, fmt.Errorf("peer %s refused chunk request: %s (%s)", peerID, m.Message, m.Code)
	default:
		return nil, fmt.Errorf("peer %s sent unexpected message type %T", peerID, msg)
	}
}

func (f *QUICFetcher) peerFor(ctx context.Context, peerID string) (*p2p.Peer, error) {
	f.mu.Lock()
	if p, ok := f.peers[peerID]; ok {
		f.mu.Unlock()
		return p, nil
	}
	f.mu.Unlock()

	endpoint, ok := f.dialer.EndpointFor(peerID)
	if !ok {
		return nil, fmt.Errorf("no known endpoint for peer %s", peerID)
	}
	peer, err := f.transport.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial peer %s at %s: %w", peerID, endpoint, err)
	}

	f.mu.Lock()
	f.peers[peerID] = peer
	f.mu.Unlock()
	return peer, nil
}

func (f *QUICFetcher) drop(peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.peers[peerID]; ok {
		_ = p.Close()
		delete(f.peers, peerID)
	}
}

// Close shuts down every cached connection.
func (f *QUICFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for id, p := range f.peers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.peers, id)
	}
	return firstErr
}

var _ io.Closer = (*QUICFetcher)(nil)
