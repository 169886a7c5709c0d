package p2p

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/artifactkeeper/borgcore/internal/p2p/wire"
)

// ChunkSource resolves one locally cached chunk's bytes. It is the read
// side a Server needs to answer wire.ChunkReq, satisfied directly by
// internal/store's SessionStore.
type ChunkSource interface {
	ReadChunk(ctx context.Context, artifactID string, index uint32) ([]byte, error)
}

// Server answers inbound peer requests against a local ChunkSource. It is
// the QUIC-side counterpart of the hub's HTTP chunk endpoint: any node
// running a Server can act as a swarm seeder for the chunks it has already
// verified and cached locally.
type Server struct {
	Transport *Transport
	Source    ChunkSource
	Log       *logrus.Logger
}

// NewServer builds a Server. Log defaults to the standard logger.
func NewServer(transport *Transport, source ChunkSource, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{Transport: transport, Source: source, Log: log}
}

// Run accepts peer connections until ctx is canceled, handling each on its
// own goroutine. It returns once the transport stops accepting.
func (s *Server) Run(ctx context.Context) {
	for {
		peer, err := s.Transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.Log.WithError(err).Warn("p2p: accept failed")
			continue
		}
		go s.handlePeer(ctx, peer)
	}
}

func (s *Server) handlePeer(ctx context.Context, peer *Peer) {
	defer peer.Close()
	remote := peer.RemoteAddr()
	for {
		msg, err := peer.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.Log.WithError(err).WithField("remote", remote).Debug("p2p: peer disconnected")
			}
			return
		}

		switch m := msg.(type) {
		case *wire.Ping:
			if err := peer.Send(ctx, &wire.Pong{}); err != nil {
				return
			}
		case *wire.ChunkReq:
			if err := s.serveChunk(ctx, peer, m); err != nil {
				return
			}
		default:
			// Announce and unexpected types have no server-side reply; a
			// seeder only answers requests, it doesn't act on gossip.
		}
	}
}

func (s *Server) serveChunk(ctx context.Context, peer *Peer, req *wire.ChunkReq) error {
	data, err := s.Source.ReadChunk(ctx, req.ArtifactID, req.Index)
	if err != nil {
		return peer.Send(ctx, &wire.Error{
			Code:    wire.ErrChunkNotFound,
			Message: err.Error(),
		})
	}
	sum := sha256.Sum256(data)
	return peer.Send(ctx, &wire.ChunkRes{
		ArtifactID: req.ArtifactID,
		Index:      req.Index,
		Digest:     hex.EncodeToString(sum[:]),
		Data:       data,
	})
}
