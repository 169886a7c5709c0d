package p2p

import (
	"context"
	"sync"

	"github.com/artifactkeeper/borgcore/internal/p2p/wire"
	"github.com/quic-go/quic-go"
)

// Peer is one QUIC connection to another edge, with a lazily-opened control
// stream carrying wire.Message values, chunk requests and responses
// (including the chunk bytes) among them. OpenDataStream/AcceptDataStream
// open further streams on the same connection; chunk transfer in this
// module does not use them.
type Peer struct {
	codec         *wire.Codec
	conn          *quic.Conn
	controlStream *quic.Stream
	mu            sync.Mutex
}

func NewPeer(conn *quic.Conn) *Peer {
	return &Peer{
		codec: wire.NewCodec(),
		conn:  conn,
	}
}

func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

func (p *Peer) Close() error {
	if p.controlStream != nil {
		_ = p.controlStream.Close()
	}
	return p.conn.CloseWithError(0, "")
}

func (p *Peer) Send(ctx context.Context, msg wire.Message) error {
	stream, err := p.getControlStream(ctx)
	if err != nil {
		return err
	}
	return p.codec.Encode(stream, msg)
}

func (p *Peer) Receive(ctx context.Context) (wire.Message, error) {
	stream, err := p.acceptControlStream(ctx)
	if err != nil {
		return nil, err
	}
	return p.codec.Decode(stream)
}

func (p *Peer) OpenDataStream(ctx context.Context) (*quic.Stream, error) {
	return p.conn.OpenStreamSync(ctx)
}

func (p *Peer) AcceptDataStream(ctx context.Context) (*quic.Stream, error) {
	return p.conn.AcceptStream(ctx)
}

func (p *Peer) getControlStream(ctx context.Context) (*quic.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.controlStream != nil {
		return p.controlStream, nil
	}
	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	p.controlStream = stream
	return stream, nil
}

func (p *Peer) acceptControlStream(ctx context.Context) (*quic.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.controlStream != nil {
		return p.controlStream, nil
	}
	stream, err := p.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	p.controlStream = stream
	return stream, nil
}
