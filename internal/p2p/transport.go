package p2p

import (
	"context"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// Transport listens for and dials QUIC connections to other edges. One
// Transport is created per cmd/edge process and shared by every outbound
// fetch and inbound serve.
type Transport struct {
	listener *quic.Listener
}

// NewTransport binds addr (":0" for an ephemeral port) and starts
// listening for incoming peer connections.
func NewTransport(addr string) (*Transport, error) {
	tlsConf, err := DefaultTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("p2p: generate tls config: %w", err)
	}
	ln, err := quic.ListenAddr(addr, tlsConf, DefaultQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("p2p: listen %s: %w", addr, err)
	}
	return &Transport{listener: ln}, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.listener.Addr()
}

// Accept blocks until a peer connects or ctx is done.
func (t *Transport) Accept(ctx context.Context) (*Peer, error) {
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewPeer(conn), nil
}

// Dial opens a QUIC connection to a peer's advertised endpoint.
func (t *Transport) Dial(ctx context.Context, addr string) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, DefaultDialTLSConfig(), DefaultQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	return NewPeer(conn), nil
}

func (t *Transport) Close() error {
	return t.listener.Close()
}
