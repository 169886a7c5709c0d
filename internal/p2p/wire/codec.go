package wire

import (
	"bytes"
	"encoding/gob"
	"io"
)

func init() {
	gob.Register(&Ping{})
	gob.Register(&Pong{})
	gob.Register(&ChunkReq{})
	gob.Register(&ChunkRes{})
	gob.Register(&Announce{})
	gob.Register(&Error{})
}

// Codec encodes/decodes Messages as gob values. It holds no state: each
// Encode writes one value (with its type information) through a fresh
// gob.Encoder and each Decode reads one through a fresh gob.Decoder.
// gob's own message framing delimits values, so no manual length prefix
// is added.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	return gob.NewEncoder(w).Encode(&msg)
}

func (c *Codec) Decode(r io.Reader) (Message, error) {
	var msg Message
	if err := gob.NewDecoder(r).Decode(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	return c.Decode(bytes.NewReader(data))
}
