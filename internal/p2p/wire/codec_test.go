package wire

import (
	"bytes"
	"testing"
)

func TestCodecChunkReqRes(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	req := &ChunkReq{ArtifactID: "artifact-1", Index: 42}
	if err := codec.Encode(&buf, req); err != nil {
		t.Fatalf("Encode ChunkReq failed: %v", err)
	}

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode ChunkReq failed: %v", err)
	}

	decodedReq, ok := decoded.(*ChunkReq)
	if !ok {
		t.Fatalf("Expected *ChunkReq, got %T", decoded)
	}
	if decodedReq.Index != 42 {
		t.Errorf("Expected chunk index 42, got %d", decodedReq.Index)
	}

	buf.Reset()
	chunkData := []byte("this is some chunk data for testing purposes")
	res := &ChunkRes{ArtifactID: "artifact-1", Index: 42, Digest: "deadbeef", Data: chunkData}

	if err := codec.Encode(&buf, res); err != nil {
		t.Fatalf("Encode ChunkRes failed: %v", err)
	}

	decoded, err = codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode ChunkRes failed: %v", err)
	}

	decodedRes, ok := decoded.(*ChunkRes)
	if !ok {
		t.Fatalf("Expected *ChunkRes, got %T", decoded)
	}
	if !bytes.Equal(decodedRes.Data, chunkData) {
		t.Errorf("chunk data mismatch")
	}
	if decodedRes.Digest != "deadbeef" {
		t.Errorf("digest mismatch: %s", decodedRes.Digest)
	}
}

func TestCodecDecodeFromBytes(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(&Pong{})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	decoded, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	if _, ok := decoded.(*Pong); !ok {
		t.Errorf("Expected *Pong, got %T", decoded)
	}
}

func TestCodecEncodeToBytes(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(&Ping{})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty data")
	}
}

func TestCodecAnnounce(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	msg := &Announce{EdgeID: "edge-west-1", ArtifactID: "artifact-7", Index: 3}
	if err := codec.Encode(&buf, msg); err != nil {
		t.Fatalf("Encode Announce failed: %v", err)
	}

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode Announce failed: %v", err)
	}

	decodedMsg, ok := decoded.(*Announce)
	if !ok {
		t.Fatalf("Expected *Announce, got %T", decoded)
	}
	if decodedMsg.EdgeID != "edge-west-1" || decodedMsg.Index != 3 {
		t.Errorf("announce mismatch: %+v", decodedMsg)
	}
}

func TestCodecError(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	msg := &Error{Code: ErrChunkNotFound, Message: "the requested chunk does not exist"}
	if err := codec.Encode(&buf, msg); err != nil {
		t.Fatalf("Encode Error failed: %v", err)
	}

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode Error failed: %v", err)
	}

	decodedMsg, ok := decoded.(*Error)
	if !ok {
		t.Fatalf("Expected *Error, got %T", decoded)
	}
	if decodedMsg.Code != ErrChunkNotFound {
		t.Errorf("Expected ErrChunkNotFound, got %v", decodedMsg.Code)
	}
	if decodedMsg.Message != "the requested chunk does not exist" {
		t.Errorf("message mismatch: %s", decodedMsg.Message)
	}
}

func TestCodecPingPong(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	if err := codec.Encode(&buf, &Ping{}); err != nil {
		t.Fatalf("Encode Ping failed: %v", err)
	}
	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode Ping failed: %v", err)
	}
	if _, ok := decoded.(*Ping); !ok {
		t.Errorf("Expected *Ping, got %T", decoded)
	}

	buf.Reset()
	if err := codec.Encode(&buf, &Pong{}); err != nil {
		t.Fatalf("Encode Pong failed: %v", err)
	}
	decoded, err = codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode Pong failed: %v", err)
	}
	if _, ok := decoded.(*Pong); !ok {
		t.Errorf("Expected *Pong, got %T", decoded)
	}
}

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected string
	}{
		{ErrChunkNotFound, "CHUNK_NOT_FOUND"},
		{ErrArtifactNotFound, "ARTIFACT_NOT_FOUND"},
		{ErrUnknown, "UNKNOWN"},
		{ErrorCode(0xFFFE), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.code.String(); got != tt.expected {
			t.Errorf("%v.String() = %s, want %s", tt.code, got, tt.expected)
		}
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		expected string
		msgType  MessageType
	}{
		{"CHUNK_REQ", MsgChunkReq},
		{"ERROR", MsgError},
		{"ANNOUNCE", MsgAnnounce},
		{"PING", MsgPing},
		{"PONG", MsgPong},
		{"UNKNOWN", MessageType(0xFFFF)},
	}

	for _, tt := range tests {
		if got := tt.msgType.String(); got != tt.expected {
			t.Errorf("%v.String() = %s, want %s", tt.msgType, got, tt.expected)
		}
	}
}
