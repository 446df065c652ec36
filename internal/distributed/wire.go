package distributed

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// maxFrameBytes guards against a corrupt or malicious length prefix
// causing an unbounded allocation.
const maxFrameBytes = 64 << 20

// WriteFrame encodes v as a gob payload of kind msgType and writes the
// length-prefixed frame to w: a little-endian uint32 payload length,
// one message-type byte, then the payload.
func WriteFrame(w io.Writer, msgType MessageType, v interface{}) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(v); err != nil {
		return fmt.Errorf("distributed: encode payload: %w", err)
	}

	header := make([]byte, 5)
	binary.LittleEndian.PutUint32(header[0:4], uint32(payload.Len()))
	header[4] = byte(msgType)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("distributed: write header: %w", err)
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("distributed: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and returns its
// message type and raw (still gob-encoded) payload bytes.
func ReadFrame(r io.Reader) (MessageType, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	if length > maxFrameBytes {
		return 0, nil, fmt.Errorf("distributed: frame length %d exceeds max %d", length, maxFrameBytes)
	}
	msgType := MessageType(header[4])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("distributed: read payload: %w", err)
	}
	return msgType, payload, nil
}

// DecodePayload gob-decodes a ReadFrame payload into dst.
func DecodePayload(payload []byte, dst interface{}) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(dst)
}
