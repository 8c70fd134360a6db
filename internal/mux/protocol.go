// Package mux implements the browser-facing binary WebSocket protocol and
// the per-client fan-out that multiplexes every session's PTY output onto
// one socket: a single-writer send loop, a bounded drop-oldest queue, and a
// drop-and-resync recovery path.
package mux

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the mux wire protocol's single-byte type tag.
type MessageType byte

const (
	MessageOutput           MessageType = 0x01
	MessageInput            MessageType = 0x02
	MessageResize           MessageType = 0x03
	MessageSessionState     MessageType = 0x04
	MessageResync           MessageType = 0x05
	MessageBufferRequest    MessageType = 0x06
	MessageCompressedOutput MessageType = 0x07
	// MessageAttachInit is the server's one-time init frame, type 0xFF, sent
	// immediately after WS accept, carrying an opaque client id.
	MessageAttachInit MessageType = 0xFF
	// MessageActiveHint is a client->server frame naming the
	// currently-focused session; it has no payload, the focus session is
	// carried in the frame's SessionID.
	MessageActiveHint MessageType = 0x08
	// MessageSetName is a client->server frame carrying a UTF-8 displayName
	// for the frame's SessionID, passed through to HostClient.SetName.
	// Fire-and-forget, mirroring Resize: the renamed SessionInfo reaches the
	// browser through the StateChange -> refreshInfo -> /ws/state path, not
	// a dedicated mux ack.
	MessageSetName MessageType = 0x09
)

// sessionIDLen is the fixed width of the frame header's session id field:
// 8 ASCII bytes, matching internal/registry's session id allocation.
const sessionIDLen = 8

// ZeroSessionID is the "applies to all sessions" sentinel used by Resync.
var ZeroSessionID = [sessionIDLen]byte{}

// SessionStateCreated and SessionStateClosed are the 1-byte SessionState
// payload values.
const (
	SessionStateClosed  byte = 0
	SessionStateCreated byte = 1
)

// Frame is one parsed mux wire message.
type Frame struct {
	Type      MessageType
	SessionID [sessionIDLen]byte
	Payload   []byte
}

// ErrMalformedFrame indicates a frame header could not be parsed.
var ErrMalformedFrame = fmt.Errorf("mux: malformed frame")

// EncodeSessionID pads/truncates id into the fixed 8-byte wire field.
func EncodeSessionID(id string) [sessionIDLen]byte {
	var out [sessionIDLen]byte
	copy(out[:], id)
	return out
}

// DecodeSessionID trims trailing NUL padding back to a Go string.
func DecodeSessionID(b [sessionIDLen]byte) string {
	n := sessionIDLen
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}

// EncodeFrame serializes f into the wire format:
// [type:1][sessionId:8][payload...].
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, 1+sessionIDLen+len(f.Payload))
	buf[0] = byte(f.Type)
	copy(buf[1:1+sessionIDLen], f.SessionID[:])
	copy(buf[1+sessionIDLen:], f.Payload)
	return buf
}

// DecodeFrame parses a raw binary WebSocket message into a Frame.
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) < 1+sessionIDLen {
		return Frame{}, fmt.Errorf("%w: length %d", ErrMalformedFrame, len(raw))
	}
	var f Frame
	f.Type = MessageType(raw[0])
	copy(f.SessionID[:], raw[1:1+sessionIDLen])
	if len(raw) > 1+sessionIDLen {
		f.Payload = raw[1+sessionIDLen:]
	}
	return f, nil
}

// EncodeOutputPayload builds the `[cols:2][rows:2][bytes...]` payload shared
// by Output and (pre-compression) CompressedOutput frames.
func EncodeOutputPayload(cols, rows int, data []byte) []byte {
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(cols))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(rows))
	copy(buf[4:], data)
	return buf
}

// DecodeOutputPayload parses an Output frame's payload.
func DecodeOutputPayload(payload []byte) (cols, rows int, data []byte, err error) {
	if len(payload) < 4 {
		return 0, 0, nil, fmt.Errorf("%w: output payload too short", ErrMalformedFrame)
	}
	cols = int(binary.LittleEndian.Uint16(payload[0:2]))
	rows = int(binary.LittleEndian.Uint16(payload[2:4]))
	data = payload[4:]
	return cols, rows, data, nil
}

// EncodeCompressedPayload builds the `[cols:2][rows:2][uncompressedLen:4][gzip bytes]`
// payload for CompressedOutput.
func EncodeCompressedPayload(cols, rows, uncompressedLen int, gzipBytes []byte) []byte {
	buf := make([]byte, 8+len(gzipBytes))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(cols))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(rows))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(uncompressedLen))
	copy(buf[8:], gzipBytes)
	return buf
}

// DecodeCompressedPayload parses a CompressedOutput frame's payload.
func DecodeCompressedPayload(payload []byte) (cols, rows, uncompressedLen int, gzipBytes []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, 0, nil, fmt.Errorf("%w: compressed output payload too short", ErrMalformedFrame)
	}
	cols = int(binary.LittleEndian.Uint16(payload[0:2]))
	rows = int(binary.LittleEndian.Uint16(payload[2:4]))
	uncompressedLen = int(binary.LittleEndian.Uint32(payload[4:8]))
	gzipBytes = payload[8:]
	return cols, rows, uncompressedLen, gzipBytes, nil
}

// EncodeResizePayload builds the `[cols:2][rows:2]` Resize payload.
func EncodeResizePayload(cols, rows int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(cols))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(rows))
	return buf
}

// DecodeResizePayload parses a Resize frame's payload.
func DecodeResizePayload(payload []byte) (cols, rows int, err error) {
	if len(payload) < 4 {
		return 0, 0, fmt.Errorf("%w: resize payload too short", ErrMalformedFrame)
	}
	return int(binary.LittleEndian.Uint16(payload[0:2])), int(binary.LittleEndian.Uint16(payload[2:4])), nil
}
