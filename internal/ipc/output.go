package ipc

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// EncodeOutput builds an Output (or Buffer-in-Output-shape) payload:
// [cols:2][rows:2][bytes...].
func EncodeOutput(cols, rows int, data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint16(out[0:2], uint16(cols))
	binary.LittleEndian.PutUint16(out[2:4], uint16(rows))
	copy(out[4:], data)
	return out
}

// DecodeOutput parses an Output payload back into dimensions and bytes. The
// returned byte slice aliases payload.
func DecodeOutput(payload []byte) (cols, rows int, data []byte, err error) {
	if len(payload) < 4 {
		return 0, 0, nil, fmt.Errorf("ipc: output payload too short: %d bytes", len(payload))
	}
	cols = int(binary.LittleEndian.Uint16(payload[0:2]))
	rows = int(binary.LittleEndian.Uint16(payload[2:4]))
	return cols, rows, payload[4:], nil
}

// EncodeResize builds a Resize payload: [cols:2][rows:2].
func EncodeResize(cols, rows int) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint16(out[0:2], uint16(cols))
	binary.LittleEndian.PutUint16(out[2:4], uint16(rows))
	return out
}

// DecodeResize parses a Resize payload.
func DecodeResize(payload []byte) (cols, rows int, err error) {
	if len(payload) < 4 {
		return 0, 0, fmt.Errorf("ipc: resize payload too short: %d bytes", len(payload))
	}
	return int(binary.LittleEndian.Uint16(payload[0:2])), int(binary.LittleEndian.Uint16(payload[2:4])), nil
}

// LogLevel is the single-byte enum carried by SetLogLevel.
type LogLevel byte

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Slog converts a LogLevel to its log/slog.Level equivalent.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EncodeLogLevel builds a SetLogLevel payload.
func EncodeLogLevel(level LogLevel) []byte {
	return []byte{byte(level)}
}

// DecodeLogLevel parses a SetLogLevel payload.
func DecodeLogLevel(payload []byte) (LogLevel, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("ipc: log level payload empty")
	}
	return LogLevel(payload[0]), nil
}
