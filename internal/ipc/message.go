// Package ipc implements the binary framing codec shared by every PtyHost
// endpoint: a closed set of message types, each carried as
// [type:1][length:4 little-endian][payload:length].
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageType identifies the kind of payload carried by a Frame. The set is
// closed: decoders reject any byte value not listed here.
type MessageType byte

const (
	MessageGetInfo          MessageType = 0x01
	MessageInfo             MessageType = 0x02
	MessageInput            MessageType = 0x03
	MessageOutput           MessageType = 0x04
	MessageResize           MessageType = 0x05
	MessageResizeAck        MessageType = 0x06
	MessageGetBuffer        MessageType = 0x07
	MessageBuffer           MessageType = 0x08
	MessageSetName          MessageType = 0x09
	MessageSetNameAck       MessageType = 0x0A
	MessageSetLogLevel      MessageType = 0x0B
	MessageSetLogLevelAck   MessageType = 0x0C
	MessageStateChange      MessageType = 0x0D
	MessageProcessEvent     MessageType = 0x0E
	MessageForegroundChange MessageType = 0x0F
	MessageClose            MessageType = 0x10
	MessageCloseAck         MessageType = 0x11
)

// String renders the message type for logging.
func (m MessageType) String() string {
	switch m {
	case MessageGetInfo:
		return "GetInfo"
	case MessageInfo:
		return "Info"
	case MessageInput:
		return "Input"
	case MessageOutput:
		return "Output"
	case MessageResize:
		return "Resize"
	case MessageResizeAck:
		return "ResizeAck"
	case MessageGetBuffer:
		return "GetBuffer"
	case MessageBuffer:
		return "Buffer"
	case MessageSetName:
		return "SetName"
	case MessageSetNameAck:
		return "SetNameAck"
	case MessageSetLogLevel:
		return "SetLogLevel"
	case MessageSetLogLevelAck:
		return "SetLogLevelAck"
	case MessageStateChange:
		return "StateChange"
	case MessageProcessEvent:
		return "ProcessEvent"
	case MessageForegroundChange:
		return "ForegroundChange"
	case MessageClose:
		return "Close"
	case MessageCloseAck:
		return "CloseAck"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(m))
	}
}

func (m MessageType) valid() bool {
	switch m {
	case MessageGetInfo, MessageInfo, MessageInput, MessageOutput, MessageResize,
		MessageResizeAck, MessageGetBuffer, MessageBuffer, MessageSetName, MessageSetNameAck,
		MessageSetLogLevel, MessageSetLogLevelAck, MessageStateChange, MessageProcessEvent,
		MessageForegroundChange, MessageClose, MessageCloseAck:
		return true
	default:
		return false
	}
}

// MaxFramePayloadBytes is the hard cap on a single frame's payload. Both
// directions enforce it; a frame declaring a larger length is rejected as
// InvalidFrame and the transport is torn down.
const MaxFramePayloadBytes = 16 * 1024 * 1024

// ErrInvalidFrame is returned by ReadFrame when the header names an unknown
// message type or a payload length beyond MaxFramePayloadBytes.
var ErrInvalidFrame = errors.New("ipc: invalid frame")

// Frame is one decoded IPC message.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// WriteFrame encodes and writes f to w. The header is written as a single
// five-byte buffer ahead of the payload so a partial write cannot split type
// from length.
func WriteFrame(w io.Writer, f Frame) error {
	if !f.Type.valid() {
		return fmt.Errorf("%w: unknown type 0x%02x", ErrInvalidFrame, byte(f.Type))
	}
	if len(f.Payload) > MaxFramePayloadBytes {
		return fmt.Errorf("%w: payload %d bytes exceeds cap", ErrInvalidFrame, len(f.Payload))
	}

	header := make([]byte, 5)
	header[0] = byte(f.Type)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(f.Payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFrame reads one frame from r. Header reads are best-effort: a partial
// read of the five-byte header is completed via io.ReadFull before the type
// is acted on. A declared length over MaxFramePayloadBytes or an unknown
// type yields ErrInvalidFrame without consuming the (unread) payload, since
// the caller tears the transport down on this error anyway.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}

	typ := MessageType(header[0])
	length := binary.LittleEndian.Uint32(header[1:])

	if !typ.valid() {
		return Frame{}, fmt.Errorf("%w: unknown type 0x%02x", ErrInvalidFrame, header[0])
	}
	if length > MaxFramePayloadBytes {
		return Frame{}, fmt.Errorf("%w: declared length %d exceeds cap", ErrInvalidFrame, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: payload}, nil
}
