package ptyhost

import (
	"errors"
	"io"
	"log/slog"

	"midterm/internal/ipc"
	"midterm/internal/transport"
)

// serveClient reads frames from one connected client until it disconnects,
// an oversize/malformed frame arrives, or Close is acted on. Only the first
// client to send GetInfo on this Host ever completes the handshake; later
// attachments simply start receiving live Output and are expected to issue
// GetBuffer to resync instead of re-flushing the pre-handshake buffer.
func (h *Host) serveClient(conn transport.Transport) {
	defer h.wg.Done()
	gen := h.replaceAttached(conn)
	defer func() {
		h.clearAttachedIfCurrent(conn)
		conn.Close()
	}()

	for {
		frame, err := ipc.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, ipc.ErrInvalidFrame) {
				slog.Warn("[ptyhost] invalid frame from client, closing transport", "sessionId", h.cfg.SessionID, "error", err)
			} else if !errors.Is(err, io.EOF) {
				slog.Debug("[ptyhost] client read error", "sessionId", h.cfg.SessionID, "error", err)
			}
			return
		}

		// A replaced client's goroutine may still be blocked in ReadFrame
		// briefly after replaceAttached swaps h.attached; stop acting on its
		// frames once it's no longer current.
		h.attachMu.Lock()
		current := h.attachGen == gen
		h.attachMu.Unlock()
		if !current {
			return
		}

		if err := h.handleFrame(conn, frame); err != nil {
			slog.Debug("[ptyhost] handling frame", "sessionId", h.cfg.SessionID, "type", frame.Type, "error", err)
			return
		}
		if frame.Type == ipc.MessageClose {
			return
		}
	}
}

func (h *Host) handleFrame(conn transport.Transport, frame ipc.Frame) error {
	switch frame.Type {
	case ipc.MessageGetInfo:
		h.completeHandshake(conn)
		return h.sendInfo(conn)

	case ipc.MessageInput:
		_, err := h.device.Write(frame.Payload)
		return err

	case ipc.MessageResize:
		cols, rows, err := ipc.DecodeResize(frame.Payload)
		if err != nil {
			return err
		}
		h.infoMu.Lock()
		noop := h.info.Cols == cols && h.info.Rows == rows
		h.infoMu.Unlock()
		if !noop {
			if err := h.device.Resize(cols, rows); err != nil {
				return err
			}
			h.infoMu.Lock()
			h.info.Cols, h.info.Rows = cols, rows
			h.infoMu.Unlock()
		}
		if err := h.writeFrame(conn, ipc.Frame{Type: ipc.MessageResizeAck}); err != nil {
			return err
		}
		if !noop {
			h.emitStateChange()
		}
		return nil

	case ipc.MessageGetBuffer:
		return h.writeFrame(conn, ipc.Frame{Type: ipc.MessageBuffer, Payload: h.ring.Snapshot()})

	case ipc.MessageSetName:
		name := string(frame.Payload)
		h.infoMu.Lock()
		if name == "" {
			h.info.DisplayName = nil
		} else {
			h.info.DisplayName = &name
		}
		h.infoMu.Unlock()
		if err := h.writeFrame(conn, ipc.Frame{Type: ipc.MessageSetNameAck}); err != nil {
			return err
		}
		h.emitStateChange()
		return nil

	case ipc.MessageSetLogLevel:
		level, err := ipc.DecodeLogLevel(frame.Payload)
		if err != nil {
			return err
		}
		h.infoMu.Lock()
		h.logLevel = level
		h.infoMu.Unlock()
		if h.cfg.LevelVar != nil {
			h.cfg.LevelVar.Set(level.Slog())
		}
		return h.writeFrame(conn, ipc.Frame{Type: ipc.MessageSetLogLevelAck})

	case ipc.MessageClose:
		// Kill first so CloseAck reports a kill already initiated; the rest of
		// the teardown (listener, attached client) runs after the ack is written.
		if err := h.device.Kill(); err != nil {
			slog.Debug("[ptyhost] kill on Close", "sessionId", h.cfg.SessionID, "error", err)
		}
		if err := h.writeFrame(conn, ipc.Frame{Type: ipc.MessageCloseAck}); err != nil {
			go h.Close()
			return err
		}
		go h.Close()
		return nil

	default:
		return nil
	}
}

func (h *Host) completeHandshake(conn transport.Transport) {
	h.infoMu.Lock()
	if h.handshakeDone {
		h.infoMu.Unlock()
		return
	}
	h.handshakeDone = true
	buffered := h.preHandshake
	h.preHandshake = nil
	h.infoMu.Unlock()

	if len(buffered) == 0 {
		return
	}
	h.infoMu.RLock()
	cols, rows := h.info.Cols, h.info.Rows
	h.infoMu.RUnlock()
	if err := h.writeFrame(conn, ipc.Frame{Type: ipc.MessageOutput, Payload: ipc.EncodeOutput(cols, rows, buffered)}); err != nil {
		slog.Debug("[ptyhost] flushing pre-handshake buffer", "error", err)
	}
}

func (h *Host) sendInfo(conn transport.Transport) error {
	h.infoMu.RLock()
	info := h.info
	h.infoMu.RUnlock()

	payload, err := ipc.EncodeInfo(info)
	if err != nil {
		return err
	}
	return h.writeFrame(conn, ipc.Frame{Type: ipc.MessageInfo, Payload: payload})
}
