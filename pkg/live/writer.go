package live

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter is the only goroutine that writes data frames to the socket.
// Priority frames (text, tool responses) preempt normal frames (audio); order
// within each class is preserved.
type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	priority     <-chan []byte
	normal       <-chan []byte
	pingInterval time.Duration
	writeTimeout time.Duration
	onWrite      func(n int, priority bool)
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var pendingNormal []byte

	for {
		select {
		case <-w.ctx.Done():
			w.shutdown(writeTimeout)
			return nil
		default:
		}

		// Hard priority: if anything is queued, handle it before writing normal frames.
		select {
		case frame := <-w.priority:
			if err := w.writeFrame(frame, true, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if pendingNormal != nil {
			frame := pendingNormal
			pendingNormal = nil
			if err := w.writeFrame(frame, false, writeTimeout); err != nil {
				return err
			}
			continue
		}

		select {
		case <-w.ctx.Done():
			w.shutdown(writeTimeout)
			return nil
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame := <-w.priority:
			if err := w.writeFrame(frame, true, writeTimeout); err != nil {
				return err
			}
		case frame := <-w.normal:
			// Let a newly queued priority frame preempt before this one is written.
			pendingNormal = frame
		}
	}
}

// shutdown flushes a few queued priority frames, then closes the socket with a
// normal closure.
func (w *outboundWriter) shutdown(writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)
	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case frame := <-w.priority:
			_ = w.writeFrame(frame, true, writeTimeout)
			continue
		default:
		}
		break
	}
	_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	_ = w.ws.Close()
}

func (w *outboundWriter) writeFrame(frame []byte, priority bool, writeTimeout time.Duration) error {
	if len(frame) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := w.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	if w.onWrite != nil {
		w.onWrite(len(frame), priority)
	}
	return nil
}
