// Package wsapi binds the envelope wire protocol (internal/protocol) onto
// a nhooyr.io/websocket connection, grounded in the teacher's
// pkg/server/connection.go read/write loop. It owns transport concerns
// only (framing, read timeouts, write serialization); message
// interpretation and the per-session operation queue belong to
// internal/collab.
package wsapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kolabdoc/collabedit/internal/protocol"
)

// ReadTimeout bounds how long Receive waits for a single inbound frame
// before giving the caller's context a chance to observe cancellation —
// the teacher used the same 30s read-timeout-per-loop-iteration pattern.
const ReadTimeout = 30 * time.Second

// WriteTimeout bounds a single outbound frame.
const WriteTimeout = 10 * time.Second

// Conn wraps a single client's websocket connection with envelope framing
// and a write mutex (spec §6 requires the wire to be JSON envelopes; a
// bare *websocket.Conn does not serialize concurrent writers, so Send
// must be called through here rather than the raw conn).
type Conn struct {
	ID string

	ws     *websocket.Conn
	sendMu sync.Mutex
}

// NewConn wraps an accepted websocket connection, tagging it with connID
// (the controller's connection identity, spec §3 "Connection").
func NewConn(connID string, ws *websocket.Conn) *Conn {
	return &Conn{ID: connID, ws: ws}
}

// Send writes one envelope, serialized against concurrent senders.
func (c *Conn) Send(ctx context.Context, env protocol.Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, c.ws, env); err != nil {
		return fmt.Errorf("wsapi: send to %s: %w", c.ID, err)
	}
	return nil
}

// Receive reads the next inbound envelope, bounded by ReadTimeout.
func (c *Conn) Receive(ctx context.Context) (protocol.Envelope, error) {
	readCtx, cancel := context.WithTimeout(ctx, ReadTimeout)
	defer cancel()

	var env protocol.Envelope
	if err := wsjson.Read(readCtx, c.ws, &env); err != nil {
		return protocol.Envelope{}, err
	}
	return env, nil
}

// Closed reports whether err represents a normal client-initiated close,
// distinguishing it from a real transport failure (teacher's
// connection.go made the same distinction against websocket.StatusNormalClosure).
func Closed(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}

// Close closes the underlying connection with the given status and reason.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// Serve runs the read loop for one connection: onMessage is invoked for
// every inbound envelope until the context is cancelled, the peer closes
// normally, or onMessage returns a non-nil error. onClose always runs on
// the way out (mirrors the teacher's `defer c.cleanup()`).
func Serve(ctx context.Context, c *Conn, onMessage func(protocol.Envelope) error, onClose func()) error {
	defer onClose()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := c.Receive(ctx)
		if err != nil {
			if Closed(err) {
				return nil
			}
			return fmt.Errorf("wsapi: receive from %s: %w", c.ID, err)
		}

		if err := onMessage(env); err != nil {
			return err
		}
	}
}
