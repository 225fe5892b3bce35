// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianArena/services/arena/session"
)

// ErrClientClosed is returned by Send after Close or after the connection dropped.
var ErrClientClosed = errors.New("client is closed")

const writeTimeout = 5 * time.Second

// Client is a remote session runner reached over a websocket. It satisfies
// coordinator.Bridge: Send only queues the frame, and a writer goroutine
// puts it on the wire, so the caller never waits on the network.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	responses chan session.Response
	outbox    chan frame

	closeOnce sync.Once
	done      chan struct{}
}

// frame is an encoded command waiting for the writer.
type frame struct {
	typ  string
	data []byte
}

// Dial connects to a session server.
//
// Inputs:
//   - ctx: Bounds the handshake only.
//   - url: Websocket URL, e.g. "ws://localhost:8090/v1/arena/ws".
//   - logger: Logger. If nil, uses slog.Default().
//
// Outputs:
//   - *Client: The connected client. Call Close when done.
//   - error: Non-nil if the handshake fails.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		conn:      conn,
		logger:    logger.With(slog.String("component", "ws_client")),
		responses: make(chan session.Response, session.DefaultResponseQueue),
		outbox:    make(chan frame, session.DefaultMailboxSize),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// Send encodes cmd and queues it for the writer without blocking.
//
// Outputs:
//   - error: An encoding error, session.ErrMailboxFull when the outbox is
//     full, or ErrClientClosed. In every case cmd is dropped.
func (c *Client) Send(cmd session.Command) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	select {
	case c.outbox <- frame{typ: cmd.CommandType(), data: data}:
		return nil
	default:
		return fmt.Errorf("%w: %s", session.ErrMailboxFull, cmd.CommandType())
	}
}

// Responses delivers server responses. The channel closes when the
// connection ends.
func (c *Client) Responses() <-chan session.Response { return c.responses }

// Done is closed once the client has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close sends a close frame and tears down the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// WriteControl may run alongside the writer goroutine.
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				select {
				case <-c.done:
				default:
					c.logger.Warn("write failed",
						slog.String("type", f.typ),
						slog.String("error", err.Error()),
					)
					_ = c.Close()
				}
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.responses)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("connection lost", slog.String("error", err.Error()))
				_ = c.Close()
			}
			return
		}
		resp, err := DecodeResponse(data)
		if err != nil {
			c.logger.Warn("dropping undecodable response", slog.String("error", err.Error()))
			continue
		}
		select {
		case c.responses <- resp:
		case <-c.done:
			return
		}
	}
}
