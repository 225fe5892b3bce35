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
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianArena/services/arena/coordinator"
	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/game/tictactoe"
	"github.com/AleutianAI/AleutianArena/services/arena/search"
	"github.com/AleutianAI/AleutianArena/services/arena/session"
)

func fastEngine() (search.Engine, error) {
	cfg := search.DefaultConfig()
	cfg.TimeBudget = 10 * time.Millisecond
	cfg.Seed = 11
	return search.NewMCTS(cfg, nil)
}

func newTestServer(t *testing.T, opts ...ServerOption) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewServer(fastEngine, opts...).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + Path
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *Client) session.Response {
	t.Helper()
	select {
	case resp, ok := <-c.Responses():
		require.True(t, ok, "connection closed")
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
		return session.Response{}
	}
}

func agentBoard(t *testing.T) tictactoe.Board {
	t.Helper()
	b, err := tictactoe.New().Play(game.Move{Player: game.PlayerFirst, Code: 4})
	require.NoError(t, err)
	return b
}

func TestServer_SessionOverWebsocket(t *testing.T) {
	c := dial(t, newTestServer(t))

	board := agentBoard(t)
	require.NoError(t, c.Send(session.Start{
		SessionID:        "remote-1",
		MaximizingPlayer: game.PlayerSecond,
		Snapshot:         board,
		StepBudget:       3,
	}))
	ack := next(t, c)
	assert.Equal(t, session.KindStarted, ack.Kind)
	assert.Equal(t, "remote-1", ack.SessionID)

	var finals []bool
	var last session.Response
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Send(session.Step{}))
		last = next(t, c)
		finals = append(finals, last.IsFinal)
	}
	assert.Equal(t, []bool{false, false, true}, finals)

	move, ok := last.BestMove()
	require.True(t, ok)
	_, err := board.Apply(move)
	assert.NoError(t, err)

	// Exhausted: repeated Step returns the same final response.
	require.NoError(t, c.Send(session.Step{}))
	again := next(t, c)
	assert.Equal(t, last, again)

	require.NoError(t, c.Send(session.Abandon{}))
	assert.Equal(t, session.KindAbandoned, next(t, c).Kind)
	require.NoError(t, c.Send(session.Step{}))
	assert.Equal(t, session.KindIdle, next(t, c).Kind)
}

func TestServer_RejectsBadFrames(t *testing.T) {
	url := newTestServer(t)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"start","session_id":"x","game":"go"}`)))
	var resp session.Response
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, session.KindRejected, resp.Kind)
	assert.Equal(t, "x", resp.SessionID)
	assert.Contains(t, resp.Error, "unknown game")

	// The connection and its runner survive the bad frame.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"step"}`)))
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, session.KindIdle, resp.Kind)

	// A bad frame is answered after the commands sent before it, with the
	// phase of the live session.
	start, err := EncodeCommand(session.Start{
		SessionID:        "live",
		MaximizingPlayer: game.PlayerSecond,
		Snapshot:         agentBoard(t),
		StepBudget:       3,
	})
	require.NoError(t, err)
	step, err := EncodeCommand(session.Step{})
	require.NoError(t, err)
	for _, frame := range [][]byte{start, step, []byte(`{"type":"bogus"}`)} {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
	}

	var got []session.Response
	for i := 0; i < 3; i++ {
		var r session.Response
		require.NoError(t, ws.ReadJSON(&r))
		got = append(got, r)
	}
	assert.Equal(t, []session.Kind{session.KindStarted, session.KindProgress, session.KindRejected},
		[]session.Kind{got[0].Kind, got[1].Kind, got[2].Kind})
	rejected := got[2]
	assert.Equal(t, "live", rejected.SessionID)
	assert.Equal(t, session.PhaseRunning, rejected.Phase)
	assert.Equal(t, uint32(2), rejected.StepsRemaining)
	assert.Contains(t, rejected.Error, "unknown command type")
}

// gatedEngine blocks every search until released, and reports when a
// search has begun.
type gatedEngine struct {
	entered chan struct{}
	release chan struct{}
	config  search.Config
}

func (g *gatedEngine) SearchOnce(ctx context.Context, _ game.Snapshot, agent game.PlayerID) (search.Outcome, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return search.Outcome{}, ctx.Err()
	}
	return search.Outcome{
		PrincipalVariation: []game.Move{{Player: agent, Code: 0}},
		Counters:           search.Counters{StatesVisited: 1, Iterations: 1},
	}, nil
}

func (g *gatedEngine) Config() search.Config { return g.config }

func (g *gatedEngine) SetConfig(cfg search.Config) error {
	g.config = cfg
	return nil
}

func TestServer_MailboxFullReplyKeepsOrder(t *testing.T) {
	engine := &gatedEngine{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
		config:  search.DefaultConfig(),
	}
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewServer(func() (search.Engine, error) { return engine, nil }, WithMailbox(1)).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+Path)

	require.NoError(t, c.Send(session.Start{
		SessionID:        "busy",
		MaximizingPlayer: game.PlayerSecond,
		Snapshot:         agentBoard(t),
		StepBudget:       3,
	}))
	assert.Equal(t, session.KindStarted, next(t, c).Kind)

	// The first Step occupies the runner; the second fills the mailbox;
	// the third cannot be queued.
	require.NoError(t, c.Send(session.Step{}))
	select {
	case <-engine.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("search never began")
	}
	require.NoError(t, c.Send(session.Step{}))
	require.NoError(t, c.Send(session.Step{}))

	// Give the server time to read both frames before the runner drains.
	time.Sleep(100 * time.Millisecond)
	close(engine.release)

	first, second, third := next(t, c), next(t, c), next(t, c)
	assert.Equal(t, session.KindProgress, first.Kind)
	assert.Equal(t, session.KindProgress, second.Kind)
	assert.Equal(t, session.KindRejected, third.Kind)
	assert.Contains(t, third.Error, session.ErrMailboxFull.Error())
	assert.Equal(t, "busy", third.SessionID)
	assert.Equal(t, session.PhaseRunning, third.Phase)
	assert.Equal(t, uint32(1), third.StepsRemaining)
}

func TestServer_RejectsInvalidConfig(t *testing.T) {
	c := dial(t, newTestServer(t))

	cfg := search.DefaultConfig()
	cfg.TimeBudget = 0
	require.NoError(t, c.Send(session.Start{
		MaximizingPlayer: game.PlayerSecond,
		Snapshot:         agentBoard(t),
		StepBudget:       1,
		Config:           &cfg,
	}))
	resp := next(t, c)
	assert.Equal(t, session.KindRejected, resp.Kind)
	assert.Contains(t, resp.Error, search.ErrInvalidConfig.Error())
}

func TestServer_RateLimitedConnectionStillServes(t *testing.T) {
	c := dial(t, newTestServer(t, WithRateLimit(50, 1)))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Send(session.Step{}))
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, session.KindIdle, next(t, c).Kind)
	}
}

func TestClient_ClosedSendFails(t *testing.T) {
	c := dial(t, newTestServer(t))
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(session.Step{}), ErrClientClosed)
	assert.NoError(t, c.Close())
}

// The coordinator drives a remote runner exactly as it drives a local one.
func TestClient_DrivesCoordinator(t *testing.T) {
	c := dial(t, newTestServer(t))

	var mu sync.Mutex
	var applied []game.Move
	moved := make(chan struct{}, 1)
	hook := func(_ context.Context, m game.Move) error {
		mu.Lock()
		applied = append(applied, m)
		mu.Unlock()
		moved <- struct{}{}
		return nil
	}
	coord, err := coordinator.New(c, hook, coordinator.WithStepBudget(2))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	positions := make(chan game.Snapshot, 1)
	go func() { _ = coord.Run(ctx, positions) }()

	board := agentBoard(t)
	positions <- board

	select {
	case <-moved:
	case <-ctx.Done():
		t.Fatal("coordinator never applied a move")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, applied, 1)
	_, err = board.Apply(applied[0])
	assert.NoError(t, err)
}

func TestClient_SendDoesNotWaitForTheWire(t *testing.T) {
	// No writer is draining the outbox, as when the network stalls.
	c := &Client{outbox: make(chan frame, 1), done: make(chan struct{})}

	require.NoError(t, c.Send(session.Step{}))
	err := c.Send(session.Abandon{})
	assert.ErrorIs(t, err, session.ErrMailboxFull)
	assert.Contains(t, err.Error(), session.TypeAbandon)

	queued := <-c.outbox
	assert.Equal(t, session.TypeStep, queued.typ)
	cmd, _, err := DefaultRegistry().DecodeCommand(queued.data)
	require.NoError(t, err)
	assert.Equal(t, session.TypeStep, cmd.CommandType())
}
