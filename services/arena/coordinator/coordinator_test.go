// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
	"github.com/AleutianAI/AleutianArena/services/arena/game/tictactoe"
	"github.com/AleutianAI/AleutianArena/services/arena/search"
	"github.com/AleutianAI/AleutianArena/services/arena/session"
)

type recordingBridge struct {
	mu        sync.Mutex
	sent      []session.Command
	err       error
	responses chan session.Response
}

func newRecordingBridge() *recordingBridge {
	return &recordingBridge{responses: make(chan session.Response, 8)}
}

func (b *recordingBridge) Send(cmd session.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, cmd)
	return nil
}

func (b *recordingBridge) Responses() <-chan session.Response { return b.responses }

func (b *recordingBridge) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, c := range b.sent {
		out[i] = c.CommandType()
	}
	return out
}

func (b *recordingBridge) lastStart(t *testing.T) session.Start {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.sent) - 1; i >= 0; i-- {
		if s, ok := b.sent[i].(session.Start); ok {
			return s
		}
	}
	t.Fatal("no start sent")
	return session.Start{}
}

type hookRecorder struct {
	mu    sync.Mutex
	moves []game.Move
	err   error
}

func (h *hookRecorder) apply(_ context.Context, m game.Move) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moves = append(h.moves, m)
	return h.err
}

func agentToMove(t *testing.T) tictactoe.Board {
	t.Helper()
	b, err := tictactoe.New().Play(game.Move{Player: game.PlayerFirst, Code: 4})
	require.NoError(t, err)
	return b
}

func newTestCoordinator(t *testing.T, bridge Bridge, hook MoveHook, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(bridge, hook, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBridgeAndHook(t *testing.T) {
	_, err := New(nil, func(context.Context, game.Move) error { return nil })
	assert.ErrorIs(t, err, ErrNilBridge)
	_, err = New(newRecordingBridge(), nil)
	assert.ErrorIs(t, err, ErrNilMoveHook)
}

func TestObserve_StartsWhenAgentToMove(t *testing.T) {
	bridge := newRecordingBridge()
	var statuses []string
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply,
		WithStepBudget(3), WithStatus(func(s string) { statuses = append(statuses, s) }))
	ctx := context.Background()

	require.NoError(t, c.Observe(ctx, tictactoe.New()))
	assert.Empty(t, bridge.types(), "human to move: nothing to do")

	board := agentToMove(t)
	require.NoError(t, c.Observe(ctx, board))
	assert.Equal(t, []string{session.TypeStart}, bridge.types())

	start := bridge.lastStart(t)
	assert.Equal(t, game.PlayerSecond, start.MaximizingPlayer)
	assert.Equal(t, uint32(3), start.StepBudget)
	assert.Equal(t, board.Fingerprint(), start.Snapshot.Fingerprint())
	assert.Equal(t, start.SessionID, c.SessionID())
	assert.Equal(t, []string{"Searching..."}, statuses)

	// Same position again: no new session.
	require.NoError(t, c.Observe(ctx, board))
	assert.Len(t, bridge.types(), 1)
}

func TestObserve_AbandonsBeforeRestart(t *testing.T) {
	bridge := newRecordingBridge()
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply)
	ctx := context.Background()

	require.NoError(t, c.Observe(ctx, agentToMove(t)))
	first := c.SessionID()

	other, err := tictactoe.FromString("X../.../...", game.PlayerSecond)
	require.NoError(t, err)
	require.NoError(t, c.Observe(ctx, other))

	assert.Equal(t, []string{session.TypeStart, session.TypeAbandon, session.TypeStart}, bridge.types())
	assert.NotEqual(t, first, c.SessionID())
}

func TestObserve_AbandonsWhenTurnLeavesAgent(t *testing.T) {
	bridge := newRecordingBridge()
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply)
	ctx := context.Background()

	board := agentToMove(t)
	require.NoError(t, c.Observe(ctx, board))
	next, err := board.Play(game.Move{Player: game.PlayerSecond, Code: 0})
	require.NoError(t, err)
	require.NoError(t, c.Observe(ctx, next))

	assert.Equal(t, []string{session.TypeStart, session.TypeAbandon}, bridge.types())
	assert.Empty(t, c.SessionID())
}

func TestHandle_StepsUntilFinished(t *testing.T) {
	bridge := newRecordingBridge()
	hook := &hookRecorder{}
	var statuses []string
	c := newTestCoordinator(t, bridge, hook.apply, WithStatus(func(s string) { statuses = append(statuses, s) }))
	ctx := context.Background()

	board := agentToMove(t)
	require.NoError(t, c.Observe(ctx, board))
	id := c.SessionID()

	require.NoError(t, c.Handle(ctx, session.Response{SessionID: id, Kind: session.KindStarted}))
	require.NoError(t, c.Handle(ctx, session.Response{
		SessionID: id, Kind: session.KindProgress,
		Outcome:         &search.Outcome{Counters: search.Counters{StatesVisited: 2000}},
		AccumulatedTime: time.Second,
	}))
	assert.Equal(t, []string{session.TypeStart, session.TypeStep, session.TypeStep}, bridge.types())

	best := game.Move{Player: game.PlayerSecond, Code: 0}
	require.NoError(t, c.Handle(ctx, session.Response{
		SessionID: id, Kind: session.KindFinished, IsFinal: true,
		Outcome: &search.Outcome{
			PrincipalVariation: []game.Move{best, {Player: game.PlayerFirst, Code: 8}},
			Counters:           search.Counters{StatesVisited: 4000},
		},
		AccumulatedTime: 2 * time.Second,
	}))
	assert.Equal(t, []game.Move{best}, hook.moves)
	assert.Empty(t, c.SessionID())
	assert.Len(t, bridge.types(), 3, "finished must not send another step")

	require.Len(t, statuses, 3)
	assert.Equal(t, "Step 1s, 2.0 kstates/s, 2000 states visited", statuses[1])
	assert.Equal(t, "Finished 2s, 2.0 kstates/s, 4000 states visited, Best Move = O a1", statuses[2])
}

func TestHandle_EmptyLineTakesNoAction(t *testing.T) {
	bridge := newRecordingBridge()
	hook := &hookRecorder{}
	c := newTestCoordinator(t, bridge, hook.apply)
	ctx := context.Background()

	require.NoError(t, c.Observe(ctx, agentToMove(t)))
	err := c.Handle(ctx, session.Response{
		SessionID: c.SessionID(), Kind: session.KindFinished, IsFinal: true,
		Outcome: &search.Outcome{},
	})
	assert.NoError(t, err)
	assert.Empty(t, hook.moves)
}

func TestHandle_DropsForeignResponses(t *testing.T) {
	bridge := newRecordingBridge()
	hook := &hookRecorder{}
	c := newTestCoordinator(t, bridge, hook.apply)
	ctx := context.Background()

	require.NoError(t, c.Observe(ctx, agentToMove(t)))
	require.NoError(t, c.Handle(ctx, session.Response{SessionID: "stale", Kind: session.KindProgress}))
	require.NoError(t, c.Handle(ctx, session.Response{
		SessionID: "stale", Kind: session.KindFinished,
		Outcome: &search.Outcome{PrincipalVariation: []game.Move{{Player: game.PlayerSecond, Code: 1}}},
	}))
	require.NoError(t, c.Handle(ctx, session.Response{Kind: session.KindIdle}))

	assert.Equal(t, []string{session.TypeStart}, bridge.types())
	assert.Empty(t, hook.moves)
}

func TestHandle_FailureEndsSession(t *testing.T) {
	bridge := newRecordingBridge()
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply)
	ctx := context.Background()

	require.NoError(t, c.Observe(ctx, agentToMove(t)))
	err := c.Handle(ctx, session.Response{SessionID: c.SessionID(), Kind: session.KindFailed, Error: "boom"})
	assert.ErrorIs(t, err, ErrSearchFailed)
	assert.Empty(t, c.SessionID())
}

func TestHandle_HookError(t *testing.T) {
	bridge := newRecordingBridge()
	hook := &hookRecorder{err: game.ErrRuleViolation}
	c := newTestCoordinator(t, bridge, hook.apply)
	ctx := context.Background()

	require.NoError(t, c.Observe(ctx, agentToMove(t)))
	err := c.Handle(ctx, session.Response{
		SessionID: c.SessionID(), Kind: session.KindFinished,
		Outcome: &search.Outcome{PrincipalVariation: []game.Move{{Player: game.PlayerSecond, Code: 4}}},
	})
	assert.ErrorIs(t, err, game.ErrRuleViolation)
}

func TestUserMovedAndReset(t *testing.T) {
	bridge := newRecordingBridge()
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply)
	ctx := context.Background()

	require.NoError(t, c.UserMoved())
	assert.Empty(t, bridge.types(), "no live session: nothing to abandon")

	board := agentToMove(t)
	require.NoError(t, c.Observe(ctx, board))
	require.NoError(t, c.UserMoved())
	assert.Equal(t, []string{session.TypeStart, session.TypeAbandon}, bridge.types())

	require.NoError(t, c.Reset())
	require.NoError(t, c.Observe(ctx, board))
	assert.Equal(t, []string{session.TypeStart, session.TypeAbandon, session.TypeStart}, bridge.types())
}

func TestSetConfig(t *testing.T) {
	bridge := newRecordingBridge()
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply)

	cfg := search.DefaultConfig()
	require.NoError(t, c.SetConfig(cfg))
	assert.Equal(t, []string{session.TypeSetConfig}, bridge.types())

	cfg.TimeBudget = 0
	assert.ErrorIs(t, c.SetConfig(cfg), search.ErrInvalidConfig)
	assert.Len(t, bridge.types(), 1)
}

func TestObserve_SendFailure(t *testing.T) {
	bridge := newRecordingBridge()
	bridge.err = session.ErrMailboxFull
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply)

	err := c.Observe(context.Background(), agentToMove(t))
	assert.ErrorIs(t, err, session.ErrMailboxFull)
	assert.Empty(t, c.SessionID())
}

func TestHandle_StepSendFailureEndsSession(t *testing.T) {
	bridge := newRecordingBridge()
	var statuses []string
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply,
		WithStatus(func(s string) { statuses = append(statuses, s) }))
	ctx := context.Background()

	board := agentToMove(t)
	require.NoError(t, c.Observe(ctx, board))
	id := c.SessionID()

	transient := errors.New("transient")
	bridge.mu.Lock()
	bridge.err = transient
	bridge.mu.Unlock()

	err := c.Handle(ctx, session.Response{SessionID: id, Kind: session.KindStarted})
	assert.ErrorIs(t, err, ErrSearchFailed)
	assert.ErrorIs(t, err, transient)
	assert.Empty(t, c.SessionID(), "no step in flight, so no live session")
	assert.Contains(t, statuses, "Search failed: transient")

	bridge.mu.Lock()
	bridge.err = nil
	bridge.mu.Unlock()

	// The same position starts a fresh session.
	require.NoError(t, c.Observe(ctx, board))
	assert.Equal(t, []string{session.TypeStart, session.TypeStart}, bridge.types())
	assert.NotEqual(t, id, c.SessionID())
	assert.NotEmpty(t, c.SessionID())
}

func TestObserve_RetriesAfterStartFailure(t *testing.T) {
	bridge := newRecordingBridge()
	bridge.err = session.ErrMailboxFull
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply)
	ctx := context.Background()

	board := agentToMove(t)
	assert.ErrorIs(t, c.Observe(ctx, board), session.ErrMailboxFull)

	bridge.mu.Lock()
	bridge.err = nil
	bridge.mu.Unlock()
	require.NoError(t, c.Observe(ctx, board))
	assert.Equal(t, []string{session.TypeStart}, bridge.types())
}

func TestRun_RestartsFailedSearchOnce(t *testing.T) {
	bridge := newRecordingBridge()
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	positions := make(chan game.Snapshot, 1)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, positions) }()

	starts := func() int {
		n := 0
		for _, typ := range bridge.types() {
			if typ == session.TypeStart {
				n++
			}
		}
		return n
	}

	positions <- agentToMove(t)
	require.Eventually(t, func() bool { return starts() == 1 }, time.Second, time.Millisecond)
	first := bridge.lastStart(t).SessionID

	bridge.responses <- session.Response{SessionID: first, Kind: session.KindFailed, Error: "engine down"}
	require.Eventually(t, func() bool { return starts() == 2 }, time.Second, time.Millisecond)
	second := bridge.lastStart(t).SessionID
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, c.SessionID())

	// The restart budget is spent: a second failure waits for a new position.
	bridge.responses <- session.Response{SessionID: second, Kind: session.KindRejected, Error: "mailbox full"}
	require.Eventually(t, func() bool { return c.SessionID() == "" }, time.Second, time.Millisecond)
	assert.Equal(t, 2, starts())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type hiddenBoard struct {
	tictactoe.Board
	viewedBy game.PlayerID
}

func (h hiddenBoard) ViewFor(viewer game.PlayerID) game.Snapshot {
	return hiddenBoard{Board: h.Board, viewedBy: viewer}
}

func (h hiddenBoard) Clone() game.Snapshot { return h }

func TestObserve_UsesAgentPerspective(t *testing.T) {
	bridge := newRecordingBridge()
	c := newTestCoordinator(t, bridge, (&hookRecorder{}).apply)

	require.NoError(t, c.Observe(context.Background(), hiddenBoard{Board: agentToMove(t)}))
	start := bridge.lastStart(t)
	view, ok := start.Snapshot.(hiddenBoard)
	require.True(t, ok)
	assert.Equal(t, game.PlayerSecond, view.viewedBy)
}

// Plays a full game of tic-tac-toe where both sides are driven through a
// real runner: the agent by the coordinator, the human by a fixed policy.
func TestRun_PlaysAgainstRunner(t *testing.T) {
	cfg := search.DefaultConfig()
	cfg.TimeBudget = 10 * time.Millisecond
	cfg.Seed = 3
	engine, err := search.NewMCTS(cfg, nil)
	require.NoError(t, err)
	runner, err := session.NewRunner(engine)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	var mu sync.Mutex
	board := tictactoe.New()
	positions := make(chan game.Snapshot, 16)
	agentMoved := make(chan struct{}, 16)

	hook := func(_ context.Context, m game.Move) error {
		mu.Lock()
		defer mu.Unlock()
		next, err := board.Play(m)
		if err != nil {
			return err
		}
		board = next
		positions <- board
		agentMoved <- struct{}{}
		return nil
	}
	c := newTestCoordinator(t, runner, hook, WithStepBudget(2))
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, positions) }()

	humanMove := func() bool {
		mu.Lock()
		defer mu.Unlock()
		moves := board.LegalMoves()
		if len(moves) == 0 {
			return false
		}
		next, err := board.Play(moves[0])
		require.NoError(t, err)
		board = next
		positions <- board
		return true
	}

	for humanMove() {
		mu.Lock()
		over := board.IsTerminal()
		mu.Unlock()
		if over {
			break
		}
		select {
		case <-agentMoved:
		case <-ctx.Done():
			t.Fatal("agent never moved")
		}
		mu.Lock()
		over = board.IsTerminal()
		mu.Unlock()
		if over {
			break
		}
	}

	mu.Lock()
	assert.True(t, board.IsTerminal())
	mu.Unlock()
	close(positions)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestRun_StopsOnContext(t *testing.T) {
	c := newTestCoordinator(t, newRecordingBridge(), (&hookRecorder{}).apply)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Run(ctx, make(chan game.Snapshot))
	assert.True(t, errors.Is(err, context.Canceled))
}
