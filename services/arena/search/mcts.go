// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianArena/services/arena/game"
)

// MCTS is a UCT Monte-Carlo tree search engine.
//
// The engine performs the classic loop on every iteration:
//  1. SELECT: descend through fully expanded nodes by UCT
//  2. EXPAND: add one untried move as a child (while the memory budget allows)
//  3. SIMULATE: run PlayoutIterations random playouts from the new node
//  4. BACKPROPAGATE: add the averaged result to every node on the path
//
// The tree survives between SearchOnce calls. When the next call is for the
// same position, or for a position up to two plies below the current root,
// the matching subtree is reused.
//
// Thread Safety: Not safe for concurrent use. Playouts of one iteration may
// run in parallel internally when Config.Parallel is set.
type MCTS struct {
	config Config
	logger *slog.Logger
	rng    *rand.Rand

	root  *node
	nodes int
}

type node struct {
	move     game.Move
	mover    game.PlayerID
	snapshot game.Snapshot
	parent   *node
	children []*node
	untried  []game.Move
	terminal bool

	visits float64
	value  float64 // sum of rewards from mover's point of view
}

// playoutResult holds rewards for both sides of a two-player game.
type playoutResult struct {
	first  float64
	second float64
	states uint64
}

func (r playoutResult) forPlayer(p game.PlayerID) float64 {
	if p == game.PlayerSecond {
		return r.second
	}
	return r.first
}

var _ Engine = (*MCTS)(nil)

// NewMCTS creates an engine with the given configuration.
//
// Inputs:
//   - cfg: Engine configuration. Must pass Validate.
//   - logger: Logger for debug output. If nil, uses slog.Default().
//
// Outputs:
//   - *MCTS: The engine, with an empty tree.
//   - error: Non-nil if cfg is invalid.
func NewMCTS(cfg Config, logger *slog.Logger) (*MCTS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MCTS{
		config: cfg.Clone(),
		logger: logger.With(slog.String("component", "mcts")),
		rng:    rand.New(rand.NewSource(seedFor(cfg))),
	}, nil
}

// Config implements Engine.
func (m *MCTS) Config() Config { return m.config.Clone() }

// SetConfig implements Engine. The tree is kept; only the parameters of
// later calls change.
func (m *MCTS) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Seed != 0 && cfg.Seed != m.config.Seed {
		m.rng = rand.New(rand.NewSource(cfg.Seed))
	}
	m.config = cfg.Clone()
	return nil
}

// TreeSize returns the number of nodes currently held.
func (m *MCTS) TreeSize() int { return m.nodes }

// Reset drops the tree.
func (m *MCTS) Reset() {
	m.root = nil
	m.nodes = 0
}

// SearchOnce implements Engine.
func (m *MCTS) SearchOnce(ctx context.Context, snapshot game.Snapshot, agent game.PlayerID) (Outcome, error) {
	if snapshot == nil {
		return Outcome{}, ErrNilSnapshot
	}
	if _, ok := snapshot.(game.Terminal); !ok {
		return Outcome{}, fmt.Errorf("%w: %T", ErrNotScorable, snapshot)
	}

	start := time.Now()
	var counters Counters
	m.prepareRoot(snapshot)

	if m.root.terminal || (len(m.root.untried) == 0 && len(m.root.children) == 0) {
		counters.Elapsed = time.Since(start)
		return Outcome{
			Evaluation: snapshot.(game.Terminal).Reward(agent),
			Counters:   counters,
		}, nil
	}

	deadline := start.Add(m.config.TimeBudget)
	for {
		if err := m.iterate(ctx, &counters); err != nil {
			return Outcome{}, err
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
		if m.config.MaxPositions > 0 && counters.StatesVisited >= uint64(m.config.MaxPositions) {
			break
		}
	}

	out := Outcome{
		PrincipalVariation: m.principalVariation(),
		Evaluation:         m.evaluation(agent),
	}
	counters.Elapsed = time.Since(start)
	out.Counters = counters

	if m.config.Debug {
		m.logger.Debug("search increment",
			slog.Int("pv_len", len(out.PrincipalVariation)),
			slog.Float64("eval", out.Evaluation),
			slog.Uint64("iterations", counters.Iterations),
			slog.Int("tree_nodes", m.nodes),
			slog.Float64("root_visits", m.root.visits),
		)
	}
	return out, nil
}

// prepareRoot reuses the existing tree when snapshot is the current root or
// one of its descendants up to two plies deep; otherwise it starts over.
func (m *MCTS) prepareRoot(snapshot game.Snapshot) {
	fp := snapshot.Fingerprint()
	if m.root != nil {
		if m.root.snapshot.Fingerprint() == fp {
			return
		}
		for _, c := range m.root.children {
			if c.snapshot.Fingerprint() == fp {
				m.reroot(c)
				return
			}
			for _, gc := range c.children {
				if gc.snapshot.Fingerprint() == fp {
					m.reroot(gc)
					return
				}
			}
		}
	}
	m.root = newNode(snapshot.Clone(), game.Move{}, 0, nil)
	m.nodes = 1
}

func (m *MCTS) reroot(n *node) {
	n.parent = nil
	m.root = n
	m.nodes = countNodes(n)
}

func countNodes(n *node) int {
	total := 1
	for _, c := range n.children {
		total += countNodes(c)
	}
	return total
}

func newNode(s game.Snapshot, move game.Move, mover game.PlayerID, parent *node) *node {
	n := &node{move: move, mover: mover, snapshot: s, parent: parent}
	if t, ok := s.(game.Terminal); ok && t.IsTerminal() {
		n.terminal = true
		return n
	}
	n.untried = s.LegalMoves()
	return n
}

func (m *MCTS) iterate(ctx context.Context, counters *Counters) error {
	n := m.root
	for !n.terminal && len(n.untried) == 0 && len(n.children) > 0 {
		n = m.selectChild(n)
	}

	maxNodes := m.config.MaxNodes()
	if !n.terminal && len(n.untried) > 0 && (maxNodes == 0 || m.nodes < maxNodes) {
		i := m.rng.Intn(len(n.untried))
		mv := n.untried[i]
		n.untried[i] = n.untried[len(n.untried)-1]
		n.untried = n.untried[:len(n.untried)-1]

		next, err := n.snapshot.Apply(mv)
		if err != nil {
			return fmt.Errorf("expand %s: %w", mv, err)
		}
		counters.StatesVisited++
		child := newNode(next, mv, mv.Player, n)
		n.children = append(n.children, child)
		m.nodes++
		counters.NodesCreated++
		n = child
	}

	res, err := m.simulate(ctx, n.snapshot)
	if err != nil {
		return err
	}
	counters.StatesVisited += res.states
	counters.Iterations++
	counters.Playouts += uint64(m.config.PlayoutIterations)

	for cur := n; cur != nil; cur = cur.parent {
		cur.visits++
		cur.value += res.forPlayer(cur.mover)
	}
	return nil
}

func (m *MCTS) selectChild(n *node) *node {
	logN := math.Log(n.visits)
	best := n.children[0]
	bestScore := math.Inf(-1)
	for _, c := range n.children {
		if c.visits == 0 {
			return c
		}
		score := c.value/c.visits + m.config.ExplorationConstant*math.Sqrt(logN/c.visits)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// simulate averages PlayoutIterations playouts from s.
func (m *MCTS) simulate(ctx context.Context, s game.Snapshot) (playoutResult, error) {
	iters := m.config.PlayoutIterations
	results := make([]playoutResult, iters)
	seeds := make([]int64, iters)
	for i := range seeds {
		seeds[i] = m.rng.Int63()
	}

	if m.config.Parallel && iters > 1 {
		g, gctx := errgroup.WithContext(ctx)
		if m.config.Workers > 0 {
			g.SetLimit(m.config.Workers)
		}
		for i := 0; i < iters; i++ {
			g.Go(func() error {
				r, err := m.playout(gctx, s, rand.New(rand.NewSource(seeds[i])))
				results[i] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return playoutResult{}, err
		}
	} else {
		for i := 0; i < iters; i++ {
			r, err := m.playout(ctx, s, rand.New(rand.NewSource(seeds[i])))
			if err != nil {
				return playoutResult{}, err
			}
			results[i] = r
		}
	}

	var sum playoutResult
	for _, r := range results {
		sum.first += r.first
		sum.second += r.second
		sum.states += r.states
	}
	sum.first /= float64(iters)
	sum.second /= float64(iters)
	return sum, nil
}

// playout plays random moves from s until the game ends or the cutoff is
// reached. With a bias configured, moves that end the game in the mover's
// favour are chosen with proportionally higher weight.
func (m *MCTS) playout(ctx context.Context, s game.Snapshot, rng *rand.Rand) (playoutResult, error) {
	var states uint64
	cur := s
	for depth := 0; m.config.PlayoutCutoff == 0 || depth < m.config.PlayoutCutoff; depth++ {
		t, ok := cur.(game.Terminal)
		if !ok {
			return playoutResult{}, fmt.Errorf("%w: %T", ErrNotScorable, cur)
		}
		if t.IsTerminal() {
			break
		}
		moves := cur.LegalMoves()
		if len(moves) == 0 {
			break
		}
		if depth%64 == 63 && ctx.Err() != nil {
			break
		}

		var next game.Snapshot
		var err error
		if m.config.PlayoutBias != nil {
			next, states, err = m.biasedStep(cur, moves, rng, states)
		} else {
			next, err = cur.Apply(moves[rng.Intn(len(moves))])
			states++
		}
		if err != nil {
			return playoutResult{}, fmt.Errorf("playout: %w", err)
		}
		cur = next
	}

	t, ok := cur.(game.Terminal)
	if !ok {
		return playoutResult{}, fmt.Errorf("%w: %T", ErrNotScorable, cur)
	}
	return playoutResult{
		first:  t.Reward(game.PlayerFirst),
		second: t.Reward(game.PlayerSecond),
		states: states,
	}, nil
}

func (m *MCTS) biasedStep(cur game.Snapshot, moves []game.Move, rng *rand.Rand, states uint64) (game.Snapshot, uint64, error) {
	bias := *m.config.PlayoutBias
	nexts := make([]game.Snapshot, len(moves))
	weights := make([]float64, len(moves))
	total := 0.0
	for i, mv := range moves {
		next, err := cur.Apply(mv)
		if err != nil {
			return nil, states, err
		}
		states++
		nexts[i] = next
		weights[i] = 1
		if t, ok := next.(game.Terminal); ok && t.IsTerminal() && t.Reward(mv.Player) >= 1 {
			weights[i] = bias
		}
		total += weights[i]
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return nexts[i], states, nil
		}
		r -= w
	}
	return nexts[len(nexts)-1], states, nil
}

func mostVisited(n *node) *node {
	var best *node
	for _, c := range n.children {
		if c.visits == 0 {
			continue
		}
		if best == nil || c.visits > best.visits ||
			(c.visits == best.visits && c.value > best.value) {
			best = c
		}
	}
	return best
}

func (m *MCTS) principalVariation() []game.Move {
	var pv []game.Move
	for n := mostVisited(m.root); n != nil; n = mostVisited(n) {
		pv = append(pv, n.move)
	}
	return pv
}

// evaluation is the expected result for agent of following the best root
// move.
func (m *MCTS) evaluation(agent game.PlayerID) float64 {
	best := mostVisited(m.root)
	if best == nil {
		return 0.5
	}
	v := best.value / best.visits
	if best.mover != agent {
		v = 1 - v
	}
	return v
}

func seedFor(cfg Config) int64 {
	if cfg.Seed != 0 {
		return cfg.Seed
	}
	return time.Now().UnixNano()
}
