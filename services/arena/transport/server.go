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
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianArena/services/arena/search"
	"github.com/AleutianAI/AleutianArena/services/arena/session"
	"github.com/AleutianAI/AleutianArena/services/arena/telemetry"
)

// Path is the websocket route the server registers.
const Path = "/v1/arena/ws"

var (
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_ws_connections",
		Help: "Open session websocket connections",
	})

	wsFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_ws_frames_total",
		Help: "Websocket frames by direction",
	}, []string{"direction"})

	wsDecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_ws_decode_failures_total",
		Help: "Inbound frames that could not be turned into commands",
	}, []string{"reason"})
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// EngineFactory creates the engine for one connection's runner.
type EngineFactory func() (search.Engine, error)

// Server hosts one session runner per websocket connection.
//
// Thread Safety: Safe for concurrent use; each connection is independent.
type Server struct {
	factory  EngineFactory
	registry *Registry
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	limit    rate.Limit
	burst    int
	mailbox  int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRegistry sets the snapshot decoders. Default: DefaultRegistry().
func WithRegistry(r *Registry) ServerOption {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRunnerMetrics passes m to every runner.
func WithRunnerMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit paces inbound commands per connection. A zero limit
// disables pacing.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limit = rate.Inf
			return
		}
		s.limit = rate.Limit(perSecond)
		if burst < 1 {
			burst = 1
		}
		s.burst = burst
	}
}

// WithMailbox sets each runner's mailbox size.
func WithMailbox(n int) ServerOption {
	return func(s *Server) { s.mailbox = n }
}

// NewServer creates a server that builds engines with factory.
func NewServer(factory EngineFactory, opts ...ServerOption) *Server {
	s := &Server{
		factory:  factory,
		registry: DefaultRegistry(),
		logger:   slog.Default(),
		limit:    rate.Inf,
		burst:    1,
		mailbox:  session.DefaultMailboxSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "ws_server"))
	return s
}

// Register mounts the websocket route on r.
func (s *Server) Register(r gin.IRouter) {
	r.GET(Path, s.Handle)
}

// Handle upgrades the request and serves the session protocol until the
// client disconnects.
func (s *Server) Handle(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	connID := uuid.NewString()
	logger := s.logger.With(slog.String("conn_id", connID))
	wsConnections.Inc()
	defer wsConnections.Dec()
	logger.Info("websocket client connected")

	if err := s.serve(c.Request.Context(), ws, logger); err != nil && !isClosure(err) {
		logger.Warn("websocket session ended", slog.String("error", err.Error()))
		return
	}
	logger.Info("websocket client disconnected")
}

func (s *Server) serve(parent context.Context, ws *websocket.Conn, logger *slog.Logger) error {
	engine, err := s.factory()
	if err != nil {
		return err
	}
	runner, err := session.NewRunner(engine,
		session.WithLogger(logger),
		session.WithMetrics(s.metrics),
		session.WithMailboxSize(s.mailbox),
	)
	if err != nil {
		return err
	}
	defer runner.Close()

	w := &frameWriter{ws: ws}
	limiter := rate.NewLimiter(s.limit, s.burst)
	g, ctx := errgroup.WithContext(parent)

	// One slot per inbound frame, in arrival order. The writer fills each
	// slot either from the runner or with a rejection, so every reply
	// leaves in the order its command came in.
	replies := make(chan reply, s.mailbox+session.DefaultResponseQueue)
	queue := func(rep reply) error {
		select {
		case replies <- rep:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.Go(func() error {
		err := runner.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		var view connView
		for {
			var rep reply
			select {
			case <-ctx.Done():
				return nil
			case rep = <-replies:
			}
			var resp session.Response
			if rep.err == nil {
				select {
				case <-ctx.Done():
					return nil
				case resp = <-runner.Responses():
				}
				view.observe(resp)
			} else {
				resp = view.reject(rep.id, rep.err)
			}
			if err := w.write(resp); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		// Unblock ReadMessage when a sibling fails.
		<-ctx.Done()
		_ = ws.Close()
		return nil
	})

	g.Go(func() error {
		defer runner.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return err
			}
			wsFrames.WithLabelValues("in").Inc()
			if err := limiter.Wait(ctx); err != nil {
				return err
			}

			cmd, id, err := s.registry.DecodeCommand(data)
			if err != nil {
				reason := decodeReason(err)
				wsDecodeFailures.WithLabelValues(reason).Inc()
				s.metrics.RecordRejected(ctx, reason)
				logger.Warn("rejecting undecodable frame", slog.String("error", err.Error()))
				if err := queue(reply{id: id, err: err}); err != nil {
					return err
				}
				continue
			}
			if err := runner.Send(cmd); err != nil {
				logger.Warn("rejecting command", slog.String("type", cmd.CommandType()), slog.String("error", err.Error()))
				if err := queue(reply{id: id, err: err}); err != nil {
					return err
				}
				continue
			}
			if err := queue(reply{}); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}

// reply is an outbound slot. A nil err means the runner answers it.
type reply struct {
	id  string
	err error
}

// connView is the session state as last reported to the client. Replies
// that never reach the runner are stamped with it, so the client sees the
// real phase rather than a zero one.
type connView struct {
	sessionID       string
	phase           session.Phase
	stepsRemaining  uint32
	accumulatedTime time.Duration
}

func (v *connView) observe(resp session.Response) {
	v.phase = resp.Phase
	if resp.Phase == session.PhaseIdle {
		*v = connView{}
		return
	}
	// A rejected Start carries the refused ID, not the live one.
	if resp.Kind != session.KindRejected {
		v.sessionID = resp.SessionID
	}
	v.stepsRemaining = resp.StepsRemaining
	v.accumulatedTime = resp.AccumulatedTime
}

func (v *connView) reject(id string, err error) session.Response {
	if id == "" {
		id = v.sessionID
	}
	return session.Response{
		SessionID:       id,
		Kind:            session.KindRejected,
		Phase:           v.phase,
		StepsRemaining:  v.stepsRemaining,
		AccumulatedTime: v.accumulatedTime,
		Error:           err.Error(),
	}
}

// frameWriter serializes writes; gorilla connections allow one writer.
type frameWriter struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (w *frameWriter) write(resp session.Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	wsFrames.WithLabelValues("out").Inc()
	return nil
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrUnknownGame):
		return "unknown_game"
	case errors.Is(err, search.ErrInvalidConfig):
		return "invalid_config"
	default:
		return "malformed"
	}
}

func isClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
