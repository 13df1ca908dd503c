package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tcpserv/internal/logging"
	"github.com/danmuck/tcpserv/internal/observability"
	"github.com/danmuck/tcpserv/internal/protocol"
	"github.com/danmuck/tcpserv/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNilHandler     = errors.New("server: handler required")
	ErrHandlerFailed  = errors.New("server: handler failed")
	ErrHandlerPanic   = errors.New("server: handler panicked")
	ErrAlreadyServing = errors.New("server: already serving")
)

// Handler maps one request payload to one response payload. It is called
// concurrently from every connection goroutine. Returning an error closes the
// connection without a response frame.
type Handler func(request []byte) ([]byte, error)

// Simple adapts an infallible payload transform into a Handler.
func Simple(fn func(request []byte) []byte) Handler {
	return func(request []byte) ([]byte, error) {
		return fn(request), nil
	}
}

// Config controls per-connection deadlines and admission. The zero value of
// every field keeps the unbounded, deadline-free behavior.
type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int64
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{Limits: frame.DefaultLimits()}
}

// Stats is a point-in-time view of connection counters.
type Stats struct {
	Addr     string `json:"addr"`
	Serving  bool   `json:"serving"`
	Active   int64  `json:"active"`
	Accepted uint64 `json:"accepted"`
	Served   uint64 `json:"served"`
	Failed   uint64 `json:"failed"`
	Rejected uint64 `json:"rejected"`
}

// Server accepts connections and answers exactly one request frame on each.
type Server struct {
	cfg Config
	sem *semaphore.Weighted
	log zerolog.Logger

	mu      sync.RWMutex
	ln      net.Listener
	serving bool
	wg      sync.WaitGroup

	active   atomic.Int64
	accepted atomic.Uint64
	served   atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64
}

func New(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		log: logging.Component("server"),
	}
	if cfg.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(cfg.MaxConnections)
	}
	return s
}

// Listen binds host:port and serves handler until an unrecoverable bind or
// accept error. It never returns nil.
func Listen(host string, port int, handler Handler) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return New(DefaultConfig()).ListenAndServe(context.Background(), addr, handler)
}

// ListenAndServe binds addr and runs Serve on the listener.
func (s *Server) ListenAndServe(ctx context.Context, addr string, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", protocol.ErrConnection, addr, err)
	}
	return s.Serve(ctx, ln, handler)
}

// Serve accepts on ln until ctx is cancelled (returns nil) or Accept fails.
// Each accepted connection is handled on its own goroutine; Serve does not
// wait for them, use Wait for that.
func (s *Server) Serve(ctx context.Context, ln net.Listener, handler Handler) error {
	if handler == nil {
		_ = ln.Close()
		return ErrNilHandler
	}
	if err := s.setListener(ln); err != nil {
		_ = ln.Close()
		return err
	}
	defer s.clearListener()
	defer ln.Close()
	s.log.Info().Str("addr", ln.Addr().String()).Int64("max_connections", s.cfg.MaxConnections).Msg("listening")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info().Str("addr", ln.Addr().String()).Msg("listener stopped")
				return nil
			}
			return fmt.Errorf("%w: accept: %w", protocol.ErrConnection, err)
		}
		if s.sem != nil && !s.sem.TryAcquire(1) {
			s.rejected.Add(1)
			observability.RecordConnRejected()
			s.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("connection ceiling reached, closing")
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn, handler)
	}
}

// Wait blocks until every in-flight connection goroutine has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Addr returns the bound listener address, or nil when not serving.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	st := Stats{Serving: s.serving}
	if s.ln != nil {
		st.Addr = s.ln.Addr().String()
	}
	s.mu.RUnlock()
	st.Active = s.active.Load()
	st.Accepted = s.accepted.Load()
	st.Served = s.served.Load()
	st.Failed = s.failed.Load()
	st.Rejected = s.rejected.Load()
	return st
}

func (s *Server) setListener(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serving {
		return ErrAlreadyServing
	}
	s.ln = ln
	s.serving = true
	return nil
}

func (s *Server) clearListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ln = nil
	s.serving = false
}

// handleConn owns conn until it is closed. Failures end this connection only.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer s.wg.Done()
	defer conn.Close()
	if s.sem != nil {
		defer s.sem.Release(1)
	}

	connID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	logger := s.log.With().Str("conn_id", connID).Str("remote", remote).Logger()

	active := s.active.Add(1)
	s.accepted.Add(1)
	observability.RecordConnAccepted()
	defer func() {
		s.active.Add(-1)
		observability.RecordConnDone()
	}()
	logger.Debug().Int64("active", active).Msg("connection accepted")

	_, span := observability.Tracer().Start(ctx, "tcpserv.serve",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("tcpserv.conn_id", connID),
			attribute.String("net.peer.address", remote),
		),
	)
	start := time.Now()
	x := s.exchange(conn, handler)
	span.SetAttributes(
		attribute.Int("tcpserv.request_bytes", x.requestLen),
		attribute.Int("tcpserv.response_bytes", x.responseLen),
	)
	observability.EndSpan(span, x.err)

	if x.err != nil {
		s.failed.Add(1)
		observability.RecordConnFailure(x.reason)
		logger.Warn().
			Err(x.err).
			Str("reason", x.reason).
			Int("request_bytes", x.requestLen).
			Dur("duration", time.Since(start)).
			Msg("connection dropped without response")
		return
	}
	s.served.Add(1)
	logger.Debug().
		Int("request_bytes", x.requestLen).
		Int("response_bytes", x.responseLen).
		Dur("duration", time.Since(start)).
		Msg("connection served")
}

type exchangeResult struct {
	requestLen  int
	responseLen int
	reason      string
	err         error
}

// exchange reads the request frame in full, invokes the handler, then writes
// the response frame in full. The caller closes conn afterwards.
func (s *Server) exchange(conn net.Conn, handler Handler) exchangeResult {
	var x exchangeResult
	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	request, err := frame.ReadFrame(conn, s.cfg.Limits)
	if err != nil {
		x.reason, x.err = observability.ReasonRead, err
		if errors.Is(err, protocol.ErrValidation) {
			x.reason = observability.ReasonValidation
		}
		return x
	}
	x.requestLen = len(request)
	observability.RecordFrameBytes(observability.RoleServer, observability.DirectionIn, len(request))

	response, err := invoke(handler, request)
	if err != nil {
		x.reason, x.err = observability.ReasonHandler, err
		if errors.Is(err, ErrHandlerPanic) {
			x.reason = observability.ReasonPanic
		}
		return x
	}
	if err := frame.ValidateLength(uint64(len(response))); err != nil {
		x.reason, x.err = observability.ReasonValidation, fmt.Errorf("handler response: %w", err)
		return x
	}
	x.responseLen = len(response)

	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := frame.WriteFrame(conn, response); err != nil {
		x.reason, x.err = observability.ReasonWrite, fmt.Errorf("%w: write response: %w", protocol.ErrConnection, err)
		return x
	}
	observability.RecordFrameBytes(observability.RoleServer, observability.DirectionOut, len(response))
	return x
}

// invoke runs handler and turns a panic into ErrHandlerPanic.
func invoke(handler Handler, request []byte) (response []byte, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			response, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		observability.RecordHandler(time.Since(start), err == nil)
	}()
	response, err = handler(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandlerFailed, err)
	}
	return response, nil
}
