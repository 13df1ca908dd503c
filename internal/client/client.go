package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/tcpserv/internal/logging"
	"github.com/danmuck/tcpserv/internal/observability"
	"github.com/danmuck/tcpserv/internal/protocol"
	"github.com/danmuck/tcpserv/internal/protocol/frame"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Request outcomes, used as metric labels.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeConnection = "connection"
	OutcomeClosed     = "closed"
	OutcomeError      = "error"
)

// Config holds optional deadlines. Zero values leave the call unbounded.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{Limits: frame.DefaultLimits()}
}

// Client performs one-shot request/response calls. It holds no connections
// between calls and is safe for concurrent use.
type Client struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		log: logging.Component("client"),
	}
}

// Request sends data to the server at host:port and returns its response.
func Request(host string, port int, data []byte) ([]byte, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return New(DefaultConfig()).Request(context.Background(), addr, data)
}

// Request dials addr, writes one request frame, reads one response frame, and
// closes the connection. There is no retry; every failure aborts the call.
func (c *Client) Request(ctx context.Context, addr string, data []byte) (resp []byte, err error) {
	addr = strings.TrimSpace(addr)
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "tcpserv.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("server.address", addr),
			attribute.Int("tcpserv.request_bytes", len(data)),
		),
	)
	defer func() {
		outcome := Outcome(err)
		observability.RecordClientRequest(outcome, time.Since(start))
		span.SetAttributes(attribute.String("tcpserv.outcome", outcome))
		observability.EndSpan(span, err)
		if err != nil {
			c.log.Debug().Err(err).Str("addr", addr).Str("outcome", outcome).Msg("request failed")
		}
	}()

	if err := frame.ValidateLength(uint64(len(data))); err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", protocol.ErrConnection, addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := frame.WriteFrame(conn, data); err != nil {
		return nil, c.ioError(ctx, fmt.Errorf("%w: write request: %w", protocol.ErrConnection, err))
	}
	observability.RecordFrameBytes(observability.RoleClient, observability.DirectionOut, len(data))

	if c.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	resp, err = frame.ReadFrame(conn, c.cfg.Limits)
	if err != nil {
		if !errors.Is(err, protocol.ErrConnectionClosed) && !errors.Is(err, protocol.ErrValidation) {
			err = fmt.Errorf("%w: read response: %w", protocol.ErrConnection, err)
		}
		return nil, c.ioError(ctx, err)
	}
	observability.RecordFrameBytes(observability.RoleClient, observability.DirectionIn, len(resp))
	return resp, nil
}

// ioError prefers the context error when cancellation closed the connection.
func (c *Client) ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// Outcome classifies a Request error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, protocol.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, protocol.ErrConnectionClosed):
		return OutcomeClosed
	case errors.Is(err, protocol.ErrConnection):
		return OutcomeConnection
	default:
		return OutcomeError
	}
}
