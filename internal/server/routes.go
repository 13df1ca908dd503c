package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/tcpserv/internal/node"
	"github.com/danmuck/tcpserv/internal/observability"
	"github.com/danmuck/tcpserv/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Admin is the HTTP side channel for health, readiness, stats, and metrics.
type Admin struct {
	ID       string
	Appeared time.Time

	srv    *Server
	router *gin.Engine
}

var _ node.Node = (*Admin)(nil)

func NewAdmin(id string, srv *Server) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:       id,
		Appeared: time.Now(),
		srv:      srv,
		router:   r,
	}
	a.RegisterRoutes()
	return a
}

func (a *Admin) NodeID() string {
	return a.ID
}

func (a *Admin) Kind() string {
	return "tcpserv"
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) RegisterRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"service": a.ID,
			"version": version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		stats := a.srv.Stats()
		status := http.StatusOK
		if !stats.Serving {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   stats.Serving,
			"addr":    stats.Addr,
			"service": a.ID,
			"version": version,
		})
	})

	a.router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.srv.Stats())
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve runs the admin router on addr until ctx is cancelled.
func (a *Admin) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("%w: admin listen %s: %w", protocol.ErrConnection, addr, err)
	}
	hs := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
