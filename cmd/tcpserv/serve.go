package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/tcpserv/internal/config"
	"github.com/danmuck/tcpserv/internal/handlers"
	"github.com/danmuck/tcpserv/internal/node"
	"github.com/danmuck/tcpserv/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		adminAddr  string
		handler    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = strings.TrimSpace(addr)
			}
			if flags.Changed("admin-addr") {
				cfg.AdminAddr = strings.TrimSpace(adminAddr)
			}
			if flags.Changed("handler") {
				cfg.Handler = strings.TrimSpace(handler)
			}
			if err := config.ValidateServerConfig(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "server config file (toml)")
	cmd.Flags().StringVar(&addr, "addr", config.DefaultAddr, "listen address host:port")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "admin HTTP address (health, stats, metrics)")
	cmd.Flags().StringVar(&handler, "handler", config.DefaultHandler, "handler: "+strings.Join(handlers.Names(), "|"))
	return cmd
}

func runServe(ctx context.Context, cfg config.ServerConfig) error {
	handler, err := handlers.Lookup(cfg.Handler)
	if err != nil {
		return err
	}
	srv := server.New(cfg.Server())
	log.Info().
		Str("addr", cfg.Addr).
		Str("admin_addr", cfg.AdminAddr).
		Str("handler", cfg.Handler).
		Dur("read_timeout", cfg.ReadTimeout).
		Dur("write_timeout", cfg.WriteTimeout).
		Int64("max_connections", cfg.MaxConnections).
		Msg("tcpserv starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Addr, handler)
	})
	if cfg.AdminAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		var admin node.Node = server.NewAdmin("tcpserv", srv)
		log.Info().
			Str("node_id", admin.NodeID()).
			Str("kind", admin.Kind()).
			Str("admin_addr", cfg.AdminAddr).
			Msg("admin surface enabled")
		g.Go(func() error {
			return admin.Serve(ctx, cfg.AdminAddr)
		})
	}
	err = g.Wait()
	st := srv.Stats()
	log.Info().
		Uint64("accepted", st.Accepted).
		Uint64("served", st.Served).
		Uint64("failed", st.Failed).
		Int64("in_flight", st.Active).
		Msg("tcpserv stopped")
	return err
}
