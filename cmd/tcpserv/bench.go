package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/tcpserv/internal/client"
	"github.com/danmuck/tcpserv/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchOptions struct {
	Count       int
	Size        int
	Concurrency int
	Verify      bool
}

type benchResult struct {
	Requests int
	Bytes    int64
	Elapsed  time.Duration
}

func (r benchResult) String() string {
	secs := r.Elapsed.Seconds()
	if secs <= 0 {
		secs = 1e-9
	}
	return fmt.Sprintf("%d requests, %d bytes in %s (%.1f req/s, %.2f MiB/s)",
		r.Requests, r.Bytes, r.Elapsed.Round(time.Millisecond),
		float64(r.Requests)/secs, float64(r.Bytes)/secs/(1<<20))
}

func benchCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		timeout    time.Duration
		opts       benchOptions
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Send repeated payloads of '1' bytes against an echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientFlags(cmd, configPath, addr, timeout)
			if err != nil {
				return err
			}
			res, err := runBench(cmd.Context(), client.New(cfg.Client()), cfg.Addr, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "client config file (toml)")
	cmd.Flags().StringVar(&addr, "addr", config.DefaultAddr, "server address host:port")
	cmd.Flags().DurationVar(&timeout, "connect-timeout", 0, "dial timeout (0 disables)")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 100, "number of requests")
	cmd.Flags().IntVarP(&opts.Size, "size", "s", 1<<20, "payload size in bytes")
	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "p", 1, "requests in flight")
	cmd.Flags().BoolVar(&opts.Verify, "verify", true, "require each response to equal the request")
	return cmd
}

// runBench sends opts.Count requests of opts.Size '1' bytes and, when
// Verify is set, fails on the first response that differs from the request.
func runBench(ctx context.Context, c *client.Client, addr string, opts benchOptions) (benchResult, error) {
	if opts.Count <= 0 {
		return benchResult{}, fmt.Errorf("bench count must be positive")
	}
	if opts.Size < 0 {
		return benchResult{}, fmt.Errorf("bench size must not be negative")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	payload := []byte(strings.Repeat("1", opts.Size))

	var total atomic.Int64
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := range opts.Count {
		g.Go(func() error {
			resp, err := c.Request(ctx, addr, payload)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			if opts.Verify && !bytes.Equal(resp, payload) {
				return fmt.Errorf("request %d: response mismatch (got %d bytes, want %d)", i, len(resp), len(payload))
			}
			total.Add(int64(len(payload) + len(resp)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}

	res := benchResult{Requests: opts.Count, Bytes: total.Load(), Elapsed: time.Since(start)}
	log.Info().
		Str("addr", addr).
		Int("requests", res.Requests).
		Int("size", opts.Size).
		Int("concurrency", opts.Concurrency).
		Int64("bytes", res.Bytes).
		Dur("elapsed", res.Elapsed).
		Msg("bench complete")
	return res, nil
}
