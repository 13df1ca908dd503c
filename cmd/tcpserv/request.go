package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/tcpserv/internal/client"
	"github.com/danmuck/tcpserv/internal/config"
	"github.com/danmuck/tcpserv/internal/protocol"
	"github.com/danmuck/tcpserv/internal/retry"
	"github.com/spf13/cobra"
)

func requestCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		data       string
		timeout    time.Duration
		attempts   int
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send one request and print the response",
		Long: `Send one request frame and write the response payload to stdout.

The payload is --data when given, otherwise all of stdin. With --attempts
above 1, connection-level failures are retried with backoff.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientFlags(cmd, configPath, addr, timeout)
			if err != nil {
				return err
			}
			payload := []byte(data)
			if !cmd.Flags().Changed("data") {
				if payload, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			c := client.New(cfg.Client())
			var resp []byte
			err = retry.Do(cmd.Context(), attempts, retry.DefaultBackoff(), retryable, func(ctx context.Context) error {
				var reqErr error
				resp, reqErr = c.Request(ctx, cfg.Addr, payload)
				return reqErr
			})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(resp)
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "client config file (toml)")
	cmd.Flags().StringVar(&addr, "addr", config.DefaultAddr, "server address host:port")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request payload (default: stdin)")
	cmd.Flags().DurationVar(&timeout, "connect-timeout", 0, "dial timeout (0 disables)")
	cmd.Flags().IntVar(&attempts, "attempts", 1, "total attempts for connection failures")
	return cmd
}

// retryable reports connect and transport failures. A peer that closed
// mid-frame or an invalid payload is not retried.
func retryable(err error) bool {
	return errors.Is(err, protocol.ErrConnection) && !errors.Is(err, protocol.ErrValidation)
}

// loadClientFlags merges the optional client config file with explicit flags.
func loadClientFlags(cmd *cobra.Command, path, addr string, connectTimeout time.Duration) (config.ClientConfig, error) {
	cfg, err := config.LoadClientConfig(path)
	if err != nil {
		return config.ClientConfig{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = strings.TrimSpace(addr)
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = connectTimeout
	}
	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}
