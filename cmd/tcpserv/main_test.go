package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tcpserv/internal/client"
	"github.com/danmuck/tcpserv/internal/config"
	"github.com/danmuck/tcpserv/internal/handlers"
	"github.com/danmuck/tcpserv/internal/protocol"
	"github.com/danmuck/tcpserv/internal/server"
	"github.com/danmuck/tcpserv/internal/testutil/testlog"
)

func lookup(t *testing.T, name string) server.Handler {
	t.Helper()
	handler, err := handlers.Lookup(name)
	if err != nil {
		t.Fatalf("lookup handler: %v", err)
	}
	return handler
}

func startServer(t *testing.T, handler server.Handler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := server.New(server.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln, handler)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Wait()
	})
	return ln.Addr().String()
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunBenchEcho(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, lookup(t, handlers.NameEcho))
	res, err := runBench(context.Background(), client.New(client.DefaultConfig()), addr, benchOptions{
		Count:       8,
		Size:        1 << 16,
		Concurrency: 4,
		Verify:      true,
	})
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if res.Requests != 8 || res.Bytes != 8*2*(1<<16) {
		t.Fatalf("unexpected bench result: %+v", res)
	}
	if !strings.Contains(res.String(), "8 requests") {
		t.Fatalf("unexpected summary: %s", res)
	}
}

func TestRunBenchDetectsMismatch(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, server.Simple(func(b []byte) []byte { return b[:len(b)/2] }))
	_, err := runBench(context.Background(), client.New(client.DefaultConfig()), addr, benchOptions{
		Count:  2,
		Size:   10,
		Verify: true,
	})
	if err == nil || !strings.Contains(err.Error(), "response mismatch") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestRunBenchValidatesOptions(t *testing.T) {
	c := client.New(client.DefaultConfig())
	if _, err := runBench(context.Background(), c, "127.0.0.1:1", benchOptions{Count: 0}); err == nil {
		t.Fatalf("expected count validation error")
	}
	if _, err := runBench(context.Background(), c, "127.0.0.1:1", benchOptions{Count: 1, Size: -1}); err == nil {
		t.Fatalf("expected size validation error")
	}
}

func TestRunBenchUnreachable(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = runBench(context.Background(), client.New(client.DefaultConfig()), addr, benchOptions{Count: 2, Size: 4})
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestRequestCommand(t *testing.T) {
	testlog.Start(t)

	addr := startServer(t, lookup(t, handlers.NameReverse))
	out, err := execute(t, "", "request", "--addr", addr, "--data", "hello")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if out != "olleh" {
		t.Fatalf("unexpected response %q", out)
	}

	out, err = execute(t, "from stdin", "request", "--addr", addr)
	if err != nil {
		t.Fatalf("request stdin: %v", err)
	}
	if out != "nidts morf" {
		t.Fatalf("unexpected stdin response %q", out)
	}
}

func TestRequestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("%w: dial: refused", protocol.ErrConnection), true},
		{fmt.Errorf("%w: eof", protocol.ErrConnectionClosed), false},
		{fmt.Errorf("%w: too large", protocol.ErrValidation), false},
		{errors.New("other"), false},
	}
	for _, tc := range cases {
		if got := retryable(tc.err); got != tc.want {
			t.Fatalf("retryable(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}

func TestConfigInitAndValidateCommands(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "server.toml")
	if _, err := execute(t, "", "config", "init", "--kind", config.KindServer, "-o", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	out, err := execute(t, "", "config", "validate", path)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "validated server config") {
		t.Fatalf("unexpected validate output %q", out)
	}
	if _, err := execute(t, "", "config", "init", "--kind", config.KindServer, "-o", path); err == nil {
		t.Fatalf("expected init to refuse overwrite")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := config.LoadServerConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.MaxPayloadBytes != 16<<20 || cfg.MaxConnections != 256 {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitFor(fn func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fn()
}

func TestRunServeServesUntilCancelled(t *testing.T) {
	testlog.Start(t)

	cfg := config.DefaultServerConfig()
	cfg.Addr = freeAddr(t)
	cfg.AdminAddr = freeAddr(t)
	cfg.Handler = handlers.NameReverse

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(ctx, cfg)
	}()

	c := client.New(client.DefaultConfig())
	var resp []byte
	if !waitFor(func() bool {
		var err error
		resp, err = c.Request(context.Background(), cfg.Addr, []byte("abc"))
		return err == nil
	}) {
		t.Fatalf("tcp listener never answered")
	}
	if string(resp) != "cba" {
		t.Fatalf("unexpected response %q", resp)
	}

	if !waitFor(func() bool {
		res, err := http.Get("http://" + cfg.AdminAddr + "/ready")
		if err != nil {
			return false
		}
		res.Body.Close()
		return res.StatusCode == http.StatusOK
	}) {
		t.Fatalf("admin /ready never reported ready")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runServe did not stop after cancel")
	}

	if _, err := c.Request(context.Background(), cfg.Addr, []byte("late")); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection after shutdown, got %v", err)
	}
}

func TestRunServeRejectsUnknownHandler(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.Handler = "upper"
	if err := runServe(context.Background(), cfg); err == nil {
		t.Fatalf("expected unknown handler error")
	}
}
