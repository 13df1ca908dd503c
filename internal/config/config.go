package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tcpserv/internal/client"
	"github.com/danmuck/tcpserv/internal/handlers"
	"github.com/danmuck/tcpserv/internal/protocol/frame"
	"github.com/danmuck/tcpserv/internal/server"
	"github.com/joeshaw/envdecode"
)

const (
	DefaultAddr    = "localhost:55555"
	DefaultHandler = handlers.NameEcho
)

// ServerConfig is the tcpserv serve runtime configuration.
type ServerConfig struct {
	Addr            string
	AdminAddr       string
	Handler         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxConnections  int64
	MaxPayloadBytes uint64
}

// ClientConfig is the tcpserv request/bench configuration.
type ClientConfig struct {
	Addr           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type serverFile struct {
	Addr            string `toml:"addr"`
	AdminAddr       string `toml:"admin_addr"`
	Handler         string `toml:"handler"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	MaxConnections  int64  `toml:"max_connections"`
	MaxPayloadBytes uint64 `toml:"max_payload_bytes"`
}

type clientFile struct {
	Addr           string `toml:"addr"`
	ConnectTimeout string `toml:"connect_timeout"`
	ReadTimeout    string `toml:"read_timeout"`
	WriteTimeout   string `toml:"write_timeout"`
}

type serverEnv struct {
	Addr           string `env:"TCPSERV_ADDR"`
	AdminAddr      string `env:"TCPSERV_ADMIN_ADDR"`
	Handler        string `env:"TCPSERV_HANDLER"`
	MaxConnections string `env:"TCPSERV_MAX_CONNECTIONS"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:    DefaultAddr,
		Handler: DefaultHandler,
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{Addr: DefaultAddr}
}

// LoadServerConfig reads path (skipped when empty) over the defaults, applies
// TCPSERV_* environment overrides, and validates the result.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) != "" {
		if err := decodeServerFile(path, &cfg); err != nil {
			return ServerConfig{}, err
		}
	}
	if err := applyServerEnv(&cfg); err != nil {
		return ServerConfig{}, err
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if strings.TrimSpace(path) != "" {
		var raw clientFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("load client config (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return ClientConfig{}, fmt.Errorf("client config (%s): unknown key %q", path, undecoded[0].String())
		}
		if meta.IsDefined("addr") {
			cfg.Addr = strings.TrimSpace(raw.Addr)
		}
		durations := []struct {
			key string
			raw string
			dst *time.Duration
		}{
			{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
			{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
			{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		}
		for _, d := range durations {
			if !meta.IsDefined(d.key) {
				continue
			}
			if *d.dst, err = parseDuration(d.key, d.raw); err != nil {
				return ClientConfig{}, err
			}
		}
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func decodeServerFile(path string, cfg *ServerConfig) error {
	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load server config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("server config (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("handler") {
		cfg.Handler = strings.TrimSpace(raw.Handler)
	}
	if meta.IsDefined("read_timeout") {
		if cfg.ReadTimeout, err = parseDuration("read_timeout", raw.ReadTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	return nil
}

func applyServerEnv(cfg *ServerConfig) error {
	var env serverEnv
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode env: %w", err)
	}
	if v := strings.TrimSpace(env.Addr); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(env.AdminAddr); v != "" {
		cfg.AdminAddr = v
	}
	if v := strings.TrimSpace(env.Handler); v != "" {
		cfg.Handler = v
	}
	if v := strings.TrimSpace(env.MaxConnections); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse TCPSERV_MAX_CONNECTIONS: %w", err)
		}
		cfg.MaxConnections = n
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if err := validateAddr("addr", cfg.Addr); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		if err := validateAddr("admin_addr", cfg.AdminAddr); err != nil {
			return err
		}
	}
	if _, err := handlers.Lookup(cfg.Handler); err != nil {
		return fmt.Errorf("server config handler: %w", err)
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		return fmt.Errorf("server config timeouts must not be negative")
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("server config max_connections must not be negative")
	}
	if err := frame.ValidateLength(cfg.MaxPayloadBytes); err != nil {
		return fmt.Errorf("server config max_payload_bytes: %w", err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if err := validateAddr("addr", cfg.Addr); err != nil {
		return err
	}
	if cfg.ConnectTimeout < 0 || cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		return fmt.Errorf("client config timeouts must not be negative")
	}
	return nil
}

func validateAddr(key, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("%s is required", key)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s invalid: %w", key, err)
	}
	return nil
}

// Server converts the file-level config into the server runtime config.
func (c ServerConfig) Server() server.Config {
	cfg := server.DefaultConfig()
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.MaxConnections = c.MaxConnections
	if c.MaxPayloadBytes > 0 {
		cfg.Limits = frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
	}
	return cfg
}

func (c ClientConfig) Client() client.Config {
	cfg := client.DefaultConfig()
	cfg.ConnectTimeout = c.ConnectTimeout
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	return cfg
}
