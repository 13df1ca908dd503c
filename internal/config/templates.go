package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindServer = "server"
	KindClient = "client"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate checks the file at path as the given kind and reports the first
// problem. TCPSERV_* environment overrides are not applied.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		cfg := DefaultServerConfig()
		if err := decodeServerFile(path, &cfg); err != nil {
			return err
		}
		return ValidateServerConfig(cfg)
	case KindClient:
		_, err := LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const serverTemplate = `addr = "localhost:55555"
# admin_addr = "127.0.0.1:55556"
handler = "echo"

# Zero or absent disables the deadline.
read_timeout = "0s"
write_timeout = "0s"

# Zero means one goroutine per connection with no ceiling.
max_connections = 0

# Zero accepts every length the 4-byte prefix can carry.
max_payload_bytes = 0
`

const clientTemplate = `addr = "localhost:55555"
connect_timeout = "5s"
read_timeout = "0s"
write_timeout = "0s"
`
