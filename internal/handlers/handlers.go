// Package handlers holds the built-in request handlers selectable from config.
package handlers

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/tcpserv/internal/server"
)

const (
	NameEcho    = "echo"
	NameReverse = "reverse"
)

var registry = map[string]server.Handler{
	NameEcho:    server.Simple(Echo),
	NameReverse: server.Simple(Reverse),
}

// Echo returns the request unchanged.
func Echo(request []byte) []byte {
	return request
}

// Reverse returns the request reversed. Valid UTF-8 is reversed by rune,
// anything else by byte.
func Reverse(request []byte) []byte {
	out := make([]byte, len(request))
	if !utf8.Valid(request) {
		for i, b := range request {
			out[len(request)-1-i] = b
		}
		return out
	}
	end := len(out)
	for len(request) > 0 {
		_, size := utf8.DecodeRune(request)
		copy(out[end-size:end], request[:size])
		end -= size
		request = request[size:]
	}
	return out
}

// Lookup returns the handler registered under name.
func Lookup(name string) (server.Handler, error) {
	h, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("handlers: unknown handler %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return h, nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
