// Package node describes a side-channel HTTP surface that a tcpserv process
// runs next to its TCP listener.
package node

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Node is an admin surface with a stable identity. Serve blocks until ctx is
// cancelled or the HTTP listener fails.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
	Serve(ctx context.Context, addr string) error
}
