package ports

import (
	"context"
	"encoding/json"
)

// GatewaySession is an authenticated connection to the gateway. Call errors
// are per call; they never invalidate the session.
type GatewaySession interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close() error
}

// GatewayDialer opens a session and completes the handshake. Errors wrap
// domain.ErrConnection.
type GatewayDialer interface {
	Dial(ctx context.Context) (GatewaySession, error)
}
