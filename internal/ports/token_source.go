package ports

import "context"

// TokenSource yields the gateway auth token. An empty token with a nil
// error means the source has nothing configured.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
