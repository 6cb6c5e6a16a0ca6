package ports

import (
	"context"
	"io"
	"time"
)

// LogSource opens the gateway log of one UTC day. A missing log returns an
// error satisfying errors.Is(err, fs.ErrNotExist).
type LogSource interface {
	Open(ctx context.Context, day time.Time) (io.ReadCloser, error)
}
