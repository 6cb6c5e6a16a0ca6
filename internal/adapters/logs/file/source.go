package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/clawstat/internal/ports"
)

const DefaultDir = "/tmp/openclaw"

// Source reads the daily gateway logs named openclaw-YYYY-MM-DD.log.
type Source struct {
	dir string
}

var _ ports.LogSource = (*Source)(nil)

func NewSource(dir string) *Source {
	if dir == "" {
		dir = DefaultDir
	}
	return &Source{dir: filepath.Clean(dir)}
}

func (s *Source) PathFor(day time.Time) string {
	return filepath.Join(s.dir, "openclaw-"+day.UTC().Format(time.DateOnly)+".log")
}

func (s *Source) Open(ctx context.Context, day time.Time) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.PathFor(day))
	if err != nil {
		return nil, fmt.Errorf("open gateway log: %w", err)
	}
	return f, nil
}
