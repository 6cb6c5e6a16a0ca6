package ports

import (
	"context"

	"github.com/bnema/clawstat/internal/domain"
)

type SnapshotStore interface {
	Save(ctx context.Context, snapshot domain.Snapshot) error
	Load(ctx context.Context) (domain.Snapshot, error)
	Path() string
}

type Uploader interface {
	Upload(ctx context.Context, artifactPath string) (string, error)
}
