package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
)

const (
	DefaultPath = "status.json"

	artifactFileMode = 0o644
	artifactDirMode  = 0o755
	tempFilePattern  = ".status-*.json.tmp"
)

// Store keeps the latest snapshot as a compact JSON artifact. Writes go
// through a temp file and a rename so readers never see a partial file.
type Store struct {
	path string
	mu   sync.RWMutex
}

var _ ports.SnapshotStore = (*Store)(nil)

func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot path: %w", err)
	}

	return &Store{path: filepath.Clean(absPath)}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Save(ctx context.Context, snapshot domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeAtomic(data)
}

func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Snapshot{}, fmt.Errorf("%w: %s", domain.ErrNoSnapshot, s.path)
		}
		return domain.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	for _, raw := range []*json.RawMessage{&snapshot.Health, &snapshot.Status, &snapshot.Presence, &snapshot.Usage, &snapshot.Cost, &snapshot.Sessions} {
		if string(*raw) == "null" {
			*raw = nil
		}
	}

	return snapshot, nil
}

func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, artifactDirMode); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp snapshot file: %w", err)
	}

	if err := tempFile.Chmod(artifactFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp snapshot file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp snapshot file: %w", err)
	}

	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace snapshot file: %w", err)
	}

	cleanup = false
	return nil
}
