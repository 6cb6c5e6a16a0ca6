package gsutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
)

const objectName = "status.json"

var ErrUnavailable = errors.New("gsutil command unavailable")

type runFunc func(ctx context.Context, args ...string) (stdout string, stderr string, err error)

// Uploader copies the artifact to <bucket>/status.json with caching
// disabled so dashboards always fetch the latest snapshot.
type Uploader struct {
	bucket string
	run    runFunc
}

var _ ports.Uploader = (*Uploader)(nil)

func NewUploader(bucket string) *Uploader {
	return &Uploader{bucket: bucket, run: runGsutilCommand}
}

func (u *Uploader) Destination() string {
	return strings.TrimRight(u.bucket, "/") + "/" + objectName
}

func (u *Uploader) Upload(ctx context.Context, artifactPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(u.bucket) == "" {
		return "", fmt.Errorf("%w: bucket is empty", domain.ErrUpload)
	}

	dest := u.Destination()
	_, stderr, err := u.run(ctx, "-h", "Cache-Control:no-cache", "cp", artifactPath, dest)
	if err != nil {
		if stderr == "" {
			return "", fmt.Errorf("%w: gsutil cp %s: %w", domain.ErrUpload, dest, err)
		}
		return "", fmt.Errorf("%w: gsutil cp %s: %w: %s", domain.ErrUpload, dest, err, stderr)
	}

	return dest, nil
}

func runGsutilCommand(ctx context.Context, args ...string) (string, string, error) {
	path, err := exec.LookPath("gsutil")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", ErrUnavailable
		}
		return "", "", fmt.Errorf("locate gsutil command: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return stdout.String(), strings.TrimSpace(stderr.String()), err
}
