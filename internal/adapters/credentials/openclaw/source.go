package openclaw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/clawstat/internal/ports"
	"github.com/tidwall/jsonc"
)

const (
	configDir  = ".openclaw"
	configFile = "openclaw.json"
)

// Source reads the gateway token from the local OpenClaw config. The file
// may contain comments and trailing commas.
type Source struct {
	path string
}

var _ ports.TokenSource = (*Source)(nil)

func NewSource(path string) *Source {
	return &Source{path: path}
}

// DefaultPath is ~/.openclaw/openclaw.json.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, configDir, configFile), nil
}

type configSchema struct {
	Gateway struct {
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
		Remote struct {
			Token string `json:"token"`
		} `json:"remote"`
	} `json:"gateway"`
}

// Token prefers gateway.auth.token over gateway.remote.token. A missing file
// yields an empty token.
func (s *Source) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read openclaw config: %w", err)
	}

	var cfg configSchema
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return "", fmt.Errorf("decode openclaw config %s: %w", s.path, err)
	}

	if token := strings.TrimSpace(cfg.Gateway.Auth.Token); token != "" {
		return token, nil
	}
	return strings.TrimSpace(cfg.Gateway.Remote.Token), nil
}
