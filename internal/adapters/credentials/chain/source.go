package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
)

// Static is a token already resolved from flags or the environment.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// Source asks each backend in order and returns the first non-empty token.
type Source struct {
	sources []ports.TokenSource
}

var _ ports.TokenSource = (*Source)(nil)

var errNoSources = errors.New("token source chain is empty")

func NewSource(sources ...ports.TokenSource) (*Source, error) {
	if len(sources) == 0 {
		return nil, errNoSources
	}
	for i, source := range sources {
		if source == nil {
			return nil, fmt.Errorf("token source %d is nil", i)
		}
	}
	return &Source{sources: sources}, nil
}

// Token fails with domain.ErrConfiguration when no backend has a token.
// Backend errors are collected and only reported in that case.
func (s *Source) Token(ctx context.Context) (string, error) {
	var errs []error
	for i, source := range s.sources {
		token, err := source.Token(ctx)
		if err != nil {
			if shouldStop(err) {
				return "", err
			}
			errs = append(errs, fmt.Errorf("token backend %d: %w", i, err))
			continue
		}
		if token != "" {
			return token, nil
		}
	}

	if len(errs) > 0 {
		return "", fmt.Errorf("%w: gateway token not found: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return "", fmt.Errorf("%w: gateway token not found (set --token, OPENCLAW_GW_TOKEN or gateway.auth.token in ~/.openclaw/openclaw.json)", domain.ErrConfiguration)
}

func shouldStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
