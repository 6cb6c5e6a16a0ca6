package application

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
)

const maxLogLineBytes = 4 << 20

// RateLimitScanner runs the cooldown heuristic over the gateway logs of
// today and yesterday so that a midnight rollover does not hide events.
type RateLimitScanner struct {
	source ports.LogSource
	rules  []domain.ProviderRule
	logger *slog.Logger
}

func NewRateLimitScanner(source ports.LogSource, rules []domain.ProviderRule, logger *slog.Logger) *RateLimitScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitScanner{source: source, rules: rules, logger: logger}
}

// ScanDays returns the UTC days whose logs are inspected at now.
func ScanDays(now time.Time) []time.Time {
	today := now.UTC()
	return []time.Time{today, today.Add(-24 * time.Hour)}
}

// Scan never fails on unreadable logs; only a cancelled ctx is reported.
func (s *RateLimitScanner) Scan(ctx context.Context, now time.Time) (map[string]domain.RateLimitEvent, error) {
	detector := domain.NewRateLimitDetector(s.rules)

	for _, day := range ScanDays(now) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.scanDay(ctx, detector, day); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("skipping gateway log", "day", day.Format(time.DateOnly), "error", err)
		}
	}

	return detector.Events(now), nil
}

func (s *RateLimitScanner) scanDay(ctx context.Context, detector *domain.RateLimitDetector, day time.Time) error {
	reader, err := s.source.Open(ctx, day)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open log: %w", err)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineBytes)
	for scanner.Scan() {
		detector.Observe(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	return nil
}
