package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
)

type PublishResult struct {
	Snapshot     domain.Snapshot
	ArtifactPath string
	UploadedTo   string
}

// Publisher wraps a collection run with the optional upload and run
// history bookkeeping.
type Publisher struct {
	collector *Collector
	store     ports.SnapshotStore
	uploader  ports.Uploader
	history   ports.RunHistory
	clock     ports.Clock
	logger    *slog.Logger
}

// NewPublisher accepts a nil uploader or history to disable that step.
func NewPublisher(collector *Collector, store ports.SnapshotStore, uploader ports.Uploader, history ports.RunHistory, clock ports.Clock, logger *slog.Logger) *Publisher {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		collector: collector,
		store:     store,
		uploader:  uploader,
		history:   history,
		clock:     clock,
		logger:    logger,
	}
}

// Publish collects a snapshot and uploads it when an uploader is set. An
// upload failure is returned with the result of the already written
// artifact.
func (p *Publisher) Publish(ctx context.Context) (PublishResult, error) {
	record := domain.RunRecord{StartedAt: p.clock.Now()}

	snapshot, err := p.collector.Collect(ctx)
	if err != nil {
		record.Outcome = domain.RunFailed
		record.Error = err.Error()
		p.record(ctx, record)
		return PublishResult{}, err
	}

	result := PublishResult{Snapshot: snapshot, ArtifactPath: p.store.Path()}
	record.MissingCalls = snapshot.MissingCalls()
	record.TaskCount = len(snapshot.TaskMap)
	record.AgentCount = len(snapshot.AgentIDs())
	record.CooldownProviders = snapshot.CooldownProviders()
	record.Outcome = domain.RunOK

	if p.uploader != nil {
		dest, err := p.uploader.Upload(ctx, result.ArtifactPath)
		if err != nil {
			if !errors.Is(err, domain.ErrUpload) {
				err = fmt.Errorf("%w: %w", domain.ErrUpload, err)
			}
			record.Outcome = domain.RunFailed
			record.Error = err.Error()
			p.record(ctx, record)
			return result, err
		}
		result.UploadedTo = dest
		record.Uploaded = true
	}

	p.record(ctx, record)
	return result, nil
}

func (p *Publisher) record(ctx context.Context, record domain.RunRecord) {
	if p.history == nil {
		return
	}
	record.FinishedAt = p.clock.Now()
	if _, err := p.history.Record(ctx, record); err != nil {
		p.logger.Warn("record run history", "error", err)
	}
}
