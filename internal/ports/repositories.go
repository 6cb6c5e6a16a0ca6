package ports

import (
	"context"

	"github.com/bnema/clawstat/internal/domain"
)

type ProviderRuleRepository interface {
	List(ctx context.Context) ([]domain.ProviderRule, error)
}

type RunHistory interface {
	Record(ctx context.Context, run domain.RunRecord) (int64, error)
	Recent(ctx context.Context, limit int) ([]domain.RunRecord, error)
}
