package cache

import (
	"context"
	"time"

	"says/backend/internal/domain"
)

type CommissionCache interface {
	Get(ctx context.Context, key string) ([]domain.CommissionSummary, bool, error)
	Set(ctx context.Context, key string, value []domain.CommissionSummary, ttl time.Duration) error
}

type NoopCommissionCache struct{}

func (NoopCommissionCache) Get(_ context.Context, _ string) ([]domain.CommissionSummary, bool, error) {
	return nil, false, nil
}

func (NoopCommissionCache) Set(_ context.Context, _ string, _ []domain.CommissionSummary, _ time.Duration) error {
	return nil
}
