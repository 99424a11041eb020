package cache

import (
	"context"
	"time"

	"ferreteria/pos/internal/domain"
)

// CustomerCache fronts customer-account reads. Writes to the AR ledger must
// invalidate the entry; the cache is never the source for credit decisions.
type CustomerCache interface {
	Get(ctx context.Context, customerID string) (*domain.CustomerAccount, bool, error)
	Set(ctx context.Context, customer *domain.CustomerAccount, ttl time.Duration) error
	Invalidate(ctx context.Context, customerID string) error
}

type NoopCustomerCache struct{}

func (NoopCustomerCache) Get(_ context.Context, _ string) (*domain.CustomerAccount, bool, error) {
	return nil, false, nil
}

func (NoopCustomerCache) Set(_ context.Context, _ *domain.CustomerAccount, _ time.Duration) error {
	return nil
}

func (NoopCustomerCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
