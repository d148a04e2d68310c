package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/bookswap-backend/internal/orders"
	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

const (
	defaultPendingOrderTTL = 72 * time.Hour
	defaultExpiryBatch     = 100
	expiryReason           = "payment not completed in time"
)

type stalePendingLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderExpirer interface {
	ExpireOrder(ctx context.Context, orderID uuid.UUID, reason string) (*orders.SagaResult, error)
}

type PendingOrderExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    stalePendingLister
	Expirer   orderExpirer
	TTL       time.Duration
	BatchSize int
}

func NewPendingOrderExpiryJob(params PendingOrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingOrderTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &pendingOrderExpiryJob{
		logg:    params.Logger,
		orders:  params.Orders,
		expirer: params.Expirer,
		ttl:     ttl,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type pendingOrderExpiryJob struct {
	logg    *logger.Logger
	orders  stalePendingLister
	expirer orderExpirer
	ttl     time.Duration
	batch   int
	now     func() time.Time
}

func (j *pendingOrderExpiryJob) Name() string { return "pending_order_expiry" }

// Run cancels pending orders older than the TTL. An order that moved on
// between the scan and the cancel is skipped.
func (j *pendingOrderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	stale, err := j.orders.ListStalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale pending orders: %w", err)
	}

	var (
		errs     error
		expired  int
		warnings int
	)
	for _, order := range stale {
		result, err := j.expirer.ExpireOrder(ctx, order.ID, expiryReason)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		expired++
		warnings += len(result.Warnings)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"scanned":  len(stale),
		"expired":  expired,
		"warnings": warnings,
	})
	j.logg.Info(logCtx, "pending order expiry complete")
	return errs
}
