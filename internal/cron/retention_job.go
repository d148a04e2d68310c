package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

const (
	outboxRetentionDays       = 30
	dlqRetentionDays          = 180
	notificationRetentionDays = 90
)

// pruner deletes rows older than cutoff and reports how many went.
type pruner func(ctx context.Context, cutoff time.Time) (int64, error)

type RetentionJobParams struct {
	Logger *logger.Logger
	// Name labels logs and metrics.
	Name      string
	Prune     pruner
	Retention time.Duration
}

// NewRetentionJob prunes rows older than the retention window on every
// cycle.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Name == "" {
		return nil, fmt.Errorf("job name required")
	}
	if params.Prune == nil {
		return nil, fmt.Errorf("prune func required")
	}
	if params.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	return &retentionJob{
		logg:      params.Logger,
		name:      params.Name,
		prune:     params.Prune,
		retention: params.Retention,
		now:       time.Now,
	}, nil
}

// NewOutboxRetentionJob prunes published outbox events.
func NewOutboxRetentionJob(logg *logger.Logger, prune pruner) (Job, error) {
	return NewRetentionJob(RetentionJobParams{
		Logger:    logg,
		Name:      "outbox_retention",
		Prune:     prune,
		Retention: outboxRetentionDays * 24 * time.Hour,
	})
}

// NewDLQRetentionJob prunes parked outbox events once operators have had
// time to replay them.
func NewDLQRetentionJob(logg *logger.Logger, prune pruner) (Job, error) {
	return NewRetentionJob(RetentionJobParams{
		Logger:    logg,
		Name:      "outbox_dlq_retention",
		Prune:     prune,
		Retention: dlqRetentionDays * 24 * time.Hour,
	})
}

// NewNotificationCleanupJob prunes notifications the user has read.
func NewNotificationCleanupJob(logg *logger.Logger, prune pruner) (Job, error) {
	return NewRetentionJob(RetentionJobParams{
		Logger:    logg,
		Name:      "notification_cleanup",
		Prune:     prune,
		Retention: notificationRetentionDays * 24 * time.Hour,
	})
}

type retentionJob struct {
	logg      *logger.Logger
	name      string
	prune     pruner
	retention time.Duration
	now       func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "retention cleanup complete")
	return nil
}
