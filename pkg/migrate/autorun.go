package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/db"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

// MaybeRunDev brings the schema up to date on startup. It only runs in the
// dev environment with BOOKSWAP_AUTO_MIGRATE set.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("unwrap sql db: %w", err)
	}
	runner, err := NewRunner(sqlDB, DefaultDir, logg)
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "dir", DefaultDir)
	logg.Info(ctx, "auto-migrating dev database")
	return runner.Up(ctx)
}
