package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-serials/pkg/config"
	"github.com/angelmondragon/packfinderz-serials/pkg/db"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
)

// MaybeRunDev prepares the schema on boot. SQLite always gets AutoMigrate;
// Postgres runs the embedded goose files only in dev with AUTO_MIGRATE set.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg.FeatureFlags.UseSQLite {
		logg.Info(logg.WithField(ctx, "driver", config.DriverSQLite), "migrate.automigrate")
		return AutoMigrate(client.DB())
	}
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.SQL()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	steps, err := Run(ctx, sqlDB, DefaultDir, "up")
	if err != nil {
		return err
	}
	for _, step := range steps {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     step.Version,
			"path":        step.Path,
			"duration_ms": step.Duration.Milliseconds(),
		}), "migrate.applied")
	}
	logg.Info(logg.WithField(ctx, "applied", len(steps)), "migrate.dev_complete")
	return nil
}
