package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/tradepost/pkg/config"
	"github.com/angelmondragon/tradepost/pkg/db"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

// MaybeRunDev brings the schema up to date in dev when auto-migrate is on.
// Postgres runs the goose migrations; sqlite gets the hand-written schema
// because the migrations use Postgres-only types.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dialect": client.Dialect()})
	if client.Dialect() != db.DriverPostgres {
		logg.Info(ctx, "applying sqlite schema (dev auto-run)")
		if err := db.ApplySQLiteSchema(ctx, client.DB()); err != nil {
			return fmt.Errorf("applying sqlite schema: %w", err)
		}
		return nil
	}

	sqlDB, err := client.SQL()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	logg.Info(ctx, "running Goose migrations (dev auto-run)")
	if err := Run(ctx, sqlDB, client.Dialect(), "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	logg.Info(ctx, "Goose migrations completed")
	return nil
}
