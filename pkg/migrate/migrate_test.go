package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradepost/pkg/config"
	"github.com/angelmondragon/tradepost/pkg/db"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, ValidateEmbedded())
	require.NoError(t, ValidateDir("migrations"))
}

func TestSettlementMigrationGuardsLedgerInvariants(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_settlement.sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)

	for _, sub := range []string{
		"CONSTRAINT commissions_order_item_id_key UNIQUE (order_item_id)",
		"net_minor = gross_minor - commission_minor - platform_fee_minor",
		"payout_amount_minor = gross_amount_minor + adjustment_amount_minor",
		"UNIQUE (payout_id, commission_id)",
		"DROP TABLE IF EXISTS commissions",
	} {
		assert.Contains(t, string(data), sub)
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, time.April, 1, 12, 30, 0, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "  Add Payout Index! ", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260401123000_add_payout_index.sql"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "-- +goose Up"))
	assert.Contains(t, string(body), "-- rollback add_payout_index")
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration(dir, "add payout index", at)
	require.Error(t, err)
	_, err = CreateSQLMigration(dir, "!!!", at)
	require.Error(t, err)
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.Error(t, ValidateDir(dir))

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_init.sql"), []byte("-- +goose Up\n"), 0o644))
	require.Error(t, ValidateDir(dir))
}

func TestMaybeRunDevAppliesSQLiteSchema(t *testing.T) {
	client, err := db.New(context.Background(), config.DBConfig{SQLitePath: ":memory:"}, true, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		App:          config.AppConfig{Env: "dev"},
		FeatureFlags: config.FeatureFlagsConfig{UseSQLite: true, AutoMigrate: true},
	}
	require.NoError(t, MaybeRunDev(context.Background(), cfg, logger.Nop(), client))

	var n int64
	require.NoError(t, client.DB().Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'commissions'").Scan(&n).Error)
	assert.Equal(t, int64(1), n)

	cfg.App.Env = "prod"
	require.NoError(t, MaybeRunDev(context.Background(), cfg, logger.Nop(), nil))
}
