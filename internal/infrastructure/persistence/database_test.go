package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/config"
)

func sqliteConfig(path string) *config.Config {
	return &config.Config{
		State: config.StateConfig{
			Driver:     DriverSQLite,
			SQLitePath: path,
		},
	}
}

func TestNewDatabase_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "shopsync.db")

	db, err := NewDatabase(sqliteConfig(path), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DriverSQLite, db.Driver())
	assert.NoError(t, db.Ping())

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file should be created")

	assert.True(t, db.DB.Migrator().HasTable("product_states"))
	assert.True(t, db.DB.Migrator().HasTable("sync_runs"))
}

func TestNewDatabase_EmptyDriverDefaultsToSQLite(t *testing.T) {
	cfg := &config.Config{
		State: config.StateConfig{SQLitePath: filepath.Join(t.TempDir(), "state.db")},
	}

	db, err := NewDatabase(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DriverSQLite, db.Driver())
}

func TestNewDatabase_MissingSQLitePath(t *testing.T) {
	_, err := NewDatabase(&config.Config{}, zaptest.NewLogger(t))

	assert.ErrorContains(t, err, "sqlite path not configured")
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	cfg := &config.Config{State: config.StateConfig{Driver: "oracle"}}

	_, err := NewDatabase(cfg, zaptest.NewLogger(t))

	assert.ErrorContains(t, err, `unsupported driver "oracle"`)
}

// TestStateRoundTrip_SQLite exercises the repository against a real sqlite
// file, including the upsert path the mocked tests only pattern-match.
func TestStateRoundTrip_SQLite(t *testing.T) {
	db, err := NewDatabase(sqliteConfig(filepath.Join(t.TempDir(), "state.db")), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer db.Close()

	repo := NewGormStateRepository(db.DB)
	ctx := context.Background()

	// Fresh store: no watermark, no state.
	watermark, err := repo.LastWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, watermark.IsZero())

	_, err = repo.Get(ctx, "P-1001")
	assert.ErrorIs(t, err, sync.ErrStateNotFound)

	record := testStateRecord(t)
	require.NoError(t, repo.Put(ctx, record))

	got, err := repo.Get(ctx, "P-1001")
	require.NoError(t, err)
	assert.Equal(t, "run-7", got.RunID)
	assert.WithinDuration(t, record.SyncedAt, got.SyncedAt, time.Second)
	require.NotNil(t, got.Snapshot)
	assert.True(t, record.Snapshot.Core["title"].Equal(got.Snapshot.Core["title"]))
	require.Len(t, got.Snapshot.Prices, 1)
	assert.True(t, record.Snapshot.Prices[0].Equal(got.Snapshot.Prices[0]))

	// Second commit replaces the first.
	updated := testStateRecord(t)
	updated.RunID = "run-8"
	updated.Snapshot.Core["title"] = catalog.TextValue("Trail Jacket v2")
	updated.Snapshot.Prices[0].Price = decimal.NewFromInt(1199)
	require.NoError(t, repo.Put(ctx, updated))

	got, err = repo.Get(ctx, "P-1001")
	require.NoError(t, err)
	assert.Equal(t, "run-8", got.RunID)
	assert.Equal(t, "Trail Jacket v2", got.Snapshot.Core["title"].Text())
	assert.True(t, decimal.NewFromInt(1199).Equal(got.Snapshot.Prices[0].Price))

	// Delete is idempotent.
	require.NoError(t, repo.Delete(ctx, "P-1001"))
	_, err = repo.Get(ctx, "P-1001")
	assert.ErrorIs(t, err, sync.ErrStateNotFound)
	assert.NoError(t, repo.Delete(ctx, "P-1001"))

	// The newest finished run wins the watermark.
	early := time.Date(2025, 11, 12, 6, 0, 0, 0, time.UTC)
	late := time.Date(2025, 11, 13, 6, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CommitRun(ctx, &sync.RunRecord{
		RunID: "run-7", Since: early.Add(-24 * time.Hour), Watermark: early,
		Status: sync.StatusSuccess, StartedAt: early, FinishedAt: early.Add(2 * time.Minute),
	}))
	require.NoError(t, repo.CommitRun(ctx, &sync.RunRecord{
		RunID: "run-8", Since: early, Watermark: late,
		Status: sync.StatusPartial, StartedAt: late, FinishedAt: late.Add(2 * time.Minute),
	}))

	watermark, err = repo.LastWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, late.Equal(watermark))
}
