package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/shopsync/internal/domain/catalog"
	"github.com/erp/shopsync/internal/domain/sync"
	"github.com/erp/shopsync/internal/infrastructure/persistence"
)

// TestMain runs before any tests and handles cleanup
func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}

// TestStateRepository_Integration runs the GormStateRepository against a real
// PostgreSQL database with the checked-in migrations applied.
func TestStateRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormStateRepository(testDB.DB)
	ctx := context.Background()

	t.Run("Put and Get round-trip", func(t *testing.T) {
		record := widgetState("1092-10", "run-1")
		require.NoError(t, repo.Put(ctx, record))

		found, err := repo.Get(ctx, "1092-10")
		require.NoError(t, err)
		assert.Equal(t, "1092-10", found.ProductNo)
		assert.Equal(t, "run-1", found.RunID)
		assert.WithinDuration(t, record.SyncedAt, found.SyncedAt, time.Second)

		require.NotNil(t, found.Snapshot)
		assert.Equal(t, "Widget", found.Snapshot.Core["Name"].Text())
		assert.Equal(t, "En widget", found.Snapshot.Texts["sv-SE"]["Description"].Text())
		assert.Equal(t, []string{"fp-1"}, found.Snapshot.ImageFingerprints())
		require.Len(t, found.Snapshot.Prices, 1)
		assert.True(t, decimal.RequireFromString("199.00").Equal(found.Snapshot.Prices[0].Price))
	})

	t.Run("Get unknown product", func(t *testing.T) {
		_, err := repo.Get(ctx, "no-such-product")
		assert.ErrorIs(t, err, sync.ErrStateNotFound)
	})

	t.Run("Put replaces the prior record", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, widgetState("2044-7", "run-1")))

		second := widgetState("2044-7", "run-2")
		second.Snapshot.Core["Name"] = catalog.TextValue("Gadget")
		require.NoError(t, repo.Put(ctx, second))

		found, err := repo.Get(ctx, "2044-7")
		require.NoError(t, err)
		assert.Equal(t, "run-2", found.RunID)
		assert.Equal(t, "Gadget", found.Snapshot.Core["Name"].Text())
	})

	t.Run("Delete removes the record", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, widgetState("3001-1", "run-1")))
		require.NoError(t, repo.Delete(ctx, "3001-1"))

		_, err := repo.Get(ctx, "3001-1")
		assert.ErrorIs(t, err, sync.ErrStateNotFound)

		// Deleting absent state is not an error.
		assert.NoError(t, repo.Delete(ctx, "3001-1"))
	})
}

// TestStateRepository_Watermark covers run metadata and watermark resolution.
func TestStateRepository_Watermark(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormStateRepository(testDB.DB)
	ctx := context.Background()

	t.Run("empty store has no watermark", func(t *testing.T) {
		watermark, err := repo.LastWatermark(ctx)
		require.NoError(t, err)
		assert.True(t, watermark.IsZero())
	})

	t.Run("the most recently finished run wins", func(t *testing.T) {
		early := time.Date(2025, 11, 1, 6, 0, 0, 0, time.UTC)
		late := time.Date(2025, 11, 2, 6, 0, 0, 0, time.UTC)

		require.NoError(t, repo.CommitRun(ctx, runRecord("run-1", early)))
		require.NoError(t, repo.CommitRun(ctx, runRecord("run-2", late)))

		watermark, err := repo.LastWatermark(ctx)
		require.NoError(t, err)
		assert.True(t, late.Equal(watermark), "want %s, got %s", late, watermark)
	})
}

// widgetState builds a committed snapshot with every snapshot facet filled.
func widgetState(productNo, runID string) *sync.StateRecord {
	return &sync.StateRecord{
		ProductNo: productNo,
		Snapshot: &catalog.ResolvedProduct{
			ProductNo: productNo,
			Core: map[string]catalog.Value{
				"Name": catalog.TextValue("Widget"),
			},
			Texts: map[string]map[string]catalog.Value{
				"sv-SE": {"Description": catalog.TextValue("En widget")},
			},
			Images: []catalog.Image{
				{Fingerprint: "fp-1", MediaCode: "m1", Position: 0},
			},
			Prices: []catalog.PriceEntry{
				{Culture: "sv-SE", PriceList: "default", Price: decimal.RequireFromString("199.00")},
			},
		},
		SyncedAt: time.Now().UTC(),
		RunID:    runID,
	}
}

func runRecord(runID string, watermark time.Time) *sync.RunRecord {
	return &sync.RunRecord{
		RunID:      runID,
		Since:      watermark.Add(-24 * time.Hour),
		Watermark:  watermark,
		Status:     sync.StatusSuccess,
		Processed:  3,
		Changed:    2,
		StartedAt:  watermark.Add(-time.Minute),
		FinishedAt: watermark,
	}
}
