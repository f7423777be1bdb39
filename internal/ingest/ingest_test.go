package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"promozone/internal/database"
	"promozone/internal/events"
	"promozone/internal/models"
	"promozone/internal/normalizer"
	"promozone/internal/warehouse"

	"github.com/stretchr/testify/require"
)

func openWarehouse(t *testing.T) *warehouse.SQL {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "promozone.db") + "?_time_format=sqlite"
	db, err := database.Initialize("sqlite", dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	w := warehouse.NewSQL(db)
	require.NoError(t, w.Migrate(context.Background()))
	return w
}

func newIngestor(store Store, opts ...Option) *Ingestor {
	i := New(store, opts...)
	seq := 0
	i.NewBatchID = func() string {
		seq++
		return fmt.Sprintf("batch-%d", seq)
	}
	i.Now = func() time.Time { return time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC) }
	return i
}

func promo(itemID string, price float64, collectedAt time.Time) models.Promotion {
	return models.Promotion{
		Marketplace: normalizer.DefaultMarketplace,
		ItemID:      itemID,
		URL:         "https://x/" + itemID,
		Title:       "Item " + itemID,
		Price:       price,
		Source:      "https://x/list",
		CollectedAt: collectedAt,
		DedupeKey:   normalizer.DedupeKey(normalizer.DefaultMarketplace, itemID, price),
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w := openWarehouse(t)
	ing := newIngestor(w)

	n := normalizer.New("", nil)
	records := n.Normalize([]map[string]any{{
		"item_id":        "A1",
		"title":          "Phone",
		"price":          float64(100),
		"original_price": float64(200),
		"url":            "https://x/A1?x=1",
	}}, "https://x/list")
	require.Len(t, records, 1)

	first := ing.Ingest(ctx, records)
	require.Empty(t, first.Error)
	require.Equal(t, 1, first.Total)
	require.Equal(t, 1, first.Inserted)
	require.Equal(t, 0, first.Duplicates)

	second := ing.Ingest(ctx, records)
	require.Empty(t, second.Error)
	require.Equal(t, 1, second.Total)
	require.Equal(t, 0, second.Inserted)
	require.Equal(t, 1, second.Duplicates)

	count, err := w.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	stored, err := w.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "mercado_livre_A1_100", stored[0].DedupeKey)
	require.Equal(t, "https://x/A1", stored[0].URL)
	require.NotNil(t, stored[0].DiscountPercent)
	require.Equal(t, 50.0, *stored[0].DiscountPercent)
	require.NotNil(t, stored[0].InsertedAt)
	require.True(t, stored[0].InsertedAt.Equal(time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)))
}

func TestIngestTracksPriceChanges(t *testing.T) {
	ctx := context.Background()
	w := openWarehouse(t)
	ing := newIngestor(w)
	t0 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)

	rep := ing.Ingest(ctx, []models.Promotion{promo("A1", 100, t0), promo("B2", 50, t0)})
	require.Equal(t, 2, rep.Inserted)

	// A1 dropped its price, B2 unchanged
	rep = ing.Ingest(ctx, []models.Promotion{promo("A1", 90, t0.Add(time.Hour)), promo("B2", 50, t0.Add(time.Hour))})
	require.Empty(t, rep.Error)
	require.Equal(t, 1, rep.Inserted)
	require.Equal(t, 1, rep.Duplicates)

	history, err := w.PriceHistory(ctx, normalizer.DefaultMarketplace, "A1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 100.0, history[0].Price)
	require.Equal(t, 90.0, history[1].Price)
}

func TestIngestCollapsesDuplicatesWithinBatch(t *testing.T) {
	ctx := context.Background()
	w := openWarehouse(t)
	ing := newIngestor(w)
	t0 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)

	rep := ing.Ingest(ctx, []models.Promotion{promo("A1", 100, t0), promo("A1", 100, t0), promo("C3", 10, t0)})
	require.Empty(t, rep.Error)
	require.Equal(t, 3, rep.Total)
	require.Equal(t, 2, rep.Inserted)
	require.Equal(t, 1, rep.Duplicates)

	count, err := w.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestIngestStagingHoldsOnlyCurrentBatch(t *testing.T) {
	ctx := context.Background()
	w := openWarehouse(t)
	ing := newIngestor(w)
	t0 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)

	ing.Ingest(ctx, []models.Promotion{promo("A1", 1, t0), promo("A2", 2, t0), promo("A3", 3, t0)})
	rep := ing.Ingest(ctx, []models.Promotion{promo("B1", 1, t0)})
	require.Equal(t, 1, rep.Inserted)

	count, err := w.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), count)
}

type fakeStore struct {
	loadErr   error
	mergeErr  error
	loads     int
	merges    int
	lastBatch []models.StagedPromotion
}

func (f *fakeStore) LoadStaging(_ context.Context, _ string, rows []models.StagedPromotion) error {
	f.loads++
	f.lastBatch = rows
	return f.loadErr
}

func (f *fakeStore) MergeStaging(_ context.Context, _ string, _ time.Time) (int64, error) {
	f.merges++
	if f.mergeErr != nil {
		return 0, f.mergeErr
	}
	return int64(len(f.lastBatch)), nil
}

func TestIngestEmptyBatchSkipsStore(t *testing.T) {
	store := &fakeStore{}
	rep := newIngestor(store).Ingest(context.Background(), nil)

	require.Equal(t, Report{}, rep)
	require.Zero(t, store.loads)
	require.Zero(t, store.merges)
}

func TestIngestFailures(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	batch := []models.Promotion{promo("A1", 1, t0), promo("A2", 2, t0)}

	t.Run("staging load", func(t *testing.T) {
		store := &fakeStore{loadErr: errors.New("quota exceeded")}
		rep := newIngestor(store).Ingest(context.Background(), batch)

		require.Equal(t, 2, rep.Total)
		require.Equal(t, 0, rep.Inserted)
		require.Equal(t, 0, rep.Duplicates)
		require.Equal(t, PhaseStage, rep.Phase)
		require.Contains(t, rep.Error, "quota exceeded")
		require.Zero(t, store.merges)

		var storeErr *StoreError
		require.ErrorAs(t, rep.Err(), &storeErr)
		require.Equal(t, PhaseStage, storeErr.Phase)
	})

	t.Run("merge", func(t *testing.T) {
		store := &fakeStore{mergeErr: errors.New("syntax error")}
		rep := newIngestor(store).Ingest(context.Background(), batch)

		require.Equal(t, 2, rep.Total)
		require.Equal(t, 0, rep.Inserted)
		require.Equal(t, 0, rep.Duplicates)
		require.Equal(t, PhaseMerge, rep.Phase)
		require.True(t, rep.Failed())
		require.Equal(t, 1, store.loads)
	})

	t.Run("lock", func(t *testing.T) {
		store := &fakeStore{}
		ing := newIngestor(store, WithLocker(failingLocker{}))
		rep := ing.Ingest(context.Background(), batch)

		require.Equal(t, PhaseLock, rep.Phase)
		require.Zero(t, store.loads)
	})
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context) (func() error, error) {
	return nil, errors.New("redis unreachable")
}

func TestIngestStagesInOrder(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	rep := newIngestor(store).Ingest(context.Background(), []models.Promotion{promo("A", 1, t0), promo("B", 2, t0)})

	require.Equal(t, "batch-1", rep.BatchID)
	require.Len(t, store.lastBatch, 2)
	for seq, row := range store.lastBatch {
		require.Equal(t, "batch-1", row.BatchID)
		require.Equal(t, seq, row.BatchSeq)
	}
	require.Equal(t, "A", store.lastBatch[0].ItemID)
	require.Equal(t, "B", store.lastBatch[1].ItemID)
}

type capturePublisher struct{ got []events.IngestEvent }

func (c *capturePublisher) Publish(_ context.Context, ev events.IngestEvent) error {
	c.got = append(c.got, ev)
	return errors.New("broker down")
}

func TestIngestPublishesReport(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	pub := &capturePublisher{}
	rep := newIngestor(&fakeStore{}, WithPublisher(pub)).Ingest(context.Background(), []models.Promotion{promo("A", 1, t0)})

	// a failing publisher never changes the report
	require.Empty(t, rep.Error)
	require.Equal(t, 1, rep.Inserted)
	require.Len(t, pub.got, 1)
	require.Equal(t, rep.BatchID, pub.got[0].BatchID)
	require.Equal(t, "https://x/list", pub.got[0].Source)
}
