package query

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"promozone/internal/database"
	"promozone/internal/ingest"
	"promozone/internal/metrics"
	"promozone/internal/models"
	"promozone/internal/warehouse"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type brokenReader struct{}

func (brokenReader) ListRecent(context.Context, int) ([]models.Promotion, error) {
	return nil, errors.New("connection refused")
}

func (brokenReader) PriceHistory(context.Context, string, string) ([]models.Promotion, error) {
	return nil, errors.New("connection refused")
}

func TestListRecentDegradesOnReadError(t *testing.T) {
	m := metrics.NewRegistry()
	svc := NewService(brokenReader{}, m, nil)

	got := svc.ListRecent(context.Background(), 10)
	require.NotNil(t, got)
	require.Empty(t, got)

	got = svc.PriceHistory(context.Background(), "mercado_livre", "A1")
	require.NotNil(t, got)
	require.Empty(t, got)

	require.Equal(t, 2.0, testutil.ToFloat64(m.QueryErrors))
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, ClampLimit(0))
	require.Equal(t, DefaultLimit, ClampLimit(-3))
	require.Equal(t, 15, ClampLimit(15))
	require.Equal(t, MaxLimit, ClampLimit(10_000))
}

func TestListRecentOrdersByCollectedAt(t *testing.T) {
	ctx := context.Background()
	db, err := database.Initialize("sqlite", filepath.Join(t.TempDir(), "q.db")+"?_time_format=sqlite", nil)
	require.NoError(t, err)
	w := warehouse.NewSQL(db)
	require.NoError(t, w.Migrate(ctx))

	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	var batch []models.Promotion
	for i, id := range []string{"old", "newest", "middle"} {
		offset := map[string]time.Duration{"old": 0, "middle": time.Hour, "newest": 2 * time.Hour}[id]
		batch = append(batch, models.Promotion{
			Marketplace: "mercado_livre",
			ItemID:      id,
			URL:         "https://x/" + id,
			Title:       id,
			Price:       float64(i + 1),
			Source:      "https://x",
			CollectedAt: base.Add(offset),
			DedupeKey:   "mercado_livre_" + id,
		})
	}
	rep := ingest.New(w).Ingest(ctx, batch)
	require.Empty(t, rep.Error)

	svc := NewService(w, nil, nil)
	got := svc.ListRecent(ctx, 2)
	require.Len(t, got, 2)
	require.Equal(t, "newest", got[0].ItemID)
	require.Equal(t, "middle", got[1].ItemID)

	require.Empty(t, svc.PriceHistory(ctx, "", "old"))
	require.Len(t, svc.PriceHistory(ctx, "mercado_livre", "old"), 1)
}
