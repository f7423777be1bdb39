package warehouse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"promozone/internal/database"
	"promozone/internal/models"

	"github.com/stretchr/testify/require"
)

func openSQL(t *testing.T) *SQL {
	t.Helper()
	db, err := database.Initialize("sqlite", filepath.Join(t.TempDir(), "w.db")+"?_time_format=sqlite", nil)
	require.NoError(t, err)
	w := NewSQL(db)
	require.NoError(t, w.Migrate(context.Background()))
	return w
}

func staged(batchID string, seq int, key string) models.StagedPromotion {
	return models.StagedPromotion{
		BatchID:     batchID,
		BatchSeq:    seq,
		Marketplace: "mercado_livre",
		ItemID:      key,
		URL:         "https://x/" + key,
		Title:       key,
		Price:       10,
		Source:      "https://x",
		CollectedAt: time.Date(2026, 10, 1, 0, 0, seq, 0, time.UTC),
		DedupeKey:   key,
	}
}

func TestSQLMergeOnlyReadsItsBatch(t *testing.T) {
	ctx := context.Background()
	w := openSQL(t)
	insertedAt := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, w.LoadStaging(ctx, "a", []models.StagedPromotion{staged("a", 0, "k1"), staged("a", 1, "k2")}))

	// merging a batch that is not staged writes nothing
	n, err := w.MergeStaging(ctx, "other", insertedAt)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = w.MergeStaging(ctx, "a", insertedAt)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = w.MergeStaging(ctx, "a", insertedAt)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSQLLoadStagingReplacesContents(t *testing.T) {
	ctx := context.Background()
	w := openSQL(t)

	require.NoError(t, w.LoadStaging(ctx, "a", []models.StagedPromotion{staged("a", 0, "k1"), staged("a", 1, "k2")}))
	require.NoError(t, w.LoadStaging(ctx, "b", []models.StagedPromotion{staged("b", 0, "k3")}))

	var rows int64
	require.NoError(t, w.db.Model(&models.StagedPromotion{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)

	n, err := w.MergeStaging(ctx, "a", time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEncodeStagingRows(t *testing.T) {
	seller := "Loja"
	row := staged("b-1", 3, "mercado_livre_A1_100")
	row.Seller = &seller
	row.CollectedAt = time.Date(2026, 10, 16, 9, 30, 0, 123000000, time.FixedZone("BRT", -3*3600))

	data, err := EncodeStagingRows([]models.StagedPromotion{row, staged("b-1", 4, "k")})
	require.NoError(t, err)

	sc := bufio.NewScanner(bytes.NewReader(data))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	require.Equal(t, "2026-10-16T12:30:00.123Z", got["collected_at"])
	require.Equal(t, "Loja", got["seller"])
	require.Nil(t, got["original_price"])
	require.Equal(t, float64(3), got["batch_seq"])
	require.Equal(t, "b-1", got["batch_id"])
}

func TestBigQueryMergeQueryDedupesWithinBatch(t *testing.T) {
	w := &BigQuery{projectID: "proj", datasetID: "promozone"}
	q := w.mergeQuery()

	require.Contains(t, q, "MERGE `proj.promozone.promotions` T")
	require.Contains(t, q, "FROM `proj.promozone.promotions_staging`")
	require.Contains(t, q, "PARTITION BY dedupe_key ORDER BY batch_seq")
	require.Contains(t, q, "WHEN NOT MATCHED THEN")
	require.False(t, strings.Contains(q, "WHEN MATCHED"), "merge must never update existing rows")
}
