package export

import (
	"bytes"
	"testing"
	"time"

	"promozone/internal/models"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteXLSX(t *testing.T) {
	original, discount := 200.0, 50.0
	seller := "Loja Oficial"
	collected := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	promos := []models.Promotion{
		{
			Marketplace: "mercado_livre", ItemID: "A1", Title: "Phone", Price: 100,
			OriginalPrice: &original, DiscountPercent: &discount, Seller: &seller,
			URL: "https://x/A1", Source: "https://x", CollectedAt: collected,
			DedupeKey: "mercado_livre_A1_100",
		},
		{
			Marketplace: "mercado_livre", ItemID: "B2", Title: "Case", Price: 9.9,
			URL: "https://x/B2", Source: "https://x", CollectedAt: collected,
			DedupeKey: "mercado_livre_B2_9.9",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, promos))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "marketplace", rows[0][0])
	require.Equal(t, "dedupe_key", rows[0][12])

	require.Equal(t, "A1", rows[1][1])
	require.Equal(t, "100", rows[1][3])
	require.Equal(t, "200", rows[1][4])
	require.Equal(t, "50", rows[1][5])
	require.Equal(t, "Loja Oficial", rows[1][6])
	require.Equal(t, "2026-10-16T12:00:00Z", rows[1][10])
	require.Equal(t, "mercado_livre_A1_100", rows[1][12])

	require.Equal(t, "B2", rows[2][1])
	require.Equal(t, "", rows[2][4])
	require.Equal(t, "mercado_livre_B2_9.9", rows[2][12])
}

func TestWriteXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
