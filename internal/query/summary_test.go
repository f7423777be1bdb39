package query

import (
	"testing"
	"time"

	"promozone/internal/models"

	"github.com/stretchr/testify/require"
)

func observations(prices ...float64) []models.Promotion {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Promotion, len(prices))
	for i, p := range prices {
		out[i] = models.Promotion{ItemID: "A1", Price: p, CollectedAt: base.Add(time.Duration(i) * 24 * time.Hour)}
	}
	return out
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	require.Zero(t, s.Observations)
	require.Nil(t, s.Current)
	require.False(t, s.AtLowest)
}

func TestSummarizeShortHistory(t *testing.T) {
	s := Summarize(observations(200, 150))

	require.Equal(t, 2, s.Observations)
	require.Equal(t, 150.0, *s.Current)
	require.Equal(t, 150.0, *s.Min)
	require.Equal(t, 200.0, *s.Max)
	require.Equal(t, 175.0, *s.Average)
	require.Nil(t, s.MovingAverage)
	require.Equal(t, -25.0, *s.ChangePercent)
	require.True(t, s.AtLowest)
	require.Equal(t, time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC), *s.LastSeen)
}

func TestSummarizeMovingAverage(t *testing.T) {
	s := Summarize(observations(100, 90, 80, 85, 95, 110))

	require.Equal(t, 92.0, *s.MovingAverage)
	require.Equal(t, 10.0, *s.ChangePercent)
	require.False(t, s.AtLowest)
	require.Equal(t, 80.0, *s.Min)
}

func TestSummarizeZeroFirstPrice(t *testing.T) {
	s := Summarize(observations(0, 10))
	require.Nil(t, s.ChangePercent)
}
