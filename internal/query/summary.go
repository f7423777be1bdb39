package query

import (
	"math"
	"time"

	"promozone/internal/models"
)

// maWindow is the moving-average window over observed prices.
const maWindow = 5

// PriceSummary describes the price observations of one item.
type PriceSummary struct {
	Observations  int        `json:"observations"`
	Current       *float64   `json:"current,omitempty"`
	Min           *float64   `json:"min,omitempty"`
	Max           *float64   `json:"max,omitempty"`
	Average       *float64   `json:"average,omitempty"`
	MovingAverage *float64   `json:"moving_average,omitempty"`
	ChangePercent *float64   `json:"change_percent,omitempty"` // current vs first observation
	AtLowest      bool       `json:"at_lowest"`
	FirstSeen     *time.Time `json:"first_seen,omitempty"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

// Summarize expects history ordered oldest first, as PriceHistory returns it.
func Summarize(history []models.Promotion) PriceSummary {
	s := PriceSummary{Observations: len(history)}
	if len(history) == 0 {
		return s
	}

	prices := make([]float64, len(history))
	minP, maxP, sum := math.Inf(1), math.Inf(-1), 0.0
	for i, p := range history {
		prices[i] = p.Price
		minP = math.Min(minP, p.Price)
		maxP = math.Max(maxP, p.Price)
		sum += p.Price
	}

	first, last := history[0], history[len(history)-1]
	current := last.Price
	avg := round2(sum / float64(len(prices)))
	s.Current, s.Min, s.Max, s.Average = &current, &minP, &maxP, &avg
	s.AtLowest = current <= minP
	s.FirstSeen, s.LastSeen = ptrTime(first.CollectedAt), ptrTime(last.CollectedAt)

	if ma := movingAverage(prices, maWindow); !math.IsNaN(ma) {
		ma = round2(ma)
		s.MovingAverage = &ma
	}
	if first.Price > 0 {
		change := round2((current - first.Price) / first.Price * 100)
		s.ChangePercent = &change
	}
	return s
}

// movingAverage is the mean of the last period prices, NaN if there are fewer.
func movingAverage(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return math.NaN()
	}
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func ptrTime(t time.Time) *time.Time { return &t }
