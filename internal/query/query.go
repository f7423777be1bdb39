package query

import (
	"context"
	"strings"

	"promozone/internal/logger"
	"promozone/internal/metrics"
	"promozone/internal/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 500
)

// Reader is the read side of the canonical store.
type Reader interface {
	ListRecent(ctx context.Context, limit int) ([]models.Promotion, error)
	PriceHistory(ctx context.Context, marketplace, itemID string) ([]models.Promotion, error)
}

// Service reads canonical promotions. Read failures degrade to an empty
// result and are only logged.
type Service struct {
	reader  Reader
	metrics *metrics.Registry
	log     *logger.Logger
}

func NewService(reader Reader, m *metrics.Registry, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{reader: reader, metrics: m, log: log.With("service", "QueryService")}
}

// ListRecent returns up to limit promotions, newest collected_at first.
func (s *Service) ListRecent(ctx context.Context, limit int) []models.Promotion {
	limit = ClampLimit(limit)
	out, err := s.reader.ListRecent(ctx, limit)
	if err != nil {
		s.readFailed("Listing recent promotions failed", err, "limit", limit)
		return []models.Promotion{}
	}
	if out == nil {
		out = []models.Promotion{}
	}
	return out
}

// PriceHistory returns every stored observation of one item, oldest first.
func (s *Service) PriceHistory(ctx context.Context, marketplace, itemID string) []models.Promotion {
	marketplace, itemID = strings.TrimSpace(marketplace), strings.TrimSpace(itemID)
	if marketplace == "" || itemID == "" {
		return []models.Promotion{}
	}
	out, err := s.reader.PriceHistory(ctx, marketplace, itemID)
	if err != nil {
		s.readFailed("Reading price history failed", err, "marketplace", marketplace, "item_id", itemID)
		return []models.Promotion{}
	}
	if out == nil {
		out = []models.Promotion{}
	}
	return out
}

func (s *Service) readFailed(msg string, err error, kv ...interface{}) {
	s.log.Error(msg, append(kv, "error", err)...)
	if s.metrics != nil {
		s.metrics.QueryErrors.Inc()
	}
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
