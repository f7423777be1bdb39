package warehouse

import (
	"context"
	"fmt"
	"time"

	"promozone/internal/models"

	"gorm.io/gorm"
)

const stagingBatchSize = 200

// mergeSQL inserts every staged row of one batch whose dedupe_key is not yet in
// promotions. Only the first row per key inside the batch qualifies.
// Plain INSERT ... SELECT ... NOT EXISTS runs unchanged on MySQL, Postgres and SQLite.
const mergeSQL = `
INSERT INTO promotions (marketplace, item_id, url, title, price, original_price, discount_percent, seller, image_url, source, collected_at, dedupe_key, inserted_at)
SELECT s.marketplace, s.item_id, s.url, s.title, s.price, s.original_price, s.discount_percent, s.seller, s.image_url, s.source, s.collected_at, s.dedupe_key, ?
FROM promotions_staging s
WHERE s.batch_id = ?
  AND s.batch_seq = (
    SELECT MIN(d.batch_seq) FROM promotions_staging d
    WHERE d.batch_id = s.batch_id AND d.dedupe_key = s.dedupe_key
  )
  AND NOT EXISTS (
    SELECT 1 FROM promotions t WHERE t.dedupe_key = s.dedupe_key
  )`

// SQL keeps the canonical and staging tables in any gorm dialect.
type SQL struct {
	db *gorm.DB
}

func NewSQL(db *gorm.DB) *SQL {
	return &SQL{db: db}
}

func (w *SQL) Migrate(ctx context.Context) error {
	if err := w.db.WithContext(ctx).AutoMigrate(&models.Promotion{}, &models.StagedPromotion{}); err != nil {
		return fmt.Errorf("auto migrate promotions: %w", err)
	}
	return nil
}

// LoadStaging replaces the staging table contents with rows.
func (w *SQL) LoadStaging(ctx context.Context, batchID string, rows []models.StagedPromotion) error {
	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.StagedPromotion{}).Error; err != nil {
			return fmt.Errorf("truncate staging: %w", err)
		}
		if err := tx.CreateInBatches(rows, stagingBatchSize).Error; err != nil {
			return fmt.Errorf("insert staging batch %s: %w", batchID, err)
		}
		return nil
	})
}

// MergeStaging runs the conditional insert and returns the rows it wrote.
func (w *SQL) MergeStaging(ctx context.Context, batchID string, insertedAt time.Time) (int64, error) {
	res := w.db.WithContext(ctx).Exec(mergeSQL, insertedAt.UTC(), batchID)
	if res.Error != nil {
		return 0, fmt.Errorf("merge staging batch %s: %w", batchID, res.Error)
	}
	return res.RowsAffected, nil
}

func (w *SQL) ListRecent(ctx context.Context, limit int) ([]models.Promotion, error) {
	var out []models.Promotion
	err := w.db.WithContext(ctx).
		Order("collected_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list recent promotions: %w", err)
	}
	return out, nil
}

// Count returns the number of canonical rows.
func (w *SQL) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := w.db.WithContext(ctx).Model(&models.Promotion{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count promotions: %w", err)
	}
	return n, nil
}

// PriceHistory returns every stored observation of one item, oldest first.
func (w *SQL) PriceHistory(ctx context.Context, marketplace, itemID string) ([]models.Promotion, error) {
	var out []models.Promotion
	err := w.db.WithContext(ctx).
		Where("marketplace = ? AND item_id = ?", marketplace, itemID).
		Order("collected_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("price history %s/%s: %w", marketplace, itemID, err)
	}
	return out, nil
}
