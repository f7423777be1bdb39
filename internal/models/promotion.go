package models

import "time"

// Promotion is one observed offer. Rows are never updated: a price change for
// the same item produces a new DedupeKey and therefore a new row.
type Promotion struct {
	Marketplace     string     `json:"marketplace" gorm:"size:64;not null"`
	ItemID          string     `json:"item_id" gorm:"size:128;not null;index"`
	URL             string     `json:"url" gorm:"type:text;not null"`
	Title           string     `json:"title" gorm:"type:text;not null"`
	Price           float64    `json:"price" gorm:"not null"`
	OriginalPrice   *float64   `json:"original_price"`
	DiscountPercent *float64   `json:"discount_percent"`
	Seller          *string    `json:"seller" gorm:"size:255"`
	ImageURL        *string    `json:"image_url" gorm:"type:text"`
	Source          string     `json:"source" gorm:"type:text;not null"`
	CollectedAt     time.Time  `json:"collected_at" gorm:"not null;index"`
	DedupeKey       string     `json:"dedupe_key" gorm:"size:255;not null;index"` // not unique: the merge dedupes
	InsertedAt      *time.Time `json:"inserted_at"`
}

func (Promotion) TableName() string { return "promotions" }

// StagedPromotion is a Promotion waiting in the staging table for the merge.
// BatchID ties it to one ingest call, BatchSeq is its position in that batch.
type StagedPromotion struct {
	BatchID         string    `json:"batch_id" gorm:"size:36;not null;index"`
	BatchSeq        int       `json:"batch_seq" gorm:"not null"`
	Marketplace     string    `json:"marketplace" gorm:"size:64;not null"`
	ItemID          string    `json:"item_id" gorm:"size:128;not null"`
	URL             string    `json:"url" gorm:"type:text;not null"`
	Title           string    `json:"title" gorm:"type:text;not null"`
	Price           float64   `json:"price" gorm:"not null"`
	OriginalPrice   *float64  `json:"original_price"`
	DiscountPercent *float64  `json:"discount_percent"`
	Seller          *string   `json:"seller" gorm:"size:255"`
	ImageURL        *string   `json:"image_url" gorm:"type:text"`
	Source          string    `json:"source" gorm:"type:text;not null"`
	CollectedAt     time.Time `json:"collected_at" gorm:"not null"`
	DedupeKey       string    `json:"dedupe_key" gorm:"size:255;not null;index"`
}

func (StagedPromotion) TableName() string { return "promotions_staging" }

// Stage copies p into a staging row for batchID at position seq.
func Stage(p Promotion, batchID string, seq int) StagedPromotion {
	return StagedPromotion{
		BatchID:         batchID,
		BatchSeq:        seq,
		Marketplace:     p.Marketplace,
		ItemID:          p.ItemID,
		URL:             p.URL,
		Title:           p.Title,
		Price:           p.Price,
		OriginalPrice:   p.OriginalPrice,
		DiscountPercent: p.DiscountPercent,
		Seller:          p.Seller,
		ImageURL:        p.ImageURL,
		Source:          p.Source,
		CollectedAt:     p.CollectedAt.UTC(),
		DedupeKey:       p.DedupeKey,
	}
}
