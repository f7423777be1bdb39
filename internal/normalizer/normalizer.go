// Package normalizer turns raw extraction-API products into canonical promotions.
package normalizer

import (
	"errors"
	"strings"
	"time"

	"promozone/internal/logger"
	"promozone/internal/models"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMarketplace tags records whose raw entry names no marketplace.
const DefaultMarketplace = "mercado_livre"

// Normalizer is stateless apart from its configuration and may be shared.
type Normalizer struct {
	Marketplace string
	Now         func() time.Time
	log         *logger.Logger
}

func New(marketplace string, log *logger.Logger) *Normalizer {
	if strings.TrimSpace(marketplace) == "" {
		marketplace = DefaultMarketplace
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Normalizer{
		Marketplace: marketplace,
		Now:         time.Now,
		log:         log.With("service", "Normalizer"),
	}
}

// Normalize converts raw products scraped from sourceURL. Malformed entries
// are skipped; the output keeps input order and is never nil.
func (n *Normalizer) Normalize(raw []map[string]any, sourceURL string) []models.Promotion {
	out := make([]models.Promotion, 0, len(raw))
	collectedAt := n.Now().UTC()

	for i, entry := range raw {
		p, err := n.normalizeOne(entry, sourceURL, collectedAt)
		if err != nil {
			n.log.Debug("Skipping malformed product", "index", i, "reason", err, "source", sourceURL)
			continue
		}
		out = append(out, p)
	}

	if skipped := len(raw) - len(out); skipped > 0 {
		n.log.Warn("Dropped malformed products", "skipped", skipped, "kept", len(out), "source", sourceURL)
	}
	return out
}

// NormalizeOne is exposed for callers that want the rejection reason.
func (n *Normalizer) NormalizeOne(index int, entry map[string]any, sourceURL string) (models.Promotion, error) {
	p, err := n.normalizeOne(entry, sourceURL, n.Now().UTC())
	if err != nil {
		return models.Promotion{}, &MalformedRecordError{Index: index, Reason: err}
	}
	return p, nil
}

func (n *Normalizer) normalizeOne(entry map[string]any, sourceURL string, collectedAt time.Time) (models.Promotion, error) {
	if entry == nil {
		return models.Promotion{}, ErrMissingTitle
	}

	title := cleanTitle(stringField(entry, "title"))
	if title == "" {
		return models.Promotion{}, ErrMissingTitle
	}

	price, ok, err := parsePrice(entry["price"])
	if err != nil {
		return models.Promotion{}, err
	}
	if !ok {
		return models.Promotion{}, ErrMissingPrice
	}

	rawURL := stringField(entry, "url")
	if rawURL == "" {
		return models.Promotion{}, ErrMissingURL
	}
	productURL, err := canonicalURL(rawURL, sourceURL)
	if err != nil {
		if errors.Is(err, ErrInvalidURL) {
			return models.Promotion{}, err
		}
		return models.Promotion{}, errors.Join(ErrInvalidURL, err)
	}

	marketplace := stringField(entry, "marketplace")
	if marketplace == "" {
		marketplace = n.Marketplace
	}

	itemID := resolveItemID(entry["item_id"], productURL, title)

	p := models.Promotion{
		Marketplace: marketplace,
		ItemID:      itemID,
		URL:         productURL,
		Title:       title,
		Price:       price,
		Seller:      optionalString(entry, "seller"),
		ImageURL:    optionalString(entry, "image_url"),
		Source:      sourceURL,
		CollectedAt: collectedAt,
		DedupeKey:   DedupeKey(marketplace, itemID, price),
	}

	// a bad original price only loses the discount, not the record
	if original, ok, err := parsePrice(entry["original_price"]); err == nil && ok {
		p.OriginalPrice = &original
		p.DiscountPercent = Discount(price, original)
	}
	return p, nil
}

// DedupeKey identifies one observation of an offer: same marketplace, item and price.
func DedupeKey(marketplace, itemID string, price float64) string {
	return marketplace + "_" + itemID + "_" + formatPrice(price)
}

// Discount returns the percentage off original, rounded to two decimals, or
// nil unless original is strictly greater than price.
func Discount(price, original float64) *float64 {
	if original <= price {
		return nil
	}
	d := round2((1 - price/original) * 100)
	return &d
}

func stringField(entry map[string]any, key string) string {
	s, _ := entry[key].(string)
	return strings.TrimSpace(s)
}

func optionalString(entry map[string]any, key string) *string {
	s := stringField(entry, key)
	if s == "" {
		return nil
	}
	return &s
}

// cleanTitle strips markup the extractor sometimes leaves in titles.
func cleanTitle(title string) string {
	if strings.ContainsAny(title, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(title)); err == nil {
			title = doc.Text()
		}
	}
	return strings.Join(strings.Fields(title), " ")
}
