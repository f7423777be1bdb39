package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"promozone/internal/models"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	promotionsTable = "promotions"
	stagingTable    = "promotions_staging"
)

// BigQuery keeps the canonical and staging tables in one dataset.
type BigQuery struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	location  string
}

// NewBigQuery dials BigQuery. credentialsFile may be empty to use ADC.
func NewBigQuery(ctx context.Context, projectID, datasetID, credentialsFile string) (*BigQuery, error) {
	if projectID == "" {
		return nil, errors.New("bigquery: project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &BigQuery{client: client, projectID: projectID, datasetID: datasetID, location: "US"}, nil
}

func (w *BigQuery) Close() error { return w.client.Close() }

func (w *BigQuery) tableRef(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", w.projectID, w.datasetID, name)
}

// canonicalSchema mirrors models.Promotion.
var canonicalSchema = bigquery.Schema{
	{Name: "marketplace", Type: bigquery.StringFieldType, Required: true},
	{Name: "item_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "url", Type: bigquery.StringFieldType, Required: true},
	{Name: "title", Type: bigquery.StringFieldType, Required: true},
	{Name: "price", Type: bigquery.FloatFieldType, Required: true},
	{Name: "original_price", Type: bigquery.FloatFieldType},
	{Name: "discount_percent", Type: bigquery.FloatFieldType},
	{Name: "seller", Type: bigquery.StringFieldType},
	{Name: "image_url", Type: bigquery.StringFieldType},
	{Name: "source", Type: bigquery.StringFieldType, Required: true},
	{Name: "collected_at", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "dedupe_key", Type: bigquery.StringFieldType, Required: true},
	{Name: "inserted_at", Type: bigquery.TimestampFieldType},
}

// stagingSchema keeps collected_at as text; the merge casts it.
var stagingSchema = bigquery.Schema{
	{Name: "batch_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "batch_seq", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "marketplace", Type: bigquery.StringFieldType, Required: true},
	{Name: "item_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "url", Type: bigquery.StringFieldType, Required: true},
	{Name: "title", Type: bigquery.StringFieldType, Required: true},
	{Name: "price", Type: bigquery.FloatFieldType, Required: true},
	{Name: "original_price", Type: bigquery.FloatFieldType},
	{Name: "discount_percent", Type: bigquery.FloatFieldType},
	{Name: "seller", Type: bigquery.StringFieldType},
	{Name: "image_url", Type: bigquery.StringFieldType},
	{Name: "source", Type: bigquery.StringFieldType, Required: true},
	{Name: "collected_at", Type: bigquery.StringFieldType, Required: true},
	{Name: "dedupe_key", Type: bigquery.StringFieldType, Required: true},
}

// Migrate creates the dataset and canonical table when missing.
func (w *BigQuery) Migrate(ctx context.Context) error {
	ds := w.client.Dataset(w.datasetID)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: w.location}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("create dataset %s: %w", w.datasetID, err)
	}
	meta := &bigquery.TableMetadata{Schema: canonicalSchema}
	if err := ds.Table(promotionsTable).Create(ctx, meta); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("create table %s: %w", promotionsTable, err)
	}
	return nil
}

// EncodeStagingRows renders rows as newline-delimited JSON with collected_at
// in RFC3339Nano UTC.
func EncodeStagingRows(rows []models.StagedPromotion) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		line := stagingLine{
			BatchID:         r.BatchID,
			BatchSeq:        r.BatchSeq,
			Marketplace:     r.Marketplace,
			ItemID:          r.ItemID,
			URL:             r.URL,
			Title:           r.Title,
			Price:           r.Price,
			OriginalPrice:   r.OriginalPrice,
			DiscountPercent: r.DiscountPercent,
			Seller:          r.Seller,
			ImageURL:        r.ImageURL,
			Source:          r.Source,
			CollectedAt:     r.CollectedAt.UTC().Format(time.RFC3339Nano),
			DedupeKey:       r.DedupeKey,
		}
		if err := enc.Encode(&line); err != nil {
			return nil, fmt.Errorf("encode staging row %d: %w", r.BatchSeq, err)
		}
	}
	return buf.Bytes(), nil
}

type stagingLine struct {
	BatchID         string   `json:"batch_id"`
	BatchSeq        int      `json:"batch_seq"`
	Marketplace     string   `json:"marketplace"`
	ItemID          string   `json:"item_id"`
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	Price           float64  `json:"price"`
	OriginalPrice   *float64 `json:"original_price"`
	DiscountPercent *float64 `json:"discount_percent"`
	Seller          *string  `json:"seller"`
	ImageURL        *string  `json:"image_url"`
	Source          string   `json:"source"`
	CollectedAt     string   `json:"collected_at"`
	DedupeKey       string   `json:"dedupe_key"`
}

// LoadStaging runs a WRITE_TRUNCATE load job, so staging only ever holds this batch.
func (w *BigQuery) LoadStaging(ctx context.Context, batchID string, rows []models.StagedPromotion) error {
	data, err := EncodeStagingRows(rows)
	if err != nil {
		return err
	}

	src := bigquery.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bigquery.JSON
	src.Schema = stagingSchema

	loader := w.client.Dataset(w.datasetID).Table(stagingTable).LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteTruncate
	loader.CreateDisposition = bigquery.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("start staging load for batch %s: %w", batchID, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait staging load for batch %s: %w", batchID, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("staging load for batch %s: %w", batchID, err)
	}
	return nil
}

func (w *BigQuery) mergeQuery() string {
	return fmt.Sprintf(`
MERGE %s T
USING (
  SELECT * EXCEPT(rn) FROM (
    SELECT *, ROW_NUMBER() OVER (PARTITION BY dedupe_key ORDER BY batch_seq) AS rn
    FROM %s
    WHERE batch_id = @batch_id
  )
  WHERE rn = 1
) S
ON T.dedupe_key = S.dedupe_key
WHEN NOT MATCHED THEN
INSERT (marketplace, item_id, url, title, price, original_price, discount_percent, seller, image_url, source, collected_at, dedupe_key, inserted_at)
VALUES (S.marketplace, S.item_id, S.url, S.title, CAST(S.price AS FLOAT64), CAST(S.original_price AS FLOAT64), CAST(S.discount_percent AS FLOAT64), S.seller, S.image_url, S.source, CAST(S.collected_at AS TIMESTAMP), S.dedupe_key, @inserted_at)`,
		w.tableRef(promotionsTable), w.tableRef(stagingTable))
}

// MergeStaging returns the DML affected row count reported by BigQuery.
func (w *BigQuery) MergeStaging(ctx context.Context, batchID string, insertedAt time.Time) (int64, error) {
	q := w.client.Query(w.mergeQuery())
	q.Parameters = []bigquery.QueryParameter{
		{Name: "batch_id", Value: batchID},
		{Name: "inserted_at", Value: insertedAt.UTC()},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("start merge for batch %s: %w", batchID, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait merge for batch %s: %w", batchID, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("merge batch %s: %w", batchID, err)
	}

	stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok {
		return 0, fmt.Errorf("merge batch %s: missing query statistics", batchID)
	}
	return stats.NumDMLAffectedRows, nil
}

type promotionRow struct {
	Marketplace     string                 `bigquery:"marketplace"`
	ItemID          string                 `bigquery:"item_id"`
	URL             string                 `bigquery:"url"`
	Title           string                 `bigquery:"title"`
	Price           float64                `bigquery:"price"`
	OriginalPrice   bigquery.NullFloat64   `bigquery:"original_price"`
	DiscountPercent bigquery.NullFloat64   `bigquery:"discount_percent"`
	Seller          bigquery.NullString    `bigquery:"seller"`
	ImageURL        bigquery.NullString    `bigquery:"image_url"`
	Source          string                 `bigquery:"source"`
	CollectedAt     time.Time              `bigquery:"collected_at"`
	DedupeKey       string                 `bigquery:"dedupe_key"`
	InsertedAt      bigquery.NullTimestamp `bigquery:"inserted_at"`
}

func (r promotionRow) toModel() models.Promotion {
	p := models.Promotion{
		Marketplace: r.Marketplace,
		ItemID:      r.ItemID,
		URL:         r.URL,
		Title:       r.Title,
		Price:       r.Price,
		Source:      r.Source,
		CollectedAt: r.CollectedAt.UTC(),
		DedupeKey:   r.DedupeKey,
	}
	if r.OriginalPrice.Valid {
		v := r.OriginalPrice.Float64
		p.OriginalPrice = &v
	}
	if r.DiscountPercent.Valid {
		v := r.DiscountPercent.Float64
		p.DiscountPercent = &v
	}
	if r.Seller.Valid {
		v := r.Seller.StringVal
		p.Seller = &v
	}
	if r.ImageURL.Valid {
		v := r.ImageURL.StringVal
		p.ImageURL = &v
	}
	if r.InsertedAt.Valid {
		v := r.InsertedAt.Timestamp.UTC()
		p.InsertedAt = &v
	}
	return p
}

func (w *BigQuery) ListRecent(ctx context.Context, limit int) ([]models.Promotion, error) {
	q := w.client.Query(fmt.Sprintf(
		`SELECT * FROM %s ORDER BY collected_at DESC LIMIT @limit`, w.tableRef(promotionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: limit}}
	return w.readPromotions(ctx, q)
}

func (w *BigQuery) PriceHistory(ctx context.Context, marketplace, itemID string) ([]models.Promotion, error) {
	q := w.client.Query(fmt.Sprintf(
		`SELECT * FROM %s WHERE marketplace = @marketplace AND item_id = @item_id ORDER BY collected_at ASC`,
		w.tableRef(promotionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "marketplace", Value: marketplace},
		{Name: "item_id", Value: itemID},
	}
	return w.readPromotions(ctx, q)
}

func (w *BigQuery) readPromotions(ctx context.Context, q *bigquery.Query) ([]models.Promotion, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query promotions: %w", err)
	}
	var out []models.Promotion
	for {
		var row promotionRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read promotion row: %w", err)
		}
		out = append(out, row.toModel())
	}
	return out, nil
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}
