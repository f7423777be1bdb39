// Package pipeline runs scrape → normalize → ingest for one or more target pages.
package pipeline

import (
	"context"
	"fmt"

	"promozone/internal/ingest"
	"promozone/internal/logger"
	"promozone/internal/metrics"
	"promozone/internal/models"
	"promozone/internal/normalizer"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 4

	msgNothingFound = "Nenhum item encontrado ou erro de conexão."
	msgStoreFailed  = "Erro ao salvar os itens. Confira a listagem antes de tentar novamente."
)

// Scraper fetches raw product entries from one page.
type Scraper interface {
	ScrapeProducts(ctx context.Context, targetURL string) ([]map[string]any, error)
}

type Ingester interface {
	Ingest(ctx context.Context, records []models.Promotion) ingest.Report
}

// Result is the outcome for one target page.
type Result struct {
	URL         string        `json:"url"`
	Scraped     int           `json:"scraped"`
	Normalized  int           `json:"normalized"`
	ScrapeError string        `json:"scrape_error,omitempty"`
	Report      ingest.Report `json:"report"`
}

// Status is the human-readable line shown after a scrape.
func (r Result) Status() string {
	switch {
	case r.Report.Failed():
		return msgStoreFailed
	case r.Normalized == 0:
		return msgNothingFound
	}
	return fmt.Sprintf("Sucesso! %d novos itens salvos (%d duplicados ignorados).", r.Report.Inserted, r.Report.Duplicates)
}

type Pipeline struct {
	scraper     Scraper
	normalizer  *normalizer.Normalizer
	ingestor    Ingester
	metrics     *metrics.Registry
	log         *logger.Logger
	concurrency int
}

func New(scraper Scraper, n *normalizer.Normalizer, ing Ingester, m *metrics.Registry, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		scraper:     scraper,
		normalizer:  n,
		ingestor:    ing,
		metrics:     m,
		log:         log.With("service", "Pipeline"),
		concurrency: DefaultConcurrency,
	}
}

// SetConcurrency bounds how many pages are scraped at once.
func (p *Pipeline) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	p.concurrency = n
}

// RunOne scrapes and ingests a single page. Provider failures are logged and
// treated as an empty page.
func (p *Pipeline) RunOne(ctx context.Context, targetURL string) Result {
	res, records := p.collect(ctx, targetURL)
	res.Report = p.ingestor.Ingest(ctx, records)
	p.logResult(res)
	return res
}

// Run scrapes every target concurrently, then ingests the pages one at a time
// in target order. Results follow the order of targets.
func (p *Pipeline) Run(ctx context.Context, targets []string) []Result {
	results := make([]Result, len(targets))
	batches := make([][]models.Promotion, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			results[i], batches[i] = p.collect(gctx, target)
			return nil
		})
	}
	_ = g.Wait()

	for i := range targets {
		results[i].Report = p.ingestor.Ingest(ctx, batches[i])
		p.logResult(results[i])
	}
	return results
}

func (p *Pipeline) collect(ctx context.Context, targetURL string) (Result, []models.Promotion) {
	res := Result{URL: targetURL}

	raw, err := p.scraper.ScrapeProducts(ctx, targetURL)
	if err != nil {
		p.log.Error("Scrape failed", "url", targetURL, "error", err)
		res.ScrapeError = err.Error()
		p.countScrape("provider_error", 0, 0)
		return res, []models.Promotion{}
	}

	records := p.normalizer.Normalize(raw, targetURL)
	res.Scraped = len(raw)
	res.Normalized = len(records)
	p.countScrape("ok", len(raw), len(raw)-len(records))
	p.log.Info("Scraped page", "url", targetURL, "raw", res.Scraped, "normalized", res.Normalized)
	return res, records
}

func (p *Pipeline) countScrape(outcome string, scraped, skipped int) {
	if p.metrics == nil {
		return
	}
	p.metrics.ScrapeRequests.WithLabelValues(outcome).Inc()
	p.metrics.ScrapedRecords.Add(float64(scraped))
	p.metrics.SkippedRecords.Add(float64(skipped))
}

func (p *Pipeline) logResult(res Result) {
	if res.Report.Failed() {
		p.log.Warn("Pipeline finished with store error", "url", res.URL, "phase", res.Report.Phase, "error", res.Report.Error)
		return
	}
	p.log.Info("Pipeline finished", "url", res.URL, "inserted", res.Report.Inserted, "duplicates", res.Report.Duplicates)
}
