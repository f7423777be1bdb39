package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	ScrapeRequests *prometheus.CounterVec // by outcome: ok, provider_error
	ScrapedRecords prometheus.Counter
	SkippedRecords prometheus.Counter

	IngestBatches    *prometheus.CounterVec // by outcome: ok, lock, stage, merge
	IngestInserted   prometheus.Counter
	IngestDuplicates prometheus.Counter
	IngestLatencySec prometheus.Histogram

	QueryErrors prometheus.Counter

	HTTPRequests *prometheus.CounterVec   // by method, route, status
	HTTPLatency  *prometheus.HistogramVec // by route
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	scrapeRequests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "promozone_scrape_requests_total"}, []string{"outcome"})
	scraped := prometheus.NewCounter(prometheus.CounterOpts{Name: "promozone_scraped_records_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "promozone_skipped_records_total"})

	batches := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "promozone_ingest_batches_total"}, []string{"outcome"})
	inserted := prometheus.NewCounter(prometheus.CounterOpts{Name: "promozone_ingest_inserted_total"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{Name: "promozone_ingest_duplicates_total"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "promozone_ingest_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	queryErrors := prometheus.NewCounter(prometheus.CounterOpts{Name: "promozone_query_errors_total"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "promozone_http_requests_total"}, []string{"method", "route", "status"})
	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promozone_http_request_duration_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	r.MustRegister(scrapeRequests, scraped, skipped, batches, inserted, duplicates, latency, queryErrors, httpRequests, httpLatency)
	return &Registry{
		reg:              r,
		ScrapeRequests:   scrapeRequests,
		ScrapedRecords:   scraped,
		SkippedRecords:   skipped,
		IngestBatches:    batches,
		IngestInserted:   inserted,
		IngestDuplicates: duplicates,
		IngestLatencySec: latency,
		QueryErrors:      queryErrors,
		HTTPRequests:     httpRequests,
		HTTPLatency:      httpLatency,
	}
}

func (r *Registry) ObserveHTTP(method, route, status string, d time.Duration) {
	r.HTTPRequests.WithLabelValues(method, route, status).Inc()
	r.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
