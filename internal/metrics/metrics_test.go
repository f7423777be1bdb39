package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveHTTP(t *testing.T) {
	r := NewRegistry()
	r.ObserveHTTP("GET", "/api/promotions", "200", 20*time.Millisecond)
	r.ObserveHTTP("GET", "/api/promotions", "200", 30*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(r.HTTPRequests.WithLabelValues("GET", "/api/promotions", "200")))
}

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	r := NewRegistry()
	r.IngestBatches.WithLabelValues("ok").Inc()
	r.IngestInserted.Add(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), `promozone_ingest_batches_total{outcome="ok"} 1`)
	require.Contains(t, string(body), "promozone_ingest_inserted_total 3")
}
