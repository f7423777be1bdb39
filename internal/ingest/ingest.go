// Package ingest stages batches of promotions and merges new dedupe keys into
// the canonical table.
package ingest

import (
	"context"
	"fmt"
	"time"

	"promozone/internal/events"
	"promozone/internal/lock"
	"promozone/internal/logger"
	"promozone/internal/metrics"
	"promozone/internal/models"

	"github.com/google/uuid"
)

// Store is the staging + canonical pair an Ingestor writes to.
type Store interface {
	// LoadStaging replaces the staging contents with rows.
	LoadStaging(ctx context.Context, batchID string, rows []models.StagedPromotion) error
	// MergeStaging inserts staged rows of batchID whose dedupe_key is new and
	// returns the number of rows written.
	MergeStaging(ctx context.Context, batchID string, insertedAt time.Time) (int64, error)
}

type Phase string

const (
	PhaseLock  Phase = "lock"
	PhaseStage Phase = "stage"
	PhaseMerge Phase = "merge"
)

// StoreError is a failure in one phase of an ingest. After a merge failure the
// canonical table state is unknown; re-read before retrying.
type StoreError struct {
	Phase Phase
	Err   error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Phase, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// Report is the outcome of one Ingest call. Inserted is always 0 when Error is set.
type Report struct {
	BatchID    string `json:"batch_id,omitempty"`
	Total      int    `json:"total"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Error      string `json:"error,omitempty"`
	Phase      Phase  `json:"phase,omitempty"`

	err *StoreError
}

// Err returns the typed failure, or nil.
func (r Report) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

func (r Report) Failed() bool { return r.err != nil }

type Ingestor struct {
	store     Store
	locker    lock.Locker
	publisher events.Publisher
	metrics   *metrics.Registry
	log       *logger.Logger

	Now        func() time.Time
	NewBatchID func() string
}

type Option func(*Ingestor)

// WithLocker replaces the default in-process lock, e.g. with a Redis lease.
func WithLocker(l lock.Locker) Option { return func(i *Ingestor) { i.locker = l } }

func WithPublisher(p events.Publisher) Option { return func(i *Ingestor) { i.publisher = p } }

func WithMetrics(m *metrics.Registry) Option { return func(i *Ingestor) { i.metrics = m } }

func WithLogger(l *logger.Logger) Option { return func(i *Ingestor) { i.log = l } }

func New(store Store, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:      store,
		locker:     lock.NewLocal(),
		log:        logger.Nop(),
		Now:        time.Now,
		NewBatchID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.With("service", "Ingestor")
	return i
}

// Ingest stages records and merges the ones with unseen dedupe keys. It never
// returns an error; failures are reported in the Report.
func (i *Ingestor) Ingest(ctx context.Context, records []models.Promotion) Report {
	if len(records) == 0 {
		return Report{}
	}

	start := time.Now()
	rep := Report{BatchID: i.NewBatchID(), Total: len(records)}
	log := i.log.With("batch_id", rep.BatchID, "total", rep.Total)

	release, err := i.locker.Acquire(ctx)
	if err != nil {
		rep = rep.fail(PhaseLock, err)
		log.Error("Ingest lock unavailable", "error", err)
		i.observe(rep, start)
		return rep
	}
	defer func() {
		if err := release(); err != nil {
			log.Warn("Ingest lock release failed", "error", err)
		}
	}()

	rep = i.stageAndMerge(ctx, rep, records, log)
	i.observe(rep, start)
	i.publish(ctx, rep, records[0].Source, log)
	return rep
}

func (i *Ingestor) stageAndMerge(ctx context.Context, rep Report, records []models.Promotion, log *logger.Logger) Report {
	rows := make([]models.StagedPromotion, len(records))
	for seq, p := range records {
		rows[seq] = models.Stage(p, rep.BatchID, seq)
	}

	log.Info("Loading batch into staging")
	if err := i.store.LoadStaging(ctx, rep.BatchID, rows); err != nil {
		log.Error("Staging load failed", "error", err)
		return rep.fail(PhaseStage, err)
	}

	inserted, err := i.store.MergeStaging(ctx, rep.BatchID, i.Now().UTC())
	if err != nil {
		log.Error("Merge failed, canonical state indeterminate", "error", err)
		return rep.fail(PhaseMerge, err)
	}

	rep.Inserted = int(inserted)
	rep.Duplicates = rep.Total - rep.Inserted
	log.Info("Batch merged", "inserted", rep.Inserted, "duplicates", rep.Duplicates)
	return rep
}

func (r Report) fail(phase Phase, err error) Report {
	r.Inserted = 0
	r.Duplicates = 0
	r.Phase = phase
	r.err = &StoreError{Phase: phase, Err: err}
	r.Error = r.err.Error()
	return r
}

func (i *Ingestor) observe(rep Report, start time.Time) {
	if i.metrics == nil {
		return
	}
	outcome := "ok"
	if rep.Failed() {
		outcome = string(rep.Phase)
	}
	i.metrics.IngestBatches.WithLabelValues(outcome).Inc()
	i.metrics.IngestInserted.Add(float64(rep.Inserted))
	i.metrics.IngestDuplicates.Add(float64(rep.Duplicates))
	i.metrics.IngestLatencySec.Observe(time.Since(start).Seconds())
}

func (i *Ingestor) publish(ctx context.Context, rep Report, source string, log *logger.Logger) {
	if i.publisher == nil {
		return
	}
	ev := events.IngestEvent{
		BatchID:    rep.BatchID,
		Source:     source,
		Total:      rep.Total,
		Inserted:   rep.Inserted,
		Duplicates: rep.Duplicates,
		Error:      rep.Error,
		At:         i.Now().UTC(),
	}
	if err := i.publisher.Publish(ctx, ev); err != nil {
		log.Warn("Publishing ingest event failed", "error", err)
	}
}
