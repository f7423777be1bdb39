// Package app builds the long-lived clients once and hands them to the HTTP
// server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"promozone/internal/api"
	"promozone/internal/config"
	"promozone/internal/database"
	"promozone/internal/events"
	"promozone/internal/ingest"
	"promozone/internal/lock"
	"promozone/internal/logger"
	"promozone/internal/metrics"
	"promozone/internal/normalizer"
	"promozone/internal/pipeline"
	"promozone/internal/query"
	"promozone/internal/services/firecrawl"
	"promozone/internal/warehouse"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Warehouse is a canonical store plus its staging area.
type Warehouse interface {
	ingest.Store
	query.Reader
	Migrate(ctx context.Context) error
}

type App struct {
	Cfg       *config.Config
	Log       *logger.Logger
	Warehouse Warehouse
	Ingestor  *ingest.Ingestor
	Query     *query.Service
	Pipeline  *pipeline.Pipeline
	Hub       *events.Hub
	Metrics   *metrics.Registry

	closers []func() error
}

// New wires every component from cfg. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log, Metrics: metrics.NewRegistry(), Hub: events.NewHub(log)}

	wh, err := a.openWarehouse(ctx)
	if err != nil {
		return nil, err
	}
	a.Warehouse = wh

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	publishers := events.Multi{a.Hub}
	if cfg.KafkaBrokers != "" {
		k := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, k.Close)
		publishers = append(publishers, k)
		log.Info("Publishing ingest events to Kafka", "topic", cfg.KafkaTopic)
	}

	a.Ingestor = ingest.New(wh,
		ingest.WithLocker(locker),
		ingest.WithPublisher(publishers),
		ingest.WithMetrics(a.Metrics),
		ingest.WithLogger(log),
	)
	a.Query = query.NewService(wh, a.Metrics, log)

	if cfg.FirecrawlAPIKey == "" {
		log.Warn("FIRECRAWL_API_KEY is not set, scrapes will be rejected by the provider")
	}
	scraper := firecrawl.NewClient(cfg.FirecrawlBaseURL, cfg.FirecrawlAPIKey, cfg.FirecrawlTimeout)
	a.Pipeline = pipeline.New(scraper, normalizer.New(cfg.Marketplace, log), a.Ingestor, a.Metrics, log)

	return a, nil
}

func (a *App) openWarehouse(ctx context.Context) (Warehouse, error) {
	cfg := a.Cfg
	if cfg.WarehouseDriver == "bigquery" {
		creds := cfg.GCPCredentials
		if _, err := os.Stat(creds); err != nil {
			// fall back to application default credentials
			creds = ""
		}
		bq, err := warehouse.NewBigQuery(ctx, cfg.GCPProjectID, cfg.GCPDatasetID, creds)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bq.Close)
		a.Log.Info("Warehouse ready", "driver", "bigquery", "project", cfg.GCPProjectID, "dataset", cfg.GCPDatasetID)
		return bq, nil
	}

	db, err := database.Initialize(cfg.WarehouseDriver, cfg.DatabaseURL, a.Log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	return warehouse.NewSQL(db), nil
}

func (a *App) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.Cfg.RedisAddr == "" {
		return lock.NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.Cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", a.Cfg.RedisAddr, err)
	}
	a.closers = append(a.closers, client.Close)
	a.Log.Info("Using Redis ingest lock", "addr", a.Cfg.RedisAddr, "key", a.Cfg.IngestLockKey)
	return lock.NewRedis(client, a.Cfg.IngestLockKey, a.Cfg.IngestLockTTL), nil
}

// Router builds the gin engine with every HTTP route mounted.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(a.Log), api.Metrics(a.Metrics), api.CORS(a.Cfg.CORSOrigins))

	api.SetupRoutes(&r.RouterGroup, api.Deps{
		Pipeline:       a.Pipeline,
		Query:          a.Query,
		Hub:            a.Hub,
		Metrics:        a.Metrics,
		Marketplace:    a.Cfg.Marketplace,
		RequestTimeout: a.Cfg.RequestTimeout,
		Logger:         a.Log,
	})
	return r
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
