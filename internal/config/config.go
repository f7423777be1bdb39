package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Warehouse
	WarehouseDriver string // mysql, postgres, sqlite or bigquery
	DatabaseURL     string
	GCPProjectID    string
	GCPDatasetID    string
	GCPCredentials  string // service account json path

	// Firecrawl extraction API
	FirecrawlAPIKey  string
	FirecrawlBaseURL string
	FirecrawlTimeout time.Duration

	Marketplace string

	// Ingestion lock (empty RedisAddr = in-process lock)
	RedisAddr     string
	IngestLockKey string
	IngestLockTTL time.Duration

	// Optional event stream
	KafkaBrokers string
	KafkaTopic   string

	RequestTimeout time.Duration
	TargetsFile    string
	CORSOrigins    []string
}

func Load() *Config {
	// Default MySQL connection string
	defaultDSN := "root:root@tcp(127.0.0.1:3306)/promozone?charset=utf8mb4&parseTime=True&loc=UTC"

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		WarehouseDriver: strings.ToLower(getEnv("WAREHOUSE_DRIVER", "mysql")),
		DatabaseURL:     getEnv("DATABASE_URL", defaultDSN),
		GCPProjectID:    getEnv("GCP_PROJECT_ID", ""),
		GCPDatasetID:    getEnv("GCP_DATASET_ID", "promozone"),
		GCPCredentials:  getEnv("GOOGLE_APPLICATION_CREDENTIALS", "google-credentials.json"),

		FirecrawlAPIKey:  getEnv("FIRECRAWL_API_KEY", ""),
		FirecrawlBaseURL: getEnv("FIRECRAWL_BASE_URL", "https://api.firecrawl.dev"),
		FirecrawlTimeout: getDuration("FIRECRAWL_TIMEOUT", 60*time.Second),

		Marketplace: getEnv("MARKETPLACE", "mercado_livre"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		IngestLockKey: getEnv("INGEST_LOCK_KEY", "promozone:ingest"),
		IngestLockTTL: getDuration("INGEST_LOCK_TTL", 5*time.Minute),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "promozone.promotions"),

		RequestTimeout: getDuration("REQUEST_TIMEOUT", 90*time.Second),
		TargetsFile:    getEnv("TARGETS_FILE", "targets.yaml"),
		CORSOrigins:    getList("CORS_ORIGINS", "*"),
	}
}

func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "prod", "production":
		return true
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getList(key, defaultValue string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, defaultValue), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
