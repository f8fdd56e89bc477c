package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/variantlabs/experiment-controller/internal/lifecycle"
)

type Config struct {
	Addr        string
	DatabaseURL string

	// Kafka notification channel; empty brokers fall back to log output.
	KafkaBrokers []string
	KafkaTopic   string

	// S3 sweep-report archive; empty bucket disables archiving.
	S3Bucket string
	S3Prefix string

	// Deployment trigger endpoint; empty disables the downstream call
	// (deployment intent is still recorded in the store).
	DeployURL     string
	DeployTimeout time.Duration
	DeployRetries int

	// AuthSecret validates bearer tokens on the sweep trigger endpoint.
	AuthSecret string

	SweepWorkers int
	SweepTimeout time.Duration

	Thresholds lifecycle.Thresholds
}

const (
	defaultAddr          = ":8070"
	defaultKafkaTopic    = "experiment-notifications"
	defaultSweepWorkers  = 4
	defaultSweepTimeout  = 5 * time.Minute
	defaultDeployTimeout = 5 * time.Second
	defaultDeployRetries = 2
)

func Load() (Config, error) {
	defaults := lifecycle.DefaultThresholds()
	cfg := Config{
		Addr:          getEnv("LIFECYCLE_ADDR", defaultAddr),
		DatabaseURL:   firstNonEmpty(os.Getenv("LIFECYCLE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:  splitList(os.Getenv("LIFECYCLE_KAFKA_BROKERS")),
		KafkaTopic:    getEnv("LIFECYCLE_KAFKA_TOPIC", defaultKafkaTopic),
		S3Bucket:      os.Getenv("LIFECYCLE_ARCHIVE_BUCKET"),
		S3Prefix:      os.Getenv("LIFECYCLE_ARCHIVE_PREFIX"),
		DeployURL:     os.Getenv("DEPLOY_TRIGGER_URL"),
		DeployTimeout: getDuration("DEPLOY_TRIGGER_TIMEOUT", defaultDeployTimeout),
		DeployRetries: getInt("DEPLOY_TRIGGER_RETRIES", defaultDeployRetries),
		AuthSecret:    os.Getenv("LIFECYCLE_AUTH_SECRET"),
		SweepWorkers:  getInt("LIFECYCLE_SWEEP_WORKERS", defaultSweepWorkers),
		SweepTimeout:  getDuration("LIFECYCLE_SWEEP_TIMEOUT", defaultSweepTimeout),
		Thresholds: lifecycle.Thresholds{
			MinImpressions:  getInt("LIFECYCLE_MIN_IMPRESSIONS", defaults.MinImpressions),
			ConfidenceLevel: getFloat("LIFECYCLE_CONFIDENCE_LEVEL", defaults.ConfidenceLevel),
			LowPerfMinTotal: getInt("LIFECYCLE_LOW_PERF_MIN_TOTAL", defaults.LowPerfMinTotal),
			LowPerfRate:     getFloat("LIFECYCLE_LOW_PERF_RATE", defaults.LowPerfRate),
		},
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or LIFECYCLE_DATABASE_URL required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
