// Command sweep runs one sweep against the configured store and prints the
// report as JSON. Intended to be invoked from cron or a CI job; the sweep
// cadence itself is not this controller's concern.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/variantlabs/experiment-controller/internal/config"
	"github.com/variantlabs/experiment-controller/internal/deploy"
	"github.com/variantlabs/experiment-controller/internal/notify"
	"github.com/variantlabs/experiment-controller/internal/store"
	"github.com/variantlabs/experiment-controller/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	var deployer deploy.Trigger
	if cfg.DeployURL != "" {
		deployer, err = deploy.NewHTTPClient(deploy.HTTPClientConfig{
			BaseURL: cfg.DeployURL,
			Timeout: cfg.DeployTimeout,
			Retries: cfg.DeployRetries,
		})
		if err != nil {
			log.Fatalf("deploy client: %v", err)
		}
	}

	sweeper := sweep.New(store.NewPGStore(db), notify.NewLogNotifier(nil), deployer, nil, sweep.Config{
		Thresholds: cfg.Thresholds,
		Workers:    cfg.SweepWorkers,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SweepTimeout)
	defer cancel()

	report, err := sweeper.Run(ctx, time.Now().UTC())
	if err != nil {
		log.Fatalf("sweep: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatalf("encode report: %v", err)
	}
}
