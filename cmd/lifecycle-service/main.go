package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/variantlabs/experiment-controller/internal/archive"
	"github.com/variantlabs/experiment-controller/internal/config"
	"github.com/variantlabs/experiment-controller/internal/deploy"
	"github.com/variantlabs/experiment-controller/internal/httpserver"
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
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := store.NewPGStore(db)

	var notifier notify.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		kn, err := notify.NewKafkaNotifier(notify.KafkaNotifierConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka notifier: %v", err)
		}
		defer kn.Close()
		notifier = kn
	} else {
		notifier = notify.NewLogNotifier(nil)
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

	var archiver archive.Archiver
	if cfg.S3Bucket != "" {
		archiver, err = archive.NewS3Archiver(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("s3 archiver: %v", err)
		}
	}

	sweeper := sweep.New(st, notifier, deployer, archiver, sweep.Config{
		Thresholds: cfg.Thresholds,
		Workers:    cfg.SweepWorkers,
	})
	server := httpserver.New(sweeper, st, cfg.AuthSecret, cfg.SweepTimeout)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Experiment lifecycle service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
