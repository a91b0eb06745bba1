package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mkaneko/worksync/internal/catalog"
	"github.com/mkaneko/worksync/internal/ingest"
	"github.com/mkaneko/worksync/internal/repository"
	"github.com/mkaneko/worksync/internal/tracker"
	"github.com/mkaneko/worksync/internal/workfeed"
)

func main() {
	postgresDSN := os.Getenv("POSTGRES_DSN")
	if postgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	catalogURL := os.Getenv("CATALOG_API_URL")
	if catalogURL == "" {
		log.Fatal("CATALOG_API_URL is required")
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	displayTZ := os.Getenv("DISPLAY_TZ")
	if displayTZ == "" {
		displayTZ = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(displayTZ)
	if err != nil {
		log.Fatalf("invalid DISPLAY_TZ %q: %v", displayTZ, err)
	}

	workers := ingest.DefaultMaxConcurrentFetches
	if raw := os.Getenv("MAX_CONCURRENT_FETCHES"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			log.Fatalf("invalid MAX_CONCURRENT_FETCHES %q", raw)
		}
		workers = parsed
	}

	db, err := repository.NewDB(postgresDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}()

	works := repository.NewPostgresWorkRepositoryWithDB(db)
	failures := repository.NewPostgresFailureRepositoryWithDB(db)

	feed, err := workfeed.NewFeed(redisAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := feed.Close(); err != nil {
			log.Printf("failed to close feed: %v", err)
		}
	}()

	// Work IDs given on the command line are queued before the run starts.
	if len(os.Args) > 1 {
		queued, err := feed.PushMany(os.Args[1:])
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("queued %d new work IDs", queued)
	}

	client, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL: catalogURL,
		Referer: os.Getenv("CATALOG_REFERER"),
	})
	if err != nil {
		log.Fatal(err)
	}

	orchestrator := ingest.NewOrchestrator(
		client,
		repository.NewBatchWriter(db),
		feed,
		tracker.New(failures),
		ingest.Config{
			MaxConcurrentFetches: workers,
			DisplayLocation:      loc,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down ingestion...")
		cancel()
	}()

	lifecycle := ingest.NewLifecycle(works, orchestrator)
	summary, err := lifecycle.EnsureInitialized(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if summary == nil {
		summary, err = orchestrator.Run(ctx)
		if err != nil {
			log.Fatal(err)
		}
	}
	log.Printf("ingestion finished: %d succeeded, %d failed", summary.Succeeded, summary.Failed)
}
