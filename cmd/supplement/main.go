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
	"github.com/mkaneko/worksync/internal/notify"
	"github.com/mkaneko/worksync/internal/repository"
	"github.com/mkaneko/worksync/internal/supplement"
	"github.com/mkaneko/worksync/internal/tracker"
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

	displayTZ := os.Getenv("DISPLAY_TZ")
	if displayTZ == "" {
		displayTZ = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(displayTZ)
	if err != nil {
		log.Fatalf("invalid DISPLAY_TZ %q: %v", displayTZ, err)
	}

	limit := 0
	if raw := os.Getenv("SUPPLEMENT_LIMIT"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			log.Fatalf("invalid SUPPLEMENT_LIMIT %q", raw)
		}
		limit = parsed
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
	tr := tracker.New(failures)

	var notifier supplement.Notifier
	if sendgridKey := os.Getenv("SENDGRID_API_KEY"); sendgridKey != "" {
		notifier = notify.NewEmailService(sendgridKey, notify.Config{
			FromName:    os.Getenv("FROM_NAME"),
			FromAddress: os.Getenv("FROM_ADDRESS"),
			ToAddress:   os.Getenv("NOTIFY_TO"),
		})
	} else {
		log.Println("SENDGRID_API_KEY not set, skipping result notification")
	}

	client, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL: catalogURL,
		Referer: os.Getenv("CATALOG_REFERER"),
	})
	if err != nil {
		log.Fatal(err)
	}

	runner := supplement.NewRunner(client, works, tr, notifier, supplement.Config{
		Limit:           limit,
		DisplayLocation: loc,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down supplement run...")
		cancel()
	}()

	result, err := runner.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("supplement finished: %d/%d recovered (%.1f%%)",
		result.SuccessfulRecoveries, result.TotalProcessed, result.RecoveryRate)
}
