package main

import (
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkaneko/worksync/internal/api"
	"github.com/mkaneko/worksync/internal/middleware"
	"github.com/mkaneko/worksync/internal/notify"
	"github.com/mkaneko/worksync/internal/report"
	"github.com/mkaneko/worksync/internal/repository"
	"github.com/mkaneko/worksync/internal/tracker"
	"github.com/mkaneko/worksync/internal/workfeed"
)

func main() {
	postgresDSN := os.Getenv("POSTGRES_DSN")
	if postgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	sendgridKey := os.Getenv("SENDGRID_API_KEY")
	if sendgridKey == "" {
		log.Fatal("SENDGRID_API_KEY is required")
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

	feed, err := workfeed.NewFeed(redisAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := feed.Close(); err != nil {
			log.Printf("failed to close feed: %v", err)
		}
	}()

	emailCfg := notify.Config{
		FromName:    os.Getenv("FROM_NAME"),
		FromAddress: os.Getenv("FROM_ADDRESS"),
		ToAddress:   os.Getenv("NOTIFY_TO"),
	}
	emails := notify.NewEmailService(sendgridKey, emailCfg)

	apiHandler := api.NewAPI(emails, emails, report.NewBuilder(tr), tr, works)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", middleware.MetricsMiddleware(apiHandler))

	go startMetricsCollector(works, feed)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on :%s", port)
	log.Printf("Connected to Redis at %s", redisAddr)

	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal(err)
	}
}
