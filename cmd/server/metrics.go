package main

import (
	"context"
	"log"
	"time"

	"github.com/mkaneko/worksync/internal/metrics"
	"github.com/mkaneko/worksync/internal/repository"
	"github.com/mkaneko/worksync/internal/workfeed"
)

func startMetricsCollector(works repository.WorkRepository, feed *workfeed.Feed) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		updateStoreMetrics(works, feed)
	}
}

func updateStoreMetrics(works repository.WorkRepository, feed *workfeed.Feed) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := works.CountWorks(ctx)
	if err != nil {
		log.Printf("Failed to count works for metrics: %v", err)
	} else {
		metrics.UpdateWorksMirrored(count)
	}

	depth, err := feed.Len()
	if err != nil {
		log.Printf("Failed to read feed depth for metrics: %v", err)
		return
	}
	metrics.UpdateFeedDepth(depth)
}
