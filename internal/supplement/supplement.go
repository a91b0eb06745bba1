// Package supplement re-fetches previously failed works and records which of
// them recovered.
package supplement

import (
	"context"
	"log"
	"time"

	"github.com/mkaneko/worksync/internal/catalog"
	"github.com/mkaneko/worksync/internal/metrics"
	"github.com/mkaneko/worksync/internal/repository"
	"github.com/mkaneko/worksync/internal/tracker"
	"github.com/mkaneko/worksync/internal/work"
)

// Result summarizes one supplement pass.
type Result struct {
	ExecutedAt           time.Time `json:"executedAt"`
	TotalProcessed       int       `json:"totalProcessed"`
	SuccessfulRecoveries int       `json:"successfulRecoveries"`
	// RecoveryRate is a percentage; zero when nothing was processed.
	RecoveryRate float64 `json:"recoveryRate"`
}

// Notifier delivers a finished pass's result. The email service implements
// it.
type Notifier interface {
	NotifySupplementResult(ctx context.Context, result Result) error
}

type Config struct {
	// MinAttempts filters which failures are worth retrying.
	MinAttempts int
	// Limit caps how many failures one pass retries. Zero means no cap.
	Limit int
	RetryPolicy catalog.RetryPolicy
	// DisplayLocation is the calendar used for snapshot dates.
	DisplayLocation *time.Location
}

type Runner struct {
	fetcher  catalog.Fetcher
	works    repository.WorkRepository
	tracker  *tracker.Tracker
	notifier Notifier
	cfg      Config
}

func NewRunner(fetcher catalog.Fetcher, works repository.WorkRepository, tr *tracker.Tracker, notifier Notifier, cfg Config) *Runner {
	if cfg.MinAttempts <= 0 {
		cfg.MinAttempts = 1
	}
	if cfg.RetryPolicy.Sleep == nil {
		cfg.RetryPolicy = catalog.DefaultRetryPolicy()
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	return &Runner{
		fetcher:  fetcher,
		works:    works,
		tracker:  tr,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Run retries every unrecovered failure once through the normal fetch path.
// Items that succeed are saved and marked recovered; items that fail again
// get their attempt count bumped. The pass itself never fails on a per-item
// error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	executedAt := time.Now()

	failures, err := r.tracker.Unrecovered(ctx, r.cfg.MinAttempts, r.cfg.Limit)
	if err != nil {
		return Result{}, err
	}

	result := Result{ExecutedAt: executedAt}
	for _, failure := range failures {
		if ctx.Err() != nil {
			break
		}
		result.TotalProcessed++

		if r.recoverOne(ctx, failure.WorkID, executedAt) {
			result.SuccessfulRecoveries++
		}
	}

	if result.TotalProcessed > 0 {
		result.RecoveryRate = float64(result.SuccessfulRecoveries) / float64(result.TotalProcessed) * 100
	}

	log.Printf("supplement pass: processed=%d recovered=%d rate=%.1f%%",
		result.TotalProcessed, result.SuccessfulRecoveries, result.RecoveryRate)

	if r.notifier != nil {
		if err := r.notifier.NotifySupplementResult(ctx, result); err != nil {
			log.Printf("failed to send supplement notification: %v", err)
		}
	}

	return result, nil
}

func (r *Runner) recoverOne(ctx context.Context, workID string, capturedAt time.Time) bool {
	rf := catalog.NewRetryingFetcher(r.fetcher, r.cfg.RetryPolicy)
	rec, err := rf.Fetch(ctx, workID)
	if err != nil {
		if trackErr := r.tracker.Record(ctx, workID, err); trackErr != nil {
			log.Printf("failed to re-track %s: %v", workID, trackErr)
		}
		return false
	}

	if err := r.saveRecovered(ctx, rec, capturedAt); err != nil {
		log.Printf("failed to save recovered work %s: %v", workID, err)
		return false
	}

	if err := r.tracker.MarkRecovered(ctx, workID); err != nil {
		log.Printf("failed to mark %s recovered: %v", workID, err)
		return false
	}

	metrics.RecordRecovery()
	return true
}

func (r *Runner) saveRecovered(ctx context.Context, rec *work.Record, capturedAt time.Time) error {
	if err := r.works.UpsertWork(ctx, rec); err != nil {
		return err
	}
	snap := work.NewPriceSnapshot(rec, capturedAt, r.cfg.DisplayLocation)
	return r.works.UpsertSnapshot(ctx, snap)
}
