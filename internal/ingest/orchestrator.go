// Package ingest runs catalog ingestion passes: drain the feed, fetch each
// work with bounded concurrency, and commit the results in batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mkaneko/worksync/internal/catalog"
	"github.com/mkaneko/worksync/internal/metrics"
	"github.com/mkaneko/worksync/internal/tracker"
	"github.com/mkaneko/worksync/internal/work"
)

// DefaultMaxConcurrentFetches bounds in-flight upstream requests per run.
const DefaultMaxConcurrentFetches = 3

const drainChunkSize = 1000

// ErrRateLimitAbort is returned when sustained rate limiting trips the
// breaker and the run stops early. IDs not yet processed stay in the feed.
var ErrRateLimitAbort = errors.New("run aborted: sustained rate limiting")

// Stager is the batch sink the collector writes into. *repository.BatchWriter
// implements it.
type Stager interface {
	StageWork(ctx context.Context, rec *work.Record) error
	StageSnapshot(ctx context.Context, snap *work.PriceSnapshot) error
	Flush(ctx context.Context) error
	Flushes() int
	Committed() int
}

// Feed supplies the work IDs waiting for ingestion.
type Feed interface {
	Drain(max int) ([]string, error)
	Requeue(workID string) error
	Len() (int64, error)
}

// Config tunes one orchestrator. Zero values fall back to defaults.
type Config struct {
	MaxConcurrentFetches int
	RetryPolicy          catalog.RetryPolicy
	BreakerThreshold     int
	// DisplayLocation is the calendar used for snapshot dates.
	DisplayLocation *time.Location
}

// Summary describes one completed (or aborted) run.
type Summary struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Flushes   int           `json:"flushes"`
	Committed int           `json:"committed"`
	Aborted   bool          `json:"aborted"`
	Duration  time.Duration `json:"duration"`
}

type Orchestrator struct {
	fetcher catalog.Fetcher
	stager  Stager
	feed    Feed
	tracker *tracker.Tracker
	cfg     Config
}

func NewOrchestrator(fetcher catalog.Fetcher, stager Stager, feed Feed, tr *tracker.Tracker, cfg Config) *Orchestrator {
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if cfg.RetryPolicy.Sleep == nil {
		cfg.RetryPolicy = catalog.DefaultRetryPolicy()
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	return &Orchestrator{
		fetcher: fetcher,
		stager:  stager,
		feed:    feed,
		tracker: tr,
		cfg:     cfg,
	}
}

type fetchResult struct {
	workID string
	rec    *work.Record
	err    error
}

// Run drains the feed and ingests every waiting work. Per-item failures are
// tracked and do not stop the run; sustained rate limiting aborts it, leaving
// undrained IDs queued for the next pass.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	breaker := catalog.NewRateLimitBreaker(o.cfg.BreakerThreshold)
	aborted := false

	for {
		ids, err := o.feed.Drain(drainChunkSize)
		if err != nil {
			return summary, fmt.Errorf("failed to drain feed: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		o.runChunk(runCtx, cancel, ids, breaker, summary, &aborted)
		if aborted {
			break
		}
		if err := runCtx.Err(); err != nil {
			break
		}
	}

	if err := o.stager.Flush(ctx); err != nil {
		return summary, fmt.Errorf("failed to flush final batch: %w", err)
	}

	summary.Flushes = o.stager.Flushes()
	summary.Committed = o.stager.Committed()
	summary.Aborted = aborted
	summary.Duration = time.Since(start)

	if depth, err := o.feed.Len(); err == nil {
		metrics.UpdateFeedDepth(depth)
	}

	status := "completed"
	if aborted {
		status = "aborted"
	}
	metrics.RecordIngestRun(status, summary.Duration)
	log.Printf("ingest run %s: processed=%d succeeded=%d failed=%d flushes=%d committed=%d in %v",
		status, summary.Processed, summary.Succeeded, summary.Failed,
		summary.Flushes, summary.Committed, summary.Duration)

	if aborted {
		return summary, ErrRateLimitAbort
	}
	return summary, nil
}

// runChunk fetches one drained chunk with a bounded worker pool. A single
// collector goroutine owns the stager, so batch writes never race.
func (o *Orchestrator) runChunk(ctx context.Context, cancel context.CancelFunc, ids []string, breaker *catalog.RateLimitBreaker, summary *Summary, aborted *bool) {
	jobs := make(chan string)
	results := make(chan fetchResult)

	var wg sync.WaitGroup
	metrics.UpdateActiveWorkers(o.cfg.MaxConcurrentFetches)
	for i := 0; i < o.cfg.MaxConcurrentFetches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				fetchStart := time.Now()
				rf := catalog.NewRetryingFetcher(o.fetcher, o.cfg.RetryPolicy)
				rec, err := rf.Fetch(ctx, id)
				metrics.RecordFetch(fetchResultLabel(err), time.Since(fetchStart))
				results <- fetchResult{workID: id, rec: rec, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, id := range ids {
			select {
			case jobs <- id:
			case <-ctx.Done():
				// Nothing past this point was dispatched; put it all back
				// so the next run picks it up.
				o.requeueAll(ids[i:])
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(results)
		close(done)
	}()

	capturedAt := time.Now()
	for res := range results {
		summary.Processed++

		if res.err != nil {
			if *aborted {
				if err := o.feed.Requeue(res.workID); err != nil {
					log.Printf("failed to requeue %s: %v", res.workID, err)
				}
				continue
			}
			summary.Failed++
			o.trackFailure(ctx, res.workID, res.err)
			if breaker.Observe(res.err) && !*aborted {
				*aborted = true
				cancel()
				// Put the item back so the next run retries it.
				if err := o.feed.Requeue(res.workID); err != nil {
					log.Printf("failed to requeue %s: %v", res.workID, err)
				}
			}
			continue
		}

		breaker.Observe(nil)
		if *aborted {
			// Fetched but not staged; let the next run pick it up.
			if err := o.feed.Requeue(res.workID); err != nil {
				log.Printf("failed to requeue %s: %v", res.workID, err)
			}
			continue
		}

		if err := o.stageRecord(ctx, res.rec, capturedAt); err != nil {
			summary.Failed++
			log.Printf("failed to stage %s: %v", res.workID, err)
			continue
		}
		summary.Succeeded++
	}
	<-done
	metrics.UpdateActiveWorkers(0)
}

func (o *Orchestrator) stageRecord(ctx context.Context, rec *work.Record, capturedAt time.Time) error {
	if err := o.stager.StageWork(ctx, rec); err != nil {
		return err
	}

	snap := work.NewPriceSnapshot(rec, capturedAt, o.cfg.DisplayLocation)
	if err := o.stager.StageSnapshot(ctx, snap); err != nil {
		return err
	}

	return nil
}

func (o *Orchestrator) requeueAll(ids []string) {
	for _, id := range ids {
		if err := o.feed.Requeue(id); err != nil {
			log.Printf("failed to requeue %s: %v", id, err)
		}
	}
}

func (o *Orchestrator) trackFailure(ctx context.Context, workID string, err error) {
	reason := tracker.ReasonForError(err)
	metrics.RecordFailureTracked(string(reason))
	if trackErr := o.tracker.Record(ctx, workID, err); trackErr != nil {
		log.Printf("failed to track failure for %s: %v", workID, trackErr)
	}
}

func fetchResultLabel(err error) string {
	if err == nil {
		return "success"
	}
	fe, ok := catalog.AsFetchError(err)
	if !ok {
		return "error"
	}
	switch fe.Kind {
	case catalog.KindNotFound:
		return "not_found"
	case catalog.KindRateLimited:
		return "rate_limited"
	case catalog.KindMalformed:
		return "malformed"
	default:
		return "network_error"
	}
}
