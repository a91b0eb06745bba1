// Package tracker records fetch failures so later supplement passes can find
// and retry them.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkaneko/worksync/internal/catalog"
	"github.com/mkaneko/worksync/internal/repository"
)

// RecoveredRetention is how long a recovered record stays before Cleanup may
// delete it. Records are never deleted automatically.
const RecoveredRetention = 90 * 24 * time.Hour

type Tracker struct {
	failures repository.FailureRepository
	now      func() time.Time
}

func New(failures repository.FailureRepository) *Tracker {
	return &Tracker{
		failures: failures,
		now:      time.Now,
	}
}

// ReasonForError maps a fetch error to the reason stored with the failure.
// Timeouts are picked out of network errors so the stats distinguish a slow
// upstream from an unreachable one.
func ReasonForError(err error) repository.FailureReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return repository.ReasonTimeout
	}

	fetchErr, ok := catalog.AsFetchError(err)
	if !ok {
		return repository.ReasonAPIError
	}

	switch fetchErr.Kind {
	case catalog.KindNotFound:
		return repository.ReasonNotFound
	case catalog.KindRateLimited:
		return repository.ReasonAPIError
	case catalog.KindMalformed:
		return repository.ReasonParseError
	case catalog.KindNetworkError:
		if errors.Is(fetchErr.Err, context.DeadlineExceeded) {
			return repository.ReasonTimeout
		}
		return repository.ReasonNetworkError
	default:
		return repository.ReasonAPIError
	}
}

// Record stores one failed fetch. Recording the same work again increments
// its attempt count and clears any previous recovery.
func (t *Tracker) Record(ctx context.Context, workID string, err error) error {
	reason := ReasonForError(err)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return t.failures.RecordFailure(ctx, workID, reason, detail)
}

// MarkRecovered flags a tracked work as successfully re-fetched.
func (t *Tracker) MarkRecovered(ctx context.Context, workID string) error {
	return t.failures.MarkRecovered(ctx, workID)
}

// Statistics returns the current failure aggregate, verifying the totals are
// consistent before handing them out.
func (t *Tracker) Statistics(ctx context.Context) (repository.FailureStats, error) {
	stats, err := t.failures.Stats(ctx)
	if err != nil {
		return repository.FailureStats{}, err
	}

	if stats.TotalFailedWorks != stats.RecoveredWorks+stats.UnrecoveredWorks {
		return repository.FailureStats{}, fmt.Errorf(
			"inconsistent failure stats: total %d != recovered %d + unrecovered %d",
			stats.TotalFailedWorks, stats.RecoveredWorks, stats.UnrecoveredWorks,
		)
	}

	return stats, nil
}

// Unrecovered returns tracked works still waiting for a successful re-fetch,
// oldest failure first.
func (t *Tracker) Unrecovered(ctx context.Context, minAttempts, limit int) ([]repository.FailureRecord, error) {
	return t.failures.Unrecovered(ctx, minAttempts, limit)
}

// RecoveredSince counts works recovered at or after the given time.
func (t *Tracker) RecoveredSince(ctx context.Context, since time.Time) (int, error) {
	return t.failures.RecoveredSince(ctx, since)
}

// Cleanup deletes recovered records older than RecoveredRetention. It only
// runs when called explicitly; unrecovered records are never touched.
func (t *Tracker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := t.now().Add(-RecoveredRetention)
	return t.failures.DeleteRecoveredBefore(ctx, cutoff)
}
