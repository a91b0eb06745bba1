// Package repository provides PostgreSQL persistence for mirrored works,
// daily price history, and per-item failure records.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mkaneko/worksync/internal/work"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// FailureReason is the stored reason code on a failure record.
type FailureReason string

const (
	ReasonTimeout      FailureReason = "timeout"
	ReasonAPIError     FailureReason = "api_error"
	ReasonNetworkError FailureReason = "network_error"
	ReasonNotFound     FailureReason = "not_found"
	ReasonParseError   FailureReason = "parse_error"
)

// FailureRecord is the durable bookkeeping for one problematic item.
type FailureRecord struct {
	WorkID        string        `json:"work_id"`
	Reason        FailureReason `json:"reason"`
	AttemptCount  int           `json:"attempt_count"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
	FirstFailedAt time.Time     `json:"first_failed_at"`
	LastFailedAt  time.Time     `json:"last_failed_at"`
	Recovered     bool          `json:"recovered"`
	RecoveredAt   *time.Time    `json:"recovered_at,omitempty"`
}

// FailureStats is the read-through aggregate over the failure store.
// TotalFailedWorks == RecoveredWorks + UnrecoveredWorks always holds.
type FailureStats struct {
	TotalFailedWorks int                   `json:"total_failed_works"`
	RecoveredWorks   int                   `json:"recovered_works"`
	UnrecoveredWorks int                   `json:"unrecovered_works"`
	FailureReasons   map[FailureReason]int `json:"failure_reasons"`
}

type WorkRepository interface {
	UpsertWork(ctx context.Context, rec *work.Record) error
	GetWork(ctx context.Context, workID string) (*work.Record, error)
	UpsertSnapshot(ctx context.Context, snap *work.PriceSnapshot) error
	GetSnapshot(ctx context.Context, workID, date string) (*work.PriceSnapshot, error)
	ListSnapshots(ctx context.Context, workID string, limit int) ([]work.PriceSnapshot, error)
	CountWorks(ctx context.Context) (int, error)
	Close() error
}

type FailureRepository interface {
	RecordFailure(ctx context.Context, workID string, reason FailureReason, detail string) error
	MarkRecovered(ctx context.Context, workID string) error
	GetFailure(ctx context.Context, workID string) (*FailureRecord, error)
	Stats(ctx context.Context) (FailureStats, error)
	Unrecovered(ctx context.Context, minAttempts, limit int) ([]FailureRecord, error)
	RecoveredSince(ctx context.Context, since time.Time) (int, error)
	DeleteRecoveredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
