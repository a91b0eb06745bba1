package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/mkaneko/worksync/internal/metrics"
	"github.com/mkaneko/worksync/internal/work"
)

// MaxBatchOps is the store's atomic-commit ceiling: no flush ever carries
// more operations than this.
const MaxBatchOps = 500

type writeOp struct {
	query string
	args  []any
}

// BatchWriter stages work and snapshot upserts and commits them in
// transactions of at most MaxBatchOps operations. A commit is the durability
// boundary: everything in a committed batch is saved, everything still staged
// is not. Not safe for concurrent use; a single goroutine owns the writer.
type BatchWriter struct {
	db        *sql.DB
	ops       []writeOp
	flushes   int
	committed int
}

func NewBatchWriter(db *sql.DB) *BatchWriter {
	return &BatchWriter{
		db:  db,
		ops: make([]writeOp, 0, MaxBatchOps),
	}
}

func (b *BatchWriter) stage(ctx context.Context, op writeOp) error {
	b.ops = append(b.ops, op)
	if len(b.ops) >= MaxBatchOps {
		return b.Flush(ctx)
	}
	return nil
}

// StageWork stages one work upsert, flushing first if the batch is full.
func (b *BatchWriter) StageWork(ctx context.Context, rec *work.Record) error {
	args, err := workUpsertArgs(rec)
	if err != nil {
		return err
	}
	return b.stage(ctx, writeOp{query: upsertWorkQuery, args: args})
}

// StageSnapshot stages one price-history upsert keyed (work_id, date), so a
// same-day rerun overwrites instead of appending.
func (b *BatchWriter) StageSnapshot(ctx context.Context, snap *work.PriceSnapshot) error {
	args, err := snapshotUpsertArgs(snap)
	if err != nil {
		return err
	}
	return b.stage(ctx, writeOp{query: upsertSnapshotQuery, args: args})
}

// Flush commits every staged operation in one transaction. A no-op when
// nothing is staged.
func (b *BatchWriter) Flush(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}

	for _, op := range b.ops {
		if _, err := tx.ExecContext(ctx, op.query, op.args...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("failed to roll back batch: %v", rbErr)
			}
			return fmt.Errorf("batch exec failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	b.flushes++
	b.committed += len(b.ops)
	metrics.RecordBatchFlush(len(b.ops))
	b.ops = b.ops[:0]
	return nil
}

// Pending returns the number of staged, uncommitted operations.
func (b *BatchWriter) Pending() int {
	return len(b.ops)
}

// Flushes returns how many batches have been committed.
func (b *BatchWriter) Flushes() int {
	return b.flushes
}

// Committed returns the total operations durably written so far.
func (b *BatchWriter) Committed() int {
	return b.committed
}
