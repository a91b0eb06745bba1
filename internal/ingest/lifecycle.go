package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/mkaneko/worksync/internal/metrics"
	"github.com/mkaneko/worksync/internal/repository"
)

// Lifecycle gates the initial full ingestion. The mirror counts as
// initialized once it holds at least one work.
type Lifecycle struct {
	works        repository.WorkRepository
	orchestrator *Orchestrator
}

func NewLifecycle(works repository.WorkRepository, orchestrator *Orchestrator) *Lifecycle {
	return &Lifecycle{
		works:        works,
		orchestrator: orchestrator,
	}
}

func (l *Lifecycle) IsInitialized(ctx context.Context) (bool, error) {
	count, err := l.works.CountWorks(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count works: %w", err)
	}
	metrics.UpdateWorksMirrored(count)
	return count > 0, nil
}

// EnsureInitialized runs a full ingestion pass when the mirror is empty.
// Calling it on a populated mirror is a no-op, so a crashed first run can be
// retried safely.
func (l *Lifecycle) EnsureInitialized(ctx context.Context) (*Summary, error) {
	initialized, err := l.works.CountWorks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count works: %w", err)
	}
	if initialized > 0 {
		log.Printf("mirror already initialized with %d works, skipping seed run", initialized)
		return nil, nil
	}

	log.Println("mirror empty, running initial ingestion")
	return l.orchestrator.Run(ctx)
}
