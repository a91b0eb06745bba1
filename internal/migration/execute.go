package migration

import (
	"context"
	"fmt"
	"log"
)

// Transform rewrites one document. Returning false means the document is
// already in the target shape and should not be written.
type Transform func(doc Document) (Document, bool, error)

// ExecuteResult reports what a migration pass did, or would have done under
// dry run.
type ExecuteResult struct {
	Scanned  map[string]int `json:"scanned"`
	Modified map[string]int `json:"modified"`
	Batches  int            `json:"batches"`
	DryRun   bool           `json:"dry_run"`
}

// ExecuteService applies a field transformation across collections in
// batches under the write ceiling.
type ExecuteService struct {
	store     Store
	transform Transform
	cfg       Config
}

func NewExecuteService(store Store, transform Transform, cfg Config) (*ExecuteService, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if transform == nil {
		return nil, fmt.Errorf("execute service requires a transform")
	}
	return &ExecuteService{
		store:     store,
		transform: transform,
		cfg:       cfg,
	}, nil
}

// Run transforms every configured collection. Dry run performs every read
// and every transform but commits nothing; the result still counts the
// documents that would have changed.
func (s *ExecuteService) Run(ctx context.Context) (*ExecuteResult, error) {
	result := &ExecuteResult{
		Scanned:  make(map[string]int),
		Modified: make(map[string]int),
		DryRun:   s.cfg.DryRun,
	}

	for _, collection := range s.cfg.Collections {
		docs, err := s.store.List(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", collection, err)
		}
		result.Scanned[collection] = len(docs)

		var changed []Document
		for _, doc := range docs {
			migrated, modified, err := s.transform(doc)
			if err != nil {
				return nil, fmt.Errorf("transform failed on %s/%s: %w", collection, doc.ID, err)
			}
			if modified {
				changed = append(changed, migrated)
			}
		}
		result.Modified[collection] = len(changed)

		if s.cfg.DryRun {
			log.Printf("dry run: would modify %d of %d documents in %s",
				len(changed), len(docs), collection)
			continue
		}

		for _, batch := range splitBatches(changed, s.cfg.batchSize()) {
			if err := s.store.UpdateBatch(ctx, collection, batch); err != nil {
				return nil, fmt.Errorf("failed to commit batch for %s: %w", collection, err)
			}
			result.Batches++
		}
		log.Printf("migrated %d of %d documents in %s across %d batches",
			len(changed), len(docs), collection, result.Batches)
	}

	return result, nil
}
