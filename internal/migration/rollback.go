package migration

import (
	"context"
	"fmt"
	"log"
)

// RollbackResult reports how many documents each collection got back.
type RollbackResult struct {
	Restored map[string]int `json:"restored"`
	Batches  int            `json:"batches"`
	DryRun   bool           `json:"dry_run"`
}

// RollbackService restores collections from a backup taken before the
// migration, using the same batched writes as Execute.
type RollbackService struct {
	store    Store
	dir      string
	backupID string
	cfg      Config
}

func NewRollbackService(store Store, dir, backupID string, cfg Config) (*RollbackService, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if backupID == "" {
		return nil, fmt.Errorf("rollback requires a backup id")
	}
	return &RollbackService{
		store:    store,
		dir:      dir,
		backupID: backupID,
		cfg:      cfg,
	}, nil
}

// Run restores every configured collection from the backup. The backup must
// cover each one; a collection missing from the manifest aborts before any
// write. Dry run reads the backup and reports counts without restoring.
func (s *RollbackService) Run(ctx context.Context) (*RollbackResult, error) {
	manifest, err := LoadManifest(s.dir, s.backupID)
	if err != nil {
		return nil, err
	}

	for _, collection := range s.cfg.Collections {
		if _, ok := manifest.Collections[collection]; !ok {
			return nil, fmt.Errorf("backup %s does not cover collection %s", s.backupID, collection)
		}
	}

	result := &RollbackResult{
		Restored: make(map[string]int),
		DryRun:   s.cfg.DryRun,
	}

	for _, collection := range s.cfg.Collections {
		docs, err := loadCollectionFile(s.dir, s.backupID, collection)
		if err != nil {
			return nil, err
		}
		result.Restored[collection] = len(docs)

		if s.cfg.DryRun {
			log.Printf("dry run: would restore %d documents to %s", len(docs), collection)
			continue
		}

		for _, batch := range splitBatches(docs, s.cfg.batchSize()) {
			if err := s.store.UpdateBatch(ctx, collection, batch); err != nil {
				return nil, fmt.Errorf("failed to restore batch for %s: %w", collection, err)
			}
			result.Batches++
		}
		log.Printf("restored %d documents to %s", len(docs), collection)
	}

	return result, nil
}
