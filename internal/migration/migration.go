// Package migration contains the schema-transition toolkit: backup, execute,
// validate, and rollback services over document collections. All four share
// the store's batched-write discipline and support dry runs.
package migration

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/mkaneko/worksync/internal/repository"
)

// MaxBatchOps mirrors the store's atomic-commit ceiling.
const MaxBatchOps = repository.MaxBatchOps

// Document is one migratable record: an ID plus its loosely typed fields.
type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// Store abstracts the collections a migration touches. UpdateBatch must be
// atomic; callers never hand it more than MaxBatchOps documents.
type Store interface {
	List(ctx context.Context, collection string) ([]Document, error)
	UpdateBatch(ctx context.Context, collection string, docs []Document) error
}

// Config is shared by every migration service. DryRun performs all reads and
// validations but commits nothing.
type Config struct {
	Collections []string
	DryRun      bool
	// BatchSize caps documents per committed batch. Zero means MaxBatchOps;
	// values above the ceiling are clamped.
	BatchSize int
}

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func (c *Config) validate() error {
	if len(c.Collections) == 0 {
		return errors.New("migration config requires at least one collection")
	}
	for _, name := range c.Collections {
		if !collectionName.MatchString(name) {
			return fmt.Errorf("invalid collection name: %q", name)
		}
	}
	return nil
}

func (c *Config) batchSize() int {
	if c.BatchSize <= 0 || c.BatchSize > MaxBatchOps {
		return MaxBatchOps
	}
	return c.BatchSize
}

// splitBatches cuts docs into slices no longer than size.
func splitBatches(docs []Document, size int) [][]Document {
	var batches [][]Document
	for len(docs) > 0 {
		n := size
		if n > len(docs) {
			n = len(docs)
		}
		batches = append(batches, docs[:n])
		docs = docs[n:]
	}
	return batches
}
