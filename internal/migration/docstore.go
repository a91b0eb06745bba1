package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
)

// PostgresDocStore reads and writes collections laid out as
// (id TEXT PRIMARY KEY, doc JSONB) tables.
type PostgresDocStore struct {
	db *sql.DB
}

func NewPostgresDocStore(db *sql.DB) *PostgresDocStore {
	return &PostgresDocStore{db: db}
}

func (s *PostgresDocStore) List(ctx context.Context, collection string) ([]Document, error) {
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name: %q", collection)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, doc FROM %s ORDER BY id`, collection))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("failed to close rows: %v", closeErr)
		}
	}()

	var docs []Document
	for rows.Next() {
		var (
			doc Document
			raw []byte
		)
		if err := rows.Scan(&doc.ID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to decode document %s/%s: %w", collection, doc.ID, err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// UpdateBatch writes one batch in a single transaction.
func (s *PostgresDocStore) UpdateBatch(ctx context.Context, collection string, docs []Document) error {
	if !collectionName.MatchString(collection) {
		return fmt.Errorf("invalid collection name: %q", collection)
	}
	if len(docs) == 0 {
		return nil
	}
	if len(docs) > MaxBatchOps {
		return fmt.Errorf("batch of %d exceeds the %d-op ceiling", len(docs), MaxBatchOps)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration batch: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, collection)
	for _, doc := range docs {
		raw, err := json.Marshal(doc.Data)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("failed to roll back migration batch: %v", rbErr)
			}
			return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, doc.ID, raw); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("failed to roll back migration batch: %v", rbErr)
			}
			return fmt.Errorf("failed to write document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration batch: %w", err)
	}
	return nil
}
