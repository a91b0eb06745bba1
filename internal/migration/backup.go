package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Manifest describes one backup: where it lives and what it holds.
type Manifest struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	Collections map[string]int `json:"collections"` // name -> document count
	DryRun      bool           `json:"dry_run"`
}

// BackupService snapshots collections to local JSON files before a
// migration runs.
type BackupService struct {
	store Store
	dir   string
	cfg   Config
}

func NewBackupService(store Store, dir string, cfg Config) (*BackupService, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &BackupService{
		store: store,
		dir:   dir,
		cfg:   cfg,
	}, nil
}

// Run snapshots every configured collection. In dry-run mode it reads and
// counts everything but writes no files; the manifest still reports the
// counts a real backup would have stored.
func (s *BackupService) Run(ctx context.Context) (*Manifest, error) {
	manifest := &Manifest{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now(),
		Collections: make(map[string]int),
		DryRun:      s.cfg.DryRun,
	}

	backupDir := filepath.Join(s.dir, manifest.ID)
	if !s.cfg.DryRun {
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create backup directory: %w", err)
		}
	}

	for _, collection := range s.cfg.Collections {
		docs, err := s.store.List(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s for backup: %w", collection, err)
		}
		manifest.Collections[collection] = len(docs)

		if s.cfg.DryRun {
			log.Printf("dry run: would back up %d documents from %s", len(docs), collection)
			continue
		}

		if err := writeCollectionFile(backupDir, collection, docs); err != nil {
			return nil, err
		}
		log.Printf("backed up %d documents from %s", len(docs), collection)
	}

	if !s.cfg.DryRun {
		if err := writeManifestFile(backupDir, manifest); err != nil {
			return nil, err
		}
	}

	return manifest, nil
}

// LoadManifest reads a previously written backup manifest.
func LoadManifest(dir, backupID string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, backupID, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read backup manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode backup manifest: %w", err)
	}
	return &manifest, nil
}

func loadCollectionFile(dir, backupID, collection string) ([]Document, error) {
	raw, err := os.ReadFile(filepath.Join(dir, backupID, collection+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read backup of %s: %w", collection, err)
	}

	var docs []Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode backup of %s: %w", collection, err)
	}
	return docs, nil
}

func writeCollectionFile(backupDir, collection string, docs []Document) error {
	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup of %s: %w", collection, err)
	}

	path := filepath.Join(backupDir, collection+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write backup of %s: %w", collection, err)
	}
	return nil
}

func writeManifestFile(backupDir string, manifest *Manifest) error {
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup manifest: %w", err)
	}

	path := filepath.Join(backupDir, "manifest.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write backup manifest: %w", err)
	}
	return nil
}
