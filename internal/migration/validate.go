package migration

import (
	"context"
	"fmt"
	"log"
)

// Validator checks one migrated document against the target schema. A nil
// return means the document conforms.
type Validator func(doc Document) error

// Violation is one failed schema check.
type Violation struct {
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	Detail     string `json:"detail"`
}

type ValidateResult struct {
	Checked    map[string]int `json:"checked"`
	Violations []Violation    `json:"violations"`
}

// Valid reports whether every checked document conformed.
func (r *ValidateResult) Valid() bool {
	return len(r.Violations) == 0
}

// ValidateService re-reads migrated collections and checks new-schema
// invariants. It never writes, so dry run and real run are identical reads.
type ValidateService struct {
	store     Store
	validator Validator
	cfg       Config
}

func NewValidateService(store Store, validator Validator, cfg Config) (*ValidateService, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if validator == nil {
		return nil, fmt.Errorf("validate service requires a validator")
	}
	return &ValidateService{
		store:     store,
		validator: validator,
		cfg:       cfg,
	}, nil
}

func (s *ValidateService) Run(ctx context.Context) (*ValidateResult, error) {
	result := &ValidateResult{
		Checked: make(map[string]int),
	}

	for _, collection := range s.cfg.Collections {
		docs, err := s.store.List(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", collection, err)
		}
		result.Checked[collection] = len(docs)

		for _, doc := range docs {
			if err := s.validator(doc); err != nil {
				result.Violations = append(result.Violations, Violation{
					Collection: collection,
					DocumentID: doc.ID,
					Detail:     err.Error(),
				})
			}
		}

		log.Printf("validated %d documents in %s, %d violations so far",
			len(docs), collection, len(result.Violations))
	}

	return result, nil
}
