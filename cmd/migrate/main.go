package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mkaneko/worksync/internal/migration"
	"github.com/mkaneko/worksync/internal/repository"
)

// namedTransforms are the migrations this binary knows how to run.
var namedTransforms = map[string]migration.Transform{
	"locale_price_map": localePriceMapTransform,
}

var namedValidators = map[string]migration.Validator{
	"locale_price_map": localePriceMapValidator,
}

func main() {
	var (
		action      = flag.String("action", "", "backup | execute | validate | rollback")
		collections = flag.String("collections", "", "comma-separated collection names")
		dryRun      = flag.Bool("dry-run", false, "read everything, commit nothing")
		backupDir   = flag.String("backup-dir", "./backups", "directory for backup snapshots")
		backupID    = flag.String("backup-id", "", "backup to restore (rollback only)")
		name        = flag.String("migration", "locale_price_map", "named migration to run")
	)
	flag.Parse()

	if *action == "" || *collections == "" {
		flag.Usage()
		os.Exit(2)
	}

	postgresDSN := os.Getenv("POSTGRES_DSN")
	if postgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	db, err := repository.NewDB(postgresDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}()

	cfg := migration.Config{
		Collections: strings.Split(*collections, ","),
		DryRun:      *dryRun,
	}
	store := migration.NewPostgresDocStore(db)

	ctx := context.Background()
	switch *action {
	case "backup":
		svc, err := migration.NewBackupService(store, *backupDir, cfg)
		if err != nil {
			log.Fatal(err)
		}
		manifest, err := svc.Run(ctx)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("backup %s complete: %v", manifest.ID, manifest.Collections)

	case "execute":
		transform, ok := namedTransforms[*name]
		if !ok {
			log.Fatalf("unknown migration %q", *name)
		}
		svc, err := migration.NewExecuteService(store, transform, cfg)
		if err != nil {
			log.Fatal(err)
		}
		result, err := svc.Run(ctx)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("execute complete (dry-run=%v): scanned=%v modified=%v batches=%d",
			result.DryRun, result.Scanned, result.Modified, result.Batches)

	case "validate":
		validator, ok := namedValidators[*name]
		if !ok {
			log.Fatalf("unknown migration %q", *name)
		}
		svc, err := migration.NewValidateService(store, validator, cfg)
		if err != nil {
			log.Fatal(err)
		}
		result, err := svc.Run(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if !result.Valid() {
			for _, v := range result.Violations {
				log.Printf("violation %s/%s: %s", v.Collection, v.DocumentID, v.Detail)
			}
			log.Fatalf("validation failed with %d violations", len(result.Violations))
		}
		log.Printf("validation passed: %v", result.Checked)

	case "rollback":
		svc, err := migration.NewRollbackService(store, *backupDir, *backupID, cfg)
		if err != nil {
			log.Fatal(err)
		}
		result, err := svc.Run(ctx)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("rollback complete (dry-run=%v): restored=%v", result.DryRun, result.Restored)

	default:
		log.Fatalf("unknown action %q", *action)
	}
}

// localePriceMapTransform lifts legacy scalar locale price fields
// (price_usd, price_eur, ...) into the locale_price map shape.
func localePriceMapTransform(doc migration.Document) (migration.Document, bool, error) {
	legacy := map[string]string{
		"price_usd": "USD",
		"price_eur": "EUR",
		"price_cny": "CNY",
		"price_twd": "TWD",
		"price_krw": "KRW",
	}

	localePrice, _ := doc.Data["locale_price"].(map[string]any)
	modified := false
	for field, currency := range legacy {
		raw, exists := doc.Data[field]
		if !exists {
			continue
		}
		price, ok := raw.(float64)
		if !ok {
			return doc, false, fmt.Errorf("field %s is not a number", field)
		}
		if localePrice == nil {
			localePrice = make(map[string]any)
		}
		localePrice[currency] = price
		delete(doc.Data, field)
		modified = true
	}

	if modified {
		doc.Data["locale_price"] = localePrice
	}
	return doc, modified, nil
}

func localePriceMapValidator(doc migration.Document) error {
	for _, field := range []string{"price_usd", "price_eur", "price_cny", "price_twd", "price_krw"} {
		if _, exists := doc.Data[field]; exists {
			return fmt.Errorf("legacy field %s still present", field)
		}
	}
	if raw, exists := doc.Data["locale_price"]; exists {
		if _, ok := raw.(map[string]any); !ok {
			return errors.New("locale_price is not a map")
		}
	}
	return nil
}
