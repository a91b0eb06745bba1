package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/mkaneko/worksync/internal/work"
)

// defaultHistoryLimit bounds a history listing when the caller passes no
// explicit limit.
const defaultHistoryLimit = 365

const upsertWorkQuery = `
	INSERT INTO works (
		id, title, circle, genres, price, official_price, discount_rate,
		campaign_id, locale_prices, locale_official_prices, on_sale,
		registered_at, updated_at, last_fetched_at, source
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		circle = EXCLUDED.circle,
		genres = EXCLUDED.genres,
		price = EXCLUDED.price,
		official_price = EXCLUDED.official_price,
		discount_rate = EXCLUDED.discount_rate,
		campaign_id = EXCLUDED.campaign_id,
		locale_prices = EXCLUDED.locale_prices,
		locale_official_prices = EXCLUDED.locale_official_prices,
		on_sale = EXCLUDED.on_sale,
		registered_at = EXCLUDED.registered_at,
		updated_at = EXCLUDED.updated_at,
		last_fetched_at = EXCLUDED.last_fetched_at,
		source = EXCLUDED.source
`

const upsertSnapshotQuery = `
	INSERT INTO price_history (
		work_id, date, price, official_price, locale_price,
		locale_official_price, discount_rate, campaign_id, captured_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (work_id, date) DO UPDATE SET
		price = EXCLUDED.price,
		official_price = EXCLUDED.official_price,
		locale_price = EXCLUDED.locale_price,
		locale_official_price = EXCLUDED.locale_official_price,
		discount_rate = EXCLUDED.discount_rate,
		campaign_id = EXCLUDED.campaign_id,
		captured_at = EXCLUDED.captured_at
`

// NewDB opens and verifies a PostgreSQL connection with the pool settings
// shared by every store.
func NewDB(connectionString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

type PostgresWorkRepository struct {
	db *sql.DB
}

func NewPostgresWorkRepository(connectionString string) (*PostgresWorkRepository, error) {
	db, err := NewDB(connectionString)
	if err != nil {
		return nil, err
	}
	return &PostgresWorkRepository{db: db}, nil
}

// NewPostgresWorkRepositoryWithDB wraps an existing connection, letting the
// work and failure stores share one pool.
func NewPostgresWorkRepositoryWithDB(db *sql.DB) *PostgresWorkRepository {
	return &PostgresWorkRepository{db: db}
}

func workUpsertArgs(rec *work.Record) ([]any, error) {
	genres, err := json.Marshal(rec.Genres)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal genres: %w", err)
	}
	localePrices, err := json.Marshal(rec.LocalePrices)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal locale prices: %w", err)
	}
	localeOfficial, err := json.Marshal(rec.LocaleOfficialPrices)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal locale official prices: %w", err)
	}

	return []any{
		rec.ID, rec.Title, rec.Circle, genres, rec.Price, rec.OfficialPrice,
		rec.DiscountRate, rec.CampaignID, localePrices, localeOfficial,
		rec.OnSale, rec.RegisteredAt, rec.UpdatedAt, rec.LastFetchedAt, rec.Source,
	}, nil
}

func snapshotUpsertArgs(snap *work.PriceSnapshot) ([]any, error) {
	localePrice, err := json.Marshal(snap.LocalePrice)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal locale price: %w", err)
	}
	localeOfficial, err := json.Marshal(snap.LocaleOfficialPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal locale official price: %w", err)
	}

	return []any{
		snap.WorkID, snap.Date, snap.Price, snap.OfficialPrice,
		localePrice, localeOfficial, snap.DiscountRate, snap.CampaignID, snap.CapturedAt,
	}, nil
}

func (r *PostgresWorkRepository) UpsertWork(ctx context.Context, rec *work.Record) error {
	args, err := workUpsertArgs(rec)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, upsertWorkQuery, args...)
	return err
}

func (r *PostgresWorkRepository) GetWork(ctx context.Context, workID string) (*work.Record, error) {
	query := `
		SELECT id, title, circle, genres, price, official_price, discount_rate,
		       campaign_id, locale_prices, locale_official_prices, on_sale,
		       registered_at, updated_at, last_fetched_at, source
		FROM works WHERE id = $1
	`

	var (
		rec            work.Record
		genres         []byte
		localePrices   []byte
		localeOfficial []byte
	)
	err := r.db.QueryRowContext(ctx, query, workID).Scan(
		&rec.ID, &rec.Title, &rec.Circle, &genres, &rec.Price, &rec.OfficialPrice,
		&rec.DiscountRate, &rec.CampaignID, &localePrices, &localeOfficial,
		&rec.OnSale, &rec.RegisteredAt, &rec.UpdatedAt, &rec.LastFetchedAt, &rec.Source,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("work %s: %w", workID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(genres, &rec.Genres); err != nil {
		return nil, fmt.Errorf("failed to unmarshal genres: %w", err)
	}
	if err := json.Unmarshal(localePrices, &rec.LocalePrices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal locale prices: %w", err)
	}
	if err := json.Unmarshal(localeOfficial, &rec.LocaleOfficialPrices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal locale official prices: %w", err)
	}

	return &rec, nil
}

func (r *PostgresWorkRepository) UpsertSnapshot(ctx context.Context, snap *work.PriceSnapshot) error {
	args, err := snapshotUpsertArgs(snap)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, upsertSnapshotQuery, args...)
	return err
}

func (r *PostgresWorkRepository) GetSnapshot(ctx context.Context, workID, date string) (*work.PriceSnapshot, error) {
	query := `
		SELECT work_id, date, price, official_price, locale_price,
		       locale_official_price, discount_rate, campaign_id, captured_at
		FROM price_history WHERE work_id = $1 AND date = $2
	`

	var (
		snap           work.PriceSnapshot
		localePrice    []byte
		localeOfficial []byte
	)
	err := r.db.QueryRowContext(ctx, query, workID, date).Scan(
		&snap.WorkID, &snap.Date, &snap.Price, &snap.OfficialPrice,
		&localePrice, &localeOfficial, &snap.DiscountRate, &snap.CampaignID, &snap.CapturedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(localePrice, &snap.LocalePrice); err != nil {
		return nil, fmt.Errorf("failed to unmarshal locale price: %w", err)
	}
	if err := json.Unmarshal(localeOfficial, &snap.LocaleOfficialPrice); err != nil {
		return nil, fmt.Errorf("failed to unmarshal locale official price: %w", err)
	}

	return &snap, nil
}

func (r *PostgresWorkRepository) ListSnapshots(ctx context.Context, workID string, limit int) ([]work.PriceSnapshot, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `
		SELECT work_id, date, price, official_price, locale_price,
		       locale_official_price, discount_rate, campaign_id, captured_at
		FROM price_history WHERE work_id = $1
		ORDER BY date DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, workID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var snaps []work.PriceSnapshot
	for rows.Next() {
		var (
			snap           work.PriceSnapshot
			localePrice    []byte
			localeOfficial []byte
		)
		if err := rows.Scan(
			&snap.WorkID, &snap.Date, &snap.Price, &snap.OfficialPrice,
			&localePrice, &localeOfficial, &snap.DiscountRate, &snap.CampaignID, &snap.CapturedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(localePrice, &snap.LocalePrice); err != nil {
			return nil, fmt.Errorf("failed to unmarshal locale price: %w", err)
		}
		if err := json.Unmarshal(localeOfficial, &snap.LocaleOfficialPrice); err != nil {
			return nil, fmt.Errorf("failed to unmarshal locale official price: %w", err)
		}
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}

func (r *PostgresWorkRepository) CountWorks(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM works`).Scan(&count)
	return count, err
}

func (r *PostgresWorkRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresWorkRepository) Close() error {
	return r.db.Close()
}

type PostgresFailureRepository struct {
	db *sql.DB
}

func NewPostgresFailureRepository(connectionString string) (*PostgresFailureRepository, error) {
	db, err := NewDB(connectionString)
	if err != nil {
		return nil, err
	}
	return &PostgresFailureRepository{db: db}, nil
}

func NewPostgresFailureRepositoryWithDB(db *sql.DB) *PostgresFailureRepository {
	return &PostgresFailureRepository{db: db}
}

func (r *PostgresFailureRepository) RecordFailure(ctx context.Context, workID string, reason FailureReason, detail string) error {
	query := `
		INSERT INTO work_failures (
			work_id, reason, attempt_count, error_detail,
			first_failed_at, last_failed_at, recovered
		) VALUES ($1, $2, 1, $3, NOW(), NOW(), FALSE)
		ON CONFLICT (work_id) DO UPDATE SET
			attempt_count = work_failures.attempt_count + 1,
			reason = EXCLUDED.reason,
			error_detail = EXCLUDED.error_detail,
			last_failed_at = NOW(),
			recovered = FALSE,
			recovered_at = NULL
	`
	_, err := r.db.ExecContext(ctx, query, workID, reason, detail)
	return err
}

func (r *PostgresFailureRepository) MarkRecovered(ctx context.Context, workID string) error {
	query := `
		UPDATE work_failures
		SET recovered = TRUE,
		    recovered_at = NOW()
		WHERE work_id = $1 AND NOT recovered
	`
	_, err := r.db.ExecContext(ctx, query, workID)
	return err
}

func (r *PostgresFailureRepository) GetFailure(ctx context.Context, workID string) (*FailureRecord, error) {
	query := `
		SELECT work_id, reason, attempt_count, COALESCE(error_detail, ''),
		       first_failed_at, last_failed_at, recovered, recovered_at
		FROM work_failures WHERE work_id = $1
	`

	var rec FailureRecord
	err := r.db.QueryRowContext(ctx, query, workID).Scan(
		&rec.WorkID, &rec.Reason, &rec.AttemptCount, &rec.ErrorDetail,
		&rec.FirstFailedAt, &rec.LastFailedAt, &rec.Recovered, &rec.RecoveredAt,
	)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// Stats reads the aggregate directly from the store on every call; nothing
// is cached, so total == recovered + unrecovered always reflects current rows.
func (r *PostgresFailureRepository) Stats(ctx context.Context) (FailureStats, error) {
	stats := FailureStats{FailureReasons: make(map[FailureReason]int)}

	totalsQuery := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE recovered),
			COUNT(*) FILTER (WHERE NOT recovered)
		FROM work_failures
	`
	err := r.db.QueryRowContext(ctx, totalsQuery).Scan(
		&stats.TotalFailedWorks, &stats.RecoveredWorks, &stats.UnrecoveredWorks,
	)
	if err != nil {
		return FailureStats{}, err
	}

	reasonsQuery := `
		SELECT reason, COUNT(*)
		FROM work_failures
		GROUP BY reason
		ORDER BY COUNT(*) DESC
	`
	rows, err := r.db.QueryContext(ctx, reasonsQuery)
	if err != nil {
		return FailureStats{}, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("failed to close rows: %v", closeErr)
		}
	}()

	for rows.Next() {
		var reason FailureReason
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return FailureStats{}, err
		}
		stats.FailureReasons[reason] = count
	}

	return stats, rows.Err()
}

func (r *PostgresFailureRepository) Unrecovered(ctx context.Context, minAttempts, limit int) ([]FailureRecord, error) {
	query := `
		SELECT work_id, reason, attempt_count, COALESCE(error_detail, ''),
		       first_failed_at, last_failed_at, recovered, recovered_at
		FROM work_failures
		WHERE NOT recovered AND attempt_count >= $1
		ORDER BY last_failed_at ASC
	`
	args := []any{minAttempts}
	// A limit of zero or less means no cap.
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("failed to close rows: %v", closeErr)
		}
	}()

	var records []FailureRecord
	for rows.Next() {
		var rec FailureRecord
		if err := rows.Scan(
			&rec.WorkID, &rec.Reason, &rec.AttemptCount, &rec.ErrorDetail,
			&rec.FirstFailedAt, &rec.LastFailedAt, &rec.Recovered, &rec.RecoveredAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *PostgresFailureRepository) RecoveredSince(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM work_failures
		WHERE recovered AND recovered_at >= $1
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, since).Scan(&count)
	return count, err
}

func (r *PostgresFailureRepository) DeleteRecoveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM work_failures
		WHERE recovered AND recovered_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PostgresFailureRepository) Close() error {
	return r.db.Close()
}
