// internal/storage/postgres.go
// PostgreSQL implementation of the Store interface.
// This implementation is intended for production use with persistent data storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgres provides persistent storage for submissions.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
// Parameters:
//   - dsn: Database connection string in PostgreSQL format
//
// Returns:
//   - Store: Implementation of the storage interface
//   - error: Any error that occurred during initialization
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	// Establish connection with timeout
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates the submissions table and its indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS submissions (
		    id BIGSERIAL PRIMARY KEY,
		    username TEXT NOT NULL,
		    email TEXT NOT NULL,
		    tags TEXT NOT NULL,
		    location TEXT NOT NULL DEFAULT '',
		    file_name TEXT NOT NULL,
		    checksum TEXT NOT NULL UNIQUE,           -- Metadata fingerprint
		    image_url TEXT,                          -- NULL until the upload completes
		    approved BOOLEAN NOT NULL DEFAULT FALSE,
		    uploaded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    lease_until TIMESTAMP WITH TIME ZONE,   -- Reservation lease while uploading
		    lease_token TEXT NOT NULL DEFAULT ''    -- Holder of the reservation
		);

		ALTER TABLE submissions ADD COLUMN IF NOT EXISTS lease_token TEXT NOT NULL DEFAULT '';

		CREATE INDEX IF NOT EXISTS idx_submissions_published ON submissions(id DESC) WHERE approved AND image_url IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_submissions_orphans ON submissions(id DESC) WHERE image_url IS NULL;
	`
	_, err := db.Exec(ctx, schema)
	return err
}

const submissionColumns = `id, username, email, tags, location, file_name, checksum, image_url, approved, uploaded_at, lease_until, lease_token`

// Close closes the database connection pool
func (p *postgres) Close() error {
	p.db.Close()
	return nil
}

func (p *postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func scanSubmission(row pgx.Row) (model.Submission, error) {
	var s model.Submission
	err := row.Scan(&s.ID, &s.Username, &s.Email, &s.Tags, &s.Location, &s.FileName,
		&s.Checksum, &s.ImageURL, &s.Approved, &s.UploadedAt, &s.LeaseUntil, &s.LeaseToken)
	return s, err
}

func (p *postgres) querySubmissions(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	out := make([]model.Submission, 0)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submissions: %w", err)
	}
	return out, nil
}

func (p *postgres) FindByChecksum(ctx context.Context, checksum string) (*model.Submission, error) {
	s, err := scanSubmission(p.db.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE checksum = $1`, checksum))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}
	return &s, nil
}

func (p *postgres) ReserveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error) {
	query := `INSERT INTO submissions (username, email, tags, location, file_name, checksum, lease_until, lease_token)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING ` + submissionColumns

	s, err := scanSubmission(p.db.QueryRow(ctx, query,
		sub.Username, sub.Email, sub.Tags, sub.Location, sub.FileName, sub.Checksum, sub.LeaseUntil, sub.LeaseToken))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Submission{}, ErrConflict
		}
		return model.Submission{}, fmt.Errorf("failed to reserve submission: %w", err)
	}
	return s, nil
}

func (p *postgres) ReclaimReservation(ctx context.Context, id int64, now time.Time, claim model.Submission) error {
	result, err := p.db.Exec(ctx,
		`UPDATE submissions SET email = $1, tags = $2, lease_until = $3, lease_token = $4
		 WHERE id = $5 AND image_url IS NULL AND (lease_until IS NULL OR lease_until <= $6)`,
		claim.Email, claim.Tags, claim.LeaseUntil, claim.LeaseToken, id, now)
	if err != nil {
		return fmt.Errorf("failed to reclaim reservation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return p.missingOr(ctx, id, ErrConflict)
	}
	return nil
}

func (p *postgres) ReleaseReservation(ctx context.Context, id int64, token string) error {
	result, err := p.db.Exec(ctx,
		`UPDATE submissions SET lease_until = NULL WHERE id = $1 AND image_url IS NULL AND lease_token = $2`, id, token)
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return p.missingOr(ctx, id, nil)
	}
	return nil
}

func (p *postgres) SetImageURL(ctx context.Context, id int64, token, imageURL string) error {
	result, err := p.db.Exec(ctx,
		`UPDATE submissions SET image_url = $1, lease_until = NULL
		 WHERE id = $2 AND image_url IS NULL AND lease_token = $3`, imageURL, id, token)
	if err != nil {
		return fmt.Errorf("failed to set image url: %w", err)
	}
	if result.RowsAffected() == 0 {
		return p.missingOr(ctx, id, ErrConflict)
	}
	return nil
}

// missingOr returns ErrNotFound when the row does not exist, otherwise fallback.
func (p *postgres) missingOr(ctx context.Context, id int64, fallback error) error {
	if _, err := p.GetSubmission(ctx, id); err != nil {
		return err
	}
	return fallback
}

func (p *postgres) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	s, err := scanSubmission(p.db.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &s, nil
}

func (p *postgres) ListPublished(ctx context.Context, q model.PublishedQuery) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE approved AND image_url IS NOT NULL
	            AND ($1 = '' OR tags ILIKE $2)
	            AND ($3 = '' OR location ILIKE $4)
	          ORDER BY id DESC`
	args := []any{q.Theme, likePattern(q.Theme), q.Location, likePattern(q.Location)}
	if q.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, q.Limit)
	}
	return p.querySubmissions(ctx, query, args...)
}

func (p *postgres) ListPending(ctx context.Context) ([]model.Submission, error) {
	return p.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE NOT approved AND image_url IS NOT NULL ORDER BY id DESC`)
}

func (p *postgres) ListOrphans(ctx context.Context, now time.Time) ([]model.Submission, error) {
	return p.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE image_url IS NULL AND (lease_until IS NULL OR lease_until <= $1) ORDER BY id DESC`, now)
}

func (p *postgres) Approve(ctx context.Context, id int64) (model.Submission, error) {
	s, err := scanSubmission(p.db.QueryRow(ctx,
		`UPDATE submissions SET approved = TRUE WHERE id = $1 AND image_url IS NOT NULL
		 RETURNING `+submissionColumns, id))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Submission{}, fmt.Errorf("failed to approve submission: %w", err)
	}
	return model.Submission{}, p.missingOr(ctx, id, ErrNotMaterialized)
}
