// internal/storage/gorm.go
// SQLite implementation of the Store interface built on GORM.
// Suited to single-node deployments that want persistence without a database server.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danki-amsterdam/witvis/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// submissionRow is the GORM mapping of the submissions table.
type submissionRow struct {
	ID         int64   `gorm:"primaryKey;autoIncrement"`
	Username   string  `gorm:"not null"`
	Email      string  `gorm:"not null"`
	Tags       string  `gorm:"not null"`
	Location   string  `gorm:"not null;default:''"`
	FileName   string  `gorm:"not null"`
	Checksum   string  `gorm:"not null;uniqueIndex"`
	ImageURL   *string `gorm:"index"`
	Approved   bool    `gorm:"not null;default:false"`
	UploadedAt time.Time
	LeaseUntil *time.Time
	LeaseToken string `gorm:"not null;default:''"`
}

func (submissionRow) TableName() string { return "submissions" }

func (r submissionRow) toModel() model.Submission {
	return model.Submission{
		ID:         r.ID,
		Username:   r.Username,
		Email:      r.Email,
		Tags:       r.Tags,
		Location:   r.Location,
		FileName:   r.FileName,
		Checksum:   r.Checksum,
		ImageURL:   r.ImageURL,
		Approved:   r.Approved,
		UploadedAt: r.UploadedAt,
		LeaseUntil: r.LeaseUntil,
		LeaseToken: r.LeaseToken,
	}
}

// gormStore persists submissions in a SQLite file through GORM.
type gormStore struct {
	db *gorm.DB
}

// NewSQLite opens (or creates) the SQLite database at path and migrates the schema.
func NewSQLite(path string) (Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Build DSN with recommended SQLite pragmas
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.AutoMigrate(&submissionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate SQLite schema: %w", err)
	}

	return &gormStore{db: db}, nil
}

func (g *gormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (g *gormStore) first(ctx context.Context, query string, args ...any) (*model.Submission, error) {
	var row submissionRow
	if err := g.db.WithContext(ctx).Where(query, args...).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	sub := row.toModel()
	return &sub, nil
}

func (g *gormStore) FindByChecksum(ctx context.Context, checksum string) (*model.Submission, error) {
	return g.first(ctx, "checksum = ?", checksum)
}

func (g *gormStore) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	return g.first(ctx, "id = ?", id)
}

func (g *gormStore) ReserveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error) {
	row := submissionRow{
		Username:   sub.Username,
		Email:      sub.Email,
		Tags:       sub.Tags,
		Location:   sub.Location,
		FileName:   sub.FileName,
		Checksum:   sub.Checksum,
		UploadedAt: time.Now().UTC(),
		LeaseUntil: utcPtr(sub.LeaseUntil),
		LeaseToken: sub.LeaseToken,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.Submission{}, ErrConflict
		}
		return model.Submission{}, fmt.Errorf("failed to reserve submission: %w", err)
	}
	return row.toModel(), nil
}

// utcPtr normalizes a lease so SQLite's text timestamps compare in order.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (g *gormStore) ReclaimReservation(ctx context.Context, id int64, now time.Time, claim model.Submission) error {
	result := g.db.WithContext(ctx).Model(&submissionRow{}).
		Where("id = ? AND image_url IS NULL AND (lease_until IS NULL OR lease_until <= ?)", id, now.UTC()).
		Updates(map[string]any{
			"email":       claim.Email,
			"tags":        claim.Tags,
			"lease_until": utcPtr(claim.LeaseUntil),
			"lease_token": claim.LeaseToken,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reclaim reservation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return g.missingOr(ctx, id, ErrConflict)
	}
	return nil
}

func (g *gormStore) ReleaseReservation(ctx context.Context, id int64, token string) error {
	result := g.db.WithContext(ctx).Model(&submissionRow{}).
		Where("id = ? AND image_url IS NULL AND lease_token = ?", id, token).
		Update("lease_until", nil)
	if result.Error != nil {
		return fmt.Errorf("failed to release reservation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return g.missingOr(ctx, id, nil)
	}
	return nil
}

func (g *gormStore) SetImageURL(ctx context.Context, id int64, token, imageURL string) error {
	result := g.db.WithContext(ctx).Model(&submissionRow{}).
		Where("id = ? AND image_url IS NULL AND lease_token = ?", id, token).
		Updates(map[string]any{"image_url": imageURL, "lease_until": nil})
	if result.Error != nil {
		return fmt.Errorf("failed to set image url: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return g.missingOr(ctx, id, ErrConflict)
	}
	return nil
}

func (g *gormStore) missingOr(ctx context.Context, id int64, fallback error) error {
	if _, err := g.GetSubmission(ctx, id); err != nil {
		return err
	}
	return fallback
}

func (g *gormStore) list(ctx context.Context, tx *gorm.DB) ([]model.Submission, error) {
	var rows []submissionRow
	if err := tx.WithContext(ctx).Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	out := make([]model.Submission, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (g *gormStore) ListPublished(ctx context.Context, q model.PublishedQuery) ([]model.Submission, error) {
	tx := g.db.Where("approved = ? AND image_url IS NOT NULL", true)
	if q.Theme != "" {
		tx = tx.Where(`LOWER(tags) LIKE ? ESCAPE '\'`, likePattern(q.Theme))
	}
	if q.Location != "" {
		tx = tx.Where(`LOWER(location) LIKE ? ESCAPE '\'`, likePattern(q.Location))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return g.list(ctx, tx)
}

func (g *gormStore) ListPending(ctx context.Context) ([]model.Submission, error) {
	return g.list(ctx, g.db.Where("approved = ? AND image_url IS NOT NULL", false))
}

func (g *gormStore) ListOrphans(ctx context.Context, now time.Time) ([]model.Submission, error) {
	return g.list(ctx, g.db.Where("image_url IS NULL AND (lease_until IS NULL OR lease_until <= ?)", now.UTC()))
}

func (g *gormStore) Approve(ctx context.Context, id int64) (model.Submission, error) {
	result := g.db.WithContext(ctx).Model(&submissionRow{}).
		Where("id = ? AND image_url IS NOT NULL", id).
		Update("approved", true)
	if result.Error != nil {
		return model.Submission{}, fmt.Errorf("failed to approve submission: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return model.Submission{}, g.missingOr(ctx, id, ErrNotMaterialized)
	}
	sub, err := g.GetSubmission(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	return *sub, nil
}
