package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialects understood by SQLRepo.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// SQLRepo implements Repo over database/sql for Postgres (pgx) and SQLite
// (modernc). Queries are written with '?' placeholders and rebound per dialect.
type SQLRepo struct {
	DB      *sql.DB
	Dialect string
}

// NewPGRepo returns a Repo backed by Postgres.
func NewPGRepo(db *sql.DB) *SQLRepo { return &SQLRepo{DB: db, Dialect: DialectPostgres} }

// NewSQLiteRepo returns a Repo backed by SQLite.
func NewSQLiteRepo(db *sql.DB) *SQLRepo { return &SQLRepo{DB: db, Dialect: DialectSQLite} }

const imageColumns = `id, generated_filename, original_filename, storage_provider, storage_key,
       mime_type, width, height, size_bytes, status, created_at`

const analysisColumns = `id, image_id, raw_text, fields, parse_status, model_identifier, created_at`

// InsertImage inserts a new stored image row.
func (r *SQLRepo) InsertImage(ctx context.Context, img StoredImage) error {
	const query = `
INSERT INTO stored_images (` + imageColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.DB.ExecContext(ctx, r.rebind(query),
		img.ID,
		img.GeneratedFilename,
		img.OriginalFilename,
		img.StorageProvider,
		img.StoragePath,
		img.MimeType,
		img.Width,
		img.Height,
		img.SizeBytes,
		img.Status,
		img.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert image: %w", ErrWriteFailure, err)
	}
	return nil
}

// UpdateImageStatus sets the status of an existing image.
func (r *SQLRepo) UpdateImageStatus(ctx context.Context, imageID uuid.UUID, status string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrWriteFailure, status)
	}
	const query = `UPDATE stored_images SET status = ? WHERE id = ?`
	res, err := r.DB.ExecContext(ctx, r.rebind(query), status, imageID)
	if err != nil {
		return fmt.Errorf("%w: update image status: %w", ErrWriteFailure, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAnalysis verifies the image exists, appends the record and marks
// the image ANALYZED in one transaction.
func (r *SQLRepo) InsertAnalysis(ctx context.Context, rec AnalysisRecord) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("%w: marshal fields: %w", ErrWriteFailure, err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrWriteFailure, err)
	}
	defer tx.Rollback()

	lookup := `SELECT id FROM stored_images WHERE id = ?`
	if r.Dialect == DialectPostgres {
		lookup += ` FOR UPDATE`
	}
	var existing uuid.UUID
	if err := tx.QueryRowContext(ctx, r.rebind(lookup), rec.ImageID).Scan(&existing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrphanRecord
		}
		return fmt.Errorf("%w: lookup image: %w", ErrWriteFailure, err)
	}

	const insert = `
INSERT INTO analysis_records (` + analysisColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, r.rebind(insert),
		rec.ID,
		rec.ImageID,
		rec.RawText,
		string(fields),
		rec.ParseStatus,
		rec.ModelIdentifier,
		rec.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("%w: insert analysis: %w", ErrWriteFailure, err)
	}

	const update = `UPDATE stored_images SET status = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(update), StatusAnalyzed, rec.ImageID); err != nil {
		return fmt.Errorf("%w: mark analyzed: %w", ErrWriteFailure, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrWriteFailure, err)
	}
	return nil
}

// GetImage returns an image by ID.
func (r *SQLRepo) GetImage(ctx context.Context, imageID uuid.UUID) (StoredImage, error) {
	query := `SELECT ` + imageColumns + ` FROM stored_images WHERE id = ?`
	img, err := scanImage(r.DB.QueryRowContext(ctx, r.rebind(query), imageID))
	if errors.Is(err, sql.ErrNoRows) {
		return StoredImage{}, ErrNotFound
	}
	return img, err
}

// ListImages returns images newest first, with limit/offset.
func (r *SQLRepo) ListImages(ctx context.Context, limit, offset int) ([]StoredImage, error) {
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + imageColumns + ` FROM stored_images ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	} else if offset > 0 {
		// sqlite requires LIMIT before OFFSET; -1 means unbounded there and
		// ALL is the Postgres spelling.
		if r.Dialect == DialectPostgres {
			query += ` OFFSET ?`
		} else {
			query += ` LIMIT -1 OFFSET ?`
		}
		args = append(args, offset)
	}

	rows, err := r.DB.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StoredImage{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// GetAnalysisForImage returns the most recent analysis for the image.
func (r *SQLRepo) GetAnalysisForImage(ctx context.Context, imageID uuid.UUID) (AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analysis_records WHERE image_id = ? ORDER BY ` + r.analysisOrder() + ` LIMIT 1`
	rec, err := scanAnalysis(r.DB.QueryRowContext(ctx, r.rebind(query), imageID))
	if errors.Is(err, sql.ErrNoRows) {
		return AnalysisRecord{}, ErrNotFound
	}
	return rec, err
}

// ListAnalysesForImage returns every analysis of the image, newest first.
func (r *SQLRepo) ListAnalysesForImage(ctx context.Context, imageID uuid.UUID) ([]AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analysis_records WHERE image_id = ? ORDER BY ` + r.analysisOrder()
	rows, err := r.DB.QueryContext(ctx, r.rebind(query), imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AnalysisRecord{}
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats counts images by status and total analyses.
func (r *SQLRepo) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM stored_images GROUP BY status`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		s.TotalImages += n
		switch status {
		case StatusPending:
			s.PendingImages = n
		case StatusAnalyzed:
			s.AnalyzedImages = n
		case StatusFailed:
			s.FailedImages = n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_records`).Scan(&s.TotalAnalyses); err != nil {
		return Stats{}, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (StoredImage, error) {
	var img StoredImage
	var createdAt time.Time
	if err := row.Scan(
		&img.ID,
		&img.GeneratedFilename,
		&img.OriginalFilename,
		&img.StorageProvider,
		&img.StoragePath,
		&img.MimeType,
		&img.Width,
		&img.Height,
		&img.SizeBytes,
		&img.Status,
		&createdAt,
	); err != nil {
		return StoredImage{}, err
	}
	img.CreatedAt = createdAt.UTC()
	return img, nil
}

func scanAnalysis(row rowScanner) (AnalysisRecord, error) {
	var rec AnalysisRecord
	var fields []byte
	var createdAt time.Time
	if err := row.Scan(
		&rec.ID,
		&rec.ImageID,
		&rec.RawText,
		&fields,
		&rec.ParseStatus,
		&rec.ModelIdentifier,
		&createdAt,
	); err != nil {
		return AnalysisRecord{}, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return AnalysisRecord{}, fmt.Errorf("decode fields for analysis %s: %w", rec.ID, err)
		}
	}
	rec.CreatedAt = createdAt.UTC()
	return rec, nil
}

// analysisOrder sorts newest first. Equal timestamps fall back to insertion
// order: the seq column on Postgres, the implicit rowid on SQLite.
func (r *SQLRepo) analysisOrder() string {
	if r.Dialect == DialectPostgres {
		return "created_at DESC, seq DESC"
	}
	return "created_at DESC, rowid DESC"
}

// rebind rewrites '?' placeholders to $n for Postgres.
func (r *SQLRepo) rebind(query string) string {
	if r.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

var _ Repo = (*SQLRepo)(nil)
