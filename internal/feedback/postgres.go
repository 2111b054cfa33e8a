package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. The schema is created via
// migrations, never by the store itself.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a pooled connection from a URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save upserts the verdict for one encounter.
func (s *PostgresStore) Save(ctx context.Context, fb *Feedback) error {
	if fb.InputHash == "" {
		fb.InputHash = HashInput(fb.InputText, fb.Lang)
	}
	now := time.Now()

	query := `
		INSERT INTO feedback (
			input_text, input_hash, lang,
			suggested_type, suggested_code,
			user_type, user_code, user_agreed,
			comment, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (input_hash, lang) DO UPDATE SET
			input_text = EXCLUDED.input_text,
			suggested_type = EXCLUDED.suggested_type,
			suggested_code = EXCLUDED.suggested_code,
			user_type = EXCLUDED.user_type,
			user_code = EXCLUDED.user_code,
			user_agreed = EXCLUDED.user_agreed,
			comment = EXCLUDED.comment,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		fb.InputText,
		fb.InputHash,
		fb.Lang,
		fb.SuggestedType,
		fb.SuggestedCode,
		fb.UserType,
		fb.UserCode,
		fb.UserAgreed,
		fb.Comment,
		now,
		now,
	).Scan(&fb.ID, &fb.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}

	fb.UpdatedAt = now
	return nil
}

const pgSelectColumns = `id, input_text, input_hash, lang,
	suggested_type, suggested_code,
	user_type, user_code, user_agreed,
	comment, created_at, updated_at`

// Get retrieves the verdict for one encounter, nil when none exists.
func (s *PostgresStore) Get(ctx context.Context, inputHash, lang string) (*Feedback, error) {
	query := `
		SELECT ` + pgSelectColumns + `
		FROM feedback
		WHERE input_hash = $1 AND lang = $2
		LIMIT 1
	`

	fb := &Feedback{}
	err := s.db.QueryRowContext(ctx, query, inputHash, lang).Scan(
		&fb.ID, &fb.InputText, &fb.InputHash, &fb.Lang,
		&fb.SuggestedType, &fb.SuggestedCode,
		&fb.UserType, &fb.UserCode, &fb.UserAgreed,
		&fb.Comment, &fb.CreatedAt, &fb.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return fb, nil
}

// List returns feedback entries newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Feedback, error) {
	query := `
		SELECT ` + pgSelectColumns + `
		FROM feedback
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var result []*Feedback
	for rows.Next() {
		fb := &Feedback{}
		err := rows.Scan(
			&fb.ID, &fb.InputText, &fb.InputHash, &fb.Lang,
			&fb.SuggestedType, &fb.SuggestedCode,
			&fb.UserType, &fb.UserCode, &fb.UserAgreed,
			&fb.Comment, &fb.CreatedAt, &fb.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, fb)
	}

	return result, rows.Err()
}

// Count returns the total number of feedback entries.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return count, nil
}

// Delete removes a feedback entry by ID.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM feedback WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	return nil
}

const pgMaxExportLimit = 1000000

// ExportJSON writes every record as one Export document.
func (s *PostgresStore) ExportJSON(ctx context.Context, w io.Writer) error {
	all, err := s.List(ctx, pgMaxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}

	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Feedback:   all,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON reads an Export document. Encounters that already have a
// verdict are skipped, not overwritten.
func (s *PostgresStore) ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, fb := range export.Feedback {
		if fb.InputHash == "" {
			fb.InputHash = HashInput(fb.InputText, fb.Lang)
		}
		existing, err := s.Get(ctx, fb.InputHash, fb.Lang)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if existing != nil {
			skipped++
			continue
		}

		if err := s.Save(ctx, fb); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
