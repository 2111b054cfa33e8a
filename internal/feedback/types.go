// Package feedback stores user verdicts on billing decisions. Reviewers
// confirm or correct the engine's Pauschale/TARDOC outcome; the records
// feed baseline curation.
package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"
)

// Feedback is one reviewer verdict on a billing analysis.
type Feedback struct {
	ID            int64     `json:"id,omitempty"`
	InputText     string    `json:"input_text"`
	InputHash     string    `json:"input_hash"`
	Lang          string    `json:"lang,omitempty"`
	SuggestedType string    `json:"suggested_type"`
	SuggestedCode string    `json:"suggested_code,omitempty"`
	UserType      string    `json:"user_type"`
	UserCode      string    `json:"user_code,omitempty"`
	UserAgreed    bool      `json:"user_agreed"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HashInput derives the dedupe key for one encounter text and language.
// Case and surrounding whitespace do not change the key.
func HashInput(inputText, lang string) string {
	norm := strings.ToLower(strings.TrimSpace(inputText)) + "|" + strings.ToLower(strings.TrimSpace(lang))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Store is the persistence surface for feedback records. A record is
// unique per (input_hash, lang); saving the same encounter again updates
// the verdict.
type Store interface {
	Save(ctx context.Context, fb *Feedback) error

	// Get returns the stored verdict for an encounter, nil when none exists.
	Get(ctx context.Context, inputHash, lang string) (*Feedback, error)

	List(ctx context.Context, limit, offset int) ([]*Feedback, error)

	Count(ctx context.Context) (int64, error)

	Delete(ctx context.Context, id int64) error

	// ExportJSON writes every record as one Export document.
	ExportJSON(ctx context.Context, w io.Writer) error

	// ImportJSON reads an Export document, skipping encounters that already
	// have a verdict.
	ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error)

	Close() error
}

// Export is the JSON interchange format for feedback dumps.
type Export struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Feedback   []*Feedback `json:"feedback"`
}
