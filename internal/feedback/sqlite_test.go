package feedback

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_Save(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	fb := &Feedback{
		InputText:     "Hausärztliche Konsultation 17 Minuten",
		Lang:          "de",
		SuggestedType: "TARDOC",
		SuggestedCode: "CA.00.0010, CA.00.0020",
		UserType:      "TARDOC",
		UserCode:      "CA.00.0010, CA.00.0020",
		UserAgreed:    true,
		Comment:       "Mengen stimmen",
	}

	err := store.Save(ctx, fb)
	require.NoError(t, err)
	assert.NotZero(t, fb.ID, "ID should be assigned")
	assert.NotEmpty(t, fb.InputHash, "InputHash should be derived")
	assert.False(t, fb.CreatedAt.IsZero(), "CreatedAt should be set")
	assert.False(t, fb.UpdatedAt.IsZero(), "UpdatedAt should be set")
}

func TestSQLiteStore_Save_Update(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	fb := &Feedback{
		InputText:     "Geschlossene Reposition in Anästhesie",
		Lang:          "de",
		SuggestedType: "Pauschale",
		SuggestedCode: "C08.50E",
		UserType:      "Pauschale",
		UserCode:      "C08.50E",
		UserAgreed:    true,
	}
	err := store.Save(ctx, fb)
	require.NoError(t, err)
	originalID := fb.ID

	// Same encounter, revised verdict
	fb.UserType = "TARDOC"
	fb.UserAgreed = false
	fb.Comment = "Anästhesie fehlt im Bericht"

	err = store.Save(ctx, fb)
	require.NoError(t, err)
	assert.Equal(t, originalID, fb.ID, "Should update existing record")

	retrieved, err := store.Get(ctx, fb.InputHash, "de")
	require.NoError(t, err)
	assert.Equal(t, "TARDOC", retrieved.UserType)
	assert.False(t, retrieved.UserAgreed)
	assert.Equal(t, "Anästhesie fehlt im Bericht", retrieved.Comment)
}

func TestSQLiteStore_Get(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	fb := &Feedback{
		InputText:     "Bronchoskopie mit Lavage",
		Lang:          "de",
		SuggestedType: "Pauschale",
		SuggestedCode: "C03.10A",
		UserType:      "Pauschale",
		UserCode:      "C03.10A",
		UserAgreed:    true,
	}
	err := store.Save(ctx, fb)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, fb.InputHash, "de")
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, fb.InputText, retrieved.InputText)
	assert.Equal(t, "C03.10A", retrieved.UserCode)
}

func TestSQLiteStore_Get_PerLanguage(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Same text reviewed under different request languages stays separate.
	de := &Feedback{
		InputText:     "Consultation 15 minutes",
		Lang:          "de",
		SuggestedType: "TARDOC",
		UserType:      "TARDOC",
		UserAgreed:    true,
	}
	require.NoError(t, store.Save(ctx, de))

	fr := &Feedback{
		InputText:     "Consultation 15 minutes",
		Lang:          "fr",
		SuggestedType: "TARDOC",
		UserType:      "Pauschale",
		UserAgreed:    false,
	}
	require.NoError(t, store.Save(ctx, fr))

	got, err := store.Get(ctx, de.InputHash, "de")
	require.NoError(t, err)
	assert.Equal(t, "TARDOC", got.UserType)

	got, err = store.Get(ctx, fr.InputHash, "fr")
	require.NoError(t, err)
	assert.Equal(t, "Pauschale", got.UserType)
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	retrieved, err := store.Get(context.Background(), HashInput("nie gesehen", "de"), "de")
	assert.NoError(t, err)
	assert.Nil(t, retrieved, "Should return nil for not found")
}

func TestSQLiteStore_List_Pagination(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	texts := []string{
		"Konsultation A", "Konsultation B", "Konsultation C",
		"Konsultation D", "Konsultation E",
	}
	for _, text := range texts {
		fb := &Feedback{
			InputText:     text,
			Lang:          "de",
			SuggestedType: "TARDOC",
			UserType:      "TARDOC",
			UserAgreed:    true,
		}
		require.NoError(t, store.Save(ctx, fb))
		time.Sleep(10 * time.Millisecond) // Ensure different timestamps
	}

	page1, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.Equal(t, "Konsultation E", page1[0].InputText, "newest first")

	page2, err := store.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)

	page3, err := store.List(ctx, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestSQLiteStore_Count(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fb := &Feedback{
			InputText:     "Fall " + string(rune('A'+i)),
			Lang:          "de",
			SuggestedType: "TARDOC",
			UserType:      "TARDOC",
			UserAgreed:    true,
		}
		require.NoError(t, store.Save(ctx, fb))
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	fb := &Feedback{
		InputText:     "Kataraktoperation links",
		Lang:          "de",
		SuggestedType: "Pauschale",
		UserType:      "Pauschale",
		UserAgreed:    true,
	}
	require.NoError(t, store.Save(ctx, fb))

	require.NoError(t, store.Delete(ctx, fb.ID))

	retrieved, err := store.Get(ctx, fb.InputHash, "de")
	assert.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSQLiteStore_ExportJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	fb := &Feedback{
		InputText:     "Bronchoskopie mit Lavage",
		Lang:          "de",
		SuggestedType: "Pauschale",
		SuggestedCode: "C03.10A",
		UserType:      "Pauschale",
		UserCode:      "C03.10A",
		UserAgreed:    true,
		Comment:       "Eindeutiger Fall",
	}
	require.NoError(t, store.Save(ctx, fb))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	assert.Contains(t, buf.String(), "Bronchoskopie mit Lavage")
	assert.Contains(t, buf.String(), "Eindeutiger Fall")
	assert.Contains(t, buf.String(), `"version"`)
	assert.Contains(t, buf.String(), `"count"`)
}

func TestSQLiteStore_ImportJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	jsonData := `{
		"version": "1.0",
		"exported_at": "2026-08-01T10:00:00Z",
		"count": 2,
		"feedback": [
			{
				"input_text": "Hausärztliche Konsultation 17 Minuten",
				"lang": "de",
				"suggested_type": "TARDOC",
				"user_type": "TARDOC",
				"user_agreed": true
			},
			{
				"input_text": "Geschlossene Reposition in Anästhesie",
				"lang": "de",
				"suggested_type": "Pauschale",
				"suggested_code": "C08.50E",
				"user_type": "Pauschale",
				"user_code": "C08.50E",
				"user_agreed": false,
				"comment": "Pauschale stimmt, Begründung unklar"
			}
		]
	}`

	imported, skipped, err := store.ImportJSON(ctx, bytes.NewReader([]byte(jsonData)))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 0, skipped)

	count, _ := store.Count(ctx)
	assert.Equal(t, int64(2), count)

	reposition, err := store.Get(ctx, HashInput("Geschlossene Reposition in Anästhesie", "de"), "de")
	require.NoError(t, err)
	require.NotNil(t, reposition)
	assert.Equal(t, "C08.50E", reposition.UserCode)
	assert.Equal(t, "Pauschale stimmt, Begründung unklar", reposition.Comment)
}

func TestSQLiteStore_ImportJSON_SkipDuplicates(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	existing := &Feedback{
		InputText:     "Hausärztliche Konsultation 17 Minuten",
		Lang:          "de",
		SuggestedType: "TARDOC",
		UserType:      "TARDOC",
		UserAgreed:    true,
	}
	require.NoError(t, store.Save(ctx, existing))

	jsonData := `{
		"version": "1.0",
		"count": 2,
		"feedback": [
			{
				"input_text": "Hausärztliche Konsultation 17 Minuten",
				"lang": "de",
				"suggested_type": "TARDOC",
				"user_type": "Pauschale",
				"user_agreed": false
			},
			{
				"input_text": "Bronchoskopie mit Lavage",
				"lang": "de",
				"suggested_type": "Pauschale",
				"user_type": "Pauschale",
				"user_agreed": true
			}
		]
	}`

	imported, skipped, err := store.ImportJSON(ctx, bytes.NewReader([]byte(jsonData)))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)

	got, _ := store.Get(ctx, existing.InputHash, "de")
	assert.Equal(t, "TARDOC", got.UserType, "Existing should not be overwritten")
}

func TestHashInput(t *testing.T) {
	// Case and surrounding whitespace do not change the key; the language does.
	a := HashInput("Konsultation 15 Minuten", "de")
	assert.Equal(t, a, HashInput("  konsultation 15 minuten ", "DE"))
	assert.NotEqual(t, a, HashInput("Konsultation 15 Minuten", "fr"))
	assert.NotEqual(t, a, HashInput("Konsultation 20 Minuten", "de"))
}

// Helper function to create a test store
func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)

	t.Cleanup(func() {
		os.RemoveAll(tmpDir)
	})

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	return store
}
