package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/util"
)

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TABULAR_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TABULAR_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"), zerolog.Nop()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

// seedReview inserts a review row and removes it, with everything that
// cascades from it, when the test ends.
func seedReview(t *testing.T, ctx context.Context, s *PostgresStore) string {
	t.Helper()
	reviewID := util.NewID("rev")
	if _, err := s.DB().ExecContext(ctx, `INSERT INTO reviews (id, name) VALUES ($1, $2)`, reviewID, "Integration"); err != nil {
		t.Fatalf("insert review: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.DB().ExecContext(context.Background(), `DELETE FROM reviews WHERE id=$1`, reviewID)
	})
	return reviewID
}

func TestInsertColumnGoesFirstPostgres(t *testing.T) {
	s, ctx := openTestStore(t)
	reviewID := seedReview(t, ctx, s)

	first, err := s.InsertColumn(ctx, Column{ID: util.NewID("col"), ReviewID: reviewID, Name: "Party"})
	if err != nil {
		t.Fatalf("insert first column: %v", err)
	}
	second, err := s.InsertColumn(ctx, Column{ID: util.NewID("col"), ReviewID: reviewID, Name: "Term"})
	if err != nil {
		t.Fatalf("insert second column: %v", err)
	}
	if second.Order >= first.Order {
		t.Fatalf("expected newer column to sort first, got orders %d and %d", first.Order, second.Order)
	}
	if second.DataType != "text" {
		t.Errorf("expected default data type, got %q", second.DataType)
	}

	columns, err := s.ListColumns(ctx, reviewID)
	if err != nil {
		t.Fatalf("list columns: %v", err)
	}
	if len(columns) != 2 || columns[0].ID != second.ID || columns[1].ID != first.ID {
		t.Fatalf("unexpected column order %+v", columns)
	}

	got, err := s.GetColumn(ctx, first.ID)
	if err != nil || got.ReviewID != reviewID || got.Name != "Party" {
		t.Fatalf("get column = %+v, %v", got, err)
	}
	if _, err := s.GetColumn(ctx, "col_missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestResultLifecyclePostgres(t *testing.T) {
	s, ctx := openTestStore(t)
	reviewID := seedReview(t, ctx, s)

	column, err := s.InsertColumn(ctx, Column{ID: util.NewID("col"), ReviewID: reviewID, Name: "Party"})
	if err != nil {
		t.Fatalf("insert column: %v", err)
	}
	documents, err := s.InsertDocuments(ctx, []Document{
		{ID: util.NewID("doc"), ReviewID: reviewID, Filename: "lease.pdf"},
		{ID: util.NewID("doc"), ReviewID: reviewID, Filename: "nda.pdf"},
		{ID: util.NewID("doc"), ReviewID: reviewID, Filename: "msa.pdf"},
	})
	if err != nil {
		t.Fatalf("insert documents: %v", err)
	}
	lease, nda, msa := documents[0], documents[1], documents[2]

	short := "Acme Corp"
	done, err := s.UpsertResult(ctx, Result{
		ReviewID: reviewID, DocumentID: lease.ID, ColumnID: column.ID,
		ShortValue: &short, Confidence: 0.9, Status: ResultStatusCompleted,
	})
	if err != nil {
		t.Fatalf("upsert result: %v", err)
	}
	if done.ID != lease.ID+":"+column.ID {
		t.Errorf("expected default result id, got %q", done.ID)
	}
	failure := "timeout"
	if _, err := s.UpsertResult(ctx, Result{
		ReviewID: reviewID, DocumentID: msa.ID, ColumnID: column.ID,
		Status: ResultStatusError, ErrorMessage: &failure,
	}); err != nil {
		t.Fatalf("upsert error result: %v", err)
	}

	marked, err := s.MarkUnresolvedProcessing(ctx, reviewID)
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if len(marked) != 1 || marked[0].DocumentID != nda.ID || marked[0].Status != ResultStatusProcessing {
		t.Fatalf("expected only the unresolved pair to be marked, got %+v", marked)
	}

	again, err := s.MarkUnresolvedProcessing(ctx, reviewID)
	if err != nil {
		t.Fatalf("mark processing twice: %v", err)
	}
	if len(again) != 1 || again[0].DocumentID != nda.ID {
		t.Fatalf("expected processing pair to be re-marked, got %+v", again)
	}

	results, err := s.ListResults(ctx, reviewID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	byDocument := map[string]Result{}
	for _, result := range results {
		byDocument[result.DocumentID] = result
	}
	if len(byDocument) != 3 {
		t.Fatalf("expected three stored results, got %+v", results)
	}
	if got := byDocument[nda.ID].Status; got != ResultStatusProcessing {
		t.Errorf("expected processing row to be listed, got %q", got)
	}
	if got := byDocument[msa.ID]; got.Status != ResultStatusError || got.ErrorMessage == nil || *got.ErrorMessage != "timeout" {
		t.Errorf("unexpected error row %+v", got)
	}

	updated := "Globex"
	if _, err := s.UpsertResult(ctx, Result{
		ReviewID: reviewID, DocumentID: nda.ID, ColumnID: column.ID,
		ShortValue: &updated, Confidence: 0.6, Status: ResultStatusCompleted,
	}); err != nil {
		t.Fatalf("settle processing result: %v", err)
	}
	results, err = s.ListResults(ctx, reviewID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	for _, result := range results {
		if result.DocumentID != nda.ID {
			continue
		}
		if result.Status != ResultStatusCompleted || result.ShortValue == nil || *result.ShortValue != "Globex" || result.Confidence != 0.6 {
			t.Errorf("expected upsert to overwrite the processing row, got %+v", result)
		}
	}

	marked, err = s.MarkUnresolvedProcessing(ctx, reviewID)
	if err != nil {
		t.Fatalf("mark processing after settle: %v", err)
	}
	if len(marked) != 0 {
		t.Errorf("expected settled review to have nothing to mark, got %+v", marked)
	}
}
