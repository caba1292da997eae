package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetReview(ctx context.Context, reviewID string) (Review, error) {
	var item Review
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, created_at, updated_at
		FROM reviews
		WHERE id=$1
	`, reviewID).Scan(&item.ID, &item.Name, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Review{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateReviewStatus(ctx context.Context, reviewID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reviews SET status=$2, updated_at=NOW() WHERE id=$1`, reviewID, status)
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListColumns(ctx context.Context, reviewID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, column_name, prompt, data_type, column_order, created_at
		FROM review_columns
		WHERE review_id=$1
		ORDER BY column_order ASC, created_at ASC
	`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	items := make([]Column, 0)
	for rows.Next() {
		var item Column
		if err := rows.Scan(&item.ID, &item.ReviewID, &item.Name, &item.Prompt, &item.DataType, &item.Order, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	var item Column
	err := s.db.QueryRowContext(ctx, `
		SELECT id, review_id, column_name, prompt, data_type, column_order, created_at
		FROM review_columns
		WHERE id=$1
	`, columnID).Scan(&item.ID, &item.ReviewID, &item.Name, &item.Prompt, &item.DataType, &item.Order, &item.CreatedAt)
	if err != nil {
		return Column{}, err
	}
	return item, nil
}

// InsertColumn stores a column ahead of every existing column of the review
// so that reloads place it right after the document column.
func (s *PostgresStore) InsertColumn(ctx context.Context, item Column) (Column, error) {
	if strings.TrimSpace(item.DataType) == "" {
		item.DataType = "text"
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO review_columns (id, review_id, column_name, prompt, data_type, column_order)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MIN(column_order), 1) - 1 FROM review_columns WHERE review_id=$2))
		RETURNING column_order, created_at
	`, item.ID, item.ReviewID, item.Name, item.Prompt, item.DataType).Scan(&item.Order, &item.CreatedAt)
	if err != nil {
		return Column{}, fmt.Errorf("insert column: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, reviewID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, filename, size_bytes, status, created_at
		FROM review_files
		WHERE review_id=$1
		ORDER BY created_at ASC, id ASC
	`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.ReviewID, &item.Filename, &item.SizeBytes, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, review_id, filename, size_bytes, status, created_at
		FROM review_files
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.ReviewID, &item.Filename, &item.SizeBytes, &item.Status, &item.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertDocuments(ctx context.Context, items []Document) ([]Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert documents: %w", err)
	}

	inserted := make([]Document, 0, len(items))
	for _, item := range items {
		if item.Status == "" {
			item.Status = "uploaded"
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO review_files (id, review_id, filename, size_bytes, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, item.ID, item.ReviewID, item.Filename, item.SizeBytes, item.Status).Scan(&item.CreatedAt); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("insert document %s: %w", item.Filename, err)
		}
		inserted = append(inserted, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert documents: %w", err)
	}
	return inserted, nil
}

// ListResults returns every stored result of the review, including pairs
// that StartAnalysis marked processing and that have not settled yet.
func (s *PostgresStore) ListResults(ctx context.Context, reviewID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, file_id, column_id, short_value, long_value, source_ref,
			confidence, status, error_message, updated_at
		FROM review_results
		WHERE review_id=$1
	`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	items := make([]Result, 0)
	for rows.Next() {
		var item Result
		var shortValue, longValue, ref, errorMessage sql.NullString
		if err := rows.Scan(&item.ID, &item.ReviewID, &item.DocumentID, &item.ColumnID, &shortValue, &longValue, &ref,
			&item.Confidence, &item.Status, &errorMessage, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		item.ShortValue = nullableString(shortValue)
		item.LongValue = nullableString(longValue)
		item.SourceRef = nullableString(ref)
		item.ErrorMessage = nullableString(errorMessage)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return items, nil
}

// MarkUnresolvedProcessing records every document/column pair of the review
// that has no settled result as processing and returns the rows it touched.
func (s *PostgresStore) MarkUnresolvedProcessing(ctx context.Context, reviewID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		INSERT INTO review_results (id, review_id, file_id, column_id, status, updated_at)
		SELECT f.id || ':' || c.id, f.review_id, f.id, c.id, 'processing', NOW()
		FROM review_files f
		JOIN review_columns c ON c.review_id = f.review_id
		WHERE f.review_id=$1
		ON CONFLICT (file_id, column_id) DO UPDATE
			SET status='processing', error_message=NULL, updated_at=NOW()
			WHERE review_results.status NOT IN ('completed', 'error')
		RETURNING id, review_id, file_id, column_id, status, updated_at
	`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	defer rows.Close()

	items := make([]Result, 0)
	for rows.Next() {
		var item Result
		if err := rows.Scan(&item.ID, &item.ReviewID, &item.DocumentID, &item.ColumnID, &item.Status, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan processing result: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processing results: %w", err)
	}
	return items, nil
}

// UpsertResult writes the outcome of one document/column pair.
func (s *PostgresStore) UpsertResult(ctx context.Context, item Result) (Result, error) {
	if item.ID == "" {
		item.ID = item.DocumentID + ":" + item.ColumnID
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO review_results (id, review_id, file_id, column_id, short_value, long_value, source_ref,
			confidence, status, error_message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (file_id, column_id) DO UPDATE SET
			short_value=EXCLUDED.short_value,
			long_value=EXCLUDED.long_value,
			source_ref=EXCLUDED.source_ref,
			confidence=EXCLUDED.confidence,
			status=EXCLUDED.status,
			error_message=EXCLUDED.error_message,
			updated_at=NOW()
		RETURNING id, updated_at
	`, item.ID, item.ReviewID, item.DocumentID, item.ColumnID, item.ShortValue, item.LongValue, item.SourceRef,
		item.Confidence, item.Status, item.ErrorMessage).Scan(&item.ID, &item.UpdatedAt)
	if err != nil {
		return Result{}, fmt.Errorf("upsert result: %w", err)
	}
	return item, nil
}

// SearchResults is the Postgres fallback for cross-review result search.
func (s *PostgresStore) SearchResults(ctx context.Context, text, reviewID string, limit int) ([]ResultHit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT r.review_id, r.file_id, r.column_id, f.filename, c.column_name,
			COALESCE(r.short_value, ''), COALESCE(r.long_value, '')
		FROM review_results r
		JOIN review_files f ON f.id = r.file_id
		JOIN review_columns c ON c.id = r.column_id
		WHERE r.status = 'completed'
			AND to_tsvector('english', coalesce(r.short_value, '') || ' ' || coalesce(r.long_value, ''))
				@@ plainto_tsquery('english', $1)`
	args := []any{text}
	if reviewID != "" {
		query += ` AND r.review_id = $2`
		args = append(args, reviewID)
	}
	query += fmt.Sprintf(` ORDER BY r.updated_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search results: %w", err)
	}
	defer rows.Close()

	hits := make([]ResultHit, 0)
	for rows.Next() {
		var hit ResultHit
		if err := rows.Scan(&hit.ReviewID, &hit.DocumentID, &hit.ColumnID, &hit.Filename, &hit.ColumnName, &hit.ShortValue, &hit.LongValue); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return hits, nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
