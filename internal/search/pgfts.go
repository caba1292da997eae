package search

import (
	"context"
	"strings"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

// ResultSource is the Postgres full-text query the fallback runs.
type ResultSource interface {
	SearchResults(ctx context.Context, text, reviewID string, limit int) ([]store.ResultHit, error)
}

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	source  ResultSource
	timeout time.Duration
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(source ResultSource) *PgFTS {
	return &PgFTS{source: source, timeout: 5 * time.Second}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search pages over the completed results matching plainto_tsquery.
func (p *PgFTS) Search(q Query) ([]Hit, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := max(q.Offset, 0)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	rows, err := p.source.SearchResults(ctx, q.Text, q.ReviewID, offset+limit)
	if err != nil {
		return nil, 0, err
	}
	total := len(rows)
	if offset >= len(rows) {
		return nil, total, nil
	}

	hits := make([]Hit, 0, len(rows)-offset)
	for _, row := range rows[offset:] {
		hits = append(hits, Hit{
			ID:         RecordID(row.ReviewID, row.DocumentID, row.ColumnID),
			ReviewID:   row.ReviewID,
			DocumentID: row.DocumentID,
			ColumnID:   row.ColumnID,
			Filename:   row.Filename,
			ColumnName: row.ColumnName,
			Snippet:    snippet(firstNonBlank(row.LongValue, row.ShortValue), q.Text, 160),
		})
	}
	return hits, total, nil
}
