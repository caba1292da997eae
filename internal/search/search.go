// Package search indexes resolved review cells for cross-review lookup.
package search

import (
	"strings"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/review"
)

// Hit is a single search hit returned to the caller.
type Hit struct {
	ID         string `json:"id"`
	ReviewID   string `json:"reviewId"`
	DocumentID string `json:"documentId"`
	ColumnID   string `json:"columnId"`
	Filename   string `json:"filename"`
	ColumnName string `json:"columnName"`
	Snippet    string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text     string
	ReviewID string // empty = all reviews
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Hit  `json:"results"`
	Total   int    `json:"total"`
	Query   string `json:"query"`
	Backend string `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Hit, int, error)
	Healthy() bool
}

// ResultRecord is the data we index for a completed cell.
type ResultRecord struct {
	ID         string `json:"id"`
	ReviewID   string `json:"reviewId"`
	DocumentID string `json:"documentId"`
	ColumnID   string `json:"columnId"`
	Filename   string `json:"filename"`
	ColumnName string `json:"columnName"`
	ShortValue string `json:"shortValue"`
	LongValue  string `json:"longValue"`
	UpdatedAt  int64  `json:"updatedAt"`
}

const defaultLimit = 20

// RecordID builds an index key from the cell coordinates. Meilisearch keys
// only allow alphanumerics, hyphens and underscores.
func RecordID(reviewID, documentID, columnID string) string {
	return keySafe(reviewID) + "_" + keySafe(documentID) + "_" + keySafe(columnID)
}

func keySafe(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, value)
}

// RecordFromResolved converts a resolved cell into an index record. Only
// completed cells with a value are indexed.
func RecordFromResolved(r review.Resolved) (ResultRecord, bool) {
	if r.Cell == nil || r.Cell.State != cells.StateCompleted {
		return ResultRecord{}, false
	}
	short, long := r.Cell.Short(), r.Cell.Long()
	if strings.TrimSpace(short) == "" && strings.TrimSpace(long) == "" {
		return ResultRecord{}, false
	}
	updated := r.Cell.Timestamp
	if updated.IsZero() {
		updated = time.Now()
	}
	return ResultRecord{
		ID:         RecordID(r.ReviewID, r.Document.ID, r.Column.ID),
		ReviewID:   r.ReviewID,
		DocumentID: r.Document.ID,
		ColumnID:   r.Column.ID,
		Filename:   r.Document.Filename,
		ColumnName: r.Column.Name,
		ShortValue: short,
		LongValue:  long,
		UpdatedAt:  updated.Unix(),
	}, true
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// snippet trims a long value to a readable preview around the first match.
func snippet(text, query string, width int) string {
	text = strings.TrimSpace(text)
	if len(text) <= width {
		return text
	}
	start := 0
	if q := strings.TrimSpace(query); q != "" {
		if idx := strings.Index(strings.ToLower(text), strings.ToLower(strings.Fields(q)[0])); idx > width/2 {
			start = idx - width/2
		}
	}
	end := start + width
	if end > len(text) {
		end = len(text)
		start = max(0, end-width)
	}
	out := text[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}
