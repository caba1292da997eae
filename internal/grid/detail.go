package grid

import (
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
)

// Detail is the expanded view of a completed cell.
type Detail struct {
	DocumentID      string    `json:"documentId"`
	Filename        string    `json:"filename"`
	ColumnID        string    `json:"columnId"`
	ColumnName      string    `json:"columnName"`
	Prompt          string    `json:"prompt"`
	ShortValue      string    `json:"shortValue"`
	LongValue       string    `json:"longValue"`
	Confidence      float64   `json:"confidence"`
	SourceReference string    `json:"sourceReference,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CellDetail opens a completed cell. Pending, processing and errored cells
// have no detail and report false, as do pairings outside the table.
func (e *Engine) CellDetail(documentID, columnID string) (Detail, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.table == nil {
		return Detail{}, false
	}
	row := e.table.Row(documentID)
	column, ok := e.table.Column(columnID)
	if row == nil || !ok {
		return Detail{}, false
	}
	cell := row.Cells[e.table.ColumnIndex(columnID)]
	if cell == nil || cell.State != cells.StateCompleted {
		return Detail{}, false
	}
	return Detail{
		DocumentID:      documentID,
		Filename:        row.Document.Filename,
		ColumnID:        column.ID,
		ColumnName:      column.Name,
		Prompt:          column.Prompt,
		ShortValue:      cell.Short(),
		LongValue:       cell.Long(),
		Confidence:      cell.Confidence,
		SourceReference: cell.Source(),
		UpdatedAt:       cell.Timestamp,
	}, true
}
