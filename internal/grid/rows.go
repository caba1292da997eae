package grid

import (
	"slices"
	"strings"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/projection"
)

type SortDirection string

const (
	SortNone SortDirection = ""
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

type SortState struct {
	ColumnID  string        `json:"columnId,omitempty"`
	Direction SortDirection `json:"direction,omitempty"`
}

// ToggleSort cycles a column through ascending, descending and unsorted.
// Sorting another column starts it at ascending. The manual row order is
// dropped.
func (e *Engine) ToggleSort(columnID string) (SortState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if columnID != projection.DocumentColumnID && (e.table == nil || e.table.ColumnIndex(columnID) < 0) {
		return e.sort, ErrUnknownColumn
	}

	switch {
	case e.sort.ColumnID != columnID:
		e.sort = SortState{ColumnID: columnID, Direction: SortAsc}
	case e.sort.Direction == SortAsc:
		e.sort.Direction = SortDesc
	default:
		e.sort = SortState{}
	}
	e.manualOrder = nil
	return e.sort, nil
}

func (e *Engine) Sort() SortState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sort
}

// SetSearch records the raw input immediately and commits it to the filter
// after the debounce delay. Each call cancels the previous pending commit.
func (e *Engine) SetSearch(raw string) {
	e.mu.Lock()
	e.rawQuery = raw
	e.mu.Unlock()

	e.debounce.Trigger(func() {
		e.commitSearch(raw)
	})
}

// CommitSearch applies the raw input now, cancelling the pending commit.
func (e *Engine) CommitSearch() {
	e.debounce.Cancel()
	e.mu.Lock()
	raw := e.rawQuery
	e.mu.Unlock()
	e.commitSearch(raw)
}

func (e *Engine) commitSearch(raw string) {
	e.mu.Lock()
	changed := e.committedQuery != raw
	e.committedQuery = raw
	e.mu.Unlock()
	if changed && e.cfg.OnChange != nil {
		e.cfg.OnChange()
	}
}

// Query returns the raw input and the committed filter value.
func (e *Engine) Query() (raw, committed string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rawQuery, e.committedQuery
}

// Rows returns the filtered, sorted and manually ordered rows.
func (e *Engine) Rows() []*projection.Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rowsLocked()
}

// TableRows returns the displayed rows together with the table they were
// cut from. Cell positions in the rows are only valid against that table.
func (e *Engine) TableRows() (*projection.Table, []*projection.Row) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table, e.rowsLocked()
}

// rowsLocked filters on the committed query as typed. A whitespace-only
// query filters nothing.
func (e *Engine) rowsLocked() []*projection.Row {
	if e.table == nil {
		return nil
	}
	ordered := e.orderedLocked()
	if strings.TrimSpace(e.committedQuery) == "" {
		return ordered
	}
	query := strings.ToLower(e.committedQuery)
	filtered := make([]*projection.Row, 0, len(ordered))
	for _, row := range ordered {
		if Matches(row, query) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

// orderedLocked returns every row, sorted and then manually ordered.
func (e *Engine) orderedLocked() []*projection.Row {
	rows := slices.Clone(e.table.Rows)
	idx := e.table.ColumnIndex(e.sort.ColumnID)
	if e.sort.Direction != SortNone && (idx >= 0 || e.sort.ColumnID == projection.DocumentColumnID) {
		key := func(row *projection.Row) string {
			if idx < 0 {
				return row.Document.Filename
			}
			return row.Cells[idx].Short()
		}
		slices.SortStableFunc(rows, func(a, b *projection.Row) int {
			c := strings.Compare(key(a), key(b))
			if e.sort.Direction == SortDesc {
				return -c
			}
			return c
		})
	}
	if e.manualOrder == nil || e.manualBase != e.table {
		return rows
	}

	position := make(map[string]int, len(e.manualOrder))
	for i, id := range e.manualOrder {
		position[id] = i
	}
	slices.SortStableFunc(rows, func(a, b *projection.Row) int {
		pa, oka := position[a.ID()]
		pb, okb := position[b.ID()]
		switch {
		case oka && okb:
			return pa - pb
		case oka:
			return -1
		case okb:
			return 1
		default:
			return 0
		}
	})
	return rows
}

// Matches reports whether the filename or any short value contains query.
// query must already be lower-cased.
func Matches(row *projection.Row, query string) bool {
	if strings.Contains(strings.ToLower(row.Document.Filename), query) {
		return true
	}
	for _, cell := range row.Cells {
		if cell != nil && strings.Contains(strings.ToLower(cell.Short()), query) {
			return true
		}
	}
	return false
}

// MoveRow moves a document to toIndex within the displayed rows. The move
// lives only until the next table arrives from Sync.
func (e *Engine) MoveRow(documentID string, toIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.table == nil {
		return ErrUnknownRow
	}

	displayed := e.rowsLocked()
	from := slices.IndexFunc(displayed, func(row *projection.Row) bool { return row.ID() == documentID })
	if from < 0 {
		return ErrUnknownRow
	}
	toIndex = max(0, min(toIndex, len(displayed)-1))
	if from == toIndex {
		return nil
	}
	target := displayed[toIndex].ID()

	full := make([]string, 0, len(e.table.Rows))
	for _, row := range e.orderedLocked() {
		if row.ID() != documentID {
			full = append(full, row.ID())
		}
	}
	pos := slices.Index(full, target)
	if from < toIndex {
		pos++
	}
	e.manualOrder = slices.Insert(full, pos, documentID)
	e.manualBase = e.table
	return nil
}
