package grid

import (
	"context"
	"math"
	"unicode/utf8"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/projection"
)

// ColumnState is one column as presented, document column included.
type ColumnState struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Prompt    string        `json:"prompt,omitempty"`
	DataType  string        `json:"dataType,omitempty"`
	Width     int           `json:"width"`
	Hidden    bool          `json:"hidden"`
	Sort      SortDirection `json:"sort,omitempty"`
	Removable bool          `json:"removable"`
}

const (
	autoFitSample  = 50
	autoFitPadding = 32
	promptCap      = 60
)

// Columns returns every column in presentation order, hidden ones included.
func (e *Engine) Columns() []ColumnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.columnsLocked()
}

func (e *Engine) columnsLocked() []ColumnState {
	out := make([]ColumnState, 0, len(e.order)+1)
	out = append(out, ColumnState{
		ID:    projection.DocumentColumnID,
		Name:  "Document",
		Width: e.widthLocked(projection.DocumentColumnID),
		Sort:  e.sortFor(projection.DocumentColumnID),
	})
	if e.table == nil {
		return out
	}
	for _, id := range e.order {
		column, ok := e.table.Column(id)
		if !ok {
			continue
		}
		out = append(out, ColumnState{
			ID:        column.ID,
			Name:      column.Name,
			Prompt:    column.Prompt,
			DataType:  column.DataType,
			Width:     e.widthLocked(column.ID),
			Hidden:    e.hidden[column.ID],
			Sort:      e.sortFor(column.ID),
			Removable: true,
		})
	}
	return out
}

// VisibleColumns returns the shown columns in order.
func (e *Engine) VisibleColumns() []ColumnState {
	all := e.Columns()
	out := all[:0]
	for _, column := range all {
		if !column.Hidden {
			out = append(out, column)
		}
	}
	return out
}

func (e *Engine) sortFor(columnID string) SortDirection {
	if e.sort.ColumnID == columnID {
		return e.sort.Direction
	}
	return SortNone
}

func (e *Engine) widthLocked(columnID string) int {
	if width, ok := e.widths[columnID]; ok {
		return width
	}
	if columnID == projection.DocumentColumnID {
		return e.cfg.DocumentWidth
	}
	return e.cfg.DefaultWidth
}

func (e *Engine) clampWidth(width int) int {
	return max(e.cfg.MinWidth, min(width, e.cfg.MaxWidth))
}

// Reorder applies a drag-reorder. Unknown ids are ignored, columns missing
// from order keep their relative position at the end, and the document
// column always stays first.
func (e *Engine) Reorder(ctx context.Context, order []string) error {
	e.mu.Lock()
	if len(order) > 0 && order[0] != projection.DocumentColumnID {
		for _, id := range order[1:] {
			if id == projection.DocumentColumnID {
				e.mu.Unlock()
				return ErrFixedColumn
			}
		}
	}
	current := make(map[string]bool, len(e.order))
	for _, id := range e.order {
		current[id] = true
	}
	next := make([]string, 0, len(e.order))
	placed := make(map[string]bool, len(e.order))
	for _, id := range order {
		if current[id] && !placed[id] {
			next = append(next, id)
			placed[id] = true
		}
	}
	for _, id := range e.order {
		if !placed[id] {
			next = append(next, id)
		}
	}
	e.order = next
	saved := e.snapshotLayoutLocked()
	e.mu.Unlock()

	e.persist(ctx, saved)
	return nil
}

// Resize sets a column width, clamped to the configured bounds, and
// returns the applied width.
func (e *Engine) Resize(ctx context.Context, columnID string, width int) (int, error) {
	e.mu.Lock()
	if !e.hasColumnLocked(columnID) {
		e.mu.Unlock()
		return 0, ErrUnknownColumn
	}
	width = e.clampWidth(width)
	e.widths[columnID] = width
	saved := e.snapshotLayoutLocked()
	e.mu.Unlock()

	e.persist(ctx, saved)
	return width, nil
}

// AutoFit sizes a column from its header, its prompt and a sample of the
// displayed values. The widest sampled value dominates the average so a
// single long answer is not clipped.
func (e *Engine) AutoFit(ctx context.Context, columnID string) (int, error) {
	e.mu.Lock()
	if !e.hasColumnLocked(columnID) {
		e.mu.Unlock()
		return 0, ErrUnknownColumn
	}

	header, prompt := "Document", ""
	idx := -1
	if columnID != projection.DocumentColumnID {
		column, _ := e.table.Column(columnID)
		header, prompt = column.Name, column.Prompt
		idx = e.table.ColumnIndex(columnID)
	}

	var samples []int
	for _, row := range e.rowsLocked() {
		if len(samples) == autoFitSample {
			break
		}
		value := row.Document.Filename
		if idx >= 0 {
			value = row.Cells[idx].Short()
		}
		if value != "" {
			samples = append(samples, utf8.RuneCountInString(value))
		}
	}

	width := e.clampWidth(FitWidth(header, prompt, samples, e.cfg.CharWidth))
	e.widths[columnID] = width
	saved := e.snapshotLayoutLocked()
	e.mu.Unlock()

	e.persist(ctx, saved)
	return width, nil
}

// FitWidth returns the unclamped width in pixels for a header, a prompt and
// sampled value lengths in runes.
func FitWidth(header, prompt string, samples []int, charWidth float64) int {
	headerWidth := float64(utf8.RuneCountInString(header)) * charWidth
	promptWidth := float64(min(utf8.RuneCountInString(prompt), promptCap)) * charWidth * 0.9

	var contentWidth float64
	if len(samples) > 0 {
		longest, total := 0, 0
		for _, n := range samples {
			longest = max(longest, n)
			total += n
		}
		average := float64(total) / float64(len(samples))
		contentWidth = (0.8*float64(longest) + 0.2*average) * charWidth
	}

	return int(math.Ceil(max(headerWidth, promptWidth, contentWidth))) + autoFitPadding
}

// SetVisibility shows or hides a column. The document column is always shown.
func (e *Engine) SetVisibility(ctx context.Context, columnID string, visible bool) error {
	if columnID == projection.DocumentColumnID {
		return ErrFixedColumn
	}
	e.mu.Lock()
	if !e.hasColumnLocked(columnID) {
		e.mu.Unlock()
		return ErrUnknownColumn
	}
	if visible {
		delete(e.hidden, columnID)
	} else {
		e.hidden[columnID] = true
	}
	saved := e.snapshotLayoutLocked()
	e.mu.Unlock()

	e.persist(ctx, saved)
	return nil
}

func (e *Engine) hasColumnLocked(columnID string) bool {
	if columnID == projection.DocumentColumnID {
		return true
	}
	return e.table != nil && e.table.ColumnIndex(columnID) >= 0
}
