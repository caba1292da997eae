package app

import (
	"errors"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/grid"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/projection"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/review"
)

// ViewState is what a client needs to paint the grid: column chrome plus
// only the rows inside the virtualized window.
type ViewState struct {
	ViewID       string             `json:"viewId"`
	ReviewID     string             `json:"reviewId"`
	ReviewName   string             `json:"reviewName"`
	Status       review.Status      `json:"status"`
	Error        *SnapshotFailure   `json:"error,omitempty"`
	ChannelError string             `json:"channelError,omitempty"`
	Columns      []grid.ColumnState `json:"columns"`
	Sort         grid.SortState     `json:"sort"`
	Search       SearchState        `json:"search"`
	Viewport     grid.Viewport      `json:"viewport"`
	Window       grid.Window        `json:"window"`
	Rows         []RowView          `json:"rows"`
	Stats        cells.Stats        `json:"stats"`
}

type SnapshotFailure struct {
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}

type SearchState struct {
	Raw       string `json:"raw"`
	Committed string `json:"committed"`
}

type RowView struct {
	ID       string              `json:"id"`
	Filename string              `json:"filename"`
	Status   string              `json:"status,omitempty"`
	Cells    map[string]CellView `json:"cells"`
}

type CellView struct {
	State      cells.State `json:"state"`
	Short      string      `json:"short,omitempty"`
	Source     string      `json:"source,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Error      string      `json:"error,omitempty"`
	// Fresh marks a cell that resolved in the last few seconds so the client
	// can highlight it.
	Fresh bool `json:"fresh,omitempty"`
}

const freshWindow = 3 * time.Second

func (s *Service) renderView(sess *viewSession) ViewState {
	view := sess.view
	table := view.Table()
	sess.grid.Sync(table)
	state := ViewState{
		ViewID:     sess.id,
		ReviewID:   view.ReviewID(),
		ReviewName: sess.reviewName,
		Status:     view.Status(),
		Columns:    sess.grid.Columns(),
		Sort:       sess.grid.Sort(),
		Viewport:   sess.grid.Viewport(),
		Stats:      view.Stats(),
		Rows:       []RowView{},
	}
	if err := view.Err(); err != nil {
		failure := &SnapshotFailure{Message: err.Error()}
		var snapshotErr *review.SnapshotError
		if errors.As(err, &snapshotErr) {
			failure.Source = snapshotErr.Source
		}
		state.Error = failure
	}
	if err := view.ChannelErr(); err != nil {
		state.ChannelError = err.Error()
	}
	state.Search.Raw, state.Search.Committed = sess.grid.Query()

	state.Window = sess.grid.Window()
	visible := sess.grid.VisibleColumns()
	now := s.now()
	for _, row := range state.Window.Rows {
		state.Rows = append(state.Rows, renderRow(table, row, visible, now))
	}
	return state
}

func renderRow(table *projection.Table, row *projection.Row, columns []grid.ColumnState, now time.Time) RowView {
	out := RowView{
		ID:       row.ID(),
		Filename: row.Document.Filename,
		Status:   row.Document.Status,
		Cells:    make(map[string]CellView, len(columns)),
	}
	for _, column := range columns {
		if column.ID == projection.DocumentColumnID {
			continue
		}
		i := table.ColumnIndex(column.ID)
		if i < 0 || i >= len(row.Cells) {
			continue
		}
		cell := row.Cells[i]
		view := CellView{State: cell.State, Error: cell.ErrorMessage}
		if cell.State == cells.StateCompleted {
			view.Short = cell.Short()
			view.Source = cell.Source()
			view.Confidence = cell.Confidence
		}
		if cell.State.Resolved() && cell.UpdatedWithin(now, freshWindow) {
			view.Fresh = true
		}
		out.Cells[column.ID] = view
	}
	return out
}
