// Package projection derives the row/column table model of a review from
// its registries and cell store.
package projection

import (
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

// DocumentColumnID identifies the fixed leading column that shows the
// document name.
const DocumentColumnID = "__document"

// NoData is the placeholder resolved for a pairing the store has no cell for.
var NoData = &cells.Cell{State: cells.StatePending}

// Row is one document and its resolved cells, aligned with Table.Columns.
// Rows are immutable once built.
type Row struct {
	Document store.Document
	Cells    []*cells.Cell
}

func (r *Row) ID() string {
	return r.Document.ID
}

// Table is an immutable projection. A Table pointer that did not change
// means nothing visible changed.
type Table struct {
	Columns []store.Column
	Rows    []*Row

	columnIndex map[string]int
	rowIndex    map[string]int
}

func (t *Table) ColumnIndex(columnID string) int {
	if i, ok := t.columnIndex[columnID]; ok {
		return i
	}
	return -1
}

func (t *Table) Column(columnID string) (store.Column, bool) {
	i := t.ColumnIndex(columnID)
	if i < 0 {
		return store.Column{}, false
	}
	return t.Columns[i], true
}

func (t *Table) Row(documentID string) *Row {
	if i, ok := t.rowIndex[documentID]; ok {
		return t.Rows[i]
	}
	return nil
}

// Cell returns the resolved cell, or nil if either side is not in the table.
func (t *Table) Cell(documentID, columnID string) *cells.Cell {
	row := t.Row(documentID)
	col := t.ColumnIndex(columnID)
	if row == nil || col < 0 {
		return nil
	}
	return row.Cells[col]
}

// Projector memoizes the table across calls with unchanged inputs and keeps
// Row pointers stable for rows whose document and cells did not change.
type Projector struct {
	registryVersion uint64
	cellsVersion    uint64
	table           *Table
}

// Project returns the table for the given registry state. Callers pass the
// registry version so that an unchanged registry and store yield the same
// *Table.
func (p *Projector) Project(registryVersion uint64, columns []store.Column, documents []store.Document, cellStore *cells.Store) *Table {
	if p.table != nil && p.registryVersion == registryVersion && p.cellsVersion == cellStore.Version() {
		return p.table
	}

	previous := p.table
	reuseRows := previous != nil && sameColumns(previous.Columns, columns)

	table := &Table{
		Columns:     columns,
		Rows:        make([]*Row, 0, len(documents)),
		columnIndex: make(map[string]int, len(columns)),
		rowIndex:    make(map[string]int, len(documents)),
	}
	for i, column := range columns {
		table.columnIndex[column.ID] = i
	}

	for _, document := range documents {
		resolved := make([]*cells.Cell, len(columns))
		for i, column := range columns {
			resolved[i] = Resolve(cellStore, document.ID, column.ID)
		}

		var row *Row
		if reuseRows {
			if prev := previous.Row(document.ID); prev != nil && prev.Document == document && sameCells(prev.Cells, resolved) {
				row = prev
			}
		}
		if row == nil {
			row = &Row{Document: document, Cells: resolved}
		}
		table.rowIndex[document.ID] = len(table.Rows)
		table.Rows = append(table.Rows, row)
	}

	p.registryVersion = registryVersion
	p.cellsVersion = cellStore.Version()
	p.table = table
	return table
}

// Resolve picks the cell shown for a pairing. Live answers already take
// precedence inside the store because seed writes never replace a cell
// written from the live channel.
func Resolve(cellStore *cells.Store, documentID, columnID string) *cells.Cell {
	if cell := cellStore.Get(documentID, columnID); cell != nil {
		return cell
	}
	return NoData
}

func sameColumns(a, b []store.Column) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func sameCells(a, b []*cells.Cell) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
