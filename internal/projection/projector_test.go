package projection

import (
	"testing"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fixture() ([]store.Column, []store.Document, *cells.Store) {
	columns := []store.Column{{ID: "col-1", Name: "Party"}, {ID: "col-2", Name: "Term"}}
	documents := []store.Document{{ID: "doc-1", Filename: "a.pdf"}, {ID: "doc-2", Filename: "b.pdf"}}
	s := cells.NewStore()
	for _, d := range documents {
		for _, c := range columns {
			s.EnsurePending(d.ID, c.ID, t0, cells.OriginSeed)
		}
	}
	return columns, documents, s
}

func TestProjectShape(t *testing.T) {
	columns, documents, s := fixture()
	var p Projector
	table := p.Project(1, columns, documents, s)

	if len(table.Rows) != 2 || len(table.Columns) != 2 {
		t.Fatalf("expected 2x2 table, got %dx%d", len(table.Rows), len(table.Columns))
	}
	for _, row := range table.Rows {
		for i, cell := range row.Cells {
			if cell.State != cells.StatePending {
				t.Errorf("%s/%s: expected pending, got %s", row.ID(), table.Columns[i].ID, cell.State)
			}
		}
	}
	if table.ColumnIndex("col-2") != 1 || table.ColumnIndex("missing") != -1 {
		t.Error("unexpected column index")
	}
	if table.Cell("doc-2", "col-1") != s.Get("doc-2", "col-1") {
		t.Error("expected table cell to be the store cell")
	}
}

func TestProjectMemoizesWhenNothingChanged(t *testing.T) {
	columns, documents, s := fixture()
	var p Projector
	first := p.Project(1, columns, documents, s)
	second := p.Project(1, columns, documents, s)
	if first != second {
		t.Fatal("expected the same table when inputs are unchanged")
	}
}

func TestProjectKeepsUntouchedRows(t *testing.T) {
	columns, documents, s := fixture()
	var p Projector
	first := p.Project(1, columns, documents, s)

	s.Upsert("doc-1", "col-1", cells.Cell{ShortValue: cells.StringPtr("Acme"), State: cells.StateCompleted, Origin: cells.OriginLive})
	second := p.Project(1, columns, documents, s)

	if first == second {
		t.Fatal("expected a new table after a cell change")
	}
	if first.Row("doc-1") == second.Row("doc-1") {
		t.Error("expected changed row to be rebuilt")
	}
	if first.Row("doc-2") != second.Row("doc-2") {
		t.Error("expected unchanged row to keep its identity")
	}
	if got := second.Cell("doc-1", "col-1").Short(); got != "Acme" {
		t.Errorf("expected Acme, got %q", got)
	}
}

func TestProjectRebuildsRowsOnColumnChange(t *testing.T) {
	columns, documents, s := fixture()
	var p Projector
	first := p.Project(1, columns, documents, s)

	next := append([]store.Column{{ID: "col-3"}}, columns...)
	second := p.Project(2, next, documents, s)
	if first.Row("doc-1") == second.Row("doc-1") {
		t.Error("expected rows to be rebuilt when columns change")
	}
	if second.Cell("doc-1", "col-3") != NoData {
		t.Error("expected placeholder for an unseeded pairing")
	}
}

func TestProjectSkipsUnknownEntities(t *testing.T) {
	columns, documents, s := fixture()
	s.EnsurePending("doc-gone", "col-1", t0, cells.OriginSeed)
	var p Projector
	table := p.Project(1, columns, documents, s)
	if table.Row("doc-gone") != nil {
		t.Error("expected orphaned cells to stay out of the projection")
	}
}
