package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/layout"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/logger"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/projection"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

type fakeTimer struct {
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{f: f}
	c.timers = append(c.timers, timer)
	return timer
}

// fire runs every timer that was not stopped, including stopped ones when
// all is true, to simulate a timer that lost the race with Stop.
func (c *fakeClock) fire(all bool) {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, timer := range timers {
		if timer.fired || (timer.stopped && !all) {
			continue
		}
		timer.fired = true
		timer.f()
	}
}

type fixture struct {
	columns   []store.Column
	documents []store.Document
	cells     *cells.Store
	projector projection.Projector
	version   uint64
}

func newFixture(columnIDs []string, documents int) *fixture {
	f := &fixture{cells: cells.NewStore()}
	for _, id := range columnIDs {
		f.columns = append(f.columns, store.Column{ID: id, Name: "Column " + id, Prompt: "Extract " + id})
	}
	for i := range documents {
		f.documents = append(f.documents, store.Document{ID: fmt.Sprintf("doc-%03d", i), Filename: fmt.Sprintf("file-%03d.pdf", i)})
	}
	for _, d := range f.documents {
		for _, c := range f.columns {
			f.cells.EnsurePending(d.ID, c.ID, time.Time{}, cells.OriginSeed)
		}
	}
	return f
}

func (f *fixture) set(documentID, columnID, short string) {
	f.cells.Upsert(documentID, columnID, cells.Cell{
		ShortValue: cells.StringPtr(short),
		LongValue:  cells.StringPtr(short + " in detail"),
		Confidence: 0.9,
		State:      cells.StateCompleted,
		Origin:     cells.OriginLive,
	})
}

func (f *fixture) addColumn(id string) {
	f.columns = append([]store.Column{{ID: id, Name: "Column " + id}}, f.columns...)
	f.version++
}

func (f *fixture) table() *projection.Table {
	return f.projector.Project(f.version, f.columns, f.documents, f.cells)
}

func newEngine(t *testing.T, layouts layout.Store, clock *fakeClock) *Engine {
	t.Helper()
	cfg := Config{
		ReviewID:       "rev-1",
		RowHeight:      52,
		Overscan:       10,
		SearchDebounce: 300 * time.Millisecond,
		MinWidth:       100,
		MaxWidth:       500,
		Layouts:        layouts,
		Log:            logger.Nop(),
	}
	if clock != nil {
		cfg.AfterFunc = clock.AfterFunc
	}
	e := New(context.Background(), cfg)
	t.Cleanup(e.Close)
	return e
}

func ids(rows []*projection.Row) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.ID()
	}
	return out
}

func TestFilterMatchesFilenameOrShortValue(t *testing.T) {
	f := newFixture([]string{"party"}, 3)
	f.set("doc-000", "party", "ACME Corp")
	f.set("doc-001", "party", "Globex")
	e := newEngine(t, nil, nil)
	e.Sync(f.table())

	tests := []struct {
		query string
		want  []string
	}{
		{"acme", []string{"doc-000"}},
		{" corp", []string{"doc-000"}},
		{"  GLOBEX ", []string{}},
		{"   ", []string{"doc-000", "doc-001", "doc-002"}},
		{"file-002", []string{"doc-002"}},
		{".PDF", []string{"doc-000", "doc-001", "doc-002"}},
		{"nothing", []string{}},
	}
	for _, tt := range tests {
		e.SetSearch(tt.query)
		e.CommitSearch()
		got := ids(e.Rows())
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("query %q: expected %v, got %v", tt.query, tt.want, got)
		}
	}
}

func TestTableRowsStayPairedAfterNewerProjection(t *testing.T) {
	f := newFixture([]string{"party"}, 2)
	f.set("doc-000", "party", "ACME")
	e := newEngine(t, nil, nil)
	synced := f.table()
	e.Sync(synced)

	f.addColumn("term")
	if newer := f.table(); newer.ColumnIndex("party") != 1 {
		t.Fatalf("expected the newer projection to shift party, got index %d", newer.ColumnIndex("party"))
	}

	table, rows := e.TableRows()
	if table != synced {
		t.Fatal("expected the table the engine last synced")
	}
	i := table.ColumnIndex("party")
	if i < 0 || i >= len(rows[0].Cells) {
		t.Fatalf("party index %d out of range for %d cells", i, len(rows[0].Cells))
	}
	if got := rows[0].Cells[i].Short(); got != "ACME" {
		t.Fatalf("expected ACME under party, got %q", got)
	}
}

func TestSearchDebounceCommitsLatestOnly(t *testing.T) {
	f := newFixture([]string{"party"}, 2)
	f.set("doc-000", "party", "ACME")
	clock := &fakeClock{}
	commits := 0
	cfg := Config{ReviewID: "rev-1", SearchDebounce: time.Second, AfterFunc: clock.AfterFunc, OnChange: func() { commits++ }}
	e := New(context.Background(), cfg)
	defer e.Close()
	e.Sync(f.table())

	e.SetSearch("a")
	e.SetSearch("ac")
	e.SetSearch("acm")
	raw, committed := e.Query()
	if raw != "acm" || committed != "" {
		t.Fatalf("expected raw acm and nothing committed, got %q/%q", raw, committed)
	}
	if len(e.Rows()) != 2 {
		t.Error("expected filter to wait for the debounce")
	}

	clock.fire(true)
	_, committed = e.Query()
	if committed != "acm" {
		t.Errorf("expected only the latest input to commit, got %q", committed)
	}
	if commits != 1 {
		t.Errorf("expected one commit notification, got %d", commits)
	}
	if got := ids(e.Rows()); len(got) != 1 || got[0] != "doc-000" {
		t.Errorf("unexpected rows %v", got)
	}
}

func TestToggleSortCycles(t *testing.T) {
	f := newFixture([]string{"party"}, 3)
	f.set("doc-000", "party", "b")
	f.set("doc-001", "party", "c")
	f.set("doc-002", "party", "a")
	e := newEngine(t, nil, nil)
	e.Sync(f.table())

	steps := []struct {
		direction SortDirection
		order     string
	}{
		{SortAsc, "[doc-002 doc-000 doc-001]"},
		{SortDesc, "[doc-001 doc-000 doc-002]"},
		{SortNone, "[doc-000 doc-001 doc-002]"},
	}
	for _, step := range steps {
		state, err := e.ToggleSort("party")
		if err != nil {
			t.Fatalf("toggle: %v", err)
		}
		if state.Direction != step.direction {
			t.Errorf("expected %q, got %q", step.direction, state.Direction)
		}
		if got := fmt.Sprint(ids(e.Rows())); got != step.order {
			t.Errorf("%q: expected %s, got %s", step.direction, step.order, got)
		}
	}
	if _, err := e.ToggleSort("missing"); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}
}

func TestNewColumnsGoAfterDocumentColumnDespiteSavedOrder(t *testing.T) {
	layouts := layout.NewMemoryStore()
	_ = layouts.Save(context.Background(), "rev-1", layout.Layout{
		Order:  []string{projection.DocumentColumnID, "col-b", "col-a"},
		Widths: map[string]int{"col-a": 333},
	})
	f := newFixture([]string{"col-c", "col-a", "col-b"}, 1)
	e := newEngine(t, layouts, nil)
	e.Sync(f.table())

	want := fmt.Sprint([]string{projection.DocumentColumnID, "col-c", "col-b", "col-a"})
	if got := fmt.Sprint(e.ColumnOrder()); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	f.addColumn("col-d")
	e.Sync(f.table())
	order := e.ColumnOrder()
	if order[1] != "col-d" {
		t.Errorf("expected col-d at index 1, got %v", order)
	}
	if e.Columns()[4].Width != 333 {
		t.Errorf("expected saved width to be restored, got %+v", e.Columns()[4])
	}
}

func TestFirstSyncWithoutLayoutKeepsRegistryOrder(t *testing.T) {
	f := newFixture([]string{"col-2", "col-1"}, 1)
	e := newEngine(t, nil, nil)
	e.Sync(f.table())
	want := fmt.Sprint([]string{projection.DocumentColumnID, "col-2", "col-1"})
	if got := fmt.Sprint(e.ColumnOrder()); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestReorderPersistsAndKeepsDocumentFirst(t *testing.T) {
	layouts := layout.NewMemoryStore()
	f := newFixture([]string{"col-1", "col-2", "col-3"}, 1)
	e := newEngine(t, layouts, nil)
	e.Sync(f.table())
	ctx := context.Background()

	if err := e.Reorder(ctx, []string{projection.DocumentColumnID, "col-3", "unknown", "col-1"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	want := fmt.Sprint([]string{projection.DocumentColumnID, "col-3", "col-1", "col-2"})
	if got := fmt.Sprint(e.ColumnOrder()); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	saved, err := layouts.Load(ctx, "rev-1")
	if err != nil || fmt.Sprint(saved.Order) != want {
		t.Errorf("expected order to be persisted, got %v (%v)", saved.Order, err)
	}

	if err := e.Reorder(ctx, []string{"col-1", projection.DocumentColumnID}); !errors.Is(err, ErrFixedColumn) {
		t.Errorf("expected ErrFixedColumn, got %v", err)
	}
}

func TestResizeAndVisibility(t *testing.T) {
	layouts := layout.NewMemoryStore()
	f := newFixture([]string{"col-1"}, 1)
	e := newEngine(t, layouts, nil)
	e.Sync(f.table())
	ctx := context.Background()

	if width, _ := e.Resize(ctx, "col-1", 9000); width != 500 {
		t.Errorf("expected max clamp 500, got %d", width)
	}
	if width, _ := e.Resize(ctx, "col-1", 10); width != 100 {
		t.Errorf("expected min clamp 100, got %d", width)
	}
	if _, err := e.Resize(ctx, "nope", 200); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}

	if err := e.SetVisibility(ctx, "col-1", false); err != nil {
		t.Fatalf("hide: %v", err)
	}
	if len(e.VisibleColumns()) != 1 {
		t.Error("expected only the document column to stay visible")
	}
	saved, _ := layouts.Load(ctx, "rev-1")
	if !saved.Hidden["col-1"] || saved.Widths["col-1"] != 100 {
		t.Errorf("expected persisted hidden state and width, got %+v", saved)
	}
	if err := e.SetVisibility(ctx, projection.DocumentColumnID, false); !errors.Is(err, ErrFixedColumn) {
		t.Errorf("expected ErrFixedColumn, got %v", err)
	}
}

func TestFitWidthWeightsLongestValue(t *testing.T) {
	got := FitWidth("Party", "", []int{10, 10, 10, 60}, 10)
	// 0.8*60 + 0.2*22.5 = 52.5 chars
	if got != 525+autoFitPadding {
		t.Errorf("expected %d, got %d", 525+autoFitPadding, got)
	}
	if got := FitWidth("A long header name", "", nil, 10); got != 180+autoFitPadding {
		t.Errorf("expected header to drive an empty column, got %d", got)
	}
}

func TestAutoFitClamps(t *testing.T) {
	f := newFixture([]string{"col-1"}, 2)
	f.set("doc-000", "col-1", "short")
	f.set("doc-001", "col-1", string(make([]byte, 400)))
	e := newEngine(t, nil, nil)
	e.Sync(f.table())

	width, err := e.AutoFit(context.Background(), "col-1")
	if err != nil {
		t.Fatalf("autofit: %v", err)
	}
	if width != 500 {
		t.Errorf("expected max width, got %d", width)
	}
}

func TestMoveRowIsEphemeral(t *testing.T) {
	f := newFixture([]string{"col-1"}, 4)
	e := newEngine(t, nil, nil)
	e.Sync(f.table())

	if err := e.MoveRow("doc-000", 2); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := fmt.Sprint(ids(e.Rows())); got != "[doc-001 doc-002 doc-000 doc-003]" {
		t.Errorf("unexpected order after moving down %s", got)
	}
	if err := e.MoveRow("doc-003", 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := fmt.Sprint(ids(e.Rows())); got != "[doc-003 doc-001 doc-002 doc-000]" {
		t.Errorf("unexpected order after moving up %s", got)
	}
	if err := e.MoveRow("doc-999", 0); !errors.Is(err, ErrUnknownRow) {
		t.Errorf("expected ErrUnknownRow, got %v", err)
	}

	f.set("doc-002", "col-1", "refreshed")
	e.Sync(f.table())
	if got := fmt.Sprint(ids(e.Rows())); got != "[doc-000 doc-001 doc-002 doc-003]" {
		t.Errorf("expected refresh to reset manual order, got %s", got)
	}
}

func TestWindowVirtualizes(t *testing.T) {
	f := newFixture([]string{"col-1"}, 200)
	e := newEngine(t, nil, nil)
	e.Sync(f.table())

	e.SetViewport(Viewport{Height: 520})
	w := e.Window()
	if w.Start != 0 || w.End != 20 || len(w.Rows) != 20 {
		t.Errorf("expected rows [0,20), got [%d,%d)", w.Start, w.End)
	}

	e.SetViewport(Viewport{Height: 520, ScrollTop: 5200})
	w = e.Window()
	if w.Start != 90 || w.End != 120 {
		t.Errorf("expected rows [90,120), got [%d,%d)", w.Start, w.End)
	}
	if w.OffsetTop != 90*52 || w.PageHeight != 200*52 {
		t.Errorf("unexpected geometry %+v", w)
	}
}

func TestPageSizeChangeKeepsFirstVisibleRow(t *testing.T) {
	f := newFixture([]string{"col-1"}, 200)
	e := newEngine(t, nil, nil)
	e.Sync(f.table())

	e.SetViewport(Viewport{Height: 520, PageSize: 50})
	e.SetViewport(Viewport{Height: 520, PageSize: 50, Page: 1, ScrollTop: 10 * 52})
	vp := e.SetViewport(Viewport{Height: 520, PageSize: 25, Page: 1, ScrollTop: 10 * 52})
	if vp.Page != 2 || vp.ScrollTop != 10*52 {
		t.Errorf("expected row 60 to stay first (page 2, offset 10 rows), got %+v", vp)
	}

	w := e.Window()
	if w.PageCount != 8 || w.Page != 2 || w.Rows[0].ID() != "doc-050" {
		t.Errorf("unexpected window %+v first=%s", w, w.Rows[0].ID())
	}

	vp = e.SetViewport(Viewport{Height: 900, PageSize: 25, Page: 2, ScrollTop: 10 * 52, Fullscreen: true})
	if vp.ScrollTop != 10*52 || vp.Page != 2 {
		t.Errorf("expected fullscreen to keep scroll position, got %+v", vp)
	}
}

func TestCellDetailOnlyForCompleted(t *testing.T) {
	f := newFixture([]string{"col-1"}, 2)
	f.set("doc-000", "col-1", "Yes")
	f.cells.Upsert("doc-001", "col-1", cells.Cell{State: cells.StateError, ErrorMessage: "boom", Origin: cells.OriginLive})
	e := newEngine(t, nil, nil)
	e.Sync(f.table())

	detail, ok := e.CellDetail("doc-000", "col-1")
	if !ok || detail.LongValue != "Yes in detail" || detail.Confidence != 0.9 || detail.Filename != "file-000.pdf" {
		t.Errorf("unexpected detail %+v (%v)", detail, ok)
	}
	if _, ok := e.CellDetail("doc-001", "col-1"); ok {
		t.Error("expected errored cell click to be a no-op")
	}
	if _, ok := e.CellDetail("doc-000", "missing"); ok {
		t.Error("expected unknown column to be a no-op")
	}
}

func TestDebouncerCancel(t *testing.T) {
	clock := &fakeClock{}
	d := NewDebouncer(time.Second, clock.AfterFunc)
	ran := false
	d.Trigger(func() { ran = true })
	d.Cancel()
	clock.fire(true)
	if ran {
		t.Error("expected cancelled func not to run")
	}

	immediate := NewDebouncer(0, nil)
	immediate.Trigger(func() { ran = true })
	if !ran {
		t.Error("expected zero delay to run inline")
	}
}
