// Package grid holds the presentation state of a review grid: sorting,
// filtering, column layout, manual row order, virtualization and cell
// detail. It reads projected tables and never touches the cell store.
package grid

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/layout"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/projection"
)

var (
	ErrUnknownColumn = errors.New("grid: unknown column")
	ErrUnknownRow    = errors.New("grid: unknown row")
	ErrFixedColumn   = errors.New("grid: the document column cannot be moved or hidden")
)

type Config struct {
	ReviewID       string
	RowHeight      int
	Overscan       int
	PageSize       int
	SearchDebounce time.Duration
	MinWidth       int
	MaxWidth       int
	DefaultWidth   int
	DocumentWidth  int
	// CharWidth is the average glyph width in pixels used by auto-fit.
	CharWidth float64
	AfterFunc AfterFunc
	Layouts   layout.Store
	Log       zerolog.Logger
	// OnChange runs after a debounced search commits.
	OnChange func()
}

func (c *Config) defaults() {
	if c.RowHeight <= 0 {
		c.RowHeight = 52
	}
	if c.Overscan < 0 {
		c.Overscan = 0
	}
	if c.PageSize < 0 {
		c.PageSize = 0
	}
	if c.MinWidth <= 0 {
		c.MinWidth = 120
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = 600
	}
	if c.DefaultWidth <= 0 {
		c.DefaultWidth = 220
	}
	if c.DocumentWidth <= 0 {
		c.DocumentWidth = 260
	}
	if c.CharWidth <= 0 {
		c.CharWidth = 7.5
	}
	if c.Layouts == nil {
		c.Layouts = layout.NewMemoryStore()
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg      Config
	debounce *Debouncer

	mu    sync.Mutex
	table *projection.Table

	// column layout
	order     []string
	known     map[string]bool
	restored  bool
	widths    map[string]int
	hidden    map[string]bool
	columnsOf *projection.Table

	sort           SortState
	rawQuery       string
	committedQuery string

	manualOrder []string
	manualBase  *projection.Table

	viewport Viewport
}

// New builds an engine and restores the saved layout of cfg.ReviewID.
func New(ctx context.Context, cfg Config) *Engine {
	cfg.defaults()
	e := &Engine{
		cfg:      cfg,
		debounce: NewDebouncer(cfg.SearchDebounce, cfg.AfterFunc),
		known:    make(map[string]bool),
		widths:   make(map[string]int),
		hidden:   make(map[string]bool),
		viewport: Viewport{PageSize: cfg.PageSize},
	}

	saved, err := cfg.Layouts.Load(ctx, cfg.ReviewID)
	switch {
	case errors.Is(err, layout.ErrNotFound):
	case err != nil:
		cfg.Log.Warn().Err(err).Str("review_id", cfg.ReviewID).Msg("layout restore failed")
	default:
		e.restored = true
		for _, id := range saved.Order {
			if id == projection.DocumentColumnID {
				continue
			}
			e.order = append(e.order, id)
			e.known[id] = true
		}
		for id, width := range saved.Widths {
			e.widths[id] = width
		}
		for id, hidden := range saved.Hidden {
			if hidden {
				e.hidden[id] = true
			}
		}
	}
	return e
}

// Sync installs the latest projection. It re-applies new-column placement
// whenever the column set changed and drops the manual row order whenever
// the table changed.
func (e *Engine) Sync(table *projection.Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if table == e.table {
		return
	}
	e.table = table
	e.manualOrder = nil
	e.manualBase = nil
	if e.columnsOf == nil || !sameColumnSet(e.columnsOf, table) {
		e.reconcileColumnsLocked()
	}
	e.columnsOf = table
}

func sameColumnSet(a, b *projection.Table) bool {
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i].ID != b.Columns[i].ID {
			return false
		}
	}
	return true
}

// reconcileColumnsLocked rebuilds the column order: columns never seen
// before go right after the document column in registry order, then the
// remembered order of the columns that still exist.
func (e *Engine) reconcileColumnsLocked() {
	current := make(map[string]bool, len(e.table.Columns))
	for _, column := range e.table.Columns {
		current[column.ID] = true
	}

	var next []string
	firstSync := len(e.known) == 0 && !e.restored
	if !firstSync {
		for _, column := range e.table.Columns {
			if !e.known[column.ID] {
				next = append(next, column.ID)
			}
		}
	}
	placed := make(map[string]bool, len(e.table.Columns))
	for _, id := range next {
		placed[id] = true
	}
	for _, id := range e.order {
		if current[id] && !placed[id] {
			next = append(next, id)
			placed[id] = true
		}
	}
	for _, column := range e.table.Columns {
		if !placed[column.ID] {
			next = append(next, column.ID)
			placed[column.ID] = true
		}
	}

	for _, column := range e.table.Columns {
		e.known[column.ID] = true
	}
	e.order = next
}

// ColumnOrder returns the full order including the document column at 0.
func (e *Engine) ColumnOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.columnOrderLocked()
}

func (e *Engine) columnOrderLocked() []string {
	out := make([]string, 0, len(e.order)+1)
	out = append(out, projection.DocumentColumnID)
	return append(out, e.order...)
}

func (e *Engine) snapshotLayoutLocked() layout.Layout {
	saved := layout.Layout{
		Order:     e.columnOrderLocked(),
		Widths:    make(map[string]int, len(e.widths)),
		Hidden:    make(map[string]bool, len(e.hidden)),
		UpdatedAt: time.Now().UTC(),
	}
	for id, width := range e.widths {
		saved.Widths[id] = width
	}
	for id := range e.hidden {
		saved.Hidden[id] = true
	}
	return saved
}

func (e *Engine) persist(ctx context.Context, saved layout.Layout) {
	if err := e.cfg.Layouts.Save(ctx, e.cfg.ReviewID, saved); err != nil {
		e.cfg.Log.Warn().Err(err).Str("review_id", e.cfg.ReviewID).Msg("layout save failed")
	}
}

// Close cancels a pending search commit.
func (e *Engine) Close() {
	e.debounce.Cancel()
}
