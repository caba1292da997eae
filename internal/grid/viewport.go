package grid

import "github.com/CREVIOS/Tabular-Frontend-sub000/internal/projection"

const defaultViewportHeight = 800

// Viewport is the scroll state reported by the client. PageSize 0 disables
// pagination.
type Viewport struct {
	ScrollTop  int  `json:"scrollTop"`
	Height     int  `json:"height"`
	PageSize   int  `json:"pageSize"`
	Page       int  `json:"page"`
	Fullscreen bool `json:"fullscreen"`
}

// Window is the slice of rows to materialize.
type Window struct {
	TotalRows  int `json:"totalRows"`
	Page       int `json:"page"`
	PageCount  int `json:"pageCount"`
	PageSize   int `json:"pageSize"`
	Start      int `json:"start"`
	End        int `json:"end"`
	OffsetTop  int `json:"offsetTop"`
	PageHeight int `json:"pageHeight"`
	RowHeight  int `json:"rowHeight"`

	Rows []*projection.Row `json:"-"`
}

// SetViewport applies a new scroll state. When the page size changes the
// first visible row stays in view; toggling fullscreen keeps the scroll
// offset and only re-virtualizes.
func (e *Engine) SetViewport(next Viewport) Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()

	next.ScrollTop = max(0, next.ScrollTop)
	next.Height = max(0, next.Height)
	next.PageSize = max(0, next.PageSize)
	next.Page = max(0, next.Page)

	if next.PageSize != e.viewport.PageSize {
		first := e.firstVisibleLocked()
		if next.PageSize == 0 {
			next.Page = 0
			next.ScrollTop = first * e.cfg.RowHeight
		} else {
			next.Page = first / next.PageSize
			next.ScrollTop = (first % next.PageSize) * e.cfg.RowHeight
		}
	}
	e.viewport = next
	return e.viewport
}

func (e *Engine) Viewport() Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewport
}

// firstVisibleLocked is the absolute index of the topmost visible row.
func (e *Engine) firstVisibleLocked() int {
	return e.viewport.Page*e.viewport.PageSize + e.viewport.ScrollTop/e.cfg.RowHeight
}

// Window computes the rows intersecting the viewport plus overscan, within
// the current page of the filtered rows.
func (e *Engine) Window() Window {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.windowLocked(e.rowsLocked())
}

func (e *Engine) windowLocked(rows []*projection.Row) Window {
	vp := e.viewport
	total := len(rows)
	w := Window{TotalRows: total, PageSize: vp.PageSize, RowHeight: e.cfg.RowHeight, PageCount: 1}

	pageStart, pageEnd := 0, total
	if vp.PageSize > 0 {
		w.PageCount = max(1, (total+vp.PageSize-1)/vp.PageSize)
		w.Page = min(vp.Page, w.PageCount-1)
		pageStart = min(total, w.Page*vp.PageSize)
		pageEnd = min(total, pageStart+vp.PageSize)
	}
	pageRows := pageEnd - pageStart
	w.PageHeight = pageRows * e.cfg.RowHeight

	height := vp.Height
	if height == 0 {
		height = defaultViewportHeight
	}
	scrollTop := min(vp.ScrollTop, max(0, w.PageHeight-height))

	first := max(0, scrollTop/e.cfg.RowHeight-e.cfg.Overscan)
	last := min(pageRows, (scrollTop+height+e.cfg.RowHeight-1)/e.cfg.RowHeight+e.cfg.Overscan)
	if first > last {
		first = last
	}

	w.Start = pageStart + first
	w.End = pageStart + last
	w.OffsetTop = first * e.cfg.RowHeight
	w.Rows = rows[w.Start:w.End]
	return w
}
