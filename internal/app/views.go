package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/export"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/grid"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/review"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/util"
)

// viewSession is one client's mounted grid: the review view that owns the
// data and the engine that owns its presentation.
type viewSession struct {
	id         string
	reviewName string
	view       *review.View
	grid       *grid.Engine
	// filtered receives a signal whenever a debounced search commits.
	filtered chan struct{}

	mu         sync.Mutex
	lastActive time.Time
}

func (v *viewSession) touch(now time.Time) {
	v.mu.Lock()
	v.lastActive = now
	v.mu.Unlock()
}

func (v *viewSession) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastActive
}

// sync hands the latest projection to the engine. Unchanged tables are
// the same pointer, so this is cheap when nothing moved.
func (v *viewSession) sync() {
	v.grid.Sync(v.view.Table())
}

func (v *viewSession) signalFiltered() {
	select {
	case v.filtered <- struct{}{}:
	default:
	}
}

func (v *viewSession) close() {
	v.grid.Close()
	_ = v.view.Close()
}

// MountView creates a view session, loads the review snapshot and then
// subscribes to its live channel. A failed snapshot still yields a session
// in the error state that can be retried.
func (s *Service) MountView(ctx context.Context, reviewID string) (ViewState, error) {
	reviewRecord, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return ViewState{}, err
	}

	id := util.NewID("view")
	log := s.log.With().Str("view_id", id).Logger()
	sess := &viewSession{
		id:         id,
		reviewName: reviewRecord.Name,
		filtered:   make(chan struct{}, 1),
		lastActive: s.now(),
	}

	opts := review.Options{
		ID:        id,
		ReviewID:  reviewID,
		Snapshot:  s.store,
		Documents: s.store,
		Live:      s.bus,
		Now:       s.now,
		Log:       log,
	}
	if s.search != nil {
		opts.OnResolved = s.search.IndexResolved
	}
	sess.view = review.NewView(opts)
	sess.grid = grid.New(ctx, grid.Config{
		ReviewID:       reviewID,
		RowHeight:      s.cfg.RowHeight,
		Overscan:       s.cfg.Overscan,
		SearchDebounce: s.cfg.SearchDebounce,
		AfterFunc:      s.afterFunc,
		Layouts:        s.layouts,
		Log:            log,
		OnChange:       sess.signalFiltered,
	})

	s.mu.Lock()
	s.views[id] = sess
	s.mu.Unlock()

	if err := sess.view.Mount(ctx); err != nil && !errors.Is(err, review.ErrPartialSnapshot) {
		s.dropView(id)
		return ViewState{}, err
	}
	log.Info().Str("review_id", reviewID).Str("status", string(sess.view.Status())).Msg("view mounted")
	return s.renderView(sess), nil
}

// RetryView re-runs the snapshot load of a view in the error state.
func (s *Service) RetryView(ctx context.Context, viewID string) (ViewState, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return ViewState{}, err
	}
	if err := sess.view.Mount(ctx); err != nil && !errors.Is(err, review.ErrPartialSnapshot) {
		return ViewState{}, err
	}
	return s.renderView(sess), nil
}

func (s *Service) GetView(viewID string) (ViewState, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return ViewState{}, err
	}
	return s.renderView(sess), nil
}

// UnmountView tears a view down. Unknown ids are not an error.
func (s *Service) UnmountView(viewID string) {
	s.dropView(viewID)
}

func (s *Service) dropView(viewID string) {
	s.mu.Lock()
	sess, ok := s.views[viewID]
	delete(s.views, viewID)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
}

func (s *Service) session(viewID string) (*viewSession, error) {
	s.mu.Lock()
	sess, ok := s.views[viewID]
	s.mu.Unlock()
	if !ok {
		return nil, errViewNotFound
	}
	sess.touch(s.now())
	sess.sync()
	return sess, nil
}

// ViewCount reports the number of mounted views.
func (s *Service) ViewCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// SweepIdle unmounts views untouched for longer than the idle TTL and
// returns how many it closed.
func (s *Service) SweepIdle() int {
	ttl := s.cfg.ViewIdleTTL
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	var expired []*viewSession
	for id, sess := range s.views {
		if sess.idleSince().Before(cutoff) {
			expired = append(expired, sess)
			delete(s.views, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.close()
		s.log.Info().Str("view_id", sess.id).Str("review_id", sess.view.ReviewID()).Msg("idle view expired")
	}
	return len(expired)
}

// RunSweeper expires idle views until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepIdle()
		}
	}
}

// Close unmounts every view.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := make([]*viewSession, 0, len(s.views))
	for id, sess := range s.views {
		sessions = append(sessions, sess)
		delete(s.views, id)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
	if s.search != nil {
		s.search.Flush()
	}
}

func (s *Service) SetSearch(viewID, raw string) (ViewState, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return ViewState{}, err
	}
	sess.grid.SetSearch(raw)
	return s.renderView(sess), nil
}

func (s *Service) ToggleSort(viewID, columnID string) (ViewState, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return ViewState{}, err
	}
	if _, err := sess.grid.ToggleSort(columnID); err != nil {
		return ViewState{}, err
	}
	return s.renderView(sess), nil
}

func (s *Service) ReorderColumns(ctx context.Context, viewID string, order []string) ([]grid.ColumnState, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return nil, err
	}
	if err := sess.grid.Reorder(ctx, order); err != nil {
		return nil, err
	}
	return sess.grid.Columns(), nil
}

func (s *Service) ResizeColumn(ctx context.Context, viewID, columnID string, width int) (int, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return 0, err
	}
	return sess.grid.Resize(ctx, columnID, width)
}

func (s *Service) AutoFitColumn(ctx context.Context, viewID, columnID string) (int, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return 0, err
	}
	return sess.grid.AutoFit(ctx, columnID)
}

func (s *Service) SetColumnVisibility(ctx context.Context, viewID, columnID string, visible bool) ([]grid.ColumnState, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return nil, err
	}
	if err := sess.grid.SetVisibility(ctx, columnID, visible); err != nil {
		return nil, err
	}
	return sess.grid.Columns(), nil
}

func (s *Service) MoveRow(viewID, documentID string, toIndex int) (ViewState, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return ViewState{}, err
	}
	if err := sess.grid.MoveRow(documentID, toIndex); err != nil {
		return ViewState{}, err
	}
	return s.renderView(sess), nil
}

func (s *Service) SetViewport(viewID string, viewport grid.Viewport) (ViewState, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return ViewState{}, err
	}
	sess.grid.SetViewport(viewport)
	return s.renderView(sess), nil
}

// CellDetail returns false for cells that have nothing to open.
func (s *Service) CellDetail(viewID, documentID, columnID string) (grid.Detail, bool, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return grid.Detail{}, false, err
	}
	detail, ok := sess.grid.CellDetail(documentID, columnID)
	return detail, ok, nil
}

func (s *Service) Stats(viewID string) (cells.Stats, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return cells.Stats{}, err
	}
	return sess.view.Stats(), nil
}

// Export encodes the rows the grid currently shows, in display order.
func (s *Service) Export(ctx context.Context, viewID string, cfg export.Config) (*export.Result, error) {
	sess, err := s.session(viewID)
	if err != nil {
		return nil, err
	}
	if status := sess.view.Status(); status != review.StatusReady {
		return nil, domainError(http.StatusConflict, "VIEW_NOT_READY", "Nothing to export while the view is "+string(status), nil)
	}
	return s.exports.Export(ctx, s.exportRequest(sess, cfg))
}

// exportRequest takes the table and rows from the engine in one read, so a
// live event landing mid-export cannot shift cell positions under the rows.
func (s *Service) exportRequest(sess *viewSession, cfg export.Config) export.Request {
	table, rows := sess.grid.TableRows()
	if len(cfg.ColumnIDs) == 0 {
		for _, column := range sess.grid.VisibleColumns() {
			cfg.ColumnIDs = append(cfg.ColumnIDs, column.ID)
		}
	}
	_, committed := sess.grid.Query()
	return export.Request{
		ReviewID:   sess.view.ReviewID(),
		ReviewName: sess.reviewName,
		Table:      table,
		Rows:       rows,
		Filter:     committed,
		Config:     cfg,
		Now:        s.now(),
	}
}

// WatchView streams change notices for a view. The returned channels close
// or stop firing when the view is torn down; cancel releases the watcher.
func (s *Service) WatchView(viewID string) (<-chan review.Change, <-chan struct{}, func(), error) {
	sess, err := s.session(viewID)
	if err != nil {
		return nil, nil, nil, err
	}
	changes, cancel := sess.view.Watch(64)
	return changes, sess.filtered, cancel, nil
}

// KeepAlive marks a streamed view as active.
func (s *Service) KeepAlive(viewID string) error {
	_, err := s.session(viewID)
	return err
}
