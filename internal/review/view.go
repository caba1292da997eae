// Package review owns the lifetime of one mounted review view: its
// registries, its cell store, the snapshot load that seeds them and the live
// subscription that keeps them current.
package review

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/live"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/projection"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/util"
)

type Status string

const (
	StatusLoading     Status = "loading"
	StatusError       Status = "error"
	StatusNoDocuments Status = "no_documents"
	StatusNoColumns   Status = "no_columns"
	StatusReady       Status = "ready"
	StatusClosed      Status = "closed"
)

type ChangeKind string

const (
	ChangeSnapshot     ChangeKind = "snapshot"
	ChangeStatus       ChangeKind = "status"
	ChangeColumn       ChangeKind = "column"
	ChangeDocument     ChangeKind = "document"
	ChangeCell         ChangeKind = "cell"
	ChangeChannelError ChangeKind = "channel_error"
)

// Change tells watchers which part of the view moved.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	DocumentID string     `json:"documentId,omitempty"`
	ColumnID   string     `json:"columnId,omitempty"`
	Seq        int64      `json:"seq,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// Resolved describes a completed or errored cell applied from the live channel.
type Resolved struct {
	ReviewID string
	Document store.Document
	Column   store.Column
	Cell     *cells.Cell
}

type Options struct {
	ID        string
	ReviewID  string
	Snapshot  SnapshotSource
	Documents DocumentFetcher
	Live      live.Source
	Now       func() time.Time
	Log       zerolog.Logger
	// OnResolved runs on the subscriber goroutine outside the view lock.
	OnResolved func(Resolved)
}

// View is one mounted review. All state is guarded by mu; the subscriber
// goroutine is the only writer after the snapshot is seeded.
type View struct {
	id         string
	reviewID   string
	loader     *Loader
	documents  DocumentFetcher
	source     live.Source
	now        func() time.Time
	log        zerolog.Logger
	onResolved func(Resolved)

	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	registry   Registry
	cells      *cells.Store
	projector  projection.Projector
	loaded     bool
	mounting   bool
	loadErr    error
	channelErr error
	closed     bool
	sub        live.Subscription

	watchMu     sync.Mutex
	watchers    map[int]chan Change
	nextWatcher int
}

func NewView(opts Options) *View {
	id := opts.ID
	if id == "" {
		id = util.NewID("view")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	life, cancel := context.WithCancel(context.Background())
	return &View{
		id:         id,
		reviewID:   opts.ReviewID,
		loader:     NewLoader(opts.Snapshot),
		documents:  opts.Documents,
		source:     opts.Live,
		now:        now,
		log:        opts.Log.With().Str("review_id", opts.ReviewID).Str("view_id", id).Logger(),
		onResolved: opts.OnResolved,
		life:       life,
		cancel:     cancel,
		cells:      cells.NewStore(),
		watchers:   make(map[int]chan Change),
	}
}

func (v *View) ID() string       { return v.id }
func (v *View) ReviewID() string { return v.reviewID }

// Mount loads the snapshot and only then opens the live channel, so no
// event can race the seed. A load failure leaves the view in StatusError
// and returns the *SnapshotError; a subscribe failure is logged and the
// view stays usable without live updates. Mount on a view that already
// holds a subscription is a no-op; call it again to retry after a failure.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	switch {
	case v.closed:
		v.mu.Unlock()
		return ErrViewClosed
	case v.sub != nil || v.mounting:
		v.mu.Unlock()
		return nil
	}
	v.mounting = true
	v.loadErr = nil
	v.mu.Unlock()

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(v.life, cancel)
	defer stop()

	started := v.now()
	snapshot, err := v.loader.Load(loadCtx, v.reviewID)

	v.mu.Lock()
	if v.closed {
		v.mounting = false
		v.mu.Unlock()
		v.log.Debug().Msg("discarding snapshot for closed view")
		return ErrViewClosed
	}
	if err != nil {
		v.loadErr = err
		v.mounting = false
		v.mu.Unlock()
		v.log.Error().Err(err).Msg("snapshot load failed")
		v.notify(Change{Kind: ChangeStatus, Message: err.Error()})
		return err
	}
	v.seed(snapshot)
	v.mu.Unlock()
	v.log.Info().
		Int("columns", len(snapshot.Columns)).
		Int("documents", len(snapshot.Documents)).
		Int("results", len(snapshot.Results)).
		Dur("duration", v.now().Sub(started)).
		Msg("snapshot seeded")
	v.notify(Change{Kind: ChangeSnapshot})

	sub, err := v.source.Subscribe(loadCtx, v.reviewID)

	v.mu.Lock()
	v.mounting = false
	if v.closed {
		v.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return ErrViewClosed
	}
	if err != nil {
		v.channelErr = err
		v.mu.Unlock()
		v.log.Warn().Err(err).Msg("live channel unavailable, serving last known state")
		v.notify(Change{Kind: ChangeChannelError, Message: err.Error()})
		return nil
	}
	v.sub = sub
	v.channelErr = nil
	v.wg.Add(1)
	v.mu.Unlock()

	go v.consume(sub)
	return nil
}

// seed installs a snapshot. Caller holds mu.
func (v *View) seed(snapshot Snapshot) {
	now := v.now()
	v.registry.Replace(snapshot.Columns, snapshot.Documents)
	v.cells.Reset()
	for _, result := range snapshot.Results {
		v.cells.Upsert(result.DocumentID, result.ColumnID, CellFromResult(result, now))
	}
	for _, document := range v.registry.Documents() {
		for _, column := range v.registry.Columns() {
			v.cells.EnsurePending(document.ID, column.ID, now, cells.OriginSeed)
		}
	}
	v.loaded = true
}

// CellFromResult maps a stored result onto a cell. now stands in for a
// missing update time.
func CellFromResult(result store.Result, now time.Time) cells.Cell {
	timestamp := result.UpdatedAt
	if timestamp.IsZero() {
		timestamp = now
	}
	cell := cells.Cell{
		ShortValue:      result.ShortValue,
		LongValue:       result.LongValue,
		Confidence:      result.Confidence,
		SourceReference: result.SourceRef,
		State:           cells.StateCompleted,
		Timestamp:       timestamp,
		Origin:          cells.OriginSeed,
	}
	switch {
	case result.Status == store.ResultStatusError || result.ErrorMessage != nil:
		cell = cells.Cell{State: cells.StateError, Timestamp: timestamp, Origin: cells.OriginSeed}
		if result.ErrorMessage != nil {
			cell.ErrorMessage = *result.ErrorMessage
		}
	case result.Status == store.ResultStatusProcessing:
		cell = cells.Cell{State: cells.StateProcessing, Timestamp: timestamp, Origin: cells.OriginSeed}
	case result.Status == store.ResultStatusPending:
		cell = cells.Cell{State: cells.StatePending, Timestamp: timestamp, Origin: cells.OriginSeed}
	}
	return cell
}

func (v *View) consume(sub live.Subscription) {
	defer v.wg.Done()
	for {
		select {
		case <-v.life.Done():
			return
		case delivery, ok := <-sub.Deliveries():
			if !ok {
				if v.life.Err() == nil {
					v.log.Warn().Msg("live channel closed by transport")
					v.setChannelErr(errors.New("live channel closed"))
				}
				return
			}
			if delivery.Err != nil {
				v.log.Warn().Err(delivery.Err).Msg("live channel error")
				v.setChannelErr(delivery.Err)
				continue
			}
			event, err := live.Decode(delivery.Data, v.now())
			if err != nil {
				v.log.Warn().Err(err).Msg("dropping live event")
				continue
			}
			v.handle(v.life, event)
		}
	}
}

func (v *View) setChannelErr(err error) {
	v.mu.Lock()
	v.channelErr = err
	v.mu.Unlock()
	v.notify(Change{Kind: ChangeChannelError, Message: err.Error()})
}

// handle hydrates incomplete document payloads and applies the event.
func (v *View) handle(ctx context.Context, event live.Event) bool {
	if upserted, ok := event.(live.DocumentUpserted); ok && !upserted.Complete && v.documents != nil {
		document, err := v.documents.GetDocument(ctx, upserted.Document.ID)
		switch {
		case err != nil:
			v.log.Warn().Err(err).Str("document_id", upserted.Document.ID).Msg("document hydration failed")
		case document.ReviewID != "" && document.ReviewID != v.reviewID:
			v.log.Warn().Str("document_id", document.ID).Msg("ignoring document of another review")
			return false
		default:
			upserted.Document = document
			upserted.Complete = true
		}
		event = upserted
	}

	changes, resolved := v.apply(event)
	for _, change := range changes {
		v.notify(change)
	}
	if v.onResolved != nil {
		for _, r := range resolved {
			v.onResolved(r)
		}
	}
	return len(changes) > 0
}

// apply mutates registries and cells for one event. New pairings get their
// pending cells within the same critical section. Results for a document or
// column the registry does not hold are dropped.
func (v *View) apply(event live.Event) ([]Change, []Resolved) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, nil
	}
	now := v.now()

	switch e := event.(type) {
	case live.ColumnUpserted:
		if v.registry.UpsertColumn(e.Column) {
			for _, document := range v.registry.Documents() {
				v.cells.EnsurePending(document.ID, e.Column.ID, now, cells.OriginLive)
			}
		}
		return []Change{{Kind: ChangeColumn, ColumnID: e.Column.ID, Seq: e.Seq}}, nil

	case live.ColumnDeleted:
		if !v.registry.RemoveColumn(e.ColumnID) {
			return nil, nil
		}
		v.cells.RemoveColumn(e.ColumnID)
		return []Change{{Kind: ChangeColumn, ColumnID: e.ColumnID, Seq: e.Seq}}, nil

	case live.DocumentUpserted:
		document := e.Document
		if document.Filename == "" {
			document.Filename = document.ID
		}
		if v.registry.UpsertDocument(document) {
			for _, column := range v.registry.Columns() {
				v.cells.EnsurePending(document.ID, column.ID, now, cells.OriginLive)
			}
		}
		return []Change{{Kind: ChangeDocument, DocumentID: document.ID, Seq: e.Seq}}, nil

	case live.DocumentDeleted:
		if !v.registry.RemoveDocument(e.DocumentID) {
			return nil, nil
		}
		v.cells.RemoveDocument(e.DocumentID)
		return []Change{{Kind: ChangeDocument, DocumentID: e.DocumentID, Seq: e.Seq}}, nil

	case live.ResultUpserted:
		if !v.registry.HasDocument(e.DocumentID) || !v.registry.HasColumn(e.ColumnID) {
			v.log.Debug().Str("document_id", e.DocumentID).Str("column_id", e.ColumnID).Msg("dropping result outside the grid")
			return nil, nil
		}
		if !v.cells.Upsert(e.DocumentID, e.ColumnID, e.Cell) {
			return nil, nil
		}
		changes := []Change{{Kind: ChangeCell, DocumentID: e.DocumentID, ColumnID: e.ColumnID, Seq: e.Seq}}
		if !e.Cell.State.Resolved() || v.onResolved == nil {
			return changes, nil
		}
		resolved := Resolved{ReviewID: v.reviewID, Cell: v.cells.Get(e.DocumentID, e.ColumnID)}
		resolved.Document, _ = v.documentByID(e.DocumentID)
		resolved.Column, _ = v.columnByID(e.ColumnID)
		return changes, []Resolved{resolved}

	case live.ResultDeleted:
		if !v.registry.HasDocument(e.DocumentID) || !v.registry.HasColumn(e.ColumnID) {
			return nil, nil
		}
		pending := cells.Pending(now, cells.OriginLive)
		pending.Seq = e.Seq
		if !v.cells.Upsert(e.DocumentID, e.ColumnID, pending) {
			return nil, nil
		}
		return []Change{{Kind: ChangeCell, DocumentID: e.DocumentID, ColumnID: e.ColumnID, Seq: e.Seq}}, nil
	}
	return nil, nil
}

func (v *View) documentByID(id string) (store.Document, bool) {
	documents := v.registry.Documents()
	if i := indexOfDocument(documents, id); i >= 0 {
		return documents[i], true
	}
	return store.Document{ID: id}, false
}

func (v *View) columnByID(id string) (store.Column, bool) {
	columns := v.registry.Columns()
	if i := indexOfColumn(columns, id); i >= 0 {
		return columns[i], true
	}
	return store.Column{ID: id}, false
}

// Close releases the live subscription, abandons an in-flight load and
// waits for the subscriber goroutine to exit. It is safe to call twice.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	v.cancel()
	var err error
	if sub != nil {
		err = sub.Close()
	}
	v.wg.Wait()
	v.closeWatchers()
	v.log.Debug().Msg("view closed")
	return err
}

func (v *View) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.statusLocked()
}

func (v *View) statusLocked() Status {
	switch {
	case v.closed:
		return StatusClosed
	case v.loadErr != nil:
		return StatusError
	case !v.loaded:
		return StatusLoading
	case len(v.registry.Documents()) == 0:
		return StatusNoDocuments
	case len(v.registry.Columns()) == 0:
		return StatusNoColumns
	default:
		return StatusReady
	}
}

// Err returns the snapshot error behind StatusError.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadErr
}

// ChannelErr returns the most recent live channel error, if any. The view
// keeps serving its last known state while it is set.
func (v *View) ChannelErr() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelErr
}

// Table returns the current projection. The result is immutable and is
// the same pointer until something visible changes.
func (v *View) Table() *projection.Table {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.projector.Project(v.registry.Version(), v.registry.Columns(), v.registry.Documents(), v.cells)
}

func (v *View) Stats() cells.Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cells.Summarize(v.cells.All())
}

// Cell returns the stored cell for a pairing, nil when it was never seeded.
func (v *View) Cell(documentID, columnID string) *cells.Cell {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cells.Get(documentID, columnID)
}

// Watch registers a change listener. Notifications are dropped for a
// watcher whose buffer is full. The returned func unregisters it.
func (v *View) Watch(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Change, buffer)

	v.watchMu.Lock()
	id := v.nextWatcher
	v.nextWatcher++
	if v.watchers == nil {
		close(ch)
		v.watchMu.Unlock()
		return ch, func() {}
	}
	v.watchers[id] = ch
	v.watchMu.Unlock()

	return ch, func() {
		v.watchMu.Lock()
		defer v.watchMu.Unlock()
		if w, ok := v.watchers[id]; ok {
			delete(v.watchers, id)
			close(w)
		}
	}
}

func (v *View) notify(change Change) {
	v.watchMu.Lock()
	defer v.watchMu.Unlock()
	for _, ch := range v.watchers {
		select {
		case ch <- change:
		default:
		}
	}
}

func (v *View) closeWatchers() {
	v.watchMu.Lock()
	defer v.watchMu.Unlock()
	for id, ch := range v.watchers {
		delete(v.watchers, id)
		close(ch)
	}
	v.watchers = nil
}
