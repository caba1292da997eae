package cells

import (
	"iter"
	"time"
)

// Store maps (document, column) to the current Cell. It is not safe for
// concurrent use; the owning review view serializes every access.
type Store struct {
	cells   map[Key]*Cell
	version uint64
}

func NewStore() *Store {
	return &Store{cells: make(map[Key]*Cell)}
}

// Upsert replaces the cell at (documentID, columnID) with a fresh copy of
// cell. Fields are never merged. Two writes are refused and report false:
//   - a seeded cell over a cell already written from the live channel, since
//     the live answer is authoritative;
//   - a sequenced cell whose Seq is not newer than the current cell's Seq.
func (s *Store) Upsert(documentID, columnID string, cell Cell) bool {
	key := Key{DocumentID: documentID, ColumnID: columnID}
	if current, ok := s.cells[key]; ok {
		if cell.Origin == OriginSeed && current.Origin == OriginLive {
			return false
		}
		if cell.Seq > 0 && current.Seq >= cell.Seq {
			return false
		}
	}
	next := cell
	s.cells[key] = &next
	s.version++
	return true
}

// EnsurePending materializes a pending cell if the pairing has none yet.
func (s *Store) EnsurePending(documentID, columnID string, now time.Time, origin Origin) bool {
	key := Key{DocumentID: documentID, ColumnID: columnID}
	if _, ok := s.cells[key]; ok {
		return false
	}
	pending := Pending(now, origin)
	s.cells[key] = &pending
	s.version++
	return true
}

// Get returns the cell or nil when the pairing was never seeded. A nil after
// seeding has completed indicates a bookkeeping bug, not an empty state.
func (s *Store) Get(documentID, columnID string) *Cell {
	return s.cells[Key{DocumentID: documentID, ColumnID: columnID}]
}

// All returns a lazy sequence over the current cells. Ranging it again
// restarts from the live map. Intended for aggregates only; row
// construction goes through Get so that it follows registry order.
func (s *Store) All() iter.Seq2[Key, *Cell] {
	return func(yield func(Key, *Cell) bool) {
		for key, cell := range s.cells {
			if !yield(key, cell) {
				return
			}
		}
	}
}

// RealtimeOverlay returns the resolved cells that came from the live channel,
// i.e. the authoritative answers as of the latest event.
func (s *Store) RealtimeOverlay() map[Key]*Cell {
	overlay := make(map[Key]*Cell)
	for key, cell := range s.cells {
		if cell.Origin == OriginLive && cell.State.Resolved() {
			overlay[key] = cell
		}
	}
	return overlay
}

// RemoveDocument prunes every cell of the document and returns how many went.
func (s *Store) RemoveDocument(documentID string) int {
	removed := 0
	for key := range s.cells {
		if key.DocumentID == documentID {
			delete(s.cells, key)
			removed++
		}
	}
	if removed > 0 {
		s.version++
	}
	return removed
}

// RemoveColumn prunes every cell of the column and returns how many went.
func (s *Store) RemoveColumn(columnID string) int {
	removed := 0
	for key := range s.cells {
		if key.ColumnID == columnID {
			delete(s.cells, key)
			removed++
		}
	}
	if removed > 0 {
		s.version++
	}
	return removed
}

// Reset drops every cell, used before reseeding after a retried load.
func (s *Store) Reset() {
	if len(s.cells) == 0 {
		return
	}
	s.cells = make(map[Key]*Cell)
	s.version++
}

func (s *Store) Len() int {
	return len(s.cells)
}

// Version increments on every accepted mutation.
func (s *Store) Version() uint64 {
	return s.version
}
