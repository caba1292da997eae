// Package layout persists per-review column preferences: order, widths and
// visibility.
package layout

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no layout was saved for a review.
var ErrNotFound = errors.New("layout: not found")

// Layout is the saved column state of one review. Order lists column ids
// left to right and may be stale; unknown ids are ignored on restore.
type Layout struct {
	Order     []string        `json:"order"`
	Widths    map[string]int  `json:"widths"`
	Hidden    map[string]bool `json:"hidden"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy.
func (l Layout) Clone() Layout {
	out := Layout{
		Order:     append([]string(nil), l.Order...),
		Widths:    make(map[string]int, len(l.Widths)),
		Hidden:    make(map[string]bool, len(l.Hidden)),
		UpdatedAt: l.UpdatedAt,
	}
	for k, v := range l.Widths {
		out.Widths[k] = v
	}
	for k, v := range l.Hidden {
		if v {
			out.Hidden[k] = true
		}
	}
	return out
}

type Store interface {
	Load(ctx context.Context, reviewID string) (Layout, error)
	Save(ctx context.Context, reviewID string, layout Layout) error
	Delete(ctx context.Context, reviewID string) error
}

// MemoryStore keeps layouts in process. Used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	layouts map[string]Layout
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{layouts: make(map[string]Layout)}
}

func (s *MemoryStore) Load(_ context.Context, reviewID string) (Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layouts[reviewID]
	if !ok {
		return Layout{}, ErrNotFound
	}
	return l.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, reviewID string, layout Layout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := layout.Clone()
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = time.Now().UTC()
	}
	s.layouts[reviewID] = saved
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, reviewID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.layouts, reviewID)
	return nil
}
