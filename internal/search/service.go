package search

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/review"
)

type resultIndex interface {
	Searcher
	IndexResults(records []ResultRecord) error
	DeleteResult(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	index    resultIndex
	fallback Searcher
	log      zerolog.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, log zerolog.Logger) *Service {
	var index resultIndex
	if meili != nil {
		index = meili
	}
	return newService(index, fallback, log)
}

func newService(index resultIndex, fallback Searcher, log zerolog.Logger) *Service {
	return &Service{index: index, fallback: fallback, log: log.With().Str("component", "search").Logger()}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.index != nil && s.index.Healthy() {
		hits, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(hits), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Hit{}, Query: q.Text}
	}
	hits, total, err := s.fallback.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Hit{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(hits), Total: total, Query: q.Text, Backend: "postgres"}
}

// IndexResolved indexes a resolved cell (fire-and-forget to Meilisearch).
// Cells that resolve to an error are removed from the index.
func (s *Service) IndexResolved(r review.Resolved) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	record, ok := RecordFromResolved(r)
	id := RecordID(r.ReviewID, r.Document.ID, r.Column.ID)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		var err error
		if ok {
			err = s.index.IndexResults([]ResultRecord{record})
		} else {
			err = s.index.DeleteResult(id)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("result_id", id).Msg("index result")
		}
	}()
}

// Flush waits for in-flight index writes.
func (s *Service) Flush() {
	s.pending.Wait()
}

func nonNil(h []Hit) []Hit {
	if h == nil {
		return []Hit{}
	}
	return h
}
