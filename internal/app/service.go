package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/config"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/export"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/grid"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/layout"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/live"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/review"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/search"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/util"
)

type dataStore interface {
	Ping(context.Context) error
	GetReview(context.Context, string) (store.Review, error)
	UpdateReviewStatus(context.Context, string, string) error
	ListColumns(context.Context, string) ([]store.Column, error)
	GetColumn(context.Context, string) (store.Column, error)
	InsertColumn(context.Context, store.Column) (store.Column, error)
	ListDocuments(context.Context, string) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocuments(context.Context, []store.Document) ([]store.Document, error)
	ListResults(context.Context, string) ([]store.Result, error)
	MarkUnresolvedProcessing(context.Context, string) ([]store.Result, error)
	UpsertResult(context.Context, store.Result) (store.Result, error)
}

// Bus is the live channel: views subscribe to it, actions publish on it.
type Bus interface {
	live.Source
	live.Publisher
}

// resultSearch is the slice of search.Service the app calls.
type resultSearch interface {
	Search(search.Query) search.Response
	IndexResolved(review.Resolved)
	Flush()
}

// Deps are the collaborators wired by main. Search and Exports may be nil.
type Deps struct {
	Store   dataStore
	Bus     Bus
	Layouts layout.Store
	Exports *export.Service
	Search  *search.Service
	Log     zerolog.Logger
}

type Service struct {
	cfg     config.Config
	store   dataStore
	bus     Bus
	layouts layout.Store
	exports *export.Service
	search  resultSearch
	log     zerolog.Logger

	now       func() time.Time
	afterFunc grid.AfterFunc

	mu    sync.Mutex
	views map[string]*viewSession
}

func New(cfg config.Config, deps Deps) *Service {
	layouts := deps.Layouts
	if layouts == nil {
		layouts = layout.NewMemoryStore()
	}
	exports := deps.Exports
	if exports == nil {
		exports = export.NewService(nil, deps.Log)
	}
	svc := &Service{
		cfg:       cfg,
		store:     deps.Store,
		bus:       deps.Bus,
		layouts:   layouts,
		exports:   exports,
		log:       deps.Log,
		now:       time.Now,
		afterFunc: grid.StdAfterFunc,
		views:     make(map[string]*viewSession),
	}
	if deps.Search != nil {
		svc.search = deps.Search
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type AddColumnInput struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	DataType string `json:"dataType"`
}

type AddDocumentInput struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"sizeBytes"`
}

type RecordResultInput struct {
	DocumentID   string  `json:"documentId"`
	ColumnID     string  `json:"columnId"`
	ShortValue   *string `json:"shortValue"`
	LongValue    *string `json:"longValue"`
	SourceRef    *string `json:"sourceRef"`
	Confidence   float64 `json:"confidence"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"errorMessage"`
}

var allowedDataTypes = map[string]struct{}{
	"text":     {},
	"number":   {},
	"date":     {},
	"boolean":  {},
	"list":     {},
	"currency": {},
}

// AddColumn persists a column and announces it on the review's channel.
// Mounted grids pick it up from the channel, not from this response.
func (s *Service) AddColumn(ctx context.Context, reviewID string, input AddColumnInput) (store.Column, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Column{}, validationError("name is required")
	}
	dataType := strings.ToLower(strings.TrimSpace(input.DataType))
	if dataType == "" {
		dataType = "text"
	}
	if _, ok := allowedDataTypes[dataType]; !ok {
		return store.Column{}, validationError("unsupported dataType " + dataType)
	}
	if _, err := s.store.GetReview(ctx, reviewID); err != nil {
		return store.Column{}, err
	}

	column, err := s.store.InsertColumn(ctx, store.Column{
		ID:       util.NewID("col"),
		ReviewID: reviewID,
		Name:     name,
		Prompt:   strings.TrimSpace(input.Prompt),
		DataType: dataType,
	})
	if err != nil {
		return store.Column{}, err
	}
	env, err := live.ColumnEnvelope(live.OpInsert, column)
	if err != nil {
		return store.Column{}, err
	}
	s.publish(ctx, env)
	return column, nil
}

// AddDocuments registers uploaded files. Insert announcements only carry
// ids; subscribers fetch the rest.
func (s *Service) AddDocuments(ctx context.Context, reviewID string, inputs []AddDocumentInput) ([]store.Document, error) {
	if len(inputs) == 0 {
		return nil, validationError("at least one document is required")
	}
	if _, err := s.store.GetReview(ctx, reviewID); err != nil {
		return nil, err
	}

	items := make([]store.Document, 0, len(inputs))
	for _, input := range inputs {
		filename := strings.TrimSpace(input.Filename)
		if filename == "" {
			return nil, validationError("filename is required")
		}
		items = append(items, store.Document{
			ID:        util.NewID("doc"),
			ReviewID:  reviewID,
			Filename:  filename,
			SizeBytes: max(input.SizeBytes, 0),
		})
	}
	documents, err := s.store.InsertDocuments(ctx, items)
	if err != nil {
		return nil, err
	}
	for _, document := range documents {
		env, err := live.DocumentEnvelope(live.OpInsert, document)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, env)
	}
	return documents, nil
}

// StartAnalysis marks every unresolved pair processing and announces each.
func (s *Service) StartAnalysis(ctx context.Context, reviewID string) (int, error) {
	if _, err := s.store.GetReview(ctx, reviewID); err != nil {
		return 0, err
	}
	results, err := s.store.MarkUnresolvedProcessing(ctx, reviewID)
	if err != nil {
		return 0, err
	}
	if err := s.store.UpdateReviewStatus(ctx, reviewID, "processing"); err != nil {
		return 0, err
	}
	for _, result := range results {
		env, err := live.ResultEnvelope(live.OpUpdate, result)
		if err != nil {
			return 0, err
		}
		s.publish(ctx, env)
	}
	return len(results), nil
}

// RecordResult stores one pair's outcome as reported by the analysis
// pipeline and announces it.
func (s *Service) RecordResult(ctx context.Context, reviewID string, input RecordResultInput) (store.Result, error) {
	if strings.TrimSpace(input.DocumentID) == "" || strings.TrimSpace(input.ColumnID) == "" {
		return store.Result{}, validationError("documentId and columnId are required")
	}
	status := strings.ToLower(strings.TrimSpace(input.Status))
	switch status {
	case "":
		status = store.ResultStatusCompleted
		if input.ErrorMessage != nil {
			status = store.ResultStatusError
		}
	case "failed":
		status = store.ResultStatusError
	case store.ResultStatusPending, store.ResultStatusProcessing, store.ResultStatusCompleted, store.ResultStatusError:
	default:
		return store.Result{}, validationError("unsupported status " + status)
	}
	if input.Confidence < 0 || input.Confidence > 1 {
		return store.Result{}, validationError("confidence must be between 0 and 1")
	}

	document, err := s.store.GetDocument(ctx, input.DocumentID)
	if err != nil {
		return store.Result{}, err
	}
	if document.ReviewID != reviewID {
		return store.Result{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found in review", nil)
	}
	column, err := s.store.GetColumn(ctx, input.ColumnID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return store.Result{}, err
	}
	if err != nil || column.ReviewID != reviewID {
		return store.Result{}, domainError(http.StatusNotFound, "NOT_FOUND", "Column not found in review", nil)
	}

	result, err := s.store.UpsertResult(ctx, store.Result{
		ReviewID:     reviewID,
		DocumentID:   input.DocumentID,
		ColumnID:     input.ColumnID,
		ShortValue:   input.ShortValue,
		LongValue:    input.LongValue,
		SourceRef:    input.SourceRef,
		Confidence:   input.Confidence,
		Status:       status,
		ErrorMessage: input.ErrorMessage,
	})
	if err != nil {
		return store.Result{}, err
	}
	env, err := live.ResultEnvelope(live.OpUpdate, result)
	if err != nil {
		return store.Result{}, err
	}
	s.publish(ctx, env)

	// Indexed on write so search covers reviews nobody has open.
	if s.search != nil {
		cell := review.CellFromResult(result, s.now())
		s.search.IndexResolved(review.Resolved{ReviewID: reviewID, Document: document, Column: column, Cell: &cell})
	}
	return result, nil
}

// publish is best effort: the write is already durable and the next
// snapshot load will include it.
func (s *Service) publish(ctx context.Context, env live.Envelope) {
	if s.bus == nil {
		return
	}
	seq, err := s.bus.Publish(ctx, env)
	if err != nil {
		s.log.Warn().Err(err).
			Str("review_id", env.ReviewID).
			Str("entity", string(env.Entity)).
			Str("op", string(env.Op)).
			Msg("publish change failed")
		return
	}
	s.log.Debug().Str("review_id", env.ReviewID).Str("entity", string(env.Entity)).Int64("seq", seq).Msg("change published")
}

// Search runs a cross-review result search.
func (s *Service) Search(text, reviewID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	if strings.TrimSpace(text) == "" {
		return search.Response{Results: []search.Hit{}, Query: text}, nil
	}
	return s.search.Search(search.Query{Text: text, ReviewID: reviewID, Limit: limit, Offset: offset}), nil
}
