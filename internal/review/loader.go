package review

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

var (
	// ErrPartialSnapshot matches any SnapshotError.
	ErrPartialSnapshot = errors.New("review: partial snapshot")
	// ErrViewClosed is returned by operations on a view that was torn down.
	ErrViewClosed = errors.New("review: view closed")
)

// SnapshotSource is the backend read side used by the loader.
type SnapshotSource interface {
	ListColumns(ctx context.Context, reviewID string) ([]store.Column, error)
	ListDocuments(ctx context.Context, reviewID string) ([]store.Document, error)
	ListResults(ctx context.Context, reviewID string) ([]store.Result, error)
}

// DocumentFetcher hydrates a document whose change payload was incomplete.
type DocumentFetcher interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
}

// Snapshot is a consistent point-in-time read of a review.
type Snapshot struct {
	Columns   []store.Column
	Documents []store.Document
	Results   []store.Result
}

// SnapshotError reports which of the parallel snapshot reads failed. The
// data of the reads that succeeded is discarded.
type SnapshotError struct {
	Source string
	Err    error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

func (e *SnapshotError) Is(target error) bool {
	return target == ErrPartialSnapshot
}

type Loader struct {
	source SnapshotSource
}

func NewLoader(source SnapshotSource) *Loader {
	return &Loader{source: source}
}

// Load reads columns, documents and results in parallel and returns either
// all three or a *SnapshotError.
func (l *Loader) Load(ctx context.Context, reviewID string) (Snapshot, error) {
	var snapshot Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		columns, err := l.source.ListColumns(gctx, reviewID)
		if err != nil {
			return &SnapshotError{Source: "columns", Err: err}
		}
		snapshot.Columns = columns
		return nil
	})
	g.Go(func() error {
		documents, err := l.source.ListDocuments(gctx, reviewID)
		if err != nil {
			return &SnapshotError{Source: "documents", Err: err}
		}
		snapshot.Documents = documents
		return nil
	})
	g.Go(func() error {
		results, err := l.source.ListResults(gctx, reviewID)
		if err != nil {
			return &SnapshotError{Source: "results", Err: err}
		}
		snapshot.Results = results
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}
