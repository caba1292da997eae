package review

import "github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"

// Registry holds the live column and document sets of one review.
//
// Slices are copy-on-write: every mutation allocates new backing arrays, so
// a slice handed out by Columns or Documents is never modified afterwards.
type Registry struct {
	columns   []store.Column
	documents []store.Document
	version   uint64
}

func (r *Registry) Columns() []store.Column {
	return r.columns
}

func (r *Registry) Documents() []store.Document {
	return r.documents
}

// Version increments whenever either set changes.
func (r *Registry) Version() uint64 {
	return r.version
}

// Replace installs a snapshot. Columns keep their snapshot order.
func (r *Registry) Replace(columns []store.Column, documents []store.Document) {
	r.columns = append([]store.Column(nil), columns...)
	r.documents = append([]store.Document(nil), documents...)
	r.version++
}

func (r *Registry) HasColumn(id string) bool {
	return indexOfColumn(r.columns, id) >= 0
}

func (r *Registry) HasDocument(id string) bool {
	return indexOfDocument(r.documents, id) >= 0
}

// UpsertColumn replaces a known column in place or inserts a new one ahead
// of every existing column, so the newest column sits right after the
// document column. It reports whether the column was new.
func (r *Registry) UpsertColumn(column store.Column) bool {
	next := make([]store.Column, 0, len(r.columns)+1)
	if i := indexOfColumn(r.columns, column.ID); i >= 0 {
		next = append(next, r.columns...)
		next[i] = column
		r.columns = next
		r.version++
		return false
	}
	next = append(next, column)
	next = append(next, r.columns...)
	r.columns = next
	r.version++
	return true
}

func (r *Registry) RemoveColumn(id string) bool {
	i := indexOfColumn(r.columns, id)
	if i < 0 {
		return false
	}
	next := make([]store.Column, 0, len(r.columns)-1)
	next = append(next, r.columns[:i]...)
	next = append(next, r.columns[i+1:]...)
	r.columns = next
	r.version++
	return true
}

// UpsertDocument replaces a known document in place or appends a new one.
// It reports whether the document was new.
func (r *Registry) UpsertDocument(document store.Document) bool {
	next := make([]store.Document, 0, len(r.documents)+1)
	next = append(next, r.documents...)
	isNew := true
	if i := indexOfDocument(r.documents, document.ID); i >= 0 {
		next[i] = document
		isNew = false
	} else {
		next = append(next, document)
	}
	r.documents = next
	r.version++
	return isNew
}

func (r *Registry) RemoveDocument(id string) bool {
	i := indexOfDocument(r.documents, id)
	if i < 0 {
		return false
	}
	next := make([]store.Document, 0, len(r.documents)-1)
	next = append(next, r.documents[:i]...)
	next = append(next, r.documents[i+1:]...)
	r.documents = next
	r.version++
	return true
}

func indexOfColumn(columns []store.Column, id string) int {
	for i := range columns {
		if columns[i].ID == id {
			return i
		}
	}
	return -1
}

func indexOfDocument(documents []store.Document, id string) int {
	for i := range documents {
		if documents[i].ID == id {
			return i
		}
	}
	return -1
}
