package review

import (
	"testing"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

func TestRegistryNewColumnsGoFirst(t *testing.T) {
	var r Registry
	r.Replace([]store.Column{{ID: "a"}, {ID: "b"}}, nil)
	before := r.Columns()

	if !r.UpsertColumn(store.Column{ID: "c"}) {
		t.Fatal("expected c to be new")
	}
	if r.UpsertColumn(store.Column{ID: "a", Name: "renamed"}) {
		t.Fatal("expected a to be an update")
	}

	got := r.Columns()
	if len(got) != 3 || got[0].ID != "c" || got[1].Name != "renamed" {
		t.Errorf("unexpected columns %+v", got)
	}
	if len(before) != 2 || before[0].Name != "" {
		t.Error("expected earlier slices to stay untouched")
	}
}

func TestRegistryDocumentsAppendAndRemove(t *testing.T) {
	var r Registry
	r.Replace(nil, []store.Document{{ID: "d1"}})
	version := r.Version()

	r.UpsertDocument(store.Document{ID: "d2"})
	if docs := r.Documents(); len(docs) != 2 || docs[1].ID != "d2" {
		t.Errorf("expected d2 appended, got %+v", docs)
	}
	if !r.RemoveDocument("d1") || r.HasDocument("d1") {
		t.Error("expected d1 removed")
	}
	if r.RemoveDocument("d1") {
		t.Error("expected second removal to report false")
	}
	if r.Version() != version+2 {
		t.Errorf("expected two version bumps, got %d", r.Version()-version)
	}
	if r.RemoveColumn("missing") || r.HasColumn("missing") {
		t.Error("expected unknown column to be absent")
	}
}
