package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("view")
	if !strings.HasPrefix(id, "view_") {
		t.Errorf("expected view_ prefix, got %s", id)
	}
	if len(id) != len("view_")+32 {
		t.Errorf("expected 32 hex chars after prefix, got %s", id)
	}
	if NewID("view") == id {
		t.Error("expected distinct ids")
	}
	if strings.Contains(NewID(""), "_") {
		t.Error("expected bare id without prefix separator")
	}
}
