package app

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/export"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/grid"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/review"
)

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func mountOverHTTP(t *testing.T, handler http.Handler) ViewState {
	t.Helper()
	rr := doJSON(t, handler, http.MethodPost, "/api/reviews/rev-1/views", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var state ViewState
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return state
}

func TestMountViewOverHTTP(t *testing.T) {
	_, server := newTestServer(t, newFakeStore())
	handler := server.Handler()

	state := mountOverHTTP(t, handler)
	if state.ViewID == "" || state.Status != review.StatusReady {
		t.Fatalf("unexpected view %+v", state)
	}

	rr := doJSON(t, handler, http.MethodGet, "/api/views/"+state.ViewID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/reviews/missing/views", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown review, got %d", rr.Code)
	}
}

func TestUnknownViewReturnsNotFound(t *testing.T) {
	_, server := newTestServer(t, newFakeStore())

	rr := doJSON(t, server.Handler(), http.MethodGet, "/api/views/view_missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body["code"] != "VIEW_NOT_FOUND" {
		t.Fatalf("expected VIEW_NOT_FOUND, got %v", body["code"])
	}
}

func TestReviewActionsAccepted(t *testing.T) {
	_, server := newTestServer(t, newFakeStore())
	handler := server.Handler()

	rr := doJSON(t, handler, http.MethodPost, "/api/reviews/rev-1/columns", AddColumnInput{Name: "Term"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for column, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/reviews/rev-1/columns", AddColumnInput{})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for blank column, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/reviews/rev-1/columns", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty body, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/reviews/rev-1/columns", strings.NewReader("{"))
	bad := httptest.NewRecorder()
	handler.ServeHTTP(bad, req)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", bad.Code)
	}
}

func TestGridOperationsOverHTTP(t *testing.T) {
	_, server := newTestServer(t, newFakeStore())
	handler := server.Handler()
	state := mountOverHTTP(t, handler)
	base := "/api/views/" + state.ViewID

	rr := doJSON(t, handler, http.MethodPost, base+"/sort", map[string]string{"columnId": "col-party"})
	if rr.Code != http.StatusOK {
		t.Fatalf("sort: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Sort.ColumnID != "col-party" {
		t.Fatalf("expected sort on col-party, got %+v", state.Sort)
	}

	rr = doJSON(t, handler, http.MethodPost, base+"/sort", map[string]string{"columnId": "nope"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("sort unknown: expected 404, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPut, base+"/columns/col-party/width", map[string]int{"width": 5000})
	if rr.Code != http.StatusOK {
		t.Fatalf("width: expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPut, base+"/columns/col-party/visibility", map[string]any{})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("visibility without flag: expected 422, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPut, base+"/viewport", grid.Viewport{Height: 400, PageSize: 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("viewport: expected 200, got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(state.Rows) != 1 || state.Window.PageCount != 2 {
		t.Fatalf("expected one row per page over two pages, got %d rows %+v", len(state.Rows), state.Window)
	}

	rr = doJSON(t, handler, http.MethodGet, base+"/cells/doc-nda/col-party", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("pending cell: expected 204, got %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodGet, base+"/cells/doc-lease/col-party", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("completed cell: expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, base+"/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rr.Code)
	}
}

func TestExportOverHTTP(t *testing.T) {
	_, server := newTestServer(t, newFakeStore())
	handler := server.Handler()
	state := mountOverHTTP(t, handler)

	rr := doJSON(t, handler, http.MethodPost, "/api/views/"+state.ViewID+"/export", export.Config{AnswerType: export.AnswerBoth})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != export.SpreadsheetMIME {
		t.Fatalf("unexpected content type %q", ct)
	}
	disposition := rr.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, "attachment; filename=\"Vendor_Review_full-answers_") {
		t.Fatalf("unexpected disposition %q", disposition)
	}
	if rr.Header().Get("X-Export-URL") != "" {
		t.Fatal("no archive configured, expected no export URL")
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/views/"+state.ViewID+"/export", export.Config{AnswerType: "everything"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid answer type: expected 422, got %d", rr.Code)
	}
}

func TestSearchUnavailableOverHTTP(t *testing.T) {
	_, server := newTestServer(t, newFakeStore())

	rr := doJSON(t, server.Handler(), http.MethodGet, "/api/search?q=acme", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestEventsStreamChanges(t *testing.T) {
	svc, server := newTestServer(t, newFakeStore())
	server.heartbeat = 20 * time.Millisecond
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	state, err := svc.MountView(context.Background(), "rev-1")
	if err != nil {
		t.Fatalf("mount view: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/views/"+state.ViewID+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	expect := func(event string) {
		t.Helper()
		for lines.Scan() {
			if lines.Text() == "event: "+event {
				return
			}
		}
		t.Fatalf("stream ended before %q: %v", event, lines.Err())
	}

	expect("ready")
	if _, err := svc.AddColumn(context.Background(), "rev-1", AddColumnInput{Name: "Term"}); err != nil {
		t.Fatalf("add column: %v", err)
	}
	expect("change")

	svc.UnmountView(state.ViewID)
	expect("closed")
}

func TestEventsUnknownView(t *testing.T) {
	_, server := newTestServer(t, newFakeStore())

	rr := doJSON(t, server.Handler(), http.MethodGet, "/api/views/view_missing/events", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "domain", err: validationError("bad"), status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "no rows", err: fmt.Errorf("get review: %w", sql.ErrNoRows), status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "closed view", err: review.ErrViewClosed, status: http.StatusGone, code: "VIEW_CLOSED"},
		{name: "snapshot", err: &review.SnapshotError{Source: "documents", Err: errors.New("timeout")}, status: http.StatusBadGateway, code: "SNAPSHOT_FAILED"},
		{name: "unknown column", err: grid.ErrUnknownColumn, status: http.StatusNotFound, code: "COLUMN_NOT_FOUND"},
		{name: "fixed column", err: grid.ErrFixedColumn, status: http.StatusUnprocessableEntity, code: "FIXED_COLUMN"},
		{name: "export columns", err: export.ErrNoColumns, status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			if status != tt.status || code != tt.code {
				t.Fatalf("mapError(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}
