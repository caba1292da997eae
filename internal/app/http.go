package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/export"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/grid"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/logger"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/review"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
	heartbeat  time.Duration
}

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log, heartbeat: 15 * time.Second}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "views": s.service.ViewCount()})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		resp, err := s.service.Search(query.Get("q"), query.Get("reviewId"), limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "reviews" {
		s.handleReviews(w, r, parts[2], parts[3:])
		return
	}
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "views" {
		s.handleViews(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReviews(w http.ResponseWriter, r *http.Request, reviewID string, rest []string) {
	if r.Method != http.MethodPost || len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch rest[0] {
	case "views":
		state, err := s.service.MountView(r.Context(), reviewID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, state)

	case "columns":
		var body AddColumnInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		column, err := s.service.AddColumn(r.Context(), reviewID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "columnId": column.ID})

	case "documents":
		var body struct {
			Documents []AddDocumentInput `json:"documents"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		documents, err := s.service.AddDocuments(r.Context(), reviewID, body.Documents)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ids := make([]string, 0, len(documents))
		for _, document := range documents {
			ids = append(ids, document.ID)
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "documentIds": ids})

	case "analysis":
		queued, err := s.service.StartAnalysis(r.Context(), reviewID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "queued": queued})

	case "results":
		var body RecordResultInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.RecordResult(r.Context(), reviewID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "resultId": result.ID, "status": result.Status})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleViews(w http.ResponseWriter, r *http.Request, viewID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			state, err := s.service.GetView(viewID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, state)
		case http.MethodDelete:
			s.service.UnmountView(viewID)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "retry" && r.Method == http.MethodPost {
		state, err := s.service.RetryView(ctx, viewID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodPut {
		var body struct {
			Query string `json:"query"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		state, err := s.service.SetSearch(viewID, body.Query)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if len(rest) == 1 && rest[0] == "sort" && r.Method == http.MethodPost {
		var body struct {
			ColumnID string `json:"columnId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		state, err := s.service.ToggleSort(viewID, body.ColumnID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if len(rest) == 2 && rest[0] == "columns" && rest[1] == "order" && r.Method == http.MethodPut {
		var body struct {
			Order []string `json:"order"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		columns, err := s.service.ReorderColumns(ctx, viewID, body.Order)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"columns": columns})
		return
	}

	if len(rest) == 3 && rest[0] == "columns" {
		columnID := rest[1]
		switch {
		case rest[2] == "width" && r.Method == http.MethodPut:
			var body struct {
				Width int `json:"width"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			width, err := s.service.ResizeColumn(ctx, viewID, columnID, body.Width)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"columnId": columnID, "width": width})
			return

		case rest[2] == "autofit" && r.Method == http.MethodPost:
			width, err := s.service.AutoFitColumn(ctx, viewID, columnID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"columnId": columnID, "width": width})
			return

		case rest[2] == "visibility" && r.Method == http.MethodPut:
			var body struct {
				Visible *bool `json:"visible"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.Visible == nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "visible is required", nil)
				return
			}
			columns, err := s.service.SetColumnVisibility(ctx, viewID, columnID, *body.Visible)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"columns": columns})
			return
		}
	}

	if len(rest) == 2 && rest[0] == "rows" && rest[1] == "move" && r.Method == http.MethodPost {
		var body struct {
			DocumentID string `json:"documentId"`
			ToIndex    int    `json:"toIndex"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		state, err := s.service.MoveRow(viewID, body.DocumentID, body.ToIndex)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if len(rest) == 1 && rest[0] == "viewport" && r.Method == http.MethodPut {
		var body grid.Viewport
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		state, err := s.service.SetViewport(viewID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if len(rest) == 3 && rest[0] == "cells" && r.Method == http.MethodGet {
		detail, ok, err := s.service.CellDetail(viewID, rest[1], rest[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}

	if len(rest) == 1 && rest[0] == "stats" && r.Method == http.MethodGet {
		stats, err := s.service.Stats(viewID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	if len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodPost {
		var body export.Config
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Export(ctx, viewID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		if result.URL != "" {
			w.Header().Set("X-Export-URL", result.URL)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if len(rest) == 1 && rest[0] == "events" && r.Method == http.MethodGet {
		s.handleEvents(w, r, viewID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// changeFilter tells a streaming client that the committed search moved.
const changeFilter review.ChangeKind = "filter"

// handleEvents streams view change notices as server-sent events until the
// client goes away or the view is torn down.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request, viewID string) {
	changes, filtered, cancel, err := s.service.WatchView(viewID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "ready", map[string]any{"viewId": viewID})
	_ = rc.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case change, ok := <-changes:
			if !ok {
				writeEvent(w, "closed", map[string]any{"viewId": viewID})
				_ = rc.Flush()
				return
			}
			writeEvent(w, "change", change)
		case <-filtered:
			writeEvent(w, "change", review.Change{Kind: changeFilter})
		case <-heartbeat.C:
			if err := s.service.KeepAlive(viewID); err != nil {
				writeEvent(w, "closed", map[string]any{"viewId": viewID})
				_ = rc.Flush()
				return
			}
			_, _ = fmt.Fprint(w, ": ping\n\n")
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		reqLog := s.log.With().Str("request_id", requestID).Logger()
		ctx := logger.WithContext(r.Context(), reqLog)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		serveRecovered(next, writer, r, reqLog)

		reqLog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

// serveRecovered turns a handler panic into a logged 500. A panic after
// the response started can only be logged.
func serveRecovered(next http.Handler, w *statusRecorder, r *http.Request, log zerolog.Logger) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		log.Error().
			Interface("error", rec).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Bytes("stack", debug.Stack()).
			Msg("panic recovered")
		if !w.wroteHeader {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
		}
	}()
	next.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Export-URL, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, review.ErrViewClosed) {
		return http.StatusGone, "VIEW_CLOSED", "View was closed", nil
	}
	var snapshotErr *review.SnapshotError
	if errors.As(err, &snapshotErr) {
		return http.StatusBadGateway, "SNAPSHOT_FAILED", "Failed to load review", map[string]any{"source": snapshotErr.Source}
	}
	switch {
	case errors.Is(err, grid.ErrUnknownColumn):
		return http.StatusNotFound, "COLUMN_NOT_FOUND", "Column not found", nil
	case errors.Is(err, grid.ErrUnknownRow):
		return http.StatusNotFound, "ROW_NOT_FOUND", "Row not found", nil
	case errors.Is(err, grid.ErrFixedColumn):
		return http.StatusUnprocessableEntity, "FIXED_COLUMN", "The document column cannot be moved or hidden", nil
	case errors.Is(err, export.ErrNoColumns):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Select at least one column to export", nil
	case errors.Is(err, export.ErrInvalidAnswerType):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "answerType must be 'short', 'long' or 'both'", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
