package live

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/cells"
	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

// Event is the normalized form of an Envelope. The concrete types are
// ColumnUpserted, ColumnDeleted, DocumentUpserted, DocumentDeleted,
// ResultUpserted and ResultDeleted.
type Event interface {
	Sequence() int64
	isEvent()
}

type ColumnUpserted struct {
	Seq    int64
	Op     Op
	Column store.Column
}

type ColumnDeleted struct {
	Seq      int64
	ColumnID string
}

// DocumentUpserted carries a document record. Complete is false when the
// payload lacked display fields and the subscriber must fetch the document
// by id before inserting it.
type DocumentUpserted struct {
	Seq      int64
	Op       Op
	Document store.Document
	Complete bool
}

type DocumentDeleted struct {
	Seq        int64
	DocumentID string
}

type ResultUpserted struct {
	Seq        int64
	DocumentID string
	ColumnID   string
	Cell       cells.Cell
}

type ResultDeleted struct {
	Seq        int64
	DocumentID string
	ColumnID   string
}

func (e ColumnUpserted) Sequence() int64   { return e.Seq }
func (e ColumnDeleted) Sequence() int64    { return e.Seq }
func (e DocumentUpserted) Sequence() int64 { return e.Seq }
func (e DocumentDeleted) Sequence() int64  { return e.Seq }
func (e ResultUpserted) Sequence() int64   { return e.Seq }
func (e ResultDeleted) Sequence() int64    { return e.Seq }

func (ColumnUpserted) isEvent()   {}
func (ColumnDeleted) isEvent()    {}
func (DocumentUpserted) isEvent() {}
func (DocumentDeleted) isEvent()  {}
func (ResultUpserted) isEvent()   {}
func (ResultDeleted) isEvent()    {}

// Decode parses one wire message. now stamps results that arrive without
// an updated_at.
func Decode(data []byte, now time.Time) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return Normalize(env, now)
}

// Normalize converts an envelope into its Event.
func Normalize(env Envelope, now time.Time) (Event, error) {
	record, err := unwrapRecord(env.Payload, env.Op)
	if err != nil {
		return nil, err
	}

	switch env.Entity {
	case EntityColumn:
		return normalizeColumn(env, record)
	case EntityDocument:
		return normalizeDocument(env, record)
	case EntityResult:
		return normalizeResult(env, record, now)
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownEntity, env.Entity, env.Op)
	}
}

func normalizeColumn(env Envelope, record fields) (Event, error) {
	id := record.str("id", "column_id")
	if id == "" {
		return nil, fmt.Errorf("%w: column without id", ErrMalformedPayload)
	}
	switch env.Op {
	case OpDelete:
		return ColumnDeleted{Seq: env.Seq, ColumnID: id}, nil
	case OpInsert, OpUpdate:
		return ColumnUpserted{
			Seq: env.Seq,
			Op:  env.Op,
			Column: store.Column{
				ID:       id,
				ReviewID: firstNonBlank(record.str("review_id"), env.ReviewID),
				Name:     record.str("column_name", "name"),
				Prompt:   record.str("prompt"),
				DataType: firstNonBlank(record.str("data_type", "type"), "text"),
				Order:    int(record.num("column_order", "order")),
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: column/%s", ErrUnknownEntity, env.Op)
	}
}

func normalizeDocument(env Envelope, record fields) (Event, error) {
	id := record.str("id", "file_id", "document_id")
	if id == "" {
		return nil, fmt.Errorf("%w: document without id", ErrMalformedPayload)
	}
	switch env.Op {
	case OpDelete:
		return DocumentDeleted{Seq: env.Seq, DocumentID: id}, nil
	case OpInsert, OpUpdate:
		doc := store.Document{
			ID:        id,
			ReviewID:  firstNonBlank(record.str("review_id"), env.ReviewID),
			Filename:  record.str("filename", "file_name", "name"),
			SizeBytes: int64(record.num("size_bytes", "file_size", "size")),
			Status:    record.str("status"),
		}
		return DocumentUpserted{
			Seq:      env.Seq,
			Op:       env.Op,
			Document: doc,
			Complete: doc.Filename != "",
		}, nil
	default:
		return nil, fmt.Errorf("%w: document/%s", ErrUnknownEntity, env.Op)
	}
}

func normalizeResult(env Envelope, record fields, now time.Time) (Event, error) {
	documentID := record.str("file_id", "document_id")
	columnID := record.str("column_id")
	if documentID == "" || columnID == "" {
		return nil, fmt.Errorf("%w: result without document/column", ErrMalformedPayload)
	}
	switch env.Op {
	case OpDelete:
		return ResultDeleted{Seq: env.Seq, DocumentID: documentID, ColumnID: columnID}, nil
	case OpInsert, OpUpdate:
	default:
		return nil, fmt.Errorf("%w: result/%s", ErrUnknownEntity, env.Op)
	}

	cell := cells.Cell{
		ShortValue:      record.optStr("short_value", "extracted_value", "value"),
		LongValue:       record.optStr("long_value", "long_answer"),
		SourceReference: record.optStr("source_ref", "source_reference"),
		Confidence:      clampConfidence(record.num("confidence", "confidence_score")),
		State:           cells.ParseState(record.str("status")),
		Timestamp:       record.time("updated_at", now),
		Seq:             env.Seq,
		Origin:          cells.OriginLive,
	}
	errorMessage := record.str("error_message")
	if record.boolean("error") || errorMessage != "" {
		cell.State = cells.StateError
		cell.ErrorMessage = firstNonBlank(errorMessage, "extraction failed")
	}
	if cell.State == cells.StateError {
		cell.ShortValue = nil
		cell.LongValue = nil
		cell.SourceReference = nil
		cell.Confidence = 0
	}
	return ResultUpserted{Seq: env.Seq, DocumentID: documentID, ColumnID: columnID, Cell: cell}, nil
}

func clampConfidence(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}

// fields is a decoded payload record with alias-tolerant accessors.
type fields map[string]json.RawMessage

func unwrapRecord(payload json.RawMessage, op Op) (fields, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	var top fields
	if err := json.Unmarshal(payload, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	preferred := []string{"record", "new", "old"}
	if op == OpDelete {
		preferred = []string{"old", "record", "new"}
	}
	for _, key := range preferred {
		raw, ok := top[key]
		if !ok || string(raw) == "null" {
			continue
		}
		var nested fields
		if err := json.Unmarshal(raw, &nested); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, key, err)
		}
		if len(nested) > 0 {
			return nested, nil
		}
	}
	return top, nil
}

func (f fields) raw(keys ...string) (json.RawMessage, bool) {
	for _, key := range keys {
		if raw, ok := f[key]; ok && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

func (f fields) str(keys ...string) string {
	value := f.optStr(keys...)
	if value == nil {
		return ""
	}
	return *value
}

func (f fields) optStr(keys ...string) *string {
	raw, ok := f.raw(keys...)
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	// numbers and booleans arrive unquoted from some producers
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return nil
	}
	return &trimmed
}

func (f fields) num(keys ...string) float64 {
	raw, ok := f.raw(keys...)
	if !ok {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return parsed
		}
	}
	return 0
}

func (f fields) boolean(keys ...string) bool {
	raw, ok := f.raw(keys...)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return false
}

func (f fields) time(key string, fallback time.Time) time.Time {
	raw, ok := f.raw(key)
	if !ok {
		return fallback
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil || t.IsZero() {
		return fallback
	}
	return t
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
