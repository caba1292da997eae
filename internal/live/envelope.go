// Package live carries per-review change notifications from the analysis
// backend to mounted review views.
//
// On the wire every notification is an Envelope tagged by {entity, op}. The
// payload shape varies by producer: a flat record, a record nested under
// "record", or a {"new", "old"} pair. Decode normalizes all of them into one
// of the Event types below so nothing downstream branches on transport shape.
package live

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/store"
)

type Entity string

const (
	EntityColumn   Entity = "column"
	EntityDocument Entity = "document"
	EntityResult   Entity = "result"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

var (
	// ErrUnknownEntity is returned for envelopes with an unsupported entity/op tag.
	ErrUnknownEntity = errors.New("live: unknown entity or op")
	// ErrMalformedPayload is returned when a payload lacks its identifying fields.
	ErrMalformedPayload = errors.New("live: malformed payload")
)

// Envelope is the wire form of one change notification.
type Envelope struct {
	ID       string          `json:"id,omitempty"`
	ReviewID string          `json:"review_id"`
	Entity   Entity          `json:"entity"`
	Op       Op              `json:"op"`
	Seq      int64           `json:"seq,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
	Payload  json.RawMessage `json:"payload"`
}

func newEnvelope(reviewID string, entity Entity, op Op, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:       uuid.NewString(),
		ReviewID: reviewID,
		Entity:   entity,
		Op:       op,
		SentAt:   time.Now().UTC(),
		Payload:  data,
	}, nil
}

// ColumnEnvelope announces a column insert, update or delete.
func ColumnEnvelope(op Op, column store.Column) (Envelope, error) {
	return newEnvelope(column.ReviewID, EntityColumn, op, map[string]any{
		"id":           column.ID,
		"review_id":    column.ReviewID,
		"column_name":  column.Name,
		"prompt":       column.Prompt,
		"data_type":    column.DataType,
		"column_order": column.Order,
	})
}

// DocumentEnvelope announces a document change. Inserts carry only the
// identifiers, so subscribers hydrate the document by id.
func DocumentEnvelope(op Op, document store.Document) (Envelope, error) {
	record := map[string]any{
		"id":        document.ID,
		"review_id": document.ReviewID,
	}
	if op == OpUpdate {
		record["filename"] = document.Filename
		record["size_bytes"] = document.SizeBytes
		record["status"] = document.Status
	}
	return newEnvelope(document.ReviewID, EntityDocument, op, map[string]any{"record": record})
}

// ResultEnvelope announces a result write for one document/column pair.
func ResultEnvelope(op Op, result store.Result) (Envelope, error) {
	updatedAt := result.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	record := map[string]any{
		"file_id":     result.DocumentID,
		"column_id":   result.ColumnID,
		"short_value": result.ShortValue,
		"long_value":  result.LongValue,
		"source_ref":  result.SourceRef,
		"confidence":  result.Confidence,
		"status":      result.Status,
		"updated_at":  updatedAt,
	}
	if result.ErrorMessage != nil {
		record["error"] = true
		record["error_message"] = *result.ErrorMessage
	}
	payload := map[string]any{"new": record}
	if op == OpDelete {
		payload = map[string]any{"old": record}
	}
	return newEnvelope(result.ReviewID, EntityResult, op, payload)
}
