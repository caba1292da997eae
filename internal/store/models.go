package store

import "time"

type Review struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Column is one extraction prompt applied to every document of a review.
// Order is the left-to-right ordering key; lower sorts first.
type Column struct {
	ID        string
	ReviewID  string
	Name      string
	Prompt    string
	DataType  string
	Order     int
	CreatedAt time.Time
}

// Document is one uploaded file attached to a review.
type Document struct {
	ID        string
	ReviewID  string
	Filename  string
	SizeBytes int64
	Status    string
	CreatedAt time.Time
}

type Result struct {
	ID           string
	ReviewID     string
	DocumentID   string
	ColumnID     string
	ShortValue   *string
	LongValue    *string
	SourceRef    *string
	Confidence   float64
	Status       string
	ErrorMessage *string
	UpdatedAt    time.Time
}

// ResultHit is a row returned by the fallback result search.
type ResultHit struct {
	ReviewID   string
	DocumentID string
	ColumnID   string
	Filename   string
	ColumnName string
	ShortValue string
	LongValue  string
}

const (
	ResultStatusPending    = "pending"
	ResultStatusProcessing = "processing"
	ResultStatusCompleted  = "completed"
	ResultStatusError      = "error"
)
