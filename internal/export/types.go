// Package export provides spreadsheet export of a review grid.
package export

import (
	"errors"
	"time"

	"github.com/CREVIOS/Tabular-Frontend-sub000/internal/projection"
)

// AnswerType selects which extracted values are written per column.
type AnswerType string

const (
	AnswerShort AnswerType = "short"
	AnswerLong  AnswerType = "long"
	AnswerBoth  AnswerType = "both"
)

func (a AnswerType) valid() bool {
	return a == AnswerShort || a == AnswerLong || a == AnswerBoth
}

func (a AnswerType) suffix() string {
	switch a {
	case AnswerLong:
		return "long-answers"
	case AnswerBoth:
		return "full-answers"
	default:
		return "short-answers"
	}
}

const (
	ResultsSheet    = "Results"
	InfoSheet       = "Export Info"
	SpreadsheetMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Config is the user's export choice.
type Config struct {
	ColumnIDs      []string   `json:"columnIds"`
	AnswerType     AnswerType `json:"answerType"`
	IncludeSources bool       `json:"includeSources"`
}

// Request contains parameters for an export operation. Rows are the grid's
// filtered and sorted rows; Table resolves column ids to positions.
type Request struct {
	ReviewID   string
	ReviewName string
	Table      *projection.Table
	Rows       []*projection.Row
	Filter     string
	Config     Config
	Now        time.Time
}

// Result contains the export output
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	ObjectKey string
	URL       string
}

var (
	// ErrNoColumns is returned when the export selects no known column.
	ErrNoColumns = errors.New("export: no columns selected")
	// ErrInvalidAnswerType is returned for an unknown answer type.
	ErrInvalidAnswerType = errors.New("export: invalid answer type")
)
