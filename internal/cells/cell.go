// Package cells holds the per-review Cell Store: the single owner of every
// extraction result addressed by (document, column).
//
// Cells are immutable values. Every write installs a fresh *Cell, so a
// reader holding the previous pointer can use pointer inequality to detect
// that the pairing changed. Callers must never modify a *Cell obtained from
// the store.
package cells

import "time"

// State is the lifecycle position of a cell.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Resolved reports whether the state carries an authoritative answer.
func (s State) Resolved() bool {
	return s == StateCompleted || s == StateError
}

// ParseState maps backend status strings onto a State. Unknown values are
// treated as completed because results only carry a status once written.
func ParseState(value string) State {
	switch value {
	case "pending", "queued":
		return StatePending
	case "processing", "running", "in_progress":
		return StateProcessing
	case "error", "failed":
		return StateError
	default:
		return StateCompleted
	}
}

// Origin records which producer wrote a cell.
type Origin uint8

const (
	// OriginSeed marks cells written by the snapshot loader.
	OriginSeed Origin = iota
	// OriginLive marks cells written from the live channel.
	OriginLive
)

func (o Origin) String() string {
	if o == OriginLive {
		return "live"
	}
	return "seed"
}

// Key addresses a cell.
type Key struct {
	DocumentID string
	ColumnID   string
}

// Cell is the extraction result (or its absence) for one document×column pair.
type Cell struct {
	ShortValue      *string
	LongValue       *string
	Confidence      float64
	SourceReference *string
	State           State
	ErrorMessage    string
	Timestamp       time.Time
	// Seq is the live channel sequence number of the event that produced
	// the cell, zero when unsequenced.
	Seq    int64
	Origin Origin
}

// Pending returns a pending cell stamped at now.
func Pending(now time.Time, origin Origin) Cell {
	return Cell{State: StatePending, Timestamp: now, Origin: origin}
}

// Short returns the short value or the empty string.
func (c *Cell) Short() string {
	if c == nil || c.ShortValue == nil {
		return ""
	}
	return *c.ShortValue
}

// Long returns the long value or the empty string.
func (c *Cell) Long() string {
	if c == nil || c.LongValue == nil {
		return ""
	}
	return *c.LongValue
}

// Source returns the source reference or the empty string.
func (c *Cell) Source() string {
	if c == nil || c.SourceReference == nil {
		return ""
	}
	return *c.SourceReference
}

// UpdatedWithin reports whether the cell changed within d of now; the grid
// uses it for the transient "just updated" highlight.
func (c *Cell) UpdatedWithin(now time.Time, d time.Duration) bool {
	if c == nil || c.Timestamp.IsZero() {
		return false
	}
	return now.Sub(c.Timestamp) <= d
}

// StringPtr returns a pointer to a copy of value, nil for the empty string.
func StringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
