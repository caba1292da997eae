package cells

import "iter"

// Stats aggregates cell states for the grid header and the stats endpoint.
type Stats struct {
	Total             int     `json:"total"`
	Pending           int     `json:"pending"`
	Processing        int     `json:"processing"`
	Completed         int     `json:"completed"`
	Errored           int     `json:"errored"`
	CompletionPercent float64 `json:"completionPercent"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// Summarize folds a cell sequence into Stats. Average confidence only
// counts completed cells.
func Summarize(seq iter.Seq2[Key, *Cell]) Stats {
	var stats Stats
	var confidenceSum float64
	for _, cell := range seq {
		stats.Total++
		switch cell.State {
		case StatePending:
			stats.Pending++
		case StateProcessing:
			stats.Processing++
		case StateCompleted:
			stats.Completed++
			confidenceSum += cell.Confidence
		case StateError:
			stats.Errored++
		}
	}
	if stats.Total > 0 {
		stats.CompletionPercent = float64(stats.Completed+stats.Errored) * 100 / float64(stats.Total)
	}
	if stats.Completed > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.Completed)
	}
	return stats
}
