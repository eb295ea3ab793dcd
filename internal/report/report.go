// Package report assembles and renders the verification outcome for the
// human expert.
package report

import (
	"time"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
)

// Report is the final output of one verification run.
type Report struct {
	SessionID   string    `json:"session_id"`
	GeneratedAt time.Time `json:"generated_at"`
	RoundsUsed  int       `json:"rounds_used"` // SEARCHING iterations consumed

	Statements int `json:"statements"` // Total statements verified

	// Resolved groups passed the confidence gate; their top records are
	// the evidence offered for approval.
	Resolved []model.EvidenceGroup `json:"resolved"`

	// Missing statements still lack acceptable support after the retry
	// budget ran out. Surfaced, never silently dropped.
	Missing []model.Statement `json:"missing"`

	// InvalidCount is the number of records routed to the invalid bucket
	// (parse failures and hallucinated echoes) for manual inspection.
	InvalidCount int `json:"invalid_count"`
}

// Complete reports whether every statement found acceptable support.
func (r *Report) Complete() bool {
	return len(r.Missing) == 0
}
