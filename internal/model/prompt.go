package model

import "time"

// Effectiveness is the persisted verdict on a prompt. A prompt starts
// untried, and once evaluated is flagged effective or ineffective. The
// ledger only appends and re-flags; it never deletes.
type Effectiveness string

const (
	EffectivenessUntried     Effectiveness = ""
	EffectivenessEffective   Effectiveness = "Y"
	EffectivenessIneffective Effectiveness = "N"
)

// PromptRecord is one entry in the effectiveness ledger, keyed by the
// prompt text within a purpose namespace (e.g. "search_prompt").
type PromptRecord struct {
	Namespace string        `json:"namespace"`
	Text      string        `json:"text"`
	Effective Effectiveness `json:"effective"`
	Trials    int           `json:"trials"` // Times the prompt has been evaluated
	Wins      int           `json:"wins"`   // Trials that reduced the missing count
	UpdatedAt time.Time     `json:"updated_at"`
}
