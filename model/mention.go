package model

import (
	"time"

	"github.com/google/uuid"
)

// ResolutionOutcome is the state of a mention in the resolution state
// machine. AutoMatched, CreatedNew and Rejected are terminal; every mention
// reaches exactly one terminal outcome, never silently dropped.
type ResolutionOutcome string

const (
	OutcomeUnresolved          ResolutionOutcome = "unresolved"
	OutcomeAutoMatched         ResolutionOutcome = "auto_matched"
	OutcomePendingConfirmation ResolutionOutcome = "pending_confirmation"
	OutcomeCreatedNew          ResolutionOutcome = "created_new"
	OutcomeRejected            ResolutionOutcome = "rejected"
)

// Terminal reports whether the outcome is a terminal state.
func (o ResolutionOutcome) Terminal() bool {
	switch o {
	case OutcomeAutoMatched, OutcomeCreatedNew, OutcomeRejected:
		return true
	}
	return false
}

// Mention is a textual reference to a real-world thing, pending resolution.
type Mention struct {
	ID            uuid.UUID `json:"id"`
	RawText       string    `json:"raw_text"`
	CandidateName string    `json:"candidate_name,omitempty"` // inferred identifying name
	TypeHint      string    `json:"type_hint,omitempty"`
	Context       string    `json:"context,omitempty"` // surrounding snippet
	Source        string    `json:"source,omitempty"`  // document or conversation id
	CreatedAt     time.Time `json:"created_at"`
}

// CandidateMatch is one scored linkage between a mention and an entity.
type CandidateMatch struct {
	EntityID uuid.UUID `json:"entity_id"`
	Score    float64   `json:"score"`
	Reason   string    `json:"reason"`
}

// ResolutionCandidate is the result of resolving a mention: a ranked
// candidate list plus the outcome reached.
type ResolutionCandidate struct {
	Mention    *Mention          `json:"mention"`
	Candidates []CandidateMatch  `json:"candidates,omitempty"`
	Outcome    ResolutionOutcome `json:"outcome"`
	// EntityID is set for AutoMatched (the matched entity).
	EntityID uuid.UUID `json:"entity_id,omitempty"`
}

// Top returns the highest-ranked candidate, or nil if there is none.
func (r *ResolutionCandidate) Top() *CandidateMatch {
	if len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}
