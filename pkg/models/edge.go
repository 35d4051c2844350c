package models

import "time"

// Edge is a bi-temporal relationship between two documents. ValidAt and
// InvalidAt bound the half-open interval [ValidAt, InvalidAt) during which
// the relationship holds; a nil InvalidAt means the edge is still valid.
type Edge struct {
	ID                 string                 `json:"_id,omitempty"`
	Key                string                 `json:"_key,omitempty"`
	From               string                 `json:"_from"`
	To                 string                 `json:"_to"`
	Type               string                 `json:"type"`
	ValidAt            time.Time              `json:"valid_at"`
	InvalidAt          *time.Time             `json:"invalid_at,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	Confidence         *float64               `json:"confidence,omitempty"`
	ContextConfidence  *float64               `json:"context_confidence,omitempty"`
	Rationale          string                 `json:"rationale,omitempty"`
	InvalidationReason string                 `json:"invalidation_reason,omitempty"`
	InvalidatedBy      string                 `json:"invalidated_by,omitempty"`
	MergedFrom         []string               `json:"merged_from,omitempty"`
	Weight             *float64               `json:"weight,omitempty"`
	QuestionType       string                 `json:"question_type,omitempty"`
	Question           string                 `json:"question,omitempty"`
	Answer             string                 `json:"answer,omitempty"`
	Thinking           string                 `json:"thinking,omitempty"`
	Attributes         map[string]interface{} `json:"attributes,omitempty"`
}

// ActiveAt reports whether the edge is active at time t, i.e. whether t
// falls inside [ValidAt, InvalidAt).
func (e *Edge) ActiveAt(t time.Time) bool {
	if t.Before(e.ValidAt) {
		return false
	}
	return e.InvalidAt == nil || t.Before(*e.InvalidAt)
}

// Active reports whether the edge has not been invalidated.
func (e *Edge) Active() bool {
	return e.InvalidAt == nil
}

// Overlaps reports whether the validity intervals of two edges overlap.
// Intervals are half-open: [a1, b1) and [a2, b2) overlap iff a1 < b2 and
// a2 < b1, with a nil upper bound treated as +infinity.
func (e *Edge) Overlaps(other *Edge) bool {
	if other.InvalidAt != nil && !e.ValidAt.Before(*other.InvalidAt) {
		return false
	}
	if e.InvalidAt != nil && !other.ValidAt.Before(*e.InvalidAt) {
		return false
	}
	return true
}
