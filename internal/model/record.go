package model

import "time"

// Status represents the lifecycle state of a classification record.
type Status string

const (
	// StatusActive means the record is usable and needs no re-query.
	StatusActive Status = "active"
	// StatusNeedsReview means classification was inconclusive (retries
	// exhausted on a transient failure, or budget refusal); future runs
	// retry these signatures.
	StatusNeedsReview Status = "needs_review"
	// StatusFailedPermanent means the last classification attempt failed in
	// a known-unrecoverable way. Future runs still retry; the status is
	// informational, not sticky.
	StatusFailedPermanent Status = "failed_permanent"
)

// AllStatuses returns all defined record statuses.
func AllStatuses() []Status {
	return []Status{StatusActive, StatusNeedsReview, StatusFailedPermanent}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusNeedsReview, StatusFailedPermanent:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from one status to another.
// Any status may be re-entered by a fresh classification attempt (no terminal
// status is sticky), so the only rejected transitions are those involving an
// unknown status.
func CanTransition(from, to Status) bool {
	// Empty "from" is the new-record case.
	if from != "" && !from.Valid() {
		return false
	}
	return to.Valid()
}

// Source identifies how a classification was produced.
type Source string

const (
	SourceRule Source = "RULE"
	SourceLLM  Source = "LLM"
)

// ClassificationRecord is the single cached classification for one URL
// signature. Exactly one record exists per signature at any time; writes
// replace, never duplicate.
type ClassificationRecord struct {
	URLSignature    string       `json:"url_signature"`
	ServiceName     string       `json:"service_name"`
	UsageType       string       `json:"usage_type"`
	RiskLevel       string       `json:"risk_level"`
	Category        string       `json:"category"`
	Confidence      float64      `json:"confidence"`
	Rationale       string       `json:"rationale"`
	Source          Source       `json:"classification_source"`
	Status          Status       `json:"status"`
	Codes           TaxonomySet  `json:"codes"`
	StandardVersion string       `json:"standard_version"`
	IsHumanVerified bool         `json:"is_human_verified"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
