package domain

import (
	"time"
)

// Decision kinds persisted to the audit log.
const (
	DecisionKindRisk        = "risk_assessment"
	DecisionKindRouting     = "complaint_routing"
	DecisionKindEligibility = "eligibility"
)

// DecisionRecord is an audit log entry for any decision the engine
// produces. Payload holds the full decision JSON so the record can
// be replayed or inspected without schema changes per kind.
type DecisionRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	SubjectID  string    `json:"subjectId"` // transaction, complaint or customer ID
	CustomerID string    `json:"customerId,omitempty"`
	Grounded   bool      `json:"grounded"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
}
