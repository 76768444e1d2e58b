package domain

import (
	"time"
)

// Complaint priorities in descending urgency.
const (
	PriorityCritical = "Critical"
	PriorityHigh     = "High"
	PriorityMedium   = "Medium"
	PriorityLow      = "Low"
)

// DepartmentUnknown is the fail-safe routing target when no
// department can be resolved from the knowledge base.
const DepartmentUnknown = "UNKNOWN"

// Complaint is a customer complaint awaiting routing.
type Complaint struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// RoutingDecision assigns a complaint to a department with a
// priority and an SLA deadline.
//
// Routing never fails: when the knowledge base yields nothing the
// decision degrades to DepartmentUnknown, Medium priority and the
// general-queue SLA.
type RoutingDecision struct {
	ComplaintID    string     `json:"complaintId"`
	Department     string     `json:"department"` // three-letter code, or UNKNOWN
	DepartmentName string     `json:"departmentName,omitempty"`
	Priority       string     `json:"priority"`
	SLAHours       int        `json:"slaHours"`
	Category       string     `json:"category,omitempty"` // advisory label, not used for routing
	Answer         string     `json:"answer,omitempty"`   // retrieved policy guidance
	Grounded       bool       `json:"grounded"`
	Sources        []Citation `json:"sources,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}
