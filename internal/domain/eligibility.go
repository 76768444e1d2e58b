package domain

import (
	"time"
)

// Product names in hierarchy order, most exclusive first.
const (
	ProductInvestmentPlan = "Investment Plan"
	ProductCarLoan        = "Car Loan"
	ProductPersonalLoan   = "Personal Loan"
)

// CustomerSignals is an immutable summary of a customer's recent
// activity, aggregated once from their transaction history before
// any eligibility check.
type CustomerSignals struct {
	CustomerID       string  `json:"customerId"`
	MonthlyInflow    float64 `json:"monthlyInflow"`
	SalaryDetected   bool    `json:"salaryDetected"`
	SalaryCredits    int     `json:"salaryCredits"`
	RideHailingTrips int     `json:"rideHailingTrips"`
	SignalScore      float64 `json:"signalScore"` // composite car-loan score in [0,1]
}

// RequirementCheck reports one eligibility requirement with the
// observed value, the threshold and the numeric gap when unmet.
type RequirementCheck struct {
	Name      string  `json:"name"`
	Met       bool    `json:"met"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
	Gap       float64 `json:"gap,omitempty"`
}

// EligibilityVerdict is the outcome of validating a customer
// against a product tier.
type EligibilityVerdict struct {
	CustomerID    string             `json:"customerId"`
	Product       string             `json:"product"`
	Eligible      bool               `json:"eligible"`
	HierarchyStep int                `json:"hierarchyStep"` // 1=Investment Plan, 2=Car Loan, 3=Personal Loan
	Requirements  []RequirementCheck `json:"requirements"`
	Notes         []string           `json:"notes,omitempty"` // deflection notes for adjacent tiers
	Justification string             `json:"justification"`
	Grounded      bool               `json:"grounded"`
	Timestamp     time.Time          `json:"timestamp"`
}
