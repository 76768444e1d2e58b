// Package signals aggregates a customer's transaction history into
// the immutable summary the eligibility validator consumes. The
// aggregation is a single pass over the provided window; callers
// decide the window (typically the last 30 days).
package signals

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// Ride-hailing merchants recognized for the car-loan signal.
var rideHailingMerchants = []string{"uber", "bolt", "lagride"}

// Aggregate computes customer signals from a transaction window.
func Aggregate(customerID string, txs []domain.Transaction) domain.CustomerSignals {
	s := domain.CustomerSignals{CustomerID: customerID}

	for i := range txs {
		tx := &txs[i]
		switch tx.Type {
		case "credit":
			s.MonthlyInflow += tx.Amount
			if tx.Amount > policy.SalaryCreditMinAmount && isPayrollLike(tx) {
				s.SalaryCredits++
			}
		case "debit":
			if isRideHailing(tx) {
				s.RideHailingTrips++
			}
		}
	}

	s.SalaryDetected = s.SalaryCredits >= policy.SalaryCreditMinCount
	s.SignalScore = compositeScore(&s)
	return s
}

// compositeScore is the weighted car-loan signal: regular
// ride-hailing use, a detected salary, and high monthly inflow.
func compositeScore(s *domain.CustomerSignals) float64 {
	score := 0.0
	if s.RideHailingTrips >= policy.CarLoanMinRideHailingTrips {
		score += policy.WeightRideHailing
	}
	if s.SalaryDetected {
		score += policy.WeightSalary
	}
	if s.MonthlyInflow > policy.CarLoanHighInflowThreshold {
		score += policy.WeightHighInflow
	}
	return score
}

// isPayrollLike marks credits coming through payroll-style fintech
// counterparties.
func isPayrollLike(tx *domain.Transaction) bool {
	return strings.EqualFold(tx.MerchantCategory, "fintech")
}

func isRideHailing(tx *domain.Transaction) bool {
	name := strings.ToLower(tx.MerchantName)
	for _, m := range rideHailingMerchants {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}
