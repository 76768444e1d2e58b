// Package eligibility validates customers against the strict
// product tier hierarchy: Investment Plan over Car Loan over
// Personal Loan. A customer is placed at the highest tier whose
// requirements they meet and is eligible only for that tier's
// product; requests for other tiers are deflected with a note.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// PolicyQuerier retrieves product policy text for justifications.
type PolicyQuerier interface {
	Query(ctx context.Context, question string, opts domain.QueryOptions) domain.QueryResult
}

// Tier steps in hierarchy order.
const (
	stepInvestment = 1
	stepCarLoan    = 2
	stepPersonal   = 3
)

var productSteps = map[string]int{
	domain.ProductInvestmentPlan: stepInvestment,
	domain.ProductCarLoan:        stepCarLoan,
	domain.ProductPersonalLoan:   stepPersonal,
}

var stepProducts = map[int]string{
	stepInvestment: domain.ProductInvestmentPlan,
	stepCarLoan:    domain.ProductCarLoan,
	stepPersonal:   domain.ProductPersonalLoan,
}

// Validator checks product eligibility from aggregated signals.
// The verdict is deterministic; retrieval only supplies the policy
// justification text.
type Validator struct {
	querier PolicyQuerier
}

// NewValidator creates a validator. querier may be nil; the
// justification then always uses the built-in template.
func NewValidator(querier PolicyQuerier) *Validator {
	return &Validator{querier: querier}
}

// Validate checks a customer against one product tier.
func (v *Validator) Validate(ctx context.Context, s domain.CustomerSignals, product string) domain.EligibilityVerdict {
	verdict := domain.EligibilityVerdict{
		CustomerID: s.CustomerID,
		Product:    product,
		Timestamp:  time.Now().UTC(),
	}

	step, known := productSteps[product]
	if !known {
		verdict.Notes = append(verdict.Notes, fmt.Sprintf("Unknown product %q; no eligibility tier defined.", product))
		verdict.Justification = fallbackJustification(&verdict)
		return verdict
	}
	verdict.HierarchyStep = step
	verdict.Requirements = requirementsFor(step, &s)

	placement := placementFor(&s)
	verdict.Eligible = placement == step
	if placement != 0 && placement < step {
		// Placement above the requested tier is itself disqualifying,
		// even when the tier's own requirements are met.
		verdict.Requirements = append(verdict.Requirements,
			check("tier_placement", float64(placement), float64(step), false))
	}

	switch {
	case placement == 0:
		verdict.Notes = append(verdict.Notes, "Customer does not currently qualify for any product tier.")
	case placement < step:
		verdict.Notes = append(verdict.Notes, fmt.Sprintf(
			"Customer's profile places them at the %s tier; recommend %s instead of %s.",
			stepProducts[placement], stepProducts[placement], product))
	case placement > step:
		verdict.Notes = append(verdict.Notes, fmt.Sprintf(
			"Customer does not meet the %s requirements; consider %s.",
			product, stepProducts[placement]))
	}

	// Customers below the car-loan tier get the component breakdown;
	// upward deflections already carry the recommendation note.
	if step == stepCarLoan && s.SignalScore < policy.CarLoanScoreThreshold && placement != stepInvestment {
		verdict.Notes = append(verdict.Notes, carLoanGapNotes(&s)...)
	}

	verdict.Justification, verdict.Grounded = v.justify(ctx, &verdict)
	return verdict
}

// Placement walks the hierarchy top-down and returns the highest
// tier the customer qualifies for, or 0 for none.
func placementFor(s *domain.CustomerSignals) int {
	switch {
	case s.MonthlyInflow > policy.InvestmentInflowThreshold:
		return stepInvestment
	case s.SignalScore >= policy.CarLoanScoreThreshold:
		return stepCarLoan
	case s.SalaryDetected && s.MonthlyInflow > policy.PersonalLoanInflowThreshold:
		return stepPersonal
	default:
		return 0
	}
}

// requirementsFor reports the decisive requirements of the requested
// tier with observed values, thresholds and exact gaps when unmet.
// For the car-loan tier the weighted composite score is the single
// decisive requirement; its sub-signals only explain the gap.
func requirementsFor(step int, s *domain.CustomerSignals) []domain.RequirementCheck {
	switch step {
	case stepInvestment:
		return []domain.RequirementCheck{
			check("monthly_inflow", s.MonthlyInflow, policy.InvestmentInflowThreshold, s.MonthlyInflow > policy.InvestmentInflowThreshold),
		}
	case stepCarLoan:
		return []domain.RequirementCheck{
			check("signal_score", s.SignalScore, policy.CarLoanScoreThreshold, s.SignalScore >= policy.CarLoanScoreThreshold),
		}
	default:
		return []domain.RequirementCheck{
			check("salary_credits", float64(s.SalaryCredits), policy.SalaryCreditMinCount, s.SalaryDetected),
			check("monthly_inflow", s.MonthlyInflow, policy.PersonalLoanInflowThreshold, s.MonthlyInflow > policy.PersonalLoanInflowThreshold),
		}
	}
}

// carLoanGapNotes explains which score components hold the composite
// below the threshold.
func carLoanGapNotes(s *domain.CustomerSignals) []string {
	var notes []string
	if s.RideHailingTrips < policy.CarLoanMinRideHailingTrips {
		notes = append(notes, fmt.Sprintf(
			"Ride-hailing component unmet: %d trips observed, %d required.",
			s.RideHailingTrips, policy.CarLoanMinRideHailingTrips))
	}
	if !s.SalaryDetected {
		notes = append(notes, fmt.Sprintf(
			"Salary component unmet: %d qualifying credits observed, %d required.",
			s.SalaryCredits, policy.SalaryCreditMinCount))
	}
	if s.MonthlyInflow <= policy.CarLoanHighInflowThreshold {
		notes = append(notes, fmt.Sprintf(
			"Inflow component unmet: %.0f observed, more than %.0f required.",
			s.MonthlyInflow, float64(policy.CarLoanHighInflowThreshold)))
	}
	return notes
}

func check(name string, observed, threshold float64, met bool) domain.RequirementCheck {
	c := domain.RequirementCheck{
		Name:      name,
		Met:       met,
		Observed:  observed,
		Threshold: threshold,
	}
	if !met && threshold > observed {
		c.Gap = threshold - observed
	}
	return c
}

func (v *Validator) justify(ctx context.Context, verdict *domain.EligibilityVerdict) (string, bool) {
	if v.querier != nil {
		question := fmt.Sprintf("What are the eligibility requirements for the %s?", verdict.Product)
		result := v.querier.Query(ctx, question, domain.QueryOptions{
			Collection: domain.CollectionBankPolicies,
		})
		if result.Grounded {
			return result.Answer, true
		}
	}
	return fallbackJustification(verdict), false
}

func fallbackJustification(verdict *domain.EligibilityVerdict) string {
	if verdict.Eligible {
		return fmt.Sprintf("Customer meets all %s requirements at hierarchy step %d.", verdict.Product, verdict.HierarchyStep)
	}
	for _, r := range verdict.Requirements {
		if !r.Met {
			return fmt.Sprintf("Customer does not qualify for %s: %s is %.2f against a required %.2f.",
				verdict.Product, r.Name, r.Observed, r.Threshold)
		}
	}
	return fmt.Sprintf("Customer does not qualify for %s at hierarchy step %d.", verdict.Product, verdict.HierarchyStep)
}
