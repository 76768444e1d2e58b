package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// PolicyQuerier retrieves policy guidance for explanations.
type PolicyQuerier interface {
	Query(ctx context.Context, question string, opts domain.QueryOptions) domain.QueryResult
}

// Scorer computes deterministic risk assessments.
//
// The numeric verdict is a pure function of the transaction and the
// policy tables: flag weights plus merchant risk plus timing risk,
// capped at 100, banded to a level and mapped to an action. The
// retrieval engine only supplies the human-readable explanation and
// can never alter the verdict.
type Scorer struct {
	constants *policy.Constants
	querier   PolicyQuerier
}

// NewScorer creates a scorer. querier may be nil; explanations then
// always use the built-in templates.
func NewScorer(constants *policy.Constants, querier PolicyQuerier) *Scorer {
	return &Scorer{constants: constants, querier: querier}
}

// Score assesses a single transaction. It never fails: malformed
// fields contribute zero risk.
func (s *Scorer) Score(ctx context.Context, tx *domain.Transaction) domain.RiskAssessment {
	flagScore := 0
	var triggers []string
	for _, f := range tx.FlagList() {
		w := s.constants.FlagWeight(f)
		if w > 0 {
			flagScore += w
			triggers = append(triggers, f)
		}
	}

	merchantScore := s.constants.MerchantRisk(tx.MerchantCategory)
	timingScore := s.timingRisk(tx)

	total := flagScore + merchantScore + timingScore
	if total > 100 {
		total = 100
	}
	level := s.constants.BandFor(total)

	a := domain.RiskAssessment{
		ID:            uuid.New().String(),
		TxID:          tx.ID,
		CustomerID:    tx.CustomerID,
		Score:         total,
		FlagScore:     flagScore,
		MerchantScore: merchantScore,
		TimingScore:   timingScore,
		Level:         level,
		Triggers:      triggers,
		Timestamp:     time.Now().UTC(),
	}

	switch level {
	case domain.RiskLevelCritical:
		a.Action = domain.ActionBlock
		a.ShouldBlock = true
		a.FreezeAccount = true
	case domain.RiskLevelHigh:
		a.Action = domain.ActionChallenge
		a.ChallengeType = domain.ChallengeBiometricPush
	case domain.RiskLevelMedium:
		a.Action = domain.ActionChallenge
		a.ChallengeType = domain.ChallengeOTP
	default:
		a.Action = domain.ActionAllow
	}

	a.Explanation, a.Grounded = s.explain(ctx, &a)
	return a
}

// timingRisk applies the night-window bonus for high-value
// transactions. A timestamp that fails to parse contributes zero.
func (s *Scorer) timingRisk(tx *domain.Transaction) int {
	if tx.Amount < policy.HighValueThreshold {
		return 0
	}
	ts, err := parseTimestamp(tx.Timestamp)
	if err != nil {
		return 0
	}
	h := ts.Hour()
	if h >= policy.NightWindowStartHour && h < policy.NightWindowEndHour {
		return policy.TimingRiskBonus
	}
	return 0
}

func parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05", raw)
}

// explain fetches policy guidance for the assessed level, falling
// back to a template when retrieval yields nothing.
func (s *Scorer) explain(ctx context.Context, a *domain.RiskAssessment) (string, bool) {
	if s.querier != nil {
		question := fmt.Sprintf(
			"What actions are required for a %s risk transaction with a fraud score of %d?",
			a.Level, a.Score,
		)
		result := s.querier.Query(ctx, question, domain.QueryOptions{
			Collection: domain.CollectionBankPolicies,
		})
		if result.Grounded {
			return result.Answer, true
		}
	}
	return fallbackExplanation(a), false
}

func fallbackExplanation(a *domain.RiskAssessment) string {
	switch a.Level {
	case domain.RiskLevelCritical:
		return fmt.Sprintf("Risk score %d (CRITICAL). Transaction blocked and account frozen pending manual fraud review.", a.Score)
	case domain.RiskLevelHigh:
		return fmt.Sprintf("Risk score %d (HIGH). Push-to-app biometric challenge required before the transaction proceeds.", a.Score)
	case domain.RiskLevelMedium:
		return fmt.Sprintf("Risk score %d (MEDIUM). One-time passcode verification required before the transaction proceeds.", a.Score)
	default:
		return fmt.Sprintf("Risk score %d (LOW). Transaction processed without additional verification.", a.Score)
	}
}
