package fraud

import (
	"context"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// groundedQuerier returns a fixed grounded answer.
type groundedQuerier struct {
	answer string
}

func (q *groundedQuerier) Query(_ context.Context, _ string, _ domain.QueryOptions) domain.QueryResult {
	return domain.QueryResult{
		Answer:     q.answer,
		Confidence: 0.9,
		Grounded:   true,
		Sources:    []domain.Citation{{Rank: 1, Document: "fraud_policy"}},
	}
}

func TestScoreHighRiskChallenge(t *testing.T) {
	s := NewScorer(policy.NewConstants(), nil)

	tx := &domain.Transaction{
		ID:               "tx-001",
		CustomerID:       "cust-001",
		Amount:           50000,
		MerchantCategory: "fintech",
		Flags:            "mobile_channel_risk,high_amount_spike",
		Timestamp:        "2025-06-01T14:30:00Z",
	}

	a := s.Score(context.Background(), tx)

	// 15 + 25 flags, 25 merchant, no timing bonus.
	if a.Score != 65 {
		t.Fatalf("score = %d, want 65", a.Score)
	}
	if a.FlagScore != 40 || a.MerchantScore != 25 || a.TimingScore != 0 {
		t.Errorf("component scores wrong: flags=%d merchant=%d timing=%d", a.FlagScore, a.MerchantScore, a.TimingScore)
	}
	if a.Level != domain.RiskLevelHigh {
		t.Errorf("level = %s, want HIGH", a.Level)
	}
	if a.Action != domain.ActionChallenge {
		t.Errorf("action = %s, want CHALLENGE", a.Action)
	}
	if a.ChallengeType != domain.ChallengeBiometricPush {
		t.Errorf("challenge = %s, want PUSH_BIOMETRIC", a.ChallengeType)
	}
	if a.ShouldBlock || a.FreezeAccount {
		t.Error("HIGH risk must challenge, not block")
	}
	if len(a.Triggers) != 2 {
		t.Errorf("triggers = %v, want both flags", a.Triggers)
	}
}

func TestScoreNormalPattern(t *testing.T) {
	s := NewScorer(policy.NewConstants(), nil)

	tx := &domain.Transaction{
		ID:               "tx-002",
		Amount:           4500,
		MerchantCategory: "supermarket",
		Flags:            "normal_pattern",
		Timestamp:        "2025-06-01T11:00:00Z",
	}

	a := s.Score(context.Background(), tx)

	if a.Score != 0 {
		t.Fatalf("score = %d, want 0", a.Score)
	}
	if a.Level != domain.RiskLevelLow {
		t.Errorf("level = %s, want LOW", a.Level)
	}
	if a.Action != domain.ActionAllow {
		t.Errorf("action = %s, want ALLOW", a.Action)
	}
	if a.ChallengeType != "" || a.ShouldBlock || a.FreezeAccount {
		t.Error("LOW risk must process silently")
	}
	if len(a.Triggers) != 0 {
		t.Errorf("unknown flag must not trigger: %v", a.Triggers)
	}
}

func TestScoreCriticalBlocksAndFreezes(t *testing.T) {
	s := NewScorer(policy.NewConstants(), nil)

	tx := &domain.Transaction{
		ID:               "tx-003",
		Amount:           250000,
		MerchantCategory: "crypto_exchange",
		Flags:            "multiple_failures,sim_swap_device",
		Timestamp:        "2025-06-01T02:15:00Z",
	}

	a := s.Score(context.Background(), tx)

	// 30+35 flags, 20 merchant, 20 night bonus = 105, capped at 100.
	if a.Score != 100 {
		t.Fatalf("score = %d, want 100 (capped)", a.Score)
	}
	if a.TimingScore != policy.TimingRiskBonus {
		t.Errorf("timing score = %d, want %d", a.TimingScore, policy.TimingRiskBonus)
	}
	if a.Level != domain.RiskLevelCritical {
		t.Errorf("level = %s, want CRITICAL", a.Level)
	}
	if a.Action != domain.ActionBlock || !a.ShouldBlock || !a.FreezeAccount {
		t.Errorf("CRITICAL must block and freeze: %+v", a)
	}
}

func TestScoreMediumUsesOTP(t *testing.T) {
	s := NewScorer(policy.NewConstants(), nil)

	tx := &domain.Transaction{
		ID:        "tx-004",
		Amount:    20000,
		Flags:     "multiple_failures,round_amount", // 30 + 10
		Timestamp: "2025-06-01T14:00:00Z",
	}

	a := s.Score(context.Background(), tx)
	if a.Score != 40 || a.Level != domain.RiskLevelMedium {
		t.Fatalf("score=%d level=%s, want 40 MEDIUM", a.Score, a.Level)
	}
	if a.Action != domain.ActionChallenge || a.ChallengeType != domain.ChallengeOTP {
		t.Errorf("MEDIUM must challenge with OTP: %+v", a)
	}
}

func TestTimingRisk(t *testing.T) {
	s := NewScorer(policy.NewConstants(), nil)

	tests := []struct {
		name      string
		amount    float64
		timestamp string
		want      int
	}{
		{"NightHighValue", 150000, "2025-06-01T03:00:00Z", 20},
		{"NightBoundaryStart", 100000, "2025-06-01T00:00:00Z", 20},
		{"NightBoundaryEnd", 150000, "2025-06-01T05:00:00Z", 0}, // exclusive
		{"DaytimeHighValue", 150000, "2025-06-01T14:00:00Z", 0},
		{"NightLowValue", 50000, "2025-06-01T03:00:00Z", 0},
		{"NoTimezone", 150000, "2025-06-01T03:00:00", 20},
		{"Malformed", 150000, "yesterday evening", 0},
		{"Empty", 150000, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &domain.Transaction{Amount: tt.amount, Timestamp: tt.timestamp}
			if got := s.timingRisk(tx); got != tt.want {
				t.Errorf("timingRisk = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreExplanationGrounding(t *testing.T) {
	t.Run("GroundedExplanation", func(t *testing.T) {
		s := NewScorer(policy.NewConstants(), &groundedQuerier{answer: "Escalate to the fraud desk and freeze the account."})
		a := s.Score(context.Background(), &domain.Transaction{Flags: "sim_swap_device,profile_change,geo_anomaly"})
		if !a.Grounded {
			t.Error("expected grounded explanation")
		}
		if a.Explanation != "Escalate to the fraud desk and freeze the account." {
			t.Errorf("unexpected explanation: %q", a.Explanation)
		}
	})

	t.Run("FallbackTemplate", func(t *testing.T) {
		s := NewScorer(policy.NewConstants(), nil)
		a := s.Score(context.Background(), &domain.Transaction{Flags: "sim_swap_device"})
		if a.Grounded {
			t.Error("expected ungrounded fallback explanation")
		}
		if !strings.Contains(a.Explanation, "MEDIUM") {
			t.Errorf("fallback must name the level: %q", a.Explanation)
		}
	})
}

func TestScoreVerdictIndependentOfRetrieval(t *testing.T) {
	tx := &domain.Transaction{
		ID:               "tx-005",
		Amount:           50000,
		MerchantCategory: "fintech",
		Flags:            "mobile_channel_risk,high_amount_spike",
	}

	withQuerier := NewScorer(policy.NewConstants(), &groundedQuerier{answer: "anything"}).Score(context.Background(), tx)
	withoutQuerier := NewScorer(policy.NewConstants(), nil).Score(context.Background(), tx)

	if withQuerier.Score != withoutQuerier.Score ||
		withQuerier.Level != withoutQuerier.Level ||
		withQuerier.Action != withoutQuerier.Action {
		t.Errorf("retrieval altered the verdict: %+v vs %+v", withQuerier, withoutQuerier)
	}
}
