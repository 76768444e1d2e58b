package domain

import (
	"time"
)

// Risk levels in ascending severity.
const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MEDIUM"
	RiskLevelHigh     = "HIGH"
	RiskLevelCritical = "CRITICAL"
)

// Enforcement actions mapped from risk levels.
const (
	ActionAllow     = "ALLOW"     // process silently
	ActionChallenge = "CHALLENGE" // step-up verification before processing
	ActionBlock     = "BLOCK"     // reject and freeze the account
)

// Challenge mechanisms for the CHALLENGE action.
const (
	ChallengeBiometricPush = "PUSH_BIOMETRIC" // in-app push with biometric confirm
	ChallengeOTP           = "OTP"            // one-time passcode
)

// RiskAssessment is the deterministic verdict for a transaction.
//
// The numeric verdict (score, level, action) never depends on
// retrieval; Explanation is advisory and falls back to a template
// when the knowledge base yields nothing.
type RiskAssessment struct {
	ID            string    `json:"id"`
	TxID          string    `json:"txId"`
	CustomerID    string    `json:"customerId"`
	Score         int       `json:"score"` // capped at 100
	FlagScore     int       `json:"flagScore"`
	MerchantScore int       `json:"merchantScore"`
	TimingScore   int       `json:"timingScore"`
	Level         string    `json:"level"`
	Action        string    `json:"action"`
	ChallengeType string    `json:"challengeType,omitempty"`
	ShouldBlock   bool      `json:"shouldBlock"`
	FreezeAccount bool      `json:"freezeAccount"`
	Triggers      []string  `json:"triggers"` // flag tokens that contributed
	Explanation   string    `json:"explanation"`
	Grounded      bool      `json:"grounded"` // explanation backed by retrieval
	Timestamp     time.Time `json:"timestamp"`
}
