package domain

import (
	"strings"
)

// Transaction represents a customer transaction to be risk-scored.
//
// Timestamp is kept as the raw RFC 3339 string from the upstream
// channel: a malformed value must degrade to zero timing risk rather
// than fail the evaluation, so parsing is deferred to the scorer.
type Transaction struct {
	ID               string  `json:"id"`
	CustomerID       string  `json:"customerId"`
	Type             string  `json:"type"`   // "debit" or "credit"
	Status           string  `json:"status"` // "completed", "failed", "pending"
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	BalanceAfter     float64 `json:"balanceAfter"`
	MerchantName     string  `json:"merchantName"`
	MerchantCategory string  `json:"merchantCategory"`
	Channel          string  `json:"channel"` // "mobile_app", "web", "ussd", "pos", "atm"
	DeviceTrusted    bool    `json:"deviceTrusted"`
	Timestamp        string  `json:"timestamp"`

	// Flags is a comma-separated set of anomaly flag tokens attached
	// upstream (or derived by the flag engine). Unknown tokens are
	// ignored by the scorer.
	Flags string `json:"flags"`
}

// FlagList splits the comma-separated flag set into trimmed tokens.
// Empty segments are dropped.
func (t *Transaction) FlagList() []string {
	if t.Flags == "" {
		return nil
	}
	parts := strings.Split(t.Flags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HasFlag reports whether the flag set contains the given token.
func (t *Transaction) HasFlag(name string) bool {
	for _, f := range t.FlagList() {
		if f == name {
			return true
		}
	}
	return false
}

// AddFlag appends a token to the flag set if not already present.
func (t *Transaction) AddFlag(name string) {
	if name == "" || t.HasFlag(name) {
		return
	}
	if t.Flags == "" {
		t.Flags = name
		return
	}
	t.Flags += "," + name
}
