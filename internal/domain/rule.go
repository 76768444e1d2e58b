package domain

// FlagRule derives an anomaly flag token from raw transaction
// attributes using a CEL expression. Rules run as an optional
// pre-step before risk scoring, for channels that deliver
// transactions without upstream flags.
type FlagRule struct {
	// Flag is the token added to the transaction flag set when the
	// expression evaluates to true. Must match a weight table entry
	// to contribute to the score.
	Flag string `json:"flag"`

	// Expression is a CEL boolean expression over the transaction
	// variables: amount, balance, channel, status, merchant_category,
	// tx_type, device_trusted.
	Expression string `json:"expression"`

	// Description is free-text operator documentation.
	Description string `json:"description,omitempty"`

	// Enabled toggles the rule without removing it.
	Enabled bool `json:"enabled"`
}
