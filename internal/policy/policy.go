// Package policy holds the deterministic decision tables shared by
// the scoring and routing components: anomaly flag weights, merchant
// category risk, risk bands, department registry with SLAs, and
// product eligibility thresholds.
//
// Every lookup is fail-closed: an unknown key yields the documented
// neutral default, never an error or a panic. The tables are built
// once by NewConstants and never mutated afterwards, so a single
// instance is safe for concurrent use.
package policy

import (
	"strings"
)

// Chunking and retrieval parameters.
const (
	MaxChunkSize       = 1000 // characters per chunk before sentence splitting
	ChunkOverlap       = 100  // approximate overlap budget carried between sub-chunks
	MinSectionSize     = 50   // fragments below this are discarded
	RelevanceThreshold = 0.5
	MaxAnswerWords     = 500
	SnippetMaxChars    = 200
)

// Timing risk parameters. A transaction at or above the high-value
// threshold during the night window carries the timing bonus.
const (
	NightWindowStartHour = 0
	NightWindowEndHour   = 5 // exclusive
	HighValueThreshold   = 100000.0
	TimingRiskBonus      = 20
)

// Eligibility thresholds.
const (
	InvestmentInflowThreshold   = 2000000.0
	CarLoanScoreThreshold       = 0.7
	CarLoanHighInflowThreshold  = 500000.0
	CarLoanMinRideHailingTrips  = 6
	PersonalLoanInflowThreshold = 300000.0
	SalaryCreditMinAmount       = 200000.0
	SalaryCreditMinCount        = 2
)

// Car-loan composite signal weights. They sum to 1.0.
const (
	WeightRideHailing = 0.4
	WeightSalary      = 0.3
	WeightHighInflow  = 0.3
)

// DefaultSLAHours is the general-queue SLA applied when no
// department can be resolved.
const DefaultSLAHours = 48

// RiskBand maps an inclusive score range to a risk level.
type RiskBand struct {
	Level string
	Lower int
	Upper int
}

// Department describes a routing target with its SLA.
type Department struct {
	Code     string
	Name     string
	SLAHours int
}

// Constants is the immutable table set. Construct with NewConstants.
type Constants struct {
	flagWeights  map[string]int
	merchantRisk map[string]int
	bands        []RiskBand
	departments  []Department
	deptByCode   map[string]Department
}

// NewConstants builds the standard table set.
func NewConstants() *Constants {
	c := &Constants{
		flagWeights: map[string]int{
			"mobile_channel_risk":      15,
			"high_amount_spike":        25,
			"multiple_failures":        30,
			"new_device":               15,
			"geo_anomaly":              20,
			"round_amount":             10,
			"velocity_burst":           25,
			"sim_swap_device":          35,
			"profile_change":           30,
			"international_no_history": 25,
		},
		merchantRisk: map[string]int{
			"fintech":         25,
			"crypto_exchange": 20,
			"betting":         15,
			"gambling":        15,
			"transport":       5,
			"telecoms":        5,
			"fuel":            5,
		},
		bands: []RiskBand{
			{Level: "LOW", Lower: 0, Upper: 30},
			{Level: "MEDIUM", Lower: 31, Upper: 60},
			{Level: "HIGH", Lower: 61, Upper: 85},
			{Level: "CRITICAL", Lower: 86, Upper: 100},
		},
		departments: []Department{
			{Code: "FRM", Name: "Fraud Risk Management", SLAHours: 24},
			{Code: "TSU", Name: "Transaction Services Unit", SLAHours: 48},
			{Code: "COC", Name: "Card Operations Center", SLAHours: 48},
			{Code: "DCS", Name: "Digital Channels Support", SLAHours: 72},
			{Code: "AOD", Name: "Account Operations Department", SLAHours: 72},
			{Code: "CLS", Name: "Credit & Loan Services", SLAHours: 96},
		},
	}
	c.deptByCode = make(map[string]Department, len(c.departments))
	for _, d := range c.departments {
		c.deptByCode[d.Code] = d
	}
	return c
}

// FlagWeight returns the score contribution of an anomaly flag.
// Unknown flags contribute 0.
func (c *Constants) FlagWeight(flag string) int {
	return c.flagWeights[flag]
}

// KnownFlags returns the recognized flag vocabulary.
func (c *Constants) KnownFlags() []string {
	out := make([]string, 0, len(c.flagWeights))
	for f := range c.flagWeights {
		out = append(out, f)
	}
	return out
}

// MerchantRisk returns the risk contribution of a merchant category.
// The lookup is case-insensitive; unknown categories contribute 0.
func (c *Constants) MerchantRisk(category string) int {
	return c.merchantRisk[strings.ToLower(category)]
}

// BandFor maps a capped score to its risk level. Scores outside
// [0,100] are clamped before banding, so the mapping is total.
func (c *Constants) BandFor(score int) string {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	for _, b := range c.bands {
		if score >= b.Lower && score <= b.Upper {
			return b.Level
		}
	}
	// Unreachable: bands are exhaustive over [0,100].
	return c.bands[0].Level
}

// Bands returns the band table in ascending order.
func (c *Constants) Bands() []RiskBand {
	out := make([]RiskBand, len(c.bands))
	copy(out, c.bands)
	return out
}

// Departments returns the routing registry in matching-precedence
// order (FRM first).
func (c *Constants) Departments() []Department {
	out := make([]Department, len(c.departments))
	copy(out, c.departments)
	return out
}

// DepartmentByCode resolves a department code. The second return is
// false for unknown codes; callers fall back to the general queue.
func (c *Constants) DepartmentByCode(code string) (Department, bool) {
	d, ok := c.deptByCode[strings.ToUpper(code)]
	return d, ok
}

// SLAHours returns the SLA for a department code, or DefaultSLAHours
// when the code is unknown.
func (c *Constants) SLAHours(code string) int {
	if d, ok := c.deptByCode[strings.ToUpper(code)]; ok {
		return d.SLAHours
	}
	return DefaultSLAHours
}

