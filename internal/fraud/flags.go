// Package fraud scores transactions deterministically and derives
// anomaly flags for channels that deliver transactions unflagged.
package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FlagEngine evaluates CEL expressions over raw transaction
// attributes to derive anomaly flag tokens. It runs as an optional
// pre-step before scoring; transactions that already carry upstream
// flags keep them, derived flags are merged in.
type FlagEngine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*compiledFlagRule
	maxWorkers int
}

type compiledFlagRule struct {
	rule    domain.FlagRule
	program cel.Program
}

// NewFlagEngine creates a flag derivation engine.
func NewFlagEngine(maxWorkers int) (*FlagEngine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("balance", cel.DoubleType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("device_trusted", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &FlagEngine{
		env:        env,
		compiled:   make(map[string]*compiledFlagRule),
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *FlagEngine) ValidateRule(rule domain.FlagRule) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, err := e.compileRule(rule)
	return err
}

// LoadRules compiles and loads all enabled rules.
func (e *FlagEngine) LoadRules(rules []domain.FlagRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		e.compiled[rule.Flag] = compiled
	}
	return nil
}

// ReloadRules replaces all loaded rules atomically.
func (e *FlagEngine) ReloadRules(rules []domain.FlagRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make(map[string]*compiledFlagRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		next[rule.Flag] = compiled
	}
	e.compiled = next
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *FlagEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Derive evaluates all loaded rules in parallel and returns the
// flag tokens whose expressions are true, in sorted order. A rule
// that fails to evaluate derives nothing: flags fail closed.
func (e *FlagEngine) Derive(ctx context.Context, tx *domain.Transaction) []string {
	e.mu.RLock()
	rules := make([]*compiledFlagRule, 0, len(e.compiled))
	for _, r := range e.compiled {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := map[string]any{
		"amount":            tx.Amount,
		"balance":           tx.BalanceAfter,
		"channel":           tx.Channel,
		"status":            tx.Status,
		"merchant_category": tx.MerchantCategory,
		"tx_type":           tx.Type,
		"device_trusted":    tx.DeviceTrusted,
	}

	matched := make([]bool, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *compiledFlagRule) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, _, err := r.program.Eval(activation)
			if err != nil {
				slog.Debug("flag rule evaluation failed",
					"flag", r.rule.Flag, "tx_id", tx.ID, "error", err)
				return
			}
			if b, ok := out.(types.Bool); ok && bool(b) {
				matched[idx] = true
			}
		}(i, rule)
	}
	wg.Wait()

	var flags []string
	for i, r := range rules {
		if matched[i] {
			flags = append(flags, r.rule.Flag)
		}
	}
	sort.Strings(flags)
	return flags
}

// Apply derives flags and merges them into the transaction flag set.
func (e *FlagEngine) Apply(ctx context.Context, tx *domain.Transaction) {
	for _, f := range e.Derive(ctx, tx) {
		tx.AddFlag(f)
	}
}

// Close clears all loaded rules.
func (e *FlagEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledFlagRule)
	return nil
}

func (e *FlagEngine) compileRule(rule domain.FlagRule) (*compiledFlagRule, error) {
	if rule.Flag == "" {
		return nil, fmt.Errorf("flag rule: flag token is required")
	}
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile flag rule %s: %w", rule.Flag, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("flag rule %s: expression must return bool, got %s", rule.Flag, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for flag rule %s: %w", rule.Flag, err)
	}
	return &compiledFlagRule{rule: rule, program: program}, nil
}

// DefaultFlagRules returns the standard derivation rules for
// transactions arriving without upstream flags.
func DefaultFlagRules() []domain.FlagRule {
	return []domain.FlagRule{
		{
			Flag:        "high_amount_spike",
			Expression:  `balance > 0.0 && amount > balance * 0.6`,
			Description: "Single debit consuming most of the available balance",
			Enabled:     true,
		},
		{
			Flag:        "multiple_failures",
			Expression:  `status == "failed"`,
			Description: "Transaction arriving on a failure cascade",
			Enabled:     true,
		},
		{
			Flag:        "mobile_channel_risk",
			Expression:  `channel == "mobile_app" && !device_trusted`,
			Description: "Mobile app transaction from an untrusted device",
			Enabled:     true,
		},
		{
			Flag:        "round_amount",
			Expression:  `amount >= 10000.0 && int(amount) % 10000 == 0`,
			Description: "Large round amounts typical of coached transfers",
			Enabled:     true,
		},
	}
}
