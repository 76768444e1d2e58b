// Package complaints routes customer complaints to departments with
// a priority and an SLA deadline, guided by retrieved policy text.
package complaints

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// PolicyQuerier retrieves routing guidance from the knowledge base.
type PolicyQuerier interface {
	Query(ctx context.Context, question string, opts domain.QueryOptions) domain.QueryResult
}

// CompletionProvider optionally rephrases the advisory category
// label. The routing decision itself never depends on it.
type CompletionProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Keyword tables for priority classification, checked in precedence
// order. First match wins.
var (
	criticalKeywords = []string{"fraud", "unauthorized", "hacked", "stolen", "scam"}
	highKeywords     = []string{"declined", "swallowed", "retention", "blocked", "not received", "failed transfer"}
	lowKeywords      = []string{"statement", "balance", "inquiry"}
)

// Advisory category labels keyed by trigger keywords, matched
// against the retrieved answer text.
var categoryKeywords = []struct {
	label    string
	keywords []string
}{
	{"fraud_dispute", []string{"fraud", "unauthorized", "scam", "stolen"}},
	{"card_issue", []string{"card", "atm", "swallowed", "declined", "pos"}},
	{"transfer_issue", []string{"transfer", "not received", "reversal", "pending"}},
	{"digital_access", []string{"app", "login", "ussd", "password", "locked"}},
	{"account_service", []string{"statement", "balance", "account", "bvn"}},
	{"loan_service", []string{"loan", "credit", "repayment", "interest"}},
}

// Router assigns complaints to departments. Routing never fails:
// when nothing can be resolved the decision degrades to the UNKNOWN
// department, Medium priority and the general-queue SLA.
type Router struct {
	constants *policy.Constants
	querier   PolicyQuerier
	completer CompletionProvider
}

// NewRouter creates a complaint router. completer may be nil.
func NewRouter(constants *policy.Constants, querier PolicyQuerier, completer CompletionProvider) *Router {
	return &Router{constants: constants, querier: querier, completer: completer}
}

// Route produces a routing decision for a complaint.
func (r *Router) Route(ctx context.Context, c *domain.Complaint) domain.RoutingDecision {
	decision := domain.RoutingDecision{
		ComplaintID: c.ID,
		Department:  domain.DepartmentUnknown,
		Priority:    domain.PriorityMedium,
		SLAHours:    policy.DefaultSLAHours,
		Timestamp:   time.Now().UTC(),
	}

	var answer string
	if r.querier != nil {
		question := "Which department handles this customer complaint: " + c.Text
		result := r.querier.Query(ctx, question, domain.QueryOptions{
			Collection: domain.CollectionBankPolicies,
		})
		if result.Grounded {
			answer = result.Answer
			decision.Answer = result.Answer
			decision.Grounded = true
			decision.Sources = result.Sources
		}
	}

	if dept, ok := r.extractDepartment(answer); ok {
		decision.Department = dept.Code
		decision.DepartmentName = dept.Name
		decision.SLAHours = dept.SLAHours
	}

	decision.Priority = r.classifyPriority(decision.Department, c.Text)
	decision.Category = r.classifyCategory(ctx, answer)
	return decision
}

// extractDepartment finds the first department mentioned in the
// retrieved answer, by code or by name. FRM is checked first so a
// fraud mention always wins over co-mentioned departments.
func (r *Router) extractDepartment(answer string) (policy.Department, bool) {
	if answer == "" {
		return policy.Department{}, false
	}
	haystack := strings.ToLower(answer)
	for _, d := range r.constants.Departments() {
		if strings.Contains(haystack, strings.ToLower(d.Name)) {
			return d, true
		}
		if containsWord(haystack, strings.ToLower(d.Code)) {
			return d, true
		}
	}
	return policy.Department{}, false
}

// classifyPriority applies the precedence ladder: FRM override,
// then critical, high and low keyword tiers, defaulting to Medium.
func (r *Router) classifyPriority(department, text string) string {
	if department == "FRM" {
		return domain.PriorityCritical
	}
	lowered := strings.ToLower(text)
	for _, kw := range criticalKeywords {
		if strings.Contains(lowered, kw) {
			return domain.PriorityCritical
		}
	}
	for _, kw := range highKeywords {
		if strings.Contains(lowered, kw) {
			return domain.PriorityHigh
		}
	}
	for _, kw := range lowKeywords {
		if strings.Contains(lowered, kw) {
			return domain.PriorityLow
		}
	}
	return domain.PriorityMedium
}

// classifyCategory produces the advisory label from the retrieved
// answer text; ungrounded routings stay at general_inquiry. With a
// completion provider configured, the keyword label may be rephrased;
// failures keep the keyword label.
func (r *Router) classifyCategory(ctx context.Context, answer string) string {
	if answer == "" {
		return "general_inquiry"
	}
	lowered := strings.ToLower(answer)
	label := "general_inquiry"
	for _, c := range categoryKeywords {
		if matchesAny(lowered, c.keywords) {
			label = c.label
			break
		}
	}
	if r.completer != nil {
		prompt := "Rephrase this complaint category label as a short human-readable phrase: " + label
		if rephrased, err := r.completer.Generate(ctx, prompt); err == nil && strings.TrimSpace(rephrased) != "" {
			return strings.TrimSpace(rephrased)
		} else if err != nil {
			slog.Debug("category rephrase failed", "error", err)
		}
	}
	return label
}

func matchesAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// containsWord matches a token on word boundaries so short codes
// like "COC" do not match inside unrelated words.
func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isAlnum(haystack[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(haystack) || !isAlnum(haystack[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
