package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// fakeIndex returns canned results per collection.
type fakeIndex struct {
	results map[string][]domain.ScoredChunk
	err     error
	calls   atomic.Int64
}

func (f *fakeIndex) Upsert(context.Context, string, []domain.Chunk) error { return nil }

func (f *fakeIndex) Search(_ context.Context, coll, _ string, _ int) ([]domain.ScoredChunk, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[coll], nil
}

func (f *fakeIndex) DeleteByDocument(context.Context, string, string) error { return nil }
func (f *fakeIndex) Count(context.Context, string) (int, error)            { return 0, nil }
func (f *fakeIndex) Ping(context.Context) error                            { return nil }
func (f *fakeIndex) Close() error                                          { return nil }

func passage(doc, text string, distance float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{
			ID:           doc + "_sec0",
			DocumentID:   doc,
			SectionTitle: "POLICY",
			Text:         text,
		},
		Distance: distance,
	}
}

func TestQueryEmptyCollection(t *testing.T) {
	engine := NewEngine(&fakeIndex{}, nil, domain.RetrievalConfig{})

	result := engine.Query(context.Background(), "What is the daily transfer limit?", domain.QueryOptions{})

	if result.Grounded {
		t.Error("expected ungrounded result for empty collection")
	}
	if result.Confidence != 0 {
		t.Errorf("expected confidence 0, got %f", result.Confidence)
	}
	if result.Sources == nil || len(result.Sources) != 0 {
		t.Errorf("expected empty (non-nil) sources, got %v", result.Sources)
	}
	if result.Answer != "" {
		t.Errorf("ungrounded result must carry no answer text, got %q", result.Answer)
	}
	if result.Message != MsgNoResults {
		t.Errorf("unexpected message: %q", result.Message)
	}
}

func TestQueryIndexErrorIsUngrounded(t *testing.T) {
	engine := NewEngine(&fakeIndex{err: fmt.Errorf("connection refused")}, nil, domain.RetrievalConfig{})

	result := engine.Query(context.Background(), "anything", domain.QueryOptions{})
	if result.Grounded || result.Confidence != 0 || len(result.Sources) != 0 || result.Answer != "" {
		t.Errorf("index failure must surface as ungrounded result, got %+v", result)
	}
}

func TestQueryLowRelevance(t *testing.T) {
	idx := &fakeIndex{results: map[string][]domain.ScoredChunk{
		domain.CollectionAllDocuments: {
			passage("doc_a", "Unrelated text about office opening hours and holiday schedules for branches.", 0.8),
			passage("doc_b", "Another unrelated passage about branch relocation notices and parking.", 0.9),
		},
	}}
	engine := NewEngine(idx, nil, domain.RetrievalConfig{})

	result := engine.Query(context.Background(), "What is the fraud escalation process?", domain.QueryOptions{})
	if result.Grounded {
		t.Error("expected ungrounded result when all passages fall below the threshold")
	}
	if result.Message != MsgLowRelevance {
		t.Errorf("unexpected message: %q", result.Message)
	}
	if result.Answer != "" || result.Confidence != 0 || len(result.Sources) != 0 {
		t.Errorf("ungrounded shape violated: %+v", result)
	}
}

func TestQueryGrounded(t *testing.T) {
	longText := "Transactions scoring in the critical band are blocked immediately and the customer account is frozen pending a manual fraud review by the designated operations team within one business day of the trigger."
	idx := &fakeIndex{results: map[string][]domain.ScoredChunk{
		"bank_policies": {
			passage("fraud_policy", longText, 0.1),
			passage("limits_policy", "Daily transfer limits depend on the customer verification tier and escalate with additional checks.", 0.3),
			passage("noise", "Totally unrelated content that should be filtered out by the threshold.", 0.9),
		},
	}}
	engine := NewEngine(idx, nil, domain.RetrievalConfig{})

	result := engine.Query(context.Background(), "What happens to critical risk transactions?", domain.QueryOptions{
		Collection: "bank_policies",
	})

	if !result.Grounded {
		t.Fatal("expected grounded result")
	}
	// Similarities 0.9 and 0.7 pass the 0.5 threshold; 0.1 does not.
	if len(result.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(result.Sources))
	}
	want := (0.9 + 0.7) / 2
	if diff := result.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %f, want %f", result.Confidence, want)
	}
	if result.Sources[0].Rank != 1 || result.Sources[1].Rank != 2 {
		t.Errorf("ranks wrong: %+v", result.Sources)
	}
	if result.Sources[0].Document != "fraud_policy" {
		t.Errorf("expected fraud_policy as top source, got %s", result.Sources[0].Document)
	}
	for _, src := range result.Sources {
		if len(src.Snippet) > 200 {
			t.Errorf("snippet exceeds 200 chars: %d", len(src.Snippet))
		}
	}
	if result.Answer == "" || result.Message != "" {
		t.Errorf("expected extractive answer without diagnostics, got answer %q message %q", result.Answer, result.Message)
	}
	if result.Collection != "bank_policies" {
		t.Errorf("collection not echoed: %s", result.Collection)
	}
}

func TestQueryDistanceClamping(t *testing.T) {
	// A negative distance (some backends overshoot) must clamp to
	// similarity 1, never above.
	idx := &fakeIndex{results: map[string][]domain.ScoredChunk{
		domain.CollectionAllDocuments: {
			passage("doc", "A sufficiently long passage about transfer reversal timelines for failed transactions in the app.", -0.2),
		},
	}}
	engine := NewEngine(idx, nil, domain.RetrievalConfig{})

	result := engine.Query(context.Background(), "transfer reversal timeline", domain.QueryOptions{})
	if !result.Grounded {
		t.Fatal("expected grounded result")
	}
	if result.Confidence > 1 {
		t.Errorf("confidence exceeds 1: %f", result.Confidence)
	}
	if result.Sources[0].Similarity != 1 {
		t.Errorf("similarity not clamped: %f", result.Sources[0].Similarity)
	}
}

func TestQueryCache(t *testing.T) {
	idx := &fakeIndex{results: map[string][]domain.ScoredChunk{
		domain.CollectionAllDocuments: {
			passage("doc", "Account statements can be downloaded from the app for any period within the last twelve months.", 0.2),
		},
	}}
	engine := NewEngine(idx, cache.NewLRUCache(10), domain.RetrievalConfig{CacheTTL: 60})

	ctx := context.Background()
	first := engine.Query(ctx, "How do I download a statement?", domain.QueryOptions{})
	second := engine.Query(ctx, "How do I download a statement?", domain.QueryOptions{})

	if n := idx.calls.Load(); n != 1 {
		t.Errorf("expected 1 index call with cache enabled, got %d", n)
	}
	if first.Answer != second.Answer || first.Confidence != second.Confidence {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
}

func TestBatchQueryKeepsOrder(t *testing.T) {
	idx := &fakeIndex{results: map[string][]domain.ScoredChunk{
		domain.CollectionAllDocuments: {
			passage("doc", "A passage about transaction limits, fees and schedules that answers several questions.", 0.2),
		},
	}}
	engine := NewEngine(idx, nil, domain.RetrievalConfig{MaxConcurrentQueries: 2})

	questions := []string{"first question", "second question", "third question"}
	results := engine.BatchQuery(context.Background(), questions, domain.QueryOptions{})

	if len(results) != len(questions) {
		t.Fatalf("expected %d results, got %d", len(questions), len(results))
	}
	for i, q := range questions {
		if results[i].Question != q {
			t.Errorf("result %d out of order: %q", i, results[i].Question)
		}
	}
}

func TestQueryWithContext(t *testing.T) {
	idx := &fakeIndex{results: map[string][]domain.ScoredChunk{
		domain.CollectionAllDocuments: {
			passage("doc", "Dispute resolution for card transactions starts with a claim filed through the mobile app.", 0.2),
		},
	}}
	engine := NewEngine(idx, nil, domain.RetrievalConfig{})

	result := engine.QueryWithContext(context.Background(), "How do I file one?", "We were discussing card disputes.", domain.QueryOptions{})
	if !result.Grounded {
		t.Fatal("expected grounded result")
	}
	// The hint steers retrieval but the reported question is the
	// user's original.
	if result.Question != "How do I file one?" {
		t.Errorf("question rewritten: %q", result.Question)
	}
}

func TestCheckGrounding(t *testing.T) {
	supported := &fakeIndex{results: map[string][]domain.ScoredChunk{
		domain.CollectionAllDocuments: {
			passage("doc", "Critical risk transactions are blocked and the account is frozen pending fraud review by operations.", 0.1),
		},
	}}
	partial := &fakeIndex{results: map[string][]domain.ScoredChunk{
		domain.CollectionAllDocuments: {
			passage("doc", "Critical risk transactions are blocked and the account is frozen pending fraud review by operations.", 0.4),
		},
	}}

	tests := []struct {
		name    string
		index   *fakeIndex
		verdict string
	}{
		{"Supported", supported, domain.GroundingSupported},
		{"PartiallySupported", partial, domain.GroundingPartiallySupported},
		{"NotSupported", &fakeIndex{}, domain.GroundingNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(tt.index, nil, domain.RetrievalConfig{})
			result := engine.CheckGrounding(context.Background(), "Critical transactions are blocked.", domain.QueryOptions{})
			if result.Verdict != tt.verdict {
				t.Errorf("verdict = %s, want %s", result.Verdict, tt.verdict)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("policy text ", 30)
	s := snippet(long, 200)
	if len(s) > 200 {
		t.Errorf("snippet too long: %d", len(s))
	}
	if !strings.HasSuffix(s, "...") {
		t.Errorf("truncated snippet missing ellipsis: %q", s)
	}
	if got := snippet("short", 200); got != "short" {
		t.Errorf("short text should pass through, got %q", got)
	}
}
