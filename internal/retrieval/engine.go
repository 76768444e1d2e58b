// Package retrieval implements the query pipeline over the
// similarity index: search, relevance filtering, confidence
// aggregation, citation assembly and extractive answer synthesis.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
)

var tracer = otel.Tracer("kestrel-retrieval")

// Diagnostic messages for ungrounded results. They never appear in
// Answer, which stays empty when nothing was retrieved.
const (
	MsgNoResults    = "No relevant information found in the knowledge base."
	MsgLowRelevance = "The retrieved information is not relevant enough to answer this question confidently."
)

// Thresholds for grounding verdicts.
const groundingSupportedThreshold = 0.75

// Engine executes retrieval queries. Stateless per call; a single
// instance serves concurrent callers.
//
// The engine never returns an error for a query: index failures,
// timeouts, empty collections and low-relevance results all produce
// an ungrounded QueryResult with Confidence 0 and empty Sources.
type Engine struct {
	index domain.SimilarityIndex
	cache domain.Cache
	synth *Synthesizer
	cfg   domain.RetrievalConfig
}

// NewEngine creates a retrieval engine. cache may be nil to disable
// query result caching.
func NewEngine(index domain.SimilarityIndex, cache domain.Cache, cfg domain.RetrievalConfig) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = policy.RelevanceThreshold
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5
	}
	if cfg.MaxConcurrentQueries <= 0 {
		cfg.MaxConcurrentQueries = 4
	}
	if cfg.DefaultCollection == "" {
		cfg.DefaultCollection = domain.CollectionAllDocuments
	}
	return &Engine{
		index: index,
		cache: cache,
		synth: NewSynthesizer(),
		cfg:   cfg,
	}
}

// Query answers a question from the knowledge base.
func (e *Engine) Query(ctx context.Context, question string, opts domain.QueryOptions) domain.QueryResult {
	start := time.Now()
	collection := opts.Collection
	if collection == "" {
		collection = e.cfg.DefaultCollection
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	if cached, ok := e.cacheGet(ctx, collection, question, topK); ok {
		return cached
	}

	ctx, span := tracer.Start(ctx, "retrieval.query",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.Int("topK", topK),
		),
	)
	defer span.End()

	searchCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.QueryTimeout)*time.Second)
	defer cancel()

	passages, err := e.index.Search(searchCtx, collection, question, topK)
	if err != nil {
		slog.Warn("index search failed", "collection", collection, "error", err)
		return e.ungrounded(question, collection, MsgNoResults, start)
	}
	if len(passages) == 0 {
		return e.ungrounded(question, collection, MsgNoResults, start)
	}

	relevant := make([]domain.ScoredChunk, 0, len(passages))
	var total float64
	for _, p := range passages {
		sim := clamp01(1 - p.Distance)
		p.Similarity = sim
		if sim < e.cfg.RelevanceThreshold {
			continue
		}
		relevant = append(relevant, p)
		total += sim
	}
	if len(relevant) == 0 {
		return e.ungrounded(question, collection, MsgLowRelevance, start)
	}

	confidence := total / float64(len(relevant))
	if confidence > 1 {
		confidence = 1
	}

	sources := make([]domain.Citation, 0, len(relevant))
	for i, p := range relevant {
		sources = append(sources, domain.Citation{
			Rank:       i + 1,
			Document:   p.DocumentID,
			Section:    p.SectionTitle,
			Similarity: p.Similarity,
			Snippet:    snippet(p.Text, policy.SnippetMaxChars),
		})
	}

	result := domain.QueryResult{
		Question:   question,
		Answer:     e.synth.Synthesize(question, relevant),
		Confidence: confidence,
		Grounded:   true,
		Sources:    sources,
		Collection: collection,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	e.cacheSet(ctx, collection, question, topK, result)
	return result
}

// QueryWithContext prefixes the question with conversational context
// before retrieval. The context steers the search but citations and
// the answer remain extractive.
func (e *Engine) QueryWithContext(ctx context.Context, question, contextHint string, opts domain.QueryOptions) domain.QueryResult {
	q := question
	if strings.TrimSpace(contextHint) != "" {
		q = contextHint + "\n" + question
	}
	result := e.Query(ctx, q, opts)
	result.Question = question
	return result
}

// BatchQuery answers multiple questions concurrently, bounded by the
// configured parallelism. Results keep the input order.
func (e *Engine) BatchQuery(ctx context.Context, questions []string, opts domain.QueryOptions) []domain.QueryResult {
	results := make([]domain.QueryResult, len(questions))
	sem := make(chan struct{}, e.cfg.MaxConcurrentQueries)
	var wg sync.WaitGroup

	for i, q := range questions {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, q string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.Query(ctx, q, opts)
		}(i, q)
	}
	wg.Wait()
	return results
}

// CheckGrounding verifies a statement against the knowledge base.
func (e *Engine) CheckGrounding(ctx context.Context, statement string, opts domain.QueryOptions) domain.GroundingResult {
	result := e.Query(ctx, statement, opts)
	verdict := domain.GroundingNotSupported
	switch {
	case result.Grounded && result.Confidence > groundingSupportedThreshold:
		verdict = domain.GroundingSupported
	case result.Grounded:
		verdict = domain.GroundingPartiallySupported
	}
	return domain.GroundingResult{
		Statement:  statement,
		Verdict:    verdict,
		Confidence: result.Confidence,
		Sources:    result.Sources,
	}
}

func (e *Engine) ungrounded(question, collection, message string, start time.Time) domain.QueryResult {
	return domain.QueryResult{
		Question:   question,
		Message:    message,
		Confidence: 0,
		Grounded:   false,
		Sources:    []domain.Citation{},
		Collection: collection,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
}

func (e *Engine) cacheKey(collection, question string, topK int) string {
	return fmt.Sprintf("query:%s:%d:%s", collection, topK, question)
}

func (e *Engine) cacheGet(ctx context.Context, collection, question string, topK int) (domain.QueryResult, bool) {
	if e.cache == nil || e.cfg.CacheTTL <= 0 {
		return domain.QueryResult{}, false
	}
	data, err := e.cache.Get(ctx, e.cacheKey(collection, question, topK))
	if err != nil || data == nil {
		return domain.QueryResult{}, false
	}
	var result domain.QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.QueryResult{}, false
	}
	return result, true
}

func (e *Engine) cacheSet(ctx context.Context, collection, question string, topK int, result domain.QueryResult) {
	if e.cache == nil || e.cfg.CacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	ttl := time.Duration(e.cfg.CacheTTL) * time.Second
	if err := e.cache.Set(ctx, e.cacheKey(collection, question, topK), data, ttl); err != nil {
		slog.Debug("query cache set failed", "error", err)
	}
}

func snippet(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxChars {
		return text
	}
	return strings.TrimSpace(text[:maxChars-3]) + "..."
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
