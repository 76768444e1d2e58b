package domain

// QueryOptions controls a single retrieval query.
// Zero values fall back to the engine's configured defaults.
type QueryOptions struct {
	Collection string `json:"collection,omitempty"`
	TopK       int    `json:"topK,omitempty"`
}

// QueryResult is the outcome of a retrieval query.
//
// Answer is always extracted verbatim from retrieved passages; when
// Grounded is false it is empty and the diagnostic lives in Message,
// alongside Confidence 0 and an empty Sources slice. Callers can
// always rely on this shape: retrieval failures, timeouts and empty
// collections all surface as ungrounded results, never as errors.
type QueryResult struct {
	Question   string     `json:"question"`
	Answer     string     `json:"answer,omitempty"`
	Message    string     `json:"message,omitempty"`
	Confidence float64    `json:"confidence"`
	Grounded   bool       `json:"grounded"`
	Sources    []Citation `json:"sources"`
	Collection string     `json:"collection"`
	ElapsedMs  int64      `json:"elapsedMs"`
}

// Citation points at a retrieved passage backing an answer.
type Citation struct {
	Rank       int     `json:"rank"`
	Document   string  `json:"document"`
	Section    string  `json:"section"`
	Similarity float64 `json:"similarity"`
	Snippet    string  `json:"snippet"`
}

// Grounding verdicts for statement verification.
const (
	GroundingSupported          = "SUPPORTED"
	GroundingPartiallySupported = "PARTIALLY_SUPPORTED"
	GroundingNotSupported       = "NOT_SUPPORTED"
)

// GroundingResult is the outcome of checking a statement against
// the knowledge base.
type GroundingResult struct {
	Statement  string     `json:"statement"`
	Verdict    string     `json:"verdict"`
	Confidence float64    `json:"confidence"`
	Sources    []Citation `json:"sources"`
}

// RetrievalConfig holds configuration for the retrieval engine.
type RetrievalConfig struct {
	// DefaultCollection is queried when a request names none.
	DefaultCollection string

	// TopK is the default number of passages to retrieve.
	TopK int

	// RelevanceThreshold filters passages below this similarity.
	RelevanceThreshold float64

	// QueryTimeout bounds a single index round-trip, in seconds.
	QueryTimeout int

	// MaxConcurrentQueries bounds batch query parallelism.
	MaxConcurrentQueries int

	// CacheTTL is the query result cache lifetime, in seconds.
	// Zero disables caching.
	CacheTTL int
}
