package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/complaints"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/eligibility"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/retrieval"
	"github.com/opensource-finance/kestrel/internal/signals"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	index      domain.SimilarityIndex
	engine     *retrieval.Engine
	flagEngine *fraud.FlagEngine
	scorer     *fraud.Scorer
	router     *complaints.Router
	validator  *eligibility.Validator
	ingester   *ingest.Service
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, index domain.SimilarityIndex, engine *retrieval.Engine, flagEngine *fraud.FlagEngine, scorer *fraud.Scorer, router *complaints.Router, validator *eligibility.Validator, ingester *ingest.Service, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		index:      index,
		engine:     engine,
		flagEngine: flagEngine,
		scorer:     scorer,
		router:     router,
		validator:  validator,
		ingester:   ingester,
		version:    version,
	}
}

// QueryRequest is the request body for POST /query.
type QueryRequest struct {
	Question   string `json:"question"`
	Collection string `json:"collection,omitempty"`
	TopK       int    `json:"topK,omitempty"`
	Context    string `json:"context,omitempty"`
}

// Query handles POST /query requests.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "question is required",
		})
		return
	}

	opts := domain.QueryOptions{Collection: req.Collection, TopK: req.TopK}
	var result domain.QueryResult
	if req.Context != "" {
		result = h.engine.QueryWithContext(r.Context(), req.Question, req.Context, opts)
	} else {
		result = h.engine.Query(r.Context(), req.Question, opts)
	}

	writeJSON(w, http.StatusOK, result)
}

// BatchQueryRequest is the request body for POST /query/batch.
type BatchQueryRequest struct {
	Questions  []string `json:"questions"`
	Collection string   `json:"collection,omitempty"`
	TopK       int      `json:"topK,omitempty"`
}

// BatchQuery handles POST /query/batch requests.
func (h *Handler) BatchQuery(w http.ResponseWriter, r *http.Request) {
	var req BatchQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Questions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one question is required",
		})
		return
	}

	opts := domain.QueryOptions{Collection: req.Collection, TopK: req.TopK}
	results := h.engine.BatchQuery(r.Context(), req.Questions, opts)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// GroundingRequest is the request body for POST /grounding/check.
type GroundingRequest struct {
	Statement  string `json:"statement"`
	Collection string `json:"collection,omitempty"`
}

// CheckGrounding handles POST /grounding/check requests.
func (h *Handler) CheckGrounding(w http.ResponseWriter, r *http.Request) {
	var req GroundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Statement == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "statement is required",
		})
		return
	}

	result := h.engine.CheckGrounding(r.Context(), req.Statement, domain.QueryOptions{
		Collection: req.Collection,
	})
	writeJSON(w, http.StatusOK, result)
}

// ScoreTransaction handles POST /fraud/score requests. Scoring is
// synchronous; the resulting assessment is also appended to the
// decision audit log.
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if tx.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must not be negative",
		})
		return
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	if h.flagEngine != nil && tx.Flags == "" {
		h.flagEngine.Apply(ctx, &tx)
	}

	assessment := h.scorer.Score(ctx, &tx)
	h.saveDecision(ctx, domain.DecisionKindRisk, tx.ID, tx.CustomerID, assessment.Grounded, assessment)

	writeJSON(w, http.StatusOK, assessment)
}

// SubmitTransaction handles POST /transactions: the transaction is
// queued on the bus and scored asynchronously by the worker.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode transaction",
		})
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to publish transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue transaction",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     tx.ID,
		"status": "queued",
	})
}

// RouteComplaint handles POST /complaints/route requests. Routing is
// synchronous; the complaint and the decision are both persisted.
func (h *Handler) RouteComplaint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var c domain.Complaint
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if c.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "text is required",
		})
		return
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = time.Now().UTC()
	}

	if h.repo != nil {
		if err := h.repo.SaveComplaint(ctx, &c); err != nil {
			slog.Error("failed to save complaint", "complaint_id", c.ID, "error", err)
		}
	}

	decision := h.router.Route(ctx, &c)
	h.saveDecision(ctx, domain.DecisionKindRouting, c.ID, c.CustomerID, decision.Grounded, decision)

	writeJSON(w, http.StatusOK, decision)
}

// SubmitComplaint handles POST /complaints: the complaint is queued
// on the bus and routed asynchronously by the worker.
func (h *Handler) SubmitComplaint(w http.ResponseWriter, r *http.Request) {
	var c domain.Complaint
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if c.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "text is required",
		})
		return
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(c)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode complaint",
		})
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicComplaintReceived, payload); err != nil {
		slog.Error("failed to publish complaint", "complaint_id", c.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue complaint",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     c.ID,
		"status": "queued",
	})
}

// GetComplaint retrieves a complaint by ID.
func (h *Handler) GetComplaint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "complaint id is required",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	c, err := h.repo.GetComplaint(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{
			"error": "complaint not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// EligibilityRequest is the request body for POST /eligibility/validate.
// Either precomputed signals or a raw transaction history must be
// supplied; when both are present the signals win.
type EligibilityRequest struct {
	CustomerID   string                  `json:"customerId"`
	Product      string                  `json:"product"`
	Signals      *domain.CustomerSignals `json:"signals,omitempty"`
	Transactions []domain.Transaction    `json:"transactions,omitempty"`
}

// ValidateEligibility handles POST /eligibility/validate requests.
func (h *Handler) ValidateEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EligibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customerId is required",
		})
		return
	}
	switch req.Product {
	case domain.ProductInvestmentPlan, domain.ProductCarLoan, domain.ProductPersonalLoan:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "product must be one of: Investment Plan, Car Loan, Personal Loan",
		})
		return
	}
	if req.Signals == nil && len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "signals or transactions are required",
		})
		return
	}

	var sig domain.CustomerSignals
	if req.Signals != nil {
		sig = *req.Signals
		sig.CustomerID = req.CustomerID
	} else {
		sig = signals.Aggregate(req.CustomerID, req.Transactions)
	}

	verdict := h.validator.Validate(ctx, sig, req.Product)
	h.saveDecision(ctx, domain.DecisionKindEligibility, req.CustomerID, req.CustomerID, verdict.Grounded, verdict)

	writeJSON(w, http.StatusOK, verdict)
}

// IngestDocumentRequest is the request body for POST /documents.
type IngestDocumentRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Version     string `json:"version,omitempty"`
	AgentTarget string `json:"agentTarget,omitempty"`
	Content     string `json:"content"`
}

// IngestDocument handles POST /documents requests.
func (h *Handler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	var req IngestDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and content are required",
		})
		return
	}

	doc := &domain.Document{
		ID:          req.ID,
		Title:       req.Title,
		Category:    req.Category,
		Version:     req.Version,
		AgentTarget: req.AgentTarget,
		Content:     req.Content,
		IngestedAt:  time.Now().UTC(),
	}

	result, err := h.ingester.IngestDocument(r.Context(), doc)
	if err != nil {
		slog.Error("document ingestion failed", "document_id", req.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to ingest document",
		})
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// ListDocuments handles GET /documents requests.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	docs, err := h.repo.ListDocuments(r.Context())
	if err != nil {
		slog.Error("failed to list documents", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list documents",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
	})
}

// GetDocument handles GET /documents/{id} requests.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "document id is required",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	doc, err := h.repo.GetDocument(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{
			"error": "document not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /documents/{id} requests.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "document id is required",
		})
		return
	}

	if err := h.ingester.RemoveDocument(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		slog.Error("failed to remove document", "document_id", id, "error", err)
		writeJSON(w, status, map[string]string{
			"error": "failed to remove document",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "document removed",
	})
}

// GetDecision retrieves a decision record by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision id is required",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetDecision(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{
			"error": "decision not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListDecisions retrieves decisions for a subject, newest first.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject")
	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject query parameter is required",
		})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	records, err := h.repo.ListDecisionsBySubject(r.Context(), subjectID)
	if err != nil {
		slog.Error("failed to list decisions", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list decisions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": records,
		"count":     len(records),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.index != nil {
		if err := h.index.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) saveDecision(ctx context.Context, kind, subjectID, customerID string, grounded bool, payload interface{}) {
	if h.repo == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	rec := &domain.DecisionRecord{
		ID:         uuid.New().String(),
		Kind:       kind,
		SubjectID:  subjectID,
		CustomerID: customerID,
		Grounded:   grounded,
		Payload:    data,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.repo.SaveDecision(ctx, rec); err != nil {
		slog.Error("failed to save decision",
			"kind", kind,
			"subject_id", subjectID,
			"error", err,
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
