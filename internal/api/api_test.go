package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/complaints"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/eligibility"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/index/memory"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/retrieval"
)

// newTestServer wires the full stack on in-process backends: SQLite
// repository, LRU cache, channel bus and the in-memory index.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	t.Cleanup(func() { c.Close() })

	b := bus.NewChannelBus(64)
	t.Cleanup(func() { b.Close() })

	idx := memory.New()
	engine := retrieval.NewEngine(idx, c, domain.RetrievalConfig{CacheTTL: 60})

	constants := policy.NewConstants()
	flagEngine, err := fraud.NewFlagEngine(8)
	if err != nil {
		t.Fatalf("NewFlagEngine failed: %v", err)
	}
	if err := flagEngine.LoadRules(fraud.DefaultFlagRules()); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	scorer := fraud.NewScorer(constants, engine)
	router := complaints.NewRouter(constants, engine, nil)
	validator := eligibility.NewValidator(engine)
	ingester := ingest.NewService(nil, repo, idx, b)

	return NewServer(domain.ServerConfig{}, repo, c, b, idx, engine, flagEngine, scorer, router, validator, ingester, "test")
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var health map[string]string
	decode(t, rec, &health)
	if health["status"] != "healthy" || health["version"] != "test" {
		t.Errorf("health = %v", health)
	}

	if rec := doJSON(t, srv, http.MethodGet, "/ready", nil); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
}

func TestQueryEmptyKnowledgeBase(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/query", QueryRequest{Question: "What is the transfer limit?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, ungrounded queries must not error", rec.Code)
	}
	var result domain.QueryResult
	decode(t, rec, &result)
	if result.Grounded || result.Confidence != 0 || len(result.Sources) != 0 {
		t.Errorf("expected the ungrounded shape, got %+v", result)
	}
	if result.Answer != "" || result.Message == "" {
		t.Errorf("ungrounded answer must be empty with a diagnostic message, got %+v", result)
	}
}

func TestQueryValidation(t *testing.T) {
	srv := newTestServer(t)

	if rec := doJSON(t, srv, http.MethodPost, "/query", QueryRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing question: status = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", rec.Code)
	}
}

func TestIngestThenQuery(t *testing.T) {
	srv := newTestServer(t)

	ingestReq := IngestDocumentRequest{
		ID:       "fraud_policy",
		Title:    "Fraud Detection Policy",
		Category: "fraud_policy",
		Version:  "1.0",
		Content: "FRAUD ESCALATION PROCEDURES.\n\nTransactions scoring in the critical band are blocked immediately " +
			"and the customer account is frozen pending manual fraud review by the operations team.",
	}
	rec := doJSON(t, srv, http.MethodPost, "/documents", ingestReq)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d: %s", rec.Code, rec.Body)
	}
	var result ingest.Result
	decode(t, rec, &result)
	if result.ChunkCount == 0 {
		t.Fatal("no chunks ingested")
	}

	rec = doJSON(t, srv, http.MethodPost, "/query", QueryRequest{
		Question: "What happens to critical band transactions under fraud escalation?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d", rec.Code)
	}
	var qr domain.QueryResult
	decode(t, rec, &qr)
	if !qr.Grounded {
		t.Fatalf("expected grounded result, got %+v", qr)
	}
	if len(qr.Sources) == 0 || qr.Sources[0].Document != "fraud_policy" {
		t.Errorf("sources = %+v", qr.Sources)
	}

	// Document listing reflects the ingestion.
	rec = doJSON(t, srv, http.MethodGet, "/documents", nil)
	var listing struct {
		Count int `json:"count"`
	}
	decode(t, rec, &listing)
	if listing.Count != 1 {
		t.Errorf("document count = %d", listing.Count)
	}

	// And the document can be fetched and deleted.
	if rec := doJSON(t, srv, http.MethodGet, "/documents/fraud_policy", nil); rec.Code != http.StatusOK {
		t.Errorf("get document status = %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodDelete, "/documents/fraud_policy", nil); rec.Code != http.StatusOK {
		t.Errorf("delete document status = %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, "/documents/fraud_policy", nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted document still served: %d", rec.Code)
	}
}

func TestScoreTransactionEndpoint(t *testing.T) {
	srv := newTestServer(t)

	tx := domain.Transaction{
		ID:               "tx-001",
		CustomerID:       "cust-001",
		Amount:           50000,
		MerchantCategory: "fintech",
		Flags:            "mobile_channel_risk,high_amount_spike",
		Status:           "completed",
	}
	rec := doJSON(t, srv, http.MethodPost, "/fraud/score", tx)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var assessment domain.RiskAssessment
	decode(t, rec, &assessment)
	if assessment.Score != 65 || assessment.Level != domain.RiskLevelHigh {
		t.Errorf("assessment = %d %s, want 65 HIGH", assessment.Score, assessment.Level)
	}
	if assessment.Action != domain.ActionChallenge || assessment.ChallengeType != domain.ChallengeBiometricPush {
		t.Errorf("action = %s/%s", assessment.Action, assessment.ChallengeType)
	}

	// The assessment lands in the decision audit log.
	rec = doJSON(t, srv, http.MethodGet, "/decisions?subject=tx-001", nil)
	var decisions struct {
		Count     int                      `json:"count"`
		Decisions []*domain.DecisionRecord `json:"decisions"`
	}
	decode(t, rec, &decisions)
	if decisions.Count != 1 || decisions.Decisions[0].Kind != domain.DecisionKindRisk {
		t.Errorf("audit log = %+v", decisions)
	}
}

func TestScoreTransactionValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/fraud/score", domain.Transaction{Amount: -10})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount: status = %d", rec.Code)
	}
}

func TestRouteComplaintEndpoint(t *testing.T) {
	srv := newTestServer(t)

	c := domain.Complaint{
		CustomerID: "cust-001",
		Channel:    "mobile_app",
		Text:       "There is an unauthorized debit on my card, I think this is fraud",
	}
	rec := doJSON(t, srv, http.MethodPost, "/complaints/route", c)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var decision domain.RoutingDecision
	decode(t, rec, &decision)
	if decision.ComplaintID == "" {
		t.Error("complaint ID not assigned")
	}
	// Empty knowledge base: routing degrades to UNKNOWN but the
	// keyword ladder still escalates the priority.
	if decision.Department != domain.DepartmentUnknown {
		t.Errorf("department = %s", decision.Department)
	}
	if decision.Priority != domain.PriorityCritical {
		t.Errorf("priority = %s, want Critical", decision.Priority)
	}

	// The complaint was persisted and can be fetched back.
	rec = doJSON(t, srv, http.MethodGet, "/complaints/"+decision.ComplaintID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get complaint status = %d", rec.Code)
	}
	var stored domain.Complaint
	decode(t, rec, &stored)
	if stored.Text != c.Text {
		t.Errorf("stored complaint = %+v", stored)
	}
}

func TestRouteComplaintValidation(t *testing.T) {
	srv := newTestServer(t)

	if rec := doJSON(t, srv, http.MethodPost, "/complaints/route", domain.Complaint{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty text: status = %d", rec.Code)
	}
}

func TestSubmitEndpointsQueue(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/transactions", domain.Transaction{Amount: 4500})
	if rec.Code != http.StatusAccepted {
		t.Errorf("submit transaction status = %d", rec.Code)
	}
	var resp map[string]string
	decode(t, rec, &resp)
	if resp["status"] != "queued" || resp["id"] == "" {
		t.Errorf("response = %v", resp)
	}

	rec = doJSON(t, srv, http.MethodPost, "/complaints", domain.Complaint{Text: "my transfer is pending"})
	if rec.Code != http.StatusAccepted {
		t.Errorf("submit complaint status = %d", rec.Code)
	}
}

func TestValidateEligibilityEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := EligibilityRequest{
		CustomerID: "cust-001",
		Product:    domain.ProductCarLoan,
		Signals:    &domain.CustomerSignals{MonthlyInflow: 2500000},
	}
	rec := doJSON(t, srv, http.MethodPost, "/eligibility/validate", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var verdict domain.EligibilityVerdict
	decode(t, rec, &verdict)
	if verdict.Eligible {
		t.Error("investment-tier customer must not be eligible for a car loan")
	}
	if len(verdict.Notes) == 0 || !strings.Contains(verdict.Notes[0], domain.ProductInvestmentPlan) {
		t.Errorf("expected an Investment Plan deflection note, got %v", verdict.Notes)
	}
}

func TestValidateEligibilityFromTransactions(t *testing.T) {
	srv := newTestServer(t)

	req := EligibilityRequest{
		CustomerID: "cust-002",
		Product:    domain.ProductPersonalLoan,
		Transactions: []domain.Transaction{
			{Type: "credit", Amount: 350000, MerchantCategory: "fintech"},
			{Type: "credit", Amount: 350000, MerchantCategory: "fintech"},
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/eligibility/validate", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var verdict domain.EligibilityVerdict
	decode(t, rec, &verdict)
	// Two payroll-style credits aggregate to a detected salary and
	// 700k inflow, which places the customer at the personal-loan tier.
	if !verdict.Eligible {
		t.Errorf("expected eligibility from aggregated transactions: %+v", verdict)
	}
}

func TestValidateEligibilityValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		req  EligibilityRequest
	}{
		{"MissingCustomer", EligibilityRequest{Product: domain.ProductCarLoan, Signals: &domain.CustomerSignals{}}},
		{"UnknownProduct", EligibilityRequest{CustomerID: "c", Product: "Mortgage", Signals: &domain.CustomerSignals{}}},
		{"NoSignalsNoTransactions", EligibilityRequest{CustomerID: "c", Product: domain.ProductCarLoan}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := doJSON(t, srv, http.MethodPost, "/eligibility/validate", tt.req); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGroundingCheckEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/grounding/check", GroundingRequest{
		Statement: "Transfers above one million are free of charge.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result domain.GroundingResult
	decode(t, rec, &result)
	if result.Verdict != domain.GroundingNotSupported {
		t.Errorf("verdict = %s, want NOT_SUPPORTED on an empty knowledge base", result.Verdict)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestDecisionNotFound(t *testing.T) {
	srv := newTestServer(t)

	if rec := doJSON(t, srv, http.MethodGet, "/decisions/does-not-exist", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, "/decisions", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing subject: status = %d, want 400", rec.Code)
	}
}
