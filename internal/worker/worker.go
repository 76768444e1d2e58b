// Package worker provides async decision processing off the event
// bus: ingested transactions are flag-derived and risk-scored,
// received complaints are routed, and every decision is persisted
// and published.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/complaints"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
)

// Worker consumes transaction and complaint events from the bus.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	flagEngine *fraud.FlagEngine
	scorer     *fraud.Scorer
	router     *complaints.Router

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. flagEngine may be nil when
// upstream channels always deliver pre-flagged transactions.
func NewWorker(bus domain.EventBus, repo domain.Repository, flagEngine *fraud.FlagEngine, scorer *fraud.Scorer, router *complaints.Router) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		repo:       repo,
		flagEngine: flagEngine,
		scorer:     scorer,
		router:     router,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the ingestion topics.
func (w *Worker) Start() error {
	txSub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleTransaction)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, txSub)

	cSub, err := w.bus.Subscribe(w.ctx, domain.TopicComplaintReceived, w.handleComplaint)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, cSub)

	slog.Info("worker started",
		"topics", []string{domain.TopicTransactionIngested, domain.TopicComplaintReceived},
	)
	return nil
}

// handleTransaction scores an ingested transaction and publishes
// the assessment.
func (w *Worker) handleTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if w.flagEngine != nil && tx.Flags == "" {
		w.flagEngine.Apply(ctx, &tx)
	}

	assessment := w.scorer.Score(ctx, &tx)

	payload, _ := json.Marshal(assessment)
	w.saveDecision(ctx, domain.DecisionKindRisk, tx.ID, tx.CustomerID, assessment.Grounded, payload)

	if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	// HIGH and CRITICAL assessments also raise an alert.
	if assessment.Level == domain.RiskLevelHigh || assessment.Level == domain.RiskLevelCritical {
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction scored",
		"tx_id", tx.ID,
		"score", assessment.Score,
		"level", assessment.Level,
		"action", assessment.Action,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// handleComplaint routes a received complaint and publishes the
// decision.
func (w *Worker) handleComplaint(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var c domain.Complaint
	if err := json.Unmarshal(msg.Payload, &c); err != nil {
		slog.Error("failed to parse complaint message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if c.ID == "" {
		c.ID = msg.ID
	}

	if w.repo != nil {
		if err := w.repo.SaveComplaint(ctx, &c); err != nil {
			slog.Error("failed to save complaint",
				"complaint_id", c.ID,
				"error", err,
			)
		}
	}

	decision := w.router.Route(ctx, &c)

	payload, _ := json.Marshal(decision)
	w.saveDecision(ctx, domain.DecisionKindRouting, c.ID, c.CustomerID, decision.Grounded, payload)

	if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish routing decision",
			"complaint_id", c.ID,
			"error", err,
		)
	}

	if decision.Priority == domain.PriorityCritical {
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"complaint_id", c.ID,
				"error", err,
			)
		}
	}

	slog.Info("complaint routed",
		"complaint_id", c.ID,
		"department", decision.Department,
		"priority", decision.Priority,
		"sla_hours", decision.SLAHours,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) saveDecision(ctx context.Context, kind, subjectID, customerID string, grounded bool, payload []byte) {
	if w.repo == nil {
		return
	}
	rec := &domain.DecisionRecord{
		ID:         uuid.New().String(),
		Kind:       kind,
		SubjectID:  subjectID,
		CustomerID: customerID,
		Grounded:   grounded,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	if err := w.repo.SaveDecision(ctx, rec); err != nil {
		slog.Error("failed to save decision",
			"kind", kind,
			"subject_id", subjectID,
			"error", err,
		)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
