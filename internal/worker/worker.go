// Package worker classifies transactions submitted asynchronously over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Submitter runs the classify-and-record pipeline.
type Submitter interface {
	SubmitTransaction(ctx context.Context, accountID string, raw domain.RawTransaction) (*domain.Submission, error)
}

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	submitter Submitter

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// AccountIDs receive a dedicated subscription on their own topic scope.
	// The system-wide subscription is always started.
	AccountIDs []string
}

// SubmissionMessage is the payload of TopicTransactionSubmitted.
type SubmissionMessage struct {
	AccountID   string                `json:"accountId"`
	TraceID     string                `json:"traceId,omitempty"`
	Transaction domain.RawTransaction `json:"transaction"`
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, submitter Submitter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		submitter: submitter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue publishes a submission for a worker to pick up.
func Enqueue(ctx context.Context, bus domain.EventBus, msg SubmissionMessage) error {
	if msg.AccountID == "" {
		return domain.ErrAccountRequired
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}
	return bus.Publish(ctx, domain.SystemAccountID, domain.TopicTransactionSubmitted, payload)
}

// Start subscribes to the system-wide submission topic and to each configured account.
func (w *Worker) Start(cfg Config) error {
	if err := w.subscribe(domain.SystemAccountID); err != nil {
		return err
	}

	for _, accountID := range cfg.AccountIDs {
		if err := w.subscribe(accountID); err != nil {
			slog.Error("failed to start worker for account",
				"account_id", accountID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"topic", domain.TopicTransactionSubmitted,
		"account_count", len(cfg.AccountIDs),
	)
	return nil
}

func (w *Worker) subscribe(scope string) error {
	sub, err := w.bus.Subscribe(w.ctx, scope, domain.TopicTransactionSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.process(ctx, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

// process runs one submission through the pipeline.
// On an account-scoped subscription the message scope wins over the payload.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	var sm SubmissionMessage
	if err := json.Unmarshal(msg.Payload, &sm); err != nil {
		slog.Error("failed to parse submission message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	accountID := sm.AccountID
	if msg.AccountID != "" && msg.AccountID != domain.SystemAccountID {
		accountID = msg.AccountID
	}

	traceID := sm.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	sub, err := w.submitter.SubmitTransaction(ctx, accountID, sm.Transaction)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrQuotaExceeded) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "async submission failed",
			"account_id", accountID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	slog.Debug("async submission processed",
		"account_id", accountID,
		"trace_id", traceID,
		"record_id", sub.RecordID,
		"verdict", sub.Verdict,
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
