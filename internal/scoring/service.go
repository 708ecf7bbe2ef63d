// Package scoring runs the classify-and-record pipeline and serves dashboard reads.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/stats"
	"github.com/opensource-finance/harrier/internal/velocity"
)

var tracer = otel.Tracer("harrier-scoring")

// Classifier produces a verdict for a feature vector.
type Classifier interface {
	Classify(ctx context.Context, v domain.FeatureVector) (domain.Verdict, error)
}

// Service owns one request's path from raw input to committed audit record.
// It holds no per-account state, so concurrent calls never coordinate.
type Service struct {
	store      domain.AuditStore
	classifier Classifier
	stats      *stats.Engine
	bus        domain.EventBus
	limiter    *velocity.Limiter
}

// Option configures a Service.
type Option func(*Service)

// WithEventBus publishes record and fraud events after each committed append.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithLimiter enforces a per-account submission quota.
func WithLimiter(l *velocity.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// NewService creates the pipeline.
func NewService(store domain.AuditStore, classifier Classifier, opts ...Option) *Service {
	s := &Service{
		store:      store,
		classifier: classifier,
		stats:      stats.NewEngine(store),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitTransaction parses raw fields and runs Submit.
func (s *Service) SubmitTransaction(ctx context.Context, accountID string, raw domain.RawTransaction) (*domain.Submission, error) {
	if accountID == "" {
		return nil, domain.ErrAccountRequired
	}
	in, err := features.Parse(raw)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, accountID, in)
}

// Submit classifies in and appends exactly one audit record.
//
// Returned errors are distinct: *domain.ValidationError and
// domain.ErrClassifierUnavailable mean nothing was recorded, while
// *domain.PersistenceError carries a verdict that could not be recorded.
func (s *Service) Submit(ctx context.Context, accountID string, in *domain.TransactionInput) (*domain.Submission, error) {
	if accountID == "" {
		return nil, domain.ErrAccountRequired
	}
	if in == nil {
		return nil, fmt.Errorf("%w: empty transaction", domain.ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "scoring.submit",
		trace.WithAttributes(attribute.String("account.id", accountID)),
	)
	defer span.End()

	start := time.Now()

	vector, err := features.Encode(in)
	if err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	if err := s.limiter.Allow(ctx, accountID); err != nil {
		span.SetStatus(codes.Error, "quota exceeded")
		return nil, err
	}

	verdict, err := s.classifier.Classify(ctx, vector)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classifier unavailable")
		slog.Error("classification failed",
			"account_id", accountID,
			"error", err,
		)
		return nil, err
	}

	id, err := s.store.Append(ctx, accountID, in, verdict)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		slog.Error("verdict not recorded",
			"account_id", accountID,
			"verdict", verdict,
			"error", err,
		)
		return nil, &domain.PersistenceError{Verdict: verdict, Err: err}
	}

	sub := &domain.Submission{
		RecordID:  id,
		AccountID: accountID,
		Type:      in.Type,
		Amount:    in.Amount,
		Verdict:   verdict,
		Fraud:     verdict.IsFraudulent(),
	}

	span.SetAttributes(
		attribute.Int64("record.id", int64(id)),
		attribute.String("verdict", string(verdict)),
	)

	s.publish(ctx, sub)

	slog.Info("transaction classified",
		"account_id", accountID,
		"record_id", id,
		"type", in.Type,
		"verdict", verdict,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return sub, nil
}

// publish announces a committed record. The record is already durable, so failures are only logged.
func (s *Service) publish(ctx context.Context, sub *domain.Submission) {
	if s.bus == nil {
		return
	}

	event := domain.RecordEvent{
		RecordID:  sub.RecordID,
		AccountID: sub.AccountID,
		Type:      sub.Type,
		Amount:    sub.Amount,
		Verdict:   sub.Verdict,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode record event", "record_id", sub.RecordID, "error", err)
		return
	}

	topics := []string{domain.TopicRecordAppended}
	if sub.Fraud {
		topics = append(topics, domain.TopicFraudAlert)
	}
	for _, topic := range topics {
		if err := s.bus.Publish(ctx, sub.AccountID, topic, payload); err != nil {
			slog.Warn("failed to publish record event",
				"topic", topic,
				"record_id", sub.RecordID,
				"error", err,
			)
		}
	}
}

// GetDashboard returns statistics plus the recent history for accountID.
func (s *Service) GetDashboard(ctx context.Context, accountID string) (*domain.AccountStatistics, error) {
	return s.stats.ComputeStatistics(ctx, accountID)
}

// GetSummary returns statistics without the history.
func (s *Service) GetSummary(ctx context.Context, accountID string) (*domain.AccountStatistics, error) {
	return s.stats.Summary(ctx, accountID)
}

// GetRecord returns one audit record owned by accountID.
func (s *Service) GetRecord(ctx context.Context, accountID string, id domain.RecordID) (*domain.TransactionRecord, error) {
	rec, err := s.store.GetRecord(ctx, accountID, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrAccountRequired) {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageRead, err)
	}
	return rec, err
}

// ListRecent returns up to limit records, newest first. limit is capped at domain.HistoryLength.
func (s *Service) ListRecent(ctx context.Context, accountID string, limit int) ([]*domain.TransactionRecord, error) {
	if limit <= 0 || limit > domain.HistoryLength {
		limit = domain.HistoryLength
	}
	recs, err := s.store.ListRecent(ctx, accountID, limit)
	if err != nil && !errors.Is(err, domain.ErrAccountRequired) {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageRead, err)
	}
	return recs, err
}

// Ready checks that the audit store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
