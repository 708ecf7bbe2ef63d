// Package classifier wraps the external fraud model behind a stable interface.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/harrier/internal/domain"
)

var tracer = otel.Tracer("harrier-classifier")

// Oracle scores a feature vector and returns a discrete class label.
type Oracle interface {
	Predict(ctx context.Context, features []float64) (int, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, features []float64) (int, error)

// Predict calls f.
func (f OracleFunc) Predict(ctx context.Context, features []float64) (int, error) {
	return f(ctx, features)
}

// Gateway owns the process-wide oracle instance and turns labels into verdicts.
// It never retries: a failing oracle is a deployment defect, not a transient condition.
type Gateway struct {
	oracle        Oracle
	timeout       time.Duration
	positiveLabel int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds each oracle call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithPositiveLabel sets the oracle output that means fraud. Defaults to 1.
func WithPositiveLabel(label int) Option {
	return func(g *Gateway) { g.positiveLabel = label }
}

// NewGateway creates a gateway around oracle.
func NewGateway(oracle Oracle, opts ...Option) *Gateway {
	g := &Gateway{
		oracle:        oracle,
		positiveLabel: 1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type prediction struct {
	label int
	err   error
}

// Classify returns the verdict for v. Every failure wraps domain.ErrClassifierUnavailable.
func (g *Gateway) Classify(ctx context.Context, v domain.FeatureVector) (domain.Verdict, error) {
	if g == nil || g.oracle == nil {
		return "", fmt.Errorf("%w: no oracle loaded", domain.ErrClassifierUnavailable)
	}

	ctx, span := tracer.Start(ctx, "classifier.predict")
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	// The oracle may ignore ctx, so the deadline is enforced here as well.
	done := make(chan prediction, 1)
	go func() {
		label, err := g.oracle.Predict(ctx, v.Slice())
		done <- prediction{label: label, err: err}
	}()

	var p prediction
	select {
	case p = <-done:
	case <-ctx.Done():
		p.err = ctx.Err()
	}

	if p.err != nil {
		span.RecordError(p.err)
		span.SetStatus(codes.Error, "oracle failed")
		if errors.Is(p.err, domain.ErrClassifierUnavailable) {
			return "", p.err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, p.err)
	}

	verdict := domain.VerdictLegitimate
	if p.label == g.positiveLabel {
		verdict = domain.VerdictFraudulent
	}
	span.SetAttributes(
		attribute.Int("classifier.label", p.label),
		attribute.String("classifier.verdict", string(verdict)),
	)
	return verdict, nil
}
