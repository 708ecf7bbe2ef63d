// Package stats derives per-account dashboard statistics from the audit store.
// Nothing is cached: every call reads the committed records again.
package stats

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/harrier/internal/domain"
)

var tracer = otel.Tracer("harrier-stats")

// RecordReader is the read side of domain.AuditStore.
type RecordReader interface {
	ListRecent(ctx context.Context, accountID string, limit int) ([]*domain.TransactionRecord, error)
	Count(ctx context.Context, accountID string, filter domain.RecordFilter) (int64, error)
	SumAmount(ctx context.Context, accountID string) (float64, error)
}

// Engine computes AccountStatistics.
type Engine struct {
	store         RecordReader
	seriesLength  int
	historyLength int
	printer       *message.Printer
}

// NewEngine creates an engine with the default series and history lengths.
func NewEngine(store RecordReader) *Engine {
	return &Engine{
		store:         store,
		seriesLength:  domain.SeriesLength,
		historyLength: domain.HistoryLength,
		printer:       message.NewPrinter(language.English),
	}
}

// ComputeStatistics returns counts, totals, the chart series and the recent history.
func (e *Engine) ComputeStatistics(ctx context.Context, accountID string) (*domain.AccountStatistics, error) {
	return e.compute(ctx, accountID, true)
}

// Summary returns counts, totals and the chart series without the history.
func (e *Engine) Summary(ctx context.Context, accountID string) (*domain.AccountStatistics, error) {
	return e.compute(ctx, accountID, false)
}

func (e *Engine) compute(ctx context.Context, accountID string, withHistory bool) (*domain.AccountStatistics, error) {
	if accountID == "" {
		return nil, fmt.Errorf("stats: %w", domain.ErrAccountRequired)
	}

	ctx, span := tracer.Start(ctx, "stats.compute")
	defer span.End()

	total, err := e.store.Count(ctx, accountID, domain.RecordFilter{})
	if err != nil {
		return nil, readError("count records", err)
	}
	fraud, err := e.store.Count(ctx, accountID, domain.FraudulentOnly())
	if err != nil {
		return nil, readError("count fraudulent records", err)
	}
	amount, err := e.store.SumAmount(ctx, accountID)
	if err != nil {
		return nil, readError("sum amounts", err)
	}

	limit := e.seriesLength
	if withHistory && e.historyLength > limit {
		limit = e.historyLength
	}
	recent, err := e.store.ListRecent(ctx, accountID, limit)
	if err != nil {
		return nil, readError("list recent records", err)
	}

	s := &domain.AccountStatistics{
		AccountID:          accountID,
		TotalCount:         total,
		FraudCount:         fraud,
		FraudPercentage:    FraudPercentage(fraud, total),
		TotalAmount:        amount,
		TotalAmountDisplay: e.FormatAmount(amount),
		Series:             BuildSeries(recent, e.seriesLength),
	}

	if withHistory {
		n := min(len(recent), e.historyLength)
		s.Recent = make([]domain.TransactionRecord, 0, n)
		for _, rec := range recent[:n] {
			if rec != nil {
				s.Recent = append(s.Recent, *rec)
			}
		}
	}

	span.SetAttributes(
		attribute.Int64("stats.total", total),
		attribute.Int64("stats.fraud", fraud),
	)
	return s, nil
}

// FormatAmount renders an amount with thousands separators and two decimals.
func (e *Engine) FormatAmount(amount float64) string {
	return e.printer.Sprintf("%.2f", amount)
}

// FraudPercentage is 100*fraud/total rounded half away from zero to two decimals, or 0 when total is 0.
func FraudPercentage(fraud, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(fraud)*100/float64(total)*100) / 100
}

// BuildSeries turns newest-first records into an oldest-first series of at most n points.
// A record without a usable timestamp is labeled domain.UnknownDateLabel.
func BuildSeries(newestFirst []*domain.TransactionRecord, n int) []domain.SeriesPoint {
	if n > len(newestFirst) {
		n = len(newestFirst)
	}
	series := make([]domain.SeriesPoint, 0, n)
	for i := n - 1; i >= 0; i-- {
		rec := newestFirst[i]
		if rec == nil {
			series = append(series, domain.SeriesPoint{Date: domain.UnknownDateLabel})
			continue
		}
		series = append(series, domain.SeriesPoint{
			Date:   DateLabel(rec),
			Amount: sanitize(rec.Amount),
		})
	}
	return series
}

// DateLabel is the UTC calendar date of the record timestamp.
func DateLabel(rec *domain.TransactionRecord) string {
	if rec.CreatedAt.IsZero() {
		return domain.UnknownDateLabel
	}
	return rec.CreatedAt.UTC().Format("2006-01-02")
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func readError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageRead, op, err)
}
