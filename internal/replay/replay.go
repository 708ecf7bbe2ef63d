package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ClassifyFunc returns the verdict for one raw transaction.
type ClassifyFunc func(ctx context.Context, tx domain.RawTransaction) (domain.Verdict, error)

// Metrics is the confusion matrix of a replay. Safe for concurrent updates.
type Metrics struct {
	TruePositives  atomic.Int64
	FalsePositives atomic.Int64
	TrueNegatives  atomic.Int64
	FalseNegatives atomic.Int64

	Errors  atomic.Int64
	Latency atomic.Int64 // total, in microseconds
}

// Record adds one outcome to the matrix.
func (m *Metrics) Record(predicted, actual bool) {
	switch {
	case predicted && actual:
		m.TruePositives.Add(1)
	case predicted && !actual:
		m.FalsePositives.Add(1)
	case !predicted && !actual:
		m.TrueNegatives.Add(1)
	default:
		m.FalseNegatives.Add(1)
	}
}

// Total is the number of classified rows, excluding errors.
func (m *Metrics) Total() int64 {
	return m.TruePositives.Load() + m.FalsePositives.Load() + m.TrueNegatives.Load() + m.FalseNegatives.Load()
}

// Precision is the share of fraud verdicts that were actual fraud.
func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives.Load(), m.TruePositives.Load()+m.FalsePositives.Load())
}

// Recall is the share of actual fraud that was flagged.
func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives.Load(), m.TruePositives.Load()+m.FalseNegatives.Load())
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct verdicts.
func (m *Metrics) Accuracy() float64 {
	return ratio(m.TruePositives.Load()+m.TrueNegatives.Load(), m.Total())
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Run classifies rows with a pool of workers and returns the confusion matrix.
// Rows whose classification fails are counted as errors and left out of the matrix.
func Run(ctx context.Context, rows []Row, classify ClassifyFunc, workers int) *Metrics {
	if workers <= 0 {
		workers = 1
	}

	metrics := &Metrics{}
	work := make(chan Row, 100)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range work {
				start := time.Now()
				verdict, err := classify(ctx, row.Transaction)
				metrics.Latency.Add(time.Since(start).Microseconds())

				if err != nil {
					metrics.Errors.Add(1)
					slog.Debug("replay row failed", "line", row.Line, "error", err)
					continue
				}
				metrics.Record(verdict.IsFraudulent(), row.IsFraud)
			}
		}()
	}

feed:
	for _, row := range rows {
		select {
		case work <- row:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	return metrics
}

// Report writes a human-readable summary of m.
func Report(w io.Writer, m *Metrics, duration time.Duration) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "\nCONFUSION MATRIX\n")
	p.Fprintf(w, "                  predicted fraud   predicted legit\n")
	p.Fprintf(w, "  actual fraud    %15d   %15d\n", m.TruePositives.Load(), m.FalseNegatives.Load())
	p.Fprintf(w, "  actual legit    %15d   %15d\n", m.FalsePositives.Load(), m.TrueNegatives.Load())

	p.Fprintf(w, "\nDETECTION\n")
	p.Fprintf(w, "  precision  %.4f\n", m.Precision())
	p.Fprintf(w, "  recall     %.4f\n", m.Recall())
	p.Fprintf(w, "  f1         %.4f\n", m.F1())
	p.Fprintf(w, "  accuracy   %.4f\n", m.Accuracy())

	total := m.Total() + m.Errors.Load()
	p.Fprintf(w, "\nPERFORMANCE\n")
	p.Fprintf(w, "  rows       %d (%d errors)\n", total, m.Errors.Load())
	p.Fprintf(w, "  duration   %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		fmt.Fprintf(w, "  latency    %.3f ms avg\n", float64(m.Latency.Load())/float64(total)/1000)
		if duration > 0 {
			p.Fprintf(w, "  throughput %.2f tx/sec\n", float64(total)/duration.Seconds())
		}
	}
}
