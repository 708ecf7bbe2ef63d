package domain

// SeriesLength is the number of points in the dashboard chart series.
const SeriesLength = 10

// HistoryLength is the number of records returned as dashboard history.
const HistoryLength = 50

// UnknownDateLabel replaces dates that cannot be derived from a record timestamp.
const UnknownDateLabel = "Unknown"

// SeriesPoint is one (date, amount) pair of the recent-activity chart.
type SeriesPoint struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

// AccountStatistics is derived from the audit records of one account on every read.
type AccountStatistics struct {
	AccountID          string        `json:"accountId"`
	TotalCount         int64         `json:"totalTransactions"`
	FraudCount         int64         `json:"fraudCount"`
	FraudPercentage    float64       `json:"fraudPercentage"`
	TotalAmount        float64       `json:"totalAmount"`
	TotalAmountDisplay string        `json:"totalAmountDisplay"`
	Series             []SeriesPoint `json:"series"`

	// Recent is newest first. Only populated by the dashboard, not by the stats-only view.
	Recent []TransactionRecord `json:"recent,omitempty"`
}

// Labels returns the chart labels, oldest first.
func (s *AccountStatistics) Labels() []string {
	out := make([]string, len(s.Series))
	for i, p := range s.Series {
		out[i] = p.Date
	}
	return out
}

// Amounts returns the chart values, oldest first.
func (s *AccountStatistics) Amounts() []float64 {
	out := make([]float64, len(s.Series))
	for i, p := range s.Series {
		out[i] = p.Amount
	}
	return out
}
