// Package replay runs labelled PaySim transactions through a classifier and
// scores the verdicts against the dataset's fraud labels.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Row is one labelled PaySim transaction.
type Row struct {
	Line        int
	NameOrig    string
	NameDest    string
	Transaction domain.RawTransaction
	IsFraud     bool
}

// ReadOptions filters the rows returned by ReadCSV.
type ReadOptions struct {
	// Limit stops reading after this many rows. 0 reads everything.
	Limit int

	// FraudOnly keeps only rows labelled as fraud.
	FraudOnly bool

	// SampleRate keeps this fraction of non-fraud rows (0.0-1.0). 0 means 1.
	SampleRate float64
}

var requiredColumns = []string{
	"step", "type", "amount",
	"oldbalanceorg", "newbalanceorig", "oldbalancedest", "newbalancedest",
	"isfraud",
}

// ReadCSV reads a PaySim export. Field values are kept as text so they go
// through the same parsing as submitted transactions. Rows with the wrong
// column count are skipped.
func ReadCSV(r io.Reader, opts ReadOptions) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	sampleRate := opts.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []Row
	sampleCounter := 0
	line := 1

	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return nil, err
		}
		if len(record) != len(header) {
			continue
		}

		isFraud := strings.TrimSpace(field(record, "isfraud")) == "1"
		if opts.FraudOnly && !isFraud {
			continue
		}
		if !isFraud && sampleRate < 1 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		rows = append(rows, Row{
			Line:     line,
			NameOrig: field(record, "nameorig"),
			NameDest: field(record, "namedest"),
			Transaction: domain.RawTransaction{
				Step:           field(record, "step"),
				Type:           field(record, "type"),
				Amount:         field(record, "amount"),
				OldBalanceOrig: field(record, "oldbalanceorg"),
				NewBalanceOrig: field(record, "newbalanceorig"),
				OldBalanceDest: field(record, "oldbalancedest"),
				NewBalanceDest: field(record, "newbalancedest"),
			},
			IsFraud: isFraud,
		})

		if opts.Limit > 0 && len(rows) >= opts.Limit {
			break
		}
	}

	return rows, nil
}
