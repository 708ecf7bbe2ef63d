package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/replay"
)

func replayCmd() *cobra.Command {
	var (
		csvPath   string
		baseURL   string
		accountID string
		workers   int
		opts      replay.ReadOptions
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Score the classifier against a labelled PaySim CSV",
		Long: `Replay a PaySim export through the pipeline and print the confusion matrix.

With --url every row is submitted to a running server and recorded under
--account. Without it rows are classified in-process against a local store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			file, err := os.Open(csvPath)
			if err != nil {
				return err
			}
			defer file.Close()

			rows, err := replay.ReadCSV(file, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d transactions from %s\n", len(rows), csvPath)

			var classify replay.ClassifyFunc
			if baseURL != "" {
				classify = remoteClassifier(baseURL, accountID)
			} else {
				svc, cleanup, err := openPipeline(ctx)
				if err != nil {
					return err
				}
				defer cleanup()
				classify = func(ctx context.Context, tx domain.RawTransaction) (domain.Verdict, error) {
					sub, err := svc.SubmitTransaction(ctx, accountID, tx)
					if err != nil {
						return "", err
					}
					return sub.Verdict, nil
				}
			}

			start := time.Now()
			metrics := replay.Run(ctx, rows, classify, workers)
			replay.Report(cmd.OutOrStdout(), metrics, time.Since(start))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&csvPath, "csv", "", "path to PaySim CSV file (required)")
	f.StringVar(&baseURL, "url", "", "submit to a running server instead of in-process")
	f.StringVar(&accountID, "account", "replay", "account the replayed records belong to")
	f.IntVar(&workers, "workers", 10, "number of concurrent workers")
	f.IntVar(&opts.Limit, "limit", 10000, "maximum transactions to process (0 = all)")
	f.BoolVar(&opts.FraudOnly, "fraud-only", false, "only replay fraud transactions")
	f.Float64Var(&opts.SampleRate, "sample", 1.0, "sample rate for non-fraud rows (0.0-1.0)")
	_ = cmd.MarkFlagRequired("csv")

	return cmd
}

func remoteClassifier(baseURL, accountID string) replay.ClassifyFunc {
	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := strings.TrimRight(baseURL, "/") + "/transactions"

	return func(ctx context.Context, tx domain.RawTransaction) (domain.Verdict, error) {
		body, err := json.Marshal(tx)
		if err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Account-ID", accountID)

		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return "", fmt.Errorf("status %d", resp.StatusCode)
		}

		var sub domain.Submission
		if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
			return "", err
		}
		return sub.Verdict, nil
	}
}
