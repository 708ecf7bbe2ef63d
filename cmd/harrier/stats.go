package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/stats"
)

func statsCmd() *cobra.Command {
	var (
		accountID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the dashboard for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := repository.New(ctx, cfg.Repository)
			if err != nil {
				return fmt.Errorf("failed to initialize repository: %w", err)
			}
			defer store.Close()

			dash, err := stats.NewEngine(store).ComputeStatistics(ctx, accountID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(dash)
			}

			fmt.Fprintf(out, "Account:       %s\n", dash.AccountID)
			fmt.Fprintf(out, "Transactions:  %d\n", dash.TotalCount)
			fmt.Fprintf(out, "Fraud:         %d (%.2f%%)\n", dash.FraudCount, dash.FraudPercentage)
			fmt.Fprintf(out, "Total amount:  %s\n", dash.TotalAmountDisplay)

			if len(dash.Series) > 0 {
				fmt.Fprintf(out, "\nRecent activity (oldest first)\n")
				for _, p := range dash.Series {
					fmt.Fprintf(out, "  %-10s %14.2f\n", p.Date, p.Amount)
				}
			}

			if len(dash.Recent) > 0 {
				fmt.Fprintln(out)
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTIME\tTYPE\tAMOUNT\tRESULT")
				for _, r := range dash.Recent {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%s\n", r.ID, formatTime(r.CreatedAt), displayType(r), r.Amount, shortVerdict(r.Verdict))
				}
				return tw.Flush()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return domain.UnknownDateLabel
	}
	return t.UTC().Format(time.DateTime)
}

// displayType names a record by the code the classifier saw, falling back to the stored label.
func displayType(r domain.TransactionRecord) domain.TransactionType {
	if t, ok := domain.TypeForCode(r.TypeCode); ok {
		return t
	}
	return r.Type
}

func shortVerdict(v domain.Verdict) string {
	return strings.TrimSuffix(string(v), " Transaction")
}
