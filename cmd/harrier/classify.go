package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/classifier"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
)

func classifyCmd() *cobra.Command {
	var (
		raw       domain.RawTransaction
		accountID string
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify one transaction",
		Long: `Classify one transaction with the configured classifier.

Without --account the verdict is only printed. With --account the transaction
goes through the full pipeline and is appended to that account's audit trail.`,
		Example: `  harrier classify --type TRANSFER --amount 181 --oldbalance-org 181 --newbalance-orig 0`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if accountID != "" {
				svc, cleanup, err := openPipeline(ctx)
				if err != nil {
					return err
				}
				defer cleanup()

				sub, err := svc.SubmitTransaction(ctx, accountID, raw)
				if err != nil {
					return err
				}
				return enc.Encode(sub)
			}

			in, vector, err := features.ParseAndEncode(raw)
			if err != nil {
				return err
			}

			var busImpl domain.EventBus
			if cfg.Classifier.Type == "nats" {
				busImpl, err = bus.New(cfg.EventBus)
				if err != nil {
					return fmt.Errorf("failed to initialize event bus: %w", err)
				}
				defer busImpl.Close()
			}

			gateway, err := classifier.New(cfg.Classifier, busImpl)
			if err != nil {
				return fmt.Errorf("failed to initialize classifier: %w", err)
			}

			verdict, err := gateway.Classify(ctx, vector)
			if err != nil {
				return err
			}

			return enc.Encode(map[string]any{
				"type":     in.Type,
				"amount":   in.Amount,
				"features": vector.Slice(),
				"result":   verdict,
				"fraud":    verdict.IsFraudulent(),
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&raw.Step, "step", "1", "simulation step")
	f.StringVar(&raw.Type, "type", "", "transaction type ("+typeList()+")")
	f.StringVar(&raw.Amount, "amount", "", "transaction amount")
	f.StringVar(&raw.OldBalanceOrig, "oldbalance-org", "0", "origin balance before")
	f.StringVar(&raw.NewBalanceOrig, "newbalance-orig", "0", "origin balance after")
	f.StringVar(&raw.OldBalanceDest, "oldbalance-dest", "0", "destination balance before")
	f.StringVar(&raw.NewBalanceDest, "newbalance-dest", "0", "destination balance after")
	f.StringVar(&accountID, "account", "", "record the verdict for this account")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func typeList() string {
	names := make([]string, 0, 5)
	for _, t := range domain.TransactionTypes() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
