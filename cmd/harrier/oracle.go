package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/classifier"
	"github.com/opensource-finance/harrier/internal/domain"
)

func oracleCmd() *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Host a CEL model for servers configured with the nats classifier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if modelPath == "" {
				modelPath = cfg.Classifier.ModelPath
			}
			oracle, err := classifier.LoadCELOracle(modelPath)
			if err != nil {
				return err
			}

			busImpl, err := bus.New(cfg.EventBus)
			if err != nil {
				return fmt.Errorf("failed to initialize event bus: %w", err)
			}
			defer busImpl.Close()

			sub, err := classifier.Serve(ctx, busImpl, oracle)
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			slog.Info("oracle serving",
				"model", modelPath,
				"topic", domain.TopicClassifierPredict,
				"eventbus", cfg.EventBus.Type,
			)

			<-ctx.Done()
			slog.Info("oracle stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "CEL model file (default: classifier.modelPath)")
	return cmd
}
