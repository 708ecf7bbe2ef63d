package classifier

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/harrier/internal/domain"
)

// NewOracle builds the oracle named by cfg.Type. The bus is only needed for "nats".
// A missing or malformed model artifact fails here, at startup.
func NewOracle(cfg domain.ClassifierConfig, bus domain.EventBus) (Oracle, error) {
	switch cfg.Type {
	case "cel", "":
		oracle, err := LoadCELOracle(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		slog.Info("classifier model loaded", "type", "cel", "path", cfg.ModelPath)
		return oracle, nil

	case "http":
		slog.Info("classifier endpoint configured", "type", "http", "url", cfg.URL)
		return NewHTTPOracle(cfg.URL, &http.Client{Timeout: cfg.Timeout})

	case "nats":
		if bus == nil {
			return nil, fmt.Errorf("classifier type nats requires an event bus")
		}
		slog.Info("classifier bound to event bus", "type", "nats", "topic", domain.TopicClassifierPredict)
		return NewBusOracle(bus), nil

	default:
		return nil, fmt.Errorf("unsupported classifier type: %s", cfg.Type)
	}
}

// New builds the oracle and wraps it in a Gateway.
func New(cfg domain.ClassifierConfig, bus domain.EventBus) (*Gateway, error) {
	oracle, err := NewOracle(cfg, bus)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithTimeout(cfg.Timeout)}
	if cfg.PositiveLabel != 0 {
		opts = append(opts, WithPositiveLabel(cfg.PositiveLabel))
	}
	return NewGateway(oracle, opts...), nil
}
