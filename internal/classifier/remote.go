package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/harrier/internal/domain"
)

// PredictRequest is the body sent to remote oracles.
type PredictRequest struct {
	Features []float64 `json:"features"`
}

// PredictResponse is accepted in two shapes: {"label": n} or {"prediction": [n]}.
type PredictResponse struct {
	Label      *int   `json:"label,omitempty"`
	Prediction []int  `json:"prediction,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (r *PredictResponse) label() (int, error) {
	switch {
	case r.Error != "":
		return 0, fmt.Errorf("oracle error: %s", r.Error)
	case r.Label != nil:
		return *r.Label, nil
	case len(r.Prediction) > 0:
		return r.Prediction[0], nil
	default:
		return 0, fmt.Errorf("oracle response carried no label")
	}
}

// HTTPOracle posts feature vectors to a scoring endpoint.
type HTTPOracle struct {
	url    string
	client *http.Client
}

// NewHTTPOracle creates an oracle for url. A nil client uses http.DefaultClient.
func NewHTTPOracle(url string, client *http.Client) (*HTTPOracle, error) {
	if url == "" {
		return nil, fmt.Errorf("classifier url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOracle{url: url, client: client}, nil
}

// Predict calls the endpoint.
func (o *HTTPOracle) Predict(ctx context.Context, features []float64) (int, error) {
	body, err := json.Marshal(PredictRequest{Features: features})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var out PredictResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("failed to decode oracle response: %w", err)
	}
	return out.label()
}

// BusOracle sends feature vectors over the event bus as request-reply.
type BusOracle struct {
	bus domain.EventBus
}

// NewBusOracle creates an oracle that queries a model host listening on TopicClassifierPredict.
func NewBusOracle(bus domain.EventBus) *BusOracle {
	return &BusOracle{bus: bus}
}

// Predict sends one request and decodes the reply.
func (o *BusOracle) Predict(ctx context.Context, features []float64) (int, error) {
	body, err := json.Marshal(PredictRequest{Features: features})
	if err != nil {
		return 0, err
	}

	reply, err := o.bus.Request(ctx, domain.SystemAccountID, domain.TopicClassifierPredict, body)
	if err != nil {
		return 0, err
	}

	var out PredictResponse
	if err := json.Unmarshal(reply, &out); err != nil {
		return 0, fmt.Errorf("failed to decode oracle reply: %w", err)
	}
	return out.label()
}

// Serve answers TopicClassifierPredict requests with oracle until the subscription ends.
func Serve(ctx context.Context, bus domain.EventBus, oracle Oracle) (domain.Subscription, error) {
	return bus.Subscribe(ctx, domain.SystemAccountID, domain.TopicClassifierPredict, func(ctx context.Context, msg *domain.Message) error {
		var req PredictRequest
		var resp PredictResponse

		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			resp.Error = "invalid request: " + err.Error()
		} else if label, err := oracle.Predict(ctx, req.Features); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Label = &label
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if err := bus.Reply(ctx, msg, data); err != nil {
			slog.Error("failed to reply to prediction request", "message_id", msg.ID, "error", err)
			return err
		}
		return nil
	})
}
