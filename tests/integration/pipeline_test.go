//go:build integration
// +build integration

// Package integration exercises a running Harrier server end to end.
//
// The server must use the bundled model (model/payments.cel):
//
//	TRANSFER or CASH_OUT that moves the whole origin balance and leaves it at zero → Fraudulent
//	anything else → Legitimate
//
// Run with:
//
//	harrier serve --worker &
//	go test -tags=integration -v ./tests/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL   string
	AccountID string
}

func getTestConfig(t *testing.T) TestConfig {
	t.Helper()
	baseURL := os.Getenv("HARRIER_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	// A fresh account per test keeps dashboard counts independent of earlier runs.
	return TestConfig{
		BaseURL:   baseURL,
		AccountID: "it-" + uuid.NewString(),
	}
}

type Transaction struct {
	Step           any `json:"step"`
	Type           any `json:"type"`
	Amount         any `json:"amount"`
	OldBalanceOrg  any `json:"oldbalanceOrg"`
	NewBalanceOrig any `json:"newbalanceOrig"`
	OldBalanceDest any `json:"oldbalanceDest"`
	NewBalanceDest any `json:"newbalanceDest"`
}

type SubmitResponse struct {
	RecordID  int64   `json:"recordId"`
	AccountID string  `json:"accountId"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Result    string  `json:"result"`
	Fraud     bool    `json:"fraud"`
	TraceID   string  `json:"traceId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Rule  string `json:"rule"`
	Field string `json:"field"`
}

type Dashboard struct {
	TotalTransactions  int64   `json:"totalTransactions"`
	FraudCount         int64   `json:"fraudCount"`
	FraudPercentage    float64 `json:"fraudPercentage"`
	TotalAmount        float64 `json:"totalAmount"`
	TotalAmountDisplay string  `json:"totalAmountDisplay"`
	Series             []struct {
		Date   string  `json:"date"`
		Amount float64 `json:"amount"`
	} `json:"series"`
	Recent []struct {
		ID     int64   `json:"id"`
		Amount float64 `json:"amount"`
		Result string  `json:"result"`
	} `json:"recent"`
}

func do(t *testing.T, config TestConfig, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if config.AccountID != "" {
		req.Header.Set("X-Account-ID", config.AccountID)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func submit(t *testing.T, config TestConfig, tx Transaction) SubmitResponse {
	t.Helper()
	status, body := do(t, config, http.MethodPost, "/transactions", tx)
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", status, body)
	}
	var resp SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, body)
	}
	return resp
}

func dashboard(t *testing.T, config TestConfig) Dashboard {
	t.Helper()
	status, body := do(t, config, http.MethodGet, "/dashboard", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var d Dashboard
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatalf("Failed to unmarshal dashboard: %v", err)
	}
	return d
}

func drainingTransfer(amount string) Transaction {
	return Transaction{"1", "TRANSFER", amount, amount, "0", "0", "0"}
}

func payment(amount string) Transaction {
	return Transaction{"1", "PAYMENT", amount, "170136", "160296.36", "0", "0"}
}

func TestDrainingTransferIsFraud(t *testing.T) {
	config := getTestConfig(t)

	result := submit(t, config, drainingTransfer("181"))
	if !result.Fraud || result.Result != "Fraudulent Transaction" {
		t.Errorf("Expected Fraudulent Transaction, got %q", result.Result)
	}
	if result.AccountID != config.AccountID {
		t.Errorf("Expected account %s, got %s", config.AccountID, result.AccountID)
	}
	if result.RecordID <= 0 {
		t.Errorf("Expected a record id, got %d", result.RecordID)
	}
}

func TestPaymentIsLegitimate(t *testing.T) {
	config := getTestConfig(t)

	// Numeric JSON values are accepted as well as strings.
	result := submit(t, config, Transaction{743, "PAYMENT", 9839.64, 170136, 160296.36, 0, 0})
	if result.Fraud {
		t.Errorf("Expected Legitimate Transaction, got %q", result.Result)
	}
}

func TestDashboardReflectsSubmissions(t *testing.T) {
	config := getTestConfig(t)

	empty := dashboard(t, config)
	if empty.TotalTransactions != 0 || empty.FraudPercentage != 0 {
		t.Fatalf("Expected empty dashboard, got %+v", empty)
	}

	submit(t, config, drainingTransfer("100"))
	submit(t, config, payment("200"))
	submit(t, config, payment("50"))

	d := dashboard(t, config)
	if d.TotalTransactions != 3 {
		t.Errorf("Expected 3 transactions, got %d", d.TotalTransactions)
	}
	if d.FraudCount != 1 {
		t.Errorf("Expected 1 fraud, got %d", d.FraudCount)
	}
	if d.FraudPercentage != 33.33 {
		t.Errorf("Expected 33.33%%, got %v", d.FraudPercentage)
	}
	if d.TotalAmount != 350 || d.TotalAmountDisplay != "350.00" {
		t.Errorf("Expected 350.00, got %v (%s)", d.TotalAmount, d.TotalAmountDisplay)
	}
	if len(d.Series) != 3 || d.Series[0].Amount != 100 || d.Series[2].Amount != 50 {
		t.Errorf("Expected oldest-first series 100,200,50, got %+v", d.Series)
	}
	if len(d.Recent) != 3 || d.Recent[0].Amount != 50 {
		t.Errorf("Expected newest-first history, got %+v", d.Recent)
	}
}

func TestAccountIsolation(t *testing.T) {
	a := getTestConfig(t)
	b := getTestConfig(t)

	rec := submit(t, a, drainingTransfer("500"))

	status, _ := do(t, b, http.MethodGet, fmt.Sprintf("/transactions/%d", rec.RecordID), nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for another account's record, got %d", status)
	}
	if d := dashboard(t, b); d.TotalTransactions != 0 {
		t.Errorf("Expected isolated dashboard, got %d transactions", d.TotalTransactions)
	}
}

func TestValidationErrors(t *testing.T) {
	config := getTestConfig(t)

	cases := []struct {
		name string
		tx   Transaction
		rule string
	}{
		{"negative amount", Transaction{"1", "PAYMENT", "-5", "0", "0", "0", "0"}, "NegativeAmount"},
		{"unknown type", Transaction{"1", "WIRE", "5", "0", "0", "0", "0"}, "UnknownTransactionType"},
		{"lowercase type", Transaction{"1", "transfer", "5", "0", "0", "0", "0"}, "UnknownTransactionType"},
		{"malformed number", Transaction{"1", "PAYMENT", "12abc", "0", "0", "0", "0"}, "MalformedNumber"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, config, http.MethodPost, "/transactions", tc.tx)
			if status != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %s", status, body)
			}
			var e ErrorResponse
			_ = json.Unmarshal(body, &e)
			if e.Rule != tc.rule {
				t.Errorf("Expected rule %s, got %s", tc.rule, e.Rule)
			}
		})
	}

	if d := dashboard(t, config); d.TotalTransactions != 0 {
		t.Errorf("Rejected submissions must not be recorded, got %d", d.TotalTransactions)
	}
}

func TestMissingAccount(t *testing.T) {
	config := getTestConfig(t)
	config.AccountID = ""

	status, _ := do(t, config, http.MethodPost, "/transactions", payment("1"))
	if status != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", status)
	}
}

func TestAsyncSubmission(t *testing.T) {
	config := getTestConfig(t)

	status, body := do(t, config, http.MethodPost, "/transactions?async=true", drainingTransfer("900"))
	if status == http.StatusServiceUnavailable {
		t.Skip("server has no event bus for async submissions")
	}
	if status != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", status, body)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d := dashboard(t, config); d.FraudCount == 1 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Error("Async submission was not recorded (is the worker enabled?)")
}

func TestHealth(t *testing.T) {
	config := getTestConfig(t)
	config.AccountID = ""

	status, body := do(t, config, http.MethodGet, "/health", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, body)
	}
	status, _ = do(t, config, http.MethodGet, "/ready", nil)
	if status != http.StatusOK {
		t.Errorf("Expected ready, got %d", status)
	}
}
