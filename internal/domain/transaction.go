package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransactionType is the categorical transaction kind understood by the classifier.
type TransactionType string

const (
	TypePayment  TransactionType = "PAYMENT"
	TypeTransfer TransactionType = "TRANSFER"
	TypeCashOut  TransactionType = "CASH_OUT"
	TypeDebit    TransactionType = "DEBIT"
	TypeCashIn   TransactionType = "CASH_IN"
)

// typeCodes is the only mapping between transaction types and their numeric codes.
// The classifier was trained against these exact values.
var typeCodes = map[TransactionType]int{
	TypePayment:  0,
	TypeTransfer: 1,
	TypeCashOut:  2,
	TypeDebit:    3,
	TypeCashIn:   4,
}

// TransactionTypes returns the supported types ordered by code.
func TransactionTypes() []TransactionType {
	out := make([]TransactionType, len(typeCodes))
	for t, code := range typeCodes {
		out[code] = t
	}
	return out
}

// Code returns the numeric code for t. ok is false for unknown types.
func (t TransactionType) Code() (code int, ok bool) {
	code, ok = typeCodes[t]
	return code, ok
}

// Valid reports whether t is a member of the enumeration.
func (t TransactionType) Valid() bool {
	_, ok := typeCodes[t]
	return ok
}

// TypeForCode is the inverse of Code, used when displaying stored feature vectors.
func TypeForCode(code int) (TransactionType, bool) {
	for t, c := range typeCodes {
		if c == code {
			return t, true
		}
	}
	return "", false
}

// RawTransaction holds caller-supplied fields in their textual form.
type RawTransaction struct {
	Step           string `json:"step"`
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	OldBalanceOrig string `json:"oldbalanceOrg"`
	NewBalanceOrig string `json:"newbalanceOrig"`
	OldBalanceDest string `json:"oldbalanceDest"`
	NewBalanceDest string `json:"newbalanceDest"`
}

// UnmarshalJSON accepts every field as either a JSON string or a JSON number.
func (r *RawTransaction) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	targets := map[string]*string{
		"step":           &r.Step,
		"type":           &r.Type,
		"amount":         &r.Amount,
		"oldbalanceOrg":  &r.OldBalanceOrig,
		"newbalanceOrig": &r.NewBalanceOrig,
		"oldbalanceDest": &r.OldBalanceDest,
		"newbalanceDest": &r.NewBalanceDest,
	}
	for name, dst := range targets {
		raw, ok := fields[name]
		if !ok || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			*dst = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("field %s must be a string or number", name)
		}
		*dst = n.String()
	}
	return nil
}

// TransactionInput is a parsed, validated transaction.
type TransactionInput struct {
	Step             int64           `json:"step"`
	Type             TransactionType `json:"type"`
	Amount           float64         `json:"amount"`
	OldBalanceOrigin float64         `json:"oldbalanceOrg"`
	NewBalanceOrigin float64         `json:"newbalanceOrig"`
	OldBalanceDest   float64         `json:"oldbalanceDest"`
	NewBalanceDest   float64         `json:"newbalanceDest"`
}

// FeatureCount is the length of every feature vector.
const FeatureCount = 7

// FeatureOrder names the feature vector positions. Any change here must match the trained model.
var FeatureOrder = [FeatureCount]string{
	"step",
	"type_code",
	"amount",
	"oldbalance_org",
	"newbalance_orig",
	"oldbalance_dest",
	"newbalance_dest",
}

// Feature vector positions, in FeatureOrder.
const (
	FeatureStep = iota
	FeatureTypeCode
	FeatureAmount
	FeatureOldBalanceOrig
	FeatureNewBalanceOrig
	FeatureOldBalanceDest
	FeatureNewBalanceDest
)

// FeatureVector is the ordered numeric encoding consumed by the classifier.
type FeatureVector [FeatureCount]float64

// Slice returns the vector as a slice for oracle calls.
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureCount)
	copy(out, v[:])
	return out
}

// Verdict is the binary classification outcome.
type Verdict string

const (
	VerdictFraudulent Verdict = "Fraudulent Transaction"
	VerdictLegitimate Verdict = "Legitimate Transaction"
)

// IsFraudulent reports whether v is the positive class.
func (v Verdict) IsFraudulent() bool {
	return v == VerdictFraudulent
}

// RecordID identifies an audit record. Identifiers increase strictly with insertion order.
type RecordID int64

// TransactionRecord is the persisted, append-only audit entry.
type TransactionRecord struct {
	ID               RecordID        `json:"id"`
	AccountID        string          `json:"accountId"`
	Step             int64           `json:"step"`
	Type             TransactionType `json:"type"`
	TypeCode         int             `json:"typeCode"`
	Amount           float64         `json:"amount"`
	OldBalanceOrigin float64         `json:"oldbalanceOrg"`
	NewBalanceOrigin float64         `json:"newbalanceOrig"`
	OldBalanceDest   float64         `json:"oldbalanceDest"`
	NewBalanceDest   float64         `json:"newbalanceDest"`
	Verdict          Verdict         `json:"result"`

	// CreatedAt is zero when the stored timestamp is missing or unreadable.
	CreatedAt time.Time `json:"timestamp"`
}

// Submission is the outcome of a successfully recorded classification.
type Submission struct {
	RecordID  RecordID        `json:"recordId"`
	AccountID string          `json:"accountId"`
	Type      TransactionType `json:"type"`
	Amount    float64         `json:"amount"`
	Verdict   Verdict         `json:"result"`
	Fraud     bool            `json:"fraud"`
}
