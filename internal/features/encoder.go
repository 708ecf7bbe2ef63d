// Package features turns caller-supplied transaction fields into classifier feature vectors.
package features

import (
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Parse converts raw textual fields into a validated TransactionInput.
// Checks run in order: type membership, then number syntax, then signs.
// So an unknown type wins over a malformed field, and a malformed field over a negative one.
func Parse(raw domain.RawTransaction) (*domain.TransactionInput, error) {
	typ := domain.TransactionType(strings.TrimSpace(raw.Type))
	if !typ.Valid() {
		return nil, &domain.ValidationError{Rule: domain.RuleUnknownTransactionType, Field: "type", Value: string(typ)}
	}

	step, err := parseStep(raw.Step)
	if err != nil {
		return nil, err
	}

	in := &domain.TransactionInput{Step: step, Type: typ}

	fields := []struct {
		name string
		text string
		dst  *float64
	}{
		{"amount", raw.Amount, &in.Amount},
		{"oldbalanceOrg", raw.OldBalanceOrig, &in.OldBalanceOrigin},
		{"newbalanceOrig", raw.NewBalanceOrig, &in.NewBalanceOrigin},
		{"oldbalanceDest", raw.OldBalanceDest, &in.OldBalanceDest},
		{"newbalanceDest", raw.NewBalanceDest, &in.NewBalanceDest},
	}
	for _, f := range fields {
		v, err := parseFloat(f.name, f.text)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	if err := Validate(in); err != nil {
		return nil, err
	}
	return in, nil
}

// Validate checks the enumeration and sign invariants of an already parsed input.
func Validate(in *domain.TransactionInput) error {
	if !in.Type.Valid() {
		return &domain.ValidationError{Rule: domain.RuleUnknownTransactionType, Field: "type", Value: string(in.Type)}
	}
	if in.Step < 0 {
		return &domain.ValidationError{Rule: domain.RuleNegativeStep, Field: "step", Value: strconv.FormatInt(in.Step, 10)}
	}
	if in.Amount < 0 {
		return &domain.ValidationError{Rule: domain.RuleNegativeAmount, Field: "amount", Value: formatFloat(in.Amount)}
	}

	balances := []struct {
		name  string
		value float64
	}{
		{"oldbalanceOrg", in.OldBalanceOrigin},
		{"newbalanceOrig", in.NewBalanceOrigin},
		{"oldbalanceDest", in.OldBalanceDest},
		{"newbalanceDest", in.NewBalanceDest},
	}
	for _, b := range balances {
		if b.value < 0 {
			return &domain.ValidationError{Rule: domain.RuleNegativeBalance, Field: b.name, Value: formatFloat(b.value)}
		}
	}
	return nil
}

// Encode builds the feature vector in domain.FeatureOrder.
func Encode(in *domain.TransactionInput) (domain.FeatureVector, error) {
	var v domain.FeatureVector
	if err := Validate(in); err != nil {
		return v, err
	}

	code, _ := in.Type.Code()

	v[domain.FeatureStep] = float64(in.Step)
	v[domain.FeatureTypeCode] = float64(code)
	v[domain.FeatureAmount] = in.Amount
	v[domain.FeatureOldBalanceOrig] = in.OldBalanceOrigin
	v[domain.FeatureNewBalanceOrig] = in.NewBalanceOrigin
	v[domain.FeatureOldBalanceDest] = in.OldBalanceDest
	v[domain.FeatureNewBalanceDest] = in.NewBalanceDest
	return v, nil
}

// ParseAndEncode is Parse followed by Encode.
func ParseAndEncode(raw domain.RawTransaction) (*domain.TransactionInput, domain.FeatureVector, error) {
	in, err := Parse(raw)
	if err != nil {
		return nil, domain.FeatureVector{}, err
	}
	v, err := Encode(in)
	return in, v, err
}

func parseFloat(field, text string) (float64, error) {
	s := strings.TrimSpace(text)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &domain.ValidationError{Rule: domain.RuleMalformedNumber, Field: field, Value: text}
	}
	return v, nil
}

// parseStep accepts integers and integral floats such as "3.0".
func parseStep(text string) (int64, error) {
	s := strings.TrimSpace(text)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	f, err := parseFloat("step", text)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, &domain.ValidationError{Rule: domain.RuleMalformedNumber, Field: "step", Value: text}
	}
	return int64(f), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
