package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

func validRaw() domain.RawTransaction {
	return domain.RawTransaction{
		Step:           "1",
		Type:           "TRANSFER",
		Amount:         "181.00",
		OldBalanceOrig: "181.0",
		NewBalanceOrig: "0",
		OldBalanceDest: "0",
		NewBalanceDest: "0",
	}
}

func TestParseAndEncode(t *testing.T) {
	in, v, err := ParseAndEncode(validRaw())
	require.NoError(t, err)

	assert.Equal(t, int64(1), in.Step)
	assert.Equal(t, domain.TypeTransfer, in.Type)
	assert.Equal(t, domain.FeatureVector{1, 1, 181, 181, 0, 0, 0}, v)
}

func TestEncodeDeterministic(t *testing.T) {
	in, err := Parse(validRaw())
	require.NoError(t, err)

	first, err := Encode(in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Encode(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEncodeTypeCodes(t *testing.T) {
	want := map[domain.TransactionType]float64{
		domain.TypePayment:  0,
		domain.TypeTransfer: 1,
		domain.TypeCashOut:  2,
		domain.TypeDebit:    3,
		domain.TypeCashIn:   4,
	}
	for typ, code := range want {
		t.Run(string(typ), func(t *testing.T) {
			v, err := Encode(&domain.TransactionInput{Type: typ, Amount: 10})
			require.NoError(t, err)
			assert.Equal(t, code, v[domain.FeatureTypeCode])
		})
	}
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *domain.RawTransaction)
		rule   domain.ValidationRule
		field  string
	}{
		{"UnknownType", func(r *domain.RawTransaction) { r.Type = "WIRE"; r.Amount = "10" }, domain.RuleUnknownTransactionType, "type"},
		{"LowercaseType", func(r *domain.RawTransaction) { r.Type = "payment" }, domain.RuleUnknownTransactionType, "type"},
		{"EmptyType", func(r *domain.RawTransaction) { r.Type = "" }, domain.RuleUnknownTransactionType, "type"},
		{"NegativeAmount", func(r *domain.RawTransaction) { r.Type = "PAYMENT"; r.Amount = "-5" }, domain.RuleNegativeAmount, "amount"},
		{"NegativeOldBalanceOrig", func(r *domain.RawTransaction) { r.OldBalanceOrig = "-1" }, domain.RuleNegativeBalance, "oldbalanceOrg"},
		{"NegativeNewBalanceOrig", func(r *domain.RawTransaction) { r.NewBalanceOrig = "-0.01" }, domain.RuleNegativeBalance, "newbalanceOrig"},
		{"NegativeOldBalanceDest", func(r *domain.RawTransaction) { r.OldBalanceDest = "-3" }, domain.RuleNegativeBalance, "oldbalanceDest"},
		{"NegativeNewBalanceDest", func(r *domain.RawTransaction) { r.NewBalanceDest = "-100" }, domain.RuleNegativeBalance, "newbalanceDest"},
		{"NegativeStep", func(r *domain.RawTransaction) { r.Step = "-1" }, domain.RuleNegativeStep, "step"},
		{"MalformedAmount", func(r *domain.RawTransaction) { r.Amount = "12abc" }, domain.RuleMalformedNumber, "amount"},
		{"EmptyBalance", func(r *domain.RawTransaction) { r.OldBalanceDest = "" }, domain.RuleMalformedNumber, "oldbalanceDest"},
		{"NaNAmount", func(r *domain.RawTransaction) { r.Amount = "NaN" }, domain.RuleMalformedNumber, "amount"},
		{"InfBalance", func(r *domain.RawTransaction) { r.NewBalanceDest = "+Inf" }, domain.RuleMalformedNumber, "newbalanceDest"},
		{"FractionalStep", func(r *domain.RawTransaction) { r.Step = "1.5" }, domain.RuleMalformedNumber, "step"},
		{"UnknownTypeBeforeMalformedAmount", func(r *domain.RawTransaction) { r.Type = "WIRE"; r.Amount = "x" }, domain.RuleUnknownTransactionType, "type"},
		{"UnknownTypeBeforeMalformedStep", func(r *domain.RawTransaction) { r.Type = "WIRE"; r.Step = "abc" }, domain.RuleUnknownTransactionType, "type"},
		{"MalformedBeforeNegative", func(r *domain.RawTransaction) { r.Amount = "-5"; r.NewBalanceDest = "abc" }, domain.RuleMalformedNumber, "newbalanceDest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)

			_, err := Parse(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.rule, verr.Rule)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseAcceptsIntegralFloatStep(t *testing.T) {
	raw := validRaw()
	raw.Step = " 743.0 "

	in, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(743), in.Step)
}

func TestEncodeRejectsInvalidInput(t *testing.T) {
	_, err := Encode(&domain.TransactionInput{Type: "WIRE", Amount: 10})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.RuleUnknownTransactionType, verr.Rule)
}

func TestFeatureOrderMatchesIndexes(t *testing.T) {
	assert.Equal(t, "step", domain.FeatureOrder[domain.FeatureStep])
	assert.Equal(t, "type_code", domain.FeatureOrder[domain.FeatureTypeCode])
	assert.Equal(t, "amount", domain.FeatureOrder[domain.FeatureAmount])
	assert.Equal(t, "newbalance_dest", domain.FeatureOrder[domain.FeatureNewBalanceDest])
}
