package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeCodesRoundTrip(t *testing.T) {
	types := TransactionTypes()
	assert.Equal(t, []TransactionType{TypePayment, TypeTransfer, TypeCashOut, TypeDebit, TypeCashIn}, types)

	for want, typ := range types {
		code, ok := typ.Code()
		assert.True(t, ok)
		assert.Equal(t, want, code)

		back, ok := TypeForCode(code)
		assert.True(t, ok)
		assert.Equal(t, typ, back)
	}

	_, ok := TypeForCode(5)
	assert.False(t, ok)
	_, ok = TypeForCode(-1)
	assert.False(t, ok)
	assert.False(t, TransactionType("WIRE").Valid())
}
