package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestDisplayType(t *testing.T) {
	assert.Equal(t, domain.TypeCashOut, displayType(domain.TransactionRecord{Type: "cash_out", TypeCode: 2}))
	assert.Equal(t, domain.TransactionType("LEGACY"), displayType(domain.TransactionRecord{Type: "LEGACY", TypeCode: 9}))
}

func TestTypeList(t *testing.T) {
	assert.Equal(t, "PAYMENT, TRANSFER, CASH_OUT, DEBIT, CASH_IN", typeList())
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, domain.UnknownDateLabel, formatTime(time.Time{}))
	assert.Equal(t, "2026-03-01 12:30:00", formatTime(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)))
	assert.Equal(t, "Payment", shortVerdict("Payment Transaction"))
}
