package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid transaction")

	// ErrClassifierUnavailable means no verdict could be produced. Nothing is recorded.
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("verdict not recorded")

	// ErrStorageRead is a hard read failure while computing statistics.
	ErrStorageRead = errors.New("storage read failed")

	// ErrQuotaExceeded means the account submitted too many transactions in the current window.
	ErrQuotaExceeded = errors.New("submission quota exceeded")

	ErrAccountRequired = errors.New("account id is required")
	ErrNotFound        = errors.New("record not found")
)

// ValidationRule names the input rule a transaction violated.
type ValidationRule string

const (
	RuleUnknownTransactionType ValidationRule = "UnknownTransactionType"
	RuleNegativeAmount         ValidationRule = "NegativeAmount"
	RuleNegativeBalance        ValidationRule = "NegativeBalance"
	RuleNegativeStep           ValidationRule = "NegativeStep"
	RuleMalformedNumber        ValidationRule = "MalformedNumber"
)

// ValidationError reports a caller-fixable input problem.
type ValidationError struct {
	Rule  ValidationRule
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	switch e.Rule {
	case RuleUnknownTransactionType:
		return fmt.Sprintf("unknown transaction type %q", e.Value)
	case RuleNegativeAmount:
		return "amount cannot be negative"
	case RuleNegativeBalance:
		return fmt.Sprintf("%s cannot be negative", e.Field)
	case RuleNegativeStep:
		return "step cannot be negative"
	case RuleMalformedNumber:
		return fmt.Sprintf("%s is not a valid number: %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s", e.Field)
}

// Is makes errors.Is(err, ErrValidation) true for validation failures.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError means a verdict exists but the audit record was not written.
type PersistenceError struct {
	Verdict Verdict
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("verdict %q not recorded: %v", e.Verdict, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
