// Package amount classifies a received payment amount against the expected one.
package amount

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/i3lani/paywatch/payments/internal/models"
)

// Validator applies a fixed absolute tolerance, expressed in currency units.
type Validator struct {
	Tolerance decimal.Decimal
}

// NewValidator creates a Validator. Negative tolerances are treated as zero.
func NewValidator(tolerance decimal.Decimal) *Validator {
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	return &Validator{Tolerance: tolerance}
}

// Validate classifies received against expected. A missing received amount
// cannot be judged and is routed to manual review.
func (v *Validator) Validate(received decimal.NullDecimal, expected decimal.Decimal) models.ValidationResult {
	if !received.Valid {
		return models.ValidationResult{
			Status: models.ValidationError,
			Action: models.ActionManualReview,
			Reason: "transaction amount could not be determined",
		}
	}
	return Validate(received.Decimal, expected, v.Tolerance)
}

// Validate compares received with expected. difference = received - expected.
// Within tolerance confirms, below rejects, above goes to manual review.
func Validate(received, expected, tolerance decimal.Decimal) models.ValidationResult {
	if !expected.IsPositive() {
		return models.ValidationResult{
			Status: models.ValidationError,
			Action: models.ActionManualReview,
			Reason: fmt.Sprintf("expected amount %s is not positive", expected),
		}
	}
	if received.IsNegative() {
		return models.ValidationResult{
			Status:     models.ValidationError,
			Difference: received.Sub(expected),
			Action:     models.ActionManualReview,
			Reason:     fmt.Sprintf("received amount %s is negative", received),
		}
	}

	diff := received.Sub(expected)
	switch {
	case diff.Abs().LessThanOrEqual(tolerance):
		return models.ValidationResult{
			Valid:      true,
			Status:     models.ValidationExact,
			Difference: diff,
			Action:     models.ActionConfirm,
			Reason:     "amount matches",
		}
	case diff.LessThan(tolerance.Neg()):
		return models.ValidationResult{
			Status:     models.ValidationUnderpayment,
			Difference: diff,
			Action:     models.ActionReject,
			Reason:     fmt.Sprintf("received %s, expected %s: short by %s", received, expected, diff.Neg()),
		}
	default:
		return models.ValidationResult{
			Status:     models.ValidationOverpayment,
			Difference: diff,
			Action:     models.ActionManualReview,
			Reason:     fmt.Sprintf("received %s, expected %s: excess of %s", received, expected, diff),
		}
	}
}
