package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts are stored as NUMERIC(6,2): two fractional digits, six significant.
const MoneyScale = 2

var (
	MaxMoney = decimal.RequireFromString("9999.99")
	MinMoney = MaxMoney.Neg()
)

// ValidateAmount checks a client supplied operation amount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, amount, MoneyScale)
	}
	if amount.GreaterThan(MaxMoney) {
		return fmt.Errorf("%w: %s exceeds %s", ErrAmountOutOfRange, amount, MaxMoney)
	}
	return nil
}

// ParseAmount parses a decimal string and validates it as an operation amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, raw)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func inRange(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(MinMoney) && v.LessThanOrEqual(MaxMoney)
}
