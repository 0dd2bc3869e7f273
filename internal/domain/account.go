package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusOpen   AccountStatus = "OPEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

func (s AccountStatus) Valid() bool {
	return s == AccountStatusOpen || s == AccountStatusClosed
}

// ParseAccountStatus accepts the legacy "CLOSE" spelling as CLOSED.
func ParseAccountStatus(raw string) (AccountStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(AccountStatusOpen):
		return AccountStatusOpen, nil
	case string(AccountStatusClosed), "CLOSE":
		return AccountStatusClosed, nil
	}
	return "", fmt.Errorf("unknown account status %q", raw)
}

const MaxOwnerNameLength = 128

// Account is a subscriber account. Hold is the part of Balance reserved
// pending settlement by the reconciliation sweep.
type Account struct {
	ID        string
	OwnerName string
	Balance   decimal.Decimal
	Hold      decimal.Decimal
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccount builds an account for provisioning. Seed values must satisfy the
// same invariants as committed mutations.
func NewAccount(id, ownerName string, balance, hold decimal.Decimal, status AccountStatus, now time.Time) (*Account, error) {
	ownerName = strings.TrimSpace(ownerName)
	if id == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if ownerName == "" || len(ownerName) > MaxOwnerNameLength {
		return nil, fmt.Errorf("owner name must be 1-%d characters", MaxOwnerNameLength)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown account status %q", status)
	}
	if hold.IsNegative() {
		return nil, fmt.Errorf("%w: hold %s is negative", ErrInvalidAmount, hold)
	}
	for _, v := range []decimal.Decimal{balance, hold} {
		if !inRange(v) || !v.Equal(v.Truncate(MoneyScale)) {
			return nil, fmt.Errorf("%w: %s", ErrAmountOutOfRange, v)
		}
	}
	return &Account{
		ID:        id,
		OwnerName: ownerName,
		Balance:   balance,
		Hold:      hold,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (a *Account) IsOpen() bool {
	return a.Status == AccountStatusOpen
}

// Available is the display figure balance-hold. It is never persisted.
func (a *Account) Available() decimal.Decimal {
	if a.Hold.IsPositive() {
		return a.Balance.Sub(a.Hold)
	}
	return a.Balance
}

// Deposit credits amount to the balance. The account is left untouched on error.
func (a *Account) Deposit(amount decimal.Decimal, now time.Time) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if !a.IsOpen() {
		return ErrAccountClosed
	}
	next := a.Balance.Add(amount)
	if !inRange(next) {
		return fmt.Errorf("%w: balance %s + %s", ErrAmountOutOfRange, a.Balance, amount)
	}
	a.Balance = next
	a.UpdatedAt = now
	return nil
}

// Reserve increases the hold. The account may never hold more than its balance.
func (a *Account) Reserve(amount decimal.Decimal, now time.Time) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if !a.IsOpen() {
		return ErrAccountClosed
	}
	next := a.Hold.Add(amount)
	if a.Balance.LessThan(next) {
		return ErrInsufficientFunds
	}
	a.Hold = next
	a.UpdatedAt = now
	return nil
}

// SettleHold moves the current hold out of the balance and returns the
// settled amount. Closed accounts and zero holds are left as they are and
// settle nothing.
func (a *Account) SettleHold(now time.Time) (decimal.Decimal, error) {
	if !a.IsOpen() || !a.Hold.IsPositive() {
		return decimal.Zero, nil
	}
	next := a.Balance.Sub(a.Hold)
	if !inRange(next) {
		return decimal.Zero, fmt.Errorf("%w: balance %s - hold %s", ErrAmountOutOfRange, a.Balance, a.Hold)
	}
	settled := a.Hold
	a.Balance = next
	a.Hold = decimal.Zero
	a.UpdatedAt = now
	return settled, nil
}
