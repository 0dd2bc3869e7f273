package ledger

import (
	"github.com/shopspring/decimal"

	"ledger/internal/domain"
)

// Operation labels reported back to clients alongside each result.
type Operation string

const (
	OperationUndefined Operation = "undefined"
	OperationDeposit   Operation = "balance ADDING"
	OperationReserve   Operation = "balance SUBTRACT"
	OperationStatus    Operation = "get account STATUS"
)

// AccountView is the read model returned by Query and List. Available is
// derived for display and never stored.
type AccountView struct {
	ID        string               `json:"id"`
	OwnerName string               `json:"owner_name"`
	Balance   decimal.Decimal      `json:"balance"`
	Hold      decimal.Decimal      `json:"hold"`
	Available decimal.Decimal      `json:"available"`
	Status    domain.AccountStatus `json:"status"`
}

func NewAccountView(a *domain.Account) AccountView {
	return AccountView{
		ID:        a.ID,
		OwnerName: a.OwnerName,
		Balance:   a.Balance,
		Hold:      a.Hold,
		Available: a.Available(),
		Status:    a.Status,
	}
}
