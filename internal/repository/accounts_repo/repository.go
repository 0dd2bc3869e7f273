package accounts_repo

import (
	"context"

	"ledger/internal/domain"
)

// TxFunc runs inside one store transaction. Returning an error rolls it back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is durable keyed storage for accounts. Every mutation happens inside
// WithTransaction; nothing writes rows outside of it.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Account, error)
	List(ctx context.Context) ([]domain.Account, error)
	Create(ctx context.Context, account *domain.Account) error
	// WithTransaction commits when fn returns nil and rolls back on error or
	// panic. A panic is re-raised after the rollback.
	WithTransaction(ctx context.Context, fn TxFunc) error
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	// LockAndGet takes an exclusive lock on the account row, held until the
	// transaction ends. A second transaction locking the same id blocks until
	// then, or fails with domain.ErrLockTimeout.
	LockAndGet(ctx context.Context, id string) (*domain.Account, error)
	Save(ctx context.Context, account *domain.Account) error
	// ListOpenWithPositiveHold returns ids of OPEN accounts with hold > 0,
	// ordered by id.
	ListOpenWithPositiveHold(ctx context.Context) ([]string, error)
}
