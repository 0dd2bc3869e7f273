package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ledger/internal/domain"
	"ledger/internal/repository/accounts_repo"
)

// row holds the committed account value and its exclusive lock. The lock is
// a one-slot channel so acquisition can give up on timeout or cancellation.
type row struct {
	lock    chan struct{}
	account domain.Account
}

// AccountRepository is an in-process store with the same locking contract as
// the SQL stores: per-row exclusive locks held for a transaction's lifetime,
// writes applied atomically on commit.
type AccountRepository struct {
	mu          sync.RWMutex
	rows        map[string]*row
	lockTimeout time.Duration
}

func NewAccountRepository(lockTimeout time.Duration) *AccountRepository {
	return &AccountRepository{
		rows:        make(map[string]*row),
		lockTimeout: lockTimeout,
	}
}

var _ accounts_repo.Store = (*AccountRepository)(nil)

func (r *AccountRepository) Get(_ context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rw, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	account := rw.account
	return &account, nil
}

func (r *AccountRepository) List(_ context.Context) ([]domain.Account, error) {
	r.mu.RLock()
	accounts := make([]domain.Account, 0, len(r.rows))
	for _, rw := range r.rows {
		accounts = append(accounts, rw.account)
	}
	r.mu.RUnlock()

	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].OwnerName != accounts[j].OwnerName {
			return accounts[i].OwnerName < accounts[j].OwnerName
		}
		return accounts[i].ID < accounts[j].ID
	})
	return accounts, nil
}

func (r *AccountRepository) Create(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rows[account.ID]; exists {
		return domain.ErrAccountAlreadyExists
	}
	r.rows[account.ID] = &row{lock: make(chan struct{}, 1), account: *account}
	return nil
}

func (r *AccountRepository) WithTransaction(ctx context.Context, fn accounts_repo.TxFunc) error {
	tx := &accountTx{
		repo:   r,
		locked: make(map[string]*row),
		staged: make(map[string]domain.Account),
	}
	defer func() {
		if p := recover(); p != nil {
			tx.release()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tx.release()
		return err
	}
	tx.commit()
	return nil
}

func (r *AccountRepository) lookup(id string) (*row, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rw, ok := r.rows[id]
	return rw, ok
}

type accountTx struct {
	repo   *AccountRepository
	locked map[string]*row
	staged map[string]domain.Account
}

func (t *accountTx) LockAndGet(ctx context.Context, id string) (*domain.Account, error) {
	if rw, ok := t.locked[id]; ok {
		account := t.current(id, rw)
		return &account, nil
	}

	rw, ok := t.repo.lookup(id)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	if err := t.acquire(ctx, rw); err != nil {
		return nil, fmt.Errorf("failed to lock account %s: %w", id, err)
	}
	t.locked[id] = rw

	account := t.current(id, rw)
	return &account, nil
}

func (t *accountTx) Save(_ context.Context, account *domain.Account) error {
	if _, ok := t.locked[account.ID]; !ok {
		if _, exists := t.repo.lookup(account.ID); !exists {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("account %s saved without holding its lock", account.ID)
	}
	t.staged[account.ID] = *account
	return nil
}

func (t *accountTx) ListOpenWithPositiveHold(_ context.Context) ([]string, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()

	var ids []string
	for id, rw := range t.repo.rows {
		if rw.account.IsOpen() && rw.account.Hold.IsPositive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *accountTx) acquire(ctx context.Context, rw *row) error {
	select {
	case rw.lock <- struct{}{}:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if t.repo.lockTimeout > 0 {
		timer := time.NewTimer(t.repo.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case rw.lock <- struct{}{}:
		return nil
	case <-timeout:
		return domain.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// current returns the value this transaction sees: its own staged write, or
// the committed row. Only valid while the row lock is held.
func (t *accountTx) current(id string, rw *row) domain.Account {
	if staged, ok := t.staged[id]; ok {
		return staged
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return rw.account
}

func (t *accountTx) commit() {
	t.repo.mu.Lock()
	for id, account := range t.staged {
		t.locked[id].account = account
	}
	t.repo.mu.Unlock()
	t.release()
}

func (t *accountTx) release() {
	for id, rw := range t.locked {
		<-rw.lock
		delete(t.locked, id)
	}
}
