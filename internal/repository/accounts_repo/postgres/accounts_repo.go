package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"ledger/internal/domain"
	"ledger/internal/repository/accounts_repo"
)

const accountColumns = `id, owner_name, balance, hold, status, created_at, updated_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type AccountRepository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewAccountRepository returns a PostgreSQL store. lockTimeout bounds every
// row lock wait through SET LOCAL lock_timeout; zero leaves the server default.
func NewAccountRepository(db *sql.DB, lockTimeout time.Duration) *AccountRepository {
	return &AccountRepository{db: db, lockTimeout: lockTimeout}
}

var _ accounts_repo.Store = (*AccountRepository)(nil)

func (r *AccountRepository) Get(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return getAccount(ctx, r.db, query, id)
}

func (r *AccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY owner_name, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", translateError(err))
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(
			&account.ID,
			&account.OwnerName,
			&account.Balance,
			&account.Hold,
			&account.Status,
			&account.CreatedAt,
			&account.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", translateError(err))
	}
	return accounts, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.OwnerName,
		account.Balance,
		account.Hold,
		account.Status,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", account.ID, translateError(err))
	}
	return nil
}

func (r *AccountRepository) WithTransaction(ctx context.Context, fn accounts_repo.TxFunc) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translateError(err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if r.lockTimeout > 0 {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set lock timeout: %w", translateError(err))
		}
	}

	if err := fn(ctx, &accountTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback failed (%v) after: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateError(err))
	}
	return nil
}

type accountTx struct {
	tx *sql.Tx
}

func (t *accountTx) LockAndGet(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return getAccount(ctx, t.tx, query, id)
}

func (t *accountTx) Save(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET balance = $1, hold = $2, status = $3, updated_at = $4
		WHERE id = $5
	`
	res, err := t.tx.ExecContext(ctx, query,
		account.Balance,
		account.Hold,
		account.Status,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", account.ID, translateError(err))
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *accountTx) ListOpenWithPositiveHold(ctx context.Context) ([]string, error) {
	query := `
		SELECT id
		FROM accounts
		WHERE status = $1 AND hold > 0
		ORDER BY id
		FOR UPDATE
	`
	rows, err := t.tx.QueryContext(ctx, query, domain.AccountStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts with hold: %w", translateError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts with hold: %w", translateError(err))
	}
	return ids, nil
}

func getAccount(ctx context.Context, q querier, query, id string) (*domain.Account, error) {
	account := &domain.Account{}
	err := q.QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.OwnerName,
		&account.Balance,
		&account.Hold,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account %s: %w", id, translateError(err))
	}
	return account, nil
}

// translateError maps driver failures onto the domain error taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "55P03":
			return fmt.Errorf("%w: %s", domain.ErrLockTimeout, pqErr.Message)
		case pqErr.Code == "23505":
			return domain.ErrAccountAlreadyExists
		case pqErr.Code.Class() == "08", pqErr.Code == "57P01", pqErr.Code == "53300":
			return fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, pqErr.Message)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}
