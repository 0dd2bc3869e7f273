package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"ledger/internal/domain"
	"ledger/internal/repository/accounts_repo"
)

const accountColumns = `id, owner_name, balance, hold, status, created_at, updated_at`

// DSN builds a go-sqlite3 data source name. Every transaction is opened with
// BEGIN IMMEDIATE, so it holds the database write lock from its first
// statement; lock waits are bounded by busyTimeout.
func DSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		path, busyTimeout.Milliseconds())
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AccountRepository stores accounts in SQLite. SQLite has no row locks: the
// write lock every transaction takes is a superset of them, which keeps the
// same-account ordering guarantee and serializes different accounts too.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

var _ accounts_repo.Store = (*AccountRepository)(nil)

func (r *AccountRepository) Get(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, r.db, id)
}

func (r *AccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY owner_name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", translateError(err))
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", translateError(err))
	}
	return accounts, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `INSERT INTO accounts (` + accountColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.OwnerName,
		account.Balance.StringFixed(domain.MoneyScale),
		account.Hold.StringFixed(domain.MoneyScale),
		string(account.Status),
		account.CreatedAt.UTC(),
		account.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create account %s: %w", account.ID, translateError(err))
	}
	return nil
}

func (r *AccountRepository) WithTransaction(ctx context.Context, fn accounts_repo.TxFunc) error {
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
	return getAccount(ctx, t.tx, id)
}

func (t *accountTx) Save(ctx context.Context, account *domain.Account) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, hold = ?, status = ?, updated_at = ? WHERE id = ?`,
		account.Balance.StringFixed(domain.MoneyScale),
		account.Hold.StringFixed(domain.MoneyScale),
		string(account.Status),
		account.UpdatedAt.UTC(),
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
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id FROM accounts WHERE status = ? AND CAST(hold AS REAL) > 0 ORDER BY id`,
		string(domain.AccountStatusOpen),
	)
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

func getAccount(ctx context.Context, q querier, id string) (*domain.Account, error) {
	row := q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account %s: %w", id, translateError(err))
	}
	return account, nil
}

func scanAccount(scan func(dest ...any) error) (*domain.Account, error) {
	account := &domain.Account{}
	var status string
	if err := scan(
		&account.ID,
		&account.OwnerName,
		&account.Balance,
		&account.Hold,
		&status,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	account.Status = domain.AccountStatus(status)
	return account, nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", domain.ErrLockTimeout, sqliteErr)
		case sqlite3.ErrConstraint:
			if sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return domain.ErrAccountAlreadyExists
			}
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrFull:
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, sqliteErr)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}
