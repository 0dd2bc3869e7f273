package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/domain"
	"ledger/internal/infrastructure/database"
	"ledger/internal/repository/accounts_repo"
)

func newTestStore(t *testing.T, busyTimeout time.Duration) (*AccountRepository, *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.NewSQLiteDB(context.Background(), DSN(path, busyTimeout))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db, database.DriverSQLite))
	return NewAccountRepository(db), db
}

func seed(t *testing.T, repo *AccountRepository, id, balance, hold string, status domain.AccountStatus) {
	t.Helper()
	a, err := domain.NewAccount(id, "owner "+id, decimal.RequireFromString(balance), decimal.RequireFromString(hold), status, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), a))
}

func TestAccountRepository_MigrateIsIdempotent(t *testing.T) {
	_, db := newTestStore(t, time.Second)
	assert.NoError(t, database.Migrate(db, database.DriverSQLite))
}

func TestAccountRepository_CreateGetList(t *testing.T) {
	repo, _ := newTestStore(t, time.Second)
	ctx := context.Background()

	seed(t, repo, "b", "1700.00", "300.00", domain.AccountStatusOpen)
	seed(t, repo, "a", "-12.50", "0", domain.AccountStatusClosed)

	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "owner b", got.OwnerName)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("1700")))
	assert.True(t, got.Hold.Equal(decimal.RequireFromString("300")))
	assert.Equal(t, domain.AccountStatusOpen, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	closed, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, closed.Balance.Equal(decimal.RequireFromString("-12.5")))
	assert.Equal(t, domain.AccountStatusClosed, closed.Status)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "a", accounts[0].ID)
	assert.Equal(t, "b", accounts[1].ID)
}

func TestAccountRepository_CreateDuplicate(t *testing.T) {
	repo, _ := newTestStore(t, time.Second)
	seed(t, repo, "a", "1", "0", domain.AccountStatusOpen)

	dup, err := domain.NewAccount("a", "someone", decimal.Zero, decimal.Zero, domain.AccountStatusOpen, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Create(context.Background(), dup), domain.ErrAccountAlreadyExists)
}

func TestAccountRepository_SaveCommitsAndRollsBack(t *testing.T) {
	repo, _ := newTestStore(t, time.Second)
	ctx := context.Background()
	seed(t, repo, "a", "100", "0", domain.AccountStatusOpen)

	require.NoError(t, repo.WithTransaction(ctx, func(ctx context.Context, tx accounts_repo.Tx) error {
		a, err := tx.LockAndGet(ctx, "a")
		if err != nil {
			return err
		}
		a.Hold = decimal.RequireFromString("40.25")
		return tx.Save(ctx, a)
	}))

	boom := errors.New("boom")
	err := repo.WithTransaction(ctx, func(ctx context.Context, tx accounts_repo.Tx) error {
		a, err := tx.LockAndGet(ctx, "a")
		require.NoError(t, err)
		a.Balance = decimal.Zero
		require.NoError(t, tx.Save(ctx, a))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, got.Hold.Equal(decimal.RequireFromString("40.25")))
}

func TestAccountRepository_SaveMissingAccount(t *testing.T) {
	repo, _ := newTestStore(t, time.Second)

	err := repo.WithTransaction(context.Background(), func(ctx context.Context, tx accounts_repo.Tx) error {
		return tx.Save(ctx, &domain.Account{ID: "missing", Status: domain.AccountStatusOpen, UpdatedAt: time.Now()})
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountRepository_ListOpenWithPositiveHold(t *testing.T) {
	repo, _ := newTestStore(t, time.Second)
	seed(t, repo, "c", "100", "0.01", domain.AccountStatusOpen)
	seed(t, repo, "a", "100", "5", domain.AccountStatusOpen)
	seed(t, repo, "b", "100", "0", domain.AccountStatusOpen)
	seed(t, repo, "d", "9999", "1", domain.AccountStatusClosed)

	var ids []string
	require.NoError(t, repo.WithTransaction(context.Background(), func(ctx context.Context, tx accounts_repo.Tx) error {
		var err error
		ids, err = tx.ListOpenWithPositiveHold(ctx)
		return err
	}))
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestAccountRepository_LockTimeout(t *testing.T) {
	repo, _ := newTestStore(t, 100*time.Millisecond)
	ctx := context.Background()
	seed(t, repo, "a", "100", "0", domain.AccountStatusOpen)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithTransaction(ctx, func(ctx context.Context, tx accounts_repo.Tx) error {
			if _, err := tx.LockAndGet(ctx, "a"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := repo.WithTransaction(ctx, func(ctx context.Context, tx accounts_repo.Tx) error {
		_, err := tx.LockAndGet(ctx, "a")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.True(t, domain.IsRetryable(err))

	close(release)
	require.NoError(t, <-done)
}
