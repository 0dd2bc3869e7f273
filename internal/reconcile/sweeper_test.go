package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ledger/internal/app/ledger"
	"ledger/internal/domain"
	"ledger/internal/repository/accounts_repo"
	"ledger/internal/repository/accounts_repo/memory"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type captureReporter struct {
	mu      sync.Mutex
	reports []*Report
	err     error
}

func (r *captureReporter) Report(_ context.Context, report *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return r.err
}

func seed(t *testing.T, store accounts_repo.Store, id, balance, hold string, status domain.AccountStatus) {
	t.Helper()
	a, err := domain.NewAccount(id, "owner "+id, d(balance), d(hold), status, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), a))
}

func requireState(t *testing.T, store accounts_repo.Store, id, balance, hold string) {
	t.Helper()
	a, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(d(balance)), "account %s balance %s, want %s", id, a.Balance, balance)
	assert.True(t, a.Hold.Equal(d(hold)), "account %s hold %s, want %s", id, a.Hold, hold)
}

func TestSweeper_SettlesHolds(t *testing.T) {
	store := memory.NewAccountRepository(time.Second)
	seed(t, store, "A", "1700", "300", domain.AccountStatusOpen)
	seed(t, store, "B", "200", "200", domain.AccountStatusOpen)
	seed(t, store, "C", "10", "300", domain.AccountStatusOpen)
	seed(t, store, "D", "9999", "1", domain.AccountStatusClosed)
	seed(t, store, "E", "50", "0", domain.AccountStatusOpen)

	reporter := &captureReporter{}
	sweeper := NewSweeper(store, reporter, zaptest.NewLogger(t))

	report, err := sweeper.Run(context.Background())
	require.NoError(t, err)

	requireState(t, store, "A", "1400", "0")
	requireState(t, store, "B", "0", "0")
	requireState(t, store, "C", "-290", "0")
	requireState(t, store, "D", "9999", "1")
	requireState(t, store, "E", "50", "0")

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 3, report.Settled)
	assert.Zero(t, report.Failed)
	assert.True(t, report.SettledTotal.Equal(d("800")))
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	require.Len(t, reporter.reports, 1)
	assert.Same(t, report, reporter.reports[0])
}

func TestSweeper_IsIdempotent(t *testing.T) {
	store := memory.NewAccountRepository(time.Second)
	seed(t, store, "A", "1700", "300", domain.AccountStatusOpen)
	sweeper := NewSweeper(store, nil, zaptest.NewLogger(t))

	_, err := sweeper.Run(context.Background())
	require.NoError(t, err)

	report, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Zero(t, report.Settled)
	requireState(t, store, "A", "1400", "0")
}

func TestSweeper_EmptyStore(t *testing.T) {
	store := memory.NewAccountRepository(time.Second)
	report, err := NewSweeper(store, nil, zaptest.NewLogger(t)).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.True(t, report.SettledTotal.IsZero())
}

// closingStore closes an account between the candidate snapshot and its
// settlement transaction.
type closingStore struct {
	accounts_repo.Store
	closeID string
	once    sync.Once
}

func (s *closingStore) WithTransaction(ctx context.Context, fn accounts_repo.TxFunc) error {
	return s.Store.WithTransaction(ctx, func(ctx context.Context, tx accounts_repo.Tx) error {
		return fn(ctx, &closingTx{Tx: tx, store: s})
	})
}

type closingTx struct {
	accounts_repo.Tx
	store *closingStore
}

func (t *closingTx) LockAndGet(ctx context.Context, id string) (*domain.Account, error) {
	a, err := t.Tx.LockAndGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if id == t.store.closeID {
		t.store.once.Do(func() { a.Status = domain.AccountStatusClosed })
	}
	return a, nil
}

func TestSweeper_RereadsStateUnderLock(t *testing.T) {
	inner := memory.NewAccountRepository(time.Second)
	seed(t, inner, "A", "100", "10", domain.AccountStatusOpen)
	store := &closingStore{Store: inner, closeID: "A"}

	report, err := NewSweeper(store, nil, zaptest.NewLogger(t)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.SkippedClosed)
	assert.Zero(t, report.Settled)
	requireState(t, inner, "A", "100", "10")
}

func TestSweeper_SkipsLockedAccount(t *testing.T) {
	store := memory.NewAccountRepository(50 * time.Millisecond)
	seed(t, store, "A", "100", "10", domain.AccountStatusOpen)
	seed(t, store, "B", "100", "20", domain.AccountStatusOpen)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithTransaction(context.Background(), func(ctx context.Context, tx accounts_repo.Tx) error {
			if _, err := tx.LockAndGet(ctx, "A"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	report, err := NewSweeper(store, nil, zaptest.NewLogger(t)).Run(context.Background())
	close(release)
	require.NoError(t, <-done)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 1, report.Settled)
	assert.Equal(t, 1, report.LockTimeouts)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "A", report.Failures[0].AccountID)

	requireState(t, store, "A", "100", "10")
	requireState(t, store, "B", "80", "0")

	// The next run picks the skipped account up.
	report, err = NewSweeper(store, nil, zaptest.NewLogger(t)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)
	requireState(t, store, "A", "90", "0")
}

type failingStore struct {
	accounts_repo.Store
	err error
}

func (s *failingStore) WithTransaction(context.Context, accounts_repo.TxFunc) error {
	return s.err
}

func TestSweeper_CandidateSelectionFailure(t *testing.T) {
	store := &failingStore{
		Store: memory.NewAccountRepository(time.Second),
		err:   domain.ErrStoreUnavailable,
	}
	reporter := &captureReporter{}

	report, err := NewSweeper(store, reporter, zaptest.NewLogger(t)).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	require.NotNil(t, report)
	assert.True(t, report.Interrupted)
	assert.Len(t, reporter.reports, 1)
}

func TestSweeper_StopsWhenContextCancelled(t *testing.T) {
	store := memory.NewAccountRepository(time.Second)
	seed(t, store, "A", "100", "10", domain.AccountStatusOpen)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewSweeper(&cancellingStore{Store: store, cancel: cancel}, nil, zaptest.NewLogger(t))

	report, err := sweeper.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 1, report.Candidates)
	assert.Zero(t, report.Settled)
	requireState(t, store, "A", "100", "10")
}

// cancellingStore cancels the run right after the candidate snapshot.
type cancellingStore struct {
	accounts_repo.Store
	cancel context.CancelFunc
	calls  int
}

func (s *cancellingStore) WithTransaction(ctx context.Context, fn accounts_repo.TxFunc) error {
	err := s.Store.WithTransaction(ctx, fn)
	s.calls++
	if s.calls == 1 {
		s.cancel()
	}
	return err
}

func TestSweeper_ReporterErrorDoesNotFailRun(t *testing.T) {
	store := memory.NewAccountRepository(time.Second)
	seed(t, store, "A", "100", "10", domain.AccountStatusOpen)
	reporter := &captureReporter{err: errors.New("broker down")}

	report, err := NewSweeper(store, reporter, zaptest.NewLogger(t)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)
}

func TestSweeper_ConcurrentRunsSettleOnce(t *testing.T) {
	store := memory.NewAccountRepository(5 * time.Second)
	seed(t, store, "A", "1700", "300", domain.AccountStatusOpen)
	seed(t, store, "B", "200", "200", domain.AccountStatusOpen)
	sweeper := NewSweeper(store, nil, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sweeper.Run(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	requireState(t, store, "A", "1400", "0")
	requireState(t, store, "B", "0", "0")
}

func TestSweeper_ConcurrentReserveIsNeverLost(t *testing.T) {
	for i := 0; i < 50; i++ {
		store := memory.NewAccountRepository(5 * time.Second)
		seed(t, store, "A", "100", "50", domain.AccountStatusOpen)
		svc := ledger.NewLedgerService(store, zaptest.NewLogger(t))
		sweeper := NewSweeper(store, nil, zaptest.NewLogger(t))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), "A", d("10"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := sweeper.Run(context.Background())
			assert.NoError(t, err)
		}()
		wg.Wait()

		a, err := store.Get(context.Background(), "A")
		require.NoError(t, err)
		settledFirst := a.Balance.Equal(d("50")) && a.Hold.Equal(d("10"))
		reservedFirst := a.Balance.Equal(d("40")) && a.Hold.IsZero()
		assert.True(t, settledFirst || reservedFirst, "unexpected state balance=%s hold=%s", a.Balance, a.Hold)
		assert.True(t, a.Available().Equal(d("40")))
	}
}

func TestSweeper_ConcurrentDepositIsNeverLost(t *testing.T) {
	for i := 0; i < 50; i++ {
		store := memory.NewAccountRepository(5 * time.Second)
		seed(t, store, "A", "100", "30", domain.AccountStatusOpen)
		svc := ledger.NewLedgerService(store, zaptest.NewLogger(t))
		sweeper := NewSweeper(store, nil, zaptest.NewLogger(t))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Deposit(context.Background(), "A", d("25"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := sweeper.Run(context.Background())
			assert.NoError(t, err)
		}()
		wg.Wait()

		// seed 100 + deposit 25 - hold 30, whichever commits first.
		requireState(t, store, "A", "95", "0")
	}
}

func TestSweeper_ConcurrentReserveOnFullHold(t *testing.T) {
	for i := 0; i < 50; i++ {
		store := memory.NewAccountRepository(5 * time.Second)
		seed(t, store, "A", "100", "100", domain.AccountStatusOpen)
		svc := ledger.NewLedgerService(store, zaptest.NewLogger(t))
		sweeper := NewSweeper(store, nil, zaptest.NewLogger(t))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), "A", d("10"))
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
		go func() {
			defer wg.Done()
			_, err := sweeper.Run(context.Background())
			assert.NoError(t, err)
		}()
		wg.Wait()

		requireState(t, store, "A", "0", "0")
	}
}
