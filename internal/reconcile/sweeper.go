package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger/internal/domain"
	"ledger/internal/repository/accounts_repo"
	"ledger/internal/util"
)

const reportTimeout = 5 * time.Second

type outcome int

const (
	outcomeSettled outcome = iota
	outcomeUnchanged
	outcomeClosed
)

// Sweeper settles every open account's hold into its balance.
//
// Candidates come from a short snapshot transaction. Each candidate is then
// settled in its own transaction that locks the row and re-reads the hold,
// so a Reserve or Deposit committed after the snapshot is never lost and a
// hold is never subtracted twice. Only one row lock is held at a time.
type Sweeper struct {
	store    accounts_repo.Store
	reporter Reporter
	logger   *zap.Logger
	now      func() time.Time
}

func NewSweeper(store accounts_repo.Store, reporter Reporter, logger *zap.Logger) *Sweeper {
	if reporter == nil {
		reporter = NewLogReporter(logger)
	}
	return &Sweeper{
		store:    store,
		reporter: reporter,
		logger:   logger,
		now:      time.Now,
	}
}

// Run performs one sweep. It is synchronous, idempotent and safe to call
// concurrently with itself. A failing account is recorded and skipped; only
// a failure to read the candidate set, or ctx ending, makes Run return an
// error. The report is returned in every case.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:        util.GenerateUUID(),
		StartedAt:    s.now().UTC(),
		SettledTotal: decimal.Zero,
	}
	logger := s.logger.With(zap.String("run_id", report.RunID))
	logger.Debug("Starting reconciliation sweep")

	ids, err := s.candidates(ctx)
	if err != nil {
		report.FinishedAt = s.now().UTC()
		report.Interrupted = true
		logger.Error("Failed to select accounts with hold", zap.Error(err))
		s.publish(ctx, report)
		return report, fmt.Errorf("failed to select accounts with hold: %w", err)
	}
	report.Candidates = len(ids)
	logger.Debug("Selected accounts with hold", zap.Int("count", len(ids)))

	var runErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			report.Interrupted = true
			runErr = err
			break
		}

		settled, result, err := s.settle(ctx, id)
		switch {
		case err == nil && result == outcomeSettled:
			report.Settled++
			report.SettledTotal = report.SettledTotal.Add(settled)
		case err == nil && result == outcomeClosed:
			report.SkippedClosed++
		case err == nil:
			report.Unchanged++
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			report.Interrupted = true
			runErr = err
		case errors.Is(err, domain.ErrLockTimeout):
			report.LockTimeouts++
			report.Failures = append(report.Failures, Failure{AccountID: id, Reason: err.Error()})
			logger.Warn("Account locked past timeout, leaving it for the next run", zap.String("account_id", id), zap.Error(err))
		default:
			report.Failed++
			report.Failures = append(report.Failures, Failure{AccountID: id, Reason: err.Error()})
			logger.Error("Failed to settle account hold", zap.String("account_id", id), zap.Error(err))
		}
		if runErr != nil {
			break
		}
	}

	report.FinishedAt = s.now().UTC()
	logger.Info("Reconciliation sweep finished", report.fields()...)
	s.publish(ctx, report)

	if runErr != nil {
		return report, fmt.Errorf("reconciliation sweep interrupted: %w", runErr)
	}
	return report, nil
}

func (s *Sweeper) candidates(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx accounts_repo.Tx) error {
		var err error
		ids, err = tx.ListOpenWithPositiveHold(ctx)
		return err
	})
	return ids, err
}

// settle clears one account's hold under its row lock. The hold value used
// is the one read under the lock, not the snapshot's.
func (s *Sweeper) settle(ctx context.Context, id string) (decimal.Decimal, outcome, error) {
	settled := decimal.Zero
	result := outcomeUnchanged
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx accounts_repo.Tx) error {
		account, err := tx.LockAndGet(ctx, id)
		if err != nil {
			return err
		}
		if !account.IsOpen() {
			result = outcomeClosed
			return nil
		}
		if !account.Hold.IsPositive() {
			return nil
		}

		amount, err := account.SettleHold(s.now().UTC())
		if err != nil {
			return err
		}
		if err := tx.Save(ctx, account); err != nil {
			return err
		}
		settled = amount
		result = outcomeSettled
		return nil
	})
	if err != nil {
		return decimal.Zero, outcomeUnchanged, err
	}
	if result == outcomeSettled {
		s.logger.Debug("Settled account hold",
			zap.String("account_id", id),
			zap.String("amount", settled.StringFixed(domain.MoneyScale)),
		)
	}
	return settled, result, nil
}

func (s *Sweeper) publish(ctx context.Context, report *Report) {
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := s.reporter.Report(reportCtx, report); err != nil {
		s.logger.Error("Failed to publish reconciliation report", zap.String("run_id", report.RunID), zap.Error(err))
	}
}
