package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger/internal/domain"
	"ledger/internal/repository/accounts_repo"
	"ledger/internal/util"
)

type LedgerService interface {
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Account, error)
	Reserve(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Account, error)
	Query(ctx context.Context, accountID string) (*AccountView, error)
	List(ctx context.Context) ([]AccountView, error)
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*domain.Account, error)
}

type CreateAccountRequest struct {
	OwnerName string
	Balance   decimal.Decimal
	Hold      decimal.Decimal
	Status    domain.AccountStatus
}

type ledgerService struct {
	store  accounts_repo.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewLedgerService(store accounts_repo.Store, logger *zap.Logger) LedgerService {
	return &ledgerService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (s *ledgerService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Account, error) {
	return s.mutate(ctx, OperationDeposit, accountID, amount, (*domain.Account).Deposit)
}

// Reserve validates balance >= hold + amount against the values read under
// the row lock, never against an earlier unlocked read.
func (s *ledgerService) Reserve(ctx context.Context, accountID string, amount decimal.Decimal) (*domain.Account, error) {
	return s.mutate(ctx, OperationReserve, accountID, amount, (*domain.Account).Reserve)
}

func (s *ledgerService) Query(ctx context.Context, accountID string) (*AccountView, error) {
	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		s.logResult(OperationStatus, accountID, decimal.Zero, err)
		return nil, fmt.Errorf("failed to query account %s: %w", accountID, err)
	}
	view := NewAccountView(account)
	return &view, nil
}

func (s *ledgerService) List(ctx context.Context) ([]AccountView, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list accounts", zap.Error(err))
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	views := make([]AccountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, NewAccountView(&accounts[i]))
	}
	return views, nil
}

func (s *ledgerService) CreateAccount(ctx context.Context, req CreateAccountRequest) (*domain.Account, error) {
	status := req.Status
	if status == "" {
		status = domain.AccountStatusOpen
	}
	account, err := domain.NewAccount(util.GenerateUUID(), req.OwnerName, req.Balance, req.Hold, status, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("invalid account: %w", err)
	}
	if err := s.store.Create(ctx, account); err != nil {
		s.logger.Error("Failed to create account", zap.String("owner_name", req.OwnerName), zap.Error(err))
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	s.logger.Info("Account created",
		zap.String("account_id", account.ID),
		zap.String("balance", account.Balance.StringFixed(domain.MoneyScale)),
		zap.String("hold", account.Hold.StringFixed(domain.MoneyScale)),
		zap.String("status", string(account.Status)),
	)
	return account, nil
}

type mutation func(a *domain.Account, amount decimal.Decimal, now time.Time) error

// mutate runs one ledger operation in a single transaction: lock the row,
// apply the domain rule against the locked value, save, commit.
func (s *ledgerService) mutate(ctx context.Context, op Operation, accountID string, amount decimal.Decimal, apply mutation) (*domain.Account, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		s.logResult(op, accountID, amount, err)
		return nil, err
	}

	var updated *domain.Account
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx accounts_repo.Tx) error {
		account, err := tx.LockAndGet(ctx, accountID)
		if err != nil {
			return err
		}
		if err := apply(account, amount, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.Save(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		s.logResult(op, accountID, amount, err)
		return nil, fmt.Errorf("%s on account %s: %w", op, accountID, err)
	}

	s.logger.Info("Ledger operation committed",
		zap.String("operation", string(op)),
		zap.String("account_id", accountID),
		zap.String("amount", amount.StringFixed(domain.MoneyScale)),
		zap.String("balance", updated.Balance.StringFixed(domain.MoneyScale)),
		zap.String("hold", updated.Hold.StringFixed(domain.MoneyScale)),
	)
	return updated, nil
}

func (s *ledgerService) logResult(op Operation, accountID string, amount decimal.Decimal, err error) {
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.String("account_id", accountID),
		zap.String("amount", amount.String()),
		zap.Error(err),
	}
	switch {
	case domain.IsRejection(err):
		s.logger.Info("Ledger operation rejected", fields...)
	case domain.IsRetryable(err):
		s.logger.Warn("Ledger operation failed transiently", fields...)
	default:
		s.logger.Error("Ledger operation failed", fields...)
	}
}
