package accounts_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"ledger/internal/domain"
)

type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "account-store",
		MaxRequests:         5,
		Interval:            3 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 10,
	}
}

// BreakerStore fails fast with domain.ErrStoreUnavailable while the wrapped
// store keeps failing at the infrastructure level. Business rejections and
// lock timeouts never count as failures.
type BreakerStore struct {
	next    Store
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerStore(next Store, cfg BreakerConfig, logger *zap.Logger) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Account store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: isExpectedOutcome,
	}
	return &BreakerStore{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

var _ Store = (*BreakerStore)(nil)

// isExpectedOutcome reports whether err says nothing about store health.
// Anything unclassified counts against the breaker.
func isExpectedOutcome(err error) bool {
	return err == nil ||
		domain.IsRejection(err) ||
		errors.Is(err, domain.ErrLockTimeout) ||
		errors.Is(err, domain.ErrAccountAlreadyExists) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *BreakerStore) State() gobreaker.State {
	return s.breaker.State()
}

func (s *BreakerStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	res, err := s.execute(func() (any, error) { return s.next.Get(ctx, id) })
	if err != nil {
		return nil, err
	}
	return res.(*domain.Account), nil
}

func (s *BreakerStore) List(ctx context.Context) ([]domain.Account, error) {
	res, err := s.execute(func() (any, error) { return s.next.List(ctx) })
	if err != nil {
		return nil, err
	}
	return res.([]domain.Account), nil
}

func (s *BreakerStore) Create(ctx context.Context, account *domain.Account) error {
	_, err := s.execute(func() (any, error) { return nil, s.next.Create(ctx, account) })
	return err
}

func (s *BreakerStore) WithTransaction(ctx context.Context, fn TxFunc) error {
	_, err := s.execute(func() (any, error) { return nil, s.next.WithTransaction(ctx, fn) })
	return err
}

func (s *BreakerStore) execute(fn func() (any, error)) (any, error) {
	res, err := s.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return res, err
}
