package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger/internal/domain"
)

// Failure records an account the run could not settle. It is picked up
// again by the next run.
type Failure struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

// Report summarizes one sweep run.
type Report struct {
	RunID         string          `json:"run_id"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Candidates    int             `json:"candidates"`
	Settled       int             `json:"settled"`
	Unchanged     int             `json:"unchanged"`
	SkippedClosed int             `json:"skipped_closed"`
	LockTimeouts  int             `json:"lock_timeouts"`
	Failed        int             `json:"failed"`
	SettledTotal  decimal.Decimal `json:"settled_total"`
	Failures      []Failure       `json:"failures,omitempty"`
	Interrupted   bool            `json:"interrupted,omitempty"`
}

func (r *Report) fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", r.RunID),
		zap.Int("candidates", r.Candidates),
		zap.Int("settled", r.Settled),
		zap.Int("unchanged", r.Unchanged),
		zap.Int("skipped_closed", r.SkippedClosed),
		zap.Int("lock_timeouts", r.LockTimeouts),
		zap.Int("failed", r.Failed),
		zap.String("settled_total", r.SettledTotal.StringFixed(domain.MoneyScale)),
		zap.Duration("duration", r.FinishedAt.Sub(r.StartedAt)),
		zap.Bool("interrupted", r.Interrupted),
	}
}

// Reporter receives the report of every finished run.
type Reporter interface {
	Report(ctx context.Context, report *Report) error
}

// LogReporter writes run reports to the log only.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(_ context.Context, report *Report) error {
	r.logger.Info("Reconciliation report", report.fields()...)
	return nil
}
