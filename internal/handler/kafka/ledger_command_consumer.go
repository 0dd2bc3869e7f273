package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ledger/internal/app/ledger"
	"ledger/internal/domain"
	kafka_infra "ledger/internal/infrastructure/kafka"
)

const (
	CommandDeposit = "deposit"
	CommandReserve = "reserve"
)

// LedgerCommand is a Deposit or Reserve request delivered through Kafka.
type LedgerCommand struct {
	CommandID string `json:"command_id"`
	AccountID string `json:"account_id"`
	Operation string `json:"operation"`
	Amount    string `json:"amount"`
}

// LedgerCommandMessageHandler applies commands to the ledger. Malformed
// payloads and business rejections are dropped; any other error is returned
// so the consumer retries the command before moving on.
func LedgerCommandMessageHandler(service ledger.LedgerService, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		logger := logger.With(
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)

		var cmd LedgerCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			logger.Error("Failed to unmarshal ledger command", zap.Error(err), zap.ByteString("value", msg.Value))
			return nil
		}
		logger = logger.With(
			zap.String("command_id", cmd.CommandID),
			zap.String("account_id", cmd.AccountID),
			zap.String("operation", cmd.Operation),
		)

		if cmd.AccountID == "" {
			logger.Error("Ledger command without account id, dropping")
			return nil
		}
		amount, err := domain.ParseAmount(cmd.Amount)
		if err != nil {
			logger.Error("Ledger command with invalid amount, dropping", zap.String("amount", cmd.Amount), zap.Error(err))
			return nil
		}

		switch cmd.Operation {
		case CommandDeposit:
			_, err = service.Deposit(ctx, cmd.AccountID, amount)
		case CommandReserve:
			_, err = service.Reserve(ctx, cmd.AccountID, amount)
		default:
			logger.Error("Unknown ledger command operation, dropping")
			return nil
		}

		switch {
		case err == nil:
			logger.Info("Ledger command applied", zap.String("amount", amount.StringFixed(domain.MoneyScale)))
			return nil
		case domain.IsRejection(err):
			logger.Info("Ledger command rejected", zap.Error(err))
			return nil
		default:
			return fmt.Errorf("ledger command %s will be retried: %w", cmd.CommandID, err)
		}
	}
}
