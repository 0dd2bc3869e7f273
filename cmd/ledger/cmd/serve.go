package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ledger/internal/app/ledger"
	accounts_http "ledger/internal/handler/http/accounts"
	kafka_handler "ledger/internal/handler/kafka"
	kafka_infra "ledger/internal/infrastructure/kafka"
	redis_infra "ledger/internal/infrastructure/redis"
	"ledger/internal/reconcile"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the reconciliation scheduler and the optional command consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	a.logger.Info("Ledger service starting...")

	if err := a.openStore(ctx); err != nil {
		a.logger.Error("Failed to open account store", zap.Error(err))
		return err
	}

	ledgerService := ledger.NewLedgerService(a.store, a.logger.With(zap.String("component", "LedgerService")))

	var (
		reporter reconcile.Reporter = reconcile.NewLogReporter(a.logger.With(zap.String("component", "ReconciliationReporter")))
		producer kafka_infra.Producer
		consumer *kafka_infra.Consumer
	)
	if a.cfg.Kafka.Enabled {
		brokers := a.cfg.GetKafkaBrokers()
		topicsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := kafka_infra.EnsureTopics(topicsCtx, brokers, []string{a.cfg.Kafka.CommandsTopic, a.cfg.Kafka.ReportsTopic}, a.logger)
		cancel()
		if err != nil {
			a.logger.Error("Failed to ensure Kafka topics", zap.Error(err))
			return err
		}

		producer = kafka_infra.NewProducer(brokers, a.logger.With(zap.String("component", "KafkaProducer")))
		defer func() {
			if err := producer.Close(); err != nil {
				a.logger.Error("Error closing Kafka producer", zap.Error(err))
			}
		}()
		reporter = reconcile.NewKafkaReporter(producer, a.cfg.Kafka.ReportsTopic)

		consumer = kafka_infra.NewConsumer(
			brokers,
			a.cfg.Kafka.CommandsTopic,
			a.cfg.Kafka.ConsumerGroup,
			kafka_handler.LedgerCommandMessageHandler(ledgerService, a.logger.With(zap.String("component", "LedgerCommandHandler"))),
			a.logger.With(zap.String("component", "LedgerCommandConsumer")),
		)
	}

	sweeper := reconcile.NewSweeper(a.store, reporter, a.logger.With(zap.String("component", "Sweeper")))

	schedulerOpts := []reconcile.SchedulerOption{
		reconcile.WithRunOnStart(a.cfg.Sweep.RunOnStart),
		reconcile.WithRunTimeout(a.cfg.Sweep.RunTimeout),
	}
	if a.cfg.Redis.Enabled {
		client, err := redis_infra.NewClient(ctx, redis_infra.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			a.logger.Error("Failed to connect to redis", zap.Error(err))
			return err
		}
		defer func(client *goredis.Client) {
			if err := client.Close(); err != nil {
				a.logger.Error("Error closing redis client", zap.Error(err))
			}
		}(client)
		lock := redis_infra.NewSweepLock(client, a.cfg.Redis.LockKey, a.cfg.Redis.LockTTL, a.logger.With(zap.String("component", "SweepLock")))
		schedulerOpts = append(schedulerOpts, reconcile.WithLocker(lock))
	}
	scheduler := reconcile.NewScheduler(sweeper, a.cfg.Sweep.Interval, a.logger.With(zap.String("component", "ReconciliationScheduler")), schedulerOpts...)

	router := accounts_http.NewRouter(ledgerService, sweeper, accounts_http.RouterConfig{
		RequestTimeout: a.cfg.HTTP.RequestTimeout,
		AllowedOrigins: a.cfg.GetAllowedOrigins(),
	}, a.logger.With(zap.String("component", "HTTPHandler")))
	httpServer := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()

	if consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Consume(ctx); err != nil {
				a.logger.Error("Ledger command consumer failed", zap.Error(err))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down application...")
	case runErr = <-serverErr:
		a.logger.Error("HTTP server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		a.logger.Info("HTTP server gracefully shut down.")
	}
	scheduler.Stop(shutdownCtx)
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			a.logger.Error("Error closing ledger command consumer", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("Background workers did not stop before the shutdown timeout")
	}

	a.logger.Info("Application gracefully shut down.")
	return runErr
}
