package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/yourusername/gpay-checkout/config"
	"github.com/yourusername/gpay-checkout/notify"
	"go.uber.org/zap"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process payment notification tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			concurrency, _ := cmd.Flags().GetInt("concurrency")
			return runWorker(cfg, logger, concurrency)
		},
	}

	cmd.Flags().IntP("concurrency", "c", 10, "Concurrent notification tasks")
	return cmd
}

func runWorker(cfg *config.Config, logger *zap.Logger, concurrency int) error {
	if cfg.RedisAddr == "" {
		return errors.New("worker requires REDIS_ADDR")
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}

	srv := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency:    concurrency,
		Logger:         logger.Sugar(),
		RetryDelayFunc: notificationBackoff,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("notification task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	processor := notify.NewProcessor(db, notify.LogMailer{Logger: logger}, logger)
	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TaskPaymentNotification, processor.ProcessTask)

	logger.Info("notification worker started", zap.Int("concurrency", concurrency))
	return srv.Run(mux)
}

// notificationBackoff retries after 1, 3, 5, 10 and then 15 minutes. asynq
// passes the number of retries already made, so the first failure sees 0.
func notificationBackoff(n int, _ error, _ *asynq.Task) time.Duration {
	backoff := []time.Duration{1, 3, 5, 10, 15}
	if n < 0 {
		n = 0
	}
	if n < len(backoff) {
		return backoff[n] * time.Minute
	}
	return 15 * time.Minute
}
