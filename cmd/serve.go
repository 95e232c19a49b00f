package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/yourusername/gpay-checkout/audit"
	"github.com/yourusername/gpay-checkout/cache"
	"github.com/yourusername/gpay-checkout/checkout"
	"github.com/yourusername/gpay-checkout/config"
	"github.com/yourusername/gpay-checkout/gateway"
	"github.com/yourusername/gpay-checkout/handlers"
	"github.com/yourusername/gpay-checkout/ledger"
	"github.com/yourusername/gpay-checkout/notify"
	"github.com/yourusername/gpay-checkout/orders"
	"github.com/yourusername/gpay-checkout/reconciliation"
	"github.com/yourusername/gpay-checkout/refunds"
	"github.com/yourusername/gpay-checkout/routes"
	"github.com/yourusername/gpay-checkout/webhooks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}

	store, notifier, closeInfra, err := buildInfra(cfg, logger)
	if err != nil {
		return err
	}
	defer closeInfra()

	sink, closeAudit, err := buildAudit(cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := routes.NewRouter(buildHandlers(cfg, db, store, notifier, sink, logger), routes.Options{
		JWTSecret:     cfg.JWTSecret,
		CORSOrigins:   cfg.CORSOrigins,
		Cache:         store,
		WebhookLimit:  cfg.WebhookRateLimit,
		WebhookWindow: cfg.WebhookRateWindow,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting gpay-checkout API", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildInfra connects the cache and notification queue. Without REDIS_ADDR
// the service runs single-instance with an in-memory cache and no emails.
func buildInfra(cfg *config.Config, logger *zap.Logger) (cache.Store, notify.Notifier, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, using in-memory cache and disabling notifications")
		return cache.NewMemoryStore(), notify.Nop(), func() {}, nil
	}

	rdb, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, nil, err
	}
	client := asynq.NewClient(redisOpt(cfg))

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close queue client", zap.Error(err))
		}
		if err := rdb.Close(); err != nil {
			logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	return cache.NewRedisStore(rdb, "gpay:"), notify.NewQueueNotifier(client, logger), closeFn, nil
}

func buildAudit(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (audit.Sink, func(), error) {
	dbSink := audit.NewGormSink(db, logger)
	if len(cfg.KafkaBrokers) == 0 {
		return dbSink, func() {}, nil
	}

	producer, err := audit.NewKafkaProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, nil, err
	}
	kafkaSink := audit.NewKafkaSink(producer, cfg.AuditTopic, logger)
	closeFn := func() {
		if err := kafkaSink.Close(); err != nil {
			logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	return audit.Multi(dbSink, kafkaSink), closeFn, nil
}

func buildHandlers(cfg *config.Config, db *gorm.DB, store cache.Store, notifier notify.Notifier, sink audit.Sink, logger *zap.Logger) routes.Handlers {
	registry := gateway.NewRegistry(
		gateway.NewCardGateway(gateway.CardConfig{
			APIURL:        cfg.Card.APIURL,
			SecretKey:     cfg.Card.SecretKey,
			WebhookSecret: cfg.Card.WebhookSecret,
			Timeout:       cfg.GatewayTimeout,
		}),
		gateway.NewEFTGateway(gateway.EFTConfig{
			MerchantID:  cfg.EFT.MerchantID,
			MerchantKey: cfg.EFT.MerchantKey,
			Passphrase:  cfg.EFT.Passphrase,
			ProcessURL:  cfg.EFT.ProcessURL,
			APIURL:      cfg.EFT.APIURL,
			ReturnURL:   cfg.EFT.ReturnURL,
			CancelURL:   cfg.EFT.CancelURL,
			NotifyURL:   cfg.EFT.NotifyURL,
			Currency:    cfg.EFT.Currency,
			Timeout:     cfg.GatewayTimeout,
		}),
	)

	l := ledger.New(db, sink, logger)
	repo := orders.NewRepository()
	reconciler := reconciliation.NewService(reconciliation.NewEngine(), repo, logger)

	co := checkout.NewService(checkout.Deps{
		DB:             db,
		Registry:       registry,
		Ledger:         l,
		Orders:         repo,
		Reconciler:     reconciler,
		Notifier:       notifier,
		Cache:          store,
		LockTTL:        cfg.CheckoutLockTTL,
		GatewayTimeout: cfg.GatewayTimeout,
		Logger:         logger,
	})
	pipeline := webhooks.NewPipeline(webhooks.Deps{
		DB:         db,
		Registry:   registry,
		Ledger:     l,
		Reconciler: reconciler,
		Notifier:   notifier,
		Audit:      sink,
		Cache:      store,
		ReplayTTL:  cfg.WebhookReplayTTL,
		Logger:     logger,
	})
	coordinator := refunds.NewCoordinator(refunds.Deps{
		DB:             db,
		Registry:       registry,
		Ledger:         l,
		Reconciler:     reconciler,
		Notifier:       notifier,
		Audit:          sink,
		GatewayTimeout: cfg.GatewayTimeout,
		Logger:         logger,
	})

	return routes.Handlers{
		Checkout:     handlers.NewCheckoutHandler(co, logger),
		Webhooks:     handlers.NewWebhookHandler(pipeline, logger),
		Refunds:      handlers.NewRefundHandler(coordinator, logger),
		Transactions: handlers.NewTransactionHandler(l, co, logger),
		Auth:         handlers.NewAuthHandler(db, cfg, logger),
	}
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}
