package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"duka/internal/app"
	"duka/internal/callback"
	"duka/internal/config"
	"duka/internal/handler"
	"duka/internal/logger"
	"duka/internal/middleware"
	"duka/internal/mpesa"
	internalRedis "duka/internal/redis"
	"duka/internal/repository/postgres"
	"duka/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		Service:   "duka-orders",
		Env:       cfg.Log.Env,
		Level:     cfg.Log.Level,
		AddSource: cfg.Log.AddSource,
	})

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server exited")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Warn("new relic disabled", "error", err)
		} else {
			log.Info("new relic enabled", "app", cfg.NewRelic.AppName)
			defer nrApp.Shutdown(5 * time.Second)
		}
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := app.NewDatabase(startCtx, cfg.Database, nrApp, log)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to postgres", "host", cfg.Database.Host, "db", cfg.Database.DBName)

	redisClient, err := app.NewRedisClient(startCtx, cfg.Redis, nrApp)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	log.Info("connected to redis", "addr", cfg.Redis.Addr)

	w, err := wire(db, redisClient, nrApp, cfg, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Reconcile.PollerEnabled {
		g.Go(func() error {
			return w.poller.Run(gctx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				w.limiter.Cleanup()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := w.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if w.simulator != nil {
			w.simulator.Wait()
		}
		if err := w.notifications.Wait(shutdownCtx); err != nil {
			log.Warn("notifications still in flight at shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// wired holds the long-running parts main has to start and stop.
type wired struct {
	server        *http.Server
	poller        *service.Poller
	notifications *service.NotificationService
	limiter       *middleware.RateLimiter
	simulator     *mpesa.Simulator
}

// wire wires all dependencies.
func wire(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, log *slog.Logger) (*wired, error) {
	// Initialize Redis stores.
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	// Initialize repositories.
	uow := postgres.NewUnitOfWork(db)
	orderRepo := postgres.NewOrderRepository(db)
	txnRepo := postgres.NewTransactionRepository(db)
	catalogRepo := postgres.NewCatalogRepository(db)
	promoRepo := postgres.NewPromoRepository(db)
	tierRepo := postgres.NewDeliveryTierRepository(db)

	// Payment gateway.
	var gateway service.Gateway
	var simulator *mpesa.Simulator
	if cfg.MPesa.Simulate {
		simulator = mpesa.NewSimulator(log, 3*time.Second, true)
		gateway = simulator
		log.Warn("mpesa simulator enabled; no real payments will be taken")
	} else {
		gateway = mpesa.NewClient(mpesa.Config{
			BaseURL:          cfg.MPesa.BaseURL,
			ConsumerKey:      cfg.MPesa.ConsumerKey,
			ConsumerSecret:   cfg.MPesa.ConsumerSecret,
			ShortCode:        cfg.MPesa.ShortCode,
			PassKey:          cfg.MPesa.PassKey,
			TransactionType:  cfg.MPesa.TransactionType,
			AccountReference: cfg.MPesa.AccountReference,
			Timeout:          cfg.MPesa.RequestTimeout,
		})
	}
	signer := callback.NewSigner(cfg.Callback.TokenSecret, cfg.Callback.TokenTTL, cfg.Callback.BaseURL)

	// Notifications.
	var notifier service.Notifier = service.NewLogNotifier(log)
	if cfg.Notification.WebhookURL != "" {
		notifier = service.NewHTTPNotifier(cfg.Notification.WebhookURL, cfg.Notification.Timeout)
	}
	notifications := service.NewNotificationService(notifier, cfg.Notification.Timeout, log)

	// Initialize services.
	deliveryService := service.NewDeliveryService(tierRepo, cacheStore, log)
	promoService := service.NewPromoService(promoRepo)
	orderService := service.NewOrderService(catalogRepo, uow, deliveryService, promoService, service.OrderConfig{
		MaxLineQuantity: cfg.Checkout.MaxLineQuantity,
		MaxLines:        cfg.Checkout.MaxLines,
	}, log)
	paymentService := service.NewPaymentService(orderRepo, txnRepo, gateway, signer, lockStore, cacheStore, service.PaymentConfig{
		CallbackWindow: cfg.Reconcile.CallbackWindow,
		LockTTL:        cfg.Reconcile.LockTTL,
	}, log)
	reconciler := service.NewReconciler(txnRepo, uow, lockStore, cacheStore, notifications, service.ReconcilerConfig{
		LockTTL:        cfg.Reconcile.LockTTL,
		LockWait:       cfg.Reconcile.LockWait,
		LookupAttempts: cfg.Reconcile.LookupAttempts,
		LookupBackoff:  cfg.Reconcile.LookupBackoff,
	}, log)
	poller := service.NewPoller(txnRepo, gateway, reconciler, service.PollerConfig{
		Interval:         cfg.Reconcile.PollInterval,
		CallbackWindow:   cfg.Reconcile.CallbackWindow,
		ExpireAfter:      cfg.Reconcile.ExpireAfter,
		BatchSize:        cfg.Reconcile.PollBatchSize,
		QueriesPerSecond: cfg.MPesa.StatusQueryPerSec,
	}, log)
	statusService := service.NewStatusService(orderRepo, txnRepo, cacheStore, log)
	adminService := service.NewAdminService(uow, orderRepo, cacheStore, notifications, log)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	router, err := app.NewRouter(app.RouterDeps{
		OrderHandler:    handler.NewOrderHandler(orderService, paymentService, statusService),
		PaymentHandler:  handler.NewPaymentHandler(reconciler, log),
		AdminHandler:    handler.NewAdminHandler(adminService, statusService, poller),
		DeliveryHandler: handler.NewDeliveryHandler(deliveryService),
		PromoHandler:    handler.NewPromoHandler(promoService),
		Signer:          signer,
		CacheStore:      cacheStore,
		RateLimiter:     limiter,
		NewRelicApp:     nrApp,
		Config:          cfg,
		Log:             log,
	})
	if err != nil {
		return nil, err
	}

	return &wired{
		server: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		poller:        poller,
		notifications: notifications,
		limiter:       limiter,
		simulator:     simulator,
	}, nil
}
