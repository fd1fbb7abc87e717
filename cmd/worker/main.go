package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scorely/scorely/billing"
	"github.com/scorely/scorely/broker"
	"github.com/scorely/scorely/db"
	"github.com/scorely/scorely/external"
	"github.com/scorely/scorely/ledger"
	"github.com/scorely/scorely/subscription"
	"github.com/scorely/scorely/task"
	"github.com/scorely/scorely/tier"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	env := os.Getenv("API_ENV")
	production := "production" == env
	if production {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       !production,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "worker",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot attach sentry to logger",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	dbInstance, err := db.New(logger, os.Getenv("POSTGRES_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	catalog, err := tier.NewCatalog(tier.DefaultTiers(
		os.Getenv("STRIPE_PRICE_BASIC"),
		os.Getenv("STRIPE_PRICE_PRO"),
	))
	if err != nil {
		logger.Fatal("Cannot load tier catalog",
			zap.Error(err),
		)
	}

	quotaLocation := time.Local
	if tz := os.Getenv("QUOTA_TIMEZONE"); tz != "" {
		quotaLocation, err = time.LoadLocation(tz)
		if err != nil {
			logger.Fatal("Cannot load quota timezone",
				zap.Error(err),
			)
		}
	}

	ledgerManager, err := ledger.NewManager(logger, dbInstance, quotaLocation)
	if err != nil {
		logger.Fatal("Cannot initialize LedgerManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		StripeClient: stripeClient,
		DB:           dbInstance,
		Logger:       logger,
		Catalog:      catalog,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	reconciler, err := billing.NewReconciler(billing.ReconcilerOptions{
		Store:   subscriptionManager,
		Catalog: catalog,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Reconciler",
			zap.Error(err),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	billingTask, err := task.NewBillingTask(task.BillingOptions{
		Reconciler: reconciler,
		Consumer:   amqpBroker,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize BillingTask",
			zap.Error(err),
		)
	}
	if err := billingTask.HandleReconcile(ctx); err != nil {
		logger.Fatal("Cannot start billing reconcile task",
			zap.Error(err),
		)
	}

	sweepTask, err := task.NewSweepTask(task.SweepOptions{
		LedgerManager: ledgerManager,
		Interval:      time.Hour * 24,
		Retain:        time.Hour * 24 * 90,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SweepTask",
			zap.Error(err),
		)
	}
	sweepTask.HandleSweep(ctx)

	logger.Info("Worker running")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	logger.Info("Worker shutting down")
}
