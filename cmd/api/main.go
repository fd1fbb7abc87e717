package main

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/scorely/scorely/auth"
	"github.com/scorely/scorely/billing"
	"github.com/scorely/scorely/broker"
	"github.com/scorely/scorely/db"
	"github.com/scorely/scorely/entitlement"
	"github.com/scorely/scorely/external"
	"github.com/scorely/scorely/ledger"
	"github.com/scorely/scorely/subscription"
	"github.com/scorely/scorely/tier"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
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

	// Determine running environment and initialize structural logger
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

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       !production,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
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

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	catalog, err := loadCatalog()
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

	authManager, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
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

	resolver, err := entitlement.NewResolver(entitlement.ResolverOptions{
		Subscriptions: subscriptionManager,
		Usage:         ledgerManager,
		Catalog:       catalog,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Resolver",
			zap.Error(err),
		)
	}

	featureCache, err := entitlement.NewRedisFeatureCache(rdb, time.Minute*5)
	if err != nil {
		logger.Fatal("Cannot initialize FeatureCache",
			zap.Error(err),
		)
	}

	gate, err := entitlement.NewGate(entitlement.GateOptions{
		Resolver: resolver,
		Usage:    ledgerManager,
		Catalog:  catalog,
		Cache:    featureCache,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Gate",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		SubscriptionManager: subscriptionManager,
		Catalog:             catalog,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	entitlementRouter, err := entitlement.NewService(entitlement.ServiceOptions{
		Resolver: resolver,
		Gate:     gate,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Entitlement Service Router",
			zap.Error(err),
		)
	}

	webhookRouter, err := billing.NewService(billing.ServiceOptions{
		Publisher:     amqpBroker,
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{os.Getenv("SITE_URL")},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	rootRouter.Mount("/webhooks", webhookRouter.Router())

	rootRouter.Group(func(r chi.Router) {
		r.Use(authManager.Middleware())
		r.Mount("/subscriptions", subscriptionRouter.Router())
		r.Mount("/entitlements", entitlementRouter.Router())
	})

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Handler:      rootRouter,
		Addr:         addr,
		ReadTimeout:  time.Second * 15,
		WriteTimeout: time.Second * 15,
	}

	logger.Info("API listening",
		zap.String("Addr", addr),
	)
	log.Fatalln(srv.ListenAndServe())
}

// loadCatalog builds the tier catalog either from the configured JSON file or
// from the compiled-in defaults with price ids taken from the environment
func loadCatalog() (*tier.Catalog, error) {
	if path := os.Getenv("TIERS_JSON"); path != "" {
		tiers, err := tier.LoadTiersFromFile(path)
		if err != nil {
			return nil, err
		}
		return tier.NewCatalog(tiers)
	}
	return tier.NewCatalog(tier.DefaultTiers(
		os.Getenv("STRIPE_PRICE_BASIC"),
		os.Getenv("STRIPE_PRICE_PRO"),
	))
}
