package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	discussionapp "github.com/erp/servicebus/internal/application/discussion"
	"github.com/erp/servicebus/internal/application/enrichment"
	identityapp "github.com/erp/servicebus/internal/application/identity"
	"github.com/erp/servicebus/internal/application/resolver"
	"github.com/erp/servicebus/internal/domain/discussion"
	"github.com/erp/servicebus/internal/domain/identity"
	"github.com/erp/servicebus/internal/domain/shared"
	"github.com/erp/servicebus/internal/infrastructure/cache"
	"github.com/erp/servicebus/internal/infrastructure/config"
	"github.com/erp/servicebus/internal/infrastructure/logger"
	"github.com/erp/servicebus/internal/infrastructure/messaging"
	"github.com/erp/servicebus/internal/infrastructure/migration"
	"github.com/erp/servicebus/internal/infrastructure/persistence"
	"github.com/erp/servicebus/internal/infrastructure/requestreply"
	"github.com/erp/servicebus/internal/infrastructure/telemetry"
	"github.com/erp/servicebus/migrations"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// userReply is the reply type of a user-info batch lookup
type userReply = shared.BatchReply[identity.UserInfo]

func main() {
	demo := flag.Bool("demo", false, "seed demo users and enrich a sample thread after startup")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()
	logCfg := logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}

	// The bootstrap logger reports telemetry setup; the final logger also
	// feeds the OTLP log bridge.
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	log, err := logger.New(logCfg, tel.ZapCore(logger.ParseLevel(cfg.Log.Level)))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting servicebus",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("broker", cfg.Messaging.Driver),
		zap.Bool("resolver", cfg.Messaging.ResolverEnabled),
	)

	meter := tel.Meter()

	// Database
	if cfg.Database.AutoMigrate {
		if err := migration.Apply(&cfg.Database, migrations.FS, log); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	dbPlugin, err := telemetry.NewDBPlugin(telemetry.DBConfig{
		TracingEnabled:     cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:         cfg.Telemetry.DBLogFullSQL,
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:           dbSystem(cfg.Database.Driver),
	}, meter, log)
	if err != nil {
		log.Fatal("Failed to create database telemetry", zap.Error(err))
	}
	db, err := persistence.NewDatabase(&cfg.Database,
		persistence.WithZapLogger(log, logger.GormConfig{
			Level:         cfg.Log.Level,
			SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
			FullSQL:       cfg.Telemetry.DBLogFullSQL,
		}),
		persistence.WithPlugins(dbPlugin),
	)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected", zap.String("driver", cfg.Database.Driver))
	poolMetrics, err := db.RegisterPoolMetrics(meter)
	if err != nil {
		log.Fatal("Failed to register database pool metrics", zap.Error(err))
	}

	// Redis backs the broker, idempotency store and record cache when the
	// redis driver is selected; the memory driver keeps everything in process.
	var redisClient *redis.Client
	if cfg.Messaging.Driver == "redis" {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	var broker shared.Broker
	if redisClient != nil {
		broker = messaging.NewRedisBroker(redisClient, log, messaging.WithChannelPrefix(cfg.Redis.KeyPrefix))
	} else {
		broker = messaging.NewInMemoryBroker(log)
	}

	// Request/reply plumbing for user-info lookups
	rrMetrics, err := telemetry.NewRequestReplyMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create request/reply metrics", zap.Error(err))
	}
	pending := requestreply.NewPendingRegistry[userReply](log)
	replies := requestreply.NewReplySubscriber[userReply](cfg.Messaging.ReplyDestination, pending, log,
		requestreply.WithSubscriberMetrics(rrMetrics),
	)
	if err := replies.Bind(broker); err != nil {
		log.Fatal("Failed to bind reply subscriber", zap.Error(err))
	}
	publisher := requestreply.NewRequestPublisher(broker, cfg.Messaging.ReplyDestination, log,
		requestreply.WithSource(cfg.App.Name),
		requestreply.WithPublisherMetrics(rrMetrics),
	)
	requester := requestreply.NewRequester[userReply](pending, publisher, log,
		requestreply.WithRequesterMetrics(rrMetrics),
	)

	// User directory resolver
	directory := persistence.NewGormUserDirectoryRepository(db.DB)
	var idempotencyStore shared.IdempotencyStore
	if cfg.Messaging.ResolverEnabled {
		deliveryMetrics, err := telemetry.NewDeliveryMetrics(meter)
		if err != nil {
			log.Fatal("Failed to create delivery metrics", zap.Error(err))
		}
		if cfg.Messaging.IdempotencyEnabled {
			idempotencyStore = cache.NewIdempotencyStore(redisClient, cfg.Redis.KeyPrefix, log)
		}
		directoryService := identityapp.NewUserDirectoryService(directory, broker, resolver.Config{
			Destination:    cfg.Messaging.UserRequestDestination,
			DefaultReplyTo: cfg.Messaging.ReplyDestination,
			LookupTimeout:  cfg.Messaging.LookupTimeout,
		}, log)
		err = directoryService.Bind(broker, idempotencyStore,
			messaging.WithClaimTTL(cfg.Messaging.IdempotencyTTL),
			messaging.WithDeliveryMetrics(deliveryMetrics),
		)
		if err != nil {
			log.Fatal("Failed to bind user directory resolver", zap.Error(err))
		}
		log.Info("User directory resolver bound", zap.String("destination", directoryService.Destination()))
	}

	// Discussion author enricher
	policy, err := enrichment.ParseFailurePolicy(cfg.Messaging.FailurePolicy)
	if err != nil {
		log.Fatal("Invalid failure policy", zap.Error(err))
	}
	enrichMetrics, err := enrichment.NewOTelMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create enrichment metrics", zap.Error(err))
	}
	enrichOpts := []enrichment.Option[string, identity.UserInfo]{
		enrichment.WithMetrics[string, identity.UserInfo](enrichMetrics),
	}
	var memoryCache *cache.InMemoryRecordCache[string, identity.UserInfo]
	if cfg.Messaging.CacheEnabled {
		var recordCache enrichment.RecordCache[string, identity.UserInfo]
		if redisClient != nil {
			recordCache = cache.NewRedisRecordCache[string, identity.UserInfo](redisClient, cfg.Redis.KeyPrefix+cache.UserKeySpace, cfg.Messaging.CacheTTL, log)
		} else {
			memoryCache = cache.NewInMemoryRecordCache[string, identity.UserInfo](cfg.Messaging.CacheTTL)
			recordCache = memoryCache
		}
		enrichOpts = append(enrichOpts, enrichment.WithCache[string, identity.UserInfo](recordCache))
	}
	authors, err := discussionapp.NewAuthorEnricher(discussionapp.AuthorEnricherConfig{
		Destination:   cfg.Messaging.UserRequestDestination,
		Timeout:       cfg.Messaging.RequestTimeout,
		FailurePolicy: policy,
	}, requester, log, enrichOpts...)
	if err != nil {
		log.Fatal("Failed to create author enricher", zap.Error(err))
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := broker.Start(runCtx); err != nil {
		log.Fatal("Failed to start broker", zap.Error(err))
	}
	log.Info("Broker started",
		zap.String("reply_destination", replies.Destination()),
		zap.String("request_destination", cfg.Messaging.UserRequestDestination),
	)

	if *demo {
		if err := runDemo(runCtx, directory, authors, log); err != nil {
			log.Error("Demo failed", zap.Error(err))
		}
	}

	<-runCtx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := broker.Stop(shutdownCtx); err != nil {
		log.Error("Broker stop failed", zap.Error(err))
	}
	if memoryCache != nil {
		_ = memoryCache.Close()
	}
	if idempotencyStore != nil {
		_ = idempotencyStore.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis", zap.Error(err))
		}
	}
	_ = poolMetrics.Unregister()
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	log.Info("Server exited gracefully")
	if err := tel.Shutdown(shutdownCtx); err != nil {
		bootLog.Error("Telemetry shutdown failed", zap.Error(err))
	}
}

func dbSystem(driver string) string {
	if driver == "sqlite" {
		return "sqlite"
	}
	return "postgresql"
}

// runDemo seeds a few users and enriches a three-level thread through the
// broker, logging what came back
func runDemo(ctx context.Context, directory identity.UserDirectory, authors *discussionapp.AuthorEnricher, log *zap.Logger) error {
	users := []identity.UserInfo{
		{ID: "u-alice", Username: "alice", DisplayName: "Alice"},
		{ID: "u-bob", Username: "bob", DisplayName: "Bob"},
		{ID: "u-carol", Username: "carol", DisplayName: "Carol"},
	}
	for _, u := range users {
		if err := directory.Save(ctx, u); err != nil {
			return err
		}
	}

	comment, err := discussion.NewComment("article-1", "u-alice", "first!")
	if err != nil {
		return err
	}
	reply, err := comment.AddReply("u-bob", "welcome")
	if err != nil {
		return err
	}
	if _, err := reply.AddSubReply("u-carol", "u-bob", "thanks bob"); err != nil {
		return err
	}
	if _, err := reply.AddSubReply("u-ghost", "u-carol", "who am I"); err != nil {
		return err
	}

	if _, err := authors.EnrichOne(ctx, comment); err != nil {
		return err
	}

	log.Info("Demo comment enriched", zap.String("author", comment.Author.Username))
	for _, r := range comment.Replies {
		log.Info("Demo reply enriched", zap.String("author", r.Author.Username))
		for _, sr := range r.SubReplies {
			log.Info("Demo sub-reply enriched",
				zap.String("author_id", sr.AuthorID),
				zap.String("author", sr.Author.Username),
				zap.String("reply_to", sr.ReplyToUser.Username),
			)
		}
	}
	return nil
}
