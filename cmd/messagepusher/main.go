// Command messagepusher is the unified message push gateway process: it
// brings up the embedded store, the dispatch engine's task queue and
// scheduler, and the HTTP ingress layer as one supervised set of
// components, per spec §4.7.
package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"messagepusher/internal/api"
	"messagepusher/internal/config"
	"messagepusher/internal/dispatch"
	"messagepusher/internal/errorledger"
	"messagepusher/internal/eventbus"
	"messagepusher/internal/observability"
	"messagepusher/internal/queue"
	"messagepusher/internal/ratelimit"
	"messagepusher/internal/scheduler"
	"messagepusher/internal/store"
	"messagepusher/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("messagepusher: load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("messagepusher: build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}

	credentials := store.NewCredentialRepo(st)
	channels := store.NewChannelRepo(st)
	aiChannels := store.NewAIChannelRepo(st)
	messages := store.NewMessageRepo(st)
	attempts := store.NewAttemptRepo(st)
	aiAttempts := store.NewAIAttemptRepo(st)
	sysConfig := store.NewSystemConfigRepo(st)

	bus := eventbus.Disabled(logger)
	if cfg.NATSURL != "" {
		bus, err = eventbus.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("eventbus connect failed, continuing without it", zap.Error(err))
			bus = eventbus.Disabled(logger)
		}
	}

	ledger := errorledger.New(cfg.ErrorLedgerMaxHistory)
	ledger.RegisterHook(func(rec errorledger.Record) {
		bus.Publish(eventbus.SubjectErrorLedger, eventbus.Event{
			Type: string(rec.Severity), Subject: rec.Source, Detail: rec.Message,
		})
	})

	q := queue.New(cfg.WorkerPoolSize, logger)
	q.SetEventBus(bus)
	q.SetRetryBaseDelay(cfg.RetryBaseDelay)

	clients := dispatch.NewClients(cfg.URLFetchTimeout)
	handlers := dispatch.New(channels, aiChannels, messages, attempts, aiAttempts, clients, logger)
	handlers.SetLedger(ledger)
	handlers.SetLimits(cfg.URLFetchTimeout, cfg.MaxContentBytes)
	q.RegisterHandler(queue.TypeSendMessage, handlers.SendMessage)
	q.RegisterHandler(queue.TypeAIProcess, handlers.AIProcess)
	q.RegisterHandler(queue.TypeURLFetch, handlers.URLFetch)
	q.RegisterHandler(queue.TypeSystemMaintenance, handlers.SystemMaintenance)

	maintCfg := dispatch.MaintenanceConfig{
		StuckThreshold:   time.Duration(cfg.StuckThresholdSeconds) * time.Second,
		TaskPurgeAge:     time.Duration(cfg.TaskPurgeAgeSeconds) * time.Second,
		AttemptRetention: time.Duration(cfg.AttemptRetentionDays) * 24 * time.Hour,
		RetryBatchLimit:  200,
	}
	maintenance := dispatch.NewMaintenance(maintCfg, st, attempts, aiAttempts, q, metrics, logger)
	maintenance.Register(handlers)

	sched := scheduler.New(scheduler.Config{
		CleanupInterval: time.Duration(cfg.CleanupIntervalSeconds) * time.Second,
		RetryInterval:   time.Duration(cfg.RetryIntervalSeconds) * time.Second,
		StatsInterval:   time.Duration(cfg.StatsIntervalSeconds) * time.Second,
		DBMaintenanceAt: time.Date(0, 1, 1, 2, 0, 0, 0, time.Local),
	}, q, logger)

	var limiter *ratelimit.Limiter
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, rate limiting disabled", zap.Error(err))
		} else {
			redisClient = redis.NewClient(opts)
			limiter = ratelimit.New(redisClient, cfg.RateLimitRPS, cfg.RateLimitBurst)
		}
	}

	apiHandlers := api.NewHandlers(st, credentials, channels, aiChannels, messages, attempts, aiAttempts, q, limiter, metrics, logger)
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("unhandled fiber error", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"code": api.CodeInternal, "message": "internal error", "data": nil})
		},
	})
	api.SetupRoutes(app, logger, metrics, apiHandlers)

	sup := supervisor.New(logger,
		storeComponent(st, sysConfig, attempts, aiAttempts, cfg),
		queueComponent(q),
		schedulerComponent(sched),
		httpComponent(app, cfg.Port, logger),
		eventBusComponent(bus),
		redisComponent(redisClient),
	)

	ctx := context.Background()
	if err := sup.Run(ctx); err != nil {
		logger.Fatal("supervisor run failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Env == "development" {
		return observability.NewDevelopmentLogger(), nil
	}
	return observability.NewLogger(cfg.LogLevel)
}

// storeComponent runs migrations and seeds SystemConfig at Configure,
// applies any SystemConfig overrides onto cfg, and closes the database
// handle on Stop (last, since every other component depends on it).
func storeComponent(st *store.Store, sysConfig *store.SystemConfigRepo, attempts *store.AttemptRepo, aiAttempts *store.AIAttemptRepo, cfg *config.Config) *supervisor.FuncComponent {
	return &supervisor.FuncComponent{
		NameStr: "store",
		ConfigureFn: func(ctx context.Context) error {
			if err := st.RunMigrations(); err != nil {
				return err
			}
			if err := sysConfig.SeedDefaults(ctx); err != nil {
				return err
			}
			if err := applySystemConfigOverlay(ctx, sysConfig, cfg); err != nil {
				return err
			}
			attempts.SetDefaultMaxRetries(cfg.MaxRetryCount)
			aiAttempts.SetDefaultMaxRetries(cfg.MaxRetryCount)
			return nil
		},
		StopFn: func(ctx context.Context) error { return st.Close() },
	}
}

// applySystemConfigOverlay lets the store's system_config table override
// the in-process env-derived defaults, per spec §4.7 ("read SystemConfig
// overrides"). A key absent from the table, or left at a value envconfig
// already set identically, is simply skipped.
func applySystemConfigOverlay(ctx context.Context, sysConfig *store.SystemConfigRepo, cfg *config.Config) error {
	if v, err := sysConfig.Get(ctx, "max_retry_count"); err == nil {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			cfg.MaxRetryCount = n
		}
	}
	if v, err := sysConfig.Get(ctx, "retry_interval"); err == nil {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			cfg.RetryIntervalSeconds = n
		}
	}
	return nil
}

func queueComponent(q *queue.TaskQueue) *supervisor.FuncComponent {
	return &supervisor.FuncComponent{
		NameStr: "task_queue",
		StartFn: func(ctx context.Context) error { q.Start(ctx); return nil },
		StopFn:  func(ctx context.Context) error { q.Stop(); return nil },
	}
}

func schedulerComponent(s *scheduler.Scheduler) *supervisor.FuncComponent {
	return &supervisor.FuncComponent{
		NameStr: "scheduler",
		StartFn: func(ctx context.Context) error { s.Start(ctx); return nil },
		StopFn:  func(ctx context.Context) error { s.Stop(); return nil },
	}
}

func eventBusComponent(b *eventbus.Bus) *supervisor.FuncComponent {
	return &supervisor.FuncComponent{
		NameStr: "event_bus",
		StopFn:  func(ctx context.Context) error { b.Close(); return nil },
	}
}

func redisComponent(c *redis.Client) *supervisor.FuncComponent {
	return &supervisor.FuncComponent{
		NameStr: "redis",
		StopFn: func(ctx context.Context) error {
			if c == nil {
				return nil
			}
			return c.Close()
		},
	}
}

// httpComponent wraps the fiber app's Listen/Shutdown as a Component.
// Start launches the server in a background goroutine and returns
// immediately; a failure to bind is logged (fiber has no synchronous
// "bound successfully" signal short of a readiness probe, which /readyz
// already provides).
func httpComponent(app *fiber.App, port string, logger *zap.Logger) *supervisor.FuncComponent {
	return &supervisor.FuncComponent{
		NameStr: "http_server",
		StartFn: func(ctx context.Context) error {
			go func() {
				if err := app.Listen(fmt.Sprintf(":%s", port)); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		StopFn: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return app.ShutdownWithContext(shutdownCtx)
		},
	}
}
