package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/btall/core-africare-identity-sub001/internal/config"
	"github.com/btall/core-africare-identity-sub001/internal/dispatcher"
	"github.com/btall/core-africare-identity-sub001/internal/handlers"
	"github.com/btall/core-africare-identity-sub001/internal/logging"
	"github.com/btall/core-africare-identity-sub001/internal/notifier"
	"github.com/btall/core-africare-identity-sub001/internal/quarantine"
	"github.com/btall/core-africare-identity-sub001/internal/repository"
	"github.com/btall/core-africare-identity-sub001/internal/router"
	"github.com/btall/core-africare-identity-sub001/internal/server"
	"github.com/btall/core-africare-identity-sub001/internal/stream"
	"github.com/btall/core-africare-identity-sub001/internal/verifier"
	"github.com/btall/core-africare-identity-sub001/pkg/lifecycle"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)
	logger = logger.With(logging.Service("identity-sub"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis: durable log and quarantine
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	eventLog := stream.New(redisClient, stream.Options{
		Stream:           cfg.Pipeline.Stream,
		Group:            cfg.Pipeline.GroupName,
		ClaimIdleTimeout: cfg.Pipeline.ClaimIdleTimeout,
		BaseBackoff:      cfg.Pipeline.BaseBackoff,
		BackoffCap:       cfg.Pipeline.BackoffCap,
		BlockInterval:    cfg.Pipeline.BlockInterval,
	})
	if err := eventLog.EnsureGroup(ctx); err != nil {
		log.Fatalf("Failed to create consumer group: %v", err)
	}

	deadLetter := quarantine.New(redisClient, eventLog)

	// Optional NATS notifications
	var pub *notifier.Publisher
	if cfg.NATS.Enabled {
		pub, err = notifier.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer pub.Close()
		logger.InfoContext(ctx, "notifications enabled", "url", cfg.NATS.URL)
	}

	// Optional Postgres audit trail
	var audit *repository.PostgresRepository
	var dispatchAudit dispatcher.AuditRecorder
	var adminAudit handlers.AuditRecorder
	if cfg.Audit.Enabled {
		if err := repository.RunMigrations(cfg.Audit.MigrationsPath, cfg.Audit.URL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		audit, err = repository.NewPostgresRepository(ctx, cfg.Audit.URL)
		if err != nil {
			log.Fatalf("Failed to connect to audit database: %v", err)
		}
		defer audit.Close()
		dispatchAudit = audit
		adminAudit = audit
		logger.InfoContext(ctx, "audit trail enabled")
	}

	// Handler registry
	rt := router.New()
	registerHandlers(rt, logger)

	disp := dispatcher.New(eventLog, rt, deadLetter, pub, dispatchAudit, logger, dispatcher.Options{
		Workers:        cfg.Pipeline.ConsumerWorkers,
		MaxAttempts:    int64(cfg.Pipeline.MaxAttempts),
		HandlerTimeout: cfg.Pipeline.HandlerTimeout,
	})
	disp.Start(ctx)

	// HTTP boundary
	v := verifier.New(verifier.Config{
		Secret:           cfg.Webhook.Secret,
		MaxPastWindow:    cfg.Webhook.MaxPastWindow,
		MaxFutureSkew:    cfg.Webhook.MaxFutureSkew,
		AllowedClientIDs: cfg.Webhook.AllowedClientIDs,
	})
	webhook := handlers.NewWebhookHandler(v, eventLog, logger)
	admin := handlers.NewAdminHandler(eventLog, deadLetter, pub, adminAudit, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(webhook, admin),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.InfoContext(ctx, "identity subscriber listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.InfoContext(ctx, "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Workers finish their in-flight deliveries before the process exits;
	// anything unacked is redelivered after the claim idle timeout.
	disp.Stop()
	logger.InfoContext(ctx, "stopped")
}

// registerHandlers binds the lifecycle event types to their handlers.
// TODO: replace the logging handlers with the demographic record and
// metadata store sync clients once those services expose their write APIs.
func registerHandlers(rt *router.Router, logger *logging.Logger) {
	logEvent := func(action string) lifecycle.HandlerFunc {
		return func(ctx context.Context, evt *lifecycle.Event) error {
			logger.InfoContext(ctx, action,
				logging.EventType(string(evt.Type)),
				logging.ClientID(evt.ClientID),
				"user_id", evt.UserID(),
			)
			return nil
		}
	}

	rt.Register(lifecycle.EventRegister, logEvent("user registered"))
	rt.Register(lifecycle.EventUpdate, logEvent("user updated"))
	rt.Register(lifecycle.EventDelete, logEvent("user deleted"))
	rt.Register(lifecycle.EventMerge, logEvent("user merged"))
}
