package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"brokeronboard/application"
	"brokeronboard/auth"
	"brokeronboard/broker"
	"brokeronboard/cache"
	"brokeronboard/config"
	"brokeronboard/db"
	"brokeronboard/interview"
	"brokeronboard/interviewer"
	"brokeronboard/logger"
	"brokeronboard/migrations"
	"brokeronboard/notify"
	"brokeronboard/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "broker onboarding: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	warnOpenServiceEndpoints(log, cfg.Server.ServiceKey)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("flush traces", zap.Error(err))
		}
	}()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("database schema applied")
	}

	var (
		statusCache application.StatusCache
		invalidator interview.StatusInvalidator
	)
	if cfg.Cache.Enabled {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		c := cache.NewStatusCache(rdb, cfg.Cache.StatusTTL)
		statusCache, invalidator = c, c
		log.Info("status cache enabled", zap.Duration("ttl", cfg.Cache.StatusTTL))
	}

	users := auth.NewRepository(pool)
	applications := application.NewRepository(pool)

	server := &Server{
		applications: application.NewService(applications, users, statusCache, log),
		interviews: interview.NewService(interview.Deps{
			Pool:         pool,
			Store:        interview.NewRepository(pool),
			Applications: applications,
			Interviewer:  interviewer.New(cfg.Interviewer.BaseURL, cfg.Interviewer.Timeout, log),
			Provisioner:  broker.NewProvisioner(log),
			StatusCache:  invalidator,
			Logger:       log,
		}),
		authService:   auth.NewService(users, cfg.Auth.JWTSecret),
		brokerService: broker.NewService(broker.NewRepository(pool)),
		log:           log,
		serviceKey:    cfg.Server.ServiceKey,
		ready:         pool.Ping,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Notifications.Enabled {
		sender, err := notify.NewSNSPublisher(ctx, cfg.Notifications.Region, cfg.Notifications.SenderID)
		if err != nil {
			return fmt.Errorf("build sms publisher: %w", err)
		}
		relay := notify.NewRelay(notify.NewPGStore(pool), sender, cfg.Notifications, log)
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		log.Info("http server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("interviewer", cfg.Interviewer.BaseURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down http server")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// warnOpenServiceEndpoints flags a deployment whose interview completion and
// progress endpoints are not guarded by a service key.
func warnOpenServiceEndpoints(log *zap.Logger, serviceKey string) {
	if serviceKey == "" {
		log.Warn("server.service_key is empty; service endpoints accept unauthenticated requests",
			zap.Strings("endpoints", []string{"POST /interview/complete", "PATCH /interview/{sessionId}/progress"}))
	}
}
