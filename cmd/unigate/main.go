package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/unigate/unigate/internal/app"
	"github.com/unigate/unigate/internal/audit"
	audithttp "github.com/unigate/unigate/internal/audit/http"
	"github.com/unigate/unigate/internal/auth"
	"github.com/unigate/unigate/internal/identity"
	identityhttp "github.com/unigate/unigate/internal/identity/http"
	"github.com/unigate/unigate/internal/observability"
	"github.com/unigate/unigate/internal/permissions"
	permissionshttp "github.com/unigate/unigate/internal/permissions/http"
	"github.com/unigate/unigate/internal/platform/broker"
	"github.com/unigate/unigate/internal/platform/cache"
	"github.com/unigate/unigate/internal/platform/db"
	"github.com/unigate/unigate/internal/rbac"
	"github.com/unigate/unigate/internal/semester"
	"github.com/unigate/unigate/internal/token"
	"github.com/unigate/unigate/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := db.Migrate(cfg.PGDSN); err != nil {
		logger.Error("migrate database", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var recorderOpts []audit.RecorderOption
	if len(cfg.AuditKafkaBrokers) > 0 {
		producer := broker.NewProducer(cfg.AuditKafkaBrokers, cfg.AuditKafkaTopic, logger)
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka producer close", slog.Any("error", err))
			}
		}()
		recorderOpts = append(recorderOpts, audit.WithPublisher(producer))
	}
	auditStore := audit.NewStore(dbpool)
	auditRecorder := audit.NewRecorder(auditStore, logger, recorderOpts...)
	auditService := audit.NewService(auditStore, nil)

	tokens, err := token.NewService(token.Config{
		AccessSecret:  []byte(cfg.JWTAccessSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
		AccessTTL:     cfg.JWTAccessExpiresIn.Duration(),
		RefreshTTL:    cfg.JWTRefreshExpiresIn.Duration(),
		Issuer:        cfg.JWTIssuer,
	}, nil)
	if err != nil {
		logger.Error("init token service", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	validate := validator.New()

	identityService := identity.NewService(identity.NewRepository(dbpool), identity.WithResetTokenTTL(cfg.ResetTokenExpiresIn.Duration()))
	permissionsService := permissions.NewService(permissions.NewRepository(dbpool), identityService, nil)
	rbacMiddleware := rbac.Middleware{
		Engine:  rbac.NewEngine(permissionsService, identityService, nil),
		Audit:   auditRecorder,
		Logger:  logger,
		Metrics: metrics,
	}
	authService := auth.NewService(identityService, tokens, nil, auth.WithPasswordResets(identityService))

	semesterRepo := semester.NewRepository(dbpool)
	semesterCache := semester.NewCurrentCache(
		semesterRepo,
		cfg.SemesterCacheTTL.Duration(),
		semester.WithRedis(redisClient),
		semester.WithCacheLogger(logger),
	)
	queueOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(queueOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	semesterService := semester.NewService(semesterRepo, semesterCache, nil, logger,
		semester.WithRefreshScheduler(jobClient),
	)

	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		Authenticate:       authService.Middleware,
		AuthHandler:        auth.NewHandler(logger, authService, validate, auditRecorder, auth.WithResetLinks(cfg.PublicBaseURL, !cfg.IsProduction())),
		IdentityHandler:    identityhttp.NewHandler(logger, identityService, validate, rbacMiddleware, auditRecorder),
		PermissionsHandler: permissionshttp.NewHandler(logger, permissionsService, validate, rbacMiddleware, auditRecorder),
		AuditHandler:       audithttp.NewHandler(logger, auditService, rbacMiddleware, auditRecorder, audithttp.WithPurgeScheduler(jobClient)),
		SemesterHandler:    semester.NewHandler(logger, semesterService, validate, rbacMiddleware, auditRecorder),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return semesterCache.ListenForInvalidation(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
