package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-grader/internal/app"
	"github.com/noah-isme/gema-exam-grader/internal/config"
	"github.com/noah-isme/gema-exam-grader/internal/database"
	"github.com/noah-isme/gema-exam-grader/internal/handler"
	"github.com/noah-isme/gema-exam-grader/internal/middleware"
	"github.com/noah-isme/gema-exam-grader/internal/observability"
	"github.com/noah-isme/gema-exam-grader/internal/repository"
	"github.com/noah-isme/gema-exam-grader/internal/router"
	"github.com/noah-isme/gema-exam-grader/internal/service"
	cloud "github.com/noah-isme/gema-exam-grader/pkg/cloudinary"
)

// multipart framing and form fields on top of the document itself
const bodyLimitOverhead = 1 << 20

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "gema-exam-grader").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.AppEnv == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.RegisterMetrics()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
	}

	var storage service.DocumentStorage
	cloudCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}
	if cloudCfg.Enabled() {
		archive, err := cloud.New(cloudCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		storage = archive
	} else {
		logger.Info().Msg("cloudinary not configured: uploaded documents will not be archived")
	}

	evaluator, err := app.NewEvaluator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build evaluator")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	progress := service.NewProgressService(redisClient, natsConn, cfg.NATSSubject, logger)
	progress.Start(ctx)

	gradingService := service.NewGradingService(
		repository.NewGradingRepository(db),
		evaluator,
		progress,
		storage,
		redisClient,
		validate,
		logger,
		service.GradingServiceConfig{
			Workers:        cfg.GradingWorkers,
			MaxUploadBytes: cfg.MaxUploadBytes(),
			CacheTTL:       cfg.LeaderboardCacheTTL,
		},
	)
	gradingHandler := handler.NewGradingHandler(gradingService, progress, validate, logger, handler.GradingHandlerConfig{
		GradeRateLimit: cfg.GradingRateLimit,
	})

	server := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    int(cfg.MaxUploadBytes()) + bodyLimitOverhead,
		ReadTimeout:  30 * time.Second,
	})

	middleware.Register(server, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(server, cfg, router.Dependencies{
		GradingHandler: gradingHandler,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:   healthProbes(db, redisClient, natsConn),
		ExposeMetrics:  true,
	})

	go func() {
		if err := server.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(ctx, server, logger)
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) map[string]handler.HealthProbe {
	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if natsConn != nil {
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}
	return probes
}

func waitForShutdown(ctx context.Context, server *fiber.App, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
