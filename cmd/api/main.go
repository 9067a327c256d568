package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/config"
	"github.com/noah-isme/secretaria-go-api/internal/database"
	"github.com/noah-isme/secretaria-go-api/internal/handler"
	"github.com/noah-isme/secretaria-go-api/internal/matching"
	"github.com/noah-isme/secretaria-go-api/internal/middleware"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
	"github.com/noah-isme/secretaria-go-api/internal/router"
	"github.com/noah-isme/secretaria-go-api/internal/scheduler"
	"github.com/noah-isme/secretaria-go-api/internal/service"
	"github.com/noah-isme/secretaria-go-api/pkg/ai"
	cloud "github.com/noah-isme/secretaria-go-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Logger()
	loc := cfg.Location()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.PostgresOptions())
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis url not set; report cache and assistant sessions disabled")
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Drain()
	}

	var uploader service.FileUploader
	if archive, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger); err != nil {
		logger.Warn().Err(err).Msg("report archiving disabled")
	} else {
		uploader = archive
	}

	var chatClient ai.ChatClient
	if openAI, err := ai.NewOpenAIChat(ai.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
		Logger: logger,
	}); err != nil {
		logger.Warn().Err(err).Msg("assistant chat disabled")
	} else {
		chatClient = openAI
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	events := service.NewEventPublisher(redisClient, natsConn, cfg.EventChannelBase, logger)

	guardianRepo := repository.NewGuardianRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	statementRepo := repository.NewStatementRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	chargeRepo := repository.NewChargeRepository(db)

	activityService := service.NewActivityService(repository.NewActivityLogRepository(db), logger)
	guardianService := service.NewGuardianService(guardianRepo, studentRepo, validate, activityService, logger)
	studentService := service.NewStudentService(studentRepo, guardianRepo, validate, activityService, logger)
	statementService := service.NewStatementService(statementRepo, validate, activityService, events, cfg.StatementImportLimit, logger)
	reconciliationService := service.NewReconciliationService(service.ReconciliationDeps{
		Rows:      statementRepo,
		Guardians: guardianRepo,
		Students:  studentRepo,
		Fees:      feeRepo,
		Charges:   chargeRepo,
	}, matching.Thresholds{
		Single:    cfg.MatchSingleThreshold,
		Strict:    cfg.MatchStrictThreshold,
		Grouped:   cfg.MatchGroupedThreshold,
		TieMargin: cfg.MatchTieMargin,
	}, validate, activityService, events, logger)
	feeService := service.NewFeeService(feeRepo, studentRepo, validate, activityService, events, loc, logger)
	paymentService := service.NewPaymentService(service.PaymentDeps{
		Payments:  paymentRepo,
		Rows:      statementRepo,
		Fees:      feeRepo,
		Students:  studentRepo,
		Guardians: guardianRepo,
	}, validate, activityService, events, loc, logger)
	chargeService := service.NewChargeService(chargeRepo, studentRepo, validate, activityService, events, loc, logger)
	reportService := service.NewReportService(service.ReportDeps{
		Students: studentRepo,
		Fees:     feeRepo,
		Payments: paymentRepo,
	}, validate, redisClient, cfg.ReportCacheTTL, uploader, activityService, loc, logger)

	var sessions service.SessionStore
	if redisClient != nil {
		sessions = service.NewRedisSessionStore(redisClient, cfg.AssistantSessionTTL)
	}
	assistantService, err := service.NewAssistantService(chatClient, service.AssistantTools{
		Guardians:      guardianService,
		Students:       studentService,
		Statements:     statementService,
		Reconciliation: reconciliationService,
		Fees:           feeService,
		Payments:       paymentService,
		Charges:        chargeService,
	}, sessions, validate, loc, logger)
	if err != nil {
		log.Fatalf("failed to build assistant: %v", err)
	}

	jobs, err := scheduler.New(cfg.FeeRefreshSchedule, loc, feeService, logger)
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}
	jobs.Start()

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    10 * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSAllowOrigins,
		AccessLog:    cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		GuardianHandler:  handler.NewGuardianHandler(guardianService, logger),
		StudentHandler:   handler.NewStudentHandler(studentService, logger),
		StatementHandler: handler.NewStatementHandler(statementService, reconciliationService, logger),
		FeeHandler:       handler.NewFeeHandler(feeService, logger),
		PaymentHandler:   handler.NewPaymentHandler(paymentService, logger),
		ChargeHandler:    handler.NewChargeHandler(chargeService, logger),
		ReportHandler:    handler.NewReportHandler(reportService, logger),
		AssistantHandler: handler.NewAssistantHandler(assistantService, logger),
		ActivityHandler:  handler.NewActivityHandler(activityService, logger),
		JWTMiddleware:    middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:     healthProbes(db, redisClient),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, jobs)
}

func healthProbes(db *gorm.DB, redisClient *redis.Client) []handler.HealthProbe {
	probes := []handler.HealthProbe{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if redisClient != nil {
		probes = append(probes, handler.HealthProbe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return probes
}

func waitForShutdown(app *fiber.App, jobs *scheduler.Scheduler) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	jobs.Stop(ctx)

	log.Println("server stopped")
}
