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
	"github.com/rs/zerolog"

	"github.com/lamba-project/lamba-api/internal/config"
	"github.com/lamba-project/lamba-api/internal/database"
	"github.com/lamba-project/lamba-api/internal/handler"
	"github.com/lamba-project/lamba-api/internal/middleware"
	"github.com/lamba-project/lamba-api/internal/models"
	"github.com/lamba-project/lamba-api/internal/repository"
	"github.com/lamba-project/lamba-api/internal/router"
	"github.com/lamba-project/lamba-api/internal/service"
	"github.com/lamba-project/lamba-api/internal/session"
	"github.com/lamba-project/lamba-api/internal/storage"
	"github.com/lamba-project/lamba-api/pkg/grader"
	"github.com/lamba-project/lamba-api/pkg/outcomes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Moodle{},
		&models.Course{},
		&models.User{},
		&models.Activity{},
		&models.FileSubmission{},
		&models.StudentSubmission{},
		&models.Grade{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	files, err := storage.NewLocalStore(cfg.UploadsDir, logger)
	if err != nil {
		log.Fatalf("failed to prepare uploads directory: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	moodleRepo := repository.NewMoodleRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	userRepo := repository.NewUserRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	gradeRepo := repository.NewGradeRepository(db)

	graderClient := grader.NewClient(cfg.GraderURL, cfg.GraderBearerToken, cfg.GraderTimeout, logger)
	outcomesClient := outcomes.NewClient(cfg.OAuthConsumerKey, cfg.OAuthConsumerSecret, cfg.OutcomeTimeout, logger)
	sessions := session.NewStore(redisClient, cfg.SessionTTL, logger)

	ltiService := service.NewLTIService(moodleRepo, courseRepo, userRepo, activityRepo, sessions, logger)
	activityService := service.NewActivityService(activityRepo, graderClient, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, activityRepo, files, int64(cfg.MaxUploadMB)<<20, logger)
	evaluationService := service.NewEvaluationService(submissionRepo, gradeRepo, activityRepo, graderClient, files, cfg.EvaluationTimeout, logger)
	gradeService := service.NewGradeService(gradeRepo, submissionRepo, validate, logger)
	gradeSyncService := service.NewGradeSyncService(submissionRepo, moodleRepo, outcomesClient, logger)

	ltiHandler := handler.NewLTIHandler(ltiService, sessions, cfg, logger)
	activityHandler := handler.NewActivityHandler(activityService, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, validate, cfg.EvaluationTimeout, logger)
	evaluationHandler := handler.NewEvaluationHandler(evaluationService, cfg.EvaluationTimeout, logger)
	gradeHandler := handler.NewGradeHandler(gradeService, gradeSyncService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.MaxUploadMB + 1) << 20,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		LTIHandler:        ltiHandler,
		ActivityHandler:   activityHandler,
		SubmissionHandler: submissionHandler,
		EvaluationHandler: evaluationHandler,
		GradeHandler:      gradeHandler,
		SessionMiddleware: middleware.LTISession(sessions, logger),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("component", "main").Str("addr", cfg.HTTPAddress()).Msg("server started")

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
