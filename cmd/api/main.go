package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/tatamihub/dojo-api/api/swagger"
	"github.com/tatamihub/dojo-api/internal/handler"
	"github.com/tatamihub/dojo-api/internal/middleware"
	"github.com/tatamihub/dojo-api/internal/models"
	"github.com/tatamihub/dojo-api/internal/repository"
	"github.com/tatamihub/dojo-api/internal/service"
	"github.com/tatamihub/dojo-api/pkg/cache"
	"github.com/tatamihub/dojo-api/pkg/config"
	"github.com/tatamihub/dojo-api/pkg/database"
	"github.com/tatamihub/dojo-api/pkg/export"
	"github.com/tatamihub/dojo-api/pkg/jobs"
	"github.com/tatamihub/dojo-api/pkg/logger"
	corsmiddleware "github.com/tatamihub/dojo-api/pkg/middleware/cors"
	"github.com/tatamihub/dojo-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/tatamihub/dojo-api/pkg/middleware/requestid"
	"github.com/tatamihub/dojo-api/pkg/storage"
)

// @title Dojo API
// @version 1.0.0
// @description Martial arts school management backend with a belt promotion rule engine
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	guardianRepo := repository.NewGuardianRepository(db)
	rankRepo := repository.NewRankRepository(db)
	classRepo := repository.NewClassRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	promotionRepo := repository.NewPromotionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "dojo-api",
		Audience:           []string{"dojo-api"},
	})
	userSvc := service.NewUserService(userRepo, nil, logr)
	studentSvc := service.NewStudentService(studentRepo, attendanceRepo, cacheRepo, nil, logr)
	guardianSvc := service.NewGuardianService(guardianRepo, studentRepo, nil, logr)
	rankSvc := service.NewRankService(rankRepo, cacheRepo, cfg.Ranks.CacheTTL, nil, logr)
	classSvc := service.NewClassService(classRepo, attendanceRepo, cacheRepo, nil, logr)
	promotionSvc := service.NewPromotionService(
		studentRepo,
		promotionRepo,
		rankRepo,
		attendanceRepo,
		userRepo,
		cacheRepo,
		cfg.Promotion.DefaultRequiredClasses,
		cfg.Promotion.RosterConcurrency,
		cfg.Promotion.EligibilityCacheTTL,
		nil,
		logr,
		nil,
	)
	metricsSvc := service.NewMetricsService()

	var reportSvc *service.ReportService
	if cfg.Reports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		reportRepo := repository.NewReportRepository(db)
		exportSvc := service.NewExportService(
			attendanceRepo,
			promotionRepo,
			store,
			signer,
			service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Reports.SignedURLTTL},
			logr,
			export.NewCSVExporter(),
			export.NewPDFExporter(),
		)
		worker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
		queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()

		reportSvc = service.NewReportService(reportRepo, queue, exportSvc, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	guardianHandler := handler.NewGuardianHandler(guardianSvc)
	rankHandler := handler.NewRankHandler(rankSvc)
	classHandler := handler.NewClassHandler(classSvc)
	promotionHandler := handler.NewPromotionHandler(promotionSvc, metricsSvc)
	reportHandler := handler.NewReportHandler(nil)
	if reportSvc != nil {
		reportHandler = handler.NewReportHandler(reportSvc)
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		defer limiter.Stop()
		r.Use(limiter.Middleware())
	}

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	// Download is authorized by the signed token embedded in the URL.
	api.GET("/reports/download/:token", reportHandler.Download)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.POST("/auth/change-password", authHandler.ChangePassword)
		protected.GET("/auth/me", authHandler.Me)

		staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleInstructor)
		admin := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

		students := protected.Group("/students")
		{
			students.GET("", staff, studentHandler.List)
			students.GET("/:id", staff, studentHandler.Get)
			students.POST("", admin, studentHandler.Create)
			students.PUT("/:id", admin, studentHandler.Update)
			students.DELETE("/:id", admin, studentHandler.Delete)
			students.POST("/:id/reset-baseline", admin, studentHandler.ResetBaseline)
			students.GET("/:id/attendance", staff, studentHandler.AttendanceSummary)
			students.GET("/:id/promotions", staff, promotionHandler.History)
			students.GET("/:id/guardians", staff, guardianHandler.ListByStudent)
			students.POST("/:id/guardians/:guardianId", admin, guardianHandler.Attach)
			students.DELETE("/:id/guardians/:guardianId", admin, guardianHandler.Detach)
		}

		guardians := protected.Group("/guardians")
		{
			guardians.GET("", staff, guardianHandler.List)
			guardians.GET("/:id", staff, guardianHandler.Get)
			guardians.POST("", admin, guardianHandler.Create)
			guardians.PUT("/:id", admin, guardianHandler.Update)
			guardians.DELETE("/:id", admin, guardianHandler.Delete)
		}

		ranks := protected.Group("/ranks")
		{
			ranks.GET("", staff, rankHandler.List)
			ranks.GET("/requirements", staff, rankHandler.ListRequirements)
			ranks.PUT("/requirements", admin, rankHandler.UpsertRequirement)
			ranks.GET("/:id", staff, rankHandler.Get)
			ranks.POST("", admin, rankHandler.Create)
			ranks.PUT("/:id", admin, rankHandler.Update)
			ranks.DELETE("/:id", admin, rankHandler.Delete)
		}

		classes := protected.Group("/classes")
		{
			classes.GET("", staff, classHandler.List)
			classes.GET("/:id", staff, classHandler.Get)
			classes.POST("", admin, classHandler.Create)
			classes.PUT("/:id", admin, classHandler.Update)
			classes.DELETE("/:id", admin, classHandler.Delete)
			classes.POST("/:id/sessions", staff, classHandler.CreateSession)
			classes.GET("/:id/sessions", staff, classHandler.ListSessions)
		}

		sessions := protected.Group("/sessions")
		{
			sessions.GET("/:sessionId/attendance", staff, classHandler.SessionAttendance)
			sessions.POST("/:sessionId/attendance", staff, classHandler.MarkAttendance)
		}

		promotions := protected.Group("/promotions")
		{
			promotions.GET("/eligibility", staff, promotionHandler.Roster)
			promotions.GET("/eligibility/:id", staff, promotionHandler.Eligibility)
			promotions.GET("/history/:id", staff, promotionHandler.History)
			promotions.POST("/:id", staff, promotionHandler.Promote)
		}

		users := protected.Group("/users")
		{
			users.GET("", admin, userHandler.List)
			users.GET("/:id", middleware.RBAC("SUPERADMIN", "ADMIN", "SELF"), userHandler.Get)
			users.POST("", admin, userHandler.Create)
			users.PUT("/:id", admin, userHandler.Update)
			users.DELETE("/:id", admin, userHandler.Delete)
		}

		reports := protected.Group("/reports")
		{
			reports.POST("/generate", staff, reportHandler.Generate)
			reports.GET("/:id", staff, reportHandler.Status)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
