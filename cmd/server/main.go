// Package main runs the circle membership HTTP server with WebSocket notifications and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/harbor-circles/backend/config"
	"github.com/harbor-circles/backend/internal/auth"
	"github.com/harbor-circles/backend/internal/billing"
	"github.com/harbor-circles/backend/internal/circles"
	"github.com/harbor-circles/backend/internal/middleware"
	"github.com/harbor-circles/backend/internal/realtime"
	"github.com/harbor-circles/backend/internal/transfers"
	"github.com/harbor-circles/backend/internal/worker"
	"github.com/harbor-circles/backend/pkg/database"
	"github.com/harbor-circles/backend/pkg/queue"
	"github.com/harbor-circles/backend/pkg/redis"
	"github.com/harbor-circles/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Circles and membership ledger
	circleRepo := circles.NewRepository(pool)
	circleSvc := circles.NewService(circleRepo, logger)
	circleHandler := circles.NewHandler(circleSvc, logger)

	// Transfer request workflow
	transferRepo := transfers.NewRepository(pool)
	transferSvc := transfers.NewService(transferRepo, circleSvc, logger)
	transferHandler := transfers.NewHandler(transferSvc, circleSvc, hub, logger)

	// Billing reconciliation (webhook intake + async apply)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	billingWebhook := billing.NewWebhookHandler(jobQueue, cfg.Billing.WebhookSecret, logger)
	paymentProcessor := worker.NewPaymentProcessor(circleSvc, jobQueue, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Users (admin only)
		api.GET("/users", middleware.RequireRole("admin"), authHandler.List)

		// Circles
		api.GET("/circles", circleHandler.List)
		api.POST("/circles", middleware.RequireRole("admin", "facilitator"), circleHandler.Create)
		api.GET("/circles/:id", circleHandler.GetByID)
		api.PATCH("/circles/:id", circleHandler.Update)
		api.POST("/circles/:id/status", circleHandler.TransitionStatus)

		// Membership ledger
		api.GET("/circles/:id/members", circleHandler.ListMembers)
		api.POST("/circles/:id/members", circleHandler.AddMember)
		api.DELETE("/circles/:id/members/:userId", circleHandler.RemoveMember)
		api.PATCH("/circles/:id/members/:userId/payment-status", circleHandler.UpdatePaymentStatus)
		api.GET("/memberships", circleHandler.ListMyMemberships)

		// Transfer requests
		api.POST("/transfer-requests", transferHandler.Create)
		api.GET("/transfer-requests", transferHandler.ListMine)
		api.GET("/transfer-requests/pending", transferHandler.ListPending)
		api.GET("/transfer-requests/:id", transferHandler.GetByID)
		api.POST("/transfer-requests/:id/approve", transferHandler.Approve)
		api.POST("/transfer-requests/:id/deny", transferHandler.Deny)
		api.POST("/transfer-requests/:id/cancel", transferHandler.Cancel)
	}

	// Webhooks (no JWT; shared secret validated in handler when configured)
	router.POST("/webhooks/billing", billingWebhook.PaymentEvent)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (billing queue apply)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go paymentProcessor.Run(workerCtx)
	logger.Info("billing worker started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
