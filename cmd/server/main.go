package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/handler"
	"github.com/edgegate/edgegate/internal/middleware"
	"github.com/edgegate/edgegate/internal/pkg/logger"
	"github.com/edgegate/edgegate/internal/repository"
	"github.com/edgegate/edgegate/internal/service"
	"github.com/edgegate/edgegate/internal/signer"
	"github.com/edgegate/edgegate/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// retentionLoop prunes expired audit rows once a day.
func retentionLoop(repo *repository.PostgresAuditRepo, retentionDays int) {
	window := time.Duration(retentionDays) * 24 * time.Hour
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := repo.Cleanup(ctx, window); err != nil {
			logger.Error("Audit retention cleanup failed", "error", err)
		}
		cancel()
	}
}

func main() {
	// 0. Initialize Logger
	logger.Init("info")

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Persistence
	// Dead-letter + idempotency state (Redis > Memory)
	var deadLetter *repository.RedisDeadLetter
	var idempotencyStore middleware.IdempotencyStore
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg.Redis)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			deadLetter = repository.NewRedisDeadLetter(redisClient, cfg.Redis.DeadLetterKey, cfg.Redis.DeadLetterMax)
			idempotencyStore = repository.NewRedisIdempotencyStore(redisClient, 24*time.Hour)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, dead-letter batches will be dropped", "error", err)
		}
	}
	if idempotencyStore == nil {
		idempotencyStore = middleware.NewInMemIdempotencyStore(24 * time.Hour)
	}

	// Audit Backend (Edge Functions > Postgres > disabled)
	edgeClient := repository.NewEdgeClient(cfg.Edge, cfg.HMAC)

	var auditBackend service.AuditBackend
	if edgeClient != nil {
		logger.Info("✅ Audit backend: edge functions", "base_url", cfg.Edge.BaseURL)
		auditBackend = edgeClient
	} else if cfg.Audit.PostgresDSN != "" {
		db, err := repository.NewDB(cfg.Audit.PostgresDSN)
		if err == nil {
			logger.Info("✅ Audit backend: PostgreSQL")
			pgRepo := repository.NewPostgresAuditRepo(db)
			auditBackend = pgRepo
			if cfg.Audit.RetentionDays > 0 {
				go retentionLoop(pgRepo, cfg.Audit.RetentionDays)
			}
		} else {
			logger.Error("⚠️ Failed to connect to DB", "error", err)
		}
	}

	// 3. Initialize Core Services
	tenantManager := service.NewTenantManager(cfg)

	var dl service.DeadLetter
	if deadLetter != nil {
		dl = deadLetter
	}
	auditSvc := service.NewAuditService(cfg.Audit, auditBackend, dl)

	hub := stream.NewHub()
	auditSvc.SetNotify(hub.Publish)
	auditSvc.Start()

	verifier, err := signer.NewVerifier(cfg.HMAC)
	if err != nil {
		log.Fatalf("Failed to initialize HMAC verifier: %v", err)
	}

	// 4. Initialize Handlers
	proxyHandler := handler.NewProxyHandler(edgeClient)
	auditHandler := handler.NewAuditHandler(auditSvc, hub)
	webhookHandler := handler.NewWebhookHandler()
	adminHandler := handler.NewAdminHandler(tenantManager, auditSvc, deadLetter)

	// 5. Setup Router
	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.AuditMiddleware(auditSvc, cfg.Audit.MaxBodyCapture))

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":        "ok",
			"service":       "edgegate",
			"audit_enabled": auditSvc.Enabled(),
			"queue_depth":   auditSvc.QueueDepth(),
		})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Signed webhook intake: HMAC first, no tenant auth
	webhooks := r.Group("/v1/webhooks")
	webhooks.Use(middleware.HMACMiddleware(cfg, verifier))
	{
		webhooks.POST("/:source", webhookHandler.Receive)
	}

	// API V1 Routes
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg, tenantManager))
	v1.Use(middleware.RateLimitMiddleware(tenantManager))
	v1.Use(middleware.ReadOnlyMiddleware(cfg.Server.ReadOnly))
	v1.Use(middleware.IdempotencyMiddleware(idempotencyStore))
	{
		v1.Any("/functions/:name", proxyHandler.Invoke)
		v1.GET("/audit", auditHandler.List)
		v1.GET("/audit/stats", auditHandler.Stats)
		v1.GET("/audit/export", auditHandler.Export)
		v1.GET("/audit/stream", auditHandler.Stream)
	}

	// Operator Routes
	admin := r.Group("/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.GET("/tenants", adminHandler.ListTenants)
		admin.POST("/tenants/:id/suspend", adminHandler.SuspendTenant)
		admin.GET("/audit/dead-letter", adminHandler.DeadLetterDepth)
		admin.POST("/audit/dead-letter/reclaim", adminHandler.ReclaimDeadLetter)
	}

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 EdgeGate started", "port", cfg.Server.Port, "mode", cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	// drain the audit queue after the listener stops accepting requests
	hub.Close()
	auditSvc.Close()

	logger.Info("Server exiting")
}
