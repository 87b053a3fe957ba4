package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"autopilot/internal/audit"
	"autopilot/internal/client/engine"
	"autopilot/internal/client/policy"
	"autopilot/internal/config"
	cronrunner "autopilot/internal/cron"
	"autopilot/internal/db"
	"autopilot/internal/handler"
	"autopilot/internal/logger"
	gormrepository "autopilot/internal/repository/gorm"
	"autopilot/internal/service"

	_ "autopilot/docs"
)

func main() {
	cfgPath := os.Getenv("AP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("AP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	sessionsSvc := &service.SmartSessionService{Repo: store, Logger: logger, Flags: settingsSvc}
	lifecycle := &service.ExecutionLifecycle{Repo: store, Logger: logger}

	policyClient := policy.NewClient(cfg.Policy.BaseURL, cfg.Policy.Timeout)
	engineClient := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.InternalSecret, cfg.Engine.Timeout)

	scheduler := &service.TriggerScheduler{
		Repo:          store,
		Sessions:      sessionsSvc,
		Lifecycle:     lifecycle,
		Policy:        policyClient,
		Engine:        engineClient,
		Logger:        logger,
		Flags:         settingsSvc,
		Config:        cfg.Scheduler,
		PolicyEnabled: cfg.Policy.Enabled && cfg.Policy.BaseURL != "",
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	auditClient := initAuditClient(cfg.Audit, logger)
	router.Use(audit.RequireBearerMiddleware())
	router.Use(audit.InjectClientMiddleware(auditClient))
	router.Use(audit.WriteAuditMiddleware(auditClient, logger, func(ctx context.Context) bool {
		return settingsSvc.IsEnabled(ctx, service.FeatureAuditMirror, true)
	}))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(router)
	strategyHandler := &handler.StrategyHandler{Repo: store, Sessions: sessionsSvc, Scheduler: scheduler}
	strategyHandler.Register(router)
	executionHandler := &handler.ExecutionHandler{Repo: store, Lifecycle: lifecycle}
	executionHandler.Register(router)
	sessionHandler := &handler.SessionHandler{Repo: store, Sessions: sessionsSvc}
	sessionHandler.Register(router)
	settingsHandler := &handler.SettingsHandler{Repo: store, Settings: settingsSvc}
	settingsHandler.Register(router)
	internalHandler := &handler.InternalHandler{
		Secret:    cfg.Server.InternalSecret,
		Lifecycle: lifecycle,
		Sessions:  sessionsSvc,
	}
	internalHandler.Register(router)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseCtx := ctx
	if auditClient != nil {
		baseCtx = audit.WithClient(ctx, auditClient)
	}

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, baseCtx)
		_, err = cronRunner.Add("strategy_triggers", cfg.Cron.StrategyTriggers, func(ctx context.Context) {
			if err := scheduler.ProcessDueStrategies(ctx); err != nil {
				logger.Warn("trigger scheduler tick failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register strategy triggers failed", zap.Error(err))
		}
		_, err = cronRunner.Add("session_cleanup", cfg.Cron.SessionCleanup, func(ctx context.Context) {
			cutoff := time.Now().UTC().Add(-cfg.Sessions.ExpiryGrace)
			if _, err := sessionsSvc.ExpireDue(ctx, cutoff); err != nil {
				logger.Warn("session cleanup failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register session cleanup failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Internal-Secret")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func initAuditClient(cfg config.AuditConfig, logger *zap.Logger) *audit.Client {
	base := strings.TrimSpace(cfg.BaseURL)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if base == "" || apiKey == "" {
		return nil
	}

	c := &audit.Client{BaseURL: base, APIKey: apiKey}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Login(ctx); err != nil {
		if logger != nil {
			logger.Warn("audit login failed (audit events disabled)", zap.Error(err))
		}
		return nil
	}
	if logger != nil {
		logger.Info("audit login ok")
	}
	return c
}
