package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/openidx/connector/internal/common/config"
	apperrors "github.com/openidx/connector/internal/common/errors"
	"github.com/openidx/connector/internal/common/logger"
	"github.com/openidx/connector/internal/common/tracing"
	"github.com/openidx/connector/internal/connector"
	"github.com/openidx/connector/internal/health"
	"github.com/openidx/connector/internal/metrics"
	"github.com/openidx/connector/internal/middleware"
	"github.com/openidx/connector/internal/server"
	"github.com/openidx/connector/internal/status"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status API and the control channel session",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewWithLevel(cfg.Environment, cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting connector",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	cfg.LogSecurityWarnings(log)

	// Initialize tracing
	tracingCfg := tracing.ConfigFromEnv(serviceName, cfg.Environment)
	shutdownTracer, err := tracing.Init(context.Background(), tracingCfg, log)
	if err != nil {
		log.Warn("Failed to initialize tracing", zap.Error(err))
	}

	b := newBackends(cfg, log)
	rec := status.NewRecord()

	dispatcher := connector.NewDispatcher(b.sync, b.auth, b.calendar(), rec, cfg.SyncTimeout(), log)
	session := connector.NewSession(connector.SessionConfig{
		URL:                cfg.Backend.URL,
		APIKey:             cfg.Backend.APIKey,
		HeartbeatInterval:  cfg.HeartbeatInterval(),
		InsecureSkipVerify: cfg.Backend.InsecureSkipVerify,
	}, b.sync, b.calendar(), dispatcher, rec, log)
	manager := connector.NewManager(session, rec, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(logger.GinMiddleware(log))
	router.Use(metrics.Middleware(serviceName))
	router.Use(apperrors.ErrorHandler())

	router.GET("/metrics", metrics.Handler())

	healthService := health.NewHealthService(log)
	healthService.SetVersion(Version)
	healthService.SetBreakers(b.breakers)
	healthService.RegisterCheck(health.NewDirectoryChecker(b.sync))
	if b.ews != nil {
		healthService.RegisterCheck(health.NewCalendarChecker(b.ews))
	}
	healthService.RegisterCheck(health.NewChannelChecker(manager.Status))
	healthService.RegisterStandardRoutes(router, "")

	connector.RegisterRoutes(router, manager)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	graceful := server.New(server.Config{
		Server:          httpServer,
		Logger:          log,
		ShutdownTimeout: 30 * time.Second,
	})
	graceful.AddFirst(server.StopSession(manager.Close))
	if shutdownTracer != nil {
		graceful.AddShutdownable(server.CloseTracer(shutdownTracer))
	}

	if cfg.Backend.AutoStart {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		if err := manager.Start(ctx); err != nil {
			log.Error("Auto start failed", zap.Error(err))
		}
		cancel()
	}

	if err := graceful.ListenAndServe(); err != nil {
		return fmt.Errorf("status API failed: %w", err)
	}

	log.Info("Connector exited")
	return nil
}
