package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	database "github.com/voyaiage/go-tourism-chatbot/app/db"
	appLogger "github.com/voyaiage/go-tourism-chatbot/app/logger"
	appMiddleware "github.com/voyaiage/go-tourism-chatbot/app/middleware"
	"github.com/voyaiage/go-tourism-chatbot/app/observability/metrics"
	"github.com/voyaiage/go-tourism-chatbot/config"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/agent"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/auth"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/chat"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/chatcontext"
	generativeAI "github.com/voyaiage/go-tourism-chatbot/internal/api/generative_ai"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/location"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/recommend"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/travellog"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/upload"
	apiRouter "github.com/voyaiage/go-tourism-chatbot/internal/router"
)

func main() {
	// Use standard log until slog is configured, in case godotenv fails
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := setupLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Metrics ---
	exporter, err := otelprom.New()
	if err != nil {
		logger.Error("Failed to create Prometheus exporter", slog.Any("error", err))
		os.Exit(1)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)
	metrics.InitAppMetrics()

	// --- Database Setup ---
	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
		logger.Error("Failed to run database migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if !database.WaitForDB(ctx, pool, logger) {
		logger.Error("Database not ready after waiting, exiting.")
		os.Exit(1)
	}

	// --- AI Providers ---
	aiClient, err := generativeAI.NewAIClient(ctx, cfg.RAG.GenerationModel)
	if err != nil {
		logger.Error("Failed to create AI client", slog.Any("error", err))
		os.Exit(1)
	}
	embeddingService, err := generativeAI.NewEmbeddingService(ctx, cfg.RAG.EmbeddingModel, cfg.RAG.EmbeddingDim, logger)
	if err != nil {
		logger.Error("Failed to create embedding service", slog.Any("error", err))
		os.Exit(1)
	}

	// --- Dependency Injection ---
	locationRepo := location.NewRepository(pool, logger)
	contextRepo := chatcontext.NewRepository(pool, logger)
	contextManager := chatcontext.NewManager(contextRepo, logger)
	recommendService := recommend.NewService(embeddingService, locationRepo, aiClient, cfg.RAG.TopK, cfg.RAG.Temperature, cfg.RAG.ProviderTimeout, logger)
	agentService := agent.NewService(contextManager, locationRepo, recommendService, logger)
	chatHandler := chat.NewHandler(agentService, contextManager, logger)

	authRepo := auth.NewRepository(pool, logger)
	authService := auth.NewService(authRepo, []byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, logger)
	authHandler := auth.NewHandler(authService, logger)

	travelLogRepo := travellog.NewRepository(pool, logger)
	travelLogHandler := travellog.NewHandler(travelLogRepo, logger)

	uploadHandler, err := upload.NewHandler(cfg.Uploads.Dir, cfg.Uploads.MaxSizeMB, logger)
	if err != nil {
		logger.Error("Failed to create upload handler", slog.Any("error", err))
		os.Exit(1)
	}

	// --- Router Setup ---
	routerConfig := &apiRouter.Config{
		AuthHandler:            authHandler,
		ChatHandler:            chatHandler,
		TravelLogHandler:       travelLogHandler,
		UploadHandler:          uploadHandler,
		AuthenticateMiddleware: appMiddleware.Authenticate([]byte(cfg.Auth.JWTSecret)),
		AllowedOrigins:         cfg.Auth.AllowedOrigins,
		DB:                     pool,
	}
	mainRouter := apiRouter.SetupRouter(routerConfig)

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(appLogger.StructuredLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Compress(5, "application/json"))
	router.Mount("/", mainRouter)

	// --- HTTP Server Setup ---
	serverAddress := fmt.Sprintf(":%s", cfg.Server.HTTPPort)
	srv := &http.Server{
		Addr:    serverAddress,
		Handler: router,
		// Streaming responses need a generous write timeout.
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("address", serverAddress))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server ListenAndServe error", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
	} else {
		logger.Info("HTTP server gracefully stopped")
	}

	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("Meter provider shutdown failed", slog.Any("error", err))
	}

	logger.Info("Application shut down complete.")
}

// setupLogger configures and returns the application logger.
func setupLogger() *slog.Logger {
	var logger *slog.Logger
	env := os.Getenv("APP_ENV")

	if env == "development" || env == "" {
		// Colored logs for development
		tintOpts := &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}
		logger = slog.New(tint.NewHandler(os.Stdout, tintOpts))
		log.Println("Initialized development logger (tint)")
	} else {
		// JSON logs for production
		jsonOpts := &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: false,
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, jsonOpts))
		log.Println("Initialized production logger (JSON)")
	}
	return logger
}
