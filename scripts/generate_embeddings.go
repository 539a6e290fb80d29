package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	database "github.com/voyaiage/go-tourism-chatbot/app/db"
	"github.com/voyaiage/go-tourism-chatbot/config"
	generativeAI "github.com/voyaiage/go-tourism-chatbot/internal/api/generative_ai"
	"github.com/voyaiage/go-tourism-chatbot/internal/api/location"
)

// Seeds the location catalog from the CSV file and generates pgvector
// embeddings for every location that does not have one yet. Safe to
// re-run: the upsert never touches existing embeddings.
func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	dbpool, err := pgxpool.New(ctx, dbConfig.ConnectionURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbpool.Close()

	if err := dbpool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Connected to database successfully")

	embeddingService, err := generativeAI.NewEmbeddingService(ctx, cfg.RAG.EmbeddingModel, cfg.RAG.EmbeddingDim, logger)
	if err != nil {
		log.Fatalf("Failed to create embedding service: %v", err)
	}

	locationRepo := location.NewRepository(dbpool, logger)

	logger.Info("Loading location catalog", slog.String("path", cfg.RAG.CatalogCSVPath))
	catalog, err := location.LoadCatalogCSV(cfg.RAG.CatalogCSVPath, logger)
	if err != nil {
		log.Fatalf("Failed to load catalog CSV: %v", err)
	}
	logger.Info("Catalog loaded", slog.Int("locations", len(catalog)))

	upserted := 0
	for _, loc := range catalog {
		if err := locationRepo.Upsert(ctx, loc); err != nil {
			logger.Error("Failed to upsert location",
				slog.Any("error", err),
				slog.String("location_id", loc.ID))
			continue
		}
		upserted++
	}
	logger.Info("Catalog upserted", slog.Int("upserted", upserted))

	missing, err := locationRepo.ListMissingEmbeddings(ctx)
	if err != nil {
		log.Fatalf("Failed to list locations without embeddings: %v", err)
	}
	if len(missing) == 0 {
		logger.Info("All locations already have embeddings, nothing to do")
		return
	}

	logger.Info("Generating embeddings", slog.Int("locations", len(missing)))
	embeddings, err := embeddingService.GenerateBatchEmbeddings(ctx, missing)
	if err != nil {
		log.Fatalf("Failed to generate embeddings: %v", err)
	}

	updated := 0
	failed := 0
	for i, loc := range missing {
		if err := locationRepo.UpdateEmbedding(ctx, loc.ID, embeddings[i]); err != nil {
			logger.Error("Failed to store embedding",
				slog.Any("error", err),
				slog.String("location_id", loc.ID))
			failed++
			continue
		}
		updated++
	}

	logger.Info("Embedding generation completed",
		slog.Int("updated", updated),
		slog.Int("failed", failed))
	if failed > 0 {
		os.Exit(1)
	}
}
