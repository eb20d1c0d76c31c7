/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/casefile-ai/docproc-be/config"
	"github.com/casefile-ai/docproc-be/database"
	"github.com/casefile-ai/docproc-be/repository"
	"github.com/casefile-ai/docproc-be/service"
	"github.com/casefile-ai/docproc-be/types"
)

// services bundles everything a command needs so the one-shot commands and
// the worker share one wiring path.
type services struct {
	cfg         *config.Config
	logger      *slog.Logger
	mongoClient *mongo.Client
	documents   database.DocumentStore
	jobs        database.JobQueue
	vectors     *database.WeaviateStore
	metrics     *service.MetricsService
	cache       *service.CacheService
	ocr         *service.OCRService
	embeddings  *service.EmbeddingService
	classifier  *service.ClassificationService
	pipeline    *service.PipelineService
}

func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	mongoClient, err := database.NewMongoClient(ctx, cfg.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	mongoDb := mongoClient.Database(cfg.MongoDatabase)

	weaviateDb, err := database.NewWeaviateStore(cfg.Weaviate)
	if err != nil {
		mongoClient.Disconnect(context.Background())
		return nil, fmt.Errorf("connect weaviate: %w", err)
	}

	documentRepo := repository.NewDocumentRepo(mongoDb)
	jobRepo := repository.NewJobRepo(mongoDb, cfg.Worker.MaxAttempts)

	service.SetSharedPoolSize(cfg.OCR.PoolSize)
	pool := service.SharedPool()

	metrics := service.NewMetricsService(cfg.Metrics.ReservoirSize)
	cache := service.NewCacheService(cfg.Cache.TTL(), cfg.Cache.MaxEmbeddingEntries, cfg.Cache.MaxClassificationEntries)
	chunker := service.NewTextChunker(cfg.Embedding.ChunkWords, cfg.Embedding.OverlapWords)

	engineName, err := types.ParseEngine(cfg.OCR.Engine)
	if err != nil {
		return nil, err
	}
	engine, err := service.NewOCREngine(engineName)
	if err != nil {
		return nil, err
	}

	ocrService := service.NewOCRService(service.NewPopplerConverter(), engine, pool, metrics, logger, service.OCROptions{
		Languages:          cfg.OCR.Languages,
		MaxConcurrentPages: cfg.OCR.MaxConcurrentPages,
		RasterDPI:          cfg.OCR.RasterDPI,
		PageTimeout:        cfg.OCR.PageTimeout(),
	})

	embedClient, classifier, err := buildEmbeddingProvider(cfg)
	if err != nil {
		return nil, err
	}
	embeddingService := service.NewEmbeddingService(embedClient, weaviateDb, chunker, cache, metrics, logger, cfg.Embedding.MaxConcurrent)

	var classificationService *service.ClassificationService
	if classifier != nil {
		classificationService = service.NewClassificationService(classifier, documentRepo, cache, metrics, logger, cfg.Embedding.ChatModel)
	}

	pipeline := service.NewPipelineService(documentRepo, jobRepo, ocrService, embeddingService, classificationService, logger, cfg.UploadDir,
		pollInterval(cfg), leaseDuration(cfg))

	return &services{
		cfg:         cfg,
		logger:      logger,
		mongoClient: mongoClient,
		documents:   documentRepo,
		jobs:        jobRepo,
		vectors:     weaviateDb,
		metrics:     metrics,
		cache:       cache,
		ocr:         ocrService,
		embeddings:  embeddingService,
		classifier:  classificationService,
		pipeline:    pipeline,
	}, nil
}

// buildEmbeddingProvider picks the configured provider. OpenAI doubles as
// the classifier; the gemini path runs without classification.
func buildEmbeddingProvider(cfg *config.Config) (service.EmbeddingClient, service.DocumentClassifier, error) {
	switch cfg.Embedding.Provider {
	case "openai", "":
		svc := service.NewOpenAIService(cfg.Embedding.BaseURL, cfg.Embedding.OpenAIAPIKey, cfg.Embedding.Model, cfg.Embedding.ChatModel, cfg.Embedding.Dimensions)
		return svc, svc, nil
	case "gemini":
		svc, err := service.NewGeminiService(cfg.Embedding.GeminiAPIKeys, cfg.Embedding.GeminiModel, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, nil, err
		}
		return svc, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// Close drains the shared pool and disconnects the stores.
func (s *services) Close() {
	service.ShutdownSharedPool()
	if err := s.mongoClient.Disconnect(context.Background()); err != nil {
		s.logger.Warn("mongodb disconnect failed", "error", err)
	}
}

func loadConfigOrDie() *config.Config {
	cfg, err := config.LoadConfig(cfgFile)
	cobra.CheckErr(err)
	return cfg
}

func pollInterval(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second
}

func leaseDuration(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Worker.LeaseSeconds) * time.Second
}
