package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/confluence-qa/config"
	"github.com/confluence-qa/confluence"
	"github.com/confluence-qa/handlers"
	"github.com/confluence-qa/ingest"
	"github.com/confluence-qa/services/impl"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := initDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := impl.MigrateSchema(db, cfg.EmbeddingDimensions()); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	tokenizer, err := ingest.NewTokenizer()
	if err != nil {
		log.Fatal("Failed to load tokenizer:", err)
	}

	// Ingestion pipeline
	wikiClient := confluence.NewClient(&cfg.Confluence)
	normalizer := ingest.NewNormalizer(cfg.Confluence.BaseURL)
	chunker := ingest.NewChunker(&cfg.Chunking, tokenizer)
	embedder := ingest.NewOpenAIEmbedder(&cfg.OpenAI, cfg.EmbeddingDimensions())

	// Services
	pageStore := impl.NewPageStore(db)
	embedCache := impl.NewEmbeddingCache(&cfg.Redis, cfg.OpenAI.EmbeddingModel)
	defer embedCache.Close()

	sessionService := impl.NewSessionService(db)
	settingsService := impl.NewSettingsService(db)
	usageService := impl.NewUsageService(db)

	syncService := impl.NewSyncService(wikiClient, pageStore, normalizer, chunker, embedder, usageService, cfg.Sync.IntervalMinutes)
	retrievalService := impl.NewRetrievalService(pageStore, embedder, embedCache, &cfg.Search)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go syncService.StartScheduler(schedulerCtx)

	router := handlers.SetupRouter(cfg,
		handlers.NewAdminHandlers(pageStore, usageService, settingsService, wikiClient, cfg),
		handlers.NewRetrievalHandlers(retrievalService, usageService),
		handlers.NewSyncHandlers(syncService),
		handlers.NewSessionHandlers(sessionService),
	)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Printf("Wiki QA server starting on %s", cfg.GetServerAddress())
		log.Printf("Wiki: %s", cfg.Confluence.BaseURL)
		log.Printf("Embedding model: %s (%d dims)", cfg.OpenAI.EmbeddingModel, cfg.EmbeddingDimensions())

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

func initDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	return db, nil
}
