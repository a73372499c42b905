package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	api "mailsync-backend/cmd/api"
	authUsecase "mailsync-backend/internal/auth/usecase"
	emaildomain "mailsync-backend/internal/email/domain"
	emailRepo "mailsync-backend/internal/email/repository"
	"mailsync-backend/internal/email/scheduler"
	emailUsecase "mailsync-backend/internal/email/usecase"
	"mailsync-backend/pkg/cache"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/database"
)

func main() {
	// Load configuration
	cfg := config.Load()

	detectorCfg, err := emailUsecase.DetectorConfigFromConfig(cfg)
	if err != nil {
		log.Fatal("Invalid duplicate detection config:", err)
	}

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(&emaildomain.Email{}, &emaildomain.SyncCheckpoint{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	emailRepository := emailRepo.NewEmailRepository(db)
	checkpointRepository := emailRepo.NewSyncCheckpointRepository(db)

	// Exact message id cache shared by the detector and ingestion
	exactCache := cache.New[string, string](cfg.DedupCacheTTL, cfg.DedupCacheSize)
	exactCache.OnInvalidate(func(key string) {
		log.Printf("[Dedup] Invalidated exact-match cache entry %q", key)
	})

	// Initialize use cases (dependency injection)
	detector := emailUsecase.NewDuplicateDetector(emailRepository, detectorCfg, exactCache)
	syncUsecase := emailUsecase.NewSyncUsecase(emailRepository, checkpointRepository, detector, exactCache)
	tokenUsecase := authUsecase.NewTokenUsecase(cfg)

	// Background ingestion and retention
	ingestWorker := emailUsecase.NewIngestWorker(syncUsecase, cfg.IngestWorkers, cfg.IngestQueueSize)
	ingestWorker.Start()

	retentionScheduler := scheduler.NewRetentionScheduler(syncUsecase, cfg.EmailRetention, cfg.RetentionInterval)
	retentionScheduler.Start()

	log.Printf("[Dedup] threshold=%.2f window=%s policy=%s strategy=%s workers=%d",
		detectorCfg.Threshold, detectorCfg.Window, detectorCfg.ErrorPolicy, detectorCfg.MatchStrategy, detectorCfg.BatchWorkers)

	// Initialize HTTP handler
	handler := api.NewHandler(tokenUsecase, detector, syncUsecase, ingestWorker, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Server starting on port %s", cfg.Port)
	serverErr := handler.Run(ctx, ":"+cfg.Port)

	// No new requests reach the queue now; drain what was accepted before exiting
	ingestWorker.Stop()
	retentionScheduler.Stop()

	if serverErr != nil {
		log.Fatal("Server error:", serverErr)
	}
	log.Println("Server stopped")
}
