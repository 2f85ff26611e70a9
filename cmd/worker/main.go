package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	redisclient "github.com/zignalhq/zignal-backend/internal/clients/redis"
	"github.com/zignalhq/zignal-backend/internal/db"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/platform/objstore"
	"github.com/zignalhq/zignal-backend/internal/platform/openai"
	"github.com/zignalhq/zignal-backend/internal/repos"
	"github.com/zignalhq/zignal-backend/internal/services"
	"github.com/zignalhq/zignal-backend/internal/temporalx"
	"github.com/zignalhq/zignal-backend/internal/temporalx/temporalworker"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	fileRecordRepo := repos.NewFileRecordRepo(thePG, log)
	companyRepo := repos.NewCompanyRepo(thePG, log)
	projectRepo := repos.NewProjectRepo(thePG, log)
	folderRepo := repos.NewFolderRepo(thePG, log)

	// Object storage
	storeCfg, err := objstore.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Object storage config invalid", "error", err)
		os.Exit(1)
	}
	store, err := objstore.New(log, storeCfg)
	if err != nil {
		log.Error("Could not init object storage", "error", err)
		os.Exit(1)
	}
	resolver := objstore.NewResolver(log, store, storeCfg.KeyPrefix)

	// Provider
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	// Redis (optional)
	var bus redisclient.IngestBus
	if os.Getenv("REDIS_ADDR") != "" {
		bus, err = redisclient.NewIngestBus(log)
		if err != nil {
			log.Warn("Could not init Redis ingest bus, notifications disabled", "error", err)
			bus = nil
		} else {
			defer bus.Close()
		}
	}
	notifier := services.NewIngestNotifier(log, bus)

	// Services
	vectorStoreService := services.NewVectorStoreService(log, openaiClient, companyRepo)
	ingestService := services.NewIngestService(log, fileRecordRepo, companyRepo, projectRepo, folderRepo, vectorStoreService, resolver, notifier)

	// Temporal
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Could not init Temporal client", "error", err)
		os.Exit(1)
	}
	if tc == nil {
		log.Error("TEMPORAL_ADDRESS is required for the worker")
		os.Exit(1)
	}
	defer tc.Close()

	runner, err := temporalworker.NewRunner(log, tc, ingestService)
	if err != nil {
		log.Error("Could not init Temporal worker", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Start(ctx); err != nil {
		log.Error("Temporal worker failed to start", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("Shutting down worker")
}
