package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/zignalhq/zignal-backend/internal/db"
	httpserver "github.com/zignalhq/zignal-backend/internal/http"
	httpH "github.com/zignalhq/zignal-backend/internal/http/handlers"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/platform/objstore"
	"github.com/zignalhq/zignal-backend/internal/repos"
	"github.com/zignalhq/zignal-backend/internal/services"
	"github.com/zignalhq/zignal-backend/internal/temporalx"
	"github.com/zignalhq/zignal-backend/internal/temporalx/fileingest"
	"github.com/zignalhq/zignal-backend/internal/utils"
)

// disabledQueue stands in when Temporal is not configured: uploads succeed
// and stay pending until the backfill tool or a worker picks them up.
type disabledQueue struct{}

func (disabledQueue) EnqueueFileIngest(ctx context.Context, fileID uuid.UUID) (string, error) {
	return "", fmt.Errorf("temporal is not configured")
}

func main() {
	// Logger
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
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	fileRecordRepo := repos.NewFileRecordRepo(thePG, log)

	// Object storage
	log.Info("Setting up object storage from main...")
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

	// Temporal
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Could not init Temporal client", "error", err)
		os.Exit(1)
	}
	var queue services.IngestQueue = disabledQueue{}
	if tc != nil {
		defer tc.Close()
		q, err := fileingest.NewQueue(log, tc)
		if err != nil {
			log.Error("Could not init ingest queue", "error", err)
			os.Exit(1)
		}
		queue = q
	}

	// Services
	log.Info("Setting up services from main...")
	fileService := services.NewFileService(log, fileRecordRepo, resolver, queue)

	// Handlers
	log.Info("Setting up handlers from main...")
	fileHandler := httpH.NewFileHandler(log, fileService)
	healthHandler := httpH.NewHealthHandler()

	// Router
	log.Info("Setting up router from main...")
	srv := httpserver.NewServer(httpserver.RouterConfig{
		Log:           log,
		FileHandler:   fileHandler,
		HealthHandler: healthHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := srv.Run(":" + port); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
