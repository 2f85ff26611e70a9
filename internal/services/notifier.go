package services

import (
	"context"

	"github.com/google/uuid"

	redisclient "github.com/zignalhq/zignal-backend/internal/clients/redis"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/types"
)

// IngestNotifier broadcasts file status changes. Publishing is best effort:
// a down Redis never fails an ingestion.
type IngestNotifier interface {
	NotifyStatus(ctx context.Context, fileID uuid.UUID, status types.FileStatus, errMsg string)
}

type ingestNotifier struct {
	log *logger.Logger
	bus redisclient.IngestBus
}

// NewIngestNotifier wraps the Redis bus. A nil bus yields a no-op notifier,
// for deployments without Redis.
func NewIngestNotifier(baseLog *logger.Logger, bus redisclient.IngestBus) IngestNotifier {
	return &ingestNotifier{
		log: baseLog.With("service", "IngestNotifier"),
		bus: bus,
	}
}

func (n *ingestNotifier) NotifyStatus(ctx context.Context, fileID uuid.UUID, status types.FileStatus, errMsg string) {
	if n == nil || n.bus == nil {
		return
	}
	ev := redisclient.IngestEvent{
		FileID: fileID,
		Status: status,
		Error:  errMsg,
	}
	if err := n.bus.Publish(ctx, ev); err != nil {
		n.log.Warn("Failed to publish ingest event", "file_id", fileID.String(), "status", string(status), "error", err.Error())
	}
}
