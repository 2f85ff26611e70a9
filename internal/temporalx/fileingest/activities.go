package fileingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/services"
	"github.com/zignalhq/zignal-backend/internal/types"
)

const permanentErrorType = "PermanentIngestFailure"

type Activities struct {
	Log    *logger.Logger
	Ingest services.IngestService
}

// Run executes one ingestion attempt. Transient failures return plain errors
// so the retry policy re-runs the activity; permanent ones are wrapped as
// non-retryable so the queue gives up immediately.
func (a *Activities) Run(ctx context.Context, fileID string) (IngestResult, error) {
	res := IngestResult{FileID: strings.TrimSpace(fileID)}
	if a == nil || a.Ingest == nil {
		return res, fmt.Errorf("fileingest: activity not configured")
	}

	parsed, err := uuid.Parse(res.FileID)
	if err != nil || parsed == uuid.Nil {
		return res, temporal.NewNonRetryableApplicationError("invalid file_id", permanentErrorType, err)
	}

	stopHB := a.startHeartbeat(ctx, parsed)
	defer stopHB()

	if err := a.Ingest.IngestFileRecord(ctx, parsed); err != nil {
		if services.IsPermanent(err) {
			return res, temporal.NewNonRetryableApplicationError(err.Error(), permanentErrorType, err)
		}
		// Permanent failures mark the record themselves; a transient failure
		// on the final attempt must write the terminal status here, otherwise
		// the record stays in processing with nothing left to move it.
		if activity.GetInfo(ctx).Attempt >= maxIngestAttempts {
			if failErr := a.Ingest.FailFileRecord(ctx, parsed, err.Error()); failErr != nil && a.Log != nil {
				a.Log.Error("Failed to mark record failed after final attempt", "file_id", res.FileID, "error", failErr.Error())
			}
			res.Status = string(types.FileStatusFailed)
		}
		return res, err
	}

	res.Status = string(types.FileStatusProcessed)
	return res, nil
}

func (a *Activities) startHeartbeat(ctx context.Context, fileID uuid.UUID) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(hbCtx, fileID.String())
			}
		}
	}()
	return cancel
}
