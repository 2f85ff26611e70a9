package fileingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/temporalx"
)

// Queue starts ingest workflows. The workflow id is derived from the file id:
// re-enqueueing the same record while a run is still open is a no-op, and a
// finished run can be started again for retries.
type Queue struct {
	log *logger.Logger
	tc  temporalsdkclient.Client
}

func NewQueue(log *logger.Logger, tc temporalsdkclient.Client) (*Queue, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	return &Queue{log: log.With("service", "FileIngestQueue"), tc: tc}, nil
}

func (q *Queue) EnqueueFileIngest(ctx context.Context, fileID uuid.UUID) (string, error) {
	if q == nil || q.tc == nil {
		return "", fmt.Errorf("fileingest queue not initialized")
	}
	cfg := temporalx.LoadConfig(q.log)

	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    "file-ingest-" + fileID.String(),
		TaskQueue:             cfg.TaskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}

	run, err := q.tc.ExecuteWorkflow(ctx, opts, WorkflowName, fileID.String())
	if err != nil {
		return "", fmt.Errorf("start ingest workflow for %s: %w", fileID, err)
	}
	return run.GetRunID(), nil
}
