package fileingest

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// maxIngestAttempts caps the transient retry budget. The activity checks it
// against its own attempt counter so the last failure writes the terminal
// status before the queue gives up.
const maxIngestAttempts = 3

// Workflow runs a single ingestion. All pipeline retries live in the activity
// retry policy: 60s initial interval doubling per attempt, capped at three
// attempts total. Permanent failures surface as non-retryable application
// errors and stop the workflow immediately.
func Workflow(ctx workflow.Context, fileID string) (IngestResult, error) {
	res := IngestResult{FileID: strings.TrimSpace(fileID)}
	if res.FileID == "" {
		return res, fmt.Errorf("fileingest: missing file_id")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    60 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    maxIngestAttempts,
		},
	})

	if err := workflow.ExecuteActivity(ctx, ActivityIngest, res.FileID).Get(ctx, &res); err != nil {
		return res, err
	}
	return res, nil
}
