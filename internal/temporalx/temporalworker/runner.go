package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/services"
	"github.com/zignalhq/zignal-backend/internal/temporalx"
	"github.com/zignalhq/zignal-backend/internal/temporalx/fileingest"
	"github.com/zignalhq/zignal-backend/internal/utils"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Runner owns the ingestion worker: it registers the workflow and activity on
// the configured task queue and keeps retrying worker start until the queue
// is pollable.
type Runner struct {
	log *logger.Logger

	tc     temporalsdkclient.Client
	ingest services.IngestService
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, ingest services.IngestService) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if ingest == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{
		log:    log,
		tc:     tc,
		ingest: ingest,
	}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := temporalx.LoadConfig(r.log)
	if r.log != nil {
		r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	if cfg.AutoRegisterNamespace {
		if err := temporalx.EnsureNamespace(ctx, r.tc, cfg, r.log); err != nil && r.log != nil {
			r.log.Warn("Temporal namespace ensure failed; worker start will retry", "namespace", cfg.Namespace, "error", err)
		}
	}

	maxWait := time.Duration(utils.GetEnvAsInt("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60, r.log)) * time.Second
	deadline := time.Now().Add(maxWait)
	sleep := cfg.Backoff

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w := r.newWorker(cfg)
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			if r.log != nil {
				r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) {
			if cfg.AutoRegisterNamespace {
				// Registration may still be propagating; ensure again and
				// take another lap.
				_ = temporalx.EnsureNamespace(ctx, r.tc, cfg, r.log)
			} else if maxWait <= 0 || time.Now().After(deadline) {
				// Without auto-register a missing namespace never heals.
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			return startErr
		}
		if r.log != nil {
			r.log.Warn("Temporal worker failed to start; retrying", "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		}

		if sleep <= 0 {
			sleep = 250 * time.Millisecond
		}
		time.Sleep(sleep)
		sleep *= 2
		if cfg.BackoffMax > 0 && sleep > cfg.BackoffMax {
			sleep = cfg.BackoffMax
		}
	}
}

func (r *Runner) newWorker(cfg temporalx.Config) worker.Worker {
	concurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, r.log)
	if concurrency < 1 {
		concurrency = 1
	}

	// Provider rate limit is enforced queue-wide: ingestions per minute across
	// every worker polling this task queue.
	ratePerMinute := utils.GetEnvAsInt("INGEST_RATE_PER_MINUTE", 5, r.log)
	if ratePerMinute < 1 {
		ratePerMinute = 1
	}

	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
		TaskQueueActivitiesPerSecond:           float64(ratePerMinute) / 60.0,
	})

	acts := &fileingest.Activities{
		Log:    r.log,
		Ingest: r.ingest,
	}

	w.RegisterWorkflowWithOptions(fileingest.Workflow, workflow.RegisterOptions{Name: fileingest.WorkflowName})
	w.RegisterActivityWithOptions(acts.Run, activity.RegisterOptions{Name: fileingest.ActivityIngest})
	return w
}
