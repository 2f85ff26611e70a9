package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zignalhq/zignal-backend/internal/db"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/repos"
	"github.com/zignalhq/zignal-backend/internal/temporalx"
	"github.com/zignalhq/zignal-backend/internal/temporalx/fileingest"
	"github.com/zignalhq/zignal-backend/internal/types"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

// Re-enqueues file records the pipeline lost track of: failed records after an
// incident, or pending ones whose original enqueue never reached Temporal.
func main() {
	var files idList
	var status string
	var dryRun bool
	var limit int
	var parallel int
	flag.Var(&files, "file", "file_record id to re-enqueue (repeatable)")
	flag.StringVar(&status, "status", "failed", "status to sweep when no -file is given (pending|failed)")
	flag.BoolVar(&dryRun, "dry-run", false, "print planned work without enqueueing")
	flag.IntVar(&limit, "limit", 0, "limit number of records processed")
	flag.IntVar(&parallel, "parallel", 4, "max concurrent enqueues")
	flag.Parse()

	log, err := logger.New("production")
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		fmt.Printf("init postgres: %v\n", err)
		os.Exit(1)
	}
	fileRepo := repos.NewFileRecordRepo(postgresService.DB(), log)

	ctx := context.Background()

	var rows []*types.FileRecord
	if len(files) > 0 {
		ids := make([]uuid.UUID, 0, len(files))
		for _, s := range files {
			id, err := uuid.Parse(strings.TrimSpace(s))
			if err == nil && id != uuid.Nil {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			fmt.Println("no valid file_record ids provided")
			return
		}
		rows, err = fileRepo.GetByIDs(ctx, nil, ids)
	} else {
		target := types.FileStatus(strings.ToLower(strings.TrimSpace(status)))
		if target != types.FileStatusPending && target != types.FileStatusFailed {
			fmt.Printf("unsupported -status %q (want pending or failed)\n", status)
			os.Exit(1)
		}
		rows, err = fileRepo.GetByStatus(ctx, nil, target, limit)
	}
	if err != nil {
		fmt.Printf("load file records: %v\n", err)
		os.Exit(1)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	if len(rows) == 0 {
		fmt.Println("nothing to do")
		return
	}

	if dryRun {
		for _, r := range rows {
			fmt.Printf("[dry-run] enqueue file_ingest file_id=%s status=%s attempts=%d\n", r.ID.String(), r.Status, r.Attempts)
		}
		fmt.Printf("[dry-run] %d records\n", len(rows))
		return
	}

	tc, err := temporalx.NewClient(log)
	if err != nil || tc == nil {
		fmt.Printf("temporal unavailable (TEMPORAL_ADDRESS missing?): %v\n", err)
		os.Exit(1)
	}
	defer tc.Close()

	queue, err := fileingest.NewQueue(log, tc)
	if err != nil {
		fmt.Printf("init queue: %v\n", err)
		os.Exit(1)
	}

	if parallel < 1 {
		parallel = 1
	}
	var enqueued atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for _, r := range rows {
		record := r
		g.Go(func() error {
			if record.Status == types.FileStatusFailed {
				if err := fileRepo.ResetForRetry(gctx, nil, record.ID); err != nil {
					fmt.Printf("reset failed for %s: %v\n", record.ID.String(), err)
					return nil
				}
			}
			if _, err := queue.EnqueueFileIngest(gctx, record.ID); err != nil {
				fmt.Printf("enqueue failed for %s: %v\n", record.ID.String(), err)
				return nil
			}
			enqueued.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	fmt.Printf("enqueued %d of %d records\n", enqueued.Load(), len(rows))
}
