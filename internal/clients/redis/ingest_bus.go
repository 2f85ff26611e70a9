package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/types"
)

// IngestEvent is broadcast whenever a file record reaches a terminal status,
// so API nodes can push live updates without polling Postgres.
type IngestEvent struct {
	FileID uuid.UUID        `json:"file_id"`
	Status types.FileStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

type IngestBus interface {
	Publish(ctx context.Context, ev IngestEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev IngestEvent)) error
	Close() error
}

type ingestBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewIngestBus(log *logger.Logger) (IngestBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_INGEST_CHANNEL"))
	if ch == "" {
		ch = "ingest"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &ingestBus{
		log:     log.With("service", "RedisIngestBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *ingestBus) Publish(ctx context.Context, ev IngestEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis ingest bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *ingestBus) StartForwarder(ctx context.Context, onEvent func(ev IngestEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis ingest bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev IngestEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad redis ingest payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func (b *ingestBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
