package objstore

import (
	"context"
	"fmt"
	"io"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
)

// ObjectStore is one byte-addressable backend. Keys are opaque strings; the
// legacy-prefix probing lives in Resolver, not here.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Save(ctx context.Context, key string, r io.Reader) error
	Delete(ctx context.Context, key string) error
	Size(ctx context.Context, key string) (int64, error)
	URL(key string) string
}

// NotFoundError is the definitive "no bytes under this key" answer. It is
// never retryable; transient backend failures surface as plain errors.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "object not found"
	}
	return fmt.Sprintf("object not found: %q", e.Key)
}

func New(log *logger.Logger, cfg Config) (ObjectStore, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeLocal:
		return NewLocalStore(log, cfg.LocalRoot)
	default:
		return NewGCSStore(log, cfg)
	}
}
