package objstore

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
)

// Resolver wraps a backend with the legacy key-prefix search. Historical
// records carry keys both with and without the tenant-wide prefix, so reads
// probe up to three candidates: as given, with the prefix, without it. This
// is a migration shim; writes always go to the canonical (prefixed) key and
// Save returns the key actually used, which callers must persist.
type Resolver struct {
	log    *logger.Logger
	store  ObjectStore
	prefix string
}

func NewResolver(log *logger.Logger, store ObjectStore, prefix string) *Resolver {
	return &Resolver{
		log:    log.With("service", "StorageResolver"),
		store:  store,
		prefix: strings.TrimLeft(strings.TrimSpace(prefix), "/"),
	}
}

// Backend exposes the wrapped store for operations that bypass candidate
// probing (delete, size, url on an already-canonical key).
func (r *Resolver) Backend() ObjectStore { return r.store }

func (r *Resolver) CanonicalKey(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if r.prefix == "" || strings.HasPrefix(key, r.prefix) {
		return key
	}
	return r.prefix + key
}

func (r *Resolver) candidateKeys(key string) []string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	out := []string{key}
	if r.prefix == "" {
		return out
	}
	if strings.HasPrefix(key, r.prefix) {
		if stripped := strings.TrimPrefix(key, r.prefix); stripped != "" && stripped != key {
			out = append(out, stripped)
		}
	} else if key != "" {
		out = append(out, r.prefix+key)
	}
	return out
}

// Exists probes all candidate keys. A transient backend error aborts the
// probe and propagates so the caller can retry.
func (r *Resolver) Exists(ctx context.Context, key string) (bool, error) {
	for _, k := range r.candidateKeys(key) {
		ok, err := r.store.Exists(ctx, k)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Open returns the content stream and the key it actually resolved under.
// *NotFoundError is returned only after every candidate misses definitively.
func (r *Resolver) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	candidates := r.candidateKeys(key)
	for i, k := range candidates {
		rc, err := r.store.Open(ctx, k)
		if err == nil {
			if i > 0 {
				r.log.Warn("Storage key resolved via legacy candidate",
					"requested_key", key,
					"resolved_key", k,
				)
			}
			return rc, k, nil
		}
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			return nil, "", err
		}
	}
	return nil, "", &NotFoundError{Key: key}
}

// Save writes under the canonical key and returns it. Callers persist the
// returned key, never the requested one.
func (r *Resolver) Save(ctx context.Context, key string, body io.Reader) (string, error) {
	canonical := r.CanonicalKey(key)
	if err := r.store.Save(ctx, canonical, body); err != nil {
		return "", err
	}
	return canonical, nil
}

func (r *Resolver) Size(ctx context.Context, key string) (int64, string, error) {
	candidates := r.candidateKeys(key)
	for _, k := range candidates {
		n, err := r.store.Size(ctx, k)
		if err == nil {
			return n, k, nil
		}
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			return 0, "", err
		}
	}
	return 0, "", &NotFoundError{Key: key}
}

func (r *Resolver) URL(key string) string {
	return r.store.URL(r.CanonicalKey(key))
}
