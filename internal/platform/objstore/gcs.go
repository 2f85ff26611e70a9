package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
)

type gcsStore struct {
	log          *logger.Logger
	client       *storage.Client
	bucket       string
	mode         Mode
	emulatorHost string
}

func NewGCSStore(log *logger.Logger, cfg Config) (ObjectStore, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	ctx := context.Background()

	var client *storage.Client
	var err error
	switch cfg.Mode {
	case ModeGCS:
		client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	case ModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		client, err = storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ConfigError{Code: ConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	storeLog := log.With("service", "GCSObjectStore")
	storeLog.Info("Object storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"bucket", cfg.Bucket,
		"emulator_host", cfg.EmulatorHost,
	)

	return &gcsStore{
		log:          storeLog,
		client:       client,
		bucket:       cfg.Bucket,
		mode:         cfg.Mode,
		emulatorHost: strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"),
	}, nil
}

// Do NOT `defer cancel()` before returning the reader: the context would be
// canceled immediately and callers read 0 bytes. The cancel is attached to
// the reader's Close instead.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (s *gcsStore) isEmulatorMode() bool {
	return s != nil && s.mode == ModeGCSEmulator && strings.TrimSpace(s.emulatorHost) != ""
}

func (s *gcsStore) emulatorObjectMediaURL(key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		s.emulatorHost,
		url.PathEscape(s.bucket),
		url.PathEscape(key),
	)
}

func (s *gcsStore) emulatorObjectMetaURL(key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s",
		s.emulatorHost,
		url.PathEscape(s.bucket),
		url.PathEscape(key),
	)
}

func (s *gcsStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Size(ctx, key)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *gcsStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.isEmulatorMode() {
		ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, s.emulatorObjectMediaURL(key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			cancel()
			return nil, &NotFoundError{Key: key}
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}

	// Context must stay alive for the life of the reader; cancel on Close.
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &NotFoundError{Key: key}
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *gcsStore) Save(ctx context.Context, key string, r io.Reader) error {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx2)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *gcsStore) Delete(ctx context.Context, key string) error {
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	o := s.client.Bucket(s.bucket).Object(key)
	if err := o.Delete(ctx2); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return &NotFoundError{Key: key}
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

func (s *gcsStore) Size(ctx context.Context, key string) (int64, error) {
	if s.isEmulatorMode() {
		ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, s.emulatorObjectMetaURL(key), nil)
		if err != nil {
			return 0, fmt.Errorf("failed creating emulator attrs request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("failed emulator attrs request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return 0, &NotFoundError{Key: key}
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return 0, fmt.Errorf("emulator attrs failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var payload struct {
			Size string `json:"size"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return 0, fmt.Errorf("decode emulator attrs: %w", err)
		}
		size, _ := strconv.ParseInt(strings.TrimSpace(payload.Size), 10, 64)
		return size, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx2)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, &NotFoundError{Key: key}
		}
		return 0, fmt.Errorf("failed to fetch GCS object attrs: %w", err)
	}
	return attrs.Size, nil
}

func (s *gcsStore) URL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.isEmulatorMode() {
		return s.emulatorObjectMediaURL(key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

func contentTypeForKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return ""
	}
	if i := strings.Index(k, "?"); i >= 0 {
		k = k[:i]
	}
	switch {
	case strings.HasSuffix(k, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(k, ".txt"):
		return "text/plain"
	case strings.HasSuffix(k, ".md"):
		return "text/markdown"
	case strings.HasSuffix(k, ".json"):
		return "application/json"
	case strings.HasSuffix(k, ".csv"):
		return "text/csv"
	case strings.HasSuffix(k, ".png"):
		return "image/png"
	case strings.HasSuffix(k, ".jpg"), strings.HasSuffix(k, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(k, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return ""
	}
}
