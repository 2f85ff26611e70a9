package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zignalhq/zignal-backend/internal/platform/logger"
)

type localStore struct {
	log  *logger.Logger
	root string
}

func NewLocalStore(log *logger.Logger, root string) (ObjectStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, &ConfigError{Code: ConfigErrorMissingLocalRoot, Mode: string(ModeLocal)}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local storage root %q: %w", root, err)
	}
	return &localStore{
		log:  log.With("service", "LocalObjectStore"),
		root: root,
	}, nil
}

// keys are slash-separated; reject anything that escapes the root.
func (s *localStore) pathFor(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key escapes root: %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *localStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *localStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Key: key}
		}
		return nil, err
	}
	return f, nil
}

func (s *localStore) Save(_ context.Context, key string, r io.Reader) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (s *localStore) Delete(_ context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &NotFoundError{Key: key}
		}
		return err
	}
	return nil
}

func (s *localStore) Size(_ context.Context, key string) (int64, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &NotFoundError{Key: key}
		}
		return 0, err
	}
	return info.Size(), nil
}

func (s *localStore) URL(key string) string {
	p, err := s.pathFor(key)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(p)
}
