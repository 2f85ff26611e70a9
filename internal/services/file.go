package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/zignalhq/zignal-backend/internal/pkg/errors"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/platform/objstore"
	"github.com/zignalhq/zignal-backend/internal/repos"
	"github.com/zignalhq/zignal-backend/internal/types"
)

// IngestQueue hands a file record to the async pipeline. The Temporal layer
// implements it; tests swap in a recorder.
type IngestQueue interface {
	EnqueueFileIngest(ctx context.Context, fileID uuid.UUID) (string, error)
}

type UploadFileInput struct {
	OriginalName string
	MimeType     string
	CompanyID    *uuid.UUID
	ProjectID    *uuid.UUID
	FolderID     *uuid.UUID
	Body         io.Reader
	Size         int64
}

type FileService interface {
	Upload(ctx context.Context, input UploadFileInput) (*types.FileRecord, error)
	Get(ctx context.Context, fileID uuid.UUID) (*types.FileRecord, error)
	Retry(ctx context.Context, fileID uuid.UUID) (*types.FileRecord, error)
}

type fileService struct {
	log      *logger.Logger
	fileRepo repos.FileRecordRepo
	resolver *objstore.Resolver
	queue    IngestQueue
}

func NewFileService(baseLog *logger.Logger, fileRepo repos.FileRecordRepo, resolver *objstore.Resolver, queue IngestQueue) FileService {
	return &fileService{
		log:      baseLog.With("service", "FileService"),
		fileRepo: fileRepo,
		resolver: resolver,
		queue:    queue,
	}
}

// Upload persists the bytes, creates the pending record with the key the
// store actually wrote, and enqueues ingestion. An enqueue failure leaves the
// record pending for the backfill tool to pick up.
func (s *fileService) Upload(ctx context.Context, input UploadFileInput) (*types.FileRecord, error) {
	if strings.TrimSpace(input.OriginalName) == "" {
		return nil, fmt.Errorf("%w: original name required", pkgerrors.ErrInvalidArgument)
	}
	if input.Body == nil {
		return nil, fmt.Errorf("%w: file body required", pkgerrors.ErrInvalidArgument)
	}
	if input.CompanyID == nil && input.ProjectID == nil && input.FolderID == nil {
		return nil, fmt.Errorf("%w: a company, project or folder link is required", pkgerrors.ErrInvalidArgument)
	}

	fileID := uuid.New()
	key := fmt.Sprintf("%s/%s", fileID, sanitizeFilename(input.OriginalName))

	canonicalKey, err := s.resolver.Save(ctx, key, input.Body)
	if err != nil {
		return nil, fmt.Errorf("store upload %q: %w", input.OriginalName, err)
	}

	records, err := s.fileRepo.Create(ctx, nil, []*types.FileRecord{{
		ID:           fileID,
		OriginalName: input.OriginalName,
		MimeType:     input.MimeType,
		SizeBytes:    input.Size,
		StorageKey:   canonicalKey,
		FileURL:      s.resolver.URL(canonicalKey),
		CompanyID:    input.CompanyID,
		ProjectID:    input.ProjectID,
		FolderID:     input.FolderID,
		Status:       types.FileStatusPending,
	}})
	if err != nil {
		return nil, fmt.Errorf("create file record for %q: %w", input.OriginalName, err)
	}
	record := records[0]

	runID, err := s.queue.EnqueueFileIngest(ctx, record.ID)
	if err != nil {
		s.log.Error("Failed to enqueue ingestion, record stays pending", "file_id", record.ID.String(), "error", err.Error())
		return record, nil
	}
	s.log.Info("File uploaded and enqueued", "file_id", record.ID.String(), "storage_key", canonicalKey, "run_id", runID)
	return record, nil
}

func (s *fileService) Get(ctx context.Context, fileID uuid.UUID) (*types.FileRecord, error) {
	return s.fileRepo.GetByID(ctx, nil, fileID)
}

// Retry moves a failed record back to pending and re-enqueues it.
func (s *fileService) Retry(ctx context.Context, fileID uuid.UUID) (*types.FileRecord, error) {
	if err := s.fileRepo.ResetForRetry(ctx, nil, fileID); err != nil {
		return nil, fmt.Errorf("reset file %s for retry: %w", fileID, err)
	}

	runID, err := s.queue.EnqueueFileIngest(ctx, fileID)
	if err != nil {
		s.log.Error("Failed to re-enqueue ingestion, record stays pending", "file_id", fileID.String(), "error", err.Error())
	} else {
		s.log.Info("File re-enqueued", "file_id", fileID.String(), "run_id", runID)
	}
	return s.fileRepo.GetByID(ctx, nil, fileID)
}

func sanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		base = "file"
	}
	return base
}
