package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/zignalhq/zignal-backend/internal/pkg/errors"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/platform/objstore"
	"github.com/zignalhq/zignal-backend/internal/platform/openai"
	"github.com/zignalhq/zignal-backend/internal/repos"
	"github.com/zignalhq/zignal-backend/internal/types"
)

// PermanentError marks a failure that retrying cannot fix. The activity layer
// maps it to a non-retryable application error so the queue stops re-running
// the work.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

func permanent(reason string, err error) *PermanentError {
	return &PermanentError{Reason: reason, Err: err}
}

// IsPermanent reports whether err (anywhere in its chain) is a failure that
// must not be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

type IngestService interface {
	IngestFileRecord(ctx context.Context, fileID uuid.UUID) error
	FailFileRecord(ctx context.Context, fileID uuid.UUID, reason string) error
}

type ingestService struct {
	log         *logger.Logger
	fileRepo    repos.FileRecordRepo
	companyRepo repos.CompanyRepo
	projectRepo repos.ProjectRepo
	folderRepo  repos.FolderRepo
	vectorStore VectorStoreService
	resolver    *objstore.Resolver
	notifier    IngestNotifier

	httpClient *http.Client
}

func NewIngestService(
	baseLog *logger.Logger,
	fileRepo repos.FileRecordRepo,
	companyRepo repos.CompanyRepo,
	projectRepo repos.ProjectRepo,
	folderRepo repos.FolderRepo,
	vectorStore VectorStoreService,
	resolver *objstore.Resolver,
	notifier IngestNotifier,
) IngestService {
	return &ingestService{
		log:         baseLog.With("service", "IngestService"),
		fileRepo:    fileRepo,
		companyRepo: companyRepo,
		projectRepo: projectRepo,
		folderRepo:  folderRepo,
		vectorStore: vectorStore,
		resolver:    resolver,
		notifier:    notifier,
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// IngestFileRecord runs the full pipeline for one record: claim, tenant
// resolution, byte resolution, provider upload, terminal bookkeeping.
// Transient failures return plain errors and leave the record in processing
// so the queue can re-run the work; permanent failures mark the record failed
// and return a *PermanentError.
func (s *ingestService) IngestFileRecord(ctx context.Context, fileID uuid.UUID) error {
	file, err := s.fileRepo.GetByID(ctx, nil, fileID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return permanent(fmt.Sprintf("file record %s not found", fileID), err)
		}
		return fmt.Errorf("load file record %s: %w", fileID, err)
	}

	// Already ingested: a non-null external ref is the source of truth, even
	// when a crash left the status behind.
	if file.VectorStoreFileID != nil && *file.VectorStoreFileID != "" {
		if file.Status != types.FileStatusProcessed {
			if err := s.fileRepo.MarkProcessed(ctx, nil, file.ID, *file.VectorStoreFileID); err != nil {
				return fmt.Errorf("repair processed status for %s: %w", file.ID, err)
			}
		}
		s.log.Info("File already ingested, skipping", "file_id", file.ID.String())
		return nil
	}

	claimed, err := s.fileRepo.MarkProcessing(ctx, nil, file.ID)
	if err != nil {
		return fmt.Errorf("claim file record %s: %w", file.ID, err)
	}
	if !claimed {
		switch file.Status {
		case types.FileStatusProcessing:
			// Our own earlier attempt; the queue re-delivered. Continue.
		case types.FileStatusProcessed, types.FileStatusSkipped:
			return nil
		default:
			return permanent(fmt.Sprintf("file record %s not claimable from status %s", file.ID, file.Status), nil)
		}
	}

	if err := s.ingest(ctx, file); err != nil {
		if IsPermanent(err) {
			s.failPermanently(ctx, file.ID, err)
			return err
		}
		s.log.Warn("Transient ingestion failure, leaving record for retry", "file_id", file.ID.String(), "error", err.Error())
		return err
	}
	return nil
}

func (s *ingestService) ingest(ctx context.Context, file *types.FileRecord) error {
	company, err := s.resolveCompany(ctx, file)
	if err != nil {
		return err
	}

	body, size, cleanup, err := s.resolveBytes(ctx, file)
	if err != nil {
		return err
	}
	defer cleanup()

	ref, err := s.vectorStore.UploadFileToKnowledgeBase(ctx, nil, company, file.OriginalName, size, body)
	if err != nil {
		if IsPermanent(err) {
			return err
		}
		var tooLarge *TooLargeError
		if errors.As(err, &tooLarge) {
			return permanent(fmt.Sprintf("file %s too large for provider", file.ID), err)
		}
		var pe *openai.ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			return permanent(fmt.Sprintf("provider rejected file %s", file.ID), err)
		}
		return fmt.Errorf("upload file %s to knowledge base: %w", file.ID, err)
	}

	if err := s.fileRepo.MarkProcessed(ctx, nil, file.ID, ref.ExternalRef()); err != nil {
		return fmt.Errorf("mark file %s processed: %w", file.ID, err)
	}
	s.notifier.NotifyStatus(ctx, file.ID, types.FileStatusProcessed, "")
	s.log.Info("File ingested",
		"file_id", file.ID.String(),
		"company_id", company.ID.String(),
		"external_ref", ref.ExternalRef(),
		"size_bytes", size,
	)
	return nil
}

// resolveCompany walks the tenant links: direct company, then through the
// project, then through the folder. A record attached to none of them can
// never be ingested.
func (s *ingestService) resolveCompany(ctx context.Context, file *types.FileRecord) (*types.Company, error) {
	companyID := file.CompanyID
	if companyID == nil && file.ProjectID != nil {
		project, err := s.projectRepo.GetByID(ctx, nil, *file.ProjectID)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrNotFound) {
				return nil, permanent(fmt.Sprintf("project %s for file %s not found", *file.ProjectID, file.ID), pkgerrors.ErrTenantUnresolvable)
			}
			return nil, fmt.Errorf("load project %s: %w", *file.ProjectID, err)
		}
		companyID = &project.CompanyID
	}
	if companyID == nil && file.FolderID != nil {
		folder, err := s.folderRepo.GetByID(ctx, nil, *file.FolderID)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrNotFound) {
				return nil, permanent(fmt.Sprintf("folder %s for file %s not found", *file.FolderID, file.ID), pkgerrors.ErrTenantUnresolvable)
			}
			return nil, fmt.Errorf("load folder %s: %w", *file.FolderID, err)
		}
		companyID = &folder.CompanyID
	}
	if companyID == nil {
		return nil, permanent(fmt.Sprintf("file %s has no company, project or folder link", file.ID), pkgerrors.ErrTenantUnresolvable)
	}

	company, err := s.companyRepo.GetByID(ctx, nil, *companyID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, permanent(fmt.Sprintf("company %s for file %s not found", *companyID, file.ID), pkgerrors.ErrTenantUnresolvable)
		}
		return nil, fmt.Errorf("load company %s: %w", *companyID, err)
	}
	return company, nil
}

// resolveBytes locates the file content. Order: an absolute local path still
// on this host's disk, then the object store under its candidate keys, then
// a direct download of the stored URL. Returned cleanup removes any temp
// file and closes the reader.
func (s *ingestService) resolveBytes(ctx context.Context, file *types.FileRecord) (io.Reader, int64, func(), error) {
	if filepath.IsAbs(file.StorageKey) {
		if info, err := os.Stat(file.StorageKey); err == nil && !info.IsDir() {
			f, err := os.Open(file.StorageKey)
			if err != nil {
				return nil, 0, nil, fmt.Errorf("open local file %s: %w", file.StorageKey, err)
			}
			return f, info.Size(), func() { _ = f.Close() }, nil
		}
	}

	if file.StorageKey != "" {
		size, resolvedKey, err := s.resolver.Size(ctx, file.StorageKey)
		if err == nil {
			rc, openedKey, openErr := s.resolver.Open(ctx, resolvedKey)
			if openErr != nil {
				return nil, 0, nil, fmt.Errorf("open object %s: %w", resolvedKey, openErr)
			}
			if openedKey != file.StorageKey {
				if upErr := s.fileRepo.UpdateFields(ctx, nil, file.ID, map[string]any{"storage_key": openedKey}); upErr != nil {
					s.log.Warn("Failed to persist resolved storage key", "file_id", file.ID.String(), "storage_key", openedKey, "error", upErr.Error())
				}
			}
			return rc, size, func() { _ = rc.Close() }, nil
		}
		var notFound *objstore.NotFoundError
		if !errors.As(err, &notFound) {
			// Storage is unreachable, not empty: retryable.
			return nil, 0, nil, fmt.Errorf("stat object %s: %w", file.StorageKey, err)
		}
	}

	if file.FileURL != "" {
		return s.downloadToTemp(ctx, file)
	}

	return nil, 0, nil, permanent(fmt.Sprintf("no source bytes for file %s", file.ID), nil)
}

func (s *ingestService) downloadToTemp(ctx context.Context, file *types.FileRecord) (io.Reader, int64, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.FileURL, nil)
	if err != nil {
		return nil, 0, nil, permanent(fmt.Sprintf("bad file url for %s", file.ID), err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("download %s: %w", file.FileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, 0, nil, permanent(fmt.Sprintf("file url for %s is gone (%d)", file.ID, resp.StatusCode), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, nil, fmt.Errorf("download %s: unexpected status %d", file.FileURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "zignal-ingest-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("spool download for %s: %w", file.ID, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("rewind temp file: %w", err)
	}
	return tmp, size, cleanup, nil
}

// FailFileRecord writes the terminal failed status and notifies listeners.
// The queue calls it once the retry budget for a transient failure runs out,
// so a record never stays parked in processing after the last attempt.
func (s *ingestService) FailFileRecord(ctx context.Context, fileID uuid.UUID, reason string) error {
	if err := s.fileRepo.MarkFailed(ctx, nil, fileID, reason); err != nil {
		return fmt.Errorf("mark file %s failed: %w", fileID, err)
	}
	s.notifier.NotifyStatus(ctx, fileID, types.FileStatusFailed, reason)
	return nil
}

func (s *ingestService) failPermanently(ctx context.Context, fileID uuid.UUID, cause error) {
	if err := s.FailFileRecord(ctx, fileID, cause.Error()); err != nil {
		s.log.Error("Failed to mark file record failed", "file_id", fileID.String(), "error", err.Error())
	}
}
