package services_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/zignalhq/zignal-backend/internal/pkg/errors"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/platform/objstore"
	"github.com/zignalhq/zignal-backend/internal/platform/openai"
	"github.com/zignalhq/zignal-backend/internal/repos"
	"github.com/zignalhq/zignal-backend/internal/services"
	"github.com/zignalhq/zignal-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

// -------------------- fakes --------------------

type fakeFileRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*types.FileRecord
}

func newFakeFileRepo(records ...*types.FileRecord) *fakeFileRepo {
	m := make(map[uuid.UUID]*types.FileRecord, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return &fakeFileRepo{records: m}
}

func (f *fakeFileRepo) Create(ctx context.Context, tx *gorm.DB, files []*types.FileRecord) ([]*types.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range files {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.Status == "" {
			r.Status = types.FileStatusPending
		}
		f.records[r.ID] = r
	}
	return files, nil
}

func (f *fakeFileRepo) GetByID(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) (*types.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[fileID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeFileRepo) GetByIDs(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) ([]*types.FileRecord, error) {
	var out []*types.FileRecord
	for _, id := range fileIDs {
		if r, err := f.GetByID(ctx, tx, id); err == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFileRepo) GetByStatus(ctx context.Context, tx *gorm.DB, status types.FileStatus, limit int) ([]*types.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.FileRecord
	for _, r := range f.records {
		if r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeFileRepo) GetByCompanyIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.FileRecord, error) {
	return nil, nil
}

func (f *fakeFileRepo) UpdateFields(ctx context.Context, tx *gorm.DB, fileID uuid.UUID, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[fileID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	applyFileFields(r, fields)
	return nil
}

func applyFileFields(r *types.FileRecord, fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "status":
			r.Status = v.(types.FileStatus)
		case "storage_key":
			r.StorageKey = v.(string)
		case "vector_store_file_id":
			s := v.(string)
			r.VectorStoreFileID = &s
		case "last_error":
			r.LastError = v.(string)
		}
	}
}

func (f *fakeFileRepo) MarkProcessing(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[fileID]
	if !ok {
		return false, nil
	}
	if r.Status != types.FileStatusPending && r.Status != types.FileStatusFailed {
		return false, nil
	}
	r.Status = types.FileStatusProcessing
	r.Attempts++
	return true, nil
}

func (f *fakeFileRepo) MarkProcessed(ctx context.Context, tx *gorm.DB, fileID uuid.UUID, vectorStoreFileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[fileID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	r.Status = types.FileStatusProcessed
	r.VectorStoreFileID = &vectorStoreFileID
	r.LastError = ""
	return nil
}

func (f *fakeFileRepo) MarkFailed(ctx context.Context, tx *gorm.DB, fileID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[fileID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	r.Status = types.FileStatusFailed
	r.LastError = reason
	return nil
}

func (f *fakeFileRepo) ResetForRetry(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[fileID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	if r.Status != types.FileStatusFailed {
		return pkgerrors.ErrInvalidArgument
	}
	r.Status = types.FileStatusPending
	r.Attempts = 0
	r.LastError = ""
	return nil
}

func (f *fakeFileRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) error {
	return nil
}

func (f *fakeFileRepo) FullDeleteByIDs(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) error {
	return nil
}

var _ repos.FileRecordRepo = (*fakeFileRepo)(nil)

type fakeCompanyRepo struct {
	mu        sync.Mutex
	companies map[uuid.UUID]*types.Company
	claimWins bool
}

func newFakeCompanyRepo(companies ...*types.Company) *fakeCompanyRepo {
	m := make(map[uuid.UUID]*types.Company, len(companies))
	for _, c := range companies {
		m[c.ID] = c
	}
	return &fakeCompanyRepo{companies: m, claimWins: true}
}

func (f *fakeCompanyRepo) Create(ctx context.Context, tx *gorm.DB, companies []*types.Company) ([]*types.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range companies {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		f.companies[c.ID] = c
	}
	return companies, nil
}

func (f *fakeCompanyRepo) GetByID(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) (*types.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCompanyRepo) GetByIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.Company, error) {
	var out []*types.Company
	for _, id := range companyIDs {
		if c, err := f.GetByID(ctx, tx, id); err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCompanyRepo) ClaimVectorStore(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, vectorStoreID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return false, pkgerrors.ErrNotFound
	}
	if !f.claimWins {
		return false, nil
	}
	if c.VectorStoreID != nil && *c.VectorStoreID != "" {
		return false, nil
	}
	c.VectorStoreID = &vectorStoreID
	return true, nil
}

func (f *fakeCompanyRepo) SetAssistant(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, assistantID string) error {
	return f.UpdateFields(ctx, tx, companyID, map[string]any{"assistant_id": assistantID})
}

func (f *fakeCompanyRepo) UpdateFields(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	if v, ok := fields["assistant_id"]; ok {
		s := v.(string)
		c.AssistantID = &s
	}
	if v, ok := fields["vector_store_id"]; ok {
		s := v.(string)
		c.VectorStoreID = &s
	}
	return nil
}

var _ repos.CompanyRepo = (*fakeCompanyRepo)(nil)

type fakeProjectRepo struct {
	projects map[uuid.UUID]*types.Project
}

func (f *fakeProjectRepo) Create(ctx context.Context, tx *gorm.DB, projects []*types.Project) ([]*types.Project, error) {
	return projects, nil
}

func (f *fakeProjectRepo) GetByID(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) (*types.Project, error) {
	p, ok := f.projects[projectID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return p, nil
}

func (f *fakeProjectRepo) GetByIDs(ctx context.Context, tx *gorm.DB, projectIDs []uuid.UUID) ([]*types.Project, error) {
	var out []*types.Project
	for _, id := range projectIDs {
		if p, err := f.GetByID(ctx, tx, id); err == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProjectRepo) GetByCompanyIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.Project, error) {
	return nil, nil
}

var _ repos.ProjectRepo = (*fakeProjectRepo)(nil)

type fakeFolderRepo struct {
	folders map[uuid.UUID]*types.Folder
}

func (f *fakeFolderRepo) Create(ctx context.Context, tx *gorm.DB, folders []*types.Folder) ([]*types.Folder, error) {
	return folders, nil
}

func (f *fakeFolderRepo) GetByID(ctx context.Context, tx *gorm.DB, folderID uuid.UUID) (*types.Folder, error) {
	fo, ok := f.folders[folderID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return fo, nil
}

func (f *fakeFolderRepo) GetByIDs(ctx context.Context, tx *gorm.DB, folderIDs []uuid.UUID) ([]*types.Folder, error) {
	var out []*types.Folder
	for _, id := range folderIDs {
		if fo, err := f.GetByID(ctx, tx, id); err == nil {
			out = append(out, fo)
		}
	}
	return out, nil
}

func (f *fakeFolderRepo) GetByCompanyIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.Folder, error) {
	return nil, nil
}

var _ repos.FolderRepo = (*fakeFolderRepo)(nil)

// fakeProviderClient counts calls and injects errors per operation.
type fakeProviderClient struct {
	mu sync.Mutex

	createVectorStoreErr error
	createAssistantErr   error
	attachErr            error
	uploadErr            error

	vectorStoresCreated int
	vectorStoresDeleted int
	filesUploaded       int
	filesAttached       int
	threadsCreated      int
	threadAttachments   int

	assistantsCreated int
	assistantStoreIDs []string
}

func (f *fakeProviderClient) CreateVectorStore(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createVectorStoreErr != nil {
		return "", f.createVectorStoreErr
	}
	f.vectorStoresCreated++
	return fmt.Sprintf("vs_%d", f.vectorStoresCreated), nil
}

func (f *fakeProviderClient) DeleteVectorStore(ctx context.Context, vectorStoreID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectorStoresDeleted++
	return nil
}

func (f *fakeProviderClient) UploadFile(ctx context.Context, filename string, body io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	f.filesUploaded++
	return fmt.Sprintf("file_%d", f.filesUploaded), nil
}

func (f *fakeProviderClient) AttachFileToVectorStore(ctx context.Context, vectorStoreID, fileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return "", f.attachErr
	}
	f.filesAttached++
	return "vsf_" + fileID, nil
}

func (f *fakeProviderClient) CreateAssistant(ctx context.Context, name, instructions, vectorStoreID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createAssistantErr != nil {
		return "", f.createAssistantErr
	}
	f.assistantsCreated++
	f.assistantStoreIDs = append(f.assistantStoreIDs, vectorStoreID)
	return fmt.Sprintf("asst_%d", f.assistantsCreated), nil
}

func (f *fakeProviderClient) CreateThread(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadsCreated++
	return fmt.Sprintf("thread_%d", f.threadsCreated), nil
}

func (f *fakeProviderClient) AttachFileToThread(ctx context.Context, threadID, fileID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadAttachments++
	return fmt.Sprintf("msg_%d", f.threadAttachments), nil
}

var _ openai.Client = (*fakeProviderClient)(nil)

// fakeStore backs the resolver in tests. Sizes can be overridden to simulate
// objects far larger than the test wants to materialize.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	sizes   map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, sizes: map[string]int64{}}
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, &objstore.NotFoundError{Key: key}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Save(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) Size(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sz, ok := s.sizes[key]; ok {
		return sz, nil
	}
	data, ok := s.objects[key]
	if !ok {
		return 0, &objstore.NotFoundError{Key: key}
	}
	return int64(len(data)), nil
}

func (s *fakeStore) URL(key string) string { return "https://files.test/" + key }

var _ objstore.ObjectStore = (*fakeStore)(nil)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) NotifyStatus(ctx context.Context, fileID uuid.UUID, status types.FileStatus, errMsg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, string(status))
}

// -------------------- harness --------------------

type ingestHarness struct {
	fileRepo    *fakeFileRepo
	companyRepo *fakeCompanyRepo
	projectRepo *fakeProjectRepo
	folderRepo  *fakeFolderRepo
	provider    *fakeProviderClient
	store       *fakeStore
	notifier    *recordingNotifier
	svc         services.IngestService
}

func newIngestHarness(t *testing.T, records []*types.FileRecord, companies []*types.Company) *ingestHarness {
	t.Helper()
	log := testLogger(t)

	h := &ingestHarness{
		fileRepo:    newFakeFileRepo(records...),
		companyRepo: newFakeCompanyRepo(companies...),
		projectRepo: &fakeProjectRepo{projects: map[uuid.UUID]*types.Project{}},
		folderRepo:  &fakeFolderRepo{folders: map[uuid.UUID]*types.Folder{}},
		provider:    &fakeProviderClient{},
		store:       newFakeStore(),
		notifier:    &recordingNotifier{},
	}

	resolver := objstore.NewResolver(log, h.store, "media/")
	vs := services.NewVectorStoreService(log, h.provider, h.companyRepo)
	h.svc = services.NewIngestService(log, h.fileRepo, h.companyRepo, h.projectRepo, h.folderRepo, vs, resolver, h.notifier)
	return h
}

// -------------------- tests --------------------

func TestIngestHappyPathWithLegacyPrefix(t *testing.T) {
	company := &types.Company{ID: uuid.New(), Name: "Acme"}
	file := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: "report.pdf",
		MimeType:     "application/pdf",
		StorageKey:   "report.pdf",
		CompanyID:    &company.ID,
		Status:       types.FileStatusPending,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, []*types.Company{company})
	// The object lives under the legacy prefix while the record carries the
	// bare key.
	h.store.objects["media/report.pdf"] = bytes.Repeat([]byte("x"), 1200)

	if err := h.svc.IngestFileRecord(context.Background(), file.ID); err != nil {
		t.Fatalf("IngestFileRecord: %v", err)
	}

	got, err := h.fileRepo.GetByID(context.Background(), nil, file.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Status != types.FileStatusProcessed {
		t.Fatalf("expected processed, got %s (last_error=%q)", got.Status, got.LastError)
	}
	if got.VectorStoreFileID == nil || *got.VectorStoreFileID == "" {
		t.Fatalf("expected external ref to be recorded")
	}
	if got.StorageKey != "media/report.pdf" {
		t.Fatalf("expected storage key rewritten to resolved candidate, got %q", got.StorageKey)
	}
	if h.provider.vectorStoresCreated != 1 {
		t.Fatalf("expected 1 vector store created, got %d", h.provider.vectorStoresCreated)
	}
	if h.provider.filesAttached != 1 {
		t.Fatalf("expected 1 attachment, got %d", h.provider.filesAttached)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0] != string(types.FileStatusProcessed) {
		t.Fatalf("expected a processed notification, got %v", h.notifier.events)
	}
}

func TestIngestIdempotentShortCircuit(t *testing.T) {
	company := &types.Company{ID: uuid.New(), Name: "Acme"}
	ref := "vsf_existing"
	file := &types.FileRecord{
		ID:                uuid.New(),
		OriginalName:      "report.pdf",
		StorageKey:        "media/report.pdf",
		CompanyID:         &company.ID,
		Status:            types.FileStatusFailed,
		VectorStoreFileID: &ref,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, []*types.Company{company})

	if err := h.svc.IngestFileRecord(context.Background(), file.ID); err != nil {
		t.Fatalf("IngestFileRecord: %v", err)
	}

	if h.provider.filesUploaded != 0 || h.provider.vectorStoresCreated != 0 {
		t.Fatalf("provider must not be called for an already-ingested record")
	}
	got, _ := h.fileRepo.GetByID(context.Background(), nil, file.ID)
	if got.Status != types.FileStatusProcessed {
		t.Fatalf("expected status repaired to processed, got %s", got.Status)
	}
}

func TestIngestTenantUnresolvable(t *testing.T) {
	file := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: "orphan.pdf",
		StorageKey:   "media/orphan.pdf",
		Status:       types.FileStatusPending,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, nil)
	h.store.objects["media/orphan.pdf"] = []byte("data")

	err := h.svc.IngestFileRecord(context.Background(), file.ID)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("tenant-unresolvable must be permanent, got %v", err)
	}

	got, _ := h.fileRepo.GetByID(context.Background(), nil, file.ID)
	if got.Status != types.FileStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.LastError == "" {
		t.Fatalf("expected last_error to be recorded")
	}
}

func TestIngestTenantWalkThroughProject(t *testing.T) {
	company := &types.Company{ID: uuid.New(), Name: "Acme"}
	project := &types.Project{ID: uuid.New(), CompanyID: company.ID}
	file := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: "scoped.txt",
		StorageKey:   "media/scoped.txt",
		ProjectID:    &project.ID,
		Status:       types.FileStatusPending,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, []*types.Company{company})
	h.projectRepo.projects[project.ID] = project
	h.store.objects["media/scoped.txt"] = []byte("hello")

	if err := h.svc.IngestFileRecord(context.Background(), file.ID); err != nil {
		t.Fatalf("IngestFileRecord: %v", err)
	}
	got, _ := h.fileRepo.GetByID(context.Background(), nil, file.ID)
	if got.Status != types.FileStatusProcessed {
		t.Fatalf("expected processed, got %s", got.Status)
	}
}

func TestIngestMissingBytesIsPermanent(t *testing.T) {
	company := &types.Company{ID: uuid.New(), Name: "Acme"}
	file := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: "ghost.pdf",
		StorageKey:   "media/ghost.pdf",
		CompanyID:    &company.ID,
		Status:       types.FileStatusPending,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, []*types.Company{company})

	err := h.svc.IngestFileRecord(context.Background(), file.ID)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("missing bytes must be permanent, got %v", err)
	}
	if h.provider.filesUploaded != 0 {
		t.Fatalf("provider must not be called when bytes are missing")
	}
}

func TestIngestTooLargeIsPermanent(t *testing.T) {
	company := &types.Company{ID: uuid.New(), Name: "Acme"}
	file := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: "huge.bin",
		StorageKey:   "media/huge.bin",
		CompanyID:    &company.ID,
		Status:       types.FileStatusPending,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, []*types.Company{company})
	h.store.objects["media/huge.bin"] = []byte("stub")
	h.store.sizes["media/huge.bin"] = openai.MaxFileBytes + 1

	err := h.svc.IngestFileRecord(context.Background(), file.ID)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("oversize must be permanent, got %v", err)
	}
	if h.provider.filesUploaded != 0 {
		t.Fatalf("provider must not see an oversize file")
	}
	got, _ := h.fileRepo.GetByID(context.Background(), nil, file.ID)
	if got.Status != types.FileStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestIngestTransientProviderErrorIsRetryable(t *testing.T) {
	company := &types.Company{ID: uuid.New(), Name: "Acme"}
	file := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: "flaky.pdf",
		StorageKey:   "media/flaky.pdf",
		CompanyID:    &company.ID,
		Status:       types.FileStatusPending,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, []*types.Company{company})
	h.store.objects["media/flaky.pdf"] = []byte("data")
	h.provider.uploadErr = &openai.ProviderError{Kind: openai.KindRateLimit, StatusCode: 429, Message: "slow down"}

	err := h.svc.IngestFileRecord(context.Background(), file.ID)
	if err == nil {
		t.Fatalf("expected error")
	}
	if services.IsPermanent(err) {
		t.Fatalf("rate limit must be retryable, got permanent: %v", err)
	}

	// Record stays in processing for the queue to re-run.
	got, _ := h.fileRepo.GetByID(context.Background(), nil, file.ID)
	if got.Status != types.FileStatusProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}
}

func TestIngestFallsBackToThreadWhenUnsupported(t *testing.T) {
	company := &types.Company{ID: uuid.New(), Name: "Acme"}
	file := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: "fallback.pdf",
		StorageKey:   "media/fallback.pdf",
		CompanyID:    &company.ID,
		Status:       types.FileStatusPending,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, []*types.Company{company})
	h.store.objects["media/fallback.pdf"] = []byte("data")
	h.provider.createVectorStoreErr = &openai.ProviderError{Kind: openai.KindUnsupported, StatusCode: 403, Message: "not on this plan"}

	if err := h.svc.IngestFileRecord(context.Background(), file.ID); err != nil {
		t.Fatalf("IngestFileRecord: %v", err)
	}

	if h.provider.threadAttachments != 1 {
		t.Fatalf("expected a thread attachment fallback, got %d", h.provider.threadAttachments)
	}
	got, _ := h.fileRepo.GetByID(context.Background(), nil, file.ID)
	if got.Status != types.FileStatusProcessed {
		t.Fatalf("expected processed, got %s", got.Status)
	}
	if got.VectorStoreFileID == nil || !strings.HasPrefix(*got.VectorStoreFileID, "file_") {
		t.Fatalf("expected the provider file id as external ref, got %v", got.VectorStoreFileID)
	}
}

func TestIngestUnknownRecordIsPermanent(t *testing.T) {
	h := newIngestHarness(t, nil, nil)
	err := h.svc.IngestFileRecord(context.Background(), uuid.New())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("unknown record must be permanent, got %v", err)
	}
}

func TestIngestKnowledgeBaseFailureFailsRecord(t *testing.T) {
	company := &types.Company{ID: uuid.New(), Name: "Acme"}
	file := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: "doc.pdf",
		StorageKey:   "media/doc.pdf",
		CompanyID:    &company.ID,
		Status:       types.FileStatusPending,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, []*types.Company{company})
	h.store.objects["media/doc.pdf"] = []byte("data")
	h.provider.createVectorStoreErr = &openai.ProviderError{Kind: openai.KindRateLimit, StatusCode: 429, Message: "slow down"}

	err := h.svc.IngestFileRecord(context.Background(), file.ID)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("knowledge base failure must be permanent, got %v", err)
	}

	got, _ := h.fileRepo.GetByID(context.Background(), nil, file.ID)
	if got.Status != types.FileStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.LastError == "" {
		t.Fatalf("expected last_error to be recorded")
	}
}

func TestFailFileRecordWritesTerminalStatus(t *testing.T) {
	file := &types.FileRecord{
		ID:           uuid.New(),
		OriginalName: "stuck.pdf",
		StorageKey:   "media/stuck.pdf",
		Status:       types.FileStatusProcessing,
	}

	h := newIngestHarness(t, []*types.FileRecord{file}, nil)

	if err := h.svc.FailFileRecord(context.Background(), file.ID, "provider timed out"); err != nil {
		t.Fatalf("FailFileRecord: %v", err)
	}

	got, _ := h.fileRepo.GetByID(context.Background(), nil, file.ID)
	if got.Status != types.FileStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.LastError != "provider timed out" {
		t.Fatalf("expected the reason in last_error, got %q", got.LastError)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0] != string(types.FileStatusFailed) {
		t.Fatalf("expected a failed notification, got %v", h.notifier.events)
	}

	// The terminal write unblocks the repair path: failed records can be
	// reset and re-enqueued.
	if err := h.fileRepo.ResetForRetry(context.Background(), nil, file.ID); err != nil {
		t.Fatalf("ResetForRetry after terminal failure: %v", err)
	}
}
