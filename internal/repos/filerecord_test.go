package repos_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/zignalhq/zignal-backend/internal/repos"
	"github.com/zignalhq/zignal-backend/internal/repos/testutil"
	"github.com/zignalhq/zignal-backend/internal/types"
)

func TestFileRecordLifecycle(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	companyRepo := repos.NewCompanyRepo(db, log)
	fileRepo := repos.NewFileRecordRepo(db, log)

	companies, err := companyRepo.Create(ctx, tx, []*types.Company{{Name: "Acme"}})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	company := companies[0]

	files, err := fileRepo.Create(ctx, tx, []*types.FileRecord{{
		OriginalName: "report.pdf",
		MimeType:     "application/pdf",
		SizeBytes:    1200,
		StorageKey:   "media/report.pdf",
		CompanyID:    &company.ID,
	}})
	if err != nil {
		t.Fatalf("create file record: %v", err)
	}
	file := files[0]

	got, err := fileRepo.GetByID(ctx, tx, file.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Status != types.FileStatusPending {
		t.Fatalf("expected pending status, got %s", got.Status)
	}

	claimed, err := fileRepo.MarkProcessing(ctx, tx, file.ID)
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first claim to succeed")
	}

	// A second claim must refuse: the record is already processing.
	claimed, err = fileRepo.MarkProcessing(ctx, tx, file.ID)
	if err != nil {
		t.Fatalf("second mark processing: %v", err)
	}
	if claimed {
		t.Fatalf("expected second claim to be refused")
	}

	if err := fileRepo.MarkProcessed(ctx, tx, file.ID, "vsf_123"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	got, err = fileRepo.GetByID(ctx, tx, file.ID)
	if err != nil {
		t.Fatalf("get by id after processed: %v", err)
	}
	if got.Status != types.FileStatusProcessed {
		t.Fatalf("expected processed, got %s", got.Status)
	}
	if got.VectorStoreFileID == nil || *got.VectorStoreFileID != "vsf_123" {
		t.Fatalf("expected vector store file id to persist")
	}
	if got.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be set")
	}
}

func TestFileRecordResetForRetry(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	fileRepo := repos.NewFileRecordRepo(db, log)

	files, err := fileRepo.Create(ctx, tx, []*types.FileRecord{{
		OriginalName: "notes.txt",
		MimeType:     "text/plain",
		SizeBytes:    64,
		StorageKey:   "media/notes.txt",
	}})
	if err != nil {
		t.Fatalf("create file record: %v", err)
	}
	file := files[0]

	// Reset is only legal from failed.
	if err := fileRepo.ResetForRetry(ctx, tx, file.ID); err == nil {
		t.Fatalf("expected reset of pending record to fail")
	}

	if _, err := fileRepo.MarkProcessing(ctx, tx, file.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := fileRepo.MarkFailed(ctx, tx, file.ID, "provider timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := fileRepo.ResetForRetry(ctx, tx, file.ID); err != nil {
		t.Fatalf("reset for retry: %v", err)
	}
	got, err := fileRepo.GetByID(ctx, tx, file.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Status != types.FileStatusPending {
		t.Fatalf("expected pending after reset, got %s", got.Status)
	}
	if got.Attempts != 0 {
		t.Fatalf("expected attempts reset to 0, got %d", got.Attempts)
	}
	if got.LastError != "" {
		t.Fatalf("expected last_error cleared, got %q", got.LastError)
	}
}

func TestCompanyClaimVectorStore(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()

	companyRepo := repos.NewCompanyRepo(db, log)

	companies, err := companyRepo.Create(ctx, tx, []*types.Company{{Name: "Globex"}})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	company := companies[0]

	won, err := companyRepo.ClaimVectorStore(ctx, tx, company.ID, "vs_first")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !won {
		t.Fatalf("expected first claim to win")
	}

	won, err = companyRepo.ClaimVectorStore(ctx, tx, company.ID, "vs_second")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatalf("expected second claim to lose")
	}

	got, err := companyRepo.GetByID(ctx, tx, company.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.VectorStoreID == nil || *got.VectorStoreID != "vs_first" {
		t.Fatalf("expected first vector store id to stick")
	}
}

func TestGetByIDsEmptyInput(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()

	fileRepo := repos.NewFileRecordRepo(db, log)
	results, err := fileRepo.GetByIDs(ctx, nil, []uuid.UUID{})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}
