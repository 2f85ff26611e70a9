package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zignalhq/zignal-backend/internal/pkg/errors"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/types"
)

type FileRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, files []*types.FileRecord) ([]*types.FileRecord, error)
	GetByID(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) (*types.FileRecord, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) ([]*types.FileRecord, error)
	GetByStatus(ctx context.Context, tx *gorm.DB, status types.FileStatus, limit int) ([]*types.FileRecord, error)
	GetByCompanyIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.FileRecord, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, fileID uuid.UUID, fields map[string]any) error
	MarkProcessing(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) (bool, error)
	MarkProcessed(ctx context.Context, tx *gorm.DB, fileID uuid.UUID, vectorStoreFileID string) error
	MarkFailed(ctx context.Context, tx *gorm.DB, fileID uuid.UUID, reason string) error
	ResetForRetry(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) error
	SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) error
	FullDeleteByIDs(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) error
}

type fileRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFileRecordRepo(db *gorm.DB, baseLog *logger.Logger) FileRecordRepo {
	repoLog := baseLog.With("repo", "FileRecordRepo")
	return &fileRecordRepo{db: db, log: repoLog}
}

func (r *fileRecordRepo) Create(ctx context.Context, tx *gorm.DB, files []*types.FileRecord) ([]*types.FileRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(files) == 0 {
		return []*types.FileRecord{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (r *fileRecordRepo) GetByID(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) (*types.FileRecord, error) {
	results, err := r.GetByIDs(ctx, tx, []uuid.UUID{fileID})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.ErrNotFound
	}
	return results[0], nil
}

func (r *fileRecordRepo) GetByIDs(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) ([]*types.FileRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.FileRecord
	if len(fileIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", fileIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fileRecordRepo) GetByStatus(ctx context.Context, tx *gorm.DB, status types.FileStatus, limit int) ([]*types.FileRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.FileRecord
	query := transaction.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fileRecordRepo) GetByCompanyIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.FileRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.FileRecord
	if len(companyIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("company_id IN ?", companyIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fileRecordRepo) UpdateFields(ctx context.Context, tx *gorm.DB, fileID uuid.UUID, fields map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(fields) == 0 {
		return nil
	}

	if err := transaction.WithContext(ctx).
		Model(&types.FileRecord{}).
		Where("id = ?", fileID).
		Updates(fields).Error; err != nil {
		return err
	}
	return nil
}

// MarkProcessing claims the record for a worker. The status guard makes the
// claim safe under concurrent deliveries: only one caller observes a row
// change from pending/failed to processing.
func (r *fileRecordRepo) MarkProcessing(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.FileRecord{}).
		Where("id = ? AND status IN ?", fileID, []types.FileStatus{types.FileStatusPending, types.FileStatusFailed}).
		Updates(map[string]any{
			"status":   types.FileStatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *fileRecordRepo) MarkProcessed(ctx context.Context, tx *gorm.DB, fileID uuid.UUID, vectorStoreFileID string) error {
	now := time.Now().UTC()
	return r.UpdateFields(ctx, tx, fileID, map[string]any{
		"status":               types.FileStatusProcessed,
		"vector_store_file_id": vectorStoreFileID,
		"processed_at":         now,
		"last_error":           "",
	})
}

func (r *fileRecordRepo) MarkFailed(ctx context.Context, tx *gorm.DB, fileID uuid.UUID, reason string) error {
	return r.UpdateFields(ctx, tx, fileID, map[string]any{
		"status":     types.FileStatusFailed,
		"last_error": reason,
	})
}

// ResetForRetry moves a failed record back to pending so it can be
// re-enqueued. It refuses records in any other state.
func (r *fileRecordRepo) ResetForRetry(ctx context.Context, tx *gorm.DB, fileID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.FileRecord{}).
		Where("id = ? AND status = ?", fileID, types.FileStatusFailed).
		Updates(map[string]any{
			"status":     types.FileStatusPending,
			"attempts":   0,
			"last_error": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrInvalidArgument
	}
	return nil
}

func (r *fileRecordRepo) SoftDeleteByIDs(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(fileIDs) == 0 {
		return nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", fileIDs).
		Delete(&types.FileRecord{}).Error; err != nil {
		return err
	}
	return nil
}

func (r *fileRecordRepo) FullDeleteByIDs(ctx context.Context, tx *gorm.DB, fileIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(fileIDs) == 0 {
		return nil
	}

	if err := transaction.WithContext(ctx).
		Unscoped().
		Where("id IN ?", fileIDs).
		Delete(&types.FileRecord{}).Error; err != nil {
		return err
	}
	return nil
}
