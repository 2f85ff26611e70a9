package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zignalhq/zignal-backend/internal/pkg/errors"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/types"
)

type FolderRepo interface {
	Create(ctx context.Context, tx *gorm.DB, folders []*types.Folder) ([]*types.Folder, error)
	GetByID(ctx context.Context, tx *gorm.DB, folderID uuid.UUID) (*types.Folder, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, folderIDs []uuid.UUID) ([]*types.Folder, error)
	GetByCompanyIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.Folder, error)
}

type folderRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFolderRepo(db *gorm.DB, baseLog *logger.Logger) FolderRepo {
	repoLog := baseLog.With("repo", "FolderRepo")
	return &folderRepo{db: db, log: repoLog}
}

func (r *folderRepo) Create(ctx context.Context, tx *gorm.DB, folders []*types.Folder) ([]*types.Folder, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(folders) == 0 {
		return []*types.Folder{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

func (r *folderRepo) GetByID(ctx context.Context, tx *gorm.DB, folderID uuid.UUID) (*types.Folder, error) {
	results, err := r.GetByIDs(ctx, tx, []uuid.UUID{folderID})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.ErrNotFound
	}
	return results[0], nil
}

func (r *folderRepo) GetByIDs(ctx context.Context, tx *gorm.DB, folderIDs []uuid.UUID) ([]*types.Folder, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Folder
	if len(folderIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", folderIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *folderRepo) GetByCompanyIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.Folder, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Folder
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
