package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zignalhq/zignal-backend/internal/pkg/errors"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/types"
)

type CompanyRepo interface {
	Create(ctx context.Context, tx *gorm.DB, companies []*types.Company) ([]*types.Company, error)
	GetByID(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) (*types.Company, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.Company, error)
	ClaimVectorStore(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, vectorStoreID string) (bool, error)
	SetAssistant(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, assistantID string) error
	UpdateFields(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, fields map[string]any) error
}

type companyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCompanyRepo(db *gorm.DB, baseLog *logger.Logger) CompanyRepo {
	repoLog := baseLog.With("repo", "CompanyRepo")
	return &companyRepo{db: db, log: repoLog}
}

func (r *companyRepo) Create(ctx context.Context, tx *gorm.DB, companies []*types.Company) ([]*types.Company, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(companies) == 0 {
		return []*types.Company{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&companies).Error; err != nil {
		return nil, err
	}
	return companies, nil
}

func (r *companyRepo) GetByID(ctx context.Context, tx *gorm.DB, companyID uuid.UUID) (*types.Company, error) {
	results, err := r.GetByIDs(ctx, tx, []uuid.UUID{companyID})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.ErrNotFound
	}
	return results[0], nil
}

func (r *companyRepo) GetByIDs(ctx context.Context, tx *gorm.DB, companyIDs []uuid.UUID) ([]*types.Company, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Company
	if len(companyIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", companyIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ClaimVectorStore records the vector store id for a company only if none is
// set yet. Returns true when this caller won the claim; a false return means
// another writer got there first and the caller should re-read the row.
func (r *companyRepo) ClaimVectorStore(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, vectorStoreID string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.Company{}).
		Where("id = ? AND vector_store_id IS NULL", companyID).
		Update("vector_store_id", vectorStoreID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *companyRepo) SetAssistant(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, assistantID string) error {
	return r.UpdateFields(ctx, tx, companyID, map[string]any{
		"assistant_id": assistantID,
	})
}

func (r *companyRepo) UpdateFields(ctx context.Context, tx *gorm.DB, companyID uuid.UUID, fields map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(fields) == 0 {
		return nil
	}

	if err := transaction.WithContext(ctx).
		Model(&types.Company{}).
		Where("id = ?", companyID).
		Updates(fields).Error; err != nil {
		return err
	}
	return nil
}
