package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// GuardianFilter narrows guardian listings. Search matches the normalized name.
type GuardianFilter struct {
	Page     int
	PageSize int
	Search   string
	TaxID    string
}

// GuardianRepository persists guardians.
type GuardianRepository interface {
	Create(ctx context.Context, guardian *models.Guardian) error
	GetByID(ctx context.Context, id uint) (models.Guardian, error)
	List(ctx context.Context, filter GuardianFilter) ([]models.Guardian, int64, error)
	ListAll(ctx context.Context) ([]models.Guardian, error)
	Update(ctx context.Context, id uint, updates map[string]interface{}) (models.Guardian, error)
}

type guardianRepository struct {
	db *gorm.DB
}

// NewGuardianRepository constructs the guardian repository.
func NewGuardianRepository(db *gorm.DB) GuardianRepository {
	return &guardianRepository{db: db}
}

func (r *guardianRepository) Create(ctx context.Context, guardian *models.Guardian) error {
	return r.db.WithContext(ctx).Create(guardian).Error
}

func (r *guardianRepository) GetByID(ctx context.Context, id uint) (models.Guardian, error) {
	var guardian models.Guardian
	if err := r.db.WithContext(ctx).First(&guardian, id).Error; err != nil {
		return models.Guardian{}, err
	}
	return guardian, nil
}

func (r *guardianRepository) List(ctx context.Context, filter GuardianFilter) ([]models.Guardian, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Guardian{})
	if filter.Search != "" {
		query = query.Where("normalized_name LIKE ?", "%"+filter.Search+"%")
	}
	if filter.TaxID != "" {
		query = query.Where("tax_id = ?", filter.TaxID)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var guardians []models.Guardian
	if err := paginate(query, filter.Page, filter.PageSize).Order("name ASC").Find(&guardians).Error; err != nil {
		return nil, 0, err
	}
	return guardians, total, nil
}

func (r *guardianRepository) ListAll(ctx context.Context) ([]models.Guardian, error) {
	var guardians []models.Guardian
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&guardians).Error; err != nil {
		return nil, err
	}
	return guardians, nil
}

func (r *guardianRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) (models.Guardian, error) {
	result := r.db.WithContext(ctx).Model(&models.Guardian{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return models.Guardian{}, result.Error
	}
	if result.RowsAffected == 0 {
		return models.Guardian{}, gorm.ErrRecordNotFound
	}
	return r.GetByID(ctx, id)
}
