package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// ChargeFilter narrows charge listings.
type ChargeFilter struct {
	StudentID        *uint
	StudentIDs       []uint
	GuardianID       *uint
	GroupID          string
	IncludeCancelled bool
	IncludePaid      bool
}

// ChargeRepository persists ad-hoc charges and their installments.
type ChargeRepository interface {
	CreateBatch(ctx context.Context, charges []models.Charge) error
	GetByID(ctx context.Context, id uint) (models.Charge, error)
	List(ctx context.Context, filter ChargeFilter) ([]models.Charge, error)
	Save(ctx context.Context, charge *models.Charge) error
}

type chargeRepository struct {
	db *gorm.DB
}

// NewChargeRepository constructs the charge repository.
func NewChargeRepository(db *gorm.DB) ChargeRepository {
	return &chargeRepository{db: db}
}

func (r *chargeRepository) CreateBatch(ctx context.Context, charges []models.Charge) error {
	for i := range charges {
		if charges[i].Version == 0 {
			charges[i].Version = 1
		}
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&charges).Error
	})
}

func (r *chargeRepository) GetByID(ctx context.Context, id uint) (models.Charge, error) {
	var charge models.Charge
	if err := r.db.WithContext(ctx).First(&charge, id).Error; err != nil {
		return models.Charge{}, err
	}
	return charge, nil
}

func (r *chargeRepository) List(ctx context.Context, filter ChargeFilter) ([]models.Charge, error) {
	query := r.db.WithContext(ctx).Model(&models.Charge{})
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if len(filter.StudentIDs) > 0 {
		query = query.Where("student_id IN ?", filter.StudentIDs)
	}
	if filter.GuardianID != nil {
		query = query.Where("guardian_id = ?", *filter.GuardianID)
	}
	if !filter.IncludePaid {
		query = query.Where("status <> ?", string(billing.StatusPaid))
	}
	if filter.GroupID != "" {
		query = query.Where("group_id = ?", filter.GroupID)
	}
	if !filter.IncludeCancelled {
		query = query.Where("cancelled_at IS NULL")
	}

	var charges []models.Charge
	if err := query.Order("due_date ASC, installment_number ASC, id ASC").Find(&charges).Error; err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *chargeRepository) Save(ctx context.Context, charge *models.Charge) error {
	result := r.db.WithContext(ctx).Model(&models.Charge{}).
		Where("id = ? AND version = ?", charge.ID, charge.Version).
		Updates(map[string]interface{}{
			"amount_due":     charge.AmountDue,
			"paid_amount":    charge.PaidAmount,
			"paid_date":      charge.PaidDate,
			"payment_method": charge.PaymentMethod,
			"status":         charge.Status,
			"notes":          charge.Notes,
			"cancelled_at":   charge.CancelledAt,
			"version":        gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleRecord
	}
	charge.Version++
	return nil
}
