package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/billing"
	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// FeeFilter narrows fee listings. Date bounds apply to the due date, To is exclusive.
type FeeFilter struct {
	Page             int
	PageSize         int
	StudentIDs       []uint
	GuardianID       *uint
	From             *time.Time
	To               *time.Time
	IncludeCancelled bool
	OnlyOpen         bool
}

// FeeRepository persists monthly fees.
type FeeRepository interface {
	CreateForStudent(ctx context.Context, studentID uint, fees []models.Fee) error
	GetByID(ctx context.Context, id uint) (models.Fee, error)
	List(ctx context.Context, filter FeeFilter) ([]models.Fee, int64, error)
	ListOpenByStudents(ctx context.Context, studentIDs []uint) ([]models.Fee, error)
	Save(ctx context.Context, fee *models.Fee) error
	ResetGeneration(ctx context.Context, studentID uint) error
}

type feeRepository struct {
	db *gorm.DB
}

// NewFeeRepository constructs the fee repository.
func NewFeeRepository(db *gorm.DB) FeeRepository {
	return &feeRepository{db: db}
}

// CreateForStudent flips the student's generated flag and inserts the whole batch in
// one transaction. The flag is only flipped from false, so a concurrent or repeated
// generation fails with ErrConditionFailed and writes nothing.
func (r *feeRepository) CreateForStudent(ctx context.Context, studentID uint, fees []models.Fee) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&models.Student{}).
			Where("id = ? AND fees_generated = ?", studentID, false).
			Update("fees_generated", true)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return ErrConditionFailed
		}

		for i := range fees {
			fees[i].StudentID = studentID
			if fees[i].Version == 0 {
				fees[i].Version = 1
			}
		}
		return tx.Create(&fees).Error
	})
}

func (r *feeRepository) GetByID(ctx context.Context, id uint) (models.Fee, error) {
	var fee models.Fee
	if err := r.db.WithContext(ctx).First(&fee, id).Error; err != nil {
		return models.Fee{}, err
	}
	return fee, nil
}

func (r *feeRepository) List(ctx context.Context, filter FeeFilter) ([]models.Fee, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Fee{})
	if len(filter.StudentIDs) > 0 {
		query = query.Where("student_id IN ?", filter.StudentIDs)
	}
	if filter.GuardianID != nil {
		query = query.Where("guardian_id = ?", *filter.GuardianID)
	}
	if filter.From != nil {
		query = query.Where("due_date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("due_date < ?", *filter.To)
	}
	if !filter.IncludeCancelled {
		query = query.Where("cancelled_at IS NULL")
	}
	if filter.OnlyOpen {
		query = query.Where("status NOT IN ?", []string{string(billing.StatusPaid), string(billing.StatusCancelled)})
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var fees []models.Fee
	if err := paginate(query, filter.Page, filter.PageSize).Order("due_date ASC, id ASC").Find(&fees).Error; err != nil {
		return nil, 0, err
	}
	return fees, total, nil
}

func (r *feeRepository) ListOpenByStudents(ctx context.Context, studentIDs []uint) ([]models.Fee, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	fees, _, err := r.List(ctx, FeeFilter{StudentIDs: studentIDs, OnlyOpen: true})
	return fees, err
}

func (r *feeRepository) Save(ctx context.Context, fee *models.Fee) error {
	return saveFee(r.db.WithContext(ctx), fee)
}

// ResetGeneration clears the generated flag so fees can be generated again. It is
// refused while the student still has fees that were not cancelled.
func (r *feeRepository) ResetGeneration(ctx context.Context, studentID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Fee{}).
			Where("student_id = ? AND cancelled_at IS NULL", studentID).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrConditionFailed
		}

		update := tx.Model(&models.Student{}).Where("id = ?", studentID).Update("fees_generated", false)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// saveFee writes the mutable fee columns only if nobody saved the fee since it was read.
func saveFee(db *gorm.DB, fee *models.Fee) error {
	result := db.Model(&models.Fee{}).
		Where("id = ? AND version = ?", fee.ID, fee.Version).
		Updates(map[string]interface{}{
			"amount_due":     fee.AmountDue,
			"paid_amount":    fee.PaidAmount,
			"paid_date":      fee.PaidDate,
			"payment_method": fee.PaymentMethod,
			"status":         fee.Status,
			"notes":          fee.Notes,
			"cancelled_at":   fee.CancelledAt,
			"guardian_id":    fee.GuardianID,
			"version":        gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleRecord
	}
	fee.Version++
	return nil
}
