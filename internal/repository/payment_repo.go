package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	Page           int
	PageSize       int
	StudentIDs     []uint
	GuardianID     *uint
	StatementRowID *uint
	Type           string
	From           *time.Time
	To             *time.Time
}

// LedgerWrite groups everything one registration changes. It is applied atomically.
type LedgerWrite struct {
	// StatementRowID, when set, must still be new; it is flipped to registered.
	StatementRowID *uint
	Payments       []*models.Payment
	// Fees are saved with their version check.
	Fees []*models.Fee
	// EnrollmentStudentID gets EnrollmentDate when the student has none yet.
	EnrollmentStudentID *uint
	EnrollmentDate      *time.Time
}

// PaymentRepository persists payments and their fee allocations.
type PaymentRepository interface {
	Record(ctx context.Context, write LedgerWrite) error
	GetByID(ctx context.Context, id uint) (models.Payment, error)
	List(ctx context.Context, filter PaymentFilter) ([]models.Payment, int64, error)
}

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository constructs the payment repository.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Record(ctx context.Context, write LedgerWrite) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if write.StatementRowID != nil {
			update := tx.Model(&models.StatementRow{}).
				Where("id = ? AND status = ?", *write.StatementRowID, models.StatementStatusNew).
				Update("status", models.StatementStatusRegistered)
			if update.Error != nil {
				return update.Error
			}
			if update.RowsAffected == 0 {
				return ErrConditionFailed
			}
		}

		for _, payment := range write.Payments {
			if err := tx.Create(payment).Error; err != nil {
				return err
			}
		}

		for _, fee := range write.Fees {
			if err := saveFee(tx, fee); err != nil {
				return err
			}
		}

		if write.EnrollmentStudentID != nil && write.EnrollmentDate != nil {
			if err := tx.Model(&models.Student{}).
				Where("id = ? AND enrollment_date IS NULL", *write.EnrollmentStudentID).
				Update("enrollment_date", *write.EnrollmentDate).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *paymentRepository) GetByID(ctx context.Context, id uint) (models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Preload("Allocations").First(&payment, id).Error; err != nil {
		return models.Payment{}, err
	}
	return payment, nil
}

func (r *paymentRepository) List(ctx context.Context, filter PaymentFilter) ([]models.Payment, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Payment{})
	if len(filter.StudentIDs) > 0 {
		query = query.Where("student_id IN ?", filter.StudentIDs)
	}
	if filter.GuardianID != nil {
		query = query.Where("guardian_id = ?", *filter.GuardianID)
	}
	if filter.StatementRowID != nil {
		query = query.Where("statement_row_id = ?", *filter.StatementRowID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		query = query.Where("payment_date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("payment_date < ?", *filter.To)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []models.Payment
	if err := paginate(query, filter.Page, filter.PageSize).
		Preload("Allocations").
		Order("payment_date DESC, id DESC").
		Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}
