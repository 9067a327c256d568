package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// StatementFilter narrows statement row listings.
type StatementFilter struct {
	Page       int
	PageSize   int
	Status     string
	Linked     *bool
	GuardianID *uint
	StudentID  *uint
	From       *time.Time
	To         *time.Time
}

// StatementLink is a guarded write attaching a guardian to a row.
type StatementLink struct {
	RowID      uint
	GuardianID uint
	StudentID  *uint
	Score      *float64
	Pass       string
}

// StatementRepository persists imported PIX statement rows.
type StatementRepository interface {
	Insert(ctx context.Context, row *models.StatementRow) (bool, error)
	GetByID(ctx context.Context, id uint) (models.StatementRow, error)
	List(ctx context.Context, filter StatementFilter) ([]models.StatementRow, int64, error)
	ListUnregistered(ctx context.Context) ([]models.StatementRow, error)
	LinkGuardian(ctx context.Context, link StatementLink) (bool, error)
	SetStudent(ctx context.Context, id uint, studentID uint) error
}

type statementRepository struct {
	db *gorm.DB
}

// NewStatementRepository constructs the statement repository.
func NewStatementRepository(db *gorm.DB) StatementRepository {
	return &statementRepository{db: db}
}

// Insert stores the row unless its external id already exists. It reports whether
// a row was written.
func (r *statementRepository) Insert(ctx context.Context, row *models.StatementRow) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *statementRepository) GetByID(ctx context.Context, id uint) (models.StatementRow, error) {
	var row models.StatementRow
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return models.StatementRow{}, err
	}
	return row, nil
}

func (r *statementRepository) List(ctx context.Context, filter StatementFilter) ([]models.StatementRow, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.StatementRow{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Linked != nil {
		if *filter.Linked {
			query = query.Where("guardian_id IS NOT NULL")
		} else {
			query = query.Where("guardian_id IS NULL")
		}
	}
	if filter.GuardianID != nil {
		query = query.Where("guardian_id = ?", *filter.GuardianID)
	}
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
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

	var rows []models.StatementRow
	if err := paginate(query, filter.Page, filter.PageSize).Order("payment_date DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *statementRepository) ListUnregistered(ctx context.Context) ([]models.StatementRow, error) {
	var rows []models.StatementRow
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StatementStatusNew).
		Order("payment_date ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// LinkGuardian only fills an empty guardian slot; it reports false when another
// writer linked the row first.
func (r *statementRepository) LinkGuardian(ctx context.Context, link StatementLink) (bool, error) {
	updates := map[string]interface{}{
		"guardian_id": link.GuardianID,
		"match_pass":  link.Pass,
	}
	if link.StudentID != nil {
		updates["student_id"] = *link.StudentID
	}
	if link.Score != nil {
		updates["match_score"] = *link.Score
	}

	result := r.db.WithContext(ctx).Model(&models.StatementRow{}).
		Where("id = ? AND guardian_id IS NULL", link.RowID).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *statementRepository) SetStudent(ctx context.Context, id uint, studentID uint) error {
	result := r.db.WithContext(ctx).Model(&models.StatementRow{}).
		Where("id = ? AND status = ?", id, models.StatementStatusNew).
		Update("student_id", studentID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConditionFailed
	}
	return nil
}
