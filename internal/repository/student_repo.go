package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/models"
)

// StudentFilter narrows student listings.
type StudentFilter struct {
	Page       int
	PageSize   int
	Search     string
	ClassIDs   []uint
	ClassNames []string
	StudentIDs []uint
	Status     string
}

// StudentRepository persists students, their classes and guardian links.
type StudentRepository interface {
	Create(ctx context.Context, student *models.Student) error
	GetByID(ctx context.Context, id uint) (models.Student, error)
	List(ctx context.Context, filter StudentFilter) ([]models.Student, int64, error)
	Update(ctx context.Context, id uint, updates map[string]interface{}) (models.Student, error)

	CreateClass(ctx context.Context, class *models.Class) error
	ListClasses(ctx context.Context) ([]models.Class, error)

	Link(ctx context.Context, link *models.GuardianLink) error
	UpdateLink(ctx context.Context, guardianID, studentID uint, updates map[string]interface{}) (models.GuardianLink, error)
	Unlink(ctx context.Context, guardianID, studentID uint) error
	LinksForStudent(ctx context.Context, studentID uint) ([]models.GuardianLink, error)
	LinksForGuardian(ctx context.Context, guardianID uint) ([]models.GuardianLink, error)
	AllLinks(ctx context.Context) ([]models.GuardianLink, error)
}

type studentRepository struct {
	db *gorm.DB
}

// NewStudentRepository constructs the student repository.
func NewStudentRepository(db *gorm.DB) StudentRepository {
	return &studentRepository{db: db}
}

func (r *studentRepository) Create(ctx context.Context, student *models.Student) error {
	return r.db.WithContext(ctx).Create(student).Error
}

func (r *studentRepository) GetByID(ctx context.Context, id uint) (models.Student, error) {
	var student models.Student
	err := r.db.WithContext(ctx).
		Preload("Class").
		Preload("Links.Guardian").
		First(&student, id).Error
	if err != nil {
		return models.Student{}, err
	}
	return student, nil
}

func (r *studentRepository) List(ctx context.Context, filter StudentFilter) ([]models.Student, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Student{})

	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("LOWER(students.name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	if len(filter.ClassIDs) > 0 {
		query = query.Where("students.class_id IN ?", filter.ClassIDs)
	}
	if len(filter.ClassNames) > 0 {
		query = query.Where("students.class_id IN (?)", r.db.Model(&models.Class{}).Select("id").Where("name IN ?", filter.ClassNames))
	}
	if len(filter.StudentIDs) > 0 {
		query = query.Where("students.id IN ?", filter.StudentIDs)
	}
	if filter.Status != "" {
		query = query.Where("students.status = ?", filter.Status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var students []models.Student
	err := paginate(query, filter.Page, filter.PageSize).
		Preload("Class").
		Preload("Links.Guardian").
		Order("students.name ASC").
		Find(&students).Error
	if err != nil {
		return nil, 0, err
	}
	return students, total, nil
}

func (r *studentRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) (models.Student, error) {
	result := r.db.WithContext(ctx).Model(&models.Student{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return models.Student{}, result.Error
	}
	if result.RowsAffected == 0 {
		return models.Student{}, gorm.ErrRecordNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *studentRepository) CreateClass(ctx context.Context, class *models.Class) error {
	return r.db.WithContext(ctx).Create(class).Error
}

func (r *studentRepository) ListClasses(ctx context.Context) ([]models.Class, error) {
	var classes []models.Class
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&classes).Error; err != nil {
		return nil, err
	}
	return classes, nil
}

func (r *studentRepository) Link(ctx context.Context, link *models.GuardianLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *studentRepository) UpdateLink(ctx context.Context, guardianID, studentID uint, updates map[string]interface{}) (models.GuardianLink, error) {
	result := r.db.WithContext(ctx).Model(&models.GuardianLink{}).
		Where("guardian_id = ? AND student_id = ?", guardianID, studentID).
		Updates(updates)
	if result.Error != nil {
		return models.GuardianLink{}, result.Error
	}
	if result.RowsAffected == 0 {
		return models.GuardianLink{}, gorm.ErrRecordNotFound
	}

	var link models.GuardianLink
	err := r.db.WithContext(ctx).Preload("Guardian").
		Where("guardian_id = ? AND student_id = ?", guardianID, studentID).
		First(&link).Error
	return link, err
}

func (r *studentRepository) Unlink(ctx context.Context, guardianID, studentID uint) error {
	result := r.db.WithContext(ctx).
		Where("guardian_id = ? AND student_id = ?", guardianID, studentID).
		Delete(&models.GuardianLink{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *studentRepository) LinksForStudent(ctx context.Context, studentID uint) ([]models.GuardianLink, error) {
	var links []models.GuardianLink
	err := r.db.WithContext(ctx).Preload("Guardian").
		Where("student_id = ?", studentID).
		Order("id ASC").
		Find(&links).Error
	return links, err
}

func (r *studentRepository) LinksForGuardian(ctx context.Context, guardianID uint) ([]models.GuardianLink, error) {
	var links []models.GuardianLink
	err := r.db.WithContext(ctx).Preload("Student").Preload("Student.Class").
		Where("guardian_id = ?", guardianID).
		Order("id ASC").
		Find(&links).Error
	return links, err
}

func (r *studentRepository) AllLinks(ctx context.Context) ([]models.GuardianLink, error) {
	var links []models.GuardianLink
	err := r.db.WithContext(ctx).Preload("Student").Order("id ASC").Find(&links).Error
	return links, err
}
