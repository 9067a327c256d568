package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func seedStudent(t *testing.T, db *gorm.DB) models.Student {
	t.Helper()
	enrolled := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	day := 10
	student := models.Student{
		Name:           "Lucas Almeida",
		EnrollmentDate: &enrolled,
		DueDay:         &day,
		MonthlyFee:     decimal.NewNullDecimal(decimal.NewFromInt(500)),
	}
	require.NoError(t, db.Create(&student).Error)
	return student
}

func TestStatementInsertSkipsDuplicateExternalID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStatementRepository(db)
	ctx := context.Background()

	row := models.StatementRow{ExternalID: "op-1", PayerName: "Jose", Amount: decimal.NewFromInt(100), PaymentDate: time.Now().UTC(), Status: models.StatementStatusNew}
	inserted, err := repo.Insert(ctx, &row)
	require.NoError(t, err)
	require.True(t, inserted)

	dup := models.StatementRow{ExternalID: "op-1", PayerName: "Jose", Amount: decimal.NewFromInt(100), PaymentDate: time.Now().UTC(), Status: models.StatementStatusNew}
	inserted, err = repo.Insert(ctx, &dup)
	require.NoError(t, err)
	require.False(t, inserted)

	_, total, err := repo.List(ctx, StatementFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
}

func TestStatementLinkGuardianNeverOverwrites(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStatementRepository(db)
	ctx := context.Background()

	row := models.StatementRow{ExternalID: "op-2", PayerName: "Maria", Amount: decimal.NewFromInt(50), PaymentDate: time.Now().UTC(), Status: models.StatementStatusNew}
	_, err := repo.Insert(ctx, &row)
	require.NoError(t, err)

	ok, err := repo.LinkGuardian(ctx, StatementLink{RowID: row.ID, GuardianID: 7, Pass: "manual"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.LinkGuardian(ctx, StatementLink{RowID: row.ID, GuardianID: 8, Pass: "single"})
	require.NoError(t, err)
	require.False(t, ok)

	stored, err := repo.GetByID(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, uint(7), *stored.GuardianID)

	linked := true
	rows, _, err := repo.List(ctx, StatementFilter{Linked: &linked})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestFeeCreateForStudentIsGuardedByFlag(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFeeRepository(db)
	ctx := context.Background()
	student := seedStudent(t, db)

	batch := func() []models.Fee {
		return []models.Fee{
			{ReferenceMonth: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), ReferenceLabel: "Março/2024", AmountDue: decimal.NewFromInt(500), DueDate: time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), Status: "upcoming"},
			{ReferenceMonth: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), ReferenceLabel: "Abril/2024", AmountDue: decimal.NewFromInt(500), DueDate: time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC), Status: "upcoming"},
		}
	}

	require.NoError(t, repo.CreateForStudent(ctx, student.ID, batch()))
	require.ErrorIs(t, repo.CreateForStudent(ctx, student.ID, batch()), ErrConditionFailed)

	fees, total, err := repo.List(ctx, FeeFilter{StudentIDs: []uint{student.ID}})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, "Março/2024", fees[0].ReferenceLabel)
	require.Equal(t, 1, fees[0].Version)

	var reloaded models.Student
	require.NoError(t, db.First(&reloaded, student.ID).Error)
	require.True(t, reloaded.FeesGenerated)

	require.ErrorIs(t, repo.ResetGeneration(ctx, student.ID), ErrConditionFailed)
}

func TestFeeSaveDetectsStaleVersion(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFeeRepository(db)
	ctx := context.Background()
	student := seedStudent(t, db)

	require.NoError(t, repo.CreateForStudent(ctx, student.ID, []models.Fee{{
		ReferenceMonth: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		ReferenceLabel: "Março/2024",
		AmountDue:      decimal.NewFromInt(500),
		DueDate:        time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC),
		Status:         "upcoming",
	}}))
	fees, _, err := repo.List(ctx, FeeFilter{StudentIDs: []uint{student.ID}})
	require.NoError(t, err)

	first := fees[0]
	second := fees[0]

	first.PaidAmount = decimal.NewFromInt(200)
	first.Status = "partially_paid"
	require.NoError(t, repo.Save(ctx, &first))
	require.Equal(t, 2, first.Version)

	second.PaidAmount = decimal.NewFromInt(500)
	require.ErrorIs(t, repo.Save(ctx, &second), ErrStaleRecord)

	stored, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, stored.PaidAmount.Equal(decimal.NewFromInt(200)))

	open, err := repo.ListOpenByStudents(ctx, []uint{student.ID})
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestPaymentRecordRollsBackWhenRowAlreadyRegistered(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()
	student := seedStudent(t, db)

	row := models.StatementRow{ExternalID: "op-3", PayerName: "Ana", Amount: decimal.NewFromInt(500), PaymentDate: time.Now().UTC(), Status: models.StatementStatusRegistered}
	require.NoError(t, db.Create(&row).Error)

	err := repo.Record(ctx, LedgerWrite{
		StatementRowID: &row.ID,
		Payments: []*models.Payment{{
			StudentID:   student.ID,
			PaymentDate: time.Now().UTC(),
			Amount:      decimal.NewFromInt(500),
			Type:        models.PaymentTypeMonthlyFee,
			Method:      models.PaymentMethodPIX,
		}},
	})
	require.ErrorIs(t, err, ErrConditionFailed)

	_, total, err := repo.List(ctx, PaymentFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestPaymentRecordSetsEnrollmentDateOnlyWhenEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	student := models.Student{Name: "Beatriz Costa"}
	require.NoError(t, db.Create(&student).Error)

	paidAt := time.Date(2024, time.January, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Record(ctx, LedgerWrite{
		Payments: []*models.Payment{{
			StudentID:   student.ID,
			PaymentDate: paidAt,
			Amount:      decimal.NewFromInt(300),
			Type:        models.PaymentTypeEnrollment,
			Method:      models.PaymentMethodPIX,
			Allocations: nil,
		}},
		EnrollmentStudentID: &student.ID,
		EnrollmentDate:      &paidAt,
	}))

	var reloaded models.Student
	require.NoError(t, db.First(&reloaded, student.ID).Error)
	require.NotNil(t, reloaded.EnrollmentDate)
	require.True(t, reloaded.EnrollmentDate.Equal(paidAt))

	payments, _, err := repo.List(ctx, PaymentFilter{StudentIDs: []uint{student.ID}})
	require.NoError(t, err)
	require.Len(t, payments, 1)
}

func TestStudentListFiltersByClassName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStudentRepository(db)
	ctx := context.Background()

	morning := models.Class{Name: "Infantil II"}
	afternoon := models.Class{Name: "Infantil III"}
	require.NoError(t, repo.CreateClass(ctx, &morning))
	require.NoError(t, repo.CreateClass(ctx, &afternoon))

	require.NoError(t, repo.Create(ctx, &models.Student{Name: "Caio", ClassID: &morning.ID}))
	require.NoError(t, repo.Create(ctx, &models.Student{Name: "Davi", ClassID: &afternoon.ID}))

	students, total, err := repo.List(ctx, StudentFilter{ClassNames: []string{"Infantil III"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "Davi", students[0].Name)
	require.Equal(t, "Infantil III", students[0].ClassName())
}

func TestGuardianListSearchesNormalizedName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGuardianRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Guardian{Name: "Conceição Ramos"}))
	require.NoError(t, repo.Create(ctx, &models.Guardian{Name: "Pedro Alves"}))

	guardians, total, err := repo.List(ctx, GuardianFilter{Search: "conceicao"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "conceicao ramos", guardians[0].NormalizedName)
}
