package service

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/matching"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
)

// testToday is the school's calendar day in every service test.
var testToday = time.Date(2024, time.April, 15, 0, 0, 0, 0, time.UTC)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func fixedNow() time.Time {
	return testToday.Add(14 * time.Hour)
}

type testEnv struct {
	db        *gorm.DB
	guardians repository.GuardianRepository
	students  repository.StudentRepository
	fees      repository.FeeRepository
	charges   repository.ChargeRepository
	payments  repository.PaymentRepository
	rows      repository.StatementRepository
	activity  ActivityService
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	return testEnv{
		db:        db,
		guardians: repository.NewGuardianRepository(db),
		students:  repository.NewStudentRepository(db),
		fees:      repository.NewFeeRepository(db),
		charges:   repository.NewChargeRepository(db),
		payments:  repository.NewPaymentRepository(db),
		rows:      repository.NewStatementRepository(db),
		activity:  NewActivityService(repository.NewActivityLogRepository(db), testLogger()),
	}
}

func (e testEnv) feeService() *feeService {
	svc := NewFeeService(e.fees, e.students, testValidator(), e.activity, nil, time.UTC, testLogger()).(*feeService)
	svc.now = fixedNow
	return svc
}

func (e testEnv) paymentService() *paymentService {
	svc := NewPaymentService(PaymentDeps{
		Payments:  e.payments,
		Rows:      e.rows,
		Fees:      e.fees,
		Students:  e.students,
		Guardians: e.guardians,
	}, testValidator(), e.activity, nil, time.UTC, testLogger()).(*paymentService)
	svc.now = fixedNow
	return svc
}

func (e testEnv) guardian(t *testing.T, name string) models.Guardian {
	t.Helper()
	guardian := models.Guardian{Name: name}
	require.NoError(t, e.db.Create(&guardian).Error)
	return guardian
}

// student enrolls a student on 2024-01-10 with fees due on day 10. The first guardian
// is the financially responsible one.
func (e testEnv) student(t *testing.T, name string, monthlyFee int64, guardianIDs ...uint) models.Student {
	t.Helper()
	enrolled := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	day := 10
	student := models.Student{
		Name:           name,
		EnrollmentDate: &enrolled,
		DueDay:         &day,
		MonthlyFee:     decimal.NewNullDecimal(decimal.NewFromInt(monthlyFee)),
		Status:         models.StudentStatusActive,
	}
	require.NoError(t, e.db.Create(&student).Error)

	for index, guardianID := range guardianIDs {
		link := models.GuardianLink{
			GuardianID:           guardianID,
			StudentID:            student.ID,
			Relation:             "parent",
			FinancialResponsible: index == 0,
		}
		require.NoError(t, e.db.Create(&link).Error)
	}
	return student
}

func (e testEnv) row(t *testing.T, externalID, payer, amount string, guardianID *uint) models.StatementRow {
	t.Helper()
	row := models.StatementRow{
		ExternalID:          externalID,
		PayerName:           payer,
		PayerNameNormalized: matching.Normalize(payer),
		Amount:              decimal.RequireFromString(amount),
		PaymentDate:         time.Date(2024, time.April, 12, 0, 0, 0, 0, time.UTC),
		Status:              models.StatementStatusNew,
		GuardianID:          guardianID,
	}
	require.NoError(t, e.db.Create(&row).Error)
	return row
}

func testActor() ActivityActor {
	return ActivityActor{ID: 1, Role: "admin"}
}
