package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/models"
)

func generateFees(t *testing.T, env testEnv, studentID uint, months ...string) []dto.FeeResponse {
	t.Helper()
	resp, err := env.feeService().Generate(context.Background(), testActor(), studentID, dto.FeeGenerateRequest{Months: months})
	require.NoError(t, err)
	return resp.Fees
}

func TestPaymentFromStatementPaysExactFee(t *testing.T) {
	env := newTestEnv(t)
	svc := env.paymentService()
	ctx := context.Background()

	guardian := env.guardian(t, "Joana Prates")
	student := env.student(t, "Caio Prates", 500, guardian.ID)
	fees := generateFees(t, env, student.ID, "2024-02", "2024-03")
	row := env.row(t, "e2e-1", "JOANA PRATES", "500.00", &guardian.ID)

	resp, err := svc.RegisterFromStatement(ctx, testActor(), row.ID, dto.StatementPaymentRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Payments, 1)
	require.Equal(t, student.ID, resp.Payments[0].StudentID)
	require.Equal(t, models.PaymentTypeMonthlyFee, resp.Payments[0].Type)
	require.Equal(t, models.PaymentMethodPIX, resp.Payments[0].Method)
	require.Equal(t, fees[0].ID, *resp.Payments[0].FeeID)
	require.True(t, resp.Unapplied.IsZero())
	require.Len(t, resp.Fees, 1)
	require.Equal(t, "paid", resp.Fees[0].Status)

	stored, err := env.rows.GetByID(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatementStatusRegistered, stored.Status)

	_, err = svc.RegisterFromStatement(ctx, testActor(), row.ID, dto.StatementPaymentRequest{})
	require.ErrorIs(t, err, ErrPrecondition)

	var count int64
	require.NoError(t, env.db.Model(&models.Payment{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestPaymentFromStatementSpreadsOverpayment(t *testing.T) {
	env := newTestEnv(t)
	svc := env.paymentService()
	ctx := context.Background()

	guardian := env.guardian(t, "Rita Nunes")
	student := env.student(t, "Gabi Nunes", 500, guardian.ID)
	fees := generateFees(t, env, student.ID, "2024-02", "2024-03", "2024-04")
	row := env.row(t, "e2e-2", "RITA NUNES", "1700.00", &guardian.ID)

	resp, err := svc.RegisterFromStatement(ctx, testActor(), row.ID, dto.StatementPaymentRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Payments[0].Allocations, 3)
	require.True(t, decimal.NewFromInt(200).Equal(resp.Unapplied))
	require.Equal(t, fees[0].ID, *resp.Payments[0].FeeID)
	for _, fee := range resp.Fees {
		require.Equal(t, "paid", fee.Status)
	}
}

func TestPaymentFromStatementPartiallyPaysClosestFee(t *testing.T) {
	env := newTestEnv(t)
	svc := env.paymentService()
	ctx := context.Background()

	guardian := env.guardian(t, "Lara Campos")
	student := env.student(t, "Enzo Campos", 500, guardian.ID)
	fees := generateFees(t, env, student.ID, "2024-02", "2024-03")
	row := env.row(t, "e2e-3", "LARA CAMPOS", "200.00", &guardian.ID)

	resp, err := svc.RegisterFromStatement(ctx, testActor(), row.ID, dto.StatementPaymentRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Fees, 1)
	require.Equal(t, fees[0].ID, resp.Fees[0].ID)
	require.Equal(t, "partially_paid", resp.Fees[0].Status)
	require.True(t, decimal.NewFromInt(300).Equal(resp.Fees[0].Remaining))
}

func TestPaymentFromStatementNeedsStudentChoice(t *testing.T) {
	env := newTestEnv(t)
	svc := env.paymentService()
	ctx := context.Background()

	guardian := env.guardian(t, "Sonia Braga")
	first := env.student(t, "Igor Braga", 400, guardian.ID)
	env.student(t, "Iris Braga", 400, guardian.ID)
	row := env.row(t, "e2e-4", "SONIA BRAGA", "400.00", &guardian.ID)

	_, err := svc.RegisterFromStatement(ctx, testActor(), row.ID, dto.StatementPaymentRequest{})
	review, ok := AsReview(err)
	require.True(t, ok)
	require.Len(t, review.Candidates, 2)

	kind := models.PaymentTypeMaterial
	resp, err := svc.RegisterFromStatement(ctx, testActor(), row.ID, dto.StatementPaymentRequest{StudentID: &first.ID, Type: kind})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(400).Equal(resp.Unapplied))
	require.Empty(t, resp.Fees)
}

func TestPaymentFromUnlinkedRowIsRefused(t *testing.T) {
	env := newTestEnv(t)
	svc := env.paymentService()

	row := env.row(t, "e2e-5", "DESCONHECIDO", "90.00", nil)
	_, err := svc.RegisterFromStatement(context.Background(), testActor(), row.ID, dto.StatementPaymentRequest{})
	require.ErrorIs(t, err, ErrPrecondition)
}

func TestMultiplePaymentsMustMatchRowAmount(t *testing.T) {
	env := newTestEnv(t)
	svc := env.paymentService()
	ctx := context.Background()

	guardian := env.guardian(t, "Vera Lins")
	older := env.student(t, "Bento Lins", 300, guardian.ID)
	younger := env.student(t, "Clara Lins", 300, guardian.ID)
	generateFees(t, env, older.ID, "2024-03")
	generateFees(t, env, younger.ID, "2024-03")
	row := env.row(t, "e2e-6", "VERA LINS", "600.00", &guardian.ID)

	_, err := svc.RegisterMultipleFromStatement(ctx, testActor(), row.ID, dto.MultiplePaymentRequest{
		Items: []dto.PaymentItemRequest{
			{StudentID: older.ID, Amount: decimal.NewFromInt(300)},
			{StudentID: younger.ID, Amount: decimal.NewFromInt(250)},
		},
	})
	require.ErrorIs(t, err, ErrConsistency)

	var count int64
	require.NoError(t, env.db.Model(&models.Payment{}).Count(&count).Error)
	require.Zero(t, count)

	resp, err := svc.RegisterMultipleFromStatement(ctx, testActor(), row.ID, dto.MultiplePaymentRequest{
		Items: []dto.PaymentItemRequest{
			{StudentID: older.ID, Amount: decimal.NewFromInt(300)},
			{StudentID: younger.ID, Amount: decimal.NewFromInt(300)},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Payments, 2)
	require.Len(t, resp.Fees, 2)

	stored, err := env.rows.GetByID(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatementStatusRegistered, stored.Status)
}

func TestManualEnrollmentPaymentSetsEnrollmentDate(t *testing.T) {
	env := newTestEnv(t)
	svc := env.paymentService()
	ctx := context.Background()

	student := models.Student{Name: "Otto Reis", Status: models.StudentStatusActive}
	require.NoError(t, env.db.Create(&student).Error)

	resp, err := svc.RegisterManual(ctx, testActor(), dto.ManualPaymentRequest{
		StudentID:   student.ID,
		Amount:      decimal.NewFromInt(250),
		PaymentDate: "2024-01-20",
		Type:        models.PaymentTypeEnrollment,
		Method:      "cash",
	})
	require.NoError(t, err)
	require.Equal(t, "cash", resp.Payments[0].Method)

	stored, err := env.students.GetByID(ctx, student.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EnrollmentDate)
	require.Equal(t, "2024-01-20", stored.EnrollmentDate.Format(dto.DateLayout))

	list, err := svc.List(ctx, dto.PaymentListRequest{StudentID: &student.ID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
}
