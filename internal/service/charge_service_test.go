package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
)

func newTestChargeService(env testEnv) *chargeService {
	svc := NewChargeService(env.charges, env.students, testValidator(), env.activity, nil, time.UTC, testLogger()).(*chargeService)
	svc.now = fixedNow
	svc.newGroup = func() string { return "group-1" }
	return svc
}

func TestChargeInstallmentsAddUpToTotal(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestChargeService(env)
	ctx := context.Background()

	guardian := env.guardian(t, "Paula Reis")
	student := env.student(t, "Davi Reis", 500, guardian.ID)

	resp, err := svc.CreateInstallments(ctx, testActor(), dto.InstallmentCreateRequest{
		StudentID:    student.ID,
		Title:        "Uniforme",
		Type:         "uniform",
		Total:        decimal.NewFromInt(100),
		Installments: 3,
		FirstDueDate: "2024-01-31",
	})
	require.NoError(t, err)
	require.Equal(t, "group-1", resp.GroupID)
	require.Len(t, resp.Charges, 3)

	sum := decimal.Zero
	for _, charge := range resp.Charges {
		sum = sum.Add(charge.AmountDue)
		require.Equal(t, guardian.ID, *charge.GuardianID)
	}
	require.True(t, decimal.NewFromInt(100).Equal(sum))
	require.Equal(t, "Uniforme (1/3)", resp.Charges[0].DisplayTitle)
	require.Equal(t, "2024-02-29", resp.Charges[1].DueDate.Format(dto.DateLayout))

	list, err := svc.List(ctx, dto.ChargeListRequest{GroupID: "group-1"})
	require.NoError(t, err)
	require.Equal(t, 3, list.Stats.Total)
	require.Equal(t, 3, list.Stats.Overdue)
	require.Equal(t, 3, list.Stats.Open)
}

func TestChargePayAndCancel(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestChargeService(env)
	ctx := context.Background()

	student := env.student(t, "Alice Mota", 500)
	charge, err := svc.Create(ctx, testActor(), dto.ChargeCreateRequest{
		StudentID: student.ID,
		Title:     "Passeio ao museu",
		Type:      "event",
		Amount:    decimal.NewFromInt(80),
		DueDate:   "2024-05-02",
	})
	require.NoError(t, err)
	require.Equal(t, "upcoming", charge.Status)
	require.Equal(t, "Passeio ao museu", charge.DisplayTitle)

	_, err = svc.Pay(ctx, testActor(), charge.ID, dto.ChargePayRequest{Amount: decimal.NewFromInt(120), PaymentDate: "2024-04-15"})
	require.ErrorIs(t, err, ErrValidation)

	partial, err := svc.Pay(ctx, testActor(), charge.ID, dto.ChargePayRequest{Amount: decimal.NewFromInt(30), PaymentDate: "2024-04-15"})
	require.NoError(t, err)
	require.Equal(t, "partially_paid", partial.Status)

	paid, err := svc.Pay(ctx, testActor(), charge.ID, dto.ChargePayRequest{Amount: decimal.NewFromInt(50), PaymentDate: "2024-04-15", Method: "cash"})
	require.NoError(t, err)
	require.Equal(t, "paid", paid.Status)

	_, err = svc.Cancel(ctx, testActor(), charge.ID, dto.ChargeCancelRequest{Reason: "engano"})
	require.ErrorIs(t, err, ErrPrecondition)

	_, err = svc.List(ctx, dto.ChargeListRequest{})
	require.ErrorIs(t, err, ErrValidation)
}
