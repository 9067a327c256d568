package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
)

func TestGuardianServiceCreateNormalizesAndGuardsTaxID(t *testing.T) {
	env := newTestEnv(t)
	svc := NewGuardianService(env.guardians, env.students, testValidator(), env.activity, testLogger())
	ctx := context.Background()

	created, err := svc.Create(ctx, testActor(), dto.GuardianCreateRequest{
		Name:  "  Márcia dos Santos ",
		TaxID: "12345678901",
		Email: "Marcia@Example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "Márcia dos Santos", created.Name)
	require.Equal(t, "marcia santos", created.NormalizedName)
	require.Equal(t, "marcia@example.com", created.Email)

	_, err = svc.Create(ctx, testActor(), dto.GuardianCreateRequest{Name: "Outra Pessoa", TaxID: "12345678901"})
	require.ErrorIs(t, err, ErrPrecondition)

	_, err = svc.Create(ctx, testActor(), dto.GuardianCreateRequest{Name: "Sem CPF", TaxID: "123"})
	require.Error(t, err)

	renamed, err := svc.Rename(ctx, testActor(), created.ID, dto.GuardianRenameRequest{Name: "Márcia Santos Lima"})
	require.NoError(t, err)
	require.Equal(t, "marcia santos lima", renamed.NormalizedName)

	_, err = svc.Rename(ctx, testActor(), 999, dto.GuardianRenameRequest{Name: "Ninguém"})
	require.ErrorIs(t, err, ErrNotFound)

	phone := " 11 99999-0000 "
	updated, err := svc.UpdateContact(ctx, testActor(), created.ID, dto.GuardianContactRequest{Phone: &phone})
	require.NoError(t, err)
	require.Equal(t, "11 99999-0000", updated.Phone)

	_, err = svc.UpdateContact(ctx, testActor(), created.ID, dto.GuardianContactRequest{})
	require.ErrorIs(t, err, ErrValidation)

	cleared, err := svc.UpdateTaxID(ctx, testActor(), created.ID, dto.GuardianTaxIDRequest{})
	require.NoError(t, err)
	require.Empty(t, cleared.TaxID)
}

func TestGuardianServiceFindRanksAndSuggests(t *testing.T) {
	env := newTestEnv(t)
	svc := NewGuardianService(env.guardians, env.students, testValidator(), env.activity, testLogger())
	ctx := context.Background()

	exact := env.guardian(t, "Fernanda Oliveira")
	env.guardian(t, "Fernando Oliveira Costa")
	env.guardian(t, "Zeca Pagodinho")

	found, err := svc.Find(ctx, "FERNANDA OLIVEIRA", 0)
	require.NoError(t, err)
	require.NotEmpty(t, found.Matches)
	require.Equal(t, exact.ID, found.Matches[0].Guardian.ID)
	require.InDelta(t, 1.0, found.Matches[0].Score, 0.0001)
	for index := 1; index < len(found.Matches); index++ {
		require.LessOrEqual(t, found.Matches[index].Score, found.Matches[index-1].Score)
	}

	_, err = svc.Find(ctx, "  de da ", 5)
	require.ErrorIs(t, err, ErrValidation)

	list, err := svc.List(ctx, dto.GuardianListRequest{Search: "oliveira", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
}

func TestStudentServiceCreateAndLinks(t *testing.T) {
	env := newTestEnv(t)
	svc := NewStudentService(env.students, env.guardians, testValidator(), env.activity, testLogger())
	ctx := context.Background()

	class, err := svc.CreateClass(ctx, testActor(), dto.ClassCreateRequest{Name: "2º Ano B"})
	require.NoError(t, err)
	_, err = svc.CreateClass(ctx, testActor(), dto.ClassCreateRequest{Name: "2º ano b"})
	require.ErrorIs(t, err, ErrPrecondition)

	mother := env.guardian(t, "Lúcia Ramos")
	father := env.guardian(t, "Paulo Ramos")
	fee := decimal.RequireFromString("650.499")
	day := 5

	student, err := svc.Create(ctx, testActor(), dto.StudentCreateRequest{
		Name:           "Heitor Ramos",
		ClassID:        &class.ID,
		EnrollmentDate: "2024-02-01",
		MonthlyFee:     &fee,
		DueDay:         &day,
		Guardians:      []dto.GuardianLinkRequest{{GuardianID: mother.ID, Relation: "mãe", FinancialResponsible: true}},
	})
	require.NoError(t, err)
	require.Equal(t, "2º Ano B", student.ClassName)
	require.True(t, decimal.RequireFromString("650.50").Equal(*student.MonthlyFee))
	require.Len(t, student.Guardians, 1)

	negative := decimal.NewFromInt(-1)
	_, err = svc.Create(ctx, testActor(), dto.StudentCreateRequest{Name: "Sem Valor", MonthlyFee: &negative})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, testActor(), dto.StudentCreateRequest{Name: "Órfão", Guardians: []dto.GuardianLinkRequest{{GuardianID: 999}}})
	require.ErrorIs(t, err, ErrNotFound)

	linked, err := svc.LinkGuardian(ctx, testActor(), student.ID, dto.GuardianLinkRequest{GuardianID: father.ID, Relation: "pai"})
	require.NoError(t, err)
	require.Len(t, linked.Guardians, 2)

	_, err = svc.LinkGuardian(ctx, testActor(), student.ID, dto.GuardianLinkRequest{GuardianID: father.ID})
	require.ErrorIs(t, err, ErrPrecondition)

	flag := true
	updated, err := svc.UpdateLink(ctx, testActor(), student.ID, father.ID, dto.GuardianLinkUpdateRequest{FinancialResponsible: &flag})
	require.NoError(t, err)
	financial := 0
	for _, guardian := range updated.Guardians {
		if guardian.FinancialResponsible {
			financial++
		}
	}
	require.Equal(t, 2, financial)

	unlinked, err := svc.UnlinkGuardian(ctx, testActor(), student.ID, mother.ID)
	require.NoError(t, err)
	require.Len(t, unlinked.Guardians, 1)

	list, err := svc.List(ctx, dto.StudentListRequest{ClassIDs: []uint{class.ID}, Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
}

func TestStudentServiceUpdates(t *testing.T) {
	env := newTestEnv(t)
	svc := NewStudentService(env.students, env.guardians, testValidator(), env.activity, testLogger())
	ctx := context.Background()

	student := env.student(t, "Mel Duarte", 400)

	status := "inactive"
	profile, err := svc.UpdateProfile(ctx, testActor(), student.ID, dto.StudentProfileRequest{Status: &status})
	require.NoError(t, err)
	require.Equal(t, "inactive", profile.Status)

	_, err = svc.UpdateProfile(ctx, testActor(), student.ID, dto.StudentProfileRequest{})
	require.ErrorIs(t, err, ErrValidation)

	fee := decimal.NewFromInt(420)
	billing, err := svc.UpdateBilling(ctx, testActor(), student.ID, dto.StudentBillingRequest{MonthlyFee: &fee})
	require.NoError(t, err)
	require.True(t, fee.Equal(*billing.MonthlyFee))

	_, err = svc.UpdateBilling(ctx, testActor(), 999, dto.StudentBillingRequest{MonthlyFee: &fee})
	require.ErrorIs(t, err, ErrNotFound)
}
