package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/secretaria-go-api/internal/config"
	"github.com/noah-isme/secretaria-go-api/internal/handler"
	"github.com/noah-isme/secretaria-go-api/internal/matching"
	"github.com/noah-isme/secretaria-go-api/internal/models"
	"github.com/noah-isme/secretaria-go-api/internal/repository"
	"github.com/noah-isme/secretaria-go-api/internal/router"
	"github.com/noah-isme/secretaria-go-api/internal/service"
)

// roleHeader lets a test pick the caller's role; the stub JWT middleware defaults to finance.
const roleHeader = "X-Test-Role"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
}

func setupOfficeApp(t *testing.T) *fiber.App {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	guardianRepo := repository.NewGuardianRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	statementRepo := repository.NewStatementRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	chargeRepo := repository.NewChargeRepository(db)

	activity := service.NewActivityService(repository.NewActivityLogRepository(db), logger)
	guardians := service.NewGuardianService(guardianRepo, studentRepo, validate, activity, logger)
	students := service.NewStudentService(studentRepo, guardianRepo, validate, activity, logger)
	statements := service.NewStatementService(statementRepo, validate, activity, nil, 100, logger)
	reconciliation := service.NewReconciliationService(service.ReconciliationDeps{
		Rows:      statementRepo,
		Guardians: guardianRepo,
		Students:  studentRepo,
		Fees:      feeRepo,
		Charges:   chargeRepo,
	}, matching.DefaultThresholds(), validate, activity, nil, logger)
	fees := service.NewFeeService(feeRepo, studentRepo, validate, activity, nil, time.UTC, logger)
	payments := service.NewPaymentService(service.PaymentDeps{
		Payments:  paymentRepo,
		Rows:      statementRepo,
		Fees:      feeRepo,
		Students:  studentRepo,
		Guardians: guardianRepo,
	}, validate, activity, nil, time.UTC, logger)
	charges := service.NewChargeService(chargeRepo, studentRepo, validate, activity, nil, time.UTC, logger)
	reports := service.NewReportService(service.ReportDeps{
		Students: studentRepo,
		Fees:     feeRepo,
		Payments: paymentRepo,
	}, validate, nil, 0, nil, activity, time.UTC, logger)
	assistant, err := service.NewAssistantService(nil, service.AssistantTools{
		Guardians:      guardians,
		Students:       students,
		Statements:     statements,
		Reconciliation: reconciliation,
		Fees:           fees,
		Payments:       payments,
		Charges:        charges,
	}, nil, validate, time.UTC, logger)
	require.NoError(t, err)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		GuardianHandler:  handler.NewGuardianHandler(guardians, logger),
		StudentHandler:   handler.NewStudentHandler(students, logger),
		StatementHandler: handler.NewStatementHandler(statements, reconciliation, logger),
		FeeHandler:       handler.NewFeeHandler(fees, logger),
		PaymentHandler:   handler.NewPaymentHandler(payments, logger),
		ChargeHandler:    handler.NewChargeHandler(charges, logger),
		ReportHandler:    handler.NewReportHandler(reports, logger),
		AssistantHandler: handler.NewAssistantHandler(assistant, logger),
		ActivityHandler:  handler.NewActivityHandler(activity, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			role := c.Get(roleHeader)
			if role == "" {
				role = "finance"
			}
			c.Locals("user_id", uint(1))
			c.Locals("user_role", role)
			return c.Next()
		},
	})

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}, role string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set(roleHeader, role)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var body envelope
	decodeResponse(t, resp, &body)
	return body
}

func createGuardian(t *testing.T, app *fiber.App, name string) uint {
	t.Helper()
	resp := doJSON(t, app, http.MethodPost, "/api/v1/guardians", map[string]interface{}{"name": name}, "")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &created))
	return created.ID
}

func createStudent(t *testing.T, app *fiber.App, body map[string]interface{}) uint {
	t.Helper()
	resp := doJSON(t, app, http.MethodPost, "/api/v1/students", body, "")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &created))
	return created.ID
}

func importRows(t *testing.T, app *fiber.App, rows ...map[string]interface{}) {
	t.Helper()
	resp := doJSON(t, app, http.MethodPost, "/api/v1/statements/import", map[string]interface{}{"rows": rows}, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
