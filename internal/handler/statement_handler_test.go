package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
)

func TestStatementImportAndReconcile(t *testing.T) {
	app := setupOfficeApp(t)

	guardianID := createGuardian(t, app, "Maria Souza")
	createStudent(t, app, map[string]interface{}{
		"name":      "Pedro Souza",
		"guardians": []map[string]interface{}{{"guardian_id": guardianID, "financial_responsible": true}},
	})

	resp := doJSON(t, app, http.MethodPost, "/api/v1/statements/import", map[string]interface{}{
		"rows": []map[string]interface{}{
			{"external_id": "E1", "payer_name": "MARIA SOUZA", "amount": 320, "payment_date": "2024-04-10"},
			{"external_id": "E2", "payer_name": "XPTO COMERCIO LTDA", "amount": 99.9, "payment_date": "2024-04-11"},
			{"external_id": "E1", "payer_name": "MARIA SOUZA", "amount": 320, "payment_date": "2024-04-10"},
		},
	}, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var imported dto.StatementImportResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &imported))
	require.Equal(t, 2, imported.Created)
	require.Equal(t, 1, imported.Duplicates)

	dryRun := doJSON(t, app, http.MethodPost, "/api/v1/statements/reconcile", map[string]interface{}{"dry_run": true}, "")
	require.Equal(t, fiber.StatusOK, dryRun.StatusCode)
	var preview dto.ReconcileResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, dryRun).Data, &preview))
	require.True(t, preview.DryRun)
	require.Zero(t, preview.Linked)

	run := doJSON(t, app, http.MethodPost, "/api/v1/statements/reconcile", nil, "")
	require.Equal(t, fiber.StatusOK, run.StatusCode)
	var result dto.ReconcileResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, run).Data, &result))
	require.Equal(t, 1, result.Linked)

	list := doJSON(t, app, http.MethodGet, "/api/v1/statements?linked=false", nil, "")
	require.Equal(t, fiber.StatusOK, list.StatusCode)
	var open []dto.StatementRowResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, list).Data, &open))
	require.Len(t, open, 1)
	require.Equal(t, "E2", open[0].ExternalID)

	stats := doJSON(t, app, http.MethodGet, "/api/v1/statements/stats", nil, "secretary")
	require.Equal(t, fiber.StatusOK, stats.StatusCode)
}

func TestStatementFinanceRoutesRejectSecretary(t *testing.T) {
	app := setupOfficeApp(t)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/statements/import", map[string]interface{}{
		"rows": []map[string]interface{}{
			{"external_id": "E1", "payer_name": "MARIA SOUZA", "amount": 320, "payment_date": "2024-04-10"},
		},
	}, "secretary")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	outsider := doJSON(t, app, http.MethodGet, "/api/v1/statements", nil, "guardian")
	require.Equal(t, fiber.StatusForbidden, outsider.StatusCode)

	renormalize := doJSON(t, app, http.MethodPost, "/api/v1/statements/renormalize", nil, "finance")
	require.Equal(t, fiber.StatusForbidden, renormalize.StatusCode)

	admin := doJSON(t, app, http.MethodPost, "/api/v1/statements/renormalize", nil, "admin")
	require.Equal(t, fiber.StatusOK, admin.StatusCode)
}

func TestStatementErrorMapping(t *testing.T) {
	app := setupOfficeApp(t)

	guardianID := createGuardian(t, app, "Ana Paula Ribeiro")
	for _, name := range []string{"Lucas Ribeiro", "Julia Ribeiro"} {
		createStudent(t, app, map[string]interface{}{
			"name":      name,
			"guardians": []map[string]interface{}{{"guardian_id": guardianID, "financial_responsible": true}},
		})
	}
	importRows(t, app, map[string]interface{}{
		"external_id": "R1", "payer_name": "PIX RECEBIDO", "amount": 300, "payment_date": "2024-04-10",
	})

	list := doJSON(t, app, http.MethodGet, "/api/v1/statements", nil, "")
	var rows []dto.StatementRowResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, list).Data, &rows))
	require.Len(t, rows, 1)
	rowPath := fmt.Sprintf("/api/v1/statements/%d", rows[0].ID)

	t.Run("bad id", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/api/v1/statements/abc", nil, "")
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing row", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/api/v1/statements/999", nil, "")
		require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("unlinked row cannot be registered", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, rowPath+"/payment", nil, "")
		require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid link payload", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, rowPath+"/link", map[string]interface{}{}, "")
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ambiguous student needs review", func(t *testing.T) {
		link := doJSON(t, app, http.MethodPost, rowPath+"/link", map[string]interface{}{"guardian_id": guardianID}, "")
		require.Equal(t, fiber.StatusOK, link.StatusCode)

		var linked dto.StatementRowResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, link).Data, &linked))
		require.Nil(t, linked.StudentID)

		resp := doJSON(t, app, http.MethodPost, rowPath+"/payment", nil, "")
		require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

		body := decodeEnvelope(t, resp)
		require.False(t, body.Success)
		require.Equal(t, "needs_review", body.Message)

		var review struct {
			Reason     string                   `json:"reason"`
			Candidates []map[string]interface{} `json:"candidates"`
		}
		require.NoError(t, json.Unmarshal(body.Details, &review))
		require.Len(t, review.Candidates, 2)
	})

	t.Run("already linked", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodPost, rowPath+"/link", map[string]interface{}{"guardian_id": guardianID}, "")
		require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	})
}
