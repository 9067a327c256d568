package service

import (
	"context"
	"encoding/json"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
)

// AssistantTools holds the services the assistant catalog dispatches to.
type AssistantTools struct {
	Guardians      GuardianService
	Students       StudentService
	Statements     StatementService
	Reconciliation ReconciliationService
	Fees           FeeService
	Payments       PaymentService
	Charges        ChargeService
}

type toolFunc func(ctx context.Context, actor ActivityActor, args json.RawMessage) (interface{}, error)

type toolSpec struct {
	name        string
	description string
	schema      string
	run         toolFunc
}

const pageSchema = `"page": {"type": "integer", "minimum": 1}, "page_size": {"type": "integer", "minimum": 1, "maximum": 100}`

const dateSchema = `{"type": "string", "format": "date"}`

const monthSchema = `{"type": "string", "pattern": "^[0-9]{4}-(0[1-9]|1[0-2])$"}`

func catalog(tools AssistantTools) []toolSpec {
	return []toolSpec{
		{
			name:        "list_guardians",
			description: "Lista responsáveis cadastrados, com busca opcional por nome.",
			schema: `{"type": "object", "additionalProperties": false, "properties": {
				"search": {"type": "string", "maxLength": 160}, ` + pageSchema + `}}`,
			run: func(ctx context.Context, _ ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					Search   string `json:"search"`
					Page     int    `json:"page"`
					PageSize int    `json:"page_size"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Guardians.List(ctx, dto.GuardianListRequest{Search: args.Search, Page: args.Page, PageSize: pageSize(args.PageSize)})
			},
		},
		{
			name:        "find_guardian",
			description: "Encontra os responsáveis com nome mais parecido com o informado.",
			schema: `{"type": "object", "additionalProperties": false, "required": ["name"], "properties": {
				"name": {"type": "string", "minLength": 2, "maxLength": 200},
				"limit": {"type": "integer", "minimum": 1, "maximum": 20}}}`,
			run: func(ctx context.Context, _ ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					Name  string `json:"name"`
					Limit int    `json:"limit"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Guardians.Find(ctx, args.Name, args.Limit)
			},
		},
		{
			name:        "list_students",
			description: "Lista alunos por turma, situação ou nome.",
			schema: `{"type": "object", "additionalProperties": false, "properties": {
				"search": {"type": "string", "maxLength": 160},
				"class_names": {"type": "array", "items": {"type": "string", "minLength": 1}},
				"status": {"enum": ["active", "inactive"]}, ` + pageSchema + `}}`,
			run: func(ctx context.Context, _ ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					Search     string   `json:"search"`
					ClassNames []string `json:"class_names"`
					Status     string   `json:"status"`
					Page       int      `json:"page"`
					PageSize   int      `json:"page_size"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Students.List(ctx, dto.StudentListRequest{
					Search:     args.Search,
					ClassNames: args.ClassNames,
					Status:     args.Status,
					Page:       args.Page,
					PageSize:   pageSize(args.PageSize),
				})
			},
		},
		{
			name:        "get_student",
			description: "Mostra um aluno com seus responsáveis e dados de cobrança.",
			schema: `{"type": "object", "additionalProperties": false, "required": ["student_id"], "properties": {
				"student_id": {"type": "integer", "minimum": 1}}}`,
			run: func(ctx context.Context, _ ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					StudentID uint `json:"student_id"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Students.Get(ctx, args.StudentID)
			},
		},
		{
			name:        "list_statement_rows",
			description: "Lista linhas do extrato PIX por situação, vínculo e período.",
			schema: `{"type": "object", "additionalProperties": false, "properties": {
				"status": {"enum": ["new", "registered"]},
				"linked": {"type": "boolean"},
				"from": ` + dateSchema + `, "to": ` + dateSchema + `, ` + pageSchema + `}}`,
			run: func(ctx context.Context, _ ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					Status   string `json:"status"`
					Linked   *bool  `json:"linked"`
					From     string `json:"from"`
					To       string `json:"to"`
					Page     int    `json:"page"`
					PageSize int    `json:"page_size"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Statements.List(ctx, dto.StatementListRequest{
					Status:   args.Status,
					Linked:   args.Linked,
					From:     args.From,
					To:       args.To,
					Page:     args.Page,
					PageSize: pageSize(args.PageSize),
				})
			},
		},
		{
			name:        "statement_stats",
			description: "Resume o extrato PIX: quantidades e valores por situação e vínculo.",
			schema: `{"type": "object", "additionalProperties": false, "properties": {
				"from": ` + dateSchema + `, "to": ` + dateSchema + `}}`,
			run: func(ctx context.Context, _ ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					From string `json:"from"`
					To   string `json:"to"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Statements.Stats(ctx, args.From, args.To)
			},
		},
		{
			name:        "run_reconciliation",
			description: "Identifica os responsáveis das linhas do extrato sem vínculo. Use dry_run para apenas simular.",
			schema: `{"type": "object", "additionalProperties": false, "properties": {
				"strict": {"type": "boolean"}, "dry_run": {"type": "boolean"}}}`,
			run: func(ctx context.Context, actor ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args dto.ReconcileRequest
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Reconciliation.Run(ctx, actor, args)
			},
		},
		{
			name:        "link_statement_row",
			description: "Vincula manualmente uma linha do extrato a um responsável e, opcionalmente, a um aluno.",
			schema: `{"type": "object", "additionalProperties": false, "required": ["row_id", "guardian_id"], "properties": {
				"row_id": {"type": "integer", "minimum": 1},
				"guardian_id": {"type": "integer", "minimum": 1},
				"student_id": {"type": "integer", "minimum": 1}}}`,
			run: func(ctx context.Context, actor ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					RowID      uint  `json:"row_id"`
					GuardianID uint  `json:"guardian_id"`
					StudentID  *uint `json:"student_id"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Reconciliation.LinkRow(ctx, actor, args.RowID, dto.ManualLinkRequest{GuardianID: args.GuardianID, StudentID: args.StudentID})
			},
		},
		{
			name:        "generate_fees",
			description: "Gera as mensalidades de um aluno para um período (AAAA-MM) ou lista de meses.",
			schema: `{"type": "object", "additionalProperties": false, "required": ["student_id"], "properties": {
				"student_id": {"type": "integer", "minimum": 1},
				"guardian_id": {"type": "integer", "minimum": 1},
				"period_start": ` + monthSchema + `, "period_end": ` + monthSchema + `,
				"months": {"type": "array", "items": ` + monthSchema + `, "maxItems": 24}}}`,
			run: func(ctx context.Context, actor ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					StudentID uint `json:"student_id"`
					dto.FeeGenerateRequest
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Fees.Generate(ctx, actor, args.StudentID, args.FeeGenerateRequest)
			},
		},
		{
			name:        "list_student_fees",
			description: "Lista as mensalidades de um aluno, opcionalmente filtradas pela situação.",
			schema: `{"type": "object", "additionalProperties": false, "required": ["student_id"], "properties": {
				"student_id": {"type": "integer", "minimum": 1},
				"status": {"enum": ["upcoming", "overdue", "paid", "partially_paid", "cancelled"]},
				"include_cancelled": {"type": "boolean"}}}`,
			run: func(ctx context.Context, _ ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					StudentID        uint   `json:"student_id"`
					Status           string `json:"status"`
					IncludeCancelled bool   `json:"include_cancelled"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Fees.List(ctx, dto.FeeListRequest{StudentID: &args.StudentID, Status: args.Status, IncludeCancelled: args.IncludeCancelled})
			},
		},
		{
			name:        "cancel_fee",
			description: "Cancela uma mensalidade em aberto, registrando o motivo.",
			schema: `{"type": "object", "additionalProperties": false, "required": ["fee_id", "reason"], "properties": {
				"fee_id": {"type": "integer", "minimum": 1},
				"reason": {"type": "string", "minLength": 3, "maxLength": 500}}}`,
			run: func(ctx context.Context, actor ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					FeeID  uint   `json:"fee_id"`
					Reason string `json:"reason"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Fees.Cancel(ctx, actor, args.FeeID, dto.FeeCancelRequest{Reason: args.Reason})
			},
		},
		{
			name:        "register_payment_from_statement",
			description: "Registra o pagamento de uma linha do extrato já vinculada, abatendo mensalidades em aberto.",
			schema: `{"type": "object", "additionalProperties": false, "required": ["row_id"], "properties": {
				"row_id": {"type": "integer", "minimum": 1},
				"guardian_id": {"type": "integer", "minimum": 1},
				"student_id": {"type": "integer", "minimum": 1},
				"fee_id": {"type": "integer", "minimum": 1},
				"type": {"enum": ["enrollment", "monthly_fee", "material", "uniform", "other"]}}}`,
			run: func(ctx context.Context, actor ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					RowID uint `json:"row_id"`
					dto.StatementPaymentRequest
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Payments.RegisterFromStatement(ctx, actor, args.RowID, args.StatementPaymentRequest)
			},
		},
		{
			name:        "list_charges",
			description: "Lista as cobranças avulsas de um aluno com estatísticas.",
			schema: `{"type": "object", "additionalProperties": false, "required": ["student_id"], "properties": {
				"student_id": {"type": "integer", "minimum": 1},
				"include_paid": {"type": "boolean"}}}`,
			run: func(ctx context.Context, _ ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					StudentID   uint `json:"student_id"`
					IncludePaid bool `json:"include_paid"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Charges.List(ctx, dto.ChargeListRequest{StudentID: &args.StudentID, IncludePaid: args.IncludePaid})
			},
		},
		{
			name:        "fee_summary",
			description: "Resume mensalidades por situação e por turma.",
			schema: `{"type": "object", "additionalProperties": false, "properties": {
				"class_ids": {"type": "array", "items": {"type": "integer", "minimum": 1}},
				"from": ` + dateSchema + `, "to": ` + dateSchema + `}}`,
			run: func(ctx context.Context, _ ActivityActor, raw json.RawMessage) (interface{}, error) {
				var args struct {
					ClassIDs []uint `json:"class_ids"`
					From     string `json:"from"`
					To       string `json:"to"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, err
				}
				return tools.Fees.Summary(ctx, dto.FeeSummaryRequest{ClassIDs: args.ClassIDs, From: args.From, To: args.To})
			},
		},
	}
}

func pageSize(value int) int {
	if value <= 0 {
		return 20
	}
	return value
}
