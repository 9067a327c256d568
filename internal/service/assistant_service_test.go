package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/matching"
	"github.com/noah-isme/secretaria-go-api/pkg/ai"
)

type scriptedChat struct {
	replies  []ai.Message
	received [][]ai.Message
}

func (c *scriptedChat) Complete(ctx context.Context, messages []ai.Message, tools []ai.ToolDefinition) (ai.Completion, error) {
	c.received = append(c.received, append([]ai.Message(nil), messages...))
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return ai.Completion{Message: reply, Usage: ai.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

type studentServiceSpy struct {
	StudentService
	gets int
}

func (s *studentServiceSpy) Get(ctx context.Context, id uint) (dto.StudentResponse, error) {
	s.gets++
	return s.StudentService.Get(ctx, id)
}

func assistantTools(env testEnv) AssistantTools {
	validate := testValidator()
	return AssistantTools{
		Guardians:  NewGuardianService(env.guardians, env.students, validate, env.activity, testLogger()),
		Students:   NewStudentService(env.students, env.guardians, validate, env.activity, testLogger()),
		Statements: NewStatementService(env.rows, validate, env.activity, nil, 100, testLogger()),
		Reconciliation: NewReconciliationService(ReconciliationDeps{
			Rows:      env.rows,
			Guardians: env.guardians,
			Students:  env.students,
			Fees:      env.fees,
			Charges:   env.charges,
		}, matching.Thresholds{}, validate, env.activity, nil, testLogger()),
		Fees:     env.feeService(),
		Payments: env.paymentService(),
		Charges:  newTestChargeService(env),
	}
}

func newTestAssistant(t *testing.T, client ai.ChatClient, tools AssistantTools, sessions SessionStore) *assistantService {
	t.Helper()
	svc, err := NewAssistantService(client, tools, sessions, testValidator(), time.UTC, testLogger())
	require.NoError(t, err)
	assistant := svc.(*assistantService)
	assistant.now = fixedNow
	return assistant
}

func TestAssistantCatalogIsComplete(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestAssistant(t, nil, assistantTools(env), nil)

	names := map[string]bool{}
	for _, tool := range svc.Tools() {
		names[tool.Name] = true
		require.True(t, json.Valid(tool.Parameters), tool.Name)
	}
	for _, name := range []string{
		"list_guardians", "find_guardian", "list_students", "get_student",
		"list_statement_rows", "statement_stats", "run_reconciliation", "link_statement_row",
		"generate_fees", "list_student_fees", "cancel_fee", "register_payment_from_statement",
		"list_charges", "fee_summary",
	} {
		require.True(t, names[name], name)
	}
	require.Len(t, names, 14)
}

func TestAssistantRejectsInvalidArgumentsWithoutDispatch(t *testing.T) {
	env := newTestEnv(t)
	tools := assistantTools(env)
	spy := &studentServiceSpy{StudentService: tools.Students}
	tools.Students = spy
	svc := newTestAssistant(t, nil, tools, nil)
	ctx := context.Background()

	cases := map[string]string{
		"wrong type":     `{"student_id": "três"}`,
		"missing field":  `{}`,
		"unknown field":  `{"student_id": 1, "drop": true}`,
		"below minimum":  `{"student_id": 0}`,
		"fractional id":  `{"student_id": 1.5}`,
		"trailing value": `{"student_id": 1} {"student_id": 2}`,
		"not an object":  `[1]`,
		"malformed json": `{"student_id":`,
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			result := svc.Execute(ctx, testActor(), "get_student", json.RawMessage(args))
			require.Equal(t, dto.ToolStatusFailure, result.Status)
			require.Equal(t, "invalid_arguments", result.Error.Code)
		})
	}
	require.Zero(t, spy.gets)

	result := svc.Execute(ctx, testActor(), "list_statement_rows", json.RawMessage(`{"from": "2024-13-45"}`))
	require.Equal(t, "invalid_arguments", result.Error.Code)

	result = svc.Execute(ctx, testActor(), "drop_tables", nil)
	require.Equal(t, "unknown_tool", result.Error.Code)

	// large integers survive decoding as json.Number and reach the typed call
	result = svc.Execute(ctx, testActor(), "get_student", json.RawMessage(`{"student_id": 9007199254740993}`))
	require.Equal(t, "not_found", result.Error.Code)
	require.Equal(t, 1, spy.gets)

	result = svc.Execute(ctx, testActor(), "get_student", json.RawMessage(`{"student_id": 999}`))
	require.Equal(t, dto.ToolStatusFailure, result.Status)
	require.Equal(t, "not_found", result.Error.Code)
	require.Equal(t, 2, spy.gets)
}

func TestAssistantToolResults(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestAssistant(t, nil, assistantTools(env), nil)
	ctx := context.Background()

	guardian := env.guardian(t, "Marta Quintana")
	student := env.student(t, "Rui Quintana", 350, guardian.ID)
	env.student(t, "Rosa Quintana", 350, guardian.ID)
	row := env.row(t, "ast-1", "MARTA QUINTANA", "350.00", &guardian.ID)

	found := svc.Execute(ctx, testActor(), "find_guardian", json.RawMessage(`{"name": "marta quintana"}`))
	require.Equal(t, dto.ToolStatusSuccess, found.Status)
	matches := found.Data.(dto.GuardianFindResponse).Matches
	require.Equal(t, guardian.ID, matches[0].Guardian.ID)

	args, err := json.Marshal(map[string]interface{}{"row_id": row.ID})
	require.NoError(t, err)
	review := svc.Execute(ctx, testActor(), "register_payment_from_statement", args)
	require.Equal(t, dto.ToolStatusNeedsReview, review.Status)
	require.Len(t, review.Review.Candidates, 2)

	args, err = json.Marshal(map[string]interface{}{"student_id": student.ID, "months": []string{"2024-03", "2024-05"}})
	require.NoError(t, err)
	generated := svc.Execute(ctx, testActor(), "generate_fees", args)
	require.Equal(t, dto.ToolStatusSuccess, generated.Status)
	require.Len(t, generated.Data.(dto.FeeGenerationResponse).Fees, 2)

	again := svc.Execute(ctx, testActor(), "generate_fees", args)
	require.Equal(t, "precondition", again.Error.Code)

	args, err = json.Marshal(map[string]interface{}{"student_id": student.ID, "status": "overdue"})
	require.NoError(t, err)
	listed := svc.Execute(ctx, testActor(), "list_student_fees", args)
	require.Equal(t, dto.ToolStatusSuccess, listed.Status)
	require.Len(t, listed.Data.(dto.FeeListResponse).Items, 1)
}

func TestAssistantConverseRunsToolsAndKeepsSession(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	env := newTestEnv(t)
	guardian := env.guardian(t, "Olga Pires")
	student := env.student(t, "Tomás Pires", 420, guardian.ID)

	chat := &scriptedChat{replies: []ai.Message{
		{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "call_1", Name: "get_student", Arguments: `{"student_id": ` + jsonUint(student.ID) + `}`}}},
		{Role: ai.RoleAssistant, Content: "Tomás Pires está matriculado."},
	}}
	svc := newTestAssistant(t, chat, assistantTools(env), NewRedisSessionStore(redisClient, time.Hour))
	ctx := context.Background()

	resp, err := svc.Converse(ctx, testActor(), dto.AssistantChatRequest{SessionID: "sess-1", Message: "Quem é o aluno?"})
	require.NoError(t, err)
	require.Equal(t, "Tomás Pires está matriculado.", resp.Reply)
	require.False(t, resp.Truncated)
	require.Len(t, resp.Invocations, 1)
	require.Equal(t, dto.ToolStatusSuccess, resp.Invocations[0].Result.Status)
	require.Equal(t, 20, resp.Usage.PromptTokens)

	require.Len(t, resp.History, 4)
	require.Equal(t, ai.RoleUser, resp.History[0].Role)
	require.Equal(t, ai.RoleTool, resp.History[2].Role)
	require.Equal(t, "call_1", resp.History[2].ToolCallID)

	require.Len(t, chat.received, 2)
	require.Equal(t, ai.RoleSystem, chat.received[0][0].Role)
	require.Contains(t, chat.received[0][0].Content, "2024-04-15")

	chat.replies = []ai.Message{{Role: ai.RoleAssistant, Content: "De nada."}}
	next, err := svc.Converse(ctx, testActor(), dto.AssistantChatRequest{SessionID: "sess-1", Message: "Obrigado"})
	require.NoError(t, err)
	require.Len(t, next.History, 6)
	require.Len(t, chat.received[2], 6)
}

func TestAssistantConverseStopsAfterToolRounds(t *testing.T) {
	env := newTestEnv(t)
	chat := &scriptedChat{replies: []ai.Message{
		{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "loop", Name: "statement_stats", Arguments: `{}`}}},
	}}
	svc := newTestAssistant(t, chat, assistantTools(env), nil)

	resp, err := svc.Converse(context.Background(), testActor(), dto.AssistantChatRequest{Message: "Resumo do extrato"})
	require.NoError(t, err)
	require.True(t, resp.Truncated)
	require.Len(t, resp.Invocations, maxToolRounds)
	require.NotEmpty(t, resp.SessionID)
	require.Equal(t, ai.RoleAssistant, resp.History[len(resp.History)-1].Role)
}

func TestAssistantConverseRequiresClient(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestAssistant(t, nil, assistantTools(env), nil)

	_, err := svc.Converse(context.Background(), testActor(), dto.AssistantChatRequest{Message: "Olá"})
	require.ErrorIs(t, err, ErrPrecondition)

	_, err = svc.Converse(context.Background(), testActor(), dto.AssistantChatRequest{Message: "   "})
	require.Error(t, err)
}

func TestTrimHistoryStartsAtUserTurn(t *testing.T) {
	history := []ai.Message{
		{Role: ai.RoleUser, Content: "a"},
		{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "1", Name: "fee_summary"}}},
		{Role: ai.RoleTool, ToolCallID: "1"},
		{Role: ai.RoleAssistant, Content: "b"},
		{Role: ai.RoleUser, Content: "c"},
		{Role: ai.RoleAssistant, Content: "d"},
	}

	trimmed := trimHistory(history, 4)
	require.Len(t, trimmed, 2)
	require.Equal(t, "c", trimmed[0].Content)
	require.Len(t, trimHistory(history, 0), 6)
}

func jsonUint(value uint) string {
	encoded, _ := json.Marshal(value)
	return string(encoded)
}
