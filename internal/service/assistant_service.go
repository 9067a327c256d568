package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/secretaria-go-api/internal/dto"
	"github.com/noah-isme/secretaria-go-api/internal/observability"
	"github.com/noah-isme/secretaria-go-api/pkg/ai"
)

const (
	maxToolRounds      = 4
	maxHistoryMessages = 40
)

const assistantPrompt = `Você é o assistente financeiro da secretaria escolar.
Responda em português, de forma objetiva.
Use apenas as ferramentas disponíveis para consultar ou alterar dados; nunca invente valores, nomes ou identificadores.
Quando uma ferramenta responder "needs_review", explique o motivo e liste os candidatos para que a secretaria decida.
Antes de cancelar mensalidades ou registrar pagamentos, confirme que o pedido do usuário é explícito.
Hoje é %s.`

// AssistantService answers natural-language requests through the tool catalog.
type AssistantService interface {
	Tools() []dto.ToolDescriptor
	Execute(ctx context.Context, actor ActivityActor, name string, args json.RawMessage) dto.ToolResult
	Converse(ctx context.Context, actor ActivityActor, req dto.AssistantChatRequest) (dto.AssistantChatResponse, error)
}

type compiledTool struct {
	spec   toolSpec
	schema *jsonschema.Schema
}

type assistantService struct {
	client      ai.ChatClient
	tools       map[string]compiledTool
	definitions []ai.ToolDefinition
	sessions    SessionStore
	validator   *validator.Validate
	location    *time.Location
	tracer      trace.Tracer
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAssistantService compiles the tool schemas. A nil client leaves the tool endpoint
// usable while Converse reports the assistant as not configured; nil sessions disables
// server-side history.
func NewAssistantService(client ai.ChatClient, tools AssistantTools, sessions SessionStore, validate *validator.Validate, loc *time.Location, logger zerolog.Logger) (AssistantService, error) {
	if loc == nil {
		loc = time.UTC
	}

	svc := &assistantService{
		client:    client,
		tools:     make(map[string]compiledTool),
		sessions:  sessions,
		validator: validate,
		location:  loc,
		tracer:    otel.Tracer("github.com/noah-isme/secretaria-go-api/internal/service/assistant"),
		logger:    logger.With().Str("component", "assistant_service").Logger(),
		now:       time.Now,
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	for _, spec := range catalog(tools) {
		url := "mem://tools/" + spec.name + ".json"
		if err := compiler.AddResource(url, strings.NewReader(spec.schema)); err != nil {
			return nil, fmt.Errorf("load schema for %s: %w", spec.name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", spec.name, err)
		}

		svc.tools[spec.name] = compiledTool{spec: spec, schema: schema}
		svc.definitions = append(svc.definitions, ai.ToolDefinition{
			Name:        spec.name,
			Description: spec.description,
			Parameters:  json.RawMessage(spec.schema),
		})
	}

	return svc, nil
}

func (s *assistantService) Tools() []dto.ToolDescriptor {
	descriptors := make([]dto.ToolDescriptor, 0, len(s.definitions))
	for _, definition := range s.definitions {
		descriptors = append(descriptors, dto.ToolDescriptor{
			Name:        definition.Name,
			Description: definition.Description,
			Parameters:  definition.Parameters,
		})
	}
	return descriptors
}

// Execute validates the arguments against the tool schema before dispatching. Invalid
// arguments never reach the service layer.
func (s *assistantService) Execute(ctx context.Context, actor ActivityActor, name string, args json.RawMessage) dto.ToolResult {
	result := s.execute(ctx, actor, name, args)
	observability.AssistantToolCalls().WithLabelValues(metricToolName(s.tools, name), result.Status).Inc()
	return result
}

func (s *assistantService) execute(ctx context.Context, actor ActivityActor, name string, args json.RawMessage) dto.ToolResult {
	tool, ok := s.tools[name]
	if !ok {
		return toolFailure("unknown_tool", fmt.Sprintf("tool %q does not exist", name))
	}

	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return toolFailure("invalid_arguments", "arguments must be a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return toolFailure("invalid_arguments", "arguments must be a single JSON object")
	}
	if err := tool.schema.Validate(value); err != nil {
		return toolFailure("invalid_arguments", schemaMessage(err))
	}

	data, err := tool.spec.run(ctx, actor, args)
	if err != nil {
		return s.toolError(name, err)
	}

	return dto.ToolResult{Status: dto.ToolStatusSuccess, Data: data}
}

func (s *assistantService) toolError(name string, err error) dto.ToolResult {
	if review, ok := AsReview(err); ok {
		return dto.ToolResult{
			Status: dto.ToolStatusNeedsReview,
			Review: &dto.ToolReview{Reason: review.Reason, Candidates: review.Candidates},
		}
	}

	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs), errors.Is(err, ErrValidation):
		return toolFailure("validation", err.Error())
	case errors.Is(err, ErrNotFound):
		return toolFailure("not_found", err.Error())
	case errors.Is(err, ErrPrecondition):
		return toolFailure("precondition", err.Error())
	case errors.Is(err, ErrConsistency):
		return toolFailure("consistency", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return toolFailure("cancelled", err.Error())
	}

	s.logger.Error().Err(err).Str("tool", name).Msg("assistant tool failed")
	return toolFailure("internal", "the tool failed unexpectedly")
}

func (s *assistantService) Converse(ctx context.Context, actor ActivityActor, req dto.AssistantChatRequest) (dto.AssistantChatResponse, error) {
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validator.Struct(req); err != nil {
		return dto.AssistantChatResponse{}, err
	}
	if s.client == nil {
		return dto.AssistantChatResponse{}, preconditionf("assistant is not configured")
	}

	ctx, span := s.tracer.Start(ctx, "assistant.converse", trace.WithAttributes(
		attribute.Int("actor_id", int(actor.ID)),
	))
	defer span.End()

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	history := req.History
	if len(history) == 0 && s.sessions != nil {
		stored, err := s.sessions.Load(ctx, sessionID)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to load assistant session")
		}
		history = stored
	}
	history = trimHistory(history, maxHistoryMessages)

	today := s.now().In(s.location).Format("2006-01-02")
	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: fmt.Sprintf(assistantPrompt, today)})
	messages = append(messages, history...)
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: req.Message})

	response := dto.AssistantChatResponse{
		SessionID:   sessionID,
		Invocations: []dto.ToolInvocation{},
	}

	answered := false
	for round := 0; round < maxToolRounds; round++ {
		completion, err := s.client.Complete(ctx, messages, s.definitions)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return dto.AssistantChatResponse{}, fmt.Errorf("assistant completion: %w", err)
		}

		response.Usage.PromptTokens += completion.Usage.PromptTokens
		response.Usage.CompletionTokens += completion.Usage.CompletionTokens

		reply := completion.Message
		reply.Role = ai.RoleAssistant
		messages = append(messages, reply)

		if len(reply.ToolCalls) == 0 {
			response.Reply = reply.Content
			answered = true
			break
		}

		for _, call := range reply.ToolCalls {
			args := json.RawMessage(call.Arguments)
			result := s.Execute(ctx, actor, call.Name, args)
			response.Invocations = append(response.Invocations, dto.ToolInvocation{
				Name:      call.Name,
				Arguments: validRaw(args),
				Result:    result,
			})

			payload, err := json.Marshal(result)
			if err != nil {
				payload = []byte(`{"status":"failure","error":{"code":"internal","message":"unencodable result"}}`)
			}
			messages = append(messages, ai.Message{
				Role:       ai.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    string(payload),
			})
		}
	}

	if !answered {
		response.Truncated = true
		response.Reply = "Não consegui concluir o pedido dentro do limite de consultas. Reformule ou divida o pedido."
		messages = append(messages, ai.Message{Role: ai.RoleAssistant, Content: response.Reply})
	}

	response.History = messages[1:]
	span.SetAttributes(
		attribute.Int("tool_calls", len(response.Invocations)),
		attribute.Bool("truncated", response.Truncated),
	)

	if s.sessions != nil {
		if err := s.sessions.Save(ctx, sessionID, response.History); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to store assistant session")
		}
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("tool_calls", len(response.Invocations)).
		Bool("truncated", response.Truncated).
		Msg("assistant reply produced")

	return response, nil
}

func toolFailure(code, message string) dto.ToolResult {
	return dto.ToolResult{Status: dto.ToolStatusFailure, Error: &dto.ToolError{Code: code, Message: message}}
}

func schemaMessage(err error) string {
	var validationErr *jsonschema.ValidationError
	if errors.As(err, &validationErr) {
		leaf := validationErr
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		location := leaf.InstanceLocation
		if location == "" {
			location = "/"
		}
		return fmt.Sprintf("%s: %s", location, leaf.Message)
	}
	return err.Error()
}

// metricToolName keeps label cardinality bounded when the model invents tool names.
func metricToolName(tools map[string]compiledTool, name string) string {
	if _, ok := tools[name]; ok {
		return name
	}
	return "unknown"
}

func validRaw(raw json.RawMessage) json.RawMessage {
	if json.Valid(raw) {
		return raw
	}
	encoded, _ := json.Marshal(string(raw))
	return encoded
}
