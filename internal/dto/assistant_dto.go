package dto

import (
	"encoding/json"

	"github.com/noah-isme/secretaria-go-api/pkg/ai"
)

// Tool result statuses.
const (
	ToolStatusSuccess     = "success"
	ToolStatusFailure     = "failure"
	ToolStatusNeedsReview = "needs_review"
)

// ToolError describes why a tool call failed.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToolReview carries what a human must decide before a tool can proceed.
type ToolReview struct {
	Reason     string        `json:"reason"`
	Candidates []interface{} `json:"candidates,omitempty"`
}

// ToolResult is the uniform envelope returned by every assistant tool. Exactly one of
// Data, Error or Review is set, according to Status.
type ToolResult struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *ToolError  `json:"error,omitempty"`
	Review *ToolReview `json:"review,omitempty"`
}

// ToolDescriptor lists a tool of the assistant catalog.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolInvocation records one tool call made while answering a message.
type ToolInvocation struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    ToolResult      `json:"result"`
}

// AssistantChatRequest sends one message to the assistant. History, when given, is the
// conversation so far; otherwise it is loaded from the session store.
type AssistantChatRequest struct {
	SessionID string       `json:"session_id" validate:"omitempty,max=64"`
	Message   string       `json:"message" validate:"required,max=4000"`
	History   []ai.Message `json:"history"`
}

// AssistantChatResponse returns the reply and the updated conversation.
type AssistantChatResponse struct {
	SessionID   string           `json:"session_id"`
	Reply       string           `json:"reply"`
	Invocations []ToolInvocation `json:"invocations"`
	History     []ai.Message     `json:"history"`
	Truncated   bool             `json:"truncated"`
	Usage       ai.Usage         `json:"usage"`
}
