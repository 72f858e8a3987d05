// Package reasoning defines the boundary to the external reasoning backend
// and provides Anthropic and OpenAI-compatible implementations of it.
package reasoning

import (
	"context"
	"fmt"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the provider-agnostic message passed to the backend.
type Message struct {
	Role    Role       `json:"role"`
	Content string     `json:"content"`
	Name    string     `json:"name,omitempty"` // tool call ID for tool messages
	Calls   []ToolCall `json:"calls,omitempty"`
}

// Validate checks that the message is well formed.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleTool && m.Name == "" {
		return fmt.Errorf("tool messages must carry the originating call ID")
	}
	return nil
}

// ToolCall is a tool invocation requested by the backend.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolSchema describes one callable tool to the backend.
type ToolSchema struct {
	Name        string
	Description string
	JSONSchema  string // raw JSON schema string
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Result is the normalized outcome of one Generate call. The coordinator
// core only consumes Calls; Text is carried for logging and audit.
type Result struct {
	Text         string
	Calls        []ToolCall
	Usage        Usage
	FinishReason string // "stop" | "length" | "tool_calls" | "content_filter"
}

// Generator is the reasoning backend boundary. Implementations must honor
// ctx cancellation; the caller supplies the timeout.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []Message, schemas []ToolSchema) (Result, error)
}
