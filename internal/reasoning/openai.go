package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIBackend implements Generator against any OpenAI-compatible endpoint.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates an OpenAI-compatible generator. baseURL may be
// empty for the official API, or point at a compatible server.
func NewOpenAIBackend(apiKey, model, baseURL string) *OpenAIBackend {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Generate implements Generator.
func (b *OpenAIBackend) Generate(ctx context.Context, systemPrompt string, history []Message, schemas []ToolSchema) (Result, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	// OpenAI rejects tool messages that don't follow an assistant message
	// with tool_calls, so orphans are skipped.
	var prevAssistantHadCalls bool

	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			})
			prevAssistantHadCalls = false
		case RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
			prevAssistantHadCalls = false
		case RoleAssistant:
			content := m.Content
			if content == "" {
				// The SDK serializes "" as null, which the API rejects.
				content = " "
			}
			var toolCalls []openai.ToolCall
			for _, tc := range m.Calls {
				argsJSON, _ := json.Marshal(tc.Args)
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			})
			prevAssistantHadCalls = len(m.Calls) > 0
		case RoleTool:
			if !prevAssistantHadCalls {
				continue
			}
			content := m.Content
			if content == "" {
				content = "{}"
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: m.Name,
				Content:    content,
			})
		}
	}

	var tools []openai.Tool
	for _, ts := range schemas {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schemaObj); err != nil {
			return Result{}, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  schemaObj,
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    b.model,
		Messages: msgs,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		status, retryAfter := extractErrorMetadata(err)
		return Result{}, wrapProviderError(err, status, retryAfter)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("empty response from backend")
	}

	choice := resp.Choices[0]
	var calls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if uerr := json.Unmarshal([]byte(tc.Function.Arguments), &args); uerr != nil {
				args = make(map[string]any)
			}
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}

	finish := "stop"
	if len(calls) > 0 {
		finish = "tool_calls"
	} else if choice.FinishReason == openai.FinishReasonLength {
		finish = "length"
	} else if choice.FinishReason == openai.FinishReasonContentFilter {
		finish = "content_filter"
	}

	return Result{
		Text:  choice.Message.Content,
		Calls: calls,
		Usage: Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		FinishReason: finish,
	}, nil
}

// extractErrorMetadata pulls an HTTP status code and Retry-After value out
// of an opaque SDK error message.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	var httpStatus int
	var retryAfter string

	switch {
	case strings.Contains(errStr, "429"):
		httpStatus = http.StatusTooManyRequests
	case strings.Contains(errStr, "500"):
		httpStatus = http.StatusInternalServerError
	case strings.Contains(errStr, "502"):
		httpStatus = http.StatusBadGateway
	case strings.Contains(errStr, "503"):
		httpStatus = http.StatusServiceUnavailable
	case strings.Contains(errStr, "504"):
		httpStatus = http.StatusGatewayTimeout
	case strings.Contains(errStr, "401"):
		httpStatus = http.StatusUnauthorized
	case strings.Contains(errStr, "403"):
		httpStatus = http.StatusForbidden
	case strings.Contains(errStr, "400"):
		httpStatus = http.StatusBadRequest
	}

	lower := strings.ToLower(errStr)
	if idx := strings.Index(lower, "retry-after"); idx != -1 {
		rest := strings.TrimLeft(errStr[idx+len("retry-after"):], ": ")
		if parts := strings.Fields(rest); len(parts) > 0 {
			retryAfter = parts[0]
		}
	} else if idx := strings.Index(lower, "retry after"); idx != -1 {
		rest := strings.TrimSpace(errStr[idx+len("retry after"):])
		if parts := strings.Fields(rest); len(parts) > 0 {
			retryAfter = parts[0]
		}
	}

	return httpStatus, retryAfter
}
