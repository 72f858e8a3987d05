package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicBackend implements Generator against the Anthropic Messages API.
type AnthropicBackend struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicBackend creates an Anthropic-backed generator.
func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	return &AnthropicBackend{
		client:    anthropic.NewClient(apiKey),
		model:     model,
		maxTokens: 4096,
	}
}

// Generate implements Generator.
func (b *AnthropicBackend) Generate(ctx context.Context, systemPrompt string, history []Message, schemas []ToolSchema) (Result, error) {
	var systemParts []anthropic.MessageSystemPart
	if systemPrompt != "" {
		systemParts = append(systemParts, anthropic.MessageSystemPart{Type: "text", Text: systemPrompt})
	}

	var msgs []anthropic.Message
	// Anthropic requires tool_result blocks to follow an assistant message
	// with tool_use; orphaned tool messages are skipped to avoid API errors.
	var prevAssistantHadCalls bool

	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, anthropic.MessageSystemPart{Type: "text", Text: m.Content})
			prevAssistantHadCalls = false
		case RoleUser:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
			prevAssistantHadCalls = false
		case RoleAssistant:
			var content []anthropic.MessageContent
			if m.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(m.Content))
			}
			for _, tc := range m.Calls {
				argsJSON, _ := json.Marshal(tc.Args)
				content = append(content, anthropic.NewToolUseMessageContent(tc.ID, tc.Name, json.RawMessage(argsJSON)))
			}
			msgs = append(msgs, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
			prevAssistantHadCalls = len(m.Calls) > 0
		case RoleTool:
			if !prevAssistantHadCalls {
				continue
			}
			content := m.Content
			if content == "" {
				content = "{}"
			}
			msgs = append(msgs, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewToolResultMessageContent(m.Name, content, false),
				},
			})
		}
	}

	var toolDefs []anthropic.ToolDefinition
	for _, ts := range schemas {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schemaObj); err != nil {
			return Result{}, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		toolDefs = append(toolDefs, anthropic.ToolDefinition{
			Name:        ts.Name,
			Description: ts.Description,
			InputSchema: schemaObj,
		})
	}

	temperature := float32(0.1)
	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(b.model),
		Messages:    msgs,
		MaxTokens:   b.maxTokens,
		Temperature: &temperature,
	}
	if len(systemParts) > 0 {
		req.MultiSystem = systemParts
	}
	if len(toolDefs) > 0 {
		req.Tools = toolDefs
	}

	resp, err := b.client.CreateMessages(ctx, req)
	if err != nil {
		status, retryAfter := extractErrorMetadata(err)
		return Result{}, wrapProviderError(err, status, retryAfter)
	}

	var text string
	var calls []ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text += *block.Text
			}
		case "tool_use":
			if block.MessageContentToolUse != nil && block.ID != "" && block.Name != "" {
				args := make(map[string]any)
				if len(block.Input) > 0 {
					if uerr := json.Unmarshal(block.Input, &args); uerr != nil {
						args = make(map[string]any)
					}
				}
				calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Args: args})
			}
		}
	}

	finish := "stop"
	if len(calls) > 0 {
		finish = "tool_calls"
	} else if resp.StopReason == "max_tokens" {
		finish = "length"
	} else if resp.StopReason == "content_filtered" {
		finish = "content_filter"
	}

	return Result{
		Text:  text,
		Calls: calls,
		Usage: Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: finish,
	}, nil
}
