package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// LLMProvider is the model backend contract consumed by the agent
// loop: a bounded prompt plus the available tools in, a final answer
// or requested tool calls out.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

// Message is one chat-completions wire message. Content is either a
// plain string or a slice of content parts for multimodal input.
type Message struct {
	Role       string            `json:"role"`
	Content    interface{}       `json:"content"`
	Name       string            `json:"name,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCallPayload `json:"tool_calls,omitempty"`
}

// ToolCallPayload is the wire form of a requested tool call inside an
// assistant message; arguments travel as a JSON string.
type ToolCallPayload struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ToolCall is a parsed tool invocation request from the model.
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments map[string]interface{}
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// UsageInfo carries token accounting when the backend reports it.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is one backend reply: final text, or requested tool
// calls, or both.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *UsageInfo
}

// TextMessage builds a plain text message.
func TextMessage(role, content string) Message {
	return Message{Role: role, Content: content}
}

// ToolResultMessage builds the tool-role reply for one executed call.
func ToolResultMessage(toolCallID, toolName, content string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: toolCallID, Name: toolName}
}

// AssistantToolCallMessage re-encodes parsed tool calls into the wire
// form the API expects when echoing the assistant turn back.
func AssistantToolCallMessage(content string, calls []ToolCall) Message {
	payloads := make([]ToolCallPayload, 0, len(calls))
	for _, call := range calls {
		var p ToolCallPayload
		p.ID = call.ID
		p.Type = call.Type
		if p.Type == "" {
			p.Type = "function"
		}
		p.Function.Name = call.Name
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		p.Function.Arguments = string(args)
		payloads = append(payloads, p)
	}
	return Message{Role: "assistant", Content: content, ToolCalls: payloads}
}

// ImageAttachment is an inline image for vision-capable models.
type ImageAttachment struct {
	MimeType string
	Data     []byte
}

// UserMessageWithImages builds a multimodal user message carrying the
// text plus base64 data-URL image parts.
func UserMessageWithImages(text string, images []ImageAttachment) Message {
	if len(images) == 0 {
		return TextMessage("user", text)
	}
	parts := []interface{}{
		map[string]interface{}{"type": "text", "text": text},
	}
	for _, img := range images {
		encoded := base64.StdEncoding.EncodeToString(img.Data)
		parts = append(parts, map[string]interface{}{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url": fmt.Sprintf("data:%s;base64,%s", img.MimeType, encoded),
			},
		})
	}
	return Message{Role: "user", Content: parts}
}
