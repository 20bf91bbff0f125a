package tools

import (
	"context"
)

// Tool is the interface that all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ClosableTool is an optional interface for tools that hold runtime
// resources and require explicit teardown when the agent stops.
type ClosableTool interface {
	Tool
	Close() error
}

type toolExecutionContext struct {
	channel  string
	chatID   string
	senderID string
}

type toolExecutionContextKey struct{}

// withToolExecutionContext annotates a call context with per-execution metadata.
func withToolExecutionContext(ctx context.Context, channel, chatID, senderID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := toolExecutionContextFromContext(ctx); ok {
		if channel == "" {
			channel = existing.channel
		}
		if chatID == "" {
			chatID = existing.chatID
		}
		if senderID == "" {
			senderID = existing.senderID
		}
	}
	execCtx := toolExecutionContext{
		channel:  channel,
		chatID:   chatID,
		senderID: senderID,
	}
	return context.WithValue(ctx, toolExecutionContextKey{}, execCtx)
}

func toolExecutionContextFromContext(ctx context.Context) (toolExecutionContext, bool) {
	if ctx == nil {
		return toolExecutionContext{}, false
	}
	execCtx, ok := ctx.Value(toolExecutionContextKey{}).(toolExecutionContext)
	return execCtx, ok
}

// ChannelChatFromContext returns the channel and chat id the current
// tool execution belongs to, "" when executing outside a chat request.
func ChannelChatFromContext(ctx context.Context) (string, string) {
	execCtx, ok := toolExecutionContextFromContext(ctx)
	if !ok {
		return "", ""
	}
	return execCtx.channel, execCtx.chatID
}

// SenderFromContext returns the chat identity of the requesting user,
// used by tools that default to the sender (member registration).
func SenderFromContext(ctx context.Context) string {
	execCtx, ok := toolExecutionContextFromContext(ctx)
	if !ok {
		return ""
	}
	return execCtx.senderID
}

func ToolToSchema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}
