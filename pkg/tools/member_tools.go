package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/gardenista/beanbot/pkg/knowledge"
)

// RegisterMemberTool records a garden member so tasks can be assigned
// to them and reminders routed to their chat. When no chat id is given
// the sender of the current message is registered.
type RegisterMemberTool struct {
	library *knowledge.Library
}

func NewRegisterMemberTool(library *knowledge.Library) *RegisterMemberTool {
	return &RegisterMemberTool{library: library}
}

func (t *RegisterMemberTool) Name() string {
	return "register_member"
}

func (t *RegisterMemberTool) Description() string {
	return "Register a garden member by name so tasks can be assigned to them. Defaults to registering the person who sent the current message."
}

func (t *RegisterMemberTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "The member's name, e.g. 'George'",
			},
			"chat_id": map[string]interface{}{
				"type":        "string",
				"description": "Chat id to reach them at (optional, defaults to the current sender)",
			},
		},
		"required": []string{"name"},
	}
}

func (t *RegisterMemberTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	name, ok := args["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return ErrorResult("name is required")
	}

	chatID, _ := args["chat_id"].(string)
	if strings.TrimSpace(chatID) == "" {
		chatID = SenderFromContext(ctx)
	}
	if strings.TrimSpace(chatID) == "" {
		return ErrorResult("no chat_id given and the current sender is unknown")
	}

	if err := t.library.RegisterMember(name, chatID); err != nil {
		return ErrorResult(fmt.Sprintf("register member: %v", err))
	}
	return UserResult(fmt.Sprintf("Registered %s.", name))
}

// ListMembersTool lists the registered garden members.
type ListMembersTool struct {
	library *knowledge.Library
}

func NewListMembersTool(library *knowledge.Library) *ListMembersTool {
	return &ListMembersTool{library: library}
}

func (t *ListMembersTool) Name() string {
	return "list_members"
}

func (t *ListMembersTool) Description() string {
	return "List the registered garden members."
}

func (t *ListMembersTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListMembersTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	names := t.library.MemberNames()
	if len(names) == 0 {
		return SilentResult("No members registered yet.")
	}
	return SilentResult("Members:\n- " + strings.Join(names, "\n- "))
}
