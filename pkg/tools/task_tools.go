package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gardenista/beanbot/pkg/knowledge"
)

// AppendTaskTool adds a task line to tasks.md with optional assignee,
// due date, and recurrence metadata. Near-duplicate open tasks are
// reported back instead of silently stacked.
type AppendTaskTool struct {
	library *knowledge.Library
}

func NewAppendTaskTool(library *knowledge.Library) *AppendTaskTool {
	return &AppendTaskTool{library: library}
}

func (t *AppendTaskTool) Name() string {
	return "append_task"
}

func (t *AppendTaskTool) Description() string {
	return "Add a new task to the shared task list. Supports an optional assignee, due date (YYYY-MM-DD), and recurrence (daily, weekly, monthly, every N days, every N weeks). Recurring tasks need a due date."
}

func (t *AppendTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"description": map[string]interface{}{
				"type":        "string",
				"description": "What needs doing, e.g. 'Water the tomato beds'",
			},
			"assignee": map[string]interface{}{
				"type":        "string",
				"description": "Member name the task is for (optional)",
			},
			"due_date": map[string]interface{}{
				"type":        "string",
				"description": "Due date in YYYY-MM-DD format (optional)",
			},
			"recurring": map[string]interface{}{
				"type":        "string",
				"description": "Recurrence pattern: daily, weekly, monthly, or 'every N days' (optional, requires due_date)",
			},
			"force": map[string]interface{}{
				"type":        "boolean",
				"description": "Add the task even when similar open tasks exist",
			},
		},
		"required": []string{"description"},
	}
}

func (t *AppendTaskTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	description, ok := args["description"].(string)
	if !ok || strings.TrimSpace(description) == "" {
		return ErrorResult("description is required")
	}

	opts := knowledge.AddTaskOptions{}
	if s, ok := args["assignee"].(string); ok {
		opts.Assignee = strings.TrimSpace(s)
	}
	if s, ok := args["due_date"].(string); ok {
		opts.DueDate = strings.TrimSpace(s)
	}
	if s, ok := args["recurring"].(string); ok {
		opts.Recurring = strings.TrimSpace(s)
	}
	if force, ok := args["force"].(bool); ok && force {
		opts.SkipDuplicateCheck = true
	}

	outcome, err := t.library.AddTask(description, opts)
	if err != nil {
		return ErrorResult(fmt.Sprintf("add task: %v", err))
	}
	if !outcome.Added {
		if len(outcome.SimilarTasks) > 0 {
			msg := fmt.Sprintf("Not added: similar open tasks already exist for %q:\n- %s\nUse force=true to add it anyway.",
				description, strings.Join(outcome.SimilarTasks, "\n- "))
			return UserResult(msg)
		}
		return UserResult(outcome.Message)
	}
	return UserResult(outcome.Message)
}

// CompleteTaskTool flips the checkbox of the open task matching a
// snippet. An ambiguous snippet returns the candidates untouched so
// the caller can pick one.
type CompleteTaskTool struct {
	library *knowledge.Library
}

func NewCompleteTaskTool(library *knowledge.Library) *CompleteTaskTool {
	return &CompleteTaskTool{library: library}
}

func (t *CompleteTaskTool) Name() string {
	return "complete_task"
}

func (t *CompleteTaskTool) Description() string {
	return "Mark an open task as done by matching a snippet of its description. If the snippet matches several tasks, the candidates are listed and nothing is changed. Recurring tasks are rescheduled automatically."
}

func (t *CompleteTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"snippet": map[string]interface{}{
				"type":        "string",
				"description": "A distinctive part of the task description, e.g. 'water tomato'",
			},
		},
		"required": []string{"snippet"},
	}
}

func (t *CompleteTaskTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	snippet, ok := args["snippet"].(string)
	if !ok || strings.TrimSpace(snippet) == "" {
		return ErrorResult("snippet is required")
	}

	outcome, err := t.library.CompleteTask(snippet, time.Now())
	if err != nil {
		return ErrorResult(fmt.Sprintf("complete task: %v", err))
	}
	if len(outcome.Candidates) > 0 {
		return AmbiguousResult(outcome.Message, outcome.Candidates)
	}
	return UserResult(outcome.Message)
}

// RemoveTaskTool deletes open tasks matching a snippet after taking a
// backup of tasks.md.
type RemoveTaskTool struct {
	library *knowledge.Library
}

func NewRemoveTaskTool(library *knowledge.Library) *RemoveTaskTool {
	return &RemoveTaskTool{library: library}
}

func (t *RemoveTaskTool) Name() string {
	return "remove_task"
}

func (t *RemoveTaskTool) Description() string {
	return "Remove open tasks whose description contains a snippet. A backup of the task list is taken first."
}

func (t *RemoveTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"snippet": map[string]interface{}{
				"type":        "string",
				"description": "Text matching the tasks to remove",
			},
		},
		"required": []string{"snippet"},
	}
}

func (t *RemoveTaskTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	snippet, ok := args["snippet"].(string)
	if !ok || strings.TrimSpace(snippet) == "" {
		return ErrorResult("snippet is required")
	}

	removed, err := t.library.RemoveTasks(snippet)
	if err != nil {
		return ErrorResult(fmt.Sprintf("remove tasks: %v", err))
	}
	if len(removed) == 0 {
		return UserResult(fmt.Sprintf("No open tasks match %q.", snippet))
	}
	return UserResult(fmt.Sprintf("Removed %d task(s):\n- %s", len(removed), strings.Join(removed, "\n- ")))
}

// ReassignTasksTool moves every open task from one member to another.
// The name "unassigned" selects tasks without an assignee.
type ReassignTasksTool struct {
	library *knowledge.Library
}

func NewReassignTasksTool(library *knowledge.Library) *ReassignTasksTool {
	return &ReassignTasksTool{library: library}
}

func (t *ReassignTasksTool) Name() string {
	return "reassign_tasks"
}

func (t *ReassignTasksTool) Description() string {
	return "Reassign all open tasks from one member to another. Use 'unassigned' as the source to pick up tasks without an assignee."
}

func (t *ReassignTasksTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"from": map[string]interface{}{
				"type":        "string",
				"description": "Current assignee name, or 'unassigned'",
			},
			"to": map[string]interface{}{
				"type":        "string",
				"description": "New assignee name",
			},
		},
		"required": []string{"from", "to"},
	}
}

func (t *ReassignTasksTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	from, ok := args["from"].(string)
	if !ok || strings.TrimSpace(from) == "" {
		return ErrorResult("from is required")
	}
	to, ok := args["to"].(string)
	if !ok || strings.TrimSpace(to) == "" {
		return ErrorResult("to is required")
	}

	moved, err := t.library.ReassignTasks(from, to)
	if err != nil {
		return ErrorResult(fmt.Sprintf("reassign tasks: %v", err))
	}
	if len(moved) == 0 {
		return UserResult(fmt.Sprintf("No open tasks assigned to %s.", from))
	}
	return UserResult(fmt.Sprintf("Reassigned %d task(s) from %s to %s:\n- %s",
		len(moved), from, to, strings.Join(moved, "\n- ")))
}

// GetMemberTasksTool lists the open tasks assigned to one member.
// Unassigned tasks are included only on request.
type GetMemberTasksTool struct {
	library *knowledge.Library
}

func NewGetMemberTasksTool(library *knowledge.Library) *GetMemberTasksTool {
	return &GetMemberTasksTool{library: library}
}

func (t *GetMemberTasksTool) Name() string {
	return "get_member_tasks"
}

func (t *GetMemberTasksTool) Description() string {
	return "List open tasks assigned to a member. Set include_unassigned to also list tasks nobody has claimed. Optionally filter to tasks due today or overdue."
}

func (t *GetMemberTasksTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Member name",
			},
			"include_unassigned": map[string]interface{}{
				"type":        "boolean",
				"description": "Also list unassigned tasks anyone can pick up",
			},
			"due_only": map[string]interface{}{
				"type":        "boolean",
				"description": "Only include tasks due today or overdue",
			},
		},
		"required": []string{"name"},
	}
}

func (t *GetMemberTasksTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	name, ok := args["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return ErrorResult("name is required")
	}

	includeUnassigned, _ := args["include_unassigned"].(bool)
	tasks, err := t.library.TasksForMember(name, includeUnassigned)
	if err != nil {
		return ErrorResult(fmt.Sprintf("member tasks: %v", err))
	}
	if dueOnly, ok := args["due_only"].(bool); ok && dueOnly {
		tasks = knowledge.FilterDueTodayOrOverdue(tasks, time.Now().Format("2006-01-02"))
	}
	if len(tasks) == 0 {
		return SilentResult(fmt.Sprintf("No open tasks for %s.", name))
	}
	return SilentResult(fmt.Sprintf("Open tasks for %s:\n%s", name, strings.Join(tasks, "\n")))
}
