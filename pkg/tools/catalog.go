package tools

import (
	"github.com/gardenista/beanbot/pkg/knowledge"
)

// RegisterGardenTools wires the full garden tool catalog into a
// registry.
func RegisterGardenTools(registry *ToolRegistry, library *knowledge.Library) {
	registry.Register(NewReadFileTool(library))
	registry.Register(NewWriteFileTool(library))
	registry.Register(NewSearchFilesTool(library))
	registry.Register(NewListFilesTool(library))
	registry.Register(NewBackupFileTool(library))
	registry.Register(NewDeleteFileTool(library))

	registry.Register(NewAppendTaskTool(library))
	registry.Register(NewCompleteTaskTool(library))
	registry.Register(NewRemoveTaskTool(library))
	registry.Register(NewReassignTasksTool(library))
	registry.Register(NewGetMemberTasksTool(library))

	registry.Register(NewAppendHarvestTool(library))
	registry.Register(NewAppendJournalTool(library))
	registry.Register(NewAppendTopicUpdateTool(library))
	registry.Register(NewRebuildCalendarTool(library))

	registry.Register(NewRegisterMemberTool(library))
	registry.Register(NewListMembersTool(library))

	registry.Register(NewFetchURLTool(0))
}
