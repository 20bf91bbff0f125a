package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gardenista/beanbot/pkg/knowledge"
)

// AppendHarvestTool records a harvest row in harvests.md.
type AppendHarvestTool struct {
	library *knowledge.Library
}

func NewAppendHarvestTool(library *knowledge.Library) *AppendHarvestTool {
	return &AppendHarvestTool{library: library}
}

func (t *AppendHarvestTool) Name() string {
	return "append_harvest"
}

func (t *AppendHarvestTool) Description() string {
	return "Record a harvest in the harvest log: what was picked, how much, and optionally where and any notes."
}

func (t *AppendHarvestTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"crop": map[string]interface{}{
				"type":        "string",
				"description": "What was harvested, e.g. 'cherry tomatoes'",
			},
			"amount": map[string]interface{}{
				"type":        "string",
				"description": "How much, e.g. '2 kg' or '1 basket'",
			},
			"location": map[string]interface{}{
				"type":        "string",
				"description": "Where it was picked (optional)",
			},
			"notes": map[string]interface{}{
				"type":        "string",
				"description": "Anything worth remembering (optional)",
			},
		},
		"required": []string{"crop", "amount"},
	}
}

func (t *AppendHarvestTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	crop, _ := args["crop"].(string)
	amount, _ := args["amount"].(string)
	location, _ := args["location"].(string)
	notes, _ := args["notes"].(string)

	if err := t.library.AppendHarvest(crop, amount, location, notes, time.Now()); err != nil {
		return ErrorResult(fmt.Sprintf("record harvest: %v", err))
	}
	return UserResult(fmt.Sprintf("Logged harvest: %s of %s.", amount, crop))
}

// AppendJournalTool adds a timestamped entry to the garden log.
type AppendJournalTool struct {
	library *knowledge.Library
}

func NewAppendJournalTool(library *knowledge.Library) *AppendJournalTool {
	return &AppendJournalTool{library: library}
}

func (t *AppendJournalTool) Name() string {
	return "append_journal"
}

func (t *AppendJournalTool) Description() string {
	return "Add a timestamped entry to the garden journal. Use for observations, decisions, and anything worth keeping a dated record of."
}

func (t *AppendJournalTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"entry": map[string]interface{}{
				"type":        "string",
				"description": "The journal entry text",
			},
		},
		"required": []string{"entry"},
	}
}

func (t *AppendJournalTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	entry, ok := args["entry"].(string)
	if !ok || strings.TrimSpace(entry) == "" {
		return ErrorResult("entry is required")
	}

	if err := t.library.AppendJournal(entry, time.Now()); err != nil {
		return ErrorResult(fmt.Sprintf("append journal: %v", err))
	}
	return UserResult("Journal entry saved.")
}

// AppendTopicUpdateTool adds a dated update block to a topic document
// and records where the information came from.
type AppendTopicUpdateTool struct {
	library *knowledge.Library
}

func NewAppendTopicUpdateTool(library *knowledge.Library) *AppendTopicUpdateTool {
	return &AppendTopicUpdateTool{library: library}
}

func (t *AppendTopicUpdateTool) Name() string {
	return "append_topic_update"
}

func (t *AppendTopicUpdateTool) Description() string {
	return "Append a dated update to a topic file (e.g. tomatoes, garlic, soil). Creates the file if needed and records the information source. If the new information contradicts what the file already says, note it in the content."
}

func (t *AppendTopicUpdateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"topic": map[string]interface{}{
				"type":        "string",
				"description": "Topic name, e.g. 'tomatoes' or 'companion planting'",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The update text in markdown",
			},
			"source": map[string]interface{}{
				"type":        "string",
				"description": "Where this came from: a URL, 'chat', 'PDF: name', etc. (optional)",
			},
			"conflicts_with": map[string]interface{}{
				"type":        "string",
				"description": "Existing text in the file this update contradicts (optional)",
			},
		},
		"required": []string{"topic", "content"},
	}
}

func (t *AppendTopicUpdateTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	topic, ok := args["topic"].(string)
	if !ok || strings.TrimSpace(topic) == "" {
		return ErrorResult("topic is required")
	}
	content, ok := args["content"].(string)
	if !ok || strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}
	source, _ := args["source"].(string)

	filename, err := t.library.AppendTopicUpdate(topic, content, source, time.Now())
	if err != nil {
		return ErrorResult(fmt.Sprintf("topic update: %v", err))
	}

	if previous, ok := args["conflicts_with"].(string); ok && strings.TrimSpace(previous) != "" {
		if err := t.library.AnnotateConflict(filename, previous, content); err != nil {
			return UserResult(fmt.Sprintf("Updated %s, but could not annotate the conflict: %v", filename, err))
		}
		return UserResult(fmt.Sprintf("Updated %s and flagged the conflict with the earlier entry.", filename))
	}
	return UserResult(fmt.Sprintf("Updated %s.", filename))
}

// RebuildCalendarTool regenerates planting_calendar.md from the
// planting date markers scattered across topic files.
type RebuildCalendarTool struct {
	library *knowledge.Library
}

func NewRebuildCalendarTool(library *knowledge.Library) *RebuildCalendarTool {
	return &RebuildCalendarTool{library: library}
}

func (t *RebuildCalendarTool) Name() string {
	return "rebuild_calendar"
}

func (t *RebuildCalendarTool) Description() string {
	return "Rebuild the planting calendar by scanning every topic file for spring/fall planting dates and sowing instructions."
}

func (t *RebuildCalendarTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *RebuildCalendarTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	entries, err := t.library.RebuildCalendar()
	if err != nil {
		return ErrorResult(fmt.Sprintf("rebuild calendar: %v", err))
	}
	if entries == 0 {
		return UserResult("Rebuilt the planting calendar, but no files contain planting dates yet.")
	}
	return UserResult(fmt.Sprintf("Rebuilt the planting calendar with %d entr%s.", entries, pluralY(entries)))
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
