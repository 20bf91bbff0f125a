package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gardenista/beanbot/pkg/knowledge"
	"github.com/gardenista/beanbot/pkg/logger"
	"github.com/xeipuuv/gojsonschema"
)

// jaccardThreshold gates which task pairs are worth asking the model
// about. Pairs below it never reach the model.
const jaccardThreshold = 0.5

// TaskGroup is one set of overlapping open tasks the model flagged.
// Indices are positions in the open-task list handed to the analysis.
type TaskGroup struct {
	Indices        []int  `json:"indices"`
	Reason         string `json:"reason"`
	SuggestedMerge string `json:"suggested_merge"`
	Type           string `json:"type"`
}

const taskGroupsSchema = `{
	"type": "object",
	"required": ["groups"],
	"properties": {
		"groups": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["indices"],
				"properties": {
					"indices": {"type": "array", "items": {"type": "integer"}},
					"reason": {"type": "string"},
					"suggested_merge": {"type": "string"},
					"type": {"type": "string"}
				}
			}
		}
	}
}`

const taskAnalysisRules = `You are analyzing a task list for duplicates and near-duplicates.

TASKS (index: description):
%s

RULES:
- Group tasks that are genuinely duplicate or overlapping (same work described differently)
- Do NOT group tasks just because they involve the same plant or area
- Each task can appear in at most ONE group
- Tasks assigned to different people doing the SAME work ARE duplicates
- Tasks with DIFFERENT [Recurring: ...] patterns are NOT duplicates
- A recurring task and a non-recurring task with the same description are NOT duplicates
- 'duplicate' = essentially identical tasks; 'similar' = overlapping scope that could be merged
- For suggested_merge: write a single clean task line combining the best details from the group. Preserve any [Assigned: ...] and [Due: ...] tags from the EARLIEST due date. If tasks have different assignees, note both.

Respond with ONLY valid JSON (no markdown fences) in the form:
{"groups": [{"indices": [0, 3], "reason": "Both describe watering tomatoes", "suggested_merge": "Water tomatoes in bed 2 [Due: 2025-06-15]", "type": "duplicate"}]}
If no duplicates or similar tasks exist, return {"groups": []}.`

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// AnalyzeDuplicateTasks finds groups of duplicate or near-duplicate
// open tasks. Word-overlap similarity prefilters the candidates, so a
// task list with no overlapping pair costs no model call at all.
func (e *Engine) AnalyzeDuplicateTasks(ctx context.Context, openTasks []string) ([]TaskGroup, error) {
	if len(openTasks) < 2 {
		return nil, nil
	}

	candidates := candidateIndices(openTasks)
	if len(candidates) == 0 {
		logger.DebugC("consolidate", "No overlapping task pairs, skipping model analysis")
		return nil, nil
	}

	lines := make([]string, 0, len(candidates))
	for _, idx := range candidates {
		clean := strings.TrimSpace(checkboxPrefixRe.ReplaceAllString(openTasks[idx], ""))
		lines = append(lines, fmt.Sprintf("%d: %s", idx, clean))
	}

	logger.InfoCF("consolidate", "Analyzing tasks for duplicates", map[string]interface{}{
		"open":       len(openTasks),
		"candidates": len(candidates),
	})
	text, err := e.complete(ctx, fmt.Sprintf(taskAnalysisRules, strings.Join(lines, "\n")), taskAnalysisTokens)
	if err != nil {
		return nil, err
	}

	groups, err := parseTaskGroups(text)
	if err != nil {
		logger.WarnCF("consolidate", "Discarding unparseable duplicate analysis", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}
	return validateTaskGroups(groups, candidates), nil
}

var checkboxPrefixRe = regexp.MustCompile(`^- \[[ x]\] `)

// candidateIndices returns the sorted indices of tasks that have at
// least one similar partner in the list.
func candidateIndices(tasks []string) []int {
	marked := make(map[int]bool)
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			if marked[i] && marked[j] {
				continue
			}
			desc := knowledge.TaskDescription(tasks[i])
			if len(knowledge.FindSimilarTasks(desc, tasks[j:j+1], jaccardThreshold)) > 0 {
				marked[i] = true
				marked[j] = true
			}
		}
	}
	indices := make([]int, 0, len(marked))
	for idx := range marked {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// parseTaskGroups extracts and schema-validates the model's JSON. A
// bare top-level array is accepted and wrapped.
func parseTaskGroups(text string) ([]TaskGroup, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON found in model output")
	}
	if strings.HasPrefix(raw, "[") {
		raw = `{"groups": ` + raw + `}`
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(taskGroupsSchema),
		gojsonschema.NewStringLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("schema violations: %s", strings.Join(details, "; "))
	}

	var payload struct {
		Groups []TaskGroup `json:"groups"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	return payload.Groups, nil
}

// validateTaskGroups drops groups referencing indices outside the
// candidate set and enforces that no task appears in two groups.
func validateTaskGroups(groups []TaskGroup, candidates []int) []TaskGroup {
	allowed := make(map[int]bool, len(candidates))
	for _, idx := range candidates {
		allowed[idx] = true
	}
	seen := make(map[int]bool)
	var valid []TaskGroup
	for _, group := range groups {
		ok := len(group.Indices) >= 2
		for _, idx := range group.Indices {
			if !allowed[idx] || seen[idx] {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		for _, idx := range group.Indices {
			seen[idx] = true
		}
		if group.Type == "" {
			group.Type = "similar"
		}
		valid = append(valid, group)
	}
	logger.InfoCF("consolidate", "Duplicate analysis complete", map[string]interface{}{"groups": len(valid)})
	return valid
}

// extractJSON pulls the first JSON object or array out of model text,
// stripping markdown fences first.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	arrStart := strings.Index(text, "[")
	objStart := strings.Index(text, "{")
	switch {
	case arrStart == -1 && objStart == -1:
		return ""
	case arrStart != -1 && (objStart == -1 || arrStart < objStart):
		text = text[arrStart:]
		if end := strings.LastIndex(text, "]"); end != -1 {
			text = text[:end+1]
		}
	default:
		text = text[objStart:]
		if end := strings.LastIndex(text, "}"); end != -1 {
			text = text[:end+1]
		}
	}
	return text
}

// Decision is the reviewer's choice for one task group.
type Decision string

const (
	// DecisionKeep leaves every task in the group untouched.
	DecisionKeep Decision = "keep"
	// DecisionMerge replaces the group with its suggested merge line.
	DecisionMerge Decision = "merge"
	// DecisionRemove keeps the first task and deletes the rest.
	DecisionRemove Decision = "remove"
)

// ApplySummary reports what a decision application changed.
type ApplySummary struct {
	MergedGroups int
	RemovedTasks int
	KeptGroups   int
}

func (s ApplySummary) String() string {
	var parts []string
	if s.MergedGroups > 0 {
		parts = append(parts, fmt.Sprintf("%d group(s) merged", s.MergedGroups))
	}
	if s.RemovedTasks > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicate(s) removed", s.RemovedTasks))
	}
	// Kept groups alone are not a change.
	if len(parts) == 0 {
		return "No changes made."
	}
	if s.KeptGroups > 0 {
		parts = append(parts, fmt.Sprintf("%d group(s) kept as-is", s.KeptGroups))
	}
	return "Task consolidation complete: " + strings.Join(parts, ", ") + "."
}

// ApplyTaskDecisions rewrites tasks.md according to the per-group
// decisions. A missing decision means keep, so an abandoned review
// changes nothing. The task list is backed up before any write.
// openTasks must be the same list the groups were analyzed against.
func (e *Engine) ApplyTaskDecisions(groups []TaskGroup, openTasks []string, decisions map[int]Decision, now time.Time) (ApplySummary, error) {
	var summary ApplySummary

	remove := make(map[int]bool)
	var mergedLines []string
	for groupIdx, group := range groups {
		decision, ok := decisions[groupIdx]
		if !ok {
			decision = DecisionKeep
		}
		switch decision {
		case DecisionMerge:
			line, keepFirst := buildMergedLine(group, openTasks, now)
			if keepFirst {
				// No usable suggestion, keep the first task instead.
				sorted := sortedCopy(group.Indices)
				for _, idx := range sorted[1:] {
					remove[idx] = true
				}
				summary.RemovedTasks += len(sorted) - 1
				continue
			}
			for _, idx := range group.Indices {
				remove[idx] = true
			}
			mergedLines = append(mergedLines, line...)
			summary.MergedGroups++
		case DecisionRemove:
			sorted := sortedCopy(group.Indices)
			for _, idx := range sorted[1:] {
				remove[idx] = true
			}
			summary.RemovedTasks += len(sorted) - 1
		default:
			summary.KeptGroups++
		}
	}

	if len(remove) == 0 && len(mergedLines) == 0 {
		return summary, nil
	}

	if _, err := e.library.Backup("tasks.md"); err != nil {
		return ApplySummary{}, fmt.Errorf("refusing to consolidate tasks without backup: %w", err)
	}

	err := e.library.Update("tasks.md", func(current string) (string, error) {
		var completed []string
		for _, line := range strings.Split(current, "\n") {
			if strings.Contains(line, "- [x]") {
				completed = append(completed, strings.TrimSpace(line))
			}
		}
		lines := []string{"# Task List", ""}
		for i, task := range openTasks {
			if !remove[i] {
				lines = append(lines, task)
			}
		}
		lines = append(lines, mergedLines...)
		lines = append(lines, completed...)
		return strings.Join(lines, "\n") + "\n", nil
	})
	if err != nil {
		return ApplySummary{}, err
	}
	logger.InfoCF("consolidate", "Applied task decisions", map[string]interface{}{
		"merged":  summary.MergedGroups,
		"removed": summary.RemovedTasks,
		"kept":    summary.KeptGroups,
	})
	return summary, nil
}

// buildMergedLine renders the replacement task line(s) for a merged
// group: one line per distinct assignee, carrying the earliest due
// date. keepFirst reports that the suggestion was unusable.
func buildMergedLine(group TaskGroup, openTasks []string, now time.Time) (lines []string, keepFirst bool) {
	suggested := strings.TrimSpace(group.SuggestedMerge)
	if suggested == "" {
		return nil, true
	}

	assignees := make(map[string]bool)
	earliestDue := ""
	for _, idx := range group.Indices {
		task := openTasks[idx]
		if a := knowledge.TaskAssignee(task); a != "" {
			assignees[a] = true
		}
		if due := knowledge.TaskDueDate(task); due != "" {
			if earliestDue == "" || due < earliestDue {
				earliestDue = due
			}
		}
	}

	desc := knowledge.TaskDescription(suggested)
	if desc == "" {
		return nil, true
	}

	if len(assignees) == 0 {
		return []string{knowledge.FormatTaskLine(desc, "", "", earliestDue, now)}, false
	}
	names := make([]string, 0, len(assignees))
	for name := range assignees {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lines = append(lines, knowledge.FormatTaskLine(desc, name, "", earliestDue, now))
	}
	return lines, false
}

func sortedCopy(indices []int) []int {
	out := append([]int(nil), indices...)
	sort.Ints(out)
	return out
}
