package consolidate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardenista/beanbot/pkg/knowledge"
	"github.com/gardenista/beanbot/pkg/providers"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.replies) == 0 {
		return &providers.LLMResponse{FinishReason: "stop"}, nil
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return &providers.LLMResponse{Content: reply, FinishReason: "stop"}, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "test-model" }

func newTestEngine(t *testing.T, replies ...string) (*Engine, *scriptedProvider, *knowledge.Library) {
	t.Helper()
	library, err := knowledge.NewLibrary(t.TempDir())
	require.NoError(t, err)
	provider := &scriptedProvider{replies: replies}
	return NewEngine(provider, library, "test-model"), provider, library
}

func TestParseCategoryLines(t *testing.T) {
	cats := parseCategoryLines(strings.Join([]string{
		"garlic.md|Herbs|Garlic",
		"garlic_care.md|Herbs|Garlic",
		"tomato.md|Vegetables|Tomato",
		"cherry_tomato.md|Vegetables",
		"not a valid line",
		"",
	}, "\n"))

	assert.ElementsMatch(t, []string{"garlic.md", "garlic_care.md"}, cats["Herbs"]["Garlic"])
	assert.Equal(t, []string{"tomato.md"}, cats["Vegetables"]["Tomato"])
	// Two-part lines derive the species from the filename stem.
	assert.Equal(t, []string{"cherry_tomato.md"}, cats["Vegetables"]["Cherry Tomato"])
	assert.Equal(t, 4, cats.FileCount())
	assert.Equal(t, 3, cats.SpeciesCount())
}

func TestBuildCategoriesDocDeterministic(t *testing.T) {
	cats := Categories{
		"Herbs":         {"Garlic": {"garlic_care.md", "garlic.md"}},
		"Vegetables":    {"Tomato": {"tomato.md"}},
		"Uncategorized": {"Misc": {"misc.md"}},
	}
	sizes := map[string]int64{"garlic.md": 2048, "garlic_care.md": 100, "tomato.md": 512, "misc.md": 10}
	today := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	first := BuildCategoriesDoc(cats, sizes, today)
	second := BuildCategoriesDoc(cats, sizes, today)
	assert.Equal(t, first, second)

	assert.Contains(t, first, "# Knowledge Library Categories")
	assert.Contains(t, first, "**4 files** across **3 categories**, **3 species/topics**")
	assert.Contains(t, first, "### Garlic (2 files)")
	assert.Contains(t, first, "- garlic.md (2.0 KB)")
	assert.Contains(t, first, "`consolidate garlic`")

	// Uncategorized sorts last regardless of alphabetical order.
	assert.Greater(t, strings.Index(first, "## Uncategorized"), strings.Index(first, "## Vegetables"))
}

func TestRebuildCategoriesWritesIndex(t *testing.T) {
	engine, provider, library := newTestEngine(t,
		"garlic.md|Herbs|Garlic\ngarlic_care.md|Herbs|Garlic\ntomato.md|Vegetables|Tomato")

	require.NoError(t, library.Write("garlic.md", "# Garlic\n"))
	require.NoError(t, library.Write("garlic_care.md", "# Garlic Care\n"))
	require.NoError(t, library.Write("tomato.md", "# Tomato\n"))
	require.NoError(t, library.Write("tasks.md", "# Task List\n"))
	require.NoError(t, library.Write("daily_2026-08-29.md", "# Briefing\n"))

	report, err := engine.RebuildCategories(context.Background(), time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 3, report.FileCount)
	require.Len(t, report.MergeSuggestions, 1)
	assert.Equal(t, "garlic.md", report.MergeSuggestions[0].Target)

	doc, err := library.Read("categories.md")
	require.NoError(t, err)
	assert.Contains(t, doc, "*Last updated: 2026-08-30*")
	assert.Contains(t, doc, "### Garlic (2 files)")
	assert.NotContains(t, doc, "tasks.md")
	assert.NotContains(t, doc, "daily_2026-08-29.md")
}

func TestLibraryFilesTitles(t *testing.T) {
	engine, _, library := newTestEngine(t)
	require.NoError(t, library.Write("garlic.md", "# Growing Garlic\n\nNotes.\n"))
	require.NoError(t, library.Write("untitled.md", ""))

	entries, err := engine.LibraryFiles()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Growing Garlic", entries[0].Title)
	assert.Equal(t, "untitled.md", entries[1].Title)
}

func TestDeriveMergeSuggestions(t *testing.T) {
	cats := Categories{
		"Herbs": {
			"Garlic":   {"garlic_pests.md", "garlic.md", "garlic_care.md"},
			"Lavender": {"lavender.md"},
		},
		"Vegetables": {
			"Tomato": {"cherry_tomato.md", "tomato_varieties.md"},
		},
	}
	suggestions := DeriveMergeSuggestions(cats)
	require.Len(t, suggestions, 2)

	assert.Equal(t, "Garlic", suggestions[0].Species)
	assert.Equal(t, "garlic.md", suggestions[0].Target)
	assert.Equal(t, []string{"garlic.md", "garlic_care.md", "garlic_pests.md"}, suggestions[0].Files)

	// No tomato.md exists, so the first file alphabetically wins.
	assert.Equal(t, "Tomato", suggestions[1].Species)
	assert.Equal(t, "cherry_tomato.md", suggestions[1].Target)
}

func TestAnalyzeDuplicateTasksSkipsModelWithoutOverlap(t *testing.T) {
	engine, provider, _ := newTestEngine(t)

	groups, err := engine.AnalyzeDuplicateTasks(context.Background(), []string{
		"- [ ] Water the tomato beds (Created: 2026-08-01 09:00:00)",
		"- [ ] Sharpen mower blades (Created: 2026-08-02 09:00:00)",
	})
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Equal(t, 0, provider.calls)
}

func TestAnalyzeDuplicateTasks(t *testing.T) {
	engine, provider, _ := newTestEngine(t,
		"```json\n{\"groups\": [{\"indices\": [0, 1], \"reason\": \"Same watering work\", \"suggested_merge\": \"Water the tomato beds\"}]}\n```")

	groups, err := engine.AnalyzeDuplicateTasks(context.Background(), []string{
		"- [ ] Water the tomato beds [Assigned: George] (Created: 2026-08-01 09:00:00)",
		"- [ ] Water tomato beds thoroughly [Due: 2026-09-01] (Created: 2026-08-02 09:00:00)",
		"- [ ] Sharpen mower blades (Created: 2026-08-03 09:00:00)",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
	require.Len(t, groups, 1)
	assert.Equal(t, []int{0, 1}, groups[0].Indices)
	assert.Equal(t, "similar", groups[0].Type)
}

func TestAnalyzeDuplicateTasksRejectsBadGroups(t *testing.T) {
	engine, _, _ := newTestEngine(t,
		`{"groups": [
			{"indices": [0, 9], "reason": "out of range"},
			{"indices": [1], "reason": "too small"},
			{"indices": [0, 1], "reason": "ok", "type": "duplicate"},
			{"indices": [1, 0], "reason": "reuses tasks"}
		]}`)

	groups, err := engine.AnalyzeDuplicateTasks(context.Background(), []string{
		"- [ ] Water the tomato beds (Created: 2026-08-01 09:00:00)",
		"- [ ] Water tomato beds again (Created: 2026-08-02 09:00:00)",
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "duplicate", groups[0].Type)
}

func TestAnalyzeDuplicateTasksUnparseableOutput(t *testing.T) {
	engine, _, _ := newTestEngine(t, "I could not find any duplicates, sorry!")

	groups, err := engine.AnalyzeDuplicateTasks(context.Background(), []string{
		"- [ ] Water the tomato beds (Created: 2026-08-01 09:00:00)",
		"- [ ] Water tomato beds again (Created: 2026-08-02 09:00:00)",
	})
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSON("Here you go:\n```json\n{\"a\": 1}\n```\nDone."))
	assert.Equal(t, `[1, 2]`, extractJSON("prefix [1, 2] suffix"))
	assert.Equal(t, "", extractJSON("no json here"))
}

func TestApplyTaskDecisions(t *testing.T) {
	engine, _, library := newTestEngine(t)
	require.NoError(t, library.Write("tasks.md", strings.Join([]string{
		"# Task List",
		"",
		"- [ ] Water the tomato beds [Assigned: George] [Due: 2026-09-02] (Created: 2026-08-01 09:00:00)",
		"- [ ] Water tomato beds thoroughly [Assigned: Ana] [Due: 2026-09-01] (Created: 2026-08-02 09:00:00)",
		"- [ ] Weed the garlic rows (Created: 2026-08-03 09:00:00)",
		"- [ ] Weed garlic beds (Created: 2026-08-04 09:00:00)",
		"- [x] Order seed potatoes (Created: 2026-07-01 09:00:00)",
		"",
	}, "\n")))

	openTasks, err := library.OpenTasks()
	require.NoError(t, err)
	require.Len(t, openTasks, 4)

	groups := []TaskGroup{
		{Indices: []int{0, 1}, SuggestedMerge: "Water the tomato beds thoroughly", Type: "duplicate"},
		{Indices: []int{2, 3}, Type: "similar"},
	}
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	summary, err := engine.ApplyTaskDecisions(groups, openTasks, map[int]Decision{
		0: DecisionMerge,
		1: DecisionRemove,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.MergedGroups)
	assert.Equal(t, 1, summary.RemovedTasks)
	assert.Contains(t, summary.String(), "1 group(s) merged")

	content, err := library.Read("tasks.md")
	require.NoError(t, err)

	// Both assignees survive as separate lines with the earliest due date.
	assert.Contains(t, content, "Water the tomato beds thoroughly [Assigned: Ana] [Due: 2026-09-01]")
	assert.Contains(t, content, "Water the tomato beds thoroughly [Assigned: George] [Due: 2026-09-01]")
	assert.NotContains(t, content, "[Due: 2026-09-02]")

	// Remove keeps the first task and drops the rest.
	assert.Contains(t, content, "Weed the garlic rows")
	assert.NotContains(t, content, "Weed garlic beds")

	// Completed tasks ride along untouched.
	assert.Contains(t, content, "- [x] Order seed potatoes")
}

func TestApplyTaskDecisionsDefaultsToKeep(t *testing.T) {
	engine, _, library := newTestEngine(t)
	original := strings.Join([]string{
		"# Task List",
		"",
		"- [ ] Water the tomato beds (Created: 2026-08-01 09:00:00)",
		"- [ ] Water tomato beds again (Created: 2026-08-02 09:00:00)",
		"",
	}, "\n")
	require.NoError(t, library.Write("tasks.md", original))

	openTasks, err := library.OpenTasks()
	require.NoError(t, err)

	groups := []TaskGroup{{Indices: []int{0, 1}, Type: "duplicate"}}
	summary, err := engine.ApplyTaskDecisions(groups, openTasks, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.KeptGroups)
	assert.Equal(t, "No changes made.", summary.String())

	content, err := library.Read("tasks.md")
	require.NoError(t, err)
	assert.Equal(t, original, content)
}

func TestPlanTopicMerge(t *testing.T) {
	engine, _, library := newTestEngine(t)
	require.NoError(t, library.Write("garlic.md", "# Garlic\n"))
	require.NoError(t, library.Write("garlic_care.md", "# Garlic Care\n"))
	require.NoError(t, library.Write("soil_notes.md", "Garlic likes loose soil.\n"))
	require.NoError(t, library.Write("tomato.md", "# Tomato\n"))

	plan, err := engine.PlanTopicMerge("Garlic")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.ElementsMatch(t, []string{"garlic.md", "garlic_care.md", "soil_notes.md"}, plan.Files)
	assert.Contains(t, plan.Prompt, "merge all unique facts into a single clean 'garlic.md'")
	assert.Contains(t, plan.Prompt, "delete_file")

	plan, err = engine.PlanTopicMerge("kumquat")
	require.NoError(t, err)
	assert.Nil(t, plan)
}
