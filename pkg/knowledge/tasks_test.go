package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := NewLibrary(t.TempDir())
	require.NoError(t, err)
	return lib
}

func TestParseRecurrence(t *testing.T) {
	cases := []struct {
		pattern string
		days    int
		monthly bool
		ok      bool
	}{
		{"daily", 1, false, true},
		{"weekly", 7, false, true},
		{"monthly", 0, true, true},
		{"every 3 days", 3, false, true},
		{"every 2 weeks", 14, false, true},
		{"Every 1 Day", 1, false, true},
		{"yearly", 0, false, false},
		{"every 0 days", 0, false, false},
		{"every banana days", 0, false, false},
	}
	for _, tc := range cases {
		rec, ok := ParseRecurrence(tc.pattern)
		assert.Equal(t, tc.ok, ok, tc.pattern)
		if ok {
			assert.Equal(t, tc.days, rec.Days, tc.pattern)
			assert.Equal(t, tc.monthly, rec.Monthly, tc.pattern)
		}
	}
}

func TestNextDueNeverSchedulesInThePast(t *testing.T) {
	today := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// Overdue weekly task advances from today, not from the stale due date.
	next, err := NextDue("2026-08-01", "weekly", today)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-06", next)

	// Future due date advances from the due date itself.
	next, err = NextDue("2026-09-10", "daily", today)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-11", next)
}

func TestNextDueMonthlyClampsDay(t *testing.T) {
	today := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	next, err := NextDue("2026-01-31", "monthly", today)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", next)
}

func TestNextDueRejectsBadInput(t *testing.T) {
	today := time.Now()
	_, err := NextDue("2026-01-01", "yearly", today)
	assert.Error(t, err)
	_, err = NextDue("soon", "weekly", today)
	assert.Error(t, err)
}

func TestTaskLineAccessors(t *testing.T) {
	created := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	line := FormatTaskLine("Water the beans", "Ana", "weekly", "2026-09-01", created)

	assert.Equal(t, "- [ ] Water the beans [Assigned: Ana] [Recurring: weekly] [Due: 2026-09-01] (Created: 2026-08-30 09:30:00)", line)
	assert.Equal(t, "Water the beans", TaskDescription(line))
	assert.Equal(t, "Ana", TaskAssignee(line))
	assert.Equal(t, "2026-09-01", TaskDueDate(line))

	bare := FormatTaskLine("Weed the paths", "", "", "", created)
	assert.Equal(t, "", TaskAssignee(bare))
	assert.Equal(t, "", TaskDueDate(bare))
	assert.Equal(t, "Weed the paths", TaskDescription(bare))
}

func TestAddTaskAndOpenTasks(t *testing.T) {
	lib := newTestLibrary(t)

	outcome, err := lib.AddTask("Water the beans", AddTaskOptions{Assignee: "Ana"})
	require.NoError(t, err)
	assert.True(t, outcome.Added)

	open, err := lib.OpenTasks()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Contains(t, open[0], "Water the beans")
	assert.Contains(t, open[0], "[Assigned: Ana]")
}

func TestAddTaskSurfacesSimilarTasks(t *testing.T) {
	lib := newTestLibrary(t)

	_, err := lib.AddTask("Water the tomato seedlings", AddTaskOptions{})
	require.NoError(t, err)

	outcome, err := lib.AddTask("Water tomato seedlings", AddTaskOptions{})
	require.NoError(t, err)
	assert.False(t, outcome.Added)
	require.Len(t, outcome.SimilarTasks, 1)

	// The caller can confirm and force the append.
	outcome, err = lib.AddTask("Water tomato seedlings", AddTaskOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)
	assert.True(t, outcome.Added)

	open, err := lib.OpenTasks()
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestAddTaskValidatesRecurrence(t *testing.T) {
	lib := newTestLibrary(t)

	outcome, err := lib.AddTask("Fertilize roses", AddTaskOptions{Recurring: "yearly"})
	require.NoError(t, err)
	assert.False(t, outcome.Added)
	assert.Contains(t, outcome.Message, "Invalid recurrence pattern")

	outcome, err = lib.AddTask("Fertilize roses", AddTaskOptions{Recurring: "weekly"})
	require.NoError(t, err)
	assert.False(t, outcome.Added)
	assert.Contains(t, outcome.Message, "require a due date")
}

func TestCompleteTaskAmbiguousMatchReturnsCandidates(t *testing.T) {
	lib := newTestLibrary(t)
	_, err := lib.AddTask("Water the beans", AddTaskOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)
	_, err = lib.AddTask("Water the squash", AddTaskOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)

	outcome, err := lib.CompleteTask("water", time.Now())
	require.NoError(t, err)
	assert.False(t, outcome.Completed)
	assert.Len(t, outcome.Candidates, 2)
	assert.Contains(t, outcome.Message, "Multiple open tasks match")
	assert.Contains(t, outcome.Message, "Water the beans")
	assert.Contains(t, outcome.Message, "Water the squash")

	// Nothing was marked done.
	open, err := lib.OpenTasks()
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestCompleteTaskMarksDoneAndJournals(t *testing.T) {
	lib := newTestLibrary(t)
	_, err := lib.AddTask("Water the beans", AddTaskOptions{})
	require.NoError(t, err)

	today := time.Date(2026, 8, 30, 17, 0, 0, 0, time.UTC)
	outcome, err := lib.CompleteTask("beans", today)
	require.NoError(t, err)
	assert.True(t, outcome.Completed)

	tasks, err := lib.Read("tasks.md")
	require.NoError(t, err)
	assert.Contains(t, tasks, "- [x] Water the beans")

	journal, err := lib.Read("garden_log.md")
	require.NoError(t, err)
	assert.Contains(t, journal, "Completed task: Water the beans")
}

func TestCompleteTaskReschedulesRecurring(t *testing.T) {
	lib := newTestLibrary(t)
	_, err := lib.AddTask("Mow the orchard", AddTaskOptions{Recurring: "weekly", DueDate: "2026-08-28"})
	require.NoError(t, err)

	today := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	outcome, err := lib.CompleteTask("mow", today)
	require.NoError(t, err)
	assert.True(t, outcome.Completed)
	assert.Contains(t, outcome.Message, "2026-09-06")

	open, err := lib.OpenTasks()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Contains(t, open[0], "[Due: 2026-09-06]")
	assert.Contains(t, open[0], "[Recurring: weekly]")
}

func TestRemoveTasksBacksUpFirst(t *testing.T) {
	lib := newTestLibrary(t)
	_, err := lib.AddTask("Order seed potatoes", AddTaskOptions{})
	require.NoError(t, err)
	_, err = lib.AddTask("Clean the greenhouse", AddTaskOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)

	removed, err := lib.RemoveTasks("potatoes")
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Contains(t, removed[0], "Order seed potatoes")

	open, err := lib.OpenTasks()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Contains(t, open[0], "Clean the greenhouse")
}

func TestReassignTasks(t *testing.T) {
	lib := newTestLibrary(t)
	_, err := lib.AddTask("Water the beans", AddTaskOptions{Assignee: "Ana", SkipDuplicateCheck: true})
	require.NoError(t, err)
	_, err = lib.AddTask("Weed the paths", AddTaskOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)

	moved, err := lib.ReassignTasks("ana", "George")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, "Water the beans", moved[0])

	moved, err = lib.ReassignTasks("unassigned", "George")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, "Weed the paths", moved[0])

	open, err := lib.OpenTasks()
	require.NoError(t, err)
	for _, task := range open {
		assert.Equal(t, "George", TaskAssignee(task))
	}
}

func TestTasksForMember(t *testing.T) {
	lib := newTestLibrary(t)
	_, err := lib.AddTask("Water the beans", AddTaskOptions{Assignee: "Ana", SkipDuplicateCheck: true})
	require.NoError(t, err)
	_, err = lib.AddTask("Weed the paths", AddTaskOptions{SkipDuplicateCheck: true})
	require.NoError(t, err)
	_, err = lib.AddTask("Stake the tomatoes", AddTaskOptions{Assignee: "George", SkipDuplicateCheck: true})
	require.NoError(t, err)

	// Unassigned tasks are excluded unless asked for.
	tasks, err := lib.TasksForMember("Ana", false)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0], "Water the beans")

	tasks, err = lib.TasksForMember("Ana", true)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Contains(t, tasks[1], "Weed the paths")

	// Never another member's tasks, either way.
	for _, task := range tasks {
		assert.NotContains(t, task, "Stake the tomatoes")
	}
}

func TestFilterDueTodayOrOverdue(t *testing.T) {
	created := time.Now()
	tasks := []string{
		FormatTaskLine("Overdue", "", "", "2026-08-01", created),
		FormatTaskLine("Today", "", "", "2026-08-30", created),
		FormatTaskLine("Future", "", "", "2026-12-01", created),
		FormatTaskLine("Undated", "", "", "", created),
	}

	due := FilterDueTodayOrOverdue(tasks, "2026-08-30")
	require.Len(t, due, 3)
	assert.Contains(t, due[0], "Overdue")
	assert.Contains(t, due[1], "Today")
	assert.Contains(t, due[2], "Undated")
}

func TestFindSimilarTasksIgnoresMetadataAndStopWords(t *testing.T) {
	existing := []string{
		FormatTaskLine("Water the tomato plants", "Ana", "", "2026-09-01", time.Now()),
	}

	matches := FindSimilarTasks("water tomato plants", existing, 0.5)
	assert.Len(t, matches, 1)

	matches = FindSimilarTasks("order new irrigation tubing", existing, 0.5)
	assert.Empty(t, matches)
}
