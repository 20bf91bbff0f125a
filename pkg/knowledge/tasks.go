package knowledge

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const tasksFile = "tasks.md"

// ValidRecurrencePatterns documents the accepted recurrence grammar.
const ValidRecurrencePatterns = "daily, weekly, monthly, every N days, every N weeks"

var (
	assignedRe     = regexp.MustCompile(`(?i)\[Assigned:\s*([^\]]+)\]`)
	recurringRe    = regexp.MustCompile(`(?i)\[Recurring:\s*([^\]]+)\]`)
	dueRe          = regexp.MustCompile(`\[Due:\s*(\d{4}-\d{2}-\d{2})\]`)
	everyNRe       = regexp.MustCompile(`(?i)^every\s+(\d+)\s+(day|week)s?$`)
	taskMetadataRe = regexp.MustCompile(`\[Assigned:\s*[^\]]*\]|\[Due:\s*[^\]]*\]|\[Recurring:\s*[^\]]*\]|\(Created:\s*[^\)]*\)|^- \[.\]\s*`)
	checkboxRe     = regexp.MustCompile(`^- \[[ x]\] `)
)

var taskStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "in": true, "to": true, "for": true,
	"and": true, "of": true, "on": true, "at": true, "is": true, "it": true,
	"by": true, "or": true, "be": true, "as": true, "do": true, "if": true,
	"up": true, "my": true, "so": true, "no": true, "we": true, "all": true,
	"with": true, "this": true, "that": true, "from": true, "but": true,
	"not": true, "are": true, "was": true, "has": true, "had": true,
}

// Recurrence is a parsed recurrence pattern.
type Recurrence struct {
	Days    int
	Monthly bool
}

// ParseRecurrence parses a pattern like "weekly" or "every 3 days".
// Returns false for anything outside the grammar.
func ParseRecurrence(pattern string) (Recurrence, bool) {
	p := strings.ToLower(strings.TrimSpace(pattern))
	switch p {
	case "daily":
		return Recurrence{Days: 1}, true
	case "weekly":
		return Recurrence{Days: 7}, true
	case "monthly":
		return Recurrence{Monthly: true}, true
	}
	m := everyNRe.FindStringSubmatch(p)
	if m == nil {
		return Recurrence{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return Recurrence{}, false
	}
	if strings.ToLower(m[2]) == "week" {
		n *= 7
	}
	return Recurrence{Days: n}, true
}

// NextDue computes the next due date for a recurring task. The base is
// max(current due, today) so an overdue task never reschedules into the
// past. Monthly advances one month with day clamping (Jan 31 → Feb 28).
func NextDue(currentDue string, pattern string, today time.Time) (string, error) {
	rec, ok := ParseRecurrence(pattern)
	if !ok {
		return "", fmt.Errorf("invalid recurrence pattern %q", pattern)
	}
	due, err := time.Parse("2006-01-02", currentDue)
	if err != nil {
		return "", fmt.Errorf("invalid due date %q", currentDue)
	}
	base := due
	todayDate := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if todayDate.After(base) {
		base = todayDate
	}

	if rec.Monthly {
		year, month := base.Year(), int(base.Month())+1
		if month > 12 {
			month = 1
			year++
		}
		day := base.Day()
		if last := daysInMonth(year, month); day > last {
			day = last
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), nil
	}
	return base.AddDate(0, 0, rec.Days).Format("2006-01-02"), nil
}

func daysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// TaskDescription strips the checkbox prefix and metadata tags from a
// task line, leaving the bare description.
func TaskDescription(line string) string {
	return strings.TrimSpace(taskMetadataRe.ReplaceAllString(line, ""))
}

// TaskAssignee returns the assignee tag value, "" when unassigned.
func TaskAssignee(line string) string {
	m := assignedRe.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// TaskDueDate returns the due date tag value, "" when absent.
func TaskDueDate(line string) string {
	m := dueRe.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return m[1]
}

// FormatTaskLine renders a task in the canonical line grammar.
func FormatTaskLine(description, assignee, recurring, due string, created time.Time) string {
	var b strings.Builder
	b.WriteString("- [ ] ")
	b.WriteString(description)
	if a := strings.TrimSpace(assignee); a != "" {
		b.WriteString(" [Assigned: " + a + "]")
	}
	if r := strings.TrimSpace(recurring); r != "" {
		b.WriteString(" [Recurring: " + r + "]")
	}
	if due != "" {
		b.WriteString(" [Due: " + due + "]")
	}
	b.WriteString(" (Created: " + created.Format("2006-01-02 15:04:05") + ")")
	return b.String()
}

// AddTaskOptions control AddTask behavior.
type AddTaskOptions struct {
	DueDate            string
	Assignee           string
	Recurring          string
	SkipDuplicateCheck bool
}

// AddTaskOutcome describes the result of an AddTask call.
type AddTaskOutcome struct {
	Added        bool
	SimilarTasks []string
	Message      string
}

// AddTask appends a task line to tasks.md. Unless skipped, it first
// checks for similar open tasks and reports them instead of appending,
// so callers can confirm before stacking near-duplicates.
func (l *Library) AddTask(description string, opts AddTaskOptions) (AddTaskOutcome, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return AddTaskOutcome{}, fmt.Errorf("task description is required")
	}
	if r := strings.TrimSpace(opts.Recurring); r != "" {
		if _, ok := ParseRecurrence(r); !ok {
			return AddTaskOutcome{Message: fmt.Sprintf("Invalid recurrence pattern %q. Valid patterns: %s", r, ValidRecurrencePatterns)}, nil
		}
		if opts.DueDate == "" {
			return AddTaskOutcome{Message: "Recurring tasks require a due date in YYYY-MM-DD format."}, nil
		}
	}
	if opts.DueDate != "" {
		if _, err := time.Parse("2006-01-02", opts.DueDate); err != nil {
			return AddTaskOutcome{Message: fmt.Sprintf("Invalid due date %q, expected YYYY-MM-DD.", opts.DueDate)}, nil
		}
	}

	if !opts.SkipDuplicateCheck {
		open, err := l.OpenTasks()
		if err != nil {
			return AddTaskOutcome{}, err
		}
		if similar := FindSimilarTasks(description, open, 0.5); len(similar) > 0 {
			return AddTaskOutcome{SimilarTasks: similar}, nil
		}
	}

	line := FormatTaskLine(description, opts.Assignee, opts.Recurring, opts.DueDate, time.Now())
	err := l.Update(tasksFile, func(current string) (string, error) {
		if current == "" {
			current = "# Task List\n"
		}
		if !strings.HasSuffix(current, "\n") {
			current += "\n"
		}
		return current + line + "\n", nil
	})
	if err != nil {
		return AddTaskOutcome{}, err
	}
	return AddTaskOutcome{Added: true, Message: "Successfully added task: " + description}, nil
}

// OpenTasks returns the incomplete task lines from tasks.md.
func (l *Library) OpenTasks() ([]string, error) {
	content, err := l.Read(tasksFile)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var tasks []string
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "- [ ]") {
			tasks = append(tasks, strings.TrimSpace(line))
		}
	}
	return tasks, nil
}

// TasksForMember returns the open tasks assigned to name. Tasks
// assigned to others and unassigned tasks are excluded; pass
// includeUnassigned to also pick up tasks anyone could take.
func (l *Library) TasksForMember(name string, includeUnassigned bool) ([]string, error) {
	open, err := l.OpenTasks()
	if err != nil {
		return nil, err
	}
	nameLower := strings.ToLower(strings.TrimSpace(name))
	var result []string
	for _, task := range open {
		assignee := strings.ToLower(TaskAssignee(task))
		if assignee == nameLower || (assignee == "" && includeUnassigned) {
			result = append(result, task)
		}
	}
	return result, nil
}

// FilterDueTodayOrOverdue keeps tasks due on or before today, plus
// tasks with no due date.
func FilterDueTodayOrOverdue(tasks []string, today string) []string {
	var result []string
	for _, task := range tasks {
		due := TaskDueDate(task)
		if due == "" || due <= today {
			result = append(result, task)
		}
	}
	return result
}

// FindSimilarTasks returns existing task lines whose word-overlap
// (Jaccard) similarity with the description meets the threshold.
// Metadata tags and stop words are stripped before comparison.
func FindSimilarTasks(description string, existing []string, threshold float64) []string {
	newTokens := tokenizeTask(description)
	if len(newTokens) == 0 {
		return nil
	}
	var matches []string
	for _, task := range existing {
		taskTokens := tokenizeTask(task)
		if len(taskTokens) == 0 {
			continue
		}
		intersection := 0
		for tok := range newTokens {
			if taskTokens[tok] {
				intersection++
			}
		}
		union := len(newTokens) + len(taskTokens) - intersection
		if union > 0 && float64(intersection)/float64(union) >= threshold {
			matches = append(matches, task)
		}
	}
	return matches
}

func tokenizeTask(text string) map[string]bool {
	cleaned := strings.TrimSpace(taskMetadataRe.ReplaceAllString(text, ""))
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		if len(w) > 1 && !taskStopWords[w] {
			tokens[w] = true
		}
	}
	return tokens
}

// CompleteOutcome describes the result of CompleteTask.
type CompleteOutcome struct {
	Completed  bool
	Candidates []string
	Message    string
}

// CompleteTask marks the open task matching the snippet as done,
// journals the completion, and reschedules a recurring task. When the
// snippet matches more than one open task the candidates are returned
// unmodified so the caller can disambiguate; nothing is guessed.
func (l *Library) CompleteTask(snippet string, today time.Time) (CompleteOutcome, error) {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return CompleteOutcome{}, fmt.Errorf("task snippet is required")
	}

	open, err := l.OpenTasks()
	if err != nil {
		return CompleteOutcome{}, err
	}
	snippetLower := strings.ToLower(snippet)
	var matches []string
	for _, task := range open {
		if strings.Contains(strings.ToLower(task), snippetLower) {
			matches = append(matches, task)
		}
	}
	switch {
	case len(matches) == 0:
		return CompleteOutcome{Message: fmt.Sprintf("No pending task found matching %q.", snippet)}, nil
	case len(matches) > 1:
		return CompleteOutcome{
			Candidates: matches,
			Message: fmt.Sprintf("Multiple open tasks match %q. Ask which one to complete:\n- %s",
				snippet, strings.Join(matches, "\n- ")),
		}, nil
	}

	matched := matches[0]
	err = l.Update(tasksFile, func(current string) (string, error) {
		lines := strings.Split(current, "\n")
		for i, line := range lines {
			if strings.TrimSpace(line) == matched {
				lines[i] = strings.Replace(line, "- [ ]", "- [x]", 1)
				return strings.Join(lines, "\n"), nil
			}
		}
		return "", fmt.Errorf("task disappeared before completion: %q", matched)
	})
	if err != nil {
		return CompleteOutcome{}, err
	}

	cleanDesc := strings.TrimSpace(checkboxRe.ReplaceAllString(matched, ""))
	if jErr := l.AppendJournal("Completed task: "+cleanDesc, today); jErr != nil {
		return CompleteOutcome{}, jErr
	}

	msg := fmt.Sprintf("Marked task matching %q as complete and logged to journal.", snippet)

	if rm := recurringRe.FindStringSubmatch(matched); rm != nil {
		pattern := strings.TrimSpace(rm[1])
		if due := TaskDueDate(matched); due != "" {
			nextDue, derr := NextDue(due, pattern, today)
			if derr == nil {
				_, aerr := l.AddTask(TaskDescription(matched), AddTaskOptions{
					DueDate:            nextDue,
					Assignee:           TaskAssignee(matched),
					Recurring:          pattern,
					SkipDuplicateCheck: true,
				})
				if aerr != nil {
					return CompleteOutcome{}, aerr
				}
				msg += " Next occurrence scheduled for " + nextDue + "."
			}
		} else {
			msg += " Warning: recurring task has no due date, cannot reschedule."
		}
	}

	return CompleteOutcome{Completed: true, Message: msg}, nil
}

// RemoveTasks permanently deletes open tasks whose line matches the
// snippet, after backing up the task list. Completed tasks are never
// touched.
func (l *Library) RemoveTasks(snippet string) (removed []string, err error) {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return nil, fmt.Errorf("task snippet is required")
	}
	if _, err := l.Backup(tasksFile); err != nil {
		return nil, fmt.Errorf("refusing to remove tasks without backup: %w", err)
	}

	snippetLower := strings.ToLower(snippet)
	err = l.Update(tasksFile, func(current string) (string, error) {
		lines := strings.Split(current, "\n")
		kept := make([]string, 0, len(lines))
		for _, line := range lines {
			if strings.Contains(line, "- [ ]") && strings.Contains(strings.ToLower(line), snippetLower) {
				removed = append(removed, strings.TrimSpace(line))
				continue
			}
			kept = append(kept, line)
		}
		return strings.Join(kept, "\n"), nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ReassignTasks moves all open tasks from one assignee to another in
// bulk. fromName "unassigned" (or empty) matches tasks with no
// assignee tag. Returns the descriptions of the tasks touched.
func (l *Library) ReassignTasks(fromName, toName string) ([]string, error) {
	toName = strings.TrimSpace(toName)
	if toName == "" {
		return nil, fmt.Errorf("new assignee is required")
	}
	fromLower := strings.ToLower(strings.TrimSpace(fromName))
	isUnassigned := fromLower == "" || fromLower == "unassigned"

	var reassigned []string
	err := l.Update(tasksFile, func(current string) (string, error) {
		lines := strings.Split(current, "\n")
		for i, line := range lines {
			if !strings.Contains(line, "- [ ]") {
				continue
			}
			loc := assignedRe.FindStringIndex(line)
			if isUnassigned {
				if loc != nil {
					continue
				}
				lines[i] = insertAssignee(line, toName)
				reassigned = append(reassigned, TaskDescription(line))
				continue
			}
			if loc == nil {
				continue
			}
			if strings.ToLower(TaskAssignee(line)) != fromLower {
				continue
			}
			lines[i] = line[:loc[0]] + "[Assigned: " + toName + "]" + line[loc[1]:]
			reassigned = append(reassigned, TaskDescription(line))
		}
		return strings.Join(lines, "\n"), nil
	})
	if err != nil {
		return nil, err
	}
	return reassigned, nil
}

// insertAssignee places an assignee tag after the description, before
// any other metadata tag.
func insertAssignee(line, toName string) string {
	descEnd := len(strings.TrimRight(line, "\n"))
	for _, tag := range []string{"[Recurring:", "[Due:", "(Created:"} {
		if idx := strings.Index(line, tag); idx >= 0 && idx < descEnd {
			descEnd = idx
		}
	}
	return strings.TrimRight(line[:descEnd], " ") + " [Assigned: " + toName + "]" + line[descEnd:]
}
