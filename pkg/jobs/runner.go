// Package jobs holds the scheduled garden routines: morning briefing,
// evening debrief, weekly recap, checkpoint pruning, and weather
// alerts. Every entry point is an idempotent run-now function, invoked
// either by the schedule service or by the CLI.
package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gardenista/beanbot/pkg/agent"
	"github.com/gardenista/beanbot/pkg/bus"
	"github.com/gardenista/beanbot/pkg/checkpoint"
	"github.com/gardenista/beanbot/pkg/config"
	"github.com/gardenista/beanbot/pkg/knowledge"
	"github.com/gardenista/beanbot/pkg/logger"
	"github.com/gardenista/beanbot/pkg/weather"
)

// MaxRecapDays caps how far back a recap may reach.
const MaxRecapDays = 31

const alertFlagFile = ".alert_flag"

// Runner executes the scheduled routines against the live system.
type Runner struct {
	cfg     *config.Config
	loop    *agent.Loop
	library *knowledge.Library
	pruner  *checkpoint.Pruner
	weather *weather.Client
	bus     *bus.MessageBus
	loc     *time.Location
}

func NewRunner(cfg *config.Config, loop *agent.Loop, library *knowledge.Library, store *checkpoint.Store, wx *weather.Client, msgBus *bus.MessageBus) *Runner {
	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Runner{
		cfg:     cfg,
		loop:    loop,
		library: library,
		pruner:  checkpoint.NewPruner(store, cfg.Checkpoints.RetentionDays, cfg.Checkpoints.MaxTurnsPerThread),
		weather: wx,
		bus:     msgBus,
		loc:     loc,
	}
}

func (r *Runner) now() time.Time {
	return time.Now().In(r.loc)
}

// send publishes a message to a Discord channel; a blank chat id means
// the channel is not configured and the message is dropped with a log.
func (r *Runner) send(chatID, content string) {
	if r.bus == nil || chatID == "" || content == "" {
		logger.DebugC("jobs", "No delivery target for job output, skipping send")
		return
	}
	r.bus.PublishOutbound(bus.OutboundMessage{
		Channel: "discord",
		ChatID:  chatID,
		Content: content,
	})
}

// RunBriefing generates the morning briefing: weather, urgent tasks,
// seasonal planting advice, grouped per member. The result is archived
// to daily_<date>.md; replies containing NO_ACTION are not delivered.
func (r *Runner) RunBriefing(ctx context.Context) error {
	now := r.now()
	today := now.Format("2006-01-02")
	logger.InfoCF("jobs", "Generating morning briefing", map[string]interface{}{"date": today})

	weatherLine := "Weather data unavailable."
	forecastSummary := ""
	var guidance []string
	if r.weather != nil && r.weather.Configured() {
		outlook, err := r.weather.Outlook(ctx)
		if err != nil {
			logger.WarnCF("jobs", "Weather lookup failed for briefing", map[string]interface{}{"error": err.Error()})
		} else {
			weatherLine = fmt.Sprintf("%.1f° (feels like %.1f°), humidity %d%%, %s",
				outlook.Current.Temp, outlook.Current.FeelsLike, outlook.Current.Humidity, outlook.Current.Conditions)
			forecastSummary = outlook.Summary
			if outlook.RainAlert {
				guidance = append(guidance, "- Rain is expected in the next 48 hours. Mention that watering may not be needed.")
			}
			if outlook.FrostRisk {
				guidance = append(guidance, "- Frost is expected! Suggest covering sensitive plants and bringing in any tender seedlings.")
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generate the daily morning briefing.\nToday's Date: %s\nCurrent Weather: %s\nForecast: %s\n\n", today, weatherLine, forecastSummary)
	b.WriteString("INSTRUCTION: Read the 'garden_log.md', 'tasks.md', 'planting_calendar.md', and 'almanac.md' files using your tools.\n")
	b.WriteString("Analyze the information to identify:\n")
	b.WriteString("1. Urgent tasks due today/soon (from tasks.md)\n")
	b.WriteString("2. Planting actions based on weather/season (from planting_calendar.md)\n")
	b.WriteString("3. Recent log context (from garden_log.md)\n")
	b.WriteString("4. Weather-based advice based on the forecast\n")
	if names := r.library.MemberNames(); len(names) > 0 {
		titled := make([]string, len(names))
		for i, n := range names {
			titled[i] = titleWord(n)
		}
		fmt.Fprintf(&b, "\nREGISTERED MEMBERS: %s\n", strings.Join(titled, ", "))
		b.WriteString("When listing tasks, group them by assignee. Show each person's assigned tasks under their name, and list unassigned tasks in a separate 'Unassigned' section. Use the member names exactly as shown.\n")
	}
	if len(guidance) > 0 {
		b.WriteString("\nWEATHER NOTES:\n" + strings.Join(guidance, "\n") + "\n")
	}
	b.WriteString("If nothing is urgent, respond with exactly 'NO_ACTION'.")

	threadID := agent.EphemeralThreadID("daily_report_", now)
	response, err := r.loop.ProcessEphemeral(ctx, threadID, b.String())
	if err != nil {
		return fmt.Errorf("briefing: %w", err)
	}

	daily := fmt.Sprintf("# Daily Report — %s\n\n## Weather\n%s\n\n## Forecast\n%s\n\n## Briefing\n%s\n",
		today, weatherLine, forecastSummary, response)
	if err := r.library.Write("daily_"+today+".md", daily); err != nil {
		logger.WarnCF("jobs", "Failed to archive daily report", map[string]interface{}{"error": err.Error()})
	}

	if strings.Contains(response, "NO_ACTION") {
		logger.InfoC("jobs", "Briefing found nothing urgent, staying quiet")
		return nil
	}
	r.send(r.cfg.Channels.Discord.RemindersChannel, "**Morning Briefing:**\n"+response)
	return nil
}

// RunDebrief posts the evening debrief: open tasks due today or
// overdue, grouped by assignee. Built deterministically, no model call.
func (r *Runner) RunDebrief(ctx context.Context) error {
	now := r.now()
	today := now.Format("2006-01-02")

	open, err := r.library.OpenTasks()
	if err != nil {
		return fmt.Errorf("debrief: %w", err)
	}
	due := knowledge.FilterDueTodayOrOverdue(open, today)

	var b strings.Builder
	fmt.Fprintf(&b, "**Evening Debrief — %s**\n\n", today)
	if len(due) == 0 {
		b.WriteString("No open tasks for today. Tell me what you did and I'll log it in the garden journal.")
	} else {
		b.WriteString("Open tasks:\n")
		for _, group := range groupByAssignee(due) {
			if group.name != "" {
				fmt.Fprintf(&b, "\n%s:\n", titleWord(group.name))
			} else if len(due) > len(group.tasks) {
				b.WriteString("\nUnassigned:\n")
			}
			for _, task := range group.tasks {
				fmt.Fprintf(&b, "- %s\n", knowledge.TaskDescription(task))
			}
		}
		b.WriteString("\nTell me which ones you finished and I'll mark them complete and log your debrief.")
	}

	r.send(r.cfg.Channels.Discord.JournalChannel, b.String())
	return nil
}

// RunRecap summarizes the last N days of garden activity through the
// assistant. Days are clamped to 1..MaxRecapDays.
func (r *Runner) RunRecap(ctx context.Context, days int) error {
	if days < 1 {
		days = 1
	}
	if days > MaxRecapDays {
		days = MaxRecapDays
	}
	now := r.now()
	today := now.Format("2006-01-02")
	start := now.AddDate(0, 0, -days).Format("2006-01-02")

	prompt := fmt.Sprintf(`[CONTEXT: Generate a GARDEN RECAP covering %s to %s (%d days).]

Read 'garden_log.md', 'harvests.md', and 'tasks.md' using your tools.
Summarize:
1. **Activities**: Key things done in this period (from garden_log.md)
2. **Harvests**: What was harvested and approximate totals (from harvests.md)
3. **Tasks**: Tasks completed vs still open (from tasks.md)
4. **Highlights**: Any notable events, milestones, or concerns

Focus on entries from the last %d days. Keep the recap concise but informative.`, start, today, days, days)

	threadID := agent.EphemeralThreadID("recap_", now)
	response, err := r.loop.ProcessEphemeral(ctx, threadID, prompt)
	if err != nil {
		return fmt.Errorf("recap: %w", err)
	}
	r.send(r.cfg.Channels.Discord.RemindersChannel, fmt.Sprintf("**Garden Recap (%d days)**\n%s", days, response))
	return nil
}

// RunPrune deletes expired ephemeral checkpoint threads and trims
// persistent ones.
func (r *Runner) RunPrune(ctx context.Context) error {
	deleted, err := r.pruner.Prune(ctx, r.now())
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	logger.InfoCF("jobs", "Checkpoint prune complete", map[string]interface{}{"rows": deleted})
	return nil
}

// RunWeatherAlerts checks the 48 hour forecast and posts at most one
// frost or rain alert per day, tracked through a flag file.
func (r *Runner) RunWeatherAlerts(ctx context.Context) error {
	if r.weather == nil || !r.weather.Configured() {
		return nil
	}
	outlook, err := r.weather.Outlook(ctx)
	if err != nil {
		return fmt.Errorf("weather alerts: %w", err)
	}
	if !outlook.FrostRisk && !outlook.RainAlert {
		return nil
	}

	today := r.now().Format("2006-01-02")
	flagPath := filepath.Join(r.library.Dir(), alertFlagFile)
	if flag, err := os.ReadFile(flagPath); err == nil && strings.TrimSpace(string(flag)) == today {
		return nil
	}

	tempUnit, precipUnit := "°C", "mm"
	if r.cfg.Weather.Units == "imperial" {
		tempUnit, precipUnit = "°F", "in"
	}

	minTemp, maxProb, totalRain := forecastExtremes(outlook.Forecast)
	parts := []string{"**Weather Alert**"}
	if outlook.FrostRisk {
		parts = append(parts, fmt.Sprintf("**Frost risk** — temps dropping to %.0f%s in the next 48 hours. Consider covering sensitive plants and bringing in tender seedlings.", minTemp, tempUnit))
	}
	if outlook.RainAlert {
		parts = append(parts, fmt.Sprintf("**Rain expected** — up to %.0f%% chance, %.1f%s total. You may be able to skip watering.", maxProb*100, totalRain, precipUnit))
	}
	r.send(r.cfg.Channels.Discord.RemindersChannel, strings.Join(parts, "\n"))

	if err := os.WriteFile(flagPath, []byte(today), 0644); err != nil {
		logger.WarnCF("jobs", "Failed to write alert flag", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func forecastExtremes(entries []weather.ForecastEntry) (minTemp, maxProb, totalRain float64) {
	for i, e := range entries {
		temp := e.TempMin
		if temp == 0 && e.Temp != 0 {
			temp = e.Temp
		}
		if i == 0 || temp < minTemp {
			minTemp = temp
		}
		if e.PrecipProb > maxProb {
			maxProb = e.PrecipProb
		}
		totalRain += e.RainMM
	}
	return minTemp, maxProb, totalRain
}

type assigneeGroup struct {
	name  string
	tasks []string
}

// groupByAssignee buckets tasks by assignee, named groups first in
// alphabetical order, unassigned last.
func groupByAssignee(tasks []string) []assigneeGroup {
	byName := make(map[string][]string)
	for _, task := range tasks {
		name := strings.ToLower(knowledge.TaskAssignee(task))
		byName[name] = append(byName[name], task)
	}
	var names []string
	for name := range byName {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var groups []assigneeGroup
	for _, name := range names {
		groups = append(groups, assigneeGroup{name: name, tasks: byName[name]})
	}
	if unassigned, ok := byName[""]; ok {
		groups = append(groups, assigneeGroup{tasks: unassigned})
	}
	return groups
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
