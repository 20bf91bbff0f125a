package agent

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gardenista/beanbot/pkg/knowledge"
	"github.com/gardenista/beanbot/pkg/providers"
	"github.com/gardenista/beanbot/pkg/tools"
)

// PromptBuilder assembles the system prompt from the agent identity,
// the tool catalog, and a snapshot of the knowledge library.
type PromptBuilder struct {
	library  *knowledge.Library
	tools    *tools.ToolRegistry
	timezone *time.Location
}

func NewPromptBuilder(library *knowledge.Library, registry *tools.ToolRegistry, timezone *time.Location) *PromptBuilder {
	if timezone == nil {
		timezone = time.Local
	}
	return &PromptBuilder{
		library:  library,
		tools:    registry,
		timezone: timezone,
	}
}

func (pb *PromptBuilder) identity() string {
	runtimeLine := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())

	return fmt.Sprintf(`# Beanbot

You are Beanbot, the shared assistant of a community garden. You keep
the garden's knowledge library, task list, harvest log, and journal,
and you help the members coordinate their work.

## Runtime
%s

## Knowledge library
All garden knowledge lives in markdown files at: %s
- tasks.md holds the shared task list
- harvests.md is the harvest log table
- garden_log.md is the dated journal
- planting_calendar.md is generated; rebuild it with rebuild_calendar
- other files are topic notes (one plant or subject per file)

%s

## Rules

1. **Always use tools for actions.** When asked to record, change, or look
   something up, call the tool. Never claim to have done it without the call.
2. **Never guess on ambiguity.** When a tool reports several matching tasks,
   list the candidates and ask which one was meant. Do not pick one yourself.
3. **Record sources.** When saving information from a link or document, pass
   the source to append_topic_update so the file keeps its provenance.
4. **Stay grounded in the library.** Answer gardening questions from the
   topic files when they cover it; say so when they do not.`,
		runtimeLine, pb.library.Dir(), pb.toolsSection())
}

func (pb *PromptBuilder) toolsSection() string {
	if pb.tools == nil {
		return ""
	}
	summaries := pb.tools.GetSummaries()
	if len(summaries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available Tools\n\n")
	for _, s := range summaries {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return sb.String()
}

// snapshot surfaces the current date, the member roster, and the
// library file list so the model does not have to ask for them.
func (pb *PromptBuilder) snapshot(now time.Time) string {
	var blocks []string

	local := now.In(pb.timezone)
	blocks = append(blocks, fmt.Sprintf("## Today\n%s (%s)", local.Format("Monday, 2006-01-02"), local.Format("15:04 MST")))

	if names := pb.library.MemberNames(); len(names) > 0 {
		blocks = append(blocks, "## Garden members\n- "+strings.Join(names, "\n- "))
	}

	if files, err := pb.library.List(); err == nil && len(files) > 0 {
		blocks = append(blocks, "## Library files\n"+strings.Join(files, ", "))
	}

	return strings.Join(blocks, "\n\n")
}

// bootstrap folds the almanac and layout files into the prompt when
// they exist, so standing garden facts are always in context.
func (pb *PromptBuilder) bootstrap() string {
	var parts []string
	for _, name := range []string{"almanac.md", "farm_layout.md"} {
		content, err := pb.library.Read(name)
		if err != nil || strings.TrimSpace(content) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", name, strings.TrimSpace(content)))
	}
	return strings.Join(parts, "\n\n")
}

// SystemMessages builds the system messages for one turn.
func (pb *PromptBuilder) SystemMessages(now time.Time) []providers.Message {
	parts := []string{pb.identity()}
	if b := pb.bootstrap(); b != "" {
		parts = append(parts, b)
	}
	if s := pb.snapshot(now); s != "" {
		parts = append(parts, s)
	}
	return []providers.Message{
		providers.TextMessage("system", strings.Join(parts, "\n\n---\n\n")),
	}
}
