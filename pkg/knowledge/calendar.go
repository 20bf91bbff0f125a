package knowledge

import (
	"regexp"
	"sort"
	"strings"
)

const calendarFile = "planting_calendar.md"

var (
	springRe     = regexp.MustCompile(`(?s)\*\*Spring Planting Dates[^*]*\*\*(.*)`)
	fallRe       = regexp.MustCompile(`(?s)\*\*Fall Planting Dates[^*]*\*\*(.*)`)
	genericSowRe = regexp.MustCompile(`When to Sow \(Outdoors\): (.*)`)
)

// RebuildCalendar scans every topic document for planting-date markers
// and regenerates the calendar document. The output depends only on
// the input set: entries are emitted in sorted order, so rebuilding
// from unchanged documents is byte-identical.
func (l *Library) RebuildCalendar() (entries int, err error) {
	names, err := l.List()
	if err != nil {
		return 0, err
	}

	var calendarEntries []string
	for _, name := range names {
		if SystemFiles[name] || strings.HasPrefix(name, "daily_") {
			continue
		}
		content, rerr := l.Read(name)
		if rerr != nil {
			continue
		}
		// Strip the sources section so URLs aren't parsed as dates.
		content, _ = splitSourcesSection(content)

		plantName := titleCase(strings.ReplaceAll(strings.TrimSuffix(name, ".md"), "_", " "))
		entry := buildCalendarEntry(content)
		if entry != "" {
			calendarEntries = append(calendarEntries, "### "+plantName+"\n"+entry)
		}
	}
	sort.Strings(calendarEntries)

	output := "# Planting Calendar\n\nGenerated from knowledge library files.\n\n"
	if len(calendarEntries) > 0 {
		output += strings.Join(calendarEntries, "\n")
	} else {
		output += "No specific planting dates found in library files."
	}

	if err := l.Write(calendarFile, output); err != nil {
		return 0, err
	}
	return len(calendarEntries), nil
}

func buildCalendarEntry(content string) string {
	var entry strings.Builder
	hasData := false

	if m := springRe.FindStringSubmatch(content); m != nil {
		text := m[1]
		if idx := strings.Index(text, "**Fall"); idx >= 0 {
			text = text[:idx]
		}
		text = cleanCalendarText(text)
		if text != "" && !strings.Contains(text, "N/A") {
			entry.WriteString("  - **Spring:**\n    " + text + "\n")
			hasData = true
		}
	}
	if m := fallRe.FindStringSubmatch(content); m != nil {
		text := m[1]
		if idx := strings.Index(text, "\n###"); idx >= 0 {
			text = text[:idx]
		}
		text = cleanCalendarText(text)
		if text != "" && !strings.Contains(text, "N/A") {
			entry.WriteString("  - **Fall:**\n    " + text + "\n")
			hasData = true
		}
	}
	if !hasData {
		if m := genericSowRe.FindStringSubmatch(content); m != nil {
			text := strings.TrimSpace(m[1])
			if text != "" && !strings.Contains(text, "N/A") {
				entry.WriteString("  - **Sow:** " + text + "\n")
				hasData = true
			}
		}
	}
	if !hasData {
		return ""
	}
	return entry.String()
}

func cleanCalendarText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "* ", "")
	return strings.ReplaceAll(text, "\n", " ")
}
