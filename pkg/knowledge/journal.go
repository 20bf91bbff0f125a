package knowledge

import (
	"fmt"
	"strings"
	"time"
)

const journalFile = "garden_log.md"

// AppendJournal adds a timestamped entry to the garden log.
func (l *Library) AppendJournal(entry string, now time.Time) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return fmt.Errorf("journal entry is required")
	}
	line := fmt.Sprintf("- [%s] %s\n", now.Format("2006-01-02 15:04:05"), entry)
	return l.Update(journalFile, func(current string) (string, error) {
		if current == "" {
			current = "# Garden Log\n"
		}
		if !strings.HasSuffix(current, "\n") {
			current += "\n"
		}
		return current + line, nil
	})
}
