package knowledge

import (
	"fmt"
	"strings"
	"time"
)

const harvestsFile = "harvests.md"

const harvestHeader = "| Date | Crop | Amount | Location | Notes |\n|---|---|---|---|---|\n"

// AppendHarvest adds a row to the harvest table, creating the table if
// the document does not exist yet. Crop and amount are required;
// location and notes are optional.
func (l *Library) AppendHarvest(crop, amount, location, notes string, now time.Time) error {
	crop = strings.TrimSpace(crop)
	amount = strings.TrimSpace(amount)
	if crop == "" {
		return fmt.Errorf("crop is required")
	}
	if amount == "" {
		return fmt.Errorf("amount with unit is required")
	}
	row := fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
		now.Format("2006-01-02"), crop, amount, strings.TrimSpace(location), sanitizeCell(notes))

	return l.Update(harvestsFile, func(current string) (string, error) {
		if current == "" {
			current = "# Harvest Log\n\n" + harvestHeader
		}
		if !strings.HasSuffix(current, "\n") {
			current += "\n"
		}
		return current + row, nil
	})
}

// sanitizeCell keeps table rows one line each.
func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(strings.ReplaceAll(s, "|", "/"))
}
