package tide

import (
	"fmt"
	"strconv"

	"github.com/bbernstein/tidecal/internal/models"
)

const DefaultLowWaterMark = 0.3

// FormatEvents renders one line per event, e.g. "6/1  06:42 Low 0.1 m".
// The date gets a trailing "*" when the rounded height is below lowWaterMark.
func FormatEvents(events []models.TideEvent, lowWaterMark float64) []string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		civil, err := e.Civil()
		if err != nil {
			continue
		}

		height := e.DisplayHeight()
		date := fmt.Sprintf("%d/%d", int(civil.Month()), civil.Day())
		if height < lowWaterMark {
			date += "*"
		}

		lines = append(lines, fmt.Sprintf("%s  %s %s %s m", date, e.Clock(), e.Type.Label(), strconv.FormatFloat(height, 'f', 1, 64)))
	}
	return lines
}
