package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bbernstein/tidecal/internal/models"
	"github.com/bbernstein/tidecal/pkg/http/client"
	"github.com/rs/zerolog/log"
)

const noaaNoDataMarker = "No Predictions data was found"

// NOAAAdapter reads hi/lo predictions from the CO-OPS data getter as CSV.
// The client's base URL must point at the datagetter endpoint.
type NOAAAdapter struct {
	httpClient  client.Interface
	application string
}

func NewNOAAAdapter(httpClient client.Interface, application string) *NOAAAdapter {
	if application == "" {
		application = "tidecal"
	}
	return &NOAAAdapter{httpClient: httpClient, application: application}
}

func (a *NOAAAdapter) Source() models.Source {
	return models.SourceNOAA
}

// Validate accepts 6 to 8 digit numeric ids.
func (a *NOAAAdapter) Validate(id string) bool {
	return isDigits(id) && len(id) >= 6 && len(id) <= 8
}

func (a *NOAAAdapter) Fetch(ctx context.Context, id string, year, month int) ([]byte, error) {
	if !a.Validate(id) {
		return nil, NewInputError("station id", fmt.Sprintf("%q is not a NOAA station id", id))
	}
	if err := ValidateMonth(year, month); err != nil {
		return nil, err
	}

	first, last := monthBounds(year, month)
	params := url.Values{
		"begin_date":  {first.Format("20060102")},
		"end_date":    {last.Format("20060102")},
		"station":     {id},
		"product":     {"predictions"},
		"datum":       {"MLLW"},
		"time_zone":   {"lst_ldt"},
		"interval":    {"hilo"},
		"units":       {"metric"},
		"format":      {"csv"},
		"application": {a.application},
	}

	log.Debug().Str("station_id", id).Int("year", year).Int("month", month).Msg("Fetching NOAA predictions")

	resp, err := a.httpClient.Get(ctx, "", params)
	if err != nil {
		log.Error().Err(err).Str("station_id", id).Msg("NOAA request failed")
		return nil, NewUnavailableError(models.SourceNOAA, "request failed", 0, err)
	}
	if !resp.OK() {
		log.Error().Int("status", resp.StatusCode).Str("station_id", id).Msg("NOAA returned non-success status")
		return nil, NewUnavailableError(models.SourceNOAA, "unexpected status", resp.StatusCode, nil)
	}

	return resp.Body, nil
}

// Parse reads either the current four-column layout (date, time, height, type)
// or the legacy three-column layout ("date time", height, type). The layout
// is detected per line.
func (a *NOAAAdapter) Parse(raw []byte) (*ParseResult, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if strings.Contains(text, noaaNoDataMarker) {
		log.Warn().Msg("NOAA reported no predictions for the period")
		return nil, noData("provider reported no predictions")
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < 2 {
		return nil, noData("response has no data rows")
	}

	result := &ParseResult{}
	for n, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		event, ok := parseNOAALine(line)
		if !ok {
			result.Skipped++
			log.Warn().Int("line", n+2).Str("content", line).Msg("Skipping malformed NOAA line")
			continue
		}
		result.Events = append(result.Events, event)
	}

	if len(result.Events) == 0 {
		return nil, noData(fmt.Sprintf("no valid rows (%d skipped)", result.Skipped))
	}
	if result.Skipped > 0 {
		log.Warn().Int("skipped", result.Skipped).Int("parsed", len(result.Events)).Msg("NOAA response had malformed lines")
	}
	return result, nil
}

func parseNOAALine(line string) (models.TideEvent, bool) {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var date, clock, height, code string
	switch {
	case len(parts) >= 4:
		date, clock, height, code = parts[0], parts[1], parts[2], parts[3]
	case len(parts) == 3:
		fields := strings.Fields(parts[0])
		if len(fields) != 2 {
			return models.TideEvent{}, false
		}
		date, clock, height, code = fields[0], fields[1], parts[1], parts[2]
	default:
		return models.TideEvent{}, false
	}

	value, err := strconv.ParseFloat(height, 64)
	if err != nil {
		return models.TideEvent{}, false
	}

	return models.TideEvent{
		Time:   date + " " + clock,
		Height: value,
		Type:   noaaTideType(code, line),
	}, true
}

// noaaTideType maps H/L codes. Anything else is repaired from the raw line.
func noaaTideType(code, line string) models.TideType {
	switch strings.ToUpper(code) {
	case "H":
		return models.TideTypeHigh
	case "L":
		return models.TideTypeLow
	}
	if strings.Contains(line, "H") {
		return models.TideTypeHigh
	}
	return models.TideTypeLow
}
