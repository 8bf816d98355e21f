package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bbernstein/tidecal/internal/cache"
	"github.com/bbernstein/tidecal/internal/metrics"
	"github.com/bbernstein/tidecal/internal/models"
	"github.com/bbernstein/tidecal/pkg/http/client"
	"github.com/rs/zerolog/log"
)

const chsHiLoSeries = "wlp-hilo"

// CHSAdapter reads hi/lo predictions from the IWLS API. Short numeric codes
// are resolved to the API's opaque station id before any data request.
type CHSAdapter struct {
	httpClient  client.Interface
	resolutions *cache.ResolutionCache
	metrics     *metrics.Metrics
}

type CHSOption func(*CHSAdapter)

// WithResolutionCache memoizes code to id lookups.
func WithResolutionCache(c *cache.ResolutionCache) CHSOption {
	return func(a *CHSAdapter) {
		a.resolutions = c
	}
}

func WithCHSMetrics(m *metrics.Metrics) CHSOption {
	return func(a *CHSAdapter) {
		a.metrics = m
	}
}

// NewCHSAdapter expects a client whose base URL is the IWLS API root (…/api/v1).
func NewCHSAdapter(httpClient client.Interface, opts ...CHSOption) *CHSAdapter {
	a := &CHSAdapter{httpClient: httpClient}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *CHSAdapter) Source() models.Source {
	return models.SourceCHS
}

// Validate accepts an opaque id longer than 10 characters made of
// alphanumerics and hyphens, or a 4 to 6 digit station code.
func (a *CHSAdapter) Validate(id string) bool {
	if len(id) > 10 && isAlnum(strings.ReplaceAll(id, "-", "")) {
		return true
	}
	return isDigits(id) && len(id) >= 4 && len(id) <= 6
}

func (a *CHSAdapter) Fetch(ctx context.Context, id string, year, month int) ([]byte, error) {
	if !a.Validate(id) {
		return nil, NewInputError("station id", fmt.Sprintf("%q is not a CHS station id or code", id))
	}
	if err := ValidateMonth(year, month); err != nil {
		return nil, err
	}

	stationUUID := id
	if isDigits(id) {
		resolved, err := a.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		stationUUID = resolved
	}

	first, last := monthBounds(year, month)
	params := url.Values{
		"time-series-code": {chsHiLoSeries},
		"from":             {first.Format("2006-01-02") + "T00:00:00Z"},
		"to":               {last.Format("2006-01-02") + "T23:59:59Z"},
	}

	log.Debug().Str("station_id", id).Str("uuid", stationUUID).Int("year", year).Int("month", month).Msg("Fetching CHS predictions")

	resp, err := a.httpClient.Get(ctx, "/stations/"+url.PathEscape(stationUUID)+"/data", params)
	if err != nil {
		log.Error().Err(err).Str("station_id", id).Msg("CHS data request failed")
		return nil, NewUnavailableError(models.SourceCHS, "data request failed", 0, err)
	}
	if !resp.OK() {
		log.Error().Int("status", resp.StatusCode).Str("station_id", id).Msg("CHS data request returned non-success status")
		return nil, NewUnavailableError(models.SourceCHS, "unexpected status from data endpoint", resp.StatusCode, nil)
	}

	return resp.Body, nil
}

// Resolve converts a station code to the opaque id the data endpoint needs.
func (a *CHSAdapter) Resolve(ctx context.Context, code string) (string, error) {
	if a.resolutions != nil {
		if id, ok := a.resolutions.Get(code); ok {
			a.observeResolution("hit")
			return id, nil
		}
		a.observeResolution("miss")
	}

	resp, err := a.httpClient.Get(ctx, "/stations", url.Values{"code": {code}})
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("CHS station lookup failed")
		return "", NewUnavailableError(models.SourceCHS, "station lookup failed", 0, err)
	}
	if !resp.OK() {
		log.Error().Int("status", resp.StatusCode).Str("code", code).Msg("CHS station lookup returned non-success status")
		return "", NewUnavailableError(models.SourceCHS, "unexpected status from station lookup", resp.StatusCode, nil)
	}

	var matches []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &matches); err != nil {
		log.Error().Err(err).Str("code", code).Msg("Malformed CHS station lookup payload")
		return "", NewUnavailableError(models.SourceCHS, "malformed station lookup payload", 0, err)
	}
	if len(matches) == 0 {
		log.Warn().Str("code", code).Msg("No CHS station matches code")
		return "", NewUnknownStationError(code, "no CHS station has this code", nil)
	}
	if matches[0].ID == "" {
		log.Warn().Str("code", code).Msg("CHS station lookup match has no id")
		return "", NewUnknownStationError(code, "station lookup match has no id", nil)
	}

	log.Debug().Str("code", code).Str("uuid", matches[0].ID).Msg("Resolved CHS station code")
	if a.resolutions != nil {
		a.resolutions.Add(code, matches[0].ID)
	}
	return matches[0].ID, nil
}

func (a *CHSAdapter) observeResolution(result string) {
	if a.metrics != nil {
		a.metrics.ResolutionCache.WithLabelValues(result).Inc()
	}
}

type chsPrediction struct {
	EventDate *string  `json:"eventDate"`
	Value     *float64 `json:"value"`
}

// Parse reads the data array and labels each height High or Low. The
// provider does not label extremes, so the label is inferred from the
// neighbouring heights; see InferTideType.
func (a *CHSAdapter) Parse(raw []byte) (*ParseResult, error) {
	var payload struct {
		Data []chsPrediction `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("Error parsing CHS JSON response")
		return nil, noData("unparseable CHS payload")
	}
	if len(payload.Data) == 0 {
		log.Warn().Msg("CHS response contains no data")
		return nil, noData("empty CHS data array")
	}

	heights := make([]*float64, len(payload.Data))
	for i, p := range payload.Data {
		heights[i] = p.Value
	}

	result := &ParseResult{}
	for i, p := range payload.Data {
		if p.EventDate == nil || *p.EventDate == "" || p.Value == nil {
			result.Skipped++
			log.Warn().Int("index", i).Msg("Skipping CHS prediction without date or value")
			continue
		}
		ts, err := time.Parse(time.RFC3339, *p.EventDate)
		if err != nil {
			result.Skipped++
			log.Warn().Str("event_date", *p.EventDate).Msg("Invalid date format in CHS response")
			continue
		}
		result.Events = append(result.Events, models.TideEvent{
			Time:   ts.Format(models.EventTimeLayout),
			Height: *p.Value,
			Type:   InferTideType(heights, i),
		})
	}

	if len(result.Events) == 0 {
		return nil, noData(fmt.Sprintf("no valid CHS predictions (%d skipped)", result.Skipped))
	}
	log.Debug().Int("parsed", len(result.Events)).Int("skipped", result.Skipped).Msg("Parsed CHS predictions")
	return result, nil
}

// InferTideType labels heights[i] from its neighbours. It is a local-extremum
// approximation for calendar annotation, not a physical crossing detection.
//
// With both neighbours present, a value strictly above both is High and one
// strictly below both is Low. Anything else, a plateau included, falls through
// to the single-neighbour rule: compare with the previous height if there is
// one, otherwise with the next. A lone value alternates Low, High by index.
// A nil neighbour counts as absent.
func InferTideType(heights []*float64, i int) models.TideType {
	value := *heights[i]

	var prev, next *float64
	if i > 0 {
		prev = heights[i-1]
	}
	if i < len(heights)-1 {
		next = heights[i+1]
	}

	if prev != nil && next != nil {
		if value > *prev && value > *next {
			return models.TideTypeHigh
		}
		if value < *prev && value < *next {
			return models.TideTypeLow
		}
	}
	if prev != nil {
		if value > *prev {
			return models.TideTypeHigh
		}
		return models.TideTypeLow
	}
	if next != nil {
		if value > *next {
			return models.TideTypeHigh
		}
		return models.TideTypeLow
	}
	if i%2 == 0 {
		return models.TideTypeLow
	}
	return models.TideTypeHigh
}
