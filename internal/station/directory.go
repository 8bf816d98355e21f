package station

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bbernstein/tidecal/internal/metrics"
	"github.com/bbernstein/tidecal/internal/models"
	"github.com/bbernstein/tidecal/pkg/http/client"
	"github.com/rs/zerolog/log"
)

const hiLoSeries = "wlp-hilo"

var provinceCodes = map[string]bool{
	"AB": true, "BC": true, "MB": true, "NB": true, "NL": true, "NS": true, "NT": true,
	"NU": true, "ON": true, "PE": true, "QC": true, "SK": true, "YT": true,
}

// DirectoryUnavailableError means every directory endpoint failed.
type DirectoryUnavailableError struct {
	Attempts []string
}

func (e *DirectoryUnavailableError) Error() string {
	return fmt.Sprintf("all %d CHS directory endpoints failed: %s", len(e.Attempts), strings.Join(e.Attempts, "; "))
}

// CHSDirectory lists Canadian stations with hi/lo predictions. Endpoints are
// equivalent mirrors tried in order; the first usable answer wins.
type CHSDirectory struct {
	endpoints []*client.Client
	metrics   *metrics.Metrics
}

type DirectoryOption func(*CHSDirectory)

func WithDirectoryMetrics(m *metrics.Metrics) DirectoryOption {
	return func(d *CHSDirectory) {
		d.metrics = m
	}
}

func NewCHSDirectory(endpoints []*client.Client, opts ...DirectoryOption) *CHSDirectory {
	d := &CHSDirectory{endpoints: endpoints}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewCHSDirectoryFromURLs builds one client per mirror, sharing timeout and
// user agent.
func NewCHSDirectoryFromURLs(baseURLs []string, opts client.Options, dirOpts ...DirectoryOption) *CHSDirectory {
	endpoints := make([]*client.Client, 0, len(baseURLs))
	for _, u := range baseURLs {
		o := opts
		o.BaseURL = u
		endpoints = append(endpoints, client.New(o))
	}
	return NewCHSDirectory(endpoints, dirOpts...)
}

type directoryEntry struct {
	Code         string   `json:"code"`
	OfficialName string   `json:"officialName"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Operating    bool     `json:"operating"`
	Type         string   `json:"type"`
	TimeSeries   []struct {
		Code string `json:"code"`
	} `json:"timeSeries"`
}

// FetchAll returns the filtered station list and the base URL that served it.
func (d *CHSDirectory) FetchAll(ctx context.Context) ([]models.StationDescriptor, string, error) {
	var attempts []string
	for _, endpoint := range d.endpoints {
		base := endpoint.BaseURL()
		log.Info().Str("endpoint", base).Msg("Fetching Canadian stations")

		stations, err := d.fetchFrom(ctx, endpoint)
		if err != nil {
			log.Warn().Err(err).Str("endpoint", base).Msg("CHS directory endpoint failed, trying next")
			attempts = append(attempts, fmt.Sprintf("%s: %v", base, err))
			d.observe("error")
			continue
		}

		d.observe("ok")
		return stations, base, nil
	}

	err := &DirectoryUnavailableError{Attempts: attempts}
	log.Error().Err(err).Msg("CHS directory unavailable")
	return nil, "", err
}

func (d *CHSDirectory) fetchFrom(ctx context.Context, endpoint *client.Client) ([]models.StationDescriptor, error) {
	resp, err := endpoint.Get(ctx, "/stations", nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var entries []directoryEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, fmt.Errorf("decoding station list: %w", err)
	}

	var out []models.StationDescriptor
	for _, e := range entries {
		if !e.Operating || e.Type != "PERMANENT" || !e.hasHiLo() {
			continue
		}
		if e.Code == "" || e.OfficialName == "" {
			log.Warn().Str("code", e.Code).Str("name", e.OfficialName).Msg("Station missing code or name")
			continue
		}
		out = append(out, e.descriptor())
	}

	log.Info().Int("usable", len(out)).Int("total", len(entries)).Msg("Filtered CHS directory")
	return out, nil
}

func (d *CHSDirectory) observe(outcome string) {
	if d.metrics != nil {
		d.metrics.DirectoryAttempts.WithLabelValues(outcome).Inc()
	}
}

func (e directoryEntry) hasHiLo() bool {
	for _, ts := range e.TimeSeries {
		if ts.Code == hiLoSeries {
			return true
		}
	}
	return false
}

func (e directoryEntry) descriptor() models.StationDescriptor {
	d := models.StationDescriptor{
		StationID: e.Code,
		Country:   models.CountryCanada,
		Source:    models.SourceCHS,
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
	}

	var lat, lon float64
	if e.Latitude != nil {
		lat = *e.Latitude
	}
	if e.Longitude != nil {
		lon = *e.Longitude
	}

	province := ProvinceFromName(e.OfficialName)
	if province != "" {
		d.Province = &province
	}
	d.PlaceName = PlaceLabel(e.OfficialName, province, lat, lon)
	return d
}

// ProvinceFromName returns the province code when it is the last
// comma-separated part of name, e.g. "Point Atkinson, BC".
func ProvinceFromName(name string) string {
	parts := strings.Split(name, ",")
	if len(parts) < 2 {
		return ""
	}
	last := strings.ToUpper(strings.TrimSpace(parts[len(parts)-1]))
	if provinceCodes[last] {
		return last
	}
	return ""
}

// PlaceLabel is the display name for a station: the name with its province
// appended, inferred from coordinates when the name does not carry one.
func PlaceLabel(name, province string, lat, lon float64) string {
	if name == "" {
		return "Unknown"
	}
	if province != "" {
		if strings.HasSuffix(name, ", "+province) {
			return name
		}
		return name + ", " + province
	}
	return name + ", " + InferProvince(lat, lon)
}

// InferProvince is a coarse coastal guess from coordinates, good enough to
// disambiguate a label. It is not a boundary lookup.
func InferProvince(lat, lon float64) string {
	switch {
	case lon < -120:
		return "BC"
	case lon < -95:
		return "MB"
	case lat > 50:
		return "NT"
	case lon < -60:
		return "QC"
	default:
		return "NL"
	}
}
