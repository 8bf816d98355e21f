package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bbernstein/tidecal/internal/models"
	"github.com/rs/zerolog/log"
)

// Columns in the order Encode writes them. Decode matches by header name, so
// older files without a province column still load.
var columns = []string{"station_id", "place_name", "latitude", "longitude", "province"}

// Decode reads a header-led station CSV. Rows without a station id are
// skipped; unparseable coordinates are dropped rather than failing the file.
func Decode(r io.Reader, source models.Source) ([]models.StationDescriptor, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := index["station_id"]; !ok {
		return nil, fmt.Errorf("snapshot header has no station_id column")
	}

	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []models.StationDescriptor
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading snapshot line %d: %w", line, err)
		}

		id := field(row, "station_id")
		if id == "" {
			log.Warn().Int("line", line).Msg("Skipping snapshot row without station_id")
			continue
		}

		d := models.StationDescriptor{
			StationID: id,
			PlaceName: field(row, "place_name"),
			Country:   source.Country(),
			Source:    source,
			Latitude:  parseCoordinate(field(row, "latitude")),
			Longitude: parseCoordinate(field(row, "longitude")),
		}
		if p := field(row, "province"); p != "" {
			d.Province = &p
		}
		out = append(out, d)
	}

	return out, nil
}

// Encode writes descriptors in the layout Decode reads.
func Encode(w io.Writer, descriptors []models.StationDescriptor) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}

	for _, d := range descriptors {
		province := ""
		if d.Province != nil {
			province = *d.Province
		}
		row := []string{d.StationID, d.PlaceName, formatCoordinate(d.Latitude), formatCoordinate(d.Longitude), province}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func parseCoordinate(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Warn().Str("value", s).Msg("Ignoring unparseable coordinate in snapshot")
		return nil
	}
	return &v
}

func formatCoordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}
