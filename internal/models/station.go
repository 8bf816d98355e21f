package models

import "time"

type Source string

const (
	SourceNOAA Source = "NOAA"
	SourceCHS  Source = "CHS"
)

const (
	CountryUSA    = "USA"
	CountryCanada = "Canada"
)

// Country returns the catalog country that owns stations of this source.
func (s Source) Country() string {
	if s == SourceCHS {
		return CountryCanada
	}
	return CountryUSA
}

// StationRecord is one row of the station catalog.
type StationRecord struct {
	StationID  string    `json:"stationId"`
	PlaceName  *string   `json:"placeName,omitempty"`
	Country    string    `json:"country"`
	Source     Source    `json:"source"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	Province   *string   `json:"province,omitempty"`
	UsageCount int       `json:"usageCount"`
	LastUsed   time.Time `json:"lastUsed"`
	Distance   float64   `json:"distance,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (r StationRecord) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Label is the place name when known, the station id otherwise.
func (r StationRecord) Label() string {
	if r.PlaceName != nil && *r.PlaceName != "" {
		return *r.PlaceName
	}
	return r.StationID
}

// StationDescriptor is the import shape produced by directory fetchers and
// snapshots. It carries descriptive fields only, never usage statistics.
type StationDescriptor struct {
	StationID string   `json:"stationId"`
	PlaceName string   `json:"placeName"`
	Country   string   `json:"country"`
	Source    Source   `json:"source"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Province  *string  `json:"province,omitempty"`
}
