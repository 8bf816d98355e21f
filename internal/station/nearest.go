package station

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/bbernstein/tidecal/internal/models"
	"github.com/rs/zerolog/log"
)

const workerCount = 4

// NearestFinder ranks catalog stations by distance from a point.
type NearestFinder struct {
	catalog Lister
}

func NewNearestFinder(catalog Lister) *NearestFinder {
	return &NearestFinder{catalog: catalog}
}

// FindNearestStations returns up to limit stations of source (all sources
// when empty) closest to lat, lon. Rows without coordinates are ignored.
func (f *NearestFinder) FindNearestStations(ctx context.Context, lat, lon float64, limit int, source models.Source) ([]models.StationRecord, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("coordinates out of range: %f, %f", lat, lon)
	}

	records, err := f.catalog.List(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("listing stations: %w", err)
	}
	return Nearest(records, lat, lon, limit), nil
}

// Nearest computes distances in km with a small worker pool and returns the
// closest limit records, nearest first.
func Nearest(records []models.StationRecord, lat, lon float64, limit int) []models.StationRecord {
	work := make(chan models.StationRecord, len(records))
	results := make(chan models.StationRecord, len(records))

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range work {
				record.Distance = CalculateDistance(lat, lon, *record.Latitude, *record.Longitude)
				results <- record
			}
		}()
	}

	for _, record := range records {
		if !record.HasCoordinates() {
			log.Trace().Str("station_id", record.StationID).Msg("Nearest: skipping station without coordinates")
			continue
		}
		work <- record
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	var withDistance []models.StationRecord
	for record := range results {
		withDistance = append(withDistance, record)
	}

	sort.Slice(withDistance, func(i, j int) bool {
		if withDistance[i].Distance == withDistance[j].Distance {
			return withDistance[i].StationID < withDistance[j].StationID
		}
		return withDistance[i].Distance < withDistance[j].Distance
	})

	if limit > 0 && len(withDistance) > limit {
		withDistance = withDistance[:limit]
	}
	return withDistance
}

// CalculateDistance is the haversine great-circle distance in km.
func CalculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371.0 // km

	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
