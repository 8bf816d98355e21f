package tide

import (
	"context"

	"github.com/bbernstein/tidecal/internal/models"
)

type TideService interface {
	GetEvents(ctx context.Context, stationID, sourceHint string, year, month int) (*MonthEvents, error)
}

// LookupRecorder counts station lookups in the catalog.
type LookupRecorder interface {
	RecordLookup(ctx context.Context, stationID string, source models.Source) (int, error)
}

type CacheProvider interface {
	GetEvents(key string) ([]models.TideEvent, bool)
	SaveEvents(key string, events []models.TideEvent)
}
