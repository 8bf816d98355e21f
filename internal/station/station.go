package station

import (
	"context"

	"github.com/bbernstein/tidecal/internal/models"
)

// Directory lists every station a provider currently publishes, and reports
// which endpoint answered.
type Directory interface {
	FetchAll(ctx context.Context) ([]models.StationDescriptor, string, error)
}

// Lister reads catalog rows for one source, or all sources when source is empty.
type Lister interface {
	List(ctx context.Context, source models.Source) ([]models.StationRecord, error)
}
