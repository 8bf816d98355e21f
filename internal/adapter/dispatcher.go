package adapter

import (
	"fmt"
	"strings"

	"github.com/bbernstein/tidecal/internal/models"
	"github.com/rs/zerolog/log"
)

// Dispatcher picks the adapter for a station id.
type Dispatcher struct {
	// adapters in probe order
	adapters []Adapter
}

// NewDispatcher probes adapters in the order given.
func NewDispatcher(adapters ...Adapter) *Dispatcher {
	return &Dispatcher{adapters: adapters}
}

// Select returns the adapter named by hint when one is given, without
// validating id against it. Without a hint the first adapter whose Validate
// accepts id wins.
func (d *Dispatcher) Select(id, hint string) (Adapter, error) {
	if hint != "" {
		for _, a := range d.adapters {
			if strings.EqualFold(string(a.Source()), hint) {
				return a, nil
			}
		}
		return nil, NewInputError("source", fmt.Sprintf("unknown provider %q", hint))
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, NewInputError("station id", "must not be empty")
	}

	for _, a := range d.adapters {
		if a.Validate(id) {
			log.Debug().Str("station_id", id).Str("source", string(a.Source())).Msg("Selected adapter")
			return a, nil
		}
	}

	return nil, NewUnknownStationError(id, "station ID format not recognized", nil)
}

// Sources lists the providers in probe order.
func (d *Dispatcher) Sources() []models.Source {
	out := make([]models.Source, len(d.adapters))
	for i, a := range d.adapters {
		out[i] = a.Source()
	}
	return out
}
