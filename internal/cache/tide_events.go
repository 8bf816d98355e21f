package cache

import (
	"fmt"
	"strings"

	"github.com/bbernstein/tidecal/internal/config"
	"github.com/bbernstein/tidecal/internal/models"
	"github.com/jonboulle/clockwork"
)

// ResolutionCache remembers which opaque station identifier a short CHS code
// resolved to.
type ResolutionCache struct {
	*TTLCache[string, string]
}

func NewResolutionCache(cfg *config.CacheConfig, clock clockwork.Clock) (*ResolutionCache, error) {
	c, err := NewTTLCache[string, string](cfg.ResolutionLRUSize, cfg.GetResolutionTTL(), clock)
	if err != nil {
		return nil, err
	}
	return &ResolutionCache{TTLCache: c}, nil
}

// EventCache holds parsed monthly event lists.
type EventCache struct {
	*TTLCache[string, []models.TideEvent]
}

func NewEventCache(cfg *config.CacheConfig, clock clockwork.Clock) (*EventCache, error) {
	c, err := NewTTLCache[string, []models.TideEvent](cfg.EventLRUSize, cfg.GetEventTTL(), clock)
	if err != nil {
		return nil, err
	}
	return &EventCache{TTLCache: c}, nil
}

// EventKey generates a unique cache key for a station and month.
func EventKey(source models.Source, stationID string, year, month int) string {
	return fmt.Sprintf("%s:%s:%04d-%02d", strings.ToUpper(string(source)), stationID, year, month)
}

// GetEvents returns a copy so callers cannot mutate the cached slice.
func (c *EventCache) GetEvents(key string) ([]models.TideEvent, bool) {
	events, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	return append([]models.TideEvent(nil), events...), true
}

func (c *EventCache) SaveEvents(key string, events []models.TideEvent) {
	c.Add(key, append([]models.TideEvent(nil), events...))
}
