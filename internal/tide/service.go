package tide

import (
	"context"
	"strings"

	"github.com/bbernstein/tidecal/internal/adapter"
	"github.com/bbernstein/tidecal/internal/cache"
	"github.com/bbernstein/tidecal/internal/metrics"
	"github.com/bbernstein/tidecal/internal/models"
	"github.com/rs/zerolog/log"
)

// MonthEvents is one station's predictions for a calendar month.
type MonthEvents struct {
	StationID string             `json:"stationId"`
	Source    models.Source      `json:"source"`
	Year      int                `json:"year"`
	Month     int                `json:"month"`
	Events    []models.TideEvent `json:"events"`
	// Skipped counts malformed provider records dropped while parsing.
	Skipped int `json:"skipped"`
	// LookupCount is the station's lookup total after this request, or 0 when
	// it could not be recorded.
	LookupCount int  `json:"lookupCount"`
	Cached      bool `json:"cached"`
}

type Service struct {
	dispatcher *adapter.Dispatcher
	lookups    LookupRecorder
	cache      CacheProvider
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLookupRecorder(r LookupRecorder) Option {
	return func(s *Service) {
		s.lookups = r
	}
}

func WithCache(c CacheProvider) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(dispatcher *adapter.Dispatcher, opts ...Option) *Service {
	s := &Service{dispatcher: dispatcher}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetEvents returns the month's events for stationID. sourceHint may name a
// provider to skip format detection. Errors are the adapter package's typed
// errors; adapter.Outcome classifies them.
func (s *Service) GetEvents(ctx context.Context, stationID, sourceHint string, year, month int) (*MonthEvents, error) {
	stationID = strings.TrimSpace(stationID)
	if err := adapter.ValidateMonth(year, month); err != nil {
		return nil, err
	}

	a, err := s.dispatcher.Select(stationID, sourceHint)
	if err != nil {
		return nil, err
	}
	source := a.Source()
	if !a.Validate(stationID) {
		return nil, adapter.NewInputError("station id", "not a valid "+string(source)+" station id")
	}

	result := &MonthEvents{StationID: stationID, Source: source, Year: year, Month: month}
	result.LookupCount = s.recordLookup(ctx, stationID, source)

	key := cache.EventKey(source, stationID, year, month)
	if s.cache != nil {
		if events, ok := s.cache.GetEvents(key); ok {
			log.Debug().Str("key", key).Msg("Event cache HIT")
			result.Events = events
			result.Cached = true
			return result, nil
		}
		log.Debug().Str("key", key).Msg("Event cache MISS")
	}

	parsed, err := adapter.GetPredictions(ctx, a, stationID, year, month)
	s.observe(source, err, parsed)
	if err != nil {
		log.Warn().Err(err).Str("station_id", stationID).Str("outcome", adapter.Outcome(err)).
			Int("year", year).Int("month", month).Msg("No predictions for station")
		return nil, err
	}

	result.Events = parsed.Events
	result.Skipped = parsed.Skipped
	if s.cache != nil {
		s.cache.SaveEvents(key, parsed.Events)
	}

	log.Info().Str("station_id", stationID).Str("source", string(source)).Int("events", len(parsed.Events)).
		Int("year", year).Int("month", month).Msg("Fetched predictions")
	return result, nil
}

// recordLookup never fails the request; usage counting is bookkeeping.
func (s *Service) recordLookup(ctx context.Context, stationID string, source models.Source) int {
	if s.lookups == nil {
		return 0
	}
	n, err := s.lookups.RecordLookup(ctx, stationID, source)
	if err != nil {
		log.Warn().Err(err).Str("station_id", stationID).Msg("Could not record station lookup")
		return 0
	}
	return n
}

func (s *Service) observe(source models.Source, err error, parsed *adapter.ParseResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.ProviderFetches.WithLabelValues(string(source), adapter.Outcome(err)).Inc()
	if parsed != nil && parsed.Skipped > 0 {
		s.metrics.ParseSkipped.WithLabelValues(string(source)).Add(float64(parsed.Skipped))
	}
}
