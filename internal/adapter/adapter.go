package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/bbernstein/tidecal/internal/models"
)

const (
	MinYear = 2000
	MaxYear = 2030
)

// Adapter hides one provider's identifier format, request shape and payload format.
type Adapter interface {
	Source() models.Source
	// Validate reports whether id has this provider's identifier shape.
	Validate(id string) bool
	// Fetch issues the request(s) for one calendar month and returns the raw payload.
	Fetch(ctx context.Context, id string, year, month int) ([]byte, error)
	// Parse turns a raw payload into events, or ErrNoData.
	Parse(raw []byte) (*ParseResult, error)
}

// ParseResult carries the events plus the number of malformed records skipped.
type ParseResult struct {
	Events  []models.TideEvent
	Skipped int
}

// GetPredictions fetches and parses one month with a.
func GetPredictions(ctx context.Context, a Adapter, id string, year, month int) (*ParseResult, error) {
	raw, err := a.Fetch(ctx, id, year, month)
	if err != nil {
		return nil, err
	}
	return a.Parse(raw)
}

// ValidateMonth rejects periods outside the supported range.
func ValidateMonth(year, month int) error {
	if month < 1 || month > 12 {
		return NewInputError("month", fmt.Sprintf("%d is not between 1 and 12", month))
	}
	if year < MinYear || year > MaxYear {
		return NewInputError("year", fmt.Sprintf("%d is not between %d and %d", year, MinYear, MaxYear))
	}
	return nil
}

// monthBounds returns the first day and last day of the month.
func monthBounds(year, month int) (time.Time, time.Time) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first, last
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
