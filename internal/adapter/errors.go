package adapter

import (
	"errors"
	"fmt"

	"github.com/bbernstein/tidecal/internal/models"
)

// ErrNoData means the provider answered but there were no usable events for
// the station and period.
var ErrNoData = errors.New("no tide data for this station and period")

// InputError is a malformed request that is never sent to a provider.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewInputError(field, message string) *InputError {
	return &InputError{Field: field, Message: message}
}

// UnknownStationError means no provider recognizes the identifier, or a
// station code could not be resolved. Retrying will not help.
type UnknownStationError struct {
	StationID string
	Reason    string
	Err       error
}

func (e *UnknownStationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unknown station %q: %s: %v", e.StationID, e.Reason, e.Err)
	}
	return fmt.Sprintf("unknown station %q: %s", e.StationID, e.Reason)
}

func (e *UnknownStationError) Unwrap() error {
	return e.Err
}

func NewUnknownStationError(stationID, reason string, err error) *UnknownStationError {
	return &UnknownStationError{StationID: stationID, Reason: reason, Err: err}
}

// UnavailableError is a transport fault, timeout, or non-success status.
type UnavailableError struct {
	Source     models.Source
	Message    string
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("%s API unavailable: %s", e.Source, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func NewUnavailableError(source models.Source, message string, statusCode int, err error) *UnavailableError {
	return &UnavailableError{Source: source, Message: message, StatusCode: statusCode, Err: err}
}

func noData(reason string) error {
	return fmt.Errorf("%w: %s", ErrNoData, reason)
}

// Outcome classifies err into a short label for logs and metrics.
func Outcome(err error) string {
	var (
		inputErr   *InputError
		unknownErr *UnknownStationError
		unavailErr *UnavailableError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.As(err, &inputErr):
		return "invalid_input"
	case errors.As(err, &unknownErr):
		return "unknown_station"
	case errors.As(err, &unavailErr):
		return "unavailable"
	default:
		return "error"
	}
}
