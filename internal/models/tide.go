package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type TideType string

const (
	TideTypeHigh TideType = "HIGH"
	TideTypeLow  TideType = "LOW"
)

// EventTimeLayout is the civil layout every adapter normalizes to.
const EventTimeLayout = "2006-01-02 15:04"

// Label returns the word used in listings.
func (t TideType) Label() string {
	if t == TideTypeHigh {
		return "High"
	}
	return "Low"
}

// TideEvent is a single high or low water prediction. Time is the provider's
// civil date-time, kept exactly as received apart from layout normalization.
type TideEvent struct {
	Time   string   `json:"time"`
	Height float64  `json:"height"`
	Type   TideType `json:"type"`
}

// DisplayHeight rounds to one decimal for human-facing output.
func (e TideEvent) DisplayHeight() float64 {
	return math.Round(e.Height*10) / 10
}

// Date returns the date portion of Time.
func (e TideEvent) Date() string {
	date, _, _ := strings.Cut(e.Time, " ")
	return date
}

// Clock returns the HH:MM portion of Time.
func (e TideEvent) Clock() string {
	_, clock, _ := strings.Cut(e.Time, " ")
	return clock
}

// Civil parses Time without applying any zone.
func (e TideEvent) Civil() (time.Time, error) {
	return time.Parse(EventTimeLayout, e.Time)
}

func (e TideEvent) Validate() error {
	if e.Time == "" {
		return fmt.Errorf("event time is required")
	}
	if _, err := e.Civil(); err != nil {
		return fmt.Errorf("invalid event time %q: %w", e.Time, err)
	}
	if e.Type != TideTypeHigh && e.Type != TideTypeLow {
		return fmt.Errorf("invalid tide type %q", e.Type)
	}
	if math.IsNaN(e.Height) || math.IsInf(e.Height, 0) {
		return fmt.Errorf("invalid height %v", e.Height)
	}
	return nil
}
