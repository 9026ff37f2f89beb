package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/consultly/consultly-server/cmd/models"
)

const (
	MinDuration = 30
	MaxDuration = 480
)

var ErrPastMidnight = errors.New("booking may not extend past midnight")

// parseClock turns an HH:MM string into minutes since midnight.
func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ComputeEndTime derives the end of a slot from its start and duration.
// Slots are same-day engagements: an end past midnight is rejected rather
// than rolled into the next day.
func ComputeEndTime(startTime string, duration int) (string, error) {
	start, err := parseClock(startTime)
	if err != nil {
		return "", err
	}
	end := start + duration
	if end > 23*60+59 {
		return "", ErrPastMidnight
	}
	return fmt.Sprintf("%02d:%02d", end/60, end%60), nil
}

// Overlaps reports whether two [start, end) windows intersect. Zero-padded
// HH:MM strings compare correctly as strings.
func Overlaps(aStart, aEnd, bStart, bEnd string) bool {
	return aStart < bEnd && aEnd > bStart
}

// ComputeAmount prices a booking from the consultant's hourly rate.
func ComputeAmount(hourlyRate float64, duration int) float64 {
	return hourlyRate * float64(duration) / 60
}

// CanTransition reports whether a booking may move from one status to
// another. Transitions only run forward; completed, cancelled and no-show
// are terminal.
func CanTransition(from, to string) bool {
	if models.IsTerminal(from) {
		return false
	}
	switch from {
	case models.BookingPending:
		switch to {
		case models.BookingConfirmed, models.BookingCompleted,
			models.BookingCancelled, models.BookingNoShow:
			return true
		}
	case models.BookingConfirmed:
		switch to {
		case models.BookingCompleted, models.BookingCancelled, models.BookingNoShow:
			return true
		}
	}
	return false
}
