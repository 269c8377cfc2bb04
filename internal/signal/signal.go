// Package signal defines the trading signal payload shared between intake,
// admission and execution layers.
package signal

import (
	"errors"
	"fmt"
	"time"
)

// Direction is the side of a signal.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Strength grades a signal.
type Strength string

const (
	StrengthNormal Strength = "normal"
	StrengthStrong Strength = "strong"
)

// Signal is a directional trading instruction for one ticker. Immutable once
// accepted.
type Signal struct {
	Ticker          string    `json:"ticker"`
	Direction       Direction `json:"direction"`
	Strength        Strength  `json:"strength"`
	ReceivedAt      time.Time `json:"received_at"`
	SourceTimestamp time.Time `json:"source_timestamp"`
}

// Age returns how old the signal source is relative to now.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.SourceTimestamp)
}

// Stale reports whether the signal exceeded the freshness window.
func (s Signal) Stale(now time.Time, window time.Duration) bool {
	return s.Age(now) > window
}

// Deadline is the instant after which the signal must not be executed.
func (s Signal) Deadline(window time.Duration) time.Time {
	return s.SourceTimestamp.Add(window)
}

var ErrInvalidSignal = errors.New("invalid signal")

// Validate checks structural validity; freshness is checked separately at
// admission and execution time.
func (s Signal) Validate() error {
	if s.Ticker == "" {
		return fmt.Errorf("%w: empty ticker", ErrInvalidSignal)
	}
	if s.Direction != DirectionLong && s.Direction != DirectionShort {
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	}
	if s.Strength != StrengthNormal && s.Strength != StrengthStrong {
		return fmt.Errorf("%w: strength %q", ErrInvalidSignal, s.Strength)
	}
	if s.SourceTimestamp.IsZero() {
		return fmt.Errorf("%w: missing source timestamp", ErrInvalidSignal)
	}
	return nil
}
