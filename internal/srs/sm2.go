// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package srs implements the SM-2 spaced-repetition schedule.
//
// The storage core treats this package as a collaborator: it only asks for a
// fresh state when a card is created and for the effective due date when
// sorting or filtering. All scheduling math lives here.
package srs

import "time"

const (
	initialEase = 2.5
	minEase     = 1.3
	maxEase     = 2.5
)

// State is the per-card (or per-cloze-deletion) scheduling state. Due dates
// are Unix milliseconds so they round-trip through JSON without precision
// games.
type State struct {
	Interval    int     `json:"interval" yaml:"interval"` // days until next review
	EaseFactor  float64 `json:"easeFactor" yaml:"easeFactor"`
	Repetitions int     `json:"repetitions" yaml:"repetitions"`
	DueDate     int64   `json:"dueDate" yaml:"dueDate"` // unix ms
}

// NewCardState returns the state for a freshly created card: due immediately,
// default ease, no history.
func NewCardState(now time.Time) State {
	return State{
		Interval:    0,
		EaseFactor:  initialEase,
		Repetitions: 0,
		DueDate:     now.UnixMilli(),
	}
}

// Review applies one SM-2 review with quality 0-5 (0 = blackout, 5 = perfect)
// and returns the next state.
func Review(s State, quality int, now time.Time) State {
	if quality < 0 {
		quality = 0
	}
	if quality > 5 {
		quality = 5
	}

	ease := s.EaseFactor
	if ease == 0 {
		ease = initialEase
	}
	ease += 0.1 - float64(5-quality)*(0.08+float64(5-quality)*0.02)
	if ease < minEase {
		ease = minEase
	}
	if ease > maxEase {
		ease = maxEase
	}

	var interval, reps int
	if quality < 3 {
		// Fail: back to one day, streak resets.
		interval = 1
		reps = 0
	} else {
		switch s.Interval {
		case 0:
			interval = 1
		case 1:
			interval = 6
		default:
			interval = int(float64(s.Interval) * ease)
		}
		reps = s.Repetitions + 1
	}

	return State{
		Interval:    interval,
		EaseFactor:  ease,
		Repetitions: reps,
		DueDate:     now.AddDate(0, 0, interval).UnixMilli(),
	}
}

// IsDue reports whether the state is due at the given instant.
func IsDue(s State, nowMillis int64) bool {
	return s.DueDate <= nowMillis
}

// EffectiveDueDate derives the single due date used for sorting and display.
// A basic card has exactly its own due date; a cloze card is due as soon as
// its earliest deletion is due, so its effective date is the minimum over the
// deletion states.
func EffectiveDueDate(primary State, deletions []State) int64 {
	if len(deletions) == 0 {
		return primary.DueDate
	}
	due := deletions[0].DueDate
	for _, d := range deletions[1:] {
		if d.DueDate < due {
			due = d.DueDate
		}
	}
	return due
}
