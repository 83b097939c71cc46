// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package srs

import (
	"testing"
	"time"
)

func TestNewCardStateDueImmediately(t *testing.T) {
	now := time.Now()
	s := NewCardState(now)

	if s.DueDate != now.UnixMilli() {
		t.Fatalf("DueDate: got %d, want %d", s.DueDate, now.UnixMilli())
	}
	if s.EaseFactor != 2.5 {
		t.Fatalf("EaseFactor: got %v, want 2.5", s.EaseFactor)
	}
	if s.Interval != 0 || s.Repetitions != 0 {
		t.Fatalf("fresh state should have no history: %+v", s)
	}
	if !IsDue(s, now.UnixMilli()) {
		t.Error("fresh card should be due immediately")
	}
}

func TestReviewIntervalProgression(t *testing.T) {
	now := time.Now()
	s := NewCardState(now)

	// First good review: 0 -> 1 day.
	s = Review(s, 4, now)
	if s.Interval != 1 {
		t.Fatalf("first interval: got %d, want 1", s.Interval)
	}
	if s.Repetitions != 1 {
		t.Fatalf("repetitions: got %d, want 1", s.Repetitions)
	}

	// Second good review: 1 -> 6 days.
	s = Review(s, 4, now)
	if s.Interval != 6 {
		t.Fatalf("second interval: got %d, want 6", s.Interval)
	}

	// Third: 6 * ease.
	prev := s
	s = Review(s, 4, now)
	want := int(float64(prev.Interval) * s.EaseFactor)
	if s.Interval != want {
		t.Fatalf("third interval: got %d, want %d", s.Interval, want)
	}
	if s.DueDate != now.AddDate(0, 0, s.Interval).UnixMilli() {
		t.Fatalf("due date should be %d days out", s.Interval)
	}
}

func TestReviewFailResetsStreak(t *testing.T) {
	now := time.Now()
	s := NewCardState(now)
	s = Review(s, 5, now)
	s = Review(s, 5, now)
	if s.Repetitions != 2 {
		t.Fatalf("repetitions before fail: got %d, want 2", s.Repetitions)
	}

	s = Review(s, 1, now)
	if s.Interval != 1 {
		t.Fatalf("failed interval: got %d, want 1", s.Interval)
	}
	if s.Repetitions != 0 {
		t.Fatalf("repetitions after fail: got %d, want 0", s.Repetitions)
	}
}

func TestReviewEaseClamped(t *testing.T) {
	now := time.Now()
	s := NewCardState(now)

	// Many hard failures cannot drop ease below the floor.
	for i := 0; i < 20; i++ {
		s = Review(s, 0, now)
	}
	if s.EaseFactor < 1.3 {
		t.Fatalf("ease below floor: %v", s.EaseFactor)
	}

	// Many perfect reviews cannot push ease past the cap.
	for i := 0; i < 20; i++ {
		s = Review(s, 5, now)
	}
	if s.EaseFactor > 2.5 {
		t.Fatalf("ease above cap: %v", s.EaseFactor)
	}
}

func TestReviewQualityClamped(t *testing.T) {
	now := time.Now()
	s := NewCardState(now)
	a := Review(s, -5, now)
	b := Review(s, 0, now)
	if a != b {
		t.Fatalf("quality below 0 should clamp to 0: %+v vs %+v", a, b)
	}
	c := Review(s, 99, now)
	d := Review(s, 5, now)
	if c != d {
		t.Fatalf("quality above 5 should clamp to 5: %+v vs %+v", c, d)
	}
}

func TestEffectiveDueDate(t *testing.T) {
	primary := State{DueDate: 5_000}
	if got := EffectiveDueDate(primary, nil); got != 5_000 {
		t.Fatalf("basic card: got %d, want 5000", got)
	}

	deletions := []State{{DueDate: 9_000}, {DueDate: 2_000}, {DueDate: 7_000}}
	if got := EffectiveDueDate(primary, deletions); got != 2_000 {
		t.Fatalf("cloze card should use earliest deletion: got %d, want 2000", got)
	}
}
