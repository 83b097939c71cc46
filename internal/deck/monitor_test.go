// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTrackCountsSlowOperations(t *testing.T) {
	m := NewMonitor(zerolog.Nop(), 100*time.Millisecond, 0)
	clock := time.Unix(0, 0)
	m.nowFn = func() time.Time { return clock }

	// Fast op: nowFn never advances.
	if err := m.Track("fast", func() error { return nil }); err != nil {
		t.Fatal(err)
	}

	// Slow op: advance the clock inside the operation.
	err := m.Track("slow", func() error {
		clock = clock.Add(250 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	total, slow := m.OperationCounts()
	if total != 2 {
		t.Fatalf("total ops: got %d, want 2", total)
	}
	if slow != 1 {
		t.Fatalf("slow ops: got %d, want 1", slow)
	}
}

func TestTrackPassesErrorThrough(t *testing.T) {
	m := NewMonitor(zerolog.Nop(), 0, 0)
	want := ErrNotFound
	if err := m.Track("op", func() error { return want }); err != want {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestConcurrentTransactionGauge(t *testing.T) {
	m := NewMonitor(zerolog.Nop(), 0, 0)

	m.txStarted()
	m.txStarted()
	m.txStarted()
	m.txFinished()

	current, peak := m.ConcurrentTransactions()
	if current != 2 {
		t.Fatalf("current: got %d, want 2", current)
	}
	if peak != 3 {
		t.Fatalf("peak: got %d, want 3", peak)
	}
}

func TestStatusBuckets(t *testing.T) {
	cases := []struct {
		percent float64
		want    UsageStatus
	}{
		{0, StatusSafe},
		{69.9, StatusSafe},
		{70, StatusWarning},
		{89.9, StatusWarning},
		{90, StatusCritical},
		{99.9, StatusCritical},
		{100, StatusExceeded},
		{150, StatusExceeded},
	}
	for _, tc := range cases {
		if got := statusForPercent(tc.percent); got != tc.want {
			t.Errorf("statusForPercent(%v): got %s, want %s", tc.percent, got, tc.want)
		}
	}
}

func TestEstimateUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.PutCard(ctx, testCard("c1", "q", "a")); err != nil {
		t.Fatal(err)
	}
	if err := db.PutTag(ctx, &Tag{ID: "t1", Name: "x", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}

	m := NewMonitor(zerolog.Nop(), 0, 3_000) // tiny quota to force a warning
	est, err := m.EstimateUsage(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if est.CardCount != 1 || est.TagCount != 1 {
		t.Fatalf("counts: %+v", est)
	}
	want := int64(estimateCardBytes + estimateTagBytes)
	if est.EstimatedBytes != want {
		t.Fatalf("estimate: got %d, want %d", est.EstimatedBytes, want)
	}
	if est.Status != StatusWarning {
		t.Fatalf("2304 of 3000 bytes is 76.8%%, want warning: %+v", est)
	}
	if est.Recommendation == "" || !strings.Contains(est.Recommendation, "KiB") {
		t.Fatalf("recommendation should name humanized sizes: %q", est.Recommendation)
	}
}
