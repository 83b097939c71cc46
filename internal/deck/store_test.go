// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeStreaks struct {
	invalidated int
}

func (f *fakeStreaks) InvalidateStreaks(ctx context.Context) error {
	f.invalidated++
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeStreaks) {
	t.Helper()
	db := newTestDB(t)
	streaks := &fakeStreaks{}
	return NewManager(db, NewMonitor(zerolog.Nop(), 0, 0), zerolog.Nop(), streaks), streaks
}

func TestCreateCardFillsDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	card, err := m.CreateCard(ctx, &Card{Front: "hola", Back: "hello", Tags: []string{"spanish"}})
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	if card.ID == "" {
		t.Error("id should be generated")
	}
	if card.Type != CardTypeBasic {
		t.Errorf("type should default to basic, got %s", card.Type)
	}
	if card.CreatedAt == 0 || card.ModifiedAt == 0 {
		t.Error("timestamps should be stamped")
	}
	if card.Algorithm.DueDate == 0 || card.Algorithm.EaseFactor != 2.5 {
		t.Errorf("scheduling state should be initialized: %+v", card.Algorithm)
	}

	// The referenced tag was created alongside.
	tag, err := m.GetTagByName(ctx, "spanish")
	if err != nil {
		t.Fatalf("tag should exist after card creation: %v", err)
	}
	if tag.Color == "" {
		t.Error("auto-created tag should get a palette color")
	}
}

func TestEnsureTagsExistIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.EnsureTagsExist(ctx, []string{"a", "b", "A", " "}); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureTagsExist(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	tags, err := m.ListTags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags: got %d, want 2 (names are case-insensitive, blanks skipped)", len(tags))
	}
}

func TestUpdateCardPatch(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	card, err := m.CreateCard(ctx, &Card{Front: "q", Back: "a"})
	if err != nil {
		t.Fatal(err)
	}
	before := card.ModifiedAt

	newBack := "a better answer"
	newTags := []string{"new-tag"}
	time.Sleep(2 * time.Millisecond)
	updated, err := m.UpdateCard(ctx, card.ID, &CardPatch{Back: &newBack, Tags: &newTags})
	if err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	if updated.Back != newBack {
		t.Errorf("Back: got %q", updated.Back)
	}
	if updated.Front != "q" {
		t.Errorf("unpatched field changed: %q", updated.Front)
	}
	if updated.ModifiedAt <= before {
		t.Error("ModifiedAt should advance")
	}
	if _, err := m.GetTagByName(ctx, "new-tag"); err != nil {
		t.Fatalf("patched-in tag should exist: %v", err)
	}

	if _, err := m.UpdateCard(ctx, "nope", &CardPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("updating a missing card: got %v, want ErrNotFound", err)
	}
}

func TestDeleteTagStripsCards(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	c1, _ := m.CreateCard(ctx, &Card{Front: "q1", Back: "a1", Tags: []string{"doomed", "keep"}})
	c2, _ := m.CreateCard(ctx, &Card{Front: "q2", Back: "a2", Tags: []string{"doomed"}})
	if err := m.SetActiveTags(ctx, []string{"doomed", "keep"}); err != nil {
		t.Fatal(err)
	}

	tag, err := m.GetTagByName(ctx, "doomed")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteTag(ctx, tag.ID); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}

	got1, _ := m.GetCard(ctx, c1.ID)
	if len(got1.Tags) != 1 || got1.Tags[0] != "keep" {
		t.Fatalf("card 1 tags after delete: %v", got1.Tags)
	}
	got2, _ := m.GetCard(ctx, c2.ID)
	if len(got2.Tags) != 0 {
		t.Fatalf("card 2 tags after delete: %v", got2.Tags)
	}
	active, _ := m.GetActiveTags(ctx)
	if len(active) != 1 || active[0] != "keep" {
		t.Fatalf("active tags after delete: %v", active)
	}
}

func TestRenameTagPropagates(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	card, _ := m.CreateCard(ctx, &Card{Front: "q", Back: "a", Tags: []string{"old-name"}})
	if err := m.AddActiveTag(ctx, "old-name"); err != nil {
		t.Fatal(err)
	}
	tag, _ := m.GetTagByName(ctx, "old-name")

	if _, err := m.UpdateTag(ctx, tag.ID, "new-name", ""); err != nil {
		t.Fatalf("UpdateTag: %v", err)
	}

	got, _ := m.GetCard(ctx, card.ID)
	if len(got.Tags) != 1 || got.Tags[0] != "new-name" {
		t.Fatalf("card tags after rename: %v", got.Tags)
	}
	active, _ := m.GetActiveTags(ctx)
	if len(active) != 1 || active[0] != "new-name" {
		t.Fatalf("active tags after rename: %v", active)
	}
	ids, _ := m.db.GetCardIDsByTag(ctx, "new-name")
	if len(ids) != 1 {
		t.Fatalf("index after rename: %v", ids)
	}
}

func TestPagination(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		c := testCard(fmt.Sprintf("card-%03d", i), fmt.Sprintf("front %03d", i), "back")
		c.CreatedAt = int64(1000 + i)
		c.ModifiedAt = c.CreatedAt
		if err := m.db.PutCard(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	page, err := m.GetCardsPaginated(ctx, PageQuery{Page: 3, Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalCards != 120 || page.TotalPages != 3 {
		t.Fatalf("totals: %d cards, %d pages", page.TotalCards, page.TotalPages)
	}
	if len(page.Cards) != 20 {
		t.Fatalf("last page: got %d cards, want 20", len(page.Cards))
	}
	if page.Cards[0].ID != "card-100" {
		t.Fatalf("page 3 should start at card-100, got %s", page.Cards[0].ID)
	}

	// Past the end: clamps to the last page instead of reporting a page
	// that does not exist.
	page, _ = m.GetCardsPaginated(ctx, PageQuery{Page: 9, Limit: 50})
	if page.Page != 3 || page.TotalCards != 120 {
		t.Fatalf("overshoot should clamp to the last page: page %d, total %d", page.Page, page.TotalCards)
	}
	if len(page.Cards) != 20 || page.Cards[0].ID != "card-100" {
		t.Fatalf("clamped page should be the last page's cards: %d cards, first %s",
			len(page.Cards), page.Cards[0].ID)
	}
}

func TestPaginationSearchSortFilter(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a := testCard("a", "Alpha particle", "physics answer", "physics")
	a.CreatedAt = 1
	b := testCard("b", "Beta decay", "more PHYSICS", "physics")
	b.CreatedAt = 2
	c := testCard("c", "Casa", "house", "spanish")
	c.CreatedAt = 3
	d := testCard("d", "Mesa", "table", "Spanish-Vocab")
	d.CreatedAt = 4
	for _, card := range []*Card{a, b, c, d} {
		if err := m.db.PutCard(ctx, card); err != nil {
			t.Fatal(err)
		}
	}

	page, err := m.GetCardsPaginated(ctx, PageQuery{Search: "physics"})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalCards != 2 {
		t.Fatalf("search should match front and back case-insensitively: %d", page.TotalCards)
	}

	// Search also reaches tag names, as a substring.
	page, _ = m.GetCardsPaginated(ctx, PageQuery{Search: "vocab"})
	if page.TotalCards != 1 || page.Cards[0].ID != "d" {
		t.Fatalf("search should match tag substrings: %v", cardIDs(page.Cards))
	}

	page, _ = m.GetCardsPaginated(ctx, PageQuery{Tag: "SPANISH"})
	if page.TotalCards != 1 || page.Cards[0].ID != "c" {
		t.Fatalf("tag filter matches whole names only: %v", cardIDs(page.Cards))
	}

	page, _ = m.GetCardsPaginated(ctx, PageQuery{SortBy: "front", SortOrder: "desc"})
	if page.Cards[0].ID != "d" {
		t.Fatalf("front desc should start with Mesa, got %s", page.Cards[0].ID)
	}
}

func TestGlobalSettingsDefaultsAndPatch(t *testing.T) {
	m, streaks := newTestManager(t)
	ctx := context.Background()

	s, err := m.GetGlobalSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	def := defaultSettings()
	if *s != def {
		t.Fatalf("unset settings should be defaults: %+v", s)
	}

	theme := "dark"
	if _, err := m.UpdateGlobalSettings(ctx, &SettingsPatch{Theme: &theme}); err != nil {
		t.Fatal(err)
	}
	if streaks.invalidated != 0 {
		t.Fatal("theme change should not invalidate streaks")
	}

	goal := 50
	updated, err := m.UpdateGlobalSettings(ctx, &SettingsPatch{DailyGoal: &goal})
	if err != nil {
		t.Fatal(err)
	}
	if updated.DailyGoal != 50 || updated.Theme != "dark" {
		t.Fatalf("merged settings: %+v", updated)
	}
	if streaks.invalidated != 1 {
		t.Fatalf("daily goal change should invalidate streaks once, got %d", streaks.invalidated)
	}

	// Same goal again: no change, no invalidation.
	if _, err := m.UpdateGlobalSettings(ctx, &SettingsPatch{DailyGoal: &goal}); err != nil {
		t.Fatal(err)
	}
	if streaks.invalidated != 1 {
		t.Fatalf("unchanged goal should not invalidate, got %d", streaks.invalidated)
	}
}

func TestRecordReviewReschedulesAndLogs(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	card, _ := m.CreateCard(ctx, &Card{Front: "q", Back: "a"})

	updated, err := m.RecordReview(ctx, card.ID, -1, DifficultyGood, 1200)
	if err != nil {
		t.Fatalf("RecordReview: %v", err)
	}
	if updated.Algorithm.Interval != 1 {
		t.Fatalf("first review interval: got %d, want 1", updated.Algorithm.Interval)
	}
	if updated.Algorithm.DueDate <= card.CreatedAt {
		t.Fatal("due date should move into the future")
	}

	responses, err := m.ListResponses(ctx, card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != 1 {
		t.Fatalf("responses: got %d, want 1", len(responses))
	}
	if responses[0].Difficulty != DifficultyGood || !responses[0].Correct {
		t.Fatalf("response record: %+v", responses[0])
	}

	if _, err := m.RecordReview(ctx, card.ID, -1, "impossible", 0); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("unknown difficulty: got %v, want ErrInvalidRecord", err)
	}
}

func TestUpdateStatsCensus(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.CreateCard(ctx, &Card{Front: "q", Back: "a", Tags: []string{"t"}})

	stats, err := m.UpdateStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CardCount != 1 || stats.TagCount != 1 {
		t.Fatalf("census: %+v", stats)
	}
	if stats.EstimatedBytes <= 0 {
		t.Fatal("estimate should be positive")
	}

	persisted, err := m.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.CardCount != 1 {
		t.Fatalf("persisted census: %+v", persisted)
	}
}

func TestUpdateStatsWithoutMonitor(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db, nil, zerolog.Nop(), nil)
	ctx := context.Background()

	if err := db.PutCard(ctx, testCard("c1", "q", "a")); err != nil {
		t.Fatal(err)
	}

	stats, err := m.UpdateStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CardCount != 1 {
		t.Fatalf("census without monitor: %+v", stats)
	}
}
