// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(cards []*Card, tags []*Tag, domains []*Domain) *Snapshot {
	s := &Snapshot{
		Cards:   map[string]*Card{},
		Tags:    map[string]*Tag{},
		Domains: map[string]*Domain{},
	}
	for _, c := range cards {
		s.Cards[c.ID] = c
	}
	for _, t := range tags {
		s.Tags[t.ID] = t
	}
	for _, d := range domains {
		s.Domains[d.Domain] = d
	}
	return s
}

func TestDetectCardConflicts(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	existing := snapshotWith([]*Card{
		testCard("c1", "What is Go?", "A language"),
		testCard("c2", "What is Rust?", "Another language"),
	}, nil, nil)

	incoming := &ImportData{Cards: map[string]*Card{
		// Same id: duplicate_id, even though content differs.
		"c1": testCard("c1", "totally different", "content"),
		// New id, same content as c2: duplicate_content.
		"c9": testCard("c9", "What is Rust?", "Another language"),
		// Genuinely new.
		"c5": testCard("c5", "What is Zig?", "A third language"),
	}}

	conflicts := r.DetectCardConflicts(existing.Cards, incoming.Cards)
	require.Len(t, conflicts, 2)

	byID := map[string]Conflict{}
	for _, c := range conflicts {
		byID[c.IncomingID] = c
	}
	assert.Equal(t, ConflictDuplicateID, byID["c1"].Type)
	assert.Equal(t, ResolveRename, byID["c1"].Suggested)
	assert.Equal(t, ConflictDuplicateContent, byID["c9"].Type)
	assert.Equal(t, "c2", byID["c9"].ExistingID)
	assert.Equal(t, ResolveSkip, byID["c9"].Suggested)

	// Each conflict carries both records so a caller can show the choice.
	assert.Equal(t, existing.Cards["c1"], byID["c1"].Existing)
	assert.Equal(t, incoming.Cards["c1"], byID["c1"].Incoming)
	assert.Equal(t, existing.Cards["c2"], byID["c9"].Existing)
	assert.Equal(t, incoming.Cards["c9"], byID["c9"].Incoming)
}

func TestCardContentHashIgnoresScheduling(t *testing.T) {
	a := testCard("a", "front", "back")
	b := testCard("b", "front", "back", "some-tag")
	b.Algorithm.Interval = 30
	b.CreatedAt = 999

	assert.Equal(t, cardContentHash(a), cardContentHash(b),
		"tags, scheduling and timestamps must not affect the content hash")

	c := testCard("c", "front", "different back")
	assert.NotEqual(t, cardContentHash(a), cardContentHash(c))
}

func TestDetectTagConflicts(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	existing := snapshotWith(nil, []*Tag{
		{ID: "t1", Name: "Spanish", Color: "#f00"},
	}, nil)

	incoming := &ImportData{Tags: map[string]*Tag{
		"t1": {ID: "t1", Name: "Whatever", Color: "#0f0"},
		"t9": {ID: "t9", Name: "spanish", Color: "#00f"},
		"t5": {ID: "t5", Name: "French", Color: "#ff0"},
	}}

	conflicts := r.DetectTagConflicts(existing.Tags, incoming.Tags)
	require.Len(t, conflicts, 2)

	byID := map[string]Conflict{}
	for _, c := range conflicts {
		byID[c.IncomingID] = c
	}
	assert.Equal(t, ConflictDuplicateID, byID["t1"].Type)
	assert.Equal(t, ConflictNameCollision, byID["t9"].Type, "names collide case-insensitively")
	assert.Equal(t, "t1", byID["t9"].ExistingID)
	assert.Equal(t, existing.Tags["t1"], byID["t9"].Existing)
	assert.Equal(t, incoming.Tags["t9"], byID["t9"].Incoming)
}

func TestDetectSettingsAndDomainConflicts(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	existing := snapshotWith(nil, nil, []*Domain{{Domain: "news.example", Active: true}})

	incoming := &ImportData{
		Domains:  map[string]*Domain{"news.example": {Domain: "news.example", Active: false}},
		Settings: &GlobalSettings{Theme: "dark"},
	}

	conflicts := r.DetectAll(existing, incoming)
	require.Len(t, conflicts, 2)
	assert.Equal(t, CategoryDomains, conflicts[0].Category)
	assert.Equal(t, ResolveOverwrite, conflicts[0].Suggested)
	assert.Equal(t, existing.Domains["news.example"], conflicts[0].Existing)
	assert.Equal(t, incoming.Domains["news.example"], conflicts[0].Incoming)
	assert.Equal(t, CategorySettings, conflicts[1].Category)
	assert.Equal(t, ResolveOverwrite, conflicts[1].Suggested,
		"settings imports always surface as a conflict")
	assert.Equal(t, incoming.Settings, conflicts[1].Incoming)
	assert.Nil(t, conflicts[1].Existing, "no stored settings in the snapshot")
}

func TestDetectAllDeterministic(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	existing := snapshotWith(
		[]*Card{testCard("c1", "q", "a")},
		[]*Tag{{ID: "t1", Name: "x", Color: "#000"}},
		nil,
	)
	incoming := &ImportData{
		Cards:    map[string]*Card{"c1": testCard("c1", "q2", "a2"), "c2": testCard("c2", "q", "a")},
		Tags:     map[string]*Tag{"t2": {ID: "t2", Name: "X", Color: "#111"}},
		Settings: &GlobalSettings{},
	}

	first := r.DetectAll(existing, incoming)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.DetectAll(existing, incoming))
	}
}

func TestGenerateUniqueID(t *testing.T) {
	taken := map[string]bool{
		"abc_imported_1": true,
		"abc_imported_2": true,
	}
	assert.Equal(t, "abc_imported_3", GenerateUniqueID(CategoryCards, "abc", taken))
	assert.Equal(t, "name_1", GenerateUniqueID(CategoryTags, "name", nil))
	assert.Equal(t, "example.com-1", GenerateUniqueID(CategoryDomains, "example.com", nil))

	// Deterministic: same inputs, same output.
	assert.Equal(t,
		GenerateUniqueID(CategoryCards, "abc", taken),
		GenerateUniqueID(CategoryCards, "abc", taken))
}

func TestApplyStrategies(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	existing := snapshotWith(
		[]*Card{testCard("c1", "q1", "a1"), testCard("c2", "q2", "a2")},
		[]*Tag{{ID: "t1", Name: "Spanish", Color: "#f00"}},
		nil,
	)
	incoming := &ImportData{
		Cards: map[string]*Card{
			"c1": testCard("c1", "new q1", "new a1"), // duplicate_id
			"c9": testCard("c9", "q2", "a2"),         // duplicate_content
			"c5": testCard("c5", "fresh", "card"),    // clean
		},
		Tags: map[string]*Tag{
			"t9": {ID: "t9", Name: "spanish", Color: "#00f"}, // name_collision
		},
	}

	out, applied, err := r.Apply(existing, incoming, map[string]ResolutionStrategy{
		"cards/c1": ResolveRename,
		"cards/c9": ResolveSkip,
		"tags/t9":  ResolveRename,
	})
	require.NoError(t, err)
	require.Len(t, applied, 3)

	// c1 was renamed and kept both versions' ids distinct.
	assert.NotContains(t, out.Cards, "c1")
	renamed, ok := out.Cards["c1_imported_1"]
	require.True(t, ok, "renamed card should use the _imported suffix: %v", out.Cards)
	assert.Equal(t, "new q1", renamed.Front)

	// c9 was skipped, c5 untouched.
	assert.NotContains(t, out.Cards, "c9")
	assert.Contains(t, out.Cards, "c5")

	// The colliding tag name got a suffix.
	tag, ok := out.Tags["t9"]
	require.True(t, ok)
	assert.Equal(t, "spanish_1", tag.Name)

	// The input payload was not mutated.
	assert.Contains(t, incoming.Cards, "c1")
	assert.Contains(t, incoming.Cards, "c9")
	assert.Equal(t, "spanish", incoming.Tags["t9"].Name)
}

func TestApplyDomainRenameDegradesToOverwrite(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	existing := snapshotWith(nil, nil, []*Domain{{Domain: "example.com", Active: true, CooldownMinutes: 10}})
	incoming := &ImportData{Domains: map[string]*Domain{
		"example.com": {Domain: "example.com", Active: false, CooldownMinutes: 99},
	}}

	out, applied, err := r.Apply(existing, incoming, map[string]ResolutionStrategy{
		"domains/example.com": ResolveRename,
	})
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, ResolveOverwrite, applied[0].Strategy, "domain rename makes no sense and degrades")
	assert.Equal(t, 99, out.Domains["example.com"].CooldownMinutes)
}

func TestApplyDefaultsToSuggested(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	existing := snapshotWith([]*Card{testCard("c2", "q2", "a2")}, nil, nil)
	incoming := &ImportData{Cards: map[string]*Card{
		"c9": testCard("c9", "q2", "a2"),
	}}

	out, applied, err := r.Apply(existing, incoming, nil)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, ResolveSkip, applied[0].Strategy, "content duplicates default to skip")
	assert.Empty(t, out.Cards)
}
