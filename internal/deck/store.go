// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mtreilly/arc-recall/internal/srs"
)

// tagPalette seeds colors for tags created implicitly through
// EnsureTagsExist. Explicitly created tags carry whatever color the caller
// chose.
var tagPalette = []string{
	"#ef4444", "#f97316", "#eab308", "#22c55e",
	"#06b6d4", "#3b82f6", "#8b5cf6", "#ec4899",
}

// StreakInvalidator is notified when the daily goal changes, since streaks
// computed against the old goal are no longer meaningful.
type StreakInvalidator interface {
	InvalidateStreaks(ctx context.Context) error
}

// Manager is the high-level storage API: typed operations over cards, tags,
// domains, settings and review history, with cross-entity invariants (tag
// referential integrity, the settings singleton) enforced here rather than in
// the access layer.
type Manager struct {
	db      *DB
	monitor *Monitor
	log     zerolog.Logger
	streaks StreakInvalidator
	nowFn   func() time.Time
}

// NewManager wires a manager over an initialized database. monitor and
// streaks may be nil.
func NewManager(db *DB, monitor *Monitor, logger zerolog.Logger, streaks StreakInvalidator) *Manager {
	return &Manager{
		db:      db,
		monitor: monitor,
		log:     logger,
		streaks: streaks,
		nowFn:   time.Now,
	}
}

func (m *Manager) track(op string, fn func() error) error {
	if m.monitor == nil {
		return fn()
	}
	return m.monitor.Track(op, fn)
}

// --- cards ------------------------------------------------------------------

// CreateCard persists a new card, assigning id, timestamps and fresh
// scheduling state where the caller left them empty, and creating any tags
// the card references that do not exist yet.
func (m *Manager) CreateCard(ctx context.Context, c *Card) (*Card, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil card", ErrInvalidRecord)
	}
	now := m.nowFn()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Type == "" {
		c.Type = CardTypeBasic
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = now.UnixMilli()
	}
	c.ModifiedAt = now.UnixMilli()
	if c.Algorithm.DueDate == 0 {
		c.Algorithm = srs.NewCardState(now)
	}
	for i := range c.Deletions {
		if c.Deletions[i].Algorithm.DueDate == 0 {
			c.Deletions[i].Algorithm = srs.NewCardState(now)
		}
	}
	err := m.track("card.create", func() error {
		if err := m.EnsureTagsExist(ctx, c.Tags); err != nil {
			return err
		}
		return m.db.PutCard(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	m.log.Debug().Str("card", c.ID).Str("type", string(c.Type)).Msg("card created")
	return c, nil
}

// UpdateCard applies a partial update and bumps the modified timestamp. New
// tag references are created on the fly.
func (m *Manager) UpdateCard(ctx context.Context, id string, patch *CardPatch) (*Card, error) {
	var updated *Card
	err := m.track("card.update", func() error {
		c, err := m.db.GetCard(ctx, id)
		if err != nil {
			return err
		}
		if patch != nil {
			if patch.Type != nil {
				c.Type = *patch.Type
			}
			if patch.Front != nil {
				c.Front = *patch.Front
			}
			if patch.Back != nil {
				c.Back = *patch.Back
			}
			if patch.Tags != nil {
				c.Tags = append([]string(nil), (*patch.Tags)...)
				if err := m.EnsureTagsExist(ctx, c.Tags); err != nil {
					return err
				}
			}
			if patch.Draft != nil {
				c.Draft = *patch.Draft
			}
			if patch.SourceText != nil {
				c.SourceText = *patch.SourceText
			}
			if patch.Deletions != nil {
				c.Deletions = append([]ClozeDeletion(nil), (*patch.Deletions)...)
			}
			if patch.Algorithm != nil {
				c.Algorithm = *patch.Algorithm
			}
		}
		c.ModifiedAt = m.nowFn().UnixMilli()
		if err := m.db.PutCard(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	return updated, err
}

// DeleteCard removes a card. The card's review history is retained.
func (m *Manager) DeleteCard(ctx context.Context, id string) error {
	return m.track("card.delete", func() error {
		return m.db.DeleteCard(ctx, id)
	})
}

// GetCard returns one card or ErrNotFound.
func (m *Manager) GetCard(ctx context.Context, id string) (*Card, error) {
	return m.db.GetCard(ctx, id)
}

// ListCards returns every card ordered by creation time.
func (m *Manager) ListCards(ctx context.Context) ([]*Card, error) {
	return m.db.GetAllCards(ctx)
}

// CountCards returns the number of stored cards.
func (m *Manager) CountCards(ctx context.Context) (int, error) {
	return m.db.CountCards(ctx)
}

// GetDueCards returns up to limit due, non-draft cards for a review session,
// scoped by the given tags (all cards when empty) and skipping ids already
// shown this session.
func (m *Manager) GetDueCards(ctx context.Context, tags, exclude []string, limit int) ([]*Card, error) {
	return m.db.GetDueCardsByTags(ctx, tags, exclude, limit, m.nowFn().UnixMilli())
}

// PageQuery selects and orders one page of cards.
type PageQuery struct {
	Page      int    // 1-based; clamped into [1, TotalPages]
	Limit     int    // page size; values < 1 mean 50
	Search    string // case-insensitive substring over front, back and tag names
	Tag       string // only cards carrying this tag
	SortBy    string // "created", "modified", "due" or "front"; default "created"
	SortOrder string // "asc" or "desc"; default "asc"
}

// CardPage is one page of results plus the totals the pager needs.
type CardPage struct {
	Cards      []*Card `json:"cards"`
	Page       int     `json:"page"`
	TotalCards int     `json:"totalCards"`
	TotalPages int     `json:"totalPages"`
}

// GetCardsPaginated filters, sorts and pages the card set. Filtering happens
// over the decoded payloads; the set is client-scale by design.
func (m *Manager) GetCardsPaginated(ctx context.Context, q PageQuery) (*CardPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 50
	}

	all, err := m.db.GetAllCards(ctx)
	if err != nil {
		return nil, err
	}

	filtered := all[:0:0]
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	for _, c := range all {
		if needle != "" &&
			!strings.Contains(strings.ToLower(c.Front), needle) &&
			!strings.Contains(strings.ToLower(c.Back), needle) &&
			!tagsContainFold(c.Tags, needle) {
			continue
		}
		if q.Tag != "" && !hasTagFold(c.Tags, q.Tag) {
			continue
		}
		filtered = append(filtered, c)
	}

	less := cardLess(q.SortBy)
	sort.SliceStable(filtered, func(i, j int) bool {
		if strings.EqualFold(q.SortOrder, "desc") {
			return less(filtered[j], filtered[i])
		}
		return less(filtered[i], filtered[j])
	})

	total := len(filtered)
	pages := (total + q.Limit - 1) / q.Limit
	if pages == 0 {
		pages = 1
	}
	if q.Page > pages {
		q.Page = pages
	}
	start := (q.Page - 1) * q.Limit
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	return &CardPage{
		Cards:      filtered[start:end],
		Page:       q.Page,
		TotalCards: total,
		TotalPages: pages,
	}, nil
}

func cardLess(sortBy string) func(a, b *Card) bool {
	switch sortBy {
	case "modified":
		return func(a, b *Card) bool { return a.ModifiedAt < b.ModifiedAt }
	case "due":
		return func(a, b *Card) bool { return a.EffectiveDueDate() < b.EffectiveDueDate() }
	case "front":
		return func(a, b *Card) bool {
			return strings.ToLower(a.Front) < strings.ToLower(b.Front)
		}
	default: // created
		return func(a, b *Card) bool { return a.CreatedAt < b.CreatedAt }
	}
}

func hasTagFold(tags []string, name string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

func tagsContainFold(tags []string, needle string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// --- tags -------------------------------------------------------------------

// EnsureTagsExist creates a Tag record for every referenced name that has no
// record yet, matching existing names case-insensitively. Idempotent: calling
// it twice with the same names creates nothing on the second pass.
func (m *Manager) EnsureTagsExist(ctx context.Context, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		_, err := m.db.GetTagByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		t := &Tag{
			ID:        uuid.NewString(),
			Name:      name,
			Color:     tagPalette[hashString(name)%len(tagPalette)],
			CreatedAt: m.nowFn().UnixMilli(),
		}
		if err := m.db.PutTag(ctx, t); err != nil {
			// Lost a race with a concurrent creator; the reference is valid
			// either way.
			if errors.Is(err, ErrDuplicateName) {
				continue
			}
			return err
		}
		m.log.Debug().Str("tag", name).Msg("tag auto-created")
	}
	return nil
}

// CreateTag persists an explicitly authored tag. Name collisions
// (case-insensitive) fail with ErrDuplicateName.
func (m *Manager) CreateTag(ctx context.Context, name, color string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tag requires a name", ErrInvalidRecord)
	}
	if color == "" {
		color = tagPalette[hashString(name)%len(tagPalette)]
	}
	t := &Tag{
		ID:        uuid.NewString(),
		Name:      name,
		Color:     color,
		CreatedAt: m.nowFn().UnixMilli(),
	}
	if err := m.track("tag.create", func() error { return m.db.PutTag(ctx, t) }); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTag renames and/or recolors a tag. A rename rewrites the tag name on
// every card carrying it and in the active set, keeping the by-name
// references coherent.
func (m *Manager) UpdateTag(ctx context.Context, id, newName, newColor string) (*Tag, error) {
	var updated *Tag
	err := m.track("tag.update", func() error {
		t, err := m.db.GetTag(ctx, id)
		if err != nil {
			return err
		}
		oldName := t.Name
		if newName = strings.TrimSpace(newName); newName != "" {
			t.Name = newName
		}
		if newColor != "" {
			t.Color = newColor
		}
		if err := m.db.PutTag(ctx, t); err != nil {
			return err
		}
		if t.Name != oldName {
			if err := m.retagCards(ctx, oldName, t.Name); err != nil {
				return err
			}
			if err := m.retagActive(ctx, oldName, t.Name); err != nil {
				return err
			}
		}
		updated = t
		return nil
	})
	return updated, err
}

// DeleteTag removes the tag and strips its name from every card and from the
// active set, so no card is left referencing a tag that does not exist.
func (m *Manager) DeleteTag(ctx context.Context, id string) error {
	return m.track("tag.delete", func() error {
		t, err := m.db.GetTag(ctx, id)
		if err != nil {
			return err
		}
		if err := m.retagCards(ctx, t.Name, ""); err != nil {
			return err
		}
		if err := m.db.RemoveActiveTag(ctx, t.Name); err != nil {
			return err
		}
		return m.db.DeleteTag(ctx, id)
	})
}

// retagCards rewrites oldName to newName on every card carrying it; an empty
// newName strips the tag instead.
func (m *Manager) retagCards(ctx context.Context, oldName, newName string) error {
	ids, err := m.db.GetCardIDsByTag(ctx, oldName)
	if err != nil {
		return err
	}
	now := m.nowFn().UnixMilli()
	for _, id := range ids {
		c, err := m.db.GetCard(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		tags := c.Tags[:0:0]
		for _, name := range c.Tags {
			if strings.EqualFold(name, oldName) {
				if newName != "" && !hasTagFold(tags, newName) {
					tags = append(tags, newName)
				}
				continue
			}
			tags = append(tags, name)
		}
		c.Tags = tags
		c.ModifiedAt = now
		if err := m.db.PutCard(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) retagActive(ctx context.Context, oldName, newName string) error {
	active, err := m.db.GetActiveTags(ctx)
	if err != nil {
		return err
	}
	for _, name := range active {
		if strings.EqualFold(name, oldName) {
			if err := m.db.RemoveActiveTag(ctx, oldName); err != nil {
				return err
			}
			return m.db.AddActiveTag(ctx, newName)
		}
	}
	return nil
}

// GetTag returns one tag by id.
func (m *Manager) GetTag(ctx context.Context, id string) (*Tag, error) {
	return m.db.GetTag(ctx, id)
}

// GetTagByName matches case-insensitively.
func (m *Manager) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	return m.db.GetTagByName(ctx, name)
}

// ListTags returns every tag sorted by name.
func (m *Manager) ListTags(ctx context.Context) ([]*Tag, error) {
	return m.db.GetAllTags(ctx)
}

// CountCardsByTag returns how many cards carry the tag.
func (m *Manager) CountCardsByTag(ctx context.Context, name string) (int, error) {
	ids, err := m.db.GetCardIDsByTag(ctx, name)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// --- active tags ------------------------------------------------------------

// SetActiveTags overwrites the session-scoping tag set.
func (m *Manager) SetActiveTags(ctx context.Context, names []string) error {
	return m.track("activeTags.set", func() error {
		return m.db.ReplaceActiveTags(ctx, names)
	})
}

// AddActiveTag adds one name to the active set; already-active names are a
// no-op.
func (m *Manager) AddActiveTag(ctx context.Context, name string) error {
	return m.db.AddActiveTag(ctx, name)
}

// RemoveActiveTag removes one name; absent names are a no-op.
func (m *Manager) RemoveActiveTag(ctx context.Context, name string) error {
	return m.db.RemoveActiveTag(ctx, name)
}

// GetActiveTags returns the active set sorted alphabetically.
func (m *Manager) GetActiveTags(ctx context.Context) ([]string, error) {
	return m.db.GetActiveTags(ctx)
}

// --- domains ----------------------------------------------------------------

// SetDomain creates or replaces a blocking rule, filling defaults and
// timestamps.
func (m *Manager) SetDomain(ctx context.Context, d *Domain) (*Domain, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil domain", ErrInvalidRecord)
	}
	now := m.nowFn().UnixMilli()
	if d.CooldownMinutes == 0 {
		d.CooldownMinutes = DefaultDomainCooldownMinutes
	}
	if d.CreatedAt == 0 {
		if existing, err := m.db.GetDomain(ctx, d.Domain); err == nil {
			d.CreatedAt = existing.CreatedAt
		} else {
			d.CreatedAt = now
		}
	}
	d.ModifiedAt = now
	if err := m.track("domain.set", func() error { return m.db.PutDomain(ctx, d) }); err != nil {
		return nil, err
	}
	return d, nil
}

// MarkDomainUnblocked stamps the unblock time, starting the rule's cooldown
// window.
func (m *Manager) MarkDomainUnblocked(ctx context.Context, domain string) (*Domain, error) {
	d, err := m.db.GetDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	d.LastUnblockedAt = m.nowFn().UnixMilli()
	d.ModifiedAt = d.LastUnblockedAt
	if err := m.db.PutDomain(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDomain returns one rule or ErrNotFound.
func (m *Manager) GetDomain(ctx context.Context, domain string) (*Domain, error) {
	return m.db.GetDomain(ctx, domain)
}

// RemoveDomain deletes a rule; absent rules are a no-op.
func (m *Manager) RemoveDomain(ctx context.Context, domain string) error {
	return m.track("domain.remove", func() error {
		return m.db.DeleteDomain(ctx, domain)
	})
}

// ListDomains returns every rule, or only active ones.
func (m *Manager) ListDomains(ctx context.Context, activeOnly bool) ([]*Domain, error) {
	return m.db.GetAllDomains(ctx, activeOnly)
}

// --- settings ---------------------------------------------------------------

// GetGlobalSettings always returns a complete record: missing rows and
// missing fields decode to defaults.
func (m *Manager) GetGlobalSettings(ctx context.Context) (*GlobalSettings, error) {
	raw, err := m.db.GetRawSettings(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s := defaultSettings()
			return &s, nil
		}
		return nil, err
	}
	return decodeSettingsWithDefaults(raw)
}

// UpdateGlobalSettings merges the patch into the stored record. A changed
// daily goal invalidates derived streak data.
func (m *Manager) UpdateGlobalSettings(ctx context.Context, patch *SettingsPatch) (*GlobalSettings, error) {
	var merged *GlobalSettings
	err := m.track("settings.update", func() error {
		s, err := m.GetGlobalSettings(ctx)
		if err != nil {
			return err
		}
		goalChanged := mergeSettingsPatch(s, patch)
		if err := m.db.PutSettings(ctx, s); err != nil {
			return err
		}
		if goalChanged && m.streaks != nil {
			if err := m.streaks.InvalidateStreaks(ctx); err != nil {
				return err
			}
			m.log.Info().Int("dailyGoal", s.DailyGoal).Msg("daily goal changed, streaks invalidated")
		}
		merged = s
		return nil
	})
	return merged, err
}

// --- responses and review ---------------------------------------------------

// difficultyQuality maps the four answer buttons onto SM-2 quality.
var difficultyQuality = map[ResponseDifficulty]int{
	DifficultyAgain: 1,
	DifficultyHard:  3,
	DifficultyGood:  4,
	DifficultyEasy:  5,
}

// RecordReview applies one review answer: it reschedules the card (or the
// given cloze deletion), appends an immutable response record and returns the
// rescheduled card.
func (m *Manager) RecordReview(ctx context.Context, cardID string, deletionIndex int, difficulty ResponseDifficulty, responseTimeMs int64) (*Card, error) {
	quality, ok := difficultyQuality[difficulty]
	if !ok {
		return nil, fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRecord, difficulty)
	}
	now := m.nowFn()
	var card *Card
	err := m.track("review.record", func() error {
		c, err := m.db.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		if c.Type == CardTypeCloze && deletionIndex >= 0 {
			found := false
			for i := range c.Deletions {
				if c.Deletions[i].Index == deletionIndex {
					c.Deletions[i].Algorithm = srs.Review(c.Deletions[i].Algorithm, quality, now)
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: card %s has no deletion %d", ErrInvalidRecord, cardID, deletionIndex)
			}
		} else {
			c.Algorithm = srs.Review(c.Algorithm, quality, now)
		}
		c.ModifiedAt = now.UnixMilli()
		if err := m.db.PutCard(ctx, c); err != nil {
			return err
		}
		resp := &CardResponse{
			ID:             uuid.NewString(),
			CardID:         cardID,
			AnsweredAt:     now.UnixMilli(),
			Difficulty:     difficulty,
			ResponseTimeMs: responseTimeMs,
			Correct:        quality >= 3,
		}
		if err := m.db.PutResponse(ctx, resp); err != nil {
			return err
		}
		card = c
		return nil
	})
	return card, err
}

// RecordResponse appends a response without rescheduling (used by imports of
// external history).
func (m *Manager) RecordResponse(ctx context.Context, r *CardResponse) error {
	if r != nil && r.ID == "" {
		r.ID = uuid.NewString()
	}
	return m.db.PutResponse(ctx, r)
}

// ListResponses returns a card's review history, newest first.
func (m *Manager) ListResponses(ctx context.Context, cardID string) ([]*CardResponse, error) {
	return m.db.GetResponsesByCard(ctx, cardID)
}

// --- stats ------------------------------------------------------------------

// UpdateStats recounts the stores and persists a fresh census row, returning
// it. A manager built without a monitor estimates against the defaults.
func (m *Manager) UpdateStats(ctx context.Context) (*StorageStats, error) {
	mon := m.monitor
	if mon == nil {
		mon = NewMonitor(m.log, 0, 0)
	}
	var stats *StorageStats
	err := m.track("stats.update", func() error {
		est, err := mon.EstimateUsage(ctx, m.db)
		if err != nil {
			return err
		}
		stats = &StorageStats{
			CardCount:      est.CardCount,
			TagCount:       est.TagCount,
			DomainCount:    est.DomainCount,
			ResponseCount:  est.ResponseCount,
			EstimatedBytes: est.EstimatedBytes,
			UpdatedAt:      m.nowFn().UnixMilli(),
		}
		return m.db.PutStats(ctx, stats)
	})
	return stats, err
}

// GetStats returns the last persisted census, or a zero record if none was
// ever written.
func (m *Manager) GetStats(ctx context.Context) (*StorageStats, error) {
	s, err := m.db.GetStats(ctx)
	if errors.Is(err, ErrNotFound) {
		return &StorageStats{}, nil
	}
	return s, err
}

// hashString is a small FNV-1a used only to spread palette picks.
func hashString(s string) int {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h & 0x7fffffff)
}
